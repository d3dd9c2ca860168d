package systemd

import (
	"strings"
	"testing"
)

func TestUnitDefaults(t *testing.T) {
	unit, err := Unit(UnitOptions{ConfigPath: "/etc/toolwatch/config.yaml"})
	if err != nil {
		t.Fatalf("Unit: %v", err)
	}

	for _, want := range []string{
		"[Unit]",
		"[Service]",
		"[Install]",
		"ExecStart=/usr/local/bin/toolwatch watch --config /etc/toolwatch/config.yaml",
		"Restart=on-failure",
		"NoNewPrivileges=true",
		"ProtectSystem=strict",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q", want)
		}
	}
	if strings.Contains(unit, "User=") {
		t.Error("no User= line expected without a user")
	}
	if strings.Contains(unit, "ReadOnlyPaths=") {
		t.Error("no ReadOnlyPaths= line expected without a log dir")
	}
}

func TestUnitWithUserAndLogDir(t *testing.T) {
	unit, err := Unit(UnitOptions{
		Binary:     "/opt/toolwatch/bin/toolwatch",
		ConfigPath: "/etc/toolwatch/config.yaml",
		User:       "agent",
		LogDir:     "/home/agent/.openclaw/logs",
	})
	if err != nil {
		t.Fatalf("Unit: %v", err)
	}
	if !strings.Contains(unit, "\nUser=agent\n") {
		t.Error("expected User=agent line")
	}
	if !strings.Contains(unit, "ExecStart=/opt/toolwatch/bin/toolwatch watch") {
		t.Error("expected custom binary in ExecStart")
	}
	if !strings.Contains(unit, "ReadOnlyPaths=/home/agent/.openclaw/logs") {
		t.Error("expected log dir under ReadOnlyPaths")
	}
}

func TestUnitRequiresConfig(t *testing.T) {
	if _, err := Unit(UnitOptions{}); err == nil {
		t.Fatal("expected error without config path")
	}
}
