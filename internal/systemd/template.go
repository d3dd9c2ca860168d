// Package systemd renders the unit file that runs toolwatch watch as a
// service.
package systemd

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
)

// DefaultBinary is where install scripts put the toolwatch binary.
const DefaultBinary = "/usr/local/bin/toolwatch"

// UnitOptions parameterize the rendered unit.
type UnitOptions struct {
	Binary     string // defaults to DefaultBinary
	ConfigPath string // passed as --config
	User       string // empty runs as the systemd default (root)
	// LogDir is the watched activity log directory. ProtectHome would hide
	// it, so it is listed under ReadOnlyPaths.
	LogDir string
}

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=toolwatch agent activity monitor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
{{- if .User}}
User={{.User}}
{{- end}}
ExecStart={{.Binary}} watch --config {{.ConfigPath}}
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
{{- if .LogDir}}
ReadOnlyPaths={{.LogDir}}
{{- end}}

[Install]
WantedBy=multi-user.target
`))

// Unit renders the service unit.
func Unit(opts UnitOptions) (string, error) {
	if opts.ConfigPath == "" {
		return "", errors.New("config path is required")
	}
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, opts); err != nil {
		return "", fmt.Errorf("render unit: %w", err)
	}
	return buf.String(), nil
}
