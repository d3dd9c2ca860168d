package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestToolNameCaseInsensitive(t *testing.T) {
	a := Record{Tool: "Read"}
	b := Record{Tool: " read "}
	if a.ToolName() != b.ToolName() {
		t.Errorf("expected %q == %q", a.ToolName(), b.ToolName())
	}
}

func TestArgDefensive(t *testing.T) {
	// nil arguments → empty
	if got := (Record{}).Arg("path"); got != "" {
		t.Errorf("expected empty arg, got %q", got)
	}

	r := Record{Arguments: map[string]any{
		"path":    "",
		"file":    "/tmp/x",
		"count":   float64(3),
		"nested":  map[string]any{"a": 1},
		"argv":    []any{"ls", "-la"},
		"enabled": true,
	}}

	tests := []struct {
		keys []string
		want string
	}{
		{[]string{"path", "file"}, "/tmp/x"},
		{[]string{"count"}, "3"},
		{[]string{"nested"}, ""},
		{[]string{"argv"}, "ls -la"},
		{[]string{"enabled"}, "true"},
		{[]string{"missing"}, ""},
	}
	for _, tt := range tests {
		if got := r.Arg(tt.keys...); got != tt.want {
			t.Errorf("Arg(%v): got %q, want %q", tt.keys, got, tt.want)
		}
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := Record{Tool: "exec", Arguments: map[string]any{"command": "ls"}, Result: &Result{Content: "ok"}}
	c := orig.Clone()
	c.Arguments["command"] = "rm"
	c.Result.Content = "changed"

	if orig.Arguments["command"] != "ls" {
		t.Error("clone mutated original arguments")
	}
	if orig.Result.Content != "ok" {
		t.Error("clone mutated original result")
	}
}

func TestSummaryTruncates(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	r := Record{Tool: "exec", Arguments: map[string]any{"command": string(long)}}
	s := r.Summary()
	if len(s) > len("exec: ")+120 {
		t.Errorf("summary too long: %d", len(s))
	}

	if got := (Record{Tool: "teleport"}).Summary(); got != "teleport" {
		t.Errorf("expected bare tool name, got %q", got)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("a", 116) + "ж" + "tail" // ж spans bytes 116 and 117
	got := Truncate(s, 117)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a character: %q", got)
	}
	if len(got) != 116 {
		t.Errorf("expected 116 bytes, got %d", len(got))
	}
	if Truncate("short", 117) != "short" {
		t.Error("short strings must be returned unchanged")
	}

	r := Record{Tool: "exec", Arguments: map[string]any{"command": s + strings.Repeat("b", 20)}}
	if sum := r.Summary(); !utf8.ValidString(sum) || !strings.HasSuffix(sum, "...") {
		t.Errorf("bad summary %q", sum)
	}
}

func TestLevelOrdering(t *testing.T) {
	if !(LevelLow.Rank() < LevelMedium.Rank() &&
		LevelMedium.Rank() < LevelHigh.Rank() &&
		LevelHigh.Rank() < LevelCritical.Rank()) {
		t.Fatal("levels are not strictly ordered")
	}
	if MaxLevel(LevelHigh, LevelMedium) != LevelHigh {
		t.Error("MaxLevel should keep the more severe level")
	}
	if !LevelCritical.AtLeast(LevelHigh) || LevelLow.AtLeast(LevelMedium) {
		t.Error("AtLeast ordering wrong")
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("CRITICAL")
	if err != nil || l != LevelCritical {
		t.Errorf("ParseLevel(CRITICAL) = %q, %v", l, err)
	}
	l, err = ParseLevel("severe")
	if err == nil || l != LevelLow {
		t.Errorf("expected error and low for unknown level, got %q, %v", l, err)
	}
}

func TestVerdictJSONStableFields(t *testing.T) {
	v := NewVerdict(LevelHigh, []Flag{{Level: LevelHigh, Evidence: "sudo"}})
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"level", "flags", "score"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing field %q in %s", k, data)
		}
	}
	if m["score"].(float64) != 2 {
		t.Errorf("expected score 2 for high, got %v", m["score"])
	}

	empty, _ := json.Marshal(NewVerdict(LevelLow, nil))
	if string(empty) != `{"level":"low","flags":[],"score":0}` {
		t.Errorf("unexpected empty verdict encoding: %s", empty)
	}
}

func TestActionFrom(t *testing.T) {
	ts := time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)
	a := ActionFrom(Record{Tool: "read", Timestamp: ts, Arguments: map[string]any{"path": "~/.ssh/id_rsa"}})
	if a.Tool != "read" || !a.Timestamp.Equal(ts) || a.Summary != "read: ~/.ssh/id_rsa" {
		t.Errorf("unexpected action: %+v", a)
	}
}

func TestFlagString(t *testing.T) {
	f := Flag{Level: LevelCritical, Evidence: "recursive delete of root"}
	if f.String() != "[CRITICAL] recursive delete of root" {
		t.Errorf("unexpected flag string %q", f.String())
	}
}
