package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestParseFlatRecord(t *testing.T) {
	line := `{"id":"call-1","tool":"exec","arguments":{"command":"ls -la"},"timestamp":"2026-03-01T12:00:00Z","sessionId":"s1","agent":"main","result":{"content":"ok","success":true}}`
	rec, ok := ParseLine([]byte(line))
	if !ok {
		t.Fatal("expected record")
	}
	if rec.ID != "call-1" || rec.Tool != "exec" {
		t.Errorf("unexpected id/tool: %q %q", rec.ID, rec.Tool)
	}
	if rec.Arg("command") != "ls -la" {
		t.Errorf("expected command argument, got %v", rec.Arguments)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Errorf("expected %v, got %v", want, rec.Timestamp)
	}
	if rec.SessionID != "s1" || rec.Agent != "main" {
		t.Errorf("unexpected provenance: %q %q", rec.SessionID, rec.Agent)
	}
	if rec.Result == nil || rec.Result.Content != "ok" || rec.Result.Success == nil || !*rec.Result.Success {
		t.Errorf("unexpected result: %+v", rec.Result)
	}
}

func TestParseToolCallEnvelope(t *testing.T) {
	line := `{"type":"toolCall","id":"tc-9","name":"read","arguments":"{\"path\":\"~/.ssh/id_rsa\"}","ts":1772366400000}`
	rec, ok := ParseLine([]byte(line))
	if !ok {
		t.Fatal("expected record")
	}
	if rec.Tool != "read" || rec.Arg("path") != "~/.ssh/id_rsa" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Timestamp.UnixMilli() != 1772366400000 {
		t.Errorf("expected millisecond timestamp, got %v", rec.Timestamp)
	}
}

func TestParseMessageEnvelope(t *testing.T) {
	line := `{"type":"message","sessionId":"abc","timestamp":"2026-03-01T12:00:05.5Z","message":{"role":"assistant","content":[{"type":"text","text":"let me look"},{"type":"tool_use","id":"tu-1","name":"Bash","input":{"command":"cat /etc/hosts"}},{"type":"toolCall","name":"read"}]}}`
	rec, ok := ParseLine([]byte(line))
	if !ok {
		t.Fatal("expected record")
	}
	if rec.Tool != "Bash" || rec.ID != "tu-1" {
		t.Errorf("expected first tool call, got %+v", rec)
	}
	if rec.Arg("command") != "cat /etc/hosts" {
		t.Errorf("unexpected arguments: %v", rec.Arguments)
	}
	if rec.SessionID != "abc" {
		t.Errorf("expected session from envelope, got %q", rec.SessionID)
	}
	if rec.Timestamp.Nanosecond() != 500_000_000 {
		t.Errorf("expected envelope timestamp, got %v", rec.Timestamp)
	}
}

func TestParseUnixSeconds(t *testing.T) {
	rec, ok := ParseLine([]byte(`{"tool":"exec","timestamp":1772366400}`))
	if !ok {
		t.Fatal("expected record")
	}
	if rec.Timestamp.Unix() != 1772366400 {
		t.Errorf("unexpected timestamp %v", rec.Timestamp)
	}
}

func TestParseRejects(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"not json",
		`{"truncated":`,
		`[1,2,3]`,
		`{"type":"message","message":{"role":"user","content":[{"type":"text","text":"hi"}]}}`,
		`{"type":"session","id":"s1"}`,
		`{"tool":""}`,
	}
	for _, l := range lines {
		if _, ok := ParseLine([]byte(l)); ok {
			t.Errorf("expected %q to be rejected", l)
		}
	}
}

func TestParseStableIDs(t *testing.T) {
	line := []byte(`{"tool":"exec","arguments":{"command":"ls"}}`)
	a, _ := ParseLine(line)
	b, _ := ParseLine(line)
	if a.ID == "" || a.ID != b.ID {
		t.Errorf("expected stable derived id, got %q and %q", a.ID, b.ID)
	}
	c, _ := ParseLine([]byte(`{"tool":"exec","arguments":{"command":"pwd"}}`))
	if c.ID == a.ID {
		t.Error("expected distinct ids for distinct lines")
	}
}

func TestResultContentTruncated(t *testing.T) {
	long := strings.Repeat("x", MaxResultContent+50)
	rec, ok := ParseLine([]byte(`{"tool":"read","result":{"content":[{"type":"text","text":"` + long + `"}],"isError":true}}`))
	if !ok {
		t.Fatal("expected record")
	}
	if len(rec.Result.Content) != MaxResultContent {
		t.Errorf("expected truncation to %d, got %d", MaxResultContent, len(rec.Result.Content))
	}
	if !rec.Result.IsError {
		t.Error("expected isError")
	}
}

func TestResultContentTruncatedOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("x", MaxResultContent-1) + strings.Repeat("é", 10)
	rec, ok := ParseLine([]byte(`{"tool":"read","result":{"content":"` + long + `"}}`))
	if !ok {
		t.Fatal("expected record")
	}
	if !utf8.ValidString(rec.Result.Content) {
		t.Fatal("truncated content is not valid UTF-8")
	}
	if len(rec.Result.Content) != MaxResultContent-1 {
		t.Errorf("expected %d bytes, got %d", MaxResultContent-1, len(rec.Result.Content))
	}
}

func TestReadFileSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.jsonl")
	content := strings.Join([]string{
		`{"tool":"read","arguments":{"path":"a"}}`,
		`garbage`,
		`{"tool":"exec","arguments":{"command":"ls"}}`,
		`{"tool":"write","arguments":{"path":"b"}}`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Tool != "read" || recs[2].Tool != "write" {
		t.Errorf("expected file order, got %s..%s", recs[0].Tool, recs[2].Tool)
	}
	for _, r := range recs {
		if r.Source != path {
			t.Errorf("expected source %q, got %q", path, r.Source)
		}
	}
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}
	write("b.jsonl", `{"tool":"exec"}`+"\n")
	write("a.jsonl", `{"tool":"read"}`+"\n"+`{"tool":"read"}`+"\n")
	write("notes.txt", `{"tool":"ignored"}`+"\n")

	recs, err := ReadDir(dir, "")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Tool != "read" || recs[2].Tool != "exec" {
		t.Errorf("expected name order, got %v", []string{recs[0].Tool, recs[1].Tool, recs[2].Tool})
	}

	viaPath, err := ReadPath(dir)
	if err != nil || len(viaPath) != 3 {
		t.Errorf("ReadPath(dir): %d records, err %v", len(viaPath), err)
	}
	if _, err := ReadFile(filepath.Join(dir, "missing.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}
