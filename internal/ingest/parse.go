// Package ingest turns raw activity-log lines into records. Every line is
// parsed independently; lines that are not JSON or carry no tool invocation
// are rejected without error.
package ingest

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/toolwatch/internal/model"
)

// MaxResultContent bounds the result text kept on a record.
const MaxResultContent = 2000

// idNamespace derives stable ids for lines that carry none, so re-scanning
// the same log yields the same ids.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("toolwatch/activity-record"))

var toolCallTypes = map[string]bool{
	"toolcall":      true,
	"tool_call":     true,
	"tool_use":      true,
	"function_call": true,
}

// ParseLine parses one log line. It accepts flat records, tool-call
// envelopes and message envelopes whose content holds a tool call (the
// first one wins). ok is false for blank, malformed or non-record lines.
func ParseLine(line []byte) (rec model.Record, ok bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return model.Record{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal(line, &obj); err != nil {
		return model.Record{}, false
	}

	call := obj
	if msg, isMap := obj["message"].(map[string]any); isMap && firstString(obj, "tool", "name", "toolName") == "" {
		c, found := firstToolCall(msg["content"])
		if !found {
			return model.Record{}, false
		}
		call = c
	}

	tool := firstString(call, "tool", "name", "toolName")
	if tool == "" {
		return model.Record{}, false
	}

	rec = model.Record{
		ID:        firstString(call, "id", "toolCallId", "tool_call_id", "callId"),
		Tool:      tool,
		Arguments: argumentsOf(call),
		SessionID: firstString(obj, "sessionId", "session_id", "sessionKey"),
		Agent:     firstString(obj, "agent", "agentId", "agent_id"),
	}
	if ts, found := timestampOf(call); found {
		rec.Timestamp = ts
	} else if ts, found := timestampOf(obj); found {
		rec.Timestamp = ts
	} else if msg, isMap := obj["message"].(map[string]any); isMap {
		rec.Timestamp, _ = timestampOf(msg)
	}
	rec.Result = resultOf(call)
	if rec.Result == nil {
		rec.Result = resultOf(obj)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewSHA1(idNamespace, line).String()
	}
	return rec, true
}

func isToolCall(m map[string]any) bool {
	t, _ := m["type"].(string)
	return toolCallTypes[strings.ToLower(t)]
}

func firstToolCall(content any) (map[string]any, bool) {
	items, ok := content.([]any)
	if !ok {
		return nil, false
	}
	for _, it := range items {
		m, ok := it.(map[string]any)
		if ok && isToolCall(m) {
			return m, true
		}
	}
	return nil, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// argumentsOf returns the argument bag. String-encoded JSON objects, as
// emitted by function-calling APIs, are decoded.
func argumentsOf(m map[string]any) map[string]any {
	for _, k := range []string{"arguments", "args", "input", "params", "parameters"} {
		switch v := m[k].(type) {
		case map[string]any:
			return v
		case string:
			var decoded map[string]any
			if err := json.Unmarshal([]byte(v), &decoded); err == nil {
				return decoded
			}
		}
	}
	return nil
}

func timestampOf(m map[string]any) (time.Time, bool) {
	for _, k := range []string{"timestamp", "ts", "time", "createdAt", "created_at"} {
		if ts, ok := parseTime(m[k]); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// parseTime accepts RFC 3339 strings and unix seconds or milliseconds,
// either as numbers or numeric strings.
func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return time.Time{}, false
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC(), true
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return unixTime(f)
		}
	case float64:
		return unixTime(t)
	}
	return time.Time{}, false
}

func unixTime(f float64) (time.Time, bool) {
	if f <= 0 {
		return time.Time{}, false
	}
	if f >= 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), true
}

func resultOf(m map[string]any) *model.Result {
	raw, ok := m["result"]
	if !ok || raw == nil {
		return nil
	}
	res := &model.Result{}
	switch r := raw.(type) {
	case string:
		res.Content = r
	case map[string]any:
		res.Content = contentText(r["content"])
		if b, ok := r["success"].(bool); ok {
			res.Success = &b
		}
		res.IsError, _ = r["isError"].(bool)
		if e, ok := r["is_error"].(bool); ok && e {
			res.IsError = true
		}
		res.Diff, _ = r["diff"].(string)
	default:
		return nil
	}
	res.Content = model.Truncate(res.Content, MaxResultContent)
	return res
}

// contentText flattens a string or a list of {type:"text", text} parts.
func contentText(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, it := range c {
			if m, ok := it.(map[string]any); ok {
				if s, ok := m["text"].(string); ok {
					parts = append(parts, s)
				}
			} else if s, ok := it.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
