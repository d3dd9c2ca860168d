// Package signals holds the pure path, command, URL and message predicates
// shared by the risk classifier and the sequence detector.
package signals

import (
	"strings"

	"github.com/ppiankov/toolwatch/internal/model"
)

// Category groups tools by the kind of capability they exercise.
type Category string

const (
	CategoryShell   Category = "shell"
	CategoryFile    Category = "file"
	CategoryNetwork Category = "network"
	CategoryBrowser Category = "browser"
	CategoryMessage Category = "message"
	CategorySystem  Category = "system"
	CategoryMemory  Category = "memory"
	CategoryOther   Category = "other"
)

// toolCategories is an exact-match lookup on the lower-cased tool name.
var toolCategories = map[string]Category{
	"exec":        CategoryShell,
	"bash":        CategoryShell,
	"shell":       CategoryShell,
	"sh":          CategoryShell,
	"run_command": CategoryShell,
	"terminal":    CategoryShell,
	"command":     CategoryShell,
	"powershell":  CategoryShell,

	"read":         CategoryFile,
	"read_file":    CategoryFile,
	"file_read":    CategoryFile,
	"view":         CategoryFile,
	"write":        CategoryFile,
	"write_file":   CategoryFile,
	"file_write":   CategoryFile,
	"create_file":  CategoryFile,
	"edit":         CategoryFile,
	"multiedit":    CategoryFile,
	"apply_patch":  CategoryFile,
	"notebookedit": CategoryFile,
	"glob":         CategoryFile,
	"grep":         CategoryFile,
	"ls":           CategoryFile,
	"list_dir":     CategoryFile,

	"web_fetch":    CategoryNetwork,
	"webfetch":     CategoryNetwork,
	"web_search":   CategoryNetwork,
	"websearch":    CategoryNetwork,
	"fetch":        CategoryNetwork,
	"http":         CategoryNetwork,
	"http_request": CategoryNetwork,

	"browser":    CategoryBrowser,
	"playwright": CategoryBrowser,
	"puppeteer":  CategoryBrowser,
	"computer":   CategoryBrowser,

	"message":       CategoryMessage,
	"send_message":  CategoryMessage,
	"sessions_send": CategoryMessage,
	"email":         CategoryMessage,
	"slack":         CategoryMessage,
	"discord":       CategoryMessage,
	"telegram":      CategoryMessage,

	"process":  CategorySystem,
	"cron":     CategorySystem,
	"gateway":  CategorySystem,
	"nodes":    CategorySystem,
	"system":   CategorySystem,
	"schedule": CategorySystem,

	"memory":        CategoryMemory,
	"memory_search": CategoryMemory,
	"memory_get":    CategoryMemory,
	"memory_store":  CategoryMemory,
	"remember":      CategoryMemory,
}

var readTools = map[string]bool{
	"read": true, "read_file": true, "file_read": true, "view": true,
}

var writeTools = map[string]bool{
	"write": true, "write_file": true, "file_write": true, "create_file": true,
	"edit": true, "multiedit": true, "apply_patch": true, "notebookedit": true,
}

// CategoryOf maps a tool name to its category. Unknown tools are CategoryOther.
func CategoryOf(tool string) Category {
	if c, ok := toolCategories[strings.ToLower(strings.TrimSpace(tool))]; ok {
		return c
	}
	return CategoryOther
}

// IsReadTool reports whether the record reads a file.
func IsReadTool(r model.Record) bool {
	return readTools[r.ToolName()]
}

// IsWriteTool reports whether the record creates or modifies a file.
func IsWriteTool(r model.Record) bool {
	return writeTools[r.ToolName()]
}

// IsExecTool reports whether the record runs a shell command.
func IsExecTool(r model.Record) bool {
	return CategoryOf(r.Tool) == CategoryShell
}

// IsOutbound reports whether the record reaches outside the host: network
// and browser tools, message sends, and shell commands that open a connection.
func IsOutbound(r model.Record) bool {
	switch CategoryOf(r.Tool) {
	case CategoryNetwork, CategoryBrowser:
		return true
	case CategoryMessage:
		return !isReadOnlyMessageAction(ActionOf(r))
	case CategoryShell:
		return IsNetworkCommand(CommandOf(r))
	}
	return false
}

// IsMessageSend reports whether the record is an outbound message send.
func IsMessageSend(r model.Record) bool {
	if CategoryOf(r.Tool) != CategoryMessage {
		return false
	}
	action := strings.ToLower(ActionOf(r))
	if action == "" {
		return r.ToolName() != "message"
	}
	return action == "send" || action == "reply" || action == "post" || action == "broadcast"
}

func isReadOnlyMessageAction(action string) bool {
	switch strings.ToLower(action) {
	case "read", "list", "search", "history", "get":
		return true
	}
	return false
}

// CommandOf returns the shell command carried by the record.
func CommandOf(r model.Record) string {
	return r.Arg("command", "cmd", "script", "commandLine")
}

// PathOf returns the file path carried by the record.
func PathOf(r model.Record) string {
	return r.Arg("path", "file_path", "filePath", "file", "filename", "target", "notebook_path")
}

// URLOf returns the URL carried by the record.
func URLOf(r model.Record) string {
	return r.Arg("url", "uri", "href", "targetUrl", "endpoint")
}

// MessageOf returns the message body carried by the record.
func MessageOf(r model.Record) string {
	return r.Arg("message", "text", "content", "body")
}

// ActionOf returns the sub-action carried by the record (send, navigate, kill...).
func ActionOf(r model.Record) string {
	return r.Arg("action", "operation", "op", "method")
}
