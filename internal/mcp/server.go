// Package mcp exposes the risk classifier and the sequence detector as MCP
// tools, so an agent (or its supervisor) can ask for a verdict before acting.
package mcp

import (
	"context"
	"sync/atomic"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/toolwatch/internal/ingest"
	"github.com/ppiankov/toolwatch/internal/risk"
	"github.com/ppiankov/toolwatch/internal/sequence"
)

// Config holds MCP server configuration.
type Config struct {
	// Classifier rates records. Nil uses the built-in tables.
	Classifier *risk.Classifier
	Sequence   sequence.Config
	// LogDir is scanned by toolwatch_scan and toolwatch_sequences when the
	// caller passes no path.
	LogDir  string
	Pattern string
	Version string
	Logger  *zap.Logger
}

// Server wraps the MCP SDK server with the toolwatch tools.
type Server struct {
	mcpServer  *mcpsdk.Server
	classifier atomic.Pointer[risk.Classifier]
	seqCfg     sequence.Config
	logDir     string
	pattern    string
	logger     *zap.Logger
}

// New creates an MCP server with all tools registered.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Pattern == "" {
		cfg.Pattern = ingest.DefaultPattern
	}

	s := &Server{
		seqCfg:  cfg.Sequence,
		logDir:  cfg.LogDir,
		pattern: cfg.Pattern,
		logger:  cfg.Logger,
	}
	s.SetClassifier(cfg.Classifier)

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "toolwatch",
			Version: cfg.Version,
		},
		nil,
	)

	s.registerTools()
	return s
}

// SetClassifier swaps the classifier used by later calls. Nil restores the
// built-in tables.
func (s *Server) SetClassifier(c *risk.Classifier) {
	if c == nil {
		c = risk.New(risk.Config{})
	}
	s.classifier.Store(c)
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all toolwatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolwatch_classify",
		Description: "Rate a single tool invocation (tool name plus arguments) as low, medium, high or critical risk, with the evidence behind the rating.",
	}, s.handleClassify)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolwatch_sequences",
		Description: "Find suspicious multi-step patterns (credential read then network call, download then execute, ...) in raw activity-log lines or in a log file or directory.",
	}, s.handleSequences)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolwatch_scan",
		Description: "Classify every record in an activity log file or directory and summarize counts per risk level plus the riskiest records.",
	}, s.handleScan)
}
