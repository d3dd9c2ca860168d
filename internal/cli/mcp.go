package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/toolwatch/internal/config"
	"github.com/ppiankov/toolwatch/internal/logging"
	toolmcp "github.com/ppiankov/toolwatch/internal/mcp"
	"github.com/ppiankov/toolwatch/internal/server"
)

var mcpDir string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpDir, "dir", "", "Default log directory for scan and sequence queries (overrides watch.dir)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs toolwatch as an MCP (Model Context Protocol) server over stdio.\nExposes tools: toolwatch_classify, toolwatch_sequences, toolwatch_scan.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mcpDir != "" {
		cfg.Watch.Dir = config.ExpandHome(mcpDir)
	}

	// stdout carries the protocol; logs stay on stderr.
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	classifier, err := buildClassifier(cfg.Classifier, logger)
	if err != nil {
		return err
	}

	srv := toolmcp.New(toolmcp.Config{
		Classifier: classifier,
		Sequence:   cfg.Sequence(),
		LogDir:     cfg.Watch.Dir,
		Pattern:    cfg.Watch.Pattern,
		Version:    version,
		Logger:     logger.Named("mcp"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	if cfg.Classifier.RulesFile != "" {
		reloader, err := server.NewReloader([]string{cfg.Classifier.RulesFile}, func() error {
			c, err := buildClassifier(cfg.Classifier, logger)
			if err != nil {
				return err
			}
			srv.SetClassifier(c)
			return nil
		}, logger.Named("reload"))
		if err != nil {
			logger.Warn("hot-reload disabled", zap.Error(err))
		} else {
			go reloader.Run(ctx)
		}
	}

	fmt.Fprintln(os.Stderr, "toolwatch MCP server running on stdio")
	if cfg.Watch.Dir != "" {
		fmt.Fprintf(os.Stderr, "Log directory: %s\n", cfg.Watch.Dir)
	}
	fmt.Fprintln(os.Stderr)

	return srv.Run(ctx)
}
