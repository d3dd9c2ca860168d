package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/toolwatch/internal/alert"
	"github.com/ppiankov/toolwatch/internal/config"
	"github.com/ppiankov/toolwatch/internal/delivery"
	"github.com/ppiankov/toolwatch/internal/fanout"
	"github.com/ppiankov/toolwatch/internal/logging"
	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/pipeline"
	"github.com/ppiankov/toolwatch/internal/redact"
	"github.com/ppiankov/toolwatch/internal/risk"
	"github.com/ppiankov/toolwatch/internal/server"
	"github.com/ppiankov/toolwatch/internal/tracing"
)

var (
	watchDir       string
	watchFromStart bool
	watchPoll      bool
	watchAddr      string
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "Activity log directory (overrides watch.dir)")
	watchCmd.Flags().BoolVar(&watchFromStart, "from-start", false, "Replay existing log content instead of skipping it")
	watchCmd.Flags().BoolVar(&watchPoll, "poll", false, "Poll the directory instead of using filesystem notifications")
	watchCmd.Flags().StringVar(&watchAddr, "addr", "", "HTTP listen address (overrides server.addr)")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow an activity log directory and classify every tool call",
	Long: "Tails every log file in the directory, rates each new record, forwards\n" +
		"classified records to the configured sink, fires alerts and reports\n" +
		"suspicious sequences. Serves /ws, /metrics, /healthz, /api/stats and\n" +
		"/api/sequences. The rule catalogue is hot-reloaded on change.",
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if watchDir != "" {
		cfg.Watch.Dir = config.ExpandHome(watchDir)
	}
	if cmd.Flags().Changed("from-start") {
		cfg.Watch.FromStart = watchFromStart
	}
	if cmd.Flags().Changed("poll") {
		cfg.Watch.Poll = watchPoll
	}
	if watchAddr != "" {
		cfg.Server.Addr = watchAddr
	}
	if cfg.Watch.Dir == "" {
		return errors.New("no log directory: set watch.dir or pass --dir")
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down toolwatch...")
		cancel()
	}()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	classifier, err := buildClassifier(cfg.Classifier, logger)
	if err != nil {
		return err
	}

	redactor, err := redact.New(cfg.Redact)
	if err != nil {
		return err
	}

	hub := fanout.NewHub()
	defer hub.Close()

	var buffer *delivery.Buffer
	if cfg.Delivery.Enabled {
		d := cfg.Delivery.WithDefaults()
		buffer = delivery.New(d, delivery.NewHTTPSink(d.Endpoint, d.APIKey, d.Source, d.Timeout), logger.Named("delivery"))
	}

	p := pipeline.New(pipeline.Config{
		Dir:         cfg.Watch.Dir,
		Pattern:     cfg.Watch.Pattern,
		FromStart:   cfg.Watch.FromStart,
		Poll:        cfg.Watch.Poll,
		Detection:   cfg.Detection.Enabled,
		RecentLimit: cfg.Detection.RecentLimit,
		Debounce:    cfg.Watch.Debounce,
		Workers:     cfg.Watch.Workers,
		Sequence:    cfg.Sequence(),
	}, pipeline.Deps{
		Classifier: classifier,
		Hub:        hub,
		Buffer:     buffer,
		Alerts:     alert.NewDispatcher(cfg.Alerts, logger.Named("alert")),
		Redactor:   redactor,
		Logger:     logger.Named("pipeline"),
	})

	history := func(_ context.Context, window time.Duration) ([]model.Sequence, error) {
		seq := cfg.Sequence()
		if window > 0 {
			seq.Window = window
		}
		return pipeline.History(cfg.Watch.Dir, cfg.Watch.Pattern, seq)
	}

	// A nil *Buffer must not become a non-nil interface.
	var ds server.DeliveryService
	if buffer != nil {
		ds = buffer
	}
	srv := server.New(server.Config{
		Addr:     cfg.Server.Addr,
		GRPCAddr: cfg.Server.GRPCAddr,
	}, hub, ds, history, logger.Named("server"))

	fmt.Fprintf(os.Stderr, "toolwatch watching %s (%s)\n", cfg.Watch.Dir, cfg.Watch.Pattern)
	if cfg.Server.Addr != "" {
		fmt.Fprintf(os.Stderr, "HTTP: %s\n", cfg.Server.Addr)
	}
	if cfg.Delivery.Enabled {
		fmt.Fprintf(os.Stderr, "Delivery: %s\n", cfg.Delivery.Endpoint)
	}
	if redactor != nil {
		fmt.Fprintln(os.Stderr, "Redaction: enabled for sink, alerts and subscribers")
	}
	if cfg.Classifier.RulesFile != "" {
		fmt.Fprintf(os.Stderr, "Rules: %s (hot-reload enabled)\n", cfg.Classifier.RulesFile)
	}
	fmt.Fprintln(os.Stderr)

	g := pool.New().WithContext(ctx).WithCancelOnError()
	g.Go(p.Run)
	g.Go(srv.Run)
	if cfg.Classifier.RulesFile != "" {
		reloader, err := server.NewReloader([]string{cfg.Classifier.RulesFile}, func() error {
			c, err := buildClassifier(cfg.Classifier, logger)
			if err != nil {
				return err
			}
			p.SetClassifier(c)
			return nil
		}, logger.Named("reload"))
		if err != nil {
			logger.Warn("hot-reload disabled", zap.Error(err))
		} else {
			g.Go(reloader.Run)
		}
	}
	return g.Wait()
}

// buildClassifier loads the rule catalogue and logs entries it had to skip.
func buildClassifier(cfg config.ClassifierConfig, logger *zap.Logger) (*risk.Classifier, error) {
	rules, warnings, err := risk.LoadCatalogue(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn("rule catalogue entry skipped", zap.String("file", cfg.RulesFile), zap.String("reason", w))
	}
	return risk.New(risk.Config{
		TrustedRoots: cfg.TrustedRoots,
		ExtraRules:   rules,
	}), nil
}
