package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/pipeline"
)

var (
	sequencesWindow time.Duration
	sequencesFormat string
)

func init() {
	rootCmd.AddCommand(sequencesCmd)
	sequencesCmd.Flags().DurationVarP(&sequencesWindow, "window", "w", 0, "Correlation window (default detection.window)")
	sequencesCmd.Flags().StringVarP(&sequencesFormat, "format", "f", "text", "Output format (text|json)")
}

var sequencesCmd = &cobra.Command{
	Use:   "sequences <file|dir>",
	Short: "Detect suspicious multi-step patterns in historical logs",
	Long: "Runs sequence detection over a snapshot of a log file or directory.\n" +
		"Nothing is indexed; every run re-reads the logs.",
	Args: cobra.ExactArgs(1),
	RunE: runSequences,
}

func runSequences(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	seq := cfg.Sequence()
	if sequencesWindow > 0 {
		seq.Window = sequencesWindow
	}

	seqs, err := pipeline.History(args[0], cfg.Watch.Pattern, seq)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch sequencesFormat {
	case "json":
		if seqs == nil {
			seqs = []model.Sequence{}
		}
		data, err := json.MarshalIndent(seqs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	case "text":
		writeSequences(out, seqs)
	default:
		return fmt.Errorf("unknown format %q (want text or json)", sequencesFormat)
	}
	return nil
}

func writeSequences(w io.Writer, seqs []model.Sequence) {
	if len(seqs) == 0 {
		fmt.Fprintln(w, "No suspicious sequences found.")
		return
	}
	for _, s := range seqs {
		fmt.Fprintf(w, "%s  %s\n", s.Timestamp.UTC().Format(time.RFC3339), s.Type)
		fmt.Fprintf(w, "  %s\n", s.Reason)
		for _, a := range s.Actions {
			fmt.Fprintf(w, "    - %s\n", a.Summary)
		}
	}
	fmt.Fprintf(w, "\n%d sequence(s)\n", len(seqs))
}
