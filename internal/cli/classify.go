package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/pipeline"
)

var classifyMinLevel string

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().StringVar(&classifyMinLevel, "min-level", "low", "Only print records at or above this level")
}

var classifyCmd = &cobra.Command{
	Use:   "classify <file|dir>",
	Short: "Rate every record in an activity log",
	Long: "Reads a log file (or every matching file in a directory) and prints one\n" +
		"JSON line per record: {\"record\": ..., \"risk\": {level, flags, score}}.",
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	floor, err := model.ParseLevel(classifyMinLevel)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	classifier, err := buildClassifier(cfg.Classifier, zap.NewNop())
	if err != nil {
		return err
	}

	recs, err := pipeline.Load(args[0], cfg.Watch.Pattern)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, rec := range recs {
		v := classifier.Classify(rec)
		if !v.Level.AtLeast(floor) {
			continue
		}
		if err := enc.Encode(model.ClassifiedRecord{Record: rec, Risk: v}); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	return nil
}
