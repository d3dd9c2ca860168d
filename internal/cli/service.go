package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolwatch/internal/systemd"
)

var (
	serviceBinary string
	serviceUser   string
	serviceOutput string
)

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.Flags().StringVar(&serviceBinary, "binary", systemd.DefaultBinary, "Path to the toolwatch binary")
	serviceCmd.Flags().StringVar(&serviceUser, "user", "", "User the service runs as")
	serviceCmd.Flags().StringVarP(&serviceOutput, "output", "o", "", "Write the unit to this file instead of stdout")
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Print a systemd unit that runs toolwatch watch",
	Long: "Renders a hardened systemd unit for the watch command using the\n" +
		"--config file. Install with:\n" +
		"  toolwatch service --config /etc/toolwatch/config.yaml -o /etc/systemd/system/toolwatch.service",
	RunE: runService,
}

func runService(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return errors.New("--config is required so the service runs with a fixed configuration")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	configPath, err := filepath.Abs(cfgFile)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	unit, err := systemd.Unit(systemd.UnitOptions{
		Binary:     serviceBinary,
		ConfigPath: configPath,
		User:       serviceUser,
		LogDir:     cfg.Watch.Dir,
	})
	if err != nil {
		return err
	}

	if serviceOutput == "" {
		fmt.Fprint(cmd.OutOrStdout(), unit)
		return nil
	}
	if err := os.WriteFile(serviceOutput, []byte(unit), 0644); err != nil {
		return fmt.Errorf("write unit: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s. Run: systemctl daemon-reload && systemctl enable --now %s\n",
		serviceOutput, filepath.Base(serviceOutput))
	return nil
}
