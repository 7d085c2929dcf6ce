// ====================================
// File: cmd/keeper/main.go
// ====================================
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/lottery-keeper/internal/app"
	"github.com/rovshanmuradov/lottery-keeper/internal/config"
	"github.com/rovshanmuradov/lottery-keeper/internal/export"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/gormstore"
	"github.com/rovshanmuradov/lottery-keeper/internal/utils/logger"
)

var rootCmd = &cobra.Command{
	Use:          "keeper",
	Short:        "Lottery pool keeper",
	Long:         "Drives lottery pools through their on-chain lifecycle: unlock, randomness, winner selection and payout.",
	SilenceUsage: true,
}

func init() {
	var configPath string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the keeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeeper(cmd.Context(), configPath)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the config file")
	rootCmd.AddCommand(runCmd)

	var statusAddr, statusOutput string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running keeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := fetchStatus(cmd.Context(), statusAddr)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), resp, statusOutput)
		},
	}
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://127.0.0.1:8080", "Status API base URL")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format: json|text")
	rootCmd.AddCommand(statusCmd)

	var exportConfig, exportFormat, exportFrom, exportTo, exportDir string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export finished pools with their costs and pot shares",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := export.ExportOptions{Format: export.ExportFormat(exportFormat), OutputDir: exportDir}
			var err error
			if opts.StartTime, err = parseDate(exportFrom, false); err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			if opts.EndTime, err = parseDate(exportTo, true); err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			return runExport(cmd.Context(), cmd.OutOrStdout(), exportConfig, opts)
		},
	}
	exportCmd.Flags().StringVarP(&exportConfig, "config", "c", "configs/config.yaml", "Path to the config file")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "Output format: csv|json")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Earliest end date (YYYY-MM-DD or RFC3339)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Latest end date, inclusive (YYYY-MM-DD covers the whole day, or RFC3339)")
	exportCmd.Flags().StringVarP(&exportDir, "out", "o", "reports", "Output directory")
	rootCmd.AddCommand(exportCmd)
}

func runKeeper(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", err)
		}
	}()

	log.Info("Starting lottery keeper", zap.String("config", configPath))
	return app.NewRunner(cfg, log.Logger, app.WithRecentLogs(log.Recent())).Run(ctx)
}

func runExport(ctx context.Context, out io.Writer, configPath string, opts export.ExportOptions) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := zap.NewNop()
	if cfg.DebugLogging {
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}

	store, err := gormstore.Open(cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		return fmt.Errorf("failed to open mirror: %w", err)
	}
	defer store.Close()

	path, err := export.NewPoolExporter(store, log).Export(ctx, opts)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, path)
	return err
}

// parseDate разбирает YYYY-MM-DD или RFC3339. With endOfDay a date-only
// value resolves to the last instant of that day (UTC).
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		if endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
