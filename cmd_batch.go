package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ddx/pkg/gateway"
	"ddx/pkg/monitor"

	"github.com/spf13/cobra"
)

var batchFlags struct {
	dir     string
	workers int
	output  string
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a directory of cases concurrently and report accuracy",
	Long: `Run every .json/.yaml case in a directory with a bounded worker pool.

Cases with an "expected" diagnosis count towards accuracy. Cost and
iteration statistics cover every case that ran.

  ddx batch --dir cases/ --workers 8 -o report.json`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchFlags.dir, "dir", "d", "", "Directory of case files")
	f.IntVarP(&batchFlags.workers, "workers", "w", 0, "Concurrent cases (default: system.json workers)")
	f.StringVarP(&batchFlags.output, "output", "o", "", "Also write the full report as JSON")
	_ = batchCmd.MarkFlagRequired("dir")
}

func runBatch(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	if batchFlags.workers > 0 {
		a.system.Workers = batchFlags.workers
	}

	inputs, err := gateway.LoadCaseDir(batchFlags.dir)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no case files in %s", batchFlags.dir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := gateway.NewCaseManagerBuilder(a.store).
		WithSystemConfig(a.system).
		WithDiagnosticConfig(a.cfg.Diagnostic).
		WithLLM(a.client)
	if rootFlags.verbose {
		b = b.WithMonitor(monitor.NewCLIMonitorTo(cmd.ErrOrStderr(), true))
	}
	m, err := b.Build()
	if err != nil {
		return err
	}
	defer m.StopAll()

	report, err := m.RunBatch(ctx, inputs)
	if err != nil {
		return err
	}
	renderBatch(cmd.OutOrStdout(), report)

	if batchFlags.output != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(batchFlags.output, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}
