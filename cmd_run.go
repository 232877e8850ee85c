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

var runFlags struct {
	casePath string
	asJSON   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one case and print its differential",
	Long: `Run a single case file (JSON or YAML) to a terminal status.

Test results come from the case's "results" table; tests without a
recorded result add no evidence.

  ddx run --case cases/reactive-arthritis.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.casePath, "case", "c", "", "Case file (.json, .yaml)")
	f.BoolVar(&runFlags.asJSON, "json", false, "Print the summary as JSON")
	_ = runCmd.MarkFlagRequired("case")
}

func runRun(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	input, err := gateway.LoadCaseFile(runFlags.casePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := gateway.NewCaseManagerBuilder(a.store).
		WithSystemConfig(a.system).
		WithDiagnosticConfig(a.cfg.Diagnostic).
		WithLLM(a.client)
	if !runFlags.asJSON {
		b = b.WithMonitor(monitor.NewCLIMonitorTo(cmd.ErrOrStderr(), rootFlags.verbose))
	}
	m, err := b.Build()
	if err != nil {
		return err
	}
	defer m.StopAll()

	sum, err := m.Run(ctx, input)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runFlags.asJSON {
		data, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	renderSummary(out, sum, a.store.Current())
	return nil
}
