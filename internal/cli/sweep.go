package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/sweep"
)

type SweepOptions struct {
	*RootOptions
	Interval    time.Duration
	Concurrency int
	AutoRepair  bool
	AutoFreeze  bool
}

func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Diagnose every project, optionally repairing and freezing",
		Long: `Runs drift diagnosis across all projects. --auto-repair applies the automatic
repairs and --auto-freeze freezes projects left with findings a human must
resolve. Without --interval the sweep runs once; with it the sweep repeats
until interrupted. Flags left unset fall back to the SWEEP_* settings.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSweep(ctx, cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "repeat the sweep on this interval")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "projects swept in parallel")
	cmd.Flags().BoolVar(&opts.AutoRepair, "auto-repair", false, "apply automatic repairs")
	cmd.Flags().BoolVar(&opts.AutoFreeze, "auto-freeze", false, "freeze projects with unresolved findings")

	return cmd
}

func runSweep(ctx context.Context, cmd *cobra.Command, opts *SweepOptions) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout())

	app, err := bootstrap(ctx, opts.RootOptions)
	if err != nil {
		return out.Error(err)
	}
	defer app.Close(context.WithoutCancel(ctx))

	cfg := app.Config
	concurrency := cfg.SweepConcurrency
	if cmd.Flags().Changed("concurrency") {
		concurrency = opts.Concurrency
	}
	autoRepair := cfg.SweepAutoRepair
	if cmd.Flags().Changed("auto-repair") {
		autoRepair = opts.AutoRepair
	}
	autoFreeze := cfg.SweepAutoFreeze
	if cmd.Flags().Changed("auto-freeze") {
		autoFreeze = opts.AutoFreeze
	}

	sweeper := app.NewSweeper(sweepConfig(concurrency, cfg.SweepLockTTL, autoRepair, autoFreeze))

	if opts.Interval > 0 {
		return sweeper.RunEvery(ctx, opts.Interval, func(report *sweep.Report) {
			_ = out.Success(report, func(w io.Writer) { writeSweepReport(w, report) })
		})
	}

	report, err := sweeper.Run(ctx)
	if err != nil {
		return out.Error(err)
	}
	if err := out.Success(report, func(w io.Writer) { writeSweepReport(w, report) }); err != nil {
		return err
	}
	for _, p := range report.Projects {
		if p.Error != "" {
			return NewExitError(ExitFailure, fmt.Sprintf("sweep failed for project %s: %s", p.ProjectID, p.Error))
		}
	}
	return nil
}

func writeSweepReport(w io.Writer, report *sweep.Report) {
	fmt.Fprintf(w, "Sweep of %d projects in %s\n", len(report.Projects), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	for _, p := range report.Projects {
		switch {
		case p.Error != "":
			fmt.Fprintf(w, "  %-24s error: %s\n", p.ProjectID, p.Error)
		case p.Skipped:
			fmt.Fprintf(w, "  %-24s skipped (locked by another sweep)\n", p.ProjectID)
		default:
			state := ""
			if p.Frozen {
				state = " frozen"
			}
			fmt.Fprintf(w, "  %-24s findings=%d repaired=%d unresolved=%d%s\n", p.ProjectID, p.Findings, p.Repaired, p.Unresolved, state)
		}
	}
}
