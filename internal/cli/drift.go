package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/models"
)

func NewDiagnoseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose <project>",
		Short: "Report drift between label and stable-id references",
		Long: `Scans a project for entries without stable ids, pointers that only exist as
labels, dangling or divergent canonical pointers and cycles. Exits 1 when
any finding is reported.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagnose(cmd.Context(), rootOpts, args[0], cmd.OutOrStdout())
		},
	}
}

func runDiagnose(ctx context.Context, opts *RootOptions, projectID string, w io.Writer) error {
	out := newFormatter(opts, w)

	app, err := bootstrap(ctx, opts)
	if err != nil {
		return out.Error(err)
	}
	defer app.Close(context.WithoutCancel(ctx))

	report, err := app.Service.Diagnose(ctx, projectID)
	if err != nil {
		return out.Error(err)
	}

	if err := out.Success(report, func(w io.Writer) { writeDriftReport(w, report) }); err != nil {
		return err
	}
	if !report.Clean() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d drift findings in project %s", len(report.Findings), projectID))
	}
	return nil
}

type RepairOptions struct {
	*RootOptions
	Apply bool
}

func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RepairOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "repair <project>",
		Short: "Plan or apply automatic drift repairs",
		Long: `Plans the repairs diagnose can fix without a human: assigning missing stable
ids, backfilling id pointers from unambiguous labels and re-deriving label
pointers from ids. Nothing is written unless --apply is given. Exits 1 when
findings remain that need a human.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "write the planned repairs (default is a dry run)")

	return cmd
}

func runRepair(ctx context.Context, opts *RepairOptions, projectID string, w io.Writer) error {
	out := newFormatter(opts.RootOptions, w)

	app, err := bootstrap(ctx, opts.RootOptions)
	if err != nil {
		return out.Error(err)
	}
	defer app.Close(context.WithoutCancel(ctx))

	mode := models.RepairDryRun
	if opts.Apply {
		mode = models.RepairApply
	}

	report, err := app.Service.Repair(ctx, projectID, mode, opts.Actor)
	if err != nil {
		return out.Error(err)
	}

	if err := out.Success(report, func(w io.Writer) { writeRepairReport(w, report) }); err != nil {
		return err
	}
	if len(report.Unresolved) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d findings in project %s need manual resolution", len(report.Unresolved), projectID))
	}
	return nil
}

func writeDriftReport(w io.Writer, report *models.DriftReport) {
	fmt.Fprintf(w, "Project %s: %d entries scanned, %d findings\n", report.ProjectID, report.EntriesScanned, len(report.Findings))
	for _, f := range report.Findings {
		writeFinding(w, f)
	}
	if report.RecommendFreeze {
		fmt.Fprintln(w, "Freeze recommended: some findings cannot be repaired automatically")
	}
}

func writeRepairReport(w io.Writer, report *models.RepairReport) {
	fmt.Fprintf(w, "Project %s: %s, %d actions\n", report.ProjectID, report.Mode, len(report.Actions))
	for _, a := range report.Actions {
		state := "planned"
		switch {
		case a.Applied:
			state = "applied"
		case a.Skipped:
			state = "skipped: " + a.Reason
		}
		fmt.Fprintf(w, "  %-24s %-8s %q %s -> %s (%s)\n", a.Kind, formatID(a.StableID), a.Label, a.Before, a.After, state)
	}
	if len(report.Unresolved) > 0 {
		fmt.Fprintf(w, "Unresolved (%d):\n", len(report.Unresolved))
		for _, f := range report.Unresolved {
			writeFinding(w, f)
		}
	}
	if report.RecommendFreeze {
		fmt.Fprintln(w, "Freeze recommended: some findings cannot be repaired automatically")
	}
}

func writeFinding(w io.Writer, f models.Finding) {
	fmt.Fprintf(w, "  %-20s %-8s %q %s\n", f.Kind, formatID(f.StableID), f.Label, f.Detail)
}

func formatID(id *int64) string {
	if id == nil {
		return "-"
	}
	return "#" + strconv.FormatInt(*id, 10)
}
