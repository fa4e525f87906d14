package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/governance"
	"github.com/Ramsey-B/fern/pkg/models"
)

type FreezeOptions struct {
	*RootOptions
	Reason string
	Status bool
}

func NewFreezeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FreezeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "freeze <project>",
		Short: "Freeze a project or show its freeze status",
		Long: `Engages the project freeze: every mutating operation is refused until the
project is unfrozen with its confirmation phrase. With --status the current
freeze record and the phrase that releases it are printed instead.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Status && opts.Reason == "" {
				return fmt.Errorf("--reason is required to engage a freeze")
			}
			return runFreeze(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the project is being frozen")
	cmd.Flags().BoolVar(&opts.Status, "status", false, "print the freeze status without changing it")

	return cmd
}

func runFreeze(ctx context.Context, opts *FreezeOptions, projectID string, w io.Writer) error {
	out := newFormatter(opts.RootOptions, w)

	app, err := bootstrap(ctx, opts.RootOptions)
	if err != nil {
		return out.Error(err)
	}
	defer app.Close(context.WithoutCancel(ctx))

	if !opts.Status {
		if _, err := app.Service.Freeze(ctx, projectID, opts.Actor, opts.Reason); err != nil {
			return out.Error(err)
		}
	}

	status, err := app.Service.FreezeStatus(ctx, projectID)
	if err != nil {
		return out.Error(err)
	}
	return out.Success(status, func(w io.Writer) { writeFreezeStatus(w, status) })
}

type UnfreezeOptions struct {
	*RootOptions
	Phrase string
}

func NewUnfreezeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UnfreezeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "unfreeze <project>",
		Short: "Release a project freeze",
		Long: `Releases the project freeze. --phrase must match the confirmation phrase
exactly; "fern freeze <project> --status" prints it.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnfreeze(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Phrase, "phrase", "", "confirmation phrase")
	_ = cmd.MarkFlagRequired("phrase")

	return cmd
}

func runUnfreeze(ctx context.Context, opts *UnfreezeOptions, projectID string, w io.Writer) error {
	out := newFormatter(opts.RootOptions, w)

	app, err := bootstrap(ctx, opts.RootOptions)
	if err != nil {
		return out.Error(err)
	}
	defer app.Close(context.WithoutCancel(ctx))

	record, err := app.Service.Unfreeze(ctx, projectID, opts.Actor, opts.Phrase)
	if err != nil {
		return out.Error(err)
	}
	status := &governance.FreezeStatus{FreezeRecord: record}
	return out.Success(status, func(w io.Writer) { writeFreezeStatus(w, status) })
}

func writeFreezeStatus(w io.Writer, status *governance.FreezeStatus) {
	if !status.Active {
		fmt.Fprintf(w, "Project %s is not frozen\n", status.ProjectID)
		return
	}
	fmt.Fprintf(w, "Project %s is frozen\n", status.ProjectID)
	fmt.Fprintf(w, "  engaged by: %s at %s\n", deref(status.EngagedBy), formatTime(status.FreezeRecord))
	fmt.Fprintf(w, "  reason:     %s\n", deref(status.Reason))
	if status.ConfirmationPhrase != "" {
		fmt.Fprintf(w, "  unfreeze with: --phrase %q\n", status.ConfirmationPhrase)
	}
}

func formatTime(record *models.FreezeRecord) string {
	if record.EngagedAt == nil {
		return "-"
	}
	return record.EngagedAt.Format("2006-01-02T15:04:05Z07:00")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
