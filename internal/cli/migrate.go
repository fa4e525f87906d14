package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "Apply database migrations",
		Long:         "Runs the db/pg migrations against the configured Postgres database. DB_MIGRATION_VERSION pins a target version.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), rootOpts, cmd.OutOrStdout())
		},
	}
}

func runMigrate(ctx context.Context, opts *RootOptions, w io.Writer) error {
	out := newFormatter(opts, w)

	app, err := bootstrap(ctx, opts)
	if err != nil {
		return out.Error(err)
	}
	defer app.Close(context.WithoutCancel(ctx))

	if err := app.migrate(); err != nil {
		return out.Error(err)
	}

	result := map[string]any{"database": app.Config.DatabaseName, "migrated": true}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Migrations applied to %s\n", app.Config.DatabaseName)
	})
}
