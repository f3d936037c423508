package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/db"
)

func migrateCMD(opts *rootOptions) *cobra.Command {
	var direction string
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if direction != db.MigrateUp && direction != db.MigrateDown {
				return fmt.Errorf("direction must be %q or %q", db.MigrateUp, db.MigrateDown)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				c, err := a.database(ctx)
				if err != nil {
					return err
				}
				if err := c.Migrate(direction, steps); err != nil {
					return err
				}
				version, dirty, err := c.SchemaVersion()
				if err != nil {
					return err
				}
				a.logger.Info("Migrations applied",
					zap.String("direction", direction),
					zap.Uint("version", version),
					zap.Bool("dirty", dirty),
				)
				return render(cmd.OutOrStdout(), opts.output, map[string]interface{}{
					"driver":  a.cfg.Database.Driver,
					"version": version,
					"dirty":   dirty,
				})
			})
		},
	}
	cmd.Flags().StringVar(&direction, "direction", db.MigrateUp, "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}
