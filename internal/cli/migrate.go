package cli

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/garyjia/bi-workflow/internal/config"
	"github.com/garyjia/bi-workflow/pkg/database"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply pending schema migrations to the configured SQLite database.

Migrations are embedded in the binary unless database.migrations_dir is set.
The serve command also migrates on start; this command is for deploy pipelines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(rootOpts)
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			if rt.cfg.Database.Driver != config.DriverSQLite {
				return WrapExitError(ExitCommandError, "migrate needs the sqlite driver", fmt.Errorf("driver is %q", rt.cfg.Database.Driver))
			}

			db, err := database.New(database.Config{
				Path:            rt.cfg.Database.Path,
				MaxOpenConns:    rt.cfg.Database.MaxOpenConns,
				MaxIdleConns:    rt.cfg.Database.MaxIdleConns,
				ConnMaxLifetime: rt.cfg.Database.ConnMaxLifetime,
			}, rt.logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer db.Close()

			var migrations fs.FS = database.Migrations()
			if dir := rt.cfg.Database.MigrationsDir; dir != "" {
				migrations = os.DirFS(dir)
			}

			applied, err := database.NewMigrator(db, rt.logger).RunMigrations(migrations)
			if err != nil {
				return WrapExitError(ExitCommandError, "migration failed", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", applied, rt.cfg.Database.Path)
			return nil
		},
	}
}
