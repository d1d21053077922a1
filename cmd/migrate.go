package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/penf-meetings/config"
	"github.com/otherjamesbrown/penf-meetings/pkg/db"
)

// NewMigrateCommand creates the 'migrate' command with its status subcommand.
func NewMigrateCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Migrations are embedded in the binary and applied in filename order. Each
migration runs in a transaction and is recorded in the schema_migrations
table. It requires DATABASE_URL or DB_* environment variables to be set.`,
		Example: `  penf-meetings migrate
  penf-meetings migrate status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), deps)
		},
	}

	cmd.AddCommand(newMigrateStatusCommand(deps))

	return cmd
}

func newMigrateStatusCommand(deps *CommandDeps) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context(), deps, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json, yaml")

	return cmd
}

func runMigrate(ctx context.Context, deps *CommandDeps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Store.Driver != config.StorePostgres {
		return fmt.Errorf("migrations need the postgres store, configured store is %q", cfg.Store.Driver)
	}

	pool, err := ConnectDatabase(ctx, cfg, NewLogger(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	result, err := db.RunMigrations(ctx, pool, db.Migrations())
	if result != nil {
		for _, v := range result.Applied {
			fmt.Fprintf(deps.Out, "  applied %s\n", v)
		}
	}
	if err != nil {
		return err
	}

	if len(result.Applied) == 0 {
		fmt.Fprintln(deps.Out, "No pending migrations.")
		return nil
	}
	fmt.Fprintf(deps.Out, "Applied %d migration(s), %d already applied.\n", len(result.Applied), len(result.Skipped))
	return nil
}

func runMigrateStatus(ctx context.Context, deps *CommandDeps, output string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := ConnectDatabase(ctx, cfg, NewLogger(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, db.Migrations())
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	return writeMigrationStatus(deps.Out, output, status)
}

// writeMigrationStatus formats migration status as text, json or yaml.
func writeMigrationStatus(w io.Writer, format string, status *db.MigrationStatus) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "yaml":
		return yaml.NewEncoder(w).Encode(status)
	case "text", "":
	default:
		return fmt.Errorf("invalid output format %q (must be text, json, or yaml)", format)
	}

	sections := []struct {
		title   string
		entries []db.MigrationStatusEntry
	}{
		{"Applied", status.Applied},
		{"Pending", status.Pending},
		{"Drift (applied, no file)", status.Drift},
	}
	for _, s := range sections {
		if len(s.entries) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s (%d):\n", s.title, len(s.entries))
		for _, e := range s.entries {
			appliedAt := "-"
			if e.AppliedAt != nil {
				appliedAt = e.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "  %-10s %-40s %s\n", e.Version, e.Name, appliedAt)
		}
	}
	if len(status.Pending) == 0 {
		fmt.Fprintln(w, "Database is up to date.")
	}
	return nil
}
