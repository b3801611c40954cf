package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/odontogram/internal/config"
	"github.com/ehr/odontogram/internal/domain/odontogram"
	"github.com/ehr/odontogram/internal/platform/db"
	"github.com/ehr/odontogram/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (postgres)",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			ctx := context.Background()
			migrator, closePool, err := newMigrator(ctx)
			if err != nil {
				return err
			}
			defer closePool()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			ctx := context.Background()
			migrator, closePool, err := newMigrator(ctx)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func newMigrator(ctx context.Context) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrations.FS), pool.Close, nil
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if !db.ValidTenantID(name) {
				return fmt.Errorf("invalid tenant identifier %q", name)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, migrations.FS); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant created and migrated.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (letters, digits, underscore)")
	cmd.AddCommand(createCmd)
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the diagnostic catalog",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog definitions by priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			area, _ := cmd.Flags().GetString("area")
			filter, err := odontogram.ParseAreaFilter(area)
			if err != nil {
				return err
			}
			catalog, err := odontogram.LoadCatalog(file, zerolog.Nop())
			if err != nil {
				return err
			}
			printCatalog(cmd.OutOrStdout(), catalog.Categories(filter))
			return nil
		},
	}
	listCmd.Flags().String("file", "", "Catalog YAML file (default: embedded catalog)")
	listCmd.Flags().String("area", "", "Only definitions for an area: crown, root or none")
	cmd.AddCommand(listCmd)

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a catalog YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := odontogram.LoadCatalog(args[0], zerolog.Nop())
			if err != nil {
				return fmt.Errorf("invalid catalog: %w", err)
			}
			cats := catalog.Categories(odontogram.FilterAny)
			defs := 0
			for _, c := range cats {
				defs += len(c.Definitions)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d categories, %d definitions\n", args[0], len(cats), defs)
			return nil
		},
	}
	cmd.AddCommand(validateCmd)
	return cmd
}

func printCatalog(w io.Writer, cats []odontogram.Category) {
	fmt.Fprintf(w, "%-6s %-14s %-28s %-36s %-6s %s\n", "TIER", "COLOR", "ID", "NAME", "ABBR", "AREAS")
	for _, c := range cats {
		for _, d := range c.Definitions {
			areas := make([]string, len(d.Areas))
			for i, a := range d.Areas {
				areas[i] = string(a)
			}
			fmt.Fprintf(w, "%-6s %-14s %-28s %-36s %-6s %s\n",
				c.Tier, c.Color, d.ID, d.Name, d.Abbreviation, strings.Join(areas, ","))
		}
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a patient's saved chart to an .xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			patient, _ := cmd.Flags().GetString("patient")
			out, _ := cmd.Flags().GetString("out")
			tenant, _ := cmd.Flags().GetString("tenant")

			pid, err := uuid.Parse(patient)
			if err != nil {
				return fmt.Errorf("--patient must be a uuid: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}
			if out == "" {
				out = fmt.Sprintf("odontogram-%s.xlsx", pid)
			}

			ctx := context.Background()
			a, err := newApp(ctx, cfg, zerolog.Nop())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, release, err := tenantContext(ctx, a.store, tenant)
			if err != nil {
				return err
			}
			defer release()

			b, err := a.svc.Export(ctx, pid)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, b, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", out, len(b))
			return nil
		},
	}
	cmd.Flags().String("patient", "", "Patient id (uuid)")
	cmd.Flags().String("out", "", "Output file (default odontogram-<patient>.xlsx)")
	cmd.Flags().String("tenant", "", "Tenant id (default DEFAULT_TENANT)")
	return cmd
}
