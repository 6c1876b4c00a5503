package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BaSui01/evalflow/config"
	"github.com/BaSui01/evalflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

type migrateFlags struct {
	dbType string
	dbURL  string
}

func newMigrateCommand() *cobra.Command {
	var flags migrateFlags

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long: `Apply or roll back the embedded SQL migrations.

The database is taken from the config file unless both --db-type and
--db-url are given. For sqlite, --db-url is the database file path.`,
	}
	cmd.PersistentFlags().StringVar(&flags.dbType, "db-type", "", "Database type: postgres, mysql, sqlite (default: from config)")
	cmd.PersistentFlags().StringVar(&flags.dbURL, "db-url", "", "Database connection URL (default: from config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrationCLI(&flags, func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
			return cli.RunUp(cmd.Context())
		}),
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (the last one by default, all with --steps 0)",
		Args:  cobra.NoArgs,
		RunE: withMigrationCLI(&flags, func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
			return cli.RunDown(cmd.Context(), steps)
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back, 0 for all")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: withMigrationCLI(&flags, func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
			return cli.RunStatus(cmd.Context())
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		Args:  cobra.NoArgs,
		RunE: withMigrationCLI(&flags, func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
			return cli.RunVersion(cmd.Context())
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force set migration version (use with caution)",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrationCLI(&flags, func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return cli.RunForce(cmd.Context(), version)
		}),
	})

	return cmd
}

type migrationFunc func(cmd *cobra.Command, cli *migration.CLI, args []string) error

// withMigrationCLI 创建迁移器，执行 fn 后关闭
func withMigrationCLI(flags *migrateFlags, fn migrationFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		migrator, err := createMigrator(configFlag(cmd), flags)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
		defer migrator.Close()

		cli := migration.NewCLI(migrator)
		cli.SetOutput(cmd.OutOrStdout())
		if err := fn(cmd, cli, args); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		return nil
	}
}

func createMigrator(configPath string, flags *migrateFlags) (*migration.DefaultMigrator, error) {
	if flags.dbType != "" && flags.dbURL != "" {
		dbType, err := migration.ParseDatabaseType(flags.dbType)
		if err != nil {
			return nil, err
		}
		if dbType == migration.DatabaseTypeSQLite {
			return migration.NewSQLiteMigrator(flags.dbURL)
		}
		return migration.NewMigratorFromURL(dbType, flags.dbURL)
	}

	// 迁移只需要数据库配置，不做完整校验
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.dbType != "" {
		cfg.Database.Driver = flags.dbType
	}
	return migration.NewMigrator(cfg.Database)
}
