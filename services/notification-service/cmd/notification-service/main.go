package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"github.com/md-rashed-zaman/clinicbook/libs/migratex"
	"github.com/md-rashed-zaman/clinicbook/libs/runtime"
	"github.com/md-rashed-zaman/clinicbook/services/notification-service/migrations"
)

const migrationsTable = "notification_schema_migrations"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Consume appointment events and send patient emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := runtime.SignalContext()
			defer stop()
			return run(ctx, cfg)
		},
	}
	root := &cobra.Command{
		Use:          "notification-service",
		Short:        "Patient notifications for clinic appointments",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.AddCommand(serve, migrateCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Run database migrations"}
	run := func(fn func(*migratex.Migrator) error) error {
		url, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return err
		}
		mg, err := migratex.Open(url, migrations.FS, migrationsTable)
		if err != nil {
			return err
		}
		defer mg.Close()
		return fn(mg)
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE:  func(*cobra.Command, []string) error { return run((*migratex.Migrator).Up) },
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE:  func(*cobra.Command, []string) error { return run((*migratex.Migrator).Down) },
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Mark VERSION as applied and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("version must be an integer: %w", err)
				}
				return run(func(mg *migratex.Migrator) error { return mg.Force(v) })
			},
		},
	)
	return cmd
}
