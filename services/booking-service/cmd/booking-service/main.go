package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/clinicbook/libs/auth"
	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"github.com/md-rashed-zaman/clinicbook/libs/db"
	"github.com/md-rashed-zaman/clinicbook/libs/migratex"
	"github.com/md-rashed-zaman/clinicbook/libs/runtime"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/seed"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/migrations"
)

const migrationsTable = "booking_schema_migrations"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	serve := serveCmd()
	root := &cobra.Command{
		Use:          "booking-service",
		Short:        "Clinic appointment booking API",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.AddCommand(serve, migrateCmd(), seedCmd(), tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC health servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := runtime.SignalContext()
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	open := func() (*migratex.Migrator, error) {
		url, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, err
		}
		return migratex.Open(url, migrations.FS, migrationsTable)
	}
	run := func(fn func(*migratex.Migrator) error) error {
		mg, err := open()
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
			RunE: func(cmd *cobra.Command, args []string) error {
				return run((*migratex.Migrator).Up)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run((*migratex.Migrator).Down)
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Mark VERSION as applied and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("version must be an integer: %w", err)
				}
				return run(func(mg *migratex.Migrator) error { return mg.Force(v) })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied migration version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(func(mg *migratex.Migrator) error {
					v, dirty, err := mg.Version()
					if err != nil {
						return err
					}
					cmd.Printf("version=%d dirty=%t\n", v, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo clinic, doctors, services and working hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := config.RequiredString("DATABASE_URL")
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.Open(ctx, url, db.Options{MaxConns: 2})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()
			if err := storage.NewPostgres(pool).Seed(ctx, seed.Demo()); err != nil {
				return err
			}
			cmd.Println("demo catalog seeded")
			return nil
		},
	}
}

// tokenCmd mints a staff token signed with JWT_SECRET for the dashboard API.
func tokenCmd() *cobra.Command {
	var claims auth.Claims
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a staff access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := config.RequiredString("JWT_SECRET")
			if err != nil {
				return err
			}
			tok, err := issueToken(claims, secret, ttl, time.Now())
			if err != nil {
				return err
			}
			cmd.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&claims.Sub, "sub", "", "subject (user id or email)")
	cmd.Flags().StringVar(&claims.Role, "role", auth.RoleStaff, "admin, staff or doctor")
	cmd.Flags().StringVar(&claims.ClinicID, "clinic", "", "restrict the token to one clinic")
	cmd.Flags().StringVar(&claims.DoctorID, "doctor", "", "doctor id for doctor tokens")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func issueToken(c auth.Claims, secret string, ttl time.Duration, now time.Time) (string, error) {
	switch c.Role {
	case auth.RoleAdmin, auth.RoleStaff:
	case auth.RoleDoctor:
		if c.DoctorID == "" {
			return "", fmt.Errorf("doctor tokens need --doctor")
		}
	default:
		return "", fmt.Errorf("unknown role %q", c.Role)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	c.Iat = now.Unix()
	c.Exp = now.Add(ttl).Unix()
	return auth.SignHS256(c, secret)
}
