package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/swasthyasetu/platform/internal/adapters/his/heliant"
	authz "github.com/swasthyasetu/platform/internal/auth"
	"github.com/swasthyasetu/platform/internal/shared/auth"
	"github.com/swasthyasetu/platform/internal/shared/config"
	"github.com/swasthyasetu/platform/internal/shared/database"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "platform",
		Short:         "SwasthyaSetu consent-gated record exchange",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./config.yaml)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(seedCmd(&configPath))
	rootCmd.AddCommand(importHISCmd(&configPath))
	rootCmd.AddCommand(verifyAuditCmd(&configPath))
	rootCmd.AddCommand(issueTokenCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(cfg.Log), nil
}

// withApp runs fn against a connected App and closes it afterwards
func withApp(configPath string, fn func(ctx context.Context, app *App) error) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx := context.Background()
			db, err := database.New(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close()

			applied, err := database.Migrate(ctx, db.Pool, logger)
			if err != nil {
				return err
			}
			logger.Info().Int("applied", applied).Msg("migrations complete")
			return nil
		},
	}
}

func seedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo dataset if its version has not been applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, app *App) error {
				res, err := app.LoadSeed(ctx)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func importHISCmd(configPath *string) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "import-his",
		Short: "Import records once from the configured hospital information system",
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("--since must be RFC 3339: %w", err)
				}
				from = t
			}

			return withApp(*configPath, func(ctx context.Context, app *App) error {
				importer, source, err := newHISImporter(ctx, app)
				if err != nil {
					return err
				}
				defer source.Close()

				res, err := importer.Import(ctx, from)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only import records updated at or after this RFC 3339 time")
	return cmd
}

func verifyAuditCmd(configPath *string) *cobra.Command {
	var (
		limit   int
		details bool
	)

	cmd := &cobra.Command{
		Use:   "verify-audit",
		Short: "Verify the access log hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, app *App) error {
				result, err := app.AuditRepo.VerifyChain(ctx, limit, details)
				if err != nil {
					return err
				}
				if err := printJSON(result); err != nil {
					return err
				}
				if !result.Valid {
					return fmt.Errorf("access log chain is invalid: %d content and %d linkage violations",
						result.ContentInvalid, result.LinkageInvalid)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 1000, "number of newest entries to verify")
	cmd.Flags().BoolVar(&details, "details", false, "include per-entry results")
	return cmd
}

func issueTokenCmd(configPath *string) *cobra.Command {
	var subject, role string

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a development session token for a patient or platform admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return fmt.Errorf("issue-token is disabled in production")
			}

			id, err := types.ParseID(subject)
			if err != nil {
				return fmt.Errorf("--subject: %w", err)
			}
			r, ok := authz.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q", role)
			}

			token, expires, err := auth.IssueToken(cfg.Auth, authz.DefaultSessionConfig(), id, r, time.Now())
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"token":      token,
				"subject":    id,
				"role":       r,
				"expires_at": expires,
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "patient id, or admin id for platform_admin")
	cmd.Flags().StringVar(&role, "role", string(authz.RolePatient), "patient or platform_admin")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func openHISSource(ctx context.Context, app *App) (*heliant.Source, error) {
	h := app.Config.HIS

	cfg := heliant.DefaultConfig()
	cfg.Host = h.Host
	cfg.Port = h.Port
	cfg.Database = h.Database
	cfg.User = h.User
	cfg.Password = h.Password
	cfg.Encrypt = h.Encrypt
	if h.BatchSize > 0 {
		cfg.BatchSize = h.BatchSize
	}

	source, err := heliant.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open HIS source: %w", err)
	}
	return source, nil
}

func parseInstitutionID(s string) (types.ID, error) {
	id, err := types.ParseID(s)
	if err != nil {
		return "", fmt.Errorf("his.institution_id: %w", err)
	}
	return id, nil
}
