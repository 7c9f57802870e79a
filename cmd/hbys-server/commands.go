package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hbys/hbys/internal/config"
	"github.com/hbys/hbys/internal/domain/license"
	"github.com/hbys/hbys/internal/domain/tenant"
	"github.com/hbys/hbys/internal/platform/auth"
	"github.com/hbys/hbys/internal/platform/cache"
)

// cliEnv is what a one-shot administrative command runs against.
type cliEnv struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	svc    *services
}

// withEnv loads configuration, connects to the database and, when redis is
// configured, broadcasts tenant changes so running servers evict their
// directory caches right away.
func withEnv(fn func(ctx context.Context, env *cliEnv) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := newServices(pool, logger)
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cache.Config{ConnectionURL: cfg.RedisURL, RetryAttempts: 1})
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable: servers will see tenant changes after TENANT_CACHE_TTL")
		} else {
			defer client.Close()
			shared := cache.NewDirectoryCache(client, logger)
			svc.tenants.SetInvalidator(invalidatorFunc(shared.Delete))
		}
	}

	return fn(ctx, &cliEnv{cfg: cfg, logger: logger, pool: pool, svc: svc})
}

// parseDate accepts 2006-01-02 (midnight UTC) or RFC 3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			target, _ := cmd.Flags().GetInt("to")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := newMigrator(pool, dir)
			var count int
			if target > 0 {
				count, err = migrator.UpTo(ctx, target)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	upCmd.Flags().Int("to", 0, "Stop after this version")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := newMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printTenant(t *tenant.Tenant) {
	state := "active"
	if !t.Active {
		state = "inactive"
	}
	fmt.Printf("%-36s %-20s %-10s %-10s %-10s %s\n", t.ID, t.Code, t.Type, state, formatDate(t.ExpiresAt), t.Name)
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("code")
			name, _ := cmd.Flags().GetString("name")
			display, _ := cmd.Flags().GetString("display-name")
			typ, _ := cmd.Flags().GetString("type")
			expires, _ := cmd.Flags().GetString("expires")
			if code == "" || name == "" {
				return errors.New("--code and --name are required")
			}
			expiresAt, err := optionalDate(expires)
			if err != nil {
				return err
			}
			req := tenant.CreateRequest{Code: code, Name: name, Type: tenant.Type(typ), ExpiresAt: expiresAt}
			if display != "" {
				req.DisplayName = &display
			}

			return withEnv(func(ctx context.Context, env *cliEnv) error {
				t, err := env.svc.tenants.Create(ctx, req)
				if err != nil {
					return err
				}
				fmt.Printf("Tenant %s created with id %s.\n", t.Code, t.ID)
				return nil
			})
		},
	}
	createCmd.Flags().String("code", "", "Tenant code (A-Z, 0-9, _ and -)")
	createCmd.Flags().String("name", "", "Legal name")
	createCmd.Flags().String("display-name", "", "Display name")
	createCmd.Flags().String("type", string(tenant.TypeSaaS), "saas, on_premise or group")
	createCmd.Flags().String("expires", "", "Expiry date (YYYY-MM-DD); empty for none")
	cmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			activeOnly, _ := cmd.Flags().GetBool("active")
			search, _ := cmd.Flags().GetString("search")
			f := tenant.ListFilter{Search: search}
			if activeOnly {
				f.Active = &activeOnly
			}

			return withEnv(func(ctx context.Context, env *cliEnv) error {
				items, total, err := env.svc.tenants.List(ctx, f, 500, 0)
				if err != nil {
					return err
				}
				fmt.Printf("%-36s %-20s %-10s %-10s %-10s %s\n", "ID", "CODE", "TYPE", "STATUS", "EXPIRES", "NAME")
				for _, t := range items {
					printTenant(t)
				}
				fmt.Printf("%d of %d tenant(s)\n", len(items), total)
				return nil
			})
		},
	}
	listCmd.Flags().Bool("active", false, "Only active tenants")
	listCmd.Flags().String("search", "", "Filter by code or name")
	cmd.AddCommand(listCmd)

	for _, action := range []string{"activate", "deactivate"} {
		action := action
		c := &cobra.Command{
			Use:   action + " CODE",
			Short: strings.ToUpper(action[:1]) + action[1:] + " a tenant",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEnv(func(ctx context.Context, env *cliEnv) error {
					t, err := env.svc.tenants.GetByCode(ctx, args[0])
					if err != nil {
						return err
					}
					if action == "activate" {
						t, err = env.svc.tenants.Activate(ctx, t.ID)
					} else {
						t, err = env.svc.tenants.Deactivate(ctx, t.ID)
					}
					if err != nil {
						return err
					}
					printTenant(t)
					return nil
				})
			},
		}
		cmd.AddCommand(c)
	}

	return cmd
}

// parseFeatureFlag reads "name" or "name=limit".
func parseFeatureFlag(raw string) (license.FeatureRequest, error) {
	name, limit, hasLimit := strings.Cut(raw, "=")
	fr := license.FeatureRequest{Name: name, Enabled: true}
	if hasLimit {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return fr, fmt.Errorf("invalid limit in --feature %q", raw)
		}
		fr.Limit = &n
	}
	return fr, nil
}

func printLicense(l *license.License, now time.Time) {
	fmt.Printf("%-36s %-16s %-12s %-10s %-10s active=%t\n",
		l.ID, l.Module, l.Type, l.EffectiveStatus(now), formatDate(l.ExpiryDate), l.IsActive(now))
	for _, f := range l.Features {
		limit := "-"
		if f.Limit != nil {
			limit = strconv.Itoa(*f.Limit)
		}
		fmt.Printf("    %-30s enabled=%-5t limit=%s\n", f.Name, f.Enabled, limit)
	}
}

func licenseIDFlag(cmd *cobra.Command) (string, error) {
	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		return "", errors.New("--id is required")
	}
	return id, nil
}

func licenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage module licenses",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "License a module for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("tenant")
			module, _ := cmd.Flags().GetString("module")
			typ, _ := cmd.Flags().GetString("type")
			expires, _ := cmd.Flags().GetString("expires")
			features, _ := cmd.Flags().GetStringSlice("feature")
			if code == "" || module == "" {
				return errors.New("--tenant and --module are required")
			}
			expiry, err := optionalDate(expires)
			if err != nil {
				return err
			}
			req := license.CreateRequest{Module: module, Type: license.Type(typ), ExpiryDate: expiry}
			if cmd.Flags().Changed("max-users") {
				n, _ := cmd.Flags().GetInt("max-users")
				req.MaxUsers = &n
			}
			if cmd.Flags().Changed("max-records") {
				n, _ := cmd.Flags().GetInt("max-records")
				req.MaxRecords = &n
			}
			for _, raw := range features {
				fr, err := parseFeatureFlag(raw)
				if err != nil {
					return err
				}
				req.Features = append(req.Features, fr)
			}

			return withEnv(func(ctx context.Context, env *cliEnv) error {
				t, err := env.svc.tenants.GetByCode(ctx, code)
				if err != nil {
					return fmt.Errorf("tenant %s: %w", code, err)
				}
				req.TenantID = t.ID
				l, err := env.svc.licenses.Create(ctx, req)
				if err != nil {
					return err
				}
				printLicense(l, time.Now())
				return nil
			})
		},
	}
	createCmd.Flags().String("tenant", "", "Tenant code")
	createCmd.Flags().String("module", "", "Module name")
	createCmd.Flags().String("type", string(license.TypeStandard), "trial, standard, professional or enterprise")
	createCmd.Flags().String("expires", "", "Expiry date (YYYY-MM-DD); empty for open-ended")
	createCmd.Flags().Int("max-users", 0, "User cap")
	createCmd.Flags().Int("max-records", 0, "Record cap")
	createCmd.Flags().StringSlice("feature", nil, "Enabled feature, optionally name=limit (repeatable)")
	cmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the licenses of a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("tenant")
			if code == "" {
				return errors.New("--tenant is required")
			}
			return withEnv(func(ctx context.Context, env *cliEnv) error {
				t, err := env.svc.tenants.GetByCode(ctx, code)
				if err != nil {
					return fmt.Errorf("tenant %s: %w", code, err)
				}
				items, err := env.svc.licenses.ListForTenant(ctx, t.ID)
				if err != nil {
					return err
				}
				now := time.Now()
				for _, l := range items {
					printLicense(l, now)
				}
				return nil
			})
		},
	}
	listCmd.Flags().String("tenant", "", "Tenant code")
	cmd.AddCommand(listCmd)

	renewCmd := &cobra.Command{
		Use:   "renew",
		Short: "Reactivate a license until a new expiry date",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawID, err := licenseIDFlag(cmd)
			if err != nil {
				return err
			}
			expires, _ := cmd.Flags().GetString("expires")
			expiry, err := optionalDate(expires)
			if err != nil {
				return err
			}
			return withEnv(func(ctx context.Context, env *cliEnv) error {
				id, err := parseUUID(rawID)
				if err != nil {
					return err
				}
				l, err := env.svc.licenses.Renew(ctx, id, expiry)
				if err != nil {
					return err
				}
				printLicense(l, time.Now())
				return nil
			})
		},
	}
	renewCmd.Flags().String("id", "", "License id")
	renewCmd.Flags().String("expires", "", "New expiry date (YYYY-MM-DD); empty for open-ended")
	cmd.AddCommand(renewCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a license",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawID, err := licenseIDFlag(cmd)
			if err != nil {
				return err
			}
			return withEnv(func(ctx context.Context, env *cliEnv) error {
				id, err := parseUUID(rawID)
				if err != nil {
					return err
				}
				l, err := env.svc.licenses.Cancel(ctx, id)
				if err != nil {
					return err
				}
				printLicense(l, time.Now())
				return nil
			})
		},
	}
	cancelCmd.Flags().String("id", "", "License id")
	cmd.AddCommand(cancelCmd)

	featureCmd := &cobra.Command{
		Use:   "feature",
		Short: "Create, toggle or cap a licensed feature",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawID, err := licenseIDFlag(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return errors.New("--name is required")
			}
			create, _ := cmd.Flags().GetBool("create")
			enable, _ := cmd.Flags().GetBool("enable")
			disable, _ := cmd.Flags().GetBool("disable")
			noLimit, _ := cmd.Flags().GetBool("no-limit")
			setLimit := cmd.Flags().Changed("limit")
			if enable && disable {
				return errors.New("--enable and --disable are mutually exclusive")
			}
			if setLimit && noLimit {
				return errors.New("--limit and --no-limit are mutually exclusive")
			}
			if !create && !enable && !disable && !setLimit && !noLimit {
				return errors.New("nothing to do: pass --create, --enable, --disable, --limit or --no-limit")
			}
			var limit *int
			if setLimit {
				n, _ := cmd.Flags().GetInt("limit")
				limit = &n
			}

			return withEnv(func(ctx context.Context, env *cliEnv) error {
				id, err := parseUUID(rawID)
				if err != nil {
					return err
				}
				var f *license.Feature
				switch {
				case create:
					fr := license.FeatureRequest{Name: name, Enabled: !disable, Limit: limit}
					if desc, _ := cmd.Flags().GetString("description"); desc != "" {
						fr.Description = &desc
					}
					f, err = env.svc.licenses.UpsertFeature(ctx, id, fr)
				default:
					if enable {
						f, err = env.svc.licenses.EnableFeature(ctx, id, name)
					} else if disable {
						f, err = env.svc.licenses.DisableFeature(ctx, id, name)
					}
					if err == nil && (setLimit || noLimit) {
						f, err = env.svc.licenses.UpdateFeatureLimit(ctx, id, name, limit)
					}
				}
				if err != nil {
					return err
				}
				lim := "-"
				if f.Limit != nil {
					lim = strconv.Itoa(*f.Limit)
				}
				fmt.Printf("%s enabled=%t limit=%s\n", f.Name, f.Enabled, lim)
				return nil
			})
		},
	}
	featureCmd.Flags().String("id", "", "License id")
	featureCmd.Flags().String("name", "", "Feature name")
	featureCmd.Flags().String("description", "", "Description (with --create)")
	featureCmd.Flags().Bool("create", false, "Create or replace the feature")
	featureCmd.Flags().Bool("enable", false, "Enable the feature")
	featureCmd.Flags().Bool("disable", false, "Disable the feature")
	featureCmd.Flags().Int("limit", 0, "Usage limit")
	featureCmd.Flags().Bool("no-limit", false, "Remove the usage limit")
	cmd.AddCommand(featureCmd)

	return cmd
}

func adminTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a system administrator token for the /admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if subject == "" {
				return errors.New("--subject is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.AdminTokenTTL
			}
			issuer := auth.NewTokenIssuer([]byte(cfg.AdminTokenSecret), cfg.AdminTokenIssuer, ttl)
			token, err := issuer.Issue(subject, auth.ScopeSystemAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Operator identity recorded in the audit log")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to ADMIN_TOKEN_TTL)")
	return cmd
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
