package main

import (
	"context"
	crypto_rand "crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/compass/compass/internal/config"
	"github.com/compass/compass/internal/domain/hospital"
	"github.com/compass/compass/internal/domain/patient"
	"github.com/compass/compass/internal/domain/staff"
	"github.com/compass/compass/internal/platform/auth"
	"github.com/compass/compass/internal/platform/cache"
	"github.com/compass/compass/internal/platform/db"
	"github.com/compass/compass/internal/platform/middleware"
	"github.com/compass/compass/internal/platform/notification"
	"github.com/compass/compass/internal/platform/reporting"
	"github.com/compass/compass/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "compass-server",
		Short: "COMPASS patient navigation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the COMPASS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// connect loads the configuration and opens the database pool.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// targetSchemas resolves the --tenant and --all flags to schema names.
func targetSchemas(ctx context.Context, cmd *cobra.Command, cfg *config.Config, pool *pgxpool.Pool) ([]string, error) {
	if all, _ := cmd.Flags().GetBool("all"); all {
		tenants, err := db.ListTenants(ctx, pool)
		if err != nil {
			return nil, err
		}
		schemas := make([]string, len(tenants))
		for i, t := range tenants {
			schemas[i] = db.SchemaName(t)
		}
		return schemas, nil
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	if tenant == "" {
		tenant = cfg.DefaultTenant
	}
	return []string{db.SchemaName(tenant)}, nil
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schemas, err := targetSchemas(ctx, cmd, cfg, pool)
			if err != nil {
				return err
			}
			migrator := db.NewDirMigrator(pool, migrationsDir(cmd, cfg))
			for _, schema := range schemas {
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := migrator.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
			}
			return nil
		},
	}
	upCmd.Flags().String("tenant", "", "Tenant to migrate (defaults to DEFAULT_TENANT)")
	upCmd.Flags().Bool("all", false, "Migrate every tenant schema")
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schemas, err := targetSchemas(ctx, cmd, cfg, pool)
			if err != nil {
				return err
			}
			migrator := db.NewDirMigrator(pool, migrationsDir(cmd, cfg))
			for _, schema := range schemas {
				statuses, err := migrator.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("Migration status for schema: %s\n", schema)
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
			}
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "", "Tenant to inspect (defaults to DEFAULT_TENANT)")
	statusCmd.Flags().Bool("all", false, "Inspect every tenant schema")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a new tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, db.NewDirMigrator(pool, cfg.MigrationsDir)); err != nil {
				return err
			}
			fmt.Println("Tenant created and migrated. Create its first admin with: compass-server user create-admin --tenant", name)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage portal accounts",
	}

	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account in a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}

			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
			accounts, _, err := newAccounts(ctx, cfg)
			if err != nil {
				return err
			}
			svc := staff.NewService(staff.NewRepo(pool), accounts, nil, nil, logger)

			return db.RunInTenant(ctx, pool, tenant, func(ctx context.Context) error {
				u, err := svc.CreateStaff(ctx, staff.CreateRequest{
					Name:     name,
					Email:    email,
					Role:     auth.RoleAdmin,
					Password: password,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Created admin %s (%s) in tenant %s\n", u.Email, u.ID, tenant)
				return nil
			})
		},
	}
	createAdmin.Flags().String("tenant", "", "Tenant (defaults to DEFAULT_TENANT)")
	createAdmin.Flags().String("name", "Administrator", "Display name")
	createAdmin.Flags().String("email", "", "Login email")
	createAdmin.Flags().String("password", "", "Initial password (at least 8 characters)")

	cmd.AddCommand(createAdmin)
	return cmd
}

// newAccounts picks where staff logins live: Firebase Authentication when a
// Firebase project is configured, bcrypt hashes in staff_user otherwise. The
// Firebase app is returned for reuse by push notifications.
func newAccounts(ctx context.Context, cfg *config.Config) (staff.Provisioner, *firebase.App, error) {
	if cfg.FirebaseProjectID == "" {
		return staff.LocalAccounts{}, nil, nil
	}
	app, err := auth.NewFirebaseApp(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentials)
	if err != nil {
		return nil, nil, err
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return staff.NewFirebaseAccounts(auth.NewFirebaseProvisioner(client)), app, nil
}

// resolveSigningKey returns the configured token signing key or, when none
// is set, a random 32-byte key. The second return value is true when a
// random key was generated.
func resolveSigningKey(cfg *config.Config) ([]byte, bool, error) {
	if key := cfg.SigningKey(); len(key) > 0 {
		return key, false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

// authMiddleware selects request authentication for the resolved auth mode.
// Password login is only served by this process in development and
// standalone modes, so the issuer for the login route is nil otherwise.
func authMiddleware(ctx context.Context, cfg *config.Config, issuer *auth.TokenIssuer, app *firebase.App) (echo.MiddlewareFunc, *auth.TokenIssuer, error) {
	switch cfg.ResolvedAuthMode() {
	case config.AuthModeDevelopment:
		return auth.DevAuthMiddleware(issuer, cfg.DefaultTenant), issuer, nil
	case config.AuthModeStandalone:
		return issuer.Middleware(auth.AuthSkipper), issuer, nil
	case config.AuthModeExternal:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:      cfg.AuthIssuer,
			Audience:    cfg.AuthAudience,
			JWKSURL:     cfg.AuthJWKSURL,
			Skipper:     auth.AuthSkipper,
			Revocations: issuer.Revocations(),
		}), nil, nil
	case config.AuthModeFirebase:
		if app == nil {
			return nil, nil, fmt.Errorf("firebase auth mode requires FIREBASE_PROJECT_ID")
		}
		client, err := app.Auth(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("firebase auth client: %w", err)
		}
		return auth.FirebaseMiddleware(client, cfg.DefaultTenant, auth.AuthSkipper, issuer.Revocations()), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown auth mode %q", cfg.ResolvedAuthMode())
}

// revocationTTL is how long a session cutoff is kept: the longest lifetime of
// a token the portal accepts. Firebase ID tokens live for an hour.
func revocationTTL(cfg *config.Config) time.Duration {
	if cfg.AuthTokenTTL > time.Hour {
		return cfg.AuthTokenTTL
	}
	return time.Hour
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		logger = logger.Level(level)
	}
	return logger
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Cache
	var store cache.Cache = cache.Nop{}
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.RedisURL, "compass")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisCache.Close()
		store = redisCache
		logger.Info().Msg("connected to redis")
	}

	var metrics *telemetry.Metrics
	if cfg.MetricsEnabled {
		metrics = telemetry.NewMetrics()
	}

	// Identity
	accounts, firebaseApp, err := newAccounts(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise firebase")
	}
	signingKey, randomKey, err := resolveSigningKey(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("signing key error")
	}
	if randomKey {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set; using a random key, issued tokens will not survive a restart")
	}
	revocations := auth.NewRevocationStore(store, revocationTTL(cfg))
	defer revocations.Close()
	issuer := auth.NewTokenIssuer(signingKey, cfg.AuthTokenTTL).WithRevocations(revocations)
	authMW, loginIssuer, err := authMiddleware(ctx, cfg, issuer, firebaseApp)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure authentication")
	}
	logger.Info().Str("auth_mode", cfg.ResolvedAuthMode()).Msg("authentication configured")

	// Push notifications
	var sender notification.PushSender = notification.NewLogSender(logger)
	if firebaseApp != nil {
		fcm, err := notification.NewFCMSender(ctx, firebaseApp)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialise firebase messaging")
		}
		sender = fcm
	}
	notifier := notification.NewManager(sender, nil, 0)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
		ExposeHeaders: []string{echo.HeaderContentDisposition},
	}))
	e.Use(middleware.BodyLimit("2M", "20M"))
	e.Use(middleware.RequestTimeout(30*time.Second, 5*time.Minute))
	if metrics != nil {
		e.Use(metrics.Middleware())
		e.GET("/metrics", metrics.Handler())
	}

	e.Use(authMW)
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	e.Use(middleware.Audit(logger))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, map[string]db.Check{"cache": store.Ping}))

	// API groups
	public := e.Group("")
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.ETag(middleware.ETagConfig{
		Routes: []string{"/api/v1/hospitals/options", "/api/v1/reports/measures"},
		MaxAge: 60,
	}))
	public.Use(middleware.RateLimit(rateLimitCfg))

	// Domains
	hospitalSvc := hospital.NewService(hospital.NewRepo(pool), store, metrics)
	hospital.NewHandler(hospitalSvc).RegisterRoutes(apiV1)

	staffSvc := staff.NewService(staff.NewRepo(pool), accounts, loginIssuer, metrics, logger).
		WithRevocations(revocations)
	staff.NewHandler(staffSvc).RegisterRoutes(apiV1, public)

	reportSvc := reporting.NewService(pool, store, cfg.CacheTTL, metrics)
	reporting.NewHandler(reportSvc).RegisterRoutes(apiV1)

	patientRepo := patient.NewRepo(pool)
	patientSvc := patient.NewService(patientRepo, hospitalSvc, reportSvc, metrics, logger)
	patientSvc.EnableAssignmentPush(staffSvc, notifier)

	reminder := patient.NewFollowUpReminder(pool, patientRepo, staffSvc, notifier, metrics, logger)
	if cfg.FollowUpReminderCron != "" {
		if err := reminder.Start(cfg.FollowUpReminderCron); err != nil {
			logger.Fatal().Err(err).Msg("failed to schedule follow-up reminders")
		}
		defer reminder.Stop()
	}
	patient.NewHandler(patientSvc, reminder).RegisterRoutes(apiV1)

	notification.NewHandler(notifier).RegisterRoutes(apiV1)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
