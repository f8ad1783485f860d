package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/radshare/radshare/internal/config"
	"github.com/radshare/radshare/internal/domain/admin"
	"github.com/radshare/radshare/internal/domain/appointment"
	"github.com/radshare/radshare/internal/domain/image"
	"github.com/radshare/radshare/internal/domain/message"
	"github.com/radshare/radshare/internal/domain/notification"
	"github.com/radshare/radshare/internal/domain/user"
	"github.com/radshare/radshare/internal/platform/ai"
	"github.com/radshare/radshare/internal/platform/analytics"
	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/blobstore"
	"github.com/radshare/radshare/internal/platform/db"
	"github.com/radshare/radshare/internal/platform/mailer"
	"github.com/radshare/radshare/internal/platform/middleware"
	"github.com/radshare/radshare/internal/platform/realtime"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "radshare-server",
		Short:   "Medical image sharing API server",
		Version: version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
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

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
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

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status failed: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an ADMIN user",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			first, _ := cmd.Flags().GetString("first")
			last, _ := cmd.Flags().GetString("last")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			u := &user.User{
				Email:        email,
				PasswordHash: &hash,
				FirstName:    first,
				LastName:     last,
				Role:         auth.RoleAdmin,
				AuthProvider: user.ProviderLocal,
				IsActive:     true,
			}
			if err := user.NewRepo(pool).Create(ctx, u); err != nil {
				if db.IsUniqueViolation(err) {
					return fmt.Errorf("email %s is already registered", email)
				}
				return err
			}
			fmt.Printf("Admin %s created (%s).\n", u.Email, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Admin email address")
	createCmd.Flags().String("password", "", "Admin password")
	createCmd.Flags().String("first", "", "First name")
	createCmd.Flags().String("last", "", "Last name")
	cmd.AddCommand(createCmd)

	return cmd
}

// hubOptions derives realtime hub options from the server configuration.
// WebSocket frames are encrypted only in production, where Validate has
// already required a key; outside production the hub runs in plaintext.
func hubOptions(cfg *config.Config) ([]realtime.HubOption, error) {
	if !cfg.IsProduction() {
		return nil, nil
	}
	key, err := hex.DecodeString(cfg.WSEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode WS_ENCRYPTION_KEY: %w", err)
	}
	enc, err := realtime.NewFrameEncryptor(key)
	if err != nil {
		return nil, err
	}
	return []realtime.HubOption{realtime.WithEncryption(enc)}, nil
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Mail: real SMTP when configured, log-only otherwise.
	var sender mailer.Sender
	if cfg.SMTPHost != "" {
		sender = mailer.NewSMTPSender(mailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Warn().Msg("SMTP_HOST not set, emails are logged only")
		sender = mailer.NewLogSender(logger)
	}
	mail := mailer.New(sender)

	blobs, err := blobstore.NewFSStore(cfg.UploadDir, cfg.MaxUploadBytes())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open upload directory")
	}

	hubOpts, err := hubOptions(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize frame encryption")
	}
	hub := realtime.NewHub(logger, hubOpts...)

	secret := []byte(cfg.JWTSecret)
	issuer := auth.NewIssuer(secret, time.Duration(cfg.JWTTTLMinutes)*time.Minute)

	var verifier *auth.Verifier
	switch cfg.AuthMode {
	case "oidc":
		verifier, err = auth.NewOIDCVerifier(cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthJWKSURL, secret)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure oidc verification")
		}
	default:
		verifier = auth.NewLocalVerifier(secret)
	}

	aiOpts := []ai.Option{
		ai.WithMaxAttempts(cfg.AIMaxAttempts),
		ai.WithRetryBase(time.Duration(cfg.AIRetryBaseMS) * time.Millisecond),
	}
	openaiSvc, err := ai.NewService(ai.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel), logger, aiOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure openai analyzer")
	}
	hfSvc, err := ai.NewService(ai.NewHuggingFaceClient(cfg.HFAPIKey, cfg.HFModel), logger, aiOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure huggingface analyzer")
	}
	analyzers := map[string]*ai.Service{
		"openai":      openaiSvc,
		"huggingface": hfSvc,
	}

	userRepo := user.NewRepo(pool)
	notifRepo := notification.NewRepo(pool)
	apptRepo := appointment.NewRepo(pool)
	imageRepo := image.NewRepo(pool)
	msgRepo := message.NewRepo(pool)
	statsRepo := admin.NewStatsRepo(pool)

	userSvc := user.NewService(userRepo, issuer, mail, logger)
	notifSvc := notification.NewService(notifRepo, hub, mail, userRepo, logger)
	apptSvc := appointment.NewService(apptRepo, userRepo, notifSvc, hub, logger)
	imageSvc := image.NewService(imageRepo, blobs, userRepo, notifSvc, hub, analyzers, logger)
	msgSvc := message.NewService(msgRepo, userRepo, notifSvc, imageSvc, hub, logger)
	adminSvc := admin.NewService(userRepo, notifSvc, statsRepo, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	tracker := analytics.NewUsageTracker(5000)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", fmt.Sprintf("%dM", cfg.MaxUploadMB)))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	rlCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerSecond = cfg.RateLimitRPS
		rlCfg.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rlCfg))
	e.Use(analytics.Middleware(tracker))

	e.GET("/health", db.HealthHandler(pool, version))

	api := e.Group("/api/v1", auth.Authenticate(verifier), user.ResolveIdentity(userSvc))
	user.NewHandler(userSvc).RegisterRoutes(api)
	notification.NewHandler(notifSvc).RegisterRoutes(api)
	appointment.NewHandler(apptSvc).RegisterRoutes(api)
	image.NewHandler(imageSvc).RegisterRoutes(api)
	message.NewHandler(msgSvc).RegisterRoutes(api)

	adminAPI := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.NewHandler(adminSvc).RegisterRoutes(adminAPI)
	analytics.NewHandler(tracker).RegisterRoutes(adminAPI)

	realtime.NewHandler(hub, verifier, imageSvc, logger).RegisterRoutes(e)

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
