package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aegis-id/aegis/internal/auth/cache"
	cacheredis "github.com/aegis-id/aegis/internal/auth/cache/redis"
	httpapi "github.com/aegis-id/aegis/internal/auth/http"
	"github.com/aegis-id/aegis/internal/auth/notify"
	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/internal/auth/store"
	"github.com/aegis-id/aegis/internal/auth/store/drivers/sqlite"
	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/jwtx"
	"github.com/aegis-id/aegis/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the auth service together: storage, cache, keys,
// services, and the HTTP server.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db    store.Store
	cache cache.Cache
	keys  *jwtx.KeyService

	orchestrator       *service.Orchestrator
	userService        *service.UserService
	mfaEngine          *service.MFAEngine
	passkeyService     *service.PasskeyService
	tokenService       *service.TokenService
	keyRotationService *service.KeyRotationService
	housekeeping       *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "aegis-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.cache = cacheredis.New(cacheredis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx := context.Background()
	keys, cipher, err := initAuthKeys(ctx, app.cfg, app.db, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keys = keys

	if err := app.initServices(cipher); err != nil {
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully stops the HTTP server, housekeeping, and storage.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	if err := app.cache.Close(); err != nil {
		app.logger.Error("error closing cache", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initServices(cipher *cryptox.KeyCipher) error {
	ledger := &service.AttemptLedger{
		Cache:  app.cache,
		Window: app.cfg.AttemptWindow,
	}

	app.mfaEngine = &service.MFAEngine{
		Store:  app.db,
		Cache:  app.cache,
		Sender: notify.NewLogSender(app.logger),
		Ledger: ledger,
		Config: service.MFAConfig{
			Issuer:                app.cfg.Issuer,
			CodeTTL:               app.cfg.CodeTTL,
			AttemptWindow:         app.cfg.AttemptWindow,
			EmailIssueThreshold:   app.cfg.EmailIssueThreshold,
			SMSIssueThreshold:     app.cfg.SMSIssueThreshold,
			VerifyThreshold:       app.cfg.VerifyThreshold,
			OTPMaxFailures:        app.cfg.OTPMaxFailures,
			RequiredMechanisms:    app.cfg.RequiredMechanisms,
			EmailFallbackEnabled:  app.cfg.EmailFallbackEnabled,
			RememberDeviceEnabled: app.cfg.RememberDeviceEnabled,
			RememberDeviceTTL:     app.cfg.RememberDeviceTTL,
		},
	}

	app.orchestrator = &service.Orchestrator{
		Store: app.db,
		Cache: app.cache,
		MFA:   app.mfaEngine,
		Config: service.FlowConfig{
			EnforceMFAEnrollment: app.cfg.EnforceMFAEnrollment,
			RequiredMechanisms:   app.cfg.RequiredMechanisms,
			EmailFallbackEnabled: app.cfg.EmailFallbackEnabled,
			ConsentRequired:      app.cfg.ConsentRequired,
			CodeTTL:              app.cfg.CodeTTL,
		},
	}

	app.userService = &service.UserService{
		Store:     app.db,
		Federated: jwtx.NewFederatedVerifier(parseFederatedProviders(app.cfg.FederatedProviders)),
		Ledger:    ledger,
		Config: service.UserConfig{
			LoginThreshold: app.cfg.LoginThreshold,
			DefaultRoleID:  app.cfg.DefaultRoleID,
			DefaultLocale:  app.cfg.DefaultLocale,
		},
	}

	passkeys, err := service.NewPasskeyService(app.db, app.cache, service.PasskeyConfig{
		RPID:          app.cfg.RPID,
		RPDisplayName: app.cfg.RPDisplayName,
		RPOrigins:     app.cfg.RPOrigins,
		CeremonyTTL:   app.cfg.CeremonyTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize passkey service: %w", err)
	}
	passkeys.Ledger = ledger
	passkeys.AssertThreshold = app.cfg.AssertThreshold
	app.passkeyService = passkeys

	app.tokenService = &service.TokenService{
		Store: app.db,
		Cache: app.cache,
		Keys:  app.keys,
		Config: service.TokenConfig{
			Issuer:               app.cfg.Issuer,
			AccessTTLInteractive: app.cfg.AccessTTLInteractive,
			AccessTTLMachine:     app.cfg.AccessTTLMachine,
			IDTokenTTL:           app.cfg.IDTokenTTL,
			RefreshTTL:           app.cfg.RefreshTTL,
		},
	}

	if app.cfg.KeyStorageMode == "persistent" {
		app.keyRotationService = &service.KeyRotationService{
			Store:       app.db,
			Keys:        app.keys,
			Cipher:      cipher,
			GracePeriod: app.cfg.KeyGracePeriod,
		}
		app.logger.Info("key rotation service enabled (persistent mode)")
	} else {
		app.keyRotationService = &service.KeyRotationService{
			Keys:        app.keys,
			GracePeriod: app.cfg.KeyGracePeriod,
		}
		app.logger.Info("key rotation service enabled (ephemeral mode)")
	}

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keys,
		app.keys,
		BuildVersion,
		app.db,
		app.cache,
		app.logger,
	)

	router.Orchestrator = app.orchestrator
	router.UserService = app.userService
	router.MFAEngine = app.mfaEngine
	router.PasskeyService = app.passkeyService
	router.TokenService = app.tokenService
	router.KeyRotationService = app.keyRotationService
	router.ExpiredRedirectURL = app.cfg.ExpiredRedirectURL
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// parseFederatedProviders decodes "name|issuerURL|clientID" entries.
// Malformed entries are skipped.
func parseFederatedProviders(entries []string) []jwtx.FederatedProviderConfig {
	configs := make([]jwtx.FederatedProviderConfig, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, "|")
		if len(parts) != 3 {
			continue
		}
		configs = append(configs, jwtx.FederatedProviderConfig{
			Name:      strings.TrimSpace(parts[0]),
			IssuerURL: strings.TrimSpace(parts[1]),
			ClientID:  strings.TrimSpace(parts[2]),
		})
	}
	return configs
}
