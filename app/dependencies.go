package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/storefront/backend/cognito"
	"github.com/upb/storefront/backend/config"
	"github.com/upb/storefront/backend/middleware"
	"github.com/upb/storefront/backend/repositories"
	"github.com/upb/storefront/backend/repositories/postgres"
	"github.com/upb/storefront/backend/services"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users     repositories.UserRepository
	TxManager repositories.TransactionManager

	// Authentication
	KeySet         *cognito.KeySet
	Verifier       *cognito.Verifier
	Identity       *cognito.IdentityClient
	AuthMiddleware *middleware.AuthMiddleware

	// Services
	AuthService *services.AuthService
	UserService *services.UserService
}

// NewDependencies opens the database and wires every component.
// The signing key refresher is not started; call Start once the server is ready to accept traffic.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps := Wire(cfg, factory, logger)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// Wire builds the dependency graph over an existing repository factory without doing any I/O
func Wire(cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) *Dependencies {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	deps.initRepositories()
	deps.initAuth(cfg)
	deps.initServices()

	return deps
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	keySetURL := cfg.Cognito.KeySetURL()
	if keySetURL == "" {
		// Without a key set every protected route answers 401
		d.Logger.Warn("cognito user pool not configured, protected routes will reject all tokens")
	}

	d.KeySet = cognito.NewKeySet(cognito.KeySetConfig{
		URL:             keySetURL,
		RefreshInterval: cfg.Auth.KeyRefreshInterval,
		HTTPTimeout:     cfg.Auth.KeyFetchTimeout,
	}, d.Logger.Named("keyset"))

	d.Verifier = cognito.NewVerifier(d.KeySet, cognito.VerifierConfig{
		Issuer:    cfg.Cognito.Issuer(),
		ClientID:  cfg.Cognito.ClientID,
		ClockSkew: cfg.Auth.ClockSkew,
	})

	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Verifier, d.Logger, cfg.Auth.AcceptLegacyHeader)

	d.Identity = cognito.NewIdentityClient(cognito.IdentityConfig{
		Endpoint:     cfg.Cognito.IdentityEndpoint(),
		ClientID:     cfg.Cognito.ClientID,
		ClientSecret: cfg.Cognito.ClientSecret,
		HTTPTimeout:  cfg.Auth.KeyFetchTimeout,
	}, d.Logger.Named("identity"))

	d.Logger.Info("auth initialized",
		zap.String("jwks_url", keySetURL),
		zap.String("issuer", cfg.Cognito.Issuer()),
		zap.Duration("key_refresh_interval", cfg.Auth.KeyRefreshInterval))
}

func (d *Dependencies) initServices() {
	d.AuthService = services.NewAuthService(d.Identity, d.Users, d.Logger.Named("auth"))
	d.UserService = services.NewUserService(d.Users, d.TxManager, d.Logger.Named("users"))
}

// Start launches background work: the signing key set loader and refresher.
// It returns immediately; readiness is reported through KeySet.Ready.
func (d *Dependencies) Start(ctx context.Context) {
	d.KeySet.Start(ctx)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
