package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	adapthttp "calorielog/internal/adapter/http"
	"calorielog/internal/app"
	"calorielog/internal/bootstrap"
	"calorielog/internal/config"
	"calorielog/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet.
		_ = logger.Init("development")
		logger.Fatal("config", zap.Error(err))
	}
	if err := logger.Init(cfg.Env); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		logger.Fatal("open stores", zap.Error(err))
	}
	defer func() { _ = stores.Close() }()

	provider, err := bootstrap.NewProvider(ctx, cfg)
	if err != nil {
		logger.Fatal("analysis provider", zap.Error(err))
	}

	var orchOpts []app.OrchestratorOption
	images, err := bootstrap.NewImageStore(ctx, cfg)
	if err != nil {
		logger.Fatal("image store", zap.Error(err))
	}
	if images != nil {
		orchOpts = append(orchOpts, app.WithImageStore(images))
	}

	historySvc := app.NewHistoryService(stores.History)
	authSvc := app.NewAuthService(stores.Users, stores.Sessions)

	srv := adapthttp.New(historySvc, authSvc, provider, orchOpts...)
	if cfg.AuthDisabled {
		logger.Warn("authentication disabled, all requests run as the default user")
		srv.WithoutAuth()
	}
	if cfg.ForwardAuth.Enabled && !cfg.AuthDisabled {
		logger.Info("forward auth enabled", zap.Stringers("trustedProxies", cfg.ForwardAuth.TrustedProxies))
		srv.WithForwardAuth(cfg.ForwardAuth.TrustedProxies)
	}
	if cfg.SSOEnabled() {
		oidcCfg, err := newOIDC(ctx, cfg)
		if err != nil {
			logger.Fatal("oidc", zap.Error(err))
		}
		srv.WithOIDC(oidcCfg)
	}

	go cleanupSessions(ctx, authSvc)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("backend", cfg.HistoryBackend))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
	logger.Info("shut down", zap.Int64("fallbacks", provider.Stats().Fallbacks))
}

func newOIDC(ctx context.Context, cfg *config.Config) (adapthttp.OIDCConfig, error) {
	provider, err := oidc.NewProvider(ctx, cfg.OIDC.Issuer)
	if err != nil {
		return adapthttp.OIDCConfig{}, err
	}
	return adapthttp.OIDCConfig{
		Enabled:  true,
		Provider: provider,
		OAuth2Config: oauth2.Config{
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURL:  cfg.OIDC.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

func cleanupSessions(ctx context.Context, auth *app.AuthService) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := auth.CleanupSessions(ctx); err != nil {
				logger.Warn("session cleanup failed", zap.Error(err))
			}
		}
	}
}
