package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"hubtrack/internal/config"
	"hubtrack/internal/db"
	"hubtrack/internal/docstore"
	"hubtrack/internal/engine"
	"hubtrack/internal/events"
	"hubtrack/internal/identity"
	"hubtrack/internal/migrate"
	"hubtrack/internal/notify"
	"hubtrack/internal/server"
)

// App is an opened workspace: database, store, engine and notification wiring.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Store   *docstore.SQLStore
	Engine  engine.Engine
	Webhook *notify.Webhook
	Notify  *notify.Dispatcher
	Logger  *zap.Logger
}

// Open opens (and migrates) the workspace database and wires the engine.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	store := docstore.New(conn, logger.Named("docstore"))

	webhook := &notify.Webhook{
		URL:  strings.TrimSpace(cfg.Notify.WebhookURL),
		Zone: notify.LoadZone(cfg.Notify.Timezone, cfg.Notify.ZoneLabel),
	}
	var poster notify.Poster
	if webhook.URL != "" {
		poster = webhook
	} else {
		logger.Info("notify webhook not configured; notifications disabled")
	}
	dispatcher := notify.NewDispatcher(poster, logger.Named("notify"), cfg.Notify.Timeout())

	e := engine.New(store, events.Log{DB: conn}, cfg, dispatcher, logger.Named("engine"))
	return &App{
		Config:  cfg,
		DB:      conn,
		Store:   store,
		Engine:  e,
		Webhook: webhook,
		Notify:  dispatcher,
		Logger:  logger,
	}, nil
}

// Close waits for pending notifications and closes the database.
func (a *App) Close() error {
	a.Notify.Wait()
	return a.DB.Close()
}

// Verifier builds the token verifier from config: HS256 dev tokens when a
// JWT secret is set, and federated tokens when a JWKS URL is set.
func Verifier(ctx context.Context, cfg *config.Config) (identity.Verifier, error) {
	var chain identity.Chain
	if cfg.Auth.JWTSecret != "" {
		chain = append(chain, identity.HMACVerifier{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.Issuer})
	}
	if cfg.Auth.JWKSURL != "" {
		v, err := identity.NewJWKSVerifier(ctx, cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		chain = append(chain, v)
	}
	if len(chain) == 0 {
		return nil, errors.New("no identity verifier configured; set HUBTRACK_JWT_SECRET or auth.jwks_url")
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

// Handler builds the HTTP API for the app.
func (a *App) Handler(ctx context.Context, secureCookies bool) (http.Handler, error) {
	verifier, err := Verifier(ctx, a.Config)
	if err != nil {
		return nil, err
	}
	authCfg := server.AuthConfig{
		Verifier:  verifier,
		DevLogin:  a.Config.Auth.DevLogin,
		JWTSecret: a.Config.Auth.JWTSecret,
		Issuer:    a.Config.Auth.Issuer,
	}
	if a.Config.Auth.SessionSecret != "" {
		authCfg.Sessions = server.NewSessionStore(a.Config.Auth.SessionSecret, secureCookies)
	}
	if authCfg.DevLogin && authCfg.JWTSecret == "" {
		return nil, errors.New("auth.dev_login needs a JWT secret")
	}
	return server.New(server.Config{
		Engine:   a.Engine,
		BasePath: a.Config.Server.BasePath,
		Auth:     authCfg,
		Notify:   notify.Handler{Webhook: a.Webhook, Logger: a.Logger.Named("notify")},
		Logger:   a.Logger.Named("http"),
	})
}
