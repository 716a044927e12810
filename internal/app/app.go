package app

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/joho/godotenv"

	"pollchat/internal/cleanup"
	"pollchat/pkg/banner"
	"pollchat/pkg/config"
	"pollchat/pkg/format"
	"pollchat/pkg/ingest"
	"pollchat/pkg/logger"
	"pollchat/pkg/moderation"
	"pollchat/pkg/query"
	"pollchat/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	ingest *ingest.Service
	query  *query.Service

	cleanupCancel context.CancelFunc
	srv           serverHandle
}

// New initializes resources that do not require a running context (store,
// moderation policy, services, runtime keys). Call Run to start the HTTP
// server and cleanup scheduler and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	cfg := eff.Config
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	// runtime keys
	runtimeCfg := &config.RuntimeConfig{SigningKeys: map[string]struct{}{}, AdminKeys: map[string]struct{}{}}
	for _, k := range cfg.Security.APIKeys.Signing {
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Admin {
		runtimeCfg.AdminKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	if cfg.Logging.AuditDir != "" {
		if err := logger.AttachAuditFileSink(cfg.Logging.AuditDir); err != nil {
			return nil, fmt.Errorf("failed to attach audit sink: %w", err)
		}
	}

	if err := store.Open(eff.DBPath, cfg.Server.CacheSize.Int64()); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	policy := moderation.NewPolicy(cfg.Moderation)
	logger.Info("moderation_policy_loaded", "policy", policy.Describe())
	limiter := moderation.NewLimiter(cfg.Chat.RateLimit, moderation.DefaultWindow)

	formatter := &format.Formatter{
		SiteHost: siteHost(cfg),
		Effects:  format.NewEffectTable(cfg.Chat.Effects),
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		ingest:    ingest.New(cfg.Chat, policy, limiter),
		query:     query.New(cfg.Chat, formatter),
	}
	return a, nil
}

// Run starts the cleanup scheduler and the HTTP server, and blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	cancel, err := cleanup.Start(ctx, a.eff.Config)
	if err != nil {
		return err
	}
	a.cleanupCancel = cancel

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	if a.cleanupCancel != nil {
		a.cleanupCancel()
	}
	if a.srv.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.srv.srv.Shutdown(sctx)
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
}

// Query exposes the read service, e.g. for embedding hosts that resolve
// profile and avatar URLs.
func (a *App) Query() *query.Service { return a.query }

// Ingest exposes the submission pipeline for host-side hooks.
func (a *App) Ingest() *ingest.Service { return a.ingest }

func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.eff, verStr)
}

// validateConfig fails fast on configs the server cannot run with.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.Addr == "" {
		return fmt.Errorf("no listen address configured")
	}
	if _, _, err := net.SplitHostPort(eff.Addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", eff.Addr, err)
	}
	if eff.DBPath == "" {
		return fmt.Errorf("no database path configured")
	}
	cfg := eff.Config
	if (cfg.Server.TLS.CertFile == "") != (cfg.Server.TLS.KeyFile == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	return nil
}

// siteHost derives the host used for same-site link detection from the
// first CORS origin.
func siteHost(cfg *config.Config) string {
	for _, o := range cfg.Security.CORS.AllowedOrigins {
		if o == "*" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return ""
}
