package app

import (
	"context"
	"net/http"

	"pollchat/pkg/api"
	"pollchat/pkg/auth"
)

type serverHandle struct {
	srv *http.Server
}

// startHTTP builds the handler, starts the HTTP server in a goroutine and
// returns a channel that will contain any server error.
func (a *App) startHTTP(_ context.Context) <-chan error {
	cfg := a.eff.Config

	router := api.New(cfg, a.ingest, a.query).Router()

	// build security config for auth middleware
	secCfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Security.CORS.AllowedOrigins...),
		RPS:            cfg.Security.RateLimit.RPS,
		Burst:          cfg.Security.RateLimit.Burst,
		SigningKeys:    map[string]struct{}{},
		AdminKeys:      map[string]struct{}{},
	}
	for _, k := range cfg.Security.APIKeys.Signing {
		secCfg.SigningKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Admin {
		secCfg.AdminKeys[k] = struct{}{}
	}

	wrapped := auth.Middleware(secCfg)(router)

	a.srv = serverHandle{srv: &http.Server{Addr: a.eff.Addr, Handler: wrapped}}

	errCh := make(chan error, 1)
	go func() {
		cert := cfg.Server.TLS.CertFile
		key := cfg.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.srv.ListenAndServe()
		}
	}()
	return errCh
}
