// Package server assembles the HTTP server: routes, middleware chain, and
// TLS configuration.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"loopcast/internal/api"
	"loopcast/internal/serverutil"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr   string
	TLS    TLSConfig
	Logger *slog.Logger
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	tlsCertFile string
	tlsKeyFile  string
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("api handler is required")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.HandleFunc("/api/auth/signup", handler.Signup)
	mux.HandleFunc("/api/auth/login", handler.Login)
	mux.HandleFunc("/api/auth/session", handler.Session)
	mux.HandleFunc("/api/profile", handler.Profile)
	mux.HandleFunc("/api/plans", handler.Plans)
	mux.HandleFunc("/api/settings", handler.Settings)
	mux.HandleFunc("/api/media", handler.Media)
	mux.HandleFunc("/api/media/", handler.MediaByID)
	mux.HandleFunc("/api/streams", handler.Streams)
	mux.HandleFunc("/api/streams/", handler.StreamByID)
	mux.HandleFunc("/api/events", handler.EventsRelay)
	mux.HandleFunc("/api/admin/users", handler.AdminUsers)
	mux.HandleFunc("/api/admin/users/", handler.AdminUserByID)
	mux.HandleFunc("/api/admin/plans", handler.AdminPlans)
	mux.HandleFunc("/api/admin/streams", handler.AdminStreams)

	handlerChain := http.Handler(mux)
	handlerChain = securityHeadersMiddleware(handlerChain)
	handlerChain = loggingMiddleware(cfg.Logger, handlerChain)
	handlerChain = requestIDMiddleware(handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// The SSE relay holds its response open indefinitely, so the
		// server-wide write timeout stays unset.
		IdleTimeout: 60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}
	return srv, nil
}

// Run serves requests until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	return serverutil.Run(ctx, serverutil.Config{
		Server: s.httpServer,
		TLS: serverutil.TLSConfig{
			CertFile: s.tlsCertFile,
			KeyFile:  s.tlsKeyFile,
		},
	})
}
