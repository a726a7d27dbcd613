package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"flatpaste/internal/storage"
)

// Config captures server configuration.
type Config struct {
	Store      storage.Store
	MaxBytes   int64
	TrustProxy bool
	BaseURL    string
	Logger     *slog.Logger
}

// Server wraps HTTP handling logic.
type Server struct {
	store      storage.Store
	router     chi.Router
	maxBytes   int64
	trustProxy bool
	baseURL    *url.URL
	logger     *slog.Logger
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1_048_576
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		var err error
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	srv := &Server{
		store:      cfg.Store,
		router:     chi.NewRouter(),
		maxBytes:   cfg.MaxBytes,
		trustProxy: cfg.TrustProxy,
		baseURL:    parsedBase,
		logger:     cfg.Logger,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestLogger(s.logger, s.trustProxy))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Post("/", s.handleCreate)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/{id:[A-Za-z0-9]+}", func(pr chi.Router) {
		pr.Get("/", s.handleRaw)
		pr.Head("/", s.handleRaw)
		pr.Get("/qr", s.handleQR)
	})
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.baseURL != nil && s.baseURL.Scheme == "https" {
		return true
	}
	if s.trustProxy {
		proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto"))
		if proto == "https" {
			return true
		}
	}
	return false
}

func (s *Server) canonicalURL(r *http.Request, id string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + id
		return u.String()
	}

	scheme := "http"
	if s.isSecureRequest(r) {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, host, id)
}
