package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"campus-cms/config"
	"campus-cms/core/auth"
	"campus-cms/core/housekeeping"
	"campus-cms/core/rbac"
	"campus-cms/core/resource"
	"campus-cms/core/store"
	"campus-cms/core/uploads"
	"campus-cms/core/utils"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// attemptRetention bounds how long idle failure counters live in redis.
const attemptRetention = 24 * time.Hour

type Server struct {
	cfg        *config.AppConfig
	db         *sql.DB
	router     chi.Router
	httpServer *http.Server
	logger     *utils.Logger
	metrics    *Metrics

	accounts  store.AccountsStore
	audits    store.AuditStore
	sessions  *auth.SessionManager
	csrf      *auth.CSRFManager
	limiter   *auth.Limiter
	authn     *auth.Authenticator
	gate      *auth.Gate
	policy    *rbac.Policy
	catalogue *resource.Catalogue
	engine    *resource.Engine
	files     uploads.Storage
	janitor   *housekeeping.Janitor
	redis     redis.UniversalClient
}

func NewServer(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*Server, error) {
	return NewServerWithDeps(cfg, db, logger, ServerDeps{})
}

func NewServerWithDeps(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger, deps ServerDeps) (*Server, error) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cat := deps.Catalogue
	if cat == nil {
		var err error
		if cat, err = resource.DefaultCatalogue(); err != nil {
			return nil, fmt.Errorf("resource catalogue: %w", err)
		}
	}
	policy, err := rbac.NewPolicy(cat.Grants())
	if err != nil {
		return nil, fmt.Errorf("capability table: %w", err)
	}
	files := deps.Uploads
	if files == nil {
		local, err := uploads.NewLocalStorage(cfg.Uploads.Dir)
		if err != nil {
			return nil, fmt.Errorf("uploads dir: %w", err)
		}
		files = local
	}

	s := &Server{
		cfg:       cfg,
		db:        db,
		router:    chi.NewRouter(),
		logger:    logger,
		metrics:   NewMetrics(),
		accounts:  store.NewAccountsStore(db),
		audits:    store.NewAuditStore(db),
		policy:    policy,
		catalogue: cat,
		files:     files,
		redis:     deps.Redis,
	}

	backend := deps.AttemptBackend
	var purger housekeeping.Purger
	if backend == nil {
		switch cfg.Security.LimiterBackend {
		case "memory":
			mem := auth.NewMemoryBackend()
			backend, purger = mem, mem
		case "redis":
			if s.redis == nil {
				s.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			}
			backend = auth.NewRedisBackend(s.redis, attemptRetention)
		default:
			backend = store.NewAttemptsStore(db)
		}
	}

	csrfStore := store.NewCSRFStore(db)
	sessionStore := store.NewSessionsStore(db)
	s.csrf = auth.NewCSRFManager(csrfStore, cfg.Security.CSRFTokenTTL, now)
	s.sessions = auth.NewSessionManager(sessionStore, s.csrf, cfg.SessionTTL, now)
	s.limiter = auth.NewLimiter(backend, cfg.IdentifierKey, auth.LimiterOptions{
		Threshold: cfg.Security.MaxLoginAttempts,
		Window:    cfg.Security.LockoutWindow,
		FailOpen:  cfg.Security.LimiterFailOpen,
		Now:       now,
		Logger:    logger,
		Events:    s.metrics,
	})
	s.authn = auth.NewAuthenticator(s.accounts, s.sessions, s.csrf, s.limiter, s.audits, cfg.Pepper, logger, s.metrics)
	s.gate = auth.NewGate(s.sessions, policy)

	validator := uploads.NewValidator(cfg.Uploads.MaxBytes, cfg.Uploads.AllowedTypes)
	s.engine = resource.NewEngine(db, s.audits, files, validator, logger)
	s.engine.OnMutation(s.metrics.Mutation)

	var attempts store.AttemptStore
	if as, ok := backend.(store.AttemptStore); ok {
		attempts = as
	}
	s.janitor = housekeeping.New(housekeeping.Options{
		Schedule:   cfg.Housekeeping.Schedule,
		SessionTTL: cfg.SessionTTL,
		CSRFTTL:    cfg.Security.CSRFTokenTTL,
		Now:        now,
		OnRun:      s.metrics.HousekeepingRun,
	}, sessionStore, csrfStore, attempts, logger)
	if purger != nil {
		s.janitor.WithPurger(purger)
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Housekeeping exposes the janitor for a one-off pass from the CLI.
func (s *Server) Housekeeping() *housekeeping.Janitor {
	return s.janitor
}

func (s *Server) Start() error {
	if s.cfg.Housekeeping.Enabled {
		if err := s.janitor.Start(context.Background()); err != nil {
			return fmt.Errorf("housekeeping: %w", err)
		}
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	if s.logger != nil {
		s.logger.Printf("listening on %s", s.cfg.ListenAddr)
	}
	if s.cfg.TLSEnabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.janitor.Stop(ctx); err != nil && s.logger != nil {
		s.logger.Errorf("housekeeping stop: %v", err)
	}
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.redis != nil {
		if cerr := s.redis.Close(); cerr != nil && s.logger != nil {
			s.logger.Errorf("redis close: %v", cerr)
		}
	}
	return err
}
