package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/database"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/maintenance"
	"github.com/bunbase/bunbase/internal/realtime"
	"github.com/bunbase/bunbase/internal/records"
	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/storage"
)

// Server wires every subsystem into one HTTP listener: schema registry,
// hook engine, rule engine, record CRUD, realtime broker, storage and
// auth services.
type Server struct {
	cfg         *config.Config
	db          *database.DB
	schema      *schema.Registry
	hooks       *hooks.Engine
	rules       *rules.Engine
	records     *records.Service
	auth        *auth.Service
	broker      *realtime.Broker
	storage     *storage.Service
	maintenance *maintenance.Service

	loginLimiter    *RateLimiter
	registerLimiter *RateLimiter
	bruteForce      *BruteForceProtector

	httpServer *http.Server
	router     *Router
}

// New assembles the server's subsystems against an already-migrated
// database and loaded schema registry. Storage is optional: a nil
// StorageConfig.Dir and unset S3 config leaves srv.storage without a backend
// (Enabled reports false), and requests that upload or download a file get
// 404.
func New(cfg *config.Config, db *database.DB, registry *schema.Registry) (*Server, error) {
	srv := &Server{cfg: cfg, db: db, schema: registry}

	srv.hooks = hooks.NewEngine()
	srv.records = records.NewService(db, registry, srv.hooks)

	srv.rules = rules.NewEngine()
	registry.SetOnChange(func(collection string) {
		col, ok := registry.GetCollection(collection)
		if !ok {
			return
		}
		if err := srv.rules.LoadCollection(col); err != nil {
			log.Warn().Err(err).Str("collection", collection).Msg("failed to reload rules")
		}
	})
	for _, col := range registry.ListCollections() {
		if err := srv.rules.LoadCollection(col); err != nil {
			log.Warn().Err(err).Str("collection", col.Name).Msg("failed to load rules")
		}
	}

	srv.auth = auth.NewService(db, srv.records, cfg.Auth)
	srv.records.SetPasswordHasher(srv.auth.Hasher())

	if cfg.Storage.Dir != "" || cfg.Storage.S3 != nil {
		backend, err := storage.NewBackend(context.Background(), cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("creating storage backend: %w", err)
		}
		srv.storage = storage.NewService(backend)
		srv.hooks.On(hooks.AfterDelete, "", srv.storage.HandleAfterDelete)
	} else {
		srv.storage = storage.NewService(nil)
	}

	if cfg.Realtime.Enabled {
		srv.broker = realtime.NewBroker(registry, srv.rules, cfg.Realtime)
		registry.SetSubscriptionChecker(srv.broker)
	}

	srv.maintenance = maintenance.NewService(db, registry, srv.storage, cfg.Maintain)

	srv.loginLimiter = NewRateLimiter(cfg.Auth.RateLimit.Login)
	srv.registerLimiter = NewRateLimiter(cfg.Auth.RateLimit.Register)
	srv.bruteForce = NewBruteForceProtector(cfg.Auth.RateLimit.Login.Max, cfg.Auth.RateLimit.Login.Window)

	srv.router = NewRouter(srv)
	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv, nil
}

func (s *Server) Start(ctx context.Context) error {
	log.Info().Str("addr", s.cfg.Server.Address).Msg("starting server")

	if err := s.auth.EnsureInitialAdmin(ctx); err != nil {
		return fmt.Errorf("ensuring initial admin: %w", err)
	}

	if s.broker != nil {
		s.broker.Start(ctx)
		log.Info().Msg("realtime broker started")
	}

	if err := s.maintenance.Start(); err != nil {
		return fmt.Errorf("starting maintenance jobs: %w", err)
	}

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	s.maintenance.Stop()

	if s.broker != nil {
		s.broker.Stop()
		log.Info().Msg("realtime broker stopped")
	}

	if s.loginLimiter != nil {
		s.loginLimiter.Stop()
	}
	if s.registerLimiter != nil {
		s.registerLimiter.Stop()
	}
	if s.bruteForce != nil {
		s.bruteForce.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) DB() *database.DB                  { return s.db }
func (s *Server) Schema() *schema.Registry          { return s.schema }
func (s *Server) Config() *config.Config            { return s.cfg }
func (s *Server) Broker() *realtime.Broker          { return s.broker }
func (s *Server) Rules() *rules.Engine              { return s.rules }
func (s *Server) Records() *records.Service         { return s.records }
func (s *Server) Auth() *auth.Service               { return s.auth }
func (s *Server) Storage() *storage.Service         { return s.storage }
func (s *Server) Maintenance() *maintenance.Service { return s.maintenance }
func (s *Server) LoginLimiter() *RateLimiter        { return s.loginLimiter }
func (s *Server) RegisterLimiter() *RateLimiter     { return s.registerLimiter }
func (s *Server) BruteForce() *BruteForceProtector  { return s.bruteForce }
