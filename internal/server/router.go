package server

import (
	"net/http"

	"github.com/bunbase/bunbase/internal/adminui"
	"github.com/bunbase/bunbase/internal/metrics"
	"github.com/bunbase/bunbase/internal/server/handlers"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(LoggingMiddleware)

	if r.server.cfg.Server.MaxBodySize > 0 {
		r.Use(MaxBodySizeMiddleware(r.server.cfg.Server.MaxBodySize))
	}

	if r.server.cfg.Server.CORS.Enabled {
		r.Use(CORSMiddleware(r.server.cfg.Server.CORS))
	}
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	devMode := r.server.cfg.Dev.Enabled
	srv := r.server

	if srv.cfg.AdminUI.Enabled {
		uiHandler := adminui.New(&srv.cfg.AdminUI)
		basePath := srv.cfg.AdminUI.Path
		r.mux.Handle("GET "+basePath+"/{path...}", http.StripPrefix(basePath, uiHandler))
		r.mux.Handle("GET "+basePath, http.RedirectHandler(basePath+"/", http.StatusMovedPermanently))
	}

	healthHandlers := handlers.NewHealthHandlers(srv.DB(), srv.Broker(), "0.1.0")
	r.mux.HandleFunc("GET /health", healthHandlers.Health)
	r.mux.HandleFunc("GET /health/live", healthHandlers.Liveness)
	r.mux.HandleFunc("GET /health/ready", healthHandlers.Readiness)
	r.mux.HandleFunc("GET /health/stats", healthHandlers.Stats)
	r.mux.Handle("GET /metrics", metrics.Handler())

	recordHandlers := handlers.NewRecordHandlers(srv.Records(), srv.Schema(), srv.Rules(), srv.Storage(), srv.Auth(), srv.RegisterLimiter(), devMode)
	gzipMinBytes := srv.cfg.Server.GzipMinBytes
	r.mux.Handle("GET /api/collections/{collection}/records", GzipMiddleware(gzipMinBytes)(http.HandlerFunc(recordHandlers.List)))
	r.mux.HandleFunc("POST /api/collections/{collection}/records", recordHandlers.Create)
	r.mux.Handle("GET /api/collections/{collection}/records/{id}", GzipMiddleware(gzipMinBytes)(http.HandlerFunc(recordHandlers.Get)))
	r.mux.HandleFunc("PATCH /api/collections/{collection}/records/{id}", recordHandlers.Update)
	r.mux.HandleFunc("DELETE /api/collections/{collection}/records/{id}", recordHandlers.Delete)

	fileHandlers := handlers.NewFileHandlers(srv.Storage(), srv.Records(), srv.Schema(), srv.Rules(), srv.Auth(), devMode)
	r.mux.HandleFunc("GET /api/files/{collection}/{id}/{filename}", fileHandlers.Get)

	if srv.Broker() != nil {
		realtimeHandlers := handlers.NewRealtimeHandlers(srv.Broker(), srv.Auth(), devMode)
		r.mux.HandleFunc("GET /api/realtime", realtimeHandlers.Connect)
		r.mux.HandleFunc("POST /api/realtime", realtimeHandlers.Subscribe)
	}

	authHandlers := handlers.NewAuthHandlers(srv.Auth(), srv.BruteForce(), devMode)
	r.mux.Handle("POST /admin/auth/login", srv.LoginLimiter().Middleware(http.HandlerFunc(authHandlers.Login)))
	r.mux.HandleFunc("GET /admin/auth/me", authHandlers.Me)
	r.mux.HandleFunc("POST /admin/auth/password", authHandlers.ChangePassword)

	collectionHandlers := handlers.NewCollectionHandlers(srv.Schema(), srv.Auth(), devMode)
	r.mux.HandleFunc("GET /admin/collections", collectionHandlers.List)
	r.mux.HandleFunc("POST /admin/collections", collectionHandlers.Create)
	r.mux.HandleFunc("GET /admin/collections/{name}", collectionHandlers.Get)
	r.mux.HandleFunc("PATCH /admin/collections/{name}", collectionHandlers.Update)
	r.mux.HandleFunc("DELETE /admin/collections/{name}", collectionHandlers.Delete)
	r.mux.HandleFunc("POST /admin/collections/{name}/fields", collectionHandlers.CreateField)
	r.mux.HandleFunc("PATCH /admin/collections/{name}/fields/{field}", collectionHandlers.UpdateField)
	r.mux.HandleFunc("DELETE /admin/collections/{name}/fields/{field}", collectionHandlers.DeleteField)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}
