// Package server is the HTTP API: request validation, query execution over
// the memory index and the query pool, the grep and explain-type compound
// handlers, and the internal control endpoints used by the watcher and the
// MCP bridge.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/standardbeagle/uci/internal/analytics"
	"github.com/standardbeagle/uci/internal/config"
	"github.com/standardbeagle/uci/internal/ingest"
	"github.com/standardbeagle/uci/internal/memindex"
	"github.com/standardbeagle/uci/internal/mirror"
	"github.com/standardbeagle/uci/internal/querypool"
	"github.com/standardbeagle/uci/internal/search"
	"github.com/standardbeagle/uci/internal/store"
	"github.com/standardbeagle/uci/internal/zoekt"
)

// Server wires every component behind the HTTP surface.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	index   *memindex.Index
	pool    *querypool.Pool
	grep    *search.Grep
	ingest  *ingest.Service
	sink    *analytics.Sink
	engine  *zoekt.Driver
	mirror  *mirror.Maintainer
	watcher *WatcherControl
	log     zerolog.Logger

	router    chi.Router
	http      *http.Server
	startedAt time.Time
}

// New assembles the router. Start actually binds the listener.
func New(cfg *config.Config, st *store.Store, idx *memindex.Index, pool *querypool.Pool,
	grep *search.Grep, ing *ingest.Service, sink *analytics.Sink,
	engine *zoekt.Driver, mir *mirror.Maintainer, log zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		index:     idx,
		pool:      pool,
		grep:      grep,
		ingest:    ing,
		sink:      sink,
		engine:    engine,
		mirror:    mir,
		watcher:   NewWatcherControl(),
		log:       log.With().Str("component", "http").Logger(),
		startedAt: time.Now(),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	// Local tooling connects from arbitrary origins (editors, the bridge, the
	// setup UI); the service is loopback-scoped, so CORS stays open.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Get("/summary", s.handleSummary)

	r.Get("/find-type", s.handleFindType)
	r.Get("/find-member", s.handleFindMember)
	r.Get("/find-children", s.handleFindChildren)
	r.Get("/find-file", s.handleFindFile)
	r.Get("/browse-module", s.handleBrowseModule)
	r.Get("/list-modules", s.handleListModules)

	r.Get("/find-asset", s.handleFindAsset)
	r.Get("/browse-assets", s.handleBrowseAssets)
	r.Get("/list-asset-folders", s.handleListAssetFolders)
	r.Get("/asset-stats", s.handleAssetStats)

	r.Get("/grep", s.handleGrep)
	r.Get("/explain-type", s.handleExplainType)
	r.Post("/batch", s.handleBatch)
	r.Post("/refresh", s.handleRefresh)

	r.Route("/internal", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/mcp-tool-call", s.handleToolCall)
		r.Get("/mcp-tool-call", s.handleToolCallStats)
		r.Post("/stop-watcher", s.handleStopWatcher)
		r.Get("/watcher-flags", s.handleWatcherFlags)
	})

	s.router = r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves until Shutdown. The bind error is
// returned synchronously so startup can fail fast on a busy port.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Service.Host, s.cfg.Service.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.http = &http.Server{Handler: s.router}
	s.log.Info().Str("addr", addr).Msg("http server listening")
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("http server stopped")
		}
	}()
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// requestLogger emits one structured line per request, skipping /health to
// keep probe noise out of the logs.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(started)).
			Msg("request")
	})
}
