package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/camarigor/sentinel/internal/config"
	"github.com/camarigor/sentinel/internal/pricing"
	"github.com/camarigor/sentinel/internal/storage"
)

// Server is the read-only dashboard API. It serves whatever the probe runs
// have written; it never polls a rig or an observer itself.
type Server struct {
	cfg     *config.Config
	storage *storage.SQLiteStorage
	pricing *pricing.Service
	hub     *WebSocketHub
	logger  zerolog.Logger
	server  *http.Server
	done    chan struct{}
}

// NewServer creates a new API server. price may be nil when fiat conversion
// is disabled.
func NewServer(cfg *config.Config, store *storage.SQLiteStorage, price *pricing.Service, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		storage: store,
		pricing: price,
		hub:     NewWebSocketHub(logger),
		logger:  logger.With().Str("component", "api").Logger(),
		done:    make(chan struct{}),
	}
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	// Start WebSocket hub
	go s.hub.Run()

	// Push fresh fleet state to connected clients on an interval
	go s.refreshLoop()

	addr := s.cfg.Serve.Listen
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Stop stops the refresher, the WebSocket hub, and the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	close(s.done)
	s.hub.Stop()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Miners
		r.Get("/miners", s.handleGetMiners)
		r.Get("/miners/{host}", s.handleGetMiner)
		r.Get("/miners/{host}/history", s.handleGetMinerHistory)

		// P2Pool
		r.Get("/p2pool", s.handleGetP2Pool)
		r.Get("/p2pool/{address}", s.handleGetP2PoolStat)
		r.Get("/p2pool/{address}/history", s.handleGetP2PoolHistory)

		// Stats
		r.Get("/stats", s.handleGetStats)

		// Alerts
		r.Get("/alerts", s.handleGetAlerts)

		// Database management
		r.Get("/dbsize", s.handleGetDBSize)
		r.Post("/cleanup", s.handleCleanup)
	})

	// WebSocket
	r.Get("/ws", s.handleWebSocket)

	return r
}

// requestLog is chi's logging middleware rebuilt on the structured logger.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// refreshLoop broadcasts the fleet state to WebSocket clients on the
// configured interval.
func (s *Server) refreshLoop() {
	interval := s.cfg.Serve.Refresh
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			state, err := s.fleetState(context.Background())
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to build fleet state for broadcast")
				continue
			}
			s.hub.Broadcast(Message{
				Type: "fleet",
				Data: state,
			})
		}
	}
}

// GetHub returns the WebSocket hub for external access
func (s *Server) GetHub() *WebSocketHub {
	return s.hub
}
