package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"github.com/vitos/crypto_rebalancer/internal/usecase"
	"go.uber.org/zap"
)

// Rebalancer is the part of RebalanceService the API drives.
type Rebalancer interface {
	Run(ctx context.Context) (usecase.CycleReport, error)
	Running() bool
	LastReport() (usecase.CycleReport, bool)
}

type Server struct {
	router     *chi.Mux
	server     *http.Server
	rebalancer Rebalancer
	journal    domain.RebalanceJournal
	analyzer   *usecase.CycleAnalyzer
	logger     *zap.Logger

	// runCtx outlives requests so a triggered cycle is not cut short when
	// the POST returns. Shutdown cancels it.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

func NewServer(
	port int,
	allowedOrigins []string,
	rebalancer Rebalancer,
	journal domain.RebalanceJournal,
	analyzer *usecase.CycleAnalyzer,
	logger *zap.Logger,
) *Server {
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:     chi.NewRouter(),
		rebalancer: rebalancer,
		journal:    journal,
		analyzer:   analyzer,
		logger:     logger,
		runCtx:     runCtx,
		cancelRun:  cancel,
	}
	s.middleware(allowedOrigins)
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) middleware(allowedOrigins []string) {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) routes() {
	s.router.Get("/status", s.handleStatus)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/rebalance", s.handleTriggerRebalance)

		r.Route("/cycles", func(r chi.Router) {
			r.Get("/", s.handleListCycles)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCycle)
				r.Get("/trades", s.handleCycleTrades)
				r.Get("/updates", s.handleCycleUpdates)
				r.Get("/summary", s.handleCycleSummary)
			})
		})
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelRun()
	return s.server.Shutdown(ctx)
}
