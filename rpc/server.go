package rpc

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crosslend/native/rewards"
	"crosslend/native/risk"
	"crosslend/storage"
)

const maxRequestBytes = 1 << 20 // 1 MiB

// Server exposes the read-side of both engines over HTTP plus an
// authenticated claim endpoint. Principal-affecting hooks stay host-only.
type Server struct {
	risk    *risk.Engine
	rewards *rewards.Engine
	store   *storage.Store
	log     *slog.Logger

	authToken string
	limits    *clientLimiter
	clock     *rewards.BlockCounter

	http *http.Server
}

// Config carries the server knobs a deployment sets.
type Config struct {
	ListenAddress     string
	AuthToken         string
	RequestsPerMinute float64
	Burst             int
}

// NewServer wires the query surface over constructed engines.
func NewServer(cfg Config, riskEngine *risk.Engine, rewardEngine *rewards.Engine, store *storage.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		risk:      riskEngine,
		rewards:   rewardEngine,
		store:     store,
		log:       logger,
		authToken: cfg.AuthToken,
		limits:    newClientLimiter(cfg.RequestsPerMinute, cfg.Burst),
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID, s.rateLimit, s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/markets", s.handleListMarkets)
		r.Get("/markets/{market}", s.handleGetMarket)
		r.Get("/liquidity/{account}", s.handleLiquidity)
		r.Get("/liquidity/{account}/hypothetical", s.handleHypothetical)
		r.Get("/rewards/{account}", s.handleRewards)
		r.With(s.requireAuth).Post("/rewards/claim", s.handleClaim)
		r.With(s.requireAuth).Post("/chain/height", s.handleSetHeight)
	})
	return r
}

// SetBlockClock attaches the counter behind a block-based reward clock so the
// host can advance it over /v1/chain/height. Leave unset for wall-clock
// deployments.
func (s *Server) SetBlockClock(clock *rewards.BlockCounter) { s.clock = clock }

// Handler returns the assembled router, used by tests and embedding hosts.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("rpc server listening", "component", "rpc", "address", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
