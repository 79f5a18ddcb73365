package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustline/native/claims"
	"trustline/native/lending"
	"trustline/native/liquidation"
	"trustline/native/reputation"
)

// Server exposes the credit core engines over HTTP.
type Server struct {
	claims      *claims.Engine
	reputation  *reputation.Ledger
	lending     *lending.Engine
	liquidation *liquidation.Engine
	logger      *slog.Logger
	limiter     *RateLimiter
}

// Config wires the engines and ambient concerns into a server.
type Config struct {
	Claims      *claims.Engine
	Reputation  *reputation.Ledger
	Lending     *lending.Engine
	Liquidation *liquidation.Engine
	Logger      *slog.Logger
	RateLimiter *RateLimiter
}

// NewServer builds the gateway server.
func NewServer(cfg Config) *Server {
	return &Server{
		claims:      cfg.Claims,
		reputation:  cfg.Reputation,
		lending:     cfg.Lending,
		liquidation: cfg.Liquidation,
		logger:      cfg.Logger,
		limiter:     cfg.RateLimiter,
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/claims", func(cr chi.Router) {
		cr.Use(Observe(s.logger, "claims"))
		cr.Post("/", s.submitClaim)
		cr.Get("/{id}", s.getClaim)
		cr.Get("/{id}/challenge", s.getChallenge)
		cr.Post("/{id}/finalize", s.finalizeClaim)
		cr.Post("/{id}/challenge", s.challengeClaim)
		cr.Post("/{id}/resolve", s.resolveClaim)
		cr.Post("/{id}/resolve-timeout", s.resolveTimeout)
		cr.Post("/{id}/invalidate", s.invalidateClaim)
	})

	r.Route("/v1/reputation", func(rr chi.Router) {
		rr.Use(Observe(s.logger, "reputation"))
		rr.Get("/{subject}", s.getReputation)
		rr.Post("/{subject}/decay", s.applyDecay)
		rr.Post("/{subject}/slash", s.slash)
		rr.Post("/{subject}/restore", s.restore)
	})

	r.Route("/v1/pools", func(pr chi.Router) {
		pr.Use(Observe(s.logger, "lending"))
		pr.Post("/", s.createPool)
		pr.Get("/{poolType}", s.getPool)
		pr.Post("/{poolType}/active", s.setPoolActive)
		pr.Post("/{poolType}/deposit", s.depositLiquidity)
		pr.Post("/{poolType}/withdraw", s.withdrawLiquidity)
	})

	r.Route("/v1/loans", func(lr chi.Router) {
		lr.Use(Observe(s.logger, "lending"))
		lr.Post("/", s.borrow)
		lr.Get("/{id}", s.getLoan)
		lr.Post("/{id}/repay", s.repay)
	})

	r.Route("/v1/auctions", func(ar chi.Router) {
		ar.Use(Observe(s.logger, "liquidation"))
		ar.Post("/", s.startLiquidation)
		ar.Get("/{id}", s.getAuction)
		ar.Get("/{id}/discount", s.getDiscount)
		ar.Post("/{id}/execute", s.executeLiquidation)
		ar.Post("/{id}/cancel", s.cancelAuction)
	})

	return r
}
