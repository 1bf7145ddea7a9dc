package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"poolmirror/internal/query"
	"poolmirror/internal/reconcile"
	"poolmirror/internal/store"
)

// DefaultExchanges is reported by /exchanges while the store holds no pools.
var DefaultExchanges = []string{"tapp"}

// Protocols is the static list served by /protocols.
var Protocols = []string{"tapp"}

// Reconciler is the write surface behind the refresh routes.
type Reconciler interface {
	ReconcilePools(ctx context.Context, src string) (reconcile.Result, error)
	ReconcilePool(ctx context.Context, src, poolID string) (reconcile.Result, error)
	ReconcilePoolPositions(ctx context.Context, poolID string) (reconcile.Result, error)
	ReconcileTokens(ctx context.Context, src string) (reconcile.Result, error)
}

// PoolQuerier answers filtered pool listings.
type PoolQuerier interface {
	QueryPools(ctx context.Context, c query.Criteria) (query.Result, error)
}

type Config struct {
	Addr           string
	RequestTimeout time.Duration
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server exposes the mirror over HTTP.
type Server struct {
	cfg    Config
	reader store.Reader
	pools  PoolQuerier
	rec    Reconciler
	logger *zap.Logger
	router *gin.Engine
}

func NewServer(cfg Config, reader store.Reader, pools PoolQuerier, rec Reconciler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:    cfg,
		reader: reader,
		pools:  pools,
		rec:    rec,
		logger: logger.With(zap.String("component", "api")),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(s.logger), timeout(s.cfg.RequestTimeout))

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))

	router.GET("/exchanges", s.listExchanges)
	router.GET("/protocols", s.listProtocols)

	router.GET("/pools", s.listPools)
	router.GET("/pools/:id", s.getPool)
	router.GET("/pools/:id/positions", s.listPositions)
	router.POST("/pools/:dex/refresh", s.refreshPools)
	router.POST("/pools/:dex/:id/refresh", s.refreshPool)
	router.POST("/pools/:dex/:id/positions/refresh", s.refreshPositions)

	router.GET("/tokens", s.listTokens)
	router.POST("/tokens/:dex/refresh", s.refreshTokens)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
