// Package api serves the formula, time-series and calculation endpoints over
// HTTP, plus the operational endpoints (/health, /metrics, /debug/*).
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"formulaflow/config"
	"formulaflow/internal/auth"
	"formulaflow/internal/metrics"
	"formulaflow/internal/store"
	"formulaflow/logger"
	"formulaflow/processor"
)

// Repository is what the handlers read from directly.
type Repository interface {
	store.FormulaRepository
	store.SeriesRepository
	store.CalculationRepository
	Stats() store.Stats
}

// Server hosts the HTTP API.
type Server struct {
	cfg     *config.Config
	address string
	log     *logger.Log
	repo    Repository
	proc    *processor.Processor
	issuer  *auth.Issuer
	hub     *Hub
	limiter *rate.Limiter
	now     func() time.Time

	metricStore     *metricStore
	metricHandler   metrics.MetricHandlerID
	logStore        *logStore
	resourceSampler *resourceSampler
	httpServer      *http.Server
}

// NewServer wires the API around an existing processor. The hub is
// registered as the processor's notifier.
func NewServer(cfg *config.Config, log *logger.Log, repo Repository, proc *processor.Processor, issuer *auth.Issuer) *Server {
	if log == nil {
		log = logger.GetLogger()
	}

	var limiter *rate.Limiter
	if rps := cfg.Server.RateLimit.RequestsPerSecond; rps > 0 {
		burst := cfg.Server.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	ms := newMetricStore(cfg.Debug.MetricsHistory)
	ls := newLogStore(cfg.Debug.LogHistory)
	log.AddHook(ls)

	hub := NewHub(log)
	proc.SetNotifier(hub)

	return &Server{
		cfg:             cfg,
		address:         normalizeAddress(cfg.Server.Address),
		log:             log,
		repo:            repo,
		proc:            proc,
		issuer:          issuer,
		hub:             hub,
		limiter:         limiter,
		now:             time.Now,
		metricStore:     ms,
		metricHandler:   metrics.RegisterMetricHandler(ms.handle),
		logStore:        ls,
		resourceSampler: newResourceSampler(cfg.Debug.MetricsHistory, cfg.Debug.ResourceInterval),
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.address
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer s.cleanup()

	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:         s.address,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.log.WithComponent("api").WithFields(logger.Fields{"address": s.address}).Info("starting HTTP API")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.hub.Close()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		s.log.WithComponent("api").Info("HTTP API stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.resourceSampler.stop()
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log), cors(s.cfg.Server.CORSOrigins), rateLimit(s.limiter))
	router.HandleMethodNotAllowed = false

	authed := requireAuth(s.issuer)

	router.POST("/oauth/token", s.issueToken)

	router.POST("/formula/v0.0.1", s.submitFormula)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		router.Handle(method, "/formula/v0.0.1", s.formulaMethodNotAllowed)
	}
	router.GET("/formulas", authed, s.listFormulas)
	router.GET("/formulas/:locationId", authed, s.getFormula)

	router.POST("/v1/formulas", s.submitFormulaLegacy)
	router.GET("/v1/formulas", authed, s.listFormulas)
	router.GET("/v1/formulas/:locationId", authed, s.getFormula)

	router.POST("/v1/time-series", authed, s.submitTimeSeries)
	router.GET("/v1/time-series", authed, s.queryTimeSeries)
	router.GET("/v1/time-series/:id", authed, s.getTimeSeries)

	router.POST("/v1/calculations", authed, s.executeCalculation)
	router.GET("/v1/calculations/events", authed, s.calculationEvents)
	router.GET("/v1/calculations/:id", authed, s.getCalculation)

	router.GET("/health", s.health)
	router.GET("/", s.index)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	debug := router.Group("/debug", authed)
	debug.GET("/logs", s.debugLogs)
	debug.GET("/metrics", s.debugMetrics)
	debug.GET("/resources", s.debugResources)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return router
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8000"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8000"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8000")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8000")
	}

	return addr
}
