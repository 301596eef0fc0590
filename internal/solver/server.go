package solver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autologin/internal/logging"
	"autologin/internal/proxy"
)

// ServerConfig configures the solving service's HTTP surface.
type ServerConfig struct {
	Addr         string
	Debug        bool
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the service defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the challenge-solving HTTP service: submit on /turnstile, poll
// on /result. Both endpoints are safe under heavy concurrent use; all task
// bookkeeping goes through the Store.
type Server struct {
	cfg     ServerConfig
	engine  *gin.Engine
	httpSrv *http.Server
	store   *Store
	pool    *Pool
	proxies *proxy.Pool
	metrics *Metrics
	logger  logging.Logger
}

// NewServer wires the routes. proxies supplies the default egress binding
// for submissions that do not carry an explicit proxy parameter.
func NewServer(cfg ServerConfig, store *Store, pool *Pool, proxies *proxy.Pool, metrics *Metrics, registry *prometheus.Registry, logger logging.Logger) *Server {
	logger = logging.OrNop(logger)
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		cfg:     cfg,
		engine:  engine,
		store:   store,
		pool:    pool,
		proxies: proxies,
		metrics: metrics,
		logger:  logger,
	}

	engine.GET("/turnstile", s.handleSubmit)
	engine.GET("/result", s.handleResult)
	engine.GET("/healthz", s.handleHealth)
	if registry != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully and drains
// the worker pool.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("solver listening on %s", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.httpSrv.Shutdown(shutdownCtx)
	s.pool.Close()
	s.logger.Info("solver stopped")
	return err
}

func (s *Server) handleSubmit(c *gin.Context) {
	target := c.Query("url")
	siteKey := c.Query("sitekey")
	if target == "" || siteKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "'url' and 'sitekey' parameters are required",
		})
		return
	}

	proxyAddr := c.Query("proxy")
	if proxyAddr == "" && s.proxies != nil {
		proxyAddr = s.proxies.Next()
	}

	task, err := s.store.Create(target, siteKey, proxyAddr)
	if errors.Is(err, ErrAtCapacity) {
		if s.metrics != nil {
			s.metrics.Rejected.Inc()
		}
		c.JSON(http.StatusTooManyRequests, gin.H{
			"status": "error",
			"error":  "server at maximum capacity, please try again later",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}

	s.pool.Dispatch(task)
	if s.metrics != nil {
		s.metrics.Submitted.Inc()
	}
	s.logger.Info("task %s accepted target=%s proxy=%s", task.ID, target, proxyAddr)
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": "accepted"})
}

func (s *Server) handleResult(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "missing 'id' parameter"})
		return
	}

	task, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "unknown or expired task id"})
		return
	}

	switch task.State {
	case StatePending:
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
	case StateSolved:
		c.JSON(http.StatusOK, gin.H{
			"status":  "solved",
			"token":   task.Token,
			"elapsed": task.Elapsed().Seconds(),
		})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "failed", "reason": task.Reason})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "live_tasks": s.store.LiveCount()})
}
