// Package scrape serves the Prometheus exposition and health endpoints.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/prismflow/nutanix-exporter/internal/cache"
	"github.com/prismflow/nutanix-exporter/internal/version"
)

// HealthStatus is the /healthz response body.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	LastCheck time.Time              `json:"lastCheck"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Config contains scrape server configuration.
type Config struct {
	// ListenAddress is the bind address, e.g. ":9408".
	ListenAddress string

	// MetricsPath is the exposition path, e.g. "/metrics".
	MetricsPath string

	// ReadTimeout bounds reading a scrape request.
	ReadTimeout time.Duration

	// ShutdownTimeout bounds the graceful drain on stop.
	ShutdownTimeout time.Duration

	// Cache provides the snapshots to serve.
	Cache *cache.Cache

	// Targets are the configured target names. Targets that never
	// completed a poll are reported as down.
	Targets []string

	// Registry receives the go/process collectors, the build info gauge,
	// and the cache collector. A private one is created when nil.
	Registry *prometheus.Registry

	// Health supplies the /healthz body. A minimal one is used when nil.
	Health func() HealthStatus

	Logger *zap.Logger
}

// Server exposes cached snapshots over HTTP. Scrapes are served entirely
// from the cache; an unreachable Prism endpoint can never block the
// exposition.
type Server struct {
	config    Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *Collector
	handler   http.Handler
	health    func() HealthStatus

	httpServer *http.Server

	mu   sync.Mutex
	addr string
}

// New creates the scrape server and registers the exposition collectors.
func New(cfg Config) *Server {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":9408"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Health == nil {
		cfg.Health = func() HealthStatus {
			return HealthStatus{Healthy: true, LastCheck: time.Now()}
		}
	}

	s := &Server{
		config:    cfg,
		logger:    cfg.Logger,
		registry:  cfg.Registry,
		collector: NewCollector(cfg.Cache, cfg.Targets),
		health:    cfg.Health,
	}

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nutanix_exporter_build_info",
		Help: "Build information of the exporter.",
	}, []string{"version", "revision", "goversion"})
	buildInfo.WithLabelValues(version.Version, version.GitCommit, runtime.Version()).Set(1)

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo,
		s.collector,
	)
	s.handler = promhttp.HandlerFor(s.registry, s.handlerOpts())

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.MetricsPath, s.handleMetrics)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleLanding)

	s.httpServer = &http.Server{
		Addr:        cfg.ListenAddress,
		Handler:     mux,
		ReadTimeout: cfg.ReadTimeout,
	}
	return s
}

// Handler returns the HTTP handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the bound listen address once the server started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listen address and serves until the context is
// cancelled. A bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	s.logger.Info("Scrape server listening",
		zap.String("address", ln.Addr().String()),
		zap.String("metrics_path", s.config.MetricsPath),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return fmt.Errorf("scrape server: %w", err)
	}
}

// Stop drains in-flight scrapes and closes the listener.
func (s *Server) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Stopping scrape server")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handlerOpts() promhttp.HandlerOpts {
	return promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(s.logger),
		ErrorHandling: promhttp.ContinueOnError,
	}
}

// handleMetrics serves the full exposition, or a filtered one when the
// request carries target or vm query parameters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	vm := r.URL.Query().Get("vm")
	if target == "" && vm == "" {
		s.handler.ServeHTTP(w, r)
		return
	}

	// Filtered scrapes get a throwaway registry holding only the cache
	// collector, so self and runtime series stay on the main exposition.
	reg := prometheus.NewRegistry()
	reg.MustRegister(s.collector.WithFilter(Filter{Target: target, VM: vm}))
	promhttp.HandlerFor(reg, s.handlerOpts()).ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("Failed to encode health response", zap.Error(err))
	}
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body>
<h1>%s</h1>
<p>%s</p>
<ul>
<li><a href="%s">%s</a></li>
<li><a href="/healthz">/healthz</a></li>
</ul>
</body>
</html>
`, version.ProductName, version.ProductName, version.OneLiner(), s.config.MetricsPath, s.config.MetricsPath)
}
