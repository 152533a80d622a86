// Package poller drives the periodic poll loop for one Prism target.
package poller

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/prismflow/nutanix-exporter/internal/cache"
	"github.com/prismflow/nutanix-exporter/internal/telemetry"
	"github.com/prismflow/nutanix-exporter/internal/translate"
	"github.com/prismflow/nutanix-exporter/pkg/prism"
)

// Fetcher retrieves one inventory snapshot from a Prism endpoint.
type Fetcher interface {
	FetchInventory(ctx context.Context, opts prism.FetchOptions) (*prism.Inventory, error)
}

// Config contains poller configuration for a single target.
type Config struct {
	// Target is the target name used as cache key and label value.
	Target string

	// Client fetches inventories from the target's Prism endpoint.
	Client Fetcher

	// Cache receives translated snapshots. The poller is the only writer
	// for its target.
	Cache *cache.Cache

	// Metrics receives poll instrumentation.
	Metrics *telemetry.Metrics

	// Interval is the poll period and also the deadline of each poll.
	Interval time.Duration

	// DegradedThreshold is the number of consecutive failures after which
	// the target is marked degraded.
	DegradedThreshold int

	// ExtraLabels are added to every sample of this target.
	ExtraLabels map[string]string

	// Fetch selects which entity kinds to collect.
	Fetch prism.FetchOptions

	Logger *zap.Logger
}

// Poller polls one target on a fixed interval and keeps its cache entry
// current. Poll failures never stop the loop; the target only recovers by
// polling again.
type Poller struct {
	config  Config
	cache   *cache.Cache
	metrics *telemetry.Metrics
	logger  *zap.Logger

	mu                  sync.RWMutex
	running             bool
	stopChan            chan struct{}
	degraded            bool
	consecutiveFailures int
	lastSuccess         time.Time
}

// New creates a poller for one target.
func New(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = 5
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.New(prometheus.NewRegistry())
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Poller{
		config:   cfg,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		stopChan: make(chan struct{}),
	}
}

// Target returns the target name.
func (p *Poller) Target() string {
	return p.config.Target
}

// Interval returns the poll interval.
func (p *Poller) Interval() time.Duration {
	return p.config.Interval
}

// Start runs the poll loop until the context is cancelled or Stop is
// called. The first poll is delayed by a random share of the interval so
// several pollers do not hit their endpoints in lockstep.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopChan = make(chan struct{})
	stop := p.stopChan
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.metrics.InitTarget(p.config.Target)
	p.logger.Info("Starting poller",
		zap.String("target", p.config.Target),
		zap.Duration("interval", p.config.Interval),
		zap.Int("degraded_threshold", p.config.DegradedThreshold),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	case <-time.After(rand.N(p.config.Interval)):
	}

	p.pollOnce(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// Stop ends the poll loop.
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}

	close(p.stopChan)
	p.running = false
	p.logger.Info("Poller stopped", zap.String("target", p.config.Target))
	return nil
}

// IsRunning returns whether the poll loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Status is a point-in-time view of the poller.
type Status struct {
	Target              string    `json:"target"`
	Running             bool      `json:"running"`
	Degraded            bool      `json:"degraded"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success"`
}

// Status returns the current poller state.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Status{
		Target:              p.config.Target,
		Running:             p.running,
		Degraded:            p.degraded,
		ConsecutiveFailures: p.consecutiveFailures,
		LastSuccess:         p.lastSuccess,
	}
}

// pollOnce runs a single poll cycle. Each cycle gets the poll interval as
// its deadline so a hung endpoint cannot back up the loop.
func (p *Poller) pollOnce(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, p.config.Interval)
	defer cancel()

	start := time.Now()
	inv, err := p.config.Client.FetchInventory(pollCtx, p.config.Fetch)
	duration := time.Since(start)
	p.metrics.ObservePoll(p.config.Target, duration, err)

	if err != nil {
		p.failed(err, duration)
		return
	}

	samples, stats := translate.Translate(inv, translate.Options{ExtraLabels: p.config.ExtraLabels})
	p.metrics.ObserveTranslation(p.config.Target, stats.JoinMisses, stats.Duplicates)
	p.cache.Put(p.config.Target, samples, time.Now())
	p.succeeded(len(samples), stats, duration)
}

func (p *Poller) failed(err error, duration time.Duration) {
	p.cache.Fail(p.config.Target, err, time.Now())

	p.mu.Lock()
	p.consecutiveFailures++
	failures := p.consecutiveFailures
	crossed := !p.degraded && failures >= p.config.DegradedThreshold
	if crossed {
		p.degraded = true
	}
	degraded := p.degraded
	p.mu.Unlock()

	p.metrics.SetConsecutiveFailures(p.config.Target, failures)

	if crossed {
		p.metrics.SetDegraded(p.config.Target, true)
		p.logger.Warn("Target degraded, serving stale snapshot",
			zap.String("target", p.config.Target),
			zap.Int("consecutive_failures", failures),
			zap.Error(err),
		)
		return
	}

	// Failures past the degradation point repeat every interval, so they
	// drop to debug to keep the log readable.
	log := p.logger.Warn
	if degraded {
		log = p.logger.Debug
	}
	log("Poll failed",
		zap.String("target", p.config.Target),
		zap.Int("consecutive_failures", failures),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
}

func (p *Poller) succeeded(samples int, stats translate.Stats, duration time.Duration) {
	p.mu.Lock()
	hadFailures := p.consecutiveFailures > 0
	wasDegraded := p.degraded
	p.consecutiveFailures = 0
	p.degraded = false
	p.lastSuccess = time.Now()
	p.mu.Unlock()

	p.metrics.SetConsecutiveFailures(p.config.Target, 0)
	if wasDegraded {
		p.metrics.SetDegraded(p.config.Target, false)
	}
	if hadFailures {
		p.logger.Info("Target recovered", zap.String("target", p.config.Target))
	}

	p.logger.Debug("Poll completed",
		zap.String("target", p.config.Target),
		zap.Int("samples", samples),
		zap.Int("join_misses", stats.JoinMisses),
		zap.Int("duplicates", stats.Duplicates),
		zap.Duration("duration", duration),
	)
}
