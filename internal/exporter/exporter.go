// Package exporter wires the per-target pollers, the snapshot cache, the
// scrape server, and the optional OTLP forwarder into one runnable unit.
//
// PrismFlow Exporter - Nutanix Prism Metrics for Prometheus
// Copyright (c) 2024-2026 PrismFlow. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
package exporter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/prismflow/nutanix-exporter/internal/cache"
	"github.com/prismflow/nutanix-exporter/internal/config"
	"github.com/prismflow/nutanix-exporter/internal/forward"
	"github.com/prismflow/nutanix-exporter/internal/poller"
	"github.com/prismflow/nutanix-exporter/internal/scrape"
	"github.com/prismflow/nutanix-exporter/internal/telemetry"
	"github.com/prismflow/nutanix-exporter/pkg/prism"
)

// Exporter is the top-level component. It owns one poller per usable
// target, the cache they write into, and the HTTP server that exposes the
// cache as a Prometheus exposition.
type Exporter struct {
	id       string
	hostname string
	config   *config.Config
	logger   *zap.Logger

	// Components
	cache     *cache.Cache
	registry  *prometheus.Registry
	metrics   *telemetry.Metrics
	server    *scrape.Server
	forwarder *forward.Forwarder
	pollers   []*poller.Poller

	// State
	mu      sync.RWMutex
	running bool
	started time.Time
}

// New builds an exporter from the configuration. Misconfigured targets are
// logged and excluded; it is an error only when no usable target remains.
func New(cfg *config.Config, logger *zap.Logger) (*Exporter, error) {
	id := uuid.New().String()
	hostname, _ := os.Hostname()

	e := &Exporter{
		id:       id,
		hostname: hostname,
		config:   cfg,
		logger:   logger,
	}

	e.cache = cache.New()
	e.registry = prometheus.NewRegistry()
	e.metrics = telemetry.New(e.registry)

	// Build one prism client + poller per usable target.
	var targets []string
	for _, t := range cfg.EnabledTargets() {
		if err := cfg.ValidateTarget(t); err != nil {
			logger.Error("Excluding misconfigured target",
				zap.String("target", t.Name),
				zap.Error(err),
			)
			continue
		}

		client := prism.NewClient(prism.ClientConfig{
			BaseURL:        t.URL,
			Username:       cfg.GetEffectiveUsername(t),
			Password:       cfg.GetEffectivePassword(t),
			Timeout:        cfg.Prism.Timeout,
			PageSize:       cfg.Prism.PageSize,
			MaxPages:       cfg.Prism.MaxPages,
			MaxAttempts:    cfg.Prism.Retry.MaxAttempts,
			InitialBackoff: cfg.Prism.Retry.InitialBackoff,
			MaxBackoff:     cfg.Prism.Retry.MaxBackoff,
			TLSSkipVerify:  cfg.Prism.TLSSkipVerify,
			Logger:         logger,
		})

		e.pollers = append(e.pollers, poller.New(poller.Config{
			Target:            t.Name,
			Client:            client,
			Cache:             e.cache,
			Metrics:           e.metrics,
			Interval:          cfg.GetEffectivePollInterval(t),
			DegradedThreshold: cfg.Poll.DegradedThreshold,
			ExtraLabels:       t.Labels,
			Fetch:             fetchOptions(t.GetEffectiveCollect()),
			Logger:            logger,
		}))
		targets = append(targets, t.Name)
	}

	if len(e.pollers) == 0 {
		return nil, fmt.Errorf("no usable targets: every configured target failed validation")
	}

	e.server = scrape.New(scrape.Config{
		ListenAddress:   cfg.Server.ListenAddress,
		MetricsPath:     cfg.Server.MetricsPath,
		ReadTimeout:     cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Cache:           e.cache,
		Targets:         targets,
		Registry:        e.registry,
		Health:          e.healthStatus,
		Logger:          logger,
	})

	if cfg.IsForwardEnabled() {
		compression := "none"
		if cfg.Forward.Compression {
			compression = "gzip"
		}
		e.forwarder = forward.New(forward.Config{
			Endpoint:      cfg.Forward.Endpoint,
			Protocol:      cfg.Forward.Protocol,
			Interval:      cfg.Forward.Interval,
			Timeout:       cfg.Forward.Timeout,
			Compression:   compression,
			TLSEnabled:    cfg.Forward.TLS.Enabled,
			TLSSkipVerify: cfg.Forward.TLS.SkipVerify,
			Headers:       cfg.Forward.Headers,
			InstanceID:    id,
			Hostname:      hostname,
			Cache:         e.cache,
			Metrics:       e.metrics,
			Logger:        logger,
		})
	}

	return e, nil
}

// ID returns the exporter instance ID.
func (e *Exporter) ID() string {
	return e.id
}

// Addr returns the bound scrape address once Run has started listening.
func (e *Exporter) Addr() string {
	return e.server.Addr()
}

// Run starts every component and blocks until the context is cancelled or
// a component fails.
func (e *Exporter) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("exporter is already running")
	}
	e.running = true
	e.started = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.logger.Info("Exporter starting",
		zap.String("id", e.id),
		zap.String("hostname", e.hostname),
		zap.Int("targets", len(e.pollers)),
		zap.String("listen_address", e.config.Server.ListenAddress),
	)

	// The forwarder initializes synchronously and does not dial until the
	// first flush, so a failure here means the config is unusable.
	if e.forwarder != nil {
		if err := e.forwarder.Start(ctx); err != nil {
			return fmt.Errorf("forwarder error: %w", err)
		}
	}

	errChan := make(chan error, 1+len(e.pollers))

	go func() {
		if err := e.server.Start(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("scrape server error: %w", err)
		}
	}()

	for _, p := range e.pollers {
		p := p // capture
		go func() {
			if err := p.Start(ctx); err != nil && err != context.Canceled {
				errChan <- fmt.Errorf("poller %s error: %w", p.Target(), err)
			}
		}()
	}

	e.logger.Info("Exporter started successfully")

	select {
	case <-ctx.Done():
		e.logger.Info("Exporter shutdown requested")
		return e.shutdown()
	case err := <-errChan:
		e.logger.Error("Component error, initiating shutdown", zap.Error(err))
		return err
	}
}

// shutdown gracefully stops all components.
func (e *Exporter) shutdown() error {
	e.logger.Info("Shutting down exporter components")

	var wg sync.WaitGroup
	var errs []error
	var errMu sync.Mutex

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.server.Stop(); err != nil {
			errMu.Lock()
			errs = append(errs, fmt.Errorf("scrape server stop: %w", err))
			errMu.Unlock()
		}
	}()

	if e.forwarder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.forwarder.Stop(context.Background()); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("forwarder stop: %w", err))
				errMu.Unlock()
			}
		}()
	}

	for _, p := range e.pollers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Stop(); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("poller %s stop: %w", p.Target(), err))
				errMu.Unlock()
			}
		}()
	}

	// Wait with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("All components stopped")
	case <-time.After(10 * time.Second):
		e.logger.Warn("Shutdown timeout, some components may not have stopped cleanly")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	e.mu.RLock()
	uptime := time.Since(e.started)
	e.mu.RUnlock()
	e.logger.Info("Exporter shutdown complete", zap.Duration("uptime", uptime))
	return nil
}

// IsRunning returns whether the exporter is running.
func (e *Exporter) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Uptime returns the exporter uptime.
func (e *Exporter) Uptime() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return 0
	}
	return time.Since(e.started)
}

// Stats returns exporter statistics.
func (e *Exporter) Stats() Stats {
	e.mu.RLock()
	running := e.running
	var uptime time.Duration
	if running {
		uptime = time.Since(e.started)
	}
	started := e.started
	e.mu.RUnlock()

	targets := make([]poller.Status, len(e.pollers))
	for i, p := range e.pollers {
		targets[i] = p.Status()
	}

	return Stats{
		ID:       e.id,
		Hostname: e.hostname,
		Running:  running,
		Started:  started,
		Uptime:   uptime,
		Targets:  targets,
		Cache:    e.cache.Stats(),
	}
}

// Stats contains exporter statistics.
type Stats struct {
	ID       string          `json:"id"`
	Hostname string          `json:"hostname"`
	Running  bool            `json:"running"`
	Started  time.Time       `json:"started"`
	Uptime   time.Duration   `json:"uptime"`
	Targets  []poller.Status `json:"targets"`
	Cache    cache.Stats     `json:"cache"`
}

// healthStatus renders the exporter state for the /healthz endpoint. The
// process is healthy as long as it runs; targets being down shows up in
// the message and details, not in the status code.
func (e *Exporter) healthStatus() scrape.HealthStatus {
	snapshot := e.cache.Snapshot()

	up := 0
	for _, entry := range snapshot {
		if entry.LastPollOK {
			up++
		}
	}

	degraded := 0
	fresh := 0
	now := time.Now()
	for _, p := range e.pollers {
		if p.Status().Degraded {
			degraded++
		}
		if entry, ok := snapshot[p.Target()]; ok && entry.Fresh(now, p.Interval()) {
			fresh++
		}
	}

	details := map[string]interface{}{
		"id":               e.id,
		"uptime":           e.Uptime().String(),
		"targets":          len(e.pollers),
		"targets_up":       up,
		"targets_fresh":    fresh,
		"targets_degraded": degraded,
		"cached_samples":   e.cache.Stats().Samples,
	}

	if info, err := host.Info(); err == nil {
		details["hostname"] = info.Hostname
		details["os"] = info.OS
		details["platform"] = info.Platform
		details["kernel_version"] = info.KernelVersion
	}

	return scrape.HealthStatus{
		Healthy:   e.IsRunning(),
		Message:   fmt.Sprintf("%d/%d targets up", up, len(e.pollers)),
		LastCheck: time.Now(),
		Details:   details,
	}
}

// fetchOptions maps the collect configuration onto the prism client's
// fetch selection.
func fetchOptions(cc config.CollectConfig) prism.FetchOptions {
	return prism.FetchOptions{
		VMs:        cc.VMs,
		Hosts:      cc.Hosts,
		Clusters:   cc.Clusters,
		Containers: cc.StorageContainers,
		Alerts:     cc.Alerts,
	}
}
