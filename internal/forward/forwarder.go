// Package forward pushes cached snapshots to an OTLP metrics endpoint.
//
// PrismFlow Exporter - Nutanix Prism Metrics for Prometheus
// Copyright (c) 2024-2026 PrismFlow. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
package forward

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/prismflow/nutanix-exporter/internal/cache"
	"github.com/prismflow/nutanix-exporter/internal/telemetry"
	"github.com/prismflow/nutanix-exporter/internal/translate"
	"github.com/prismflow/nutanix-exporter/internal/version"
)

// Supported OTLP transport protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// Config contains forwarder configuration.
type Config struct {
	// Endpoint is the OTLP collector address as host:port.
	Endpoint string

	// Protocol selects the OTLP transport, "grpc" or "http".
	Protocol string

	// Interval is the flush period of the periodic reader.
	Interval time.Duration

	// Timeout bounds a single export.
	Timeout time.Duration

	// Compression is "gzip" or "none".
	Compression string

	// TLSEnabled dials the collector with TLS.
	TLSEnabled bool

	// TLSSkipVerify disables certificate verification.
	TLSSkipVerify bool

	// Headers are added to every export request.
	Headers map[string]string

	// InstanceID identifies this exporter instance in the OTel resource.
	InstanceID string

	// Hostname is reported in the OTel resource.
	Hostname string

	// Cache provides the snapshots to forward.
	Cache *cache.Cache

	// Metrics counts export outcomes. Optional.
	Metrics *telemetry.Metrics

	Logger *zap.Logger
}

// Forwarder periodically pushes the cached samples over OTLP. It reads
// the same cache the scrape server serves, so forwarding never causes
// extra Prism traffic.
type Forwarder struct {
	config  Config
	cache   *cache.Cache
	metrics *telemetry.Metrics
	logger  *zap.Logger

	mu            sync.RWMutex
	running       bool
	meterProvider *sdkmetric.MeterProvider
}

// New creates a forwarder. Start must be called to begin exporting.
func New(cfg Config) *Forwarder {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolGRPC
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Forwarder{
		config:  cfg,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Start initializes the OTLP pipeline. Exports run on the flush interval
// until Stop is called. Neither transport connects eagerly, so Start does
// not block on the collector being reachable.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("forwarder already running")
	}

	f.logger.Info("Starting OTLP forwarder",
		zap.String("endpoint", f.config.Endpoint),
		zap.String("protocol", f.config.Protocol),
		zap.Duration("interval", f.config.Interval),
	)

	res, err := f.createResource(ctx)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := f.createExporter(ctx)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}
	if f.metrics != nil {
		exporter = &countingExporter{Exporter: exporter, metrics: f.metrics}
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(f.config.Interval),
			),
		),
	)

	if err := f.registerInstruments(provider); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), f.config.Timeout)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
		return err
	}

	f.meterProvider = provider
	f.running = true

	f.logger.Info("OTLP forwarder started")
	return nil
}

// Stop flushes pending data and shuts the OTLP pipeline down.
func (f *Forwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	provider := f.meterProvider
	f.meterProvider = nil
	f.mu.Unlock()

	if provider == nil {
		return nil
	}

	f.logger.Info("Stopping OTLP forwarder")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := provider.Shutdown(shutdownCtx); err != nil {
		f.logger.Error("Failed to shutdown meter provider", zap.Error(err))
		return err
	}

	f.logger.Info("OTLP forwarder stopped")
	return nil
}

// IsRunning returns whether the forwarder is active.
func (f *Forwarder) IsRunning() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

// registerInstruments declares one observable gauge per translator family
// plus the per-target up gauge, all fed by a single callback that walks
// the cache.
func (f *Forwarder) registerInstruments(provider *sdkmetric.MeterProvider) error {
	meter := provider.Meter(
		"github.com/prismflow/nutanix-exporter",
		metric.WithInstrumentationVersion(version.Version),
	)

	families := translate.Catalog()
	gauges := make(map[string]metric.Float64ObservableGauge, len(families))
	observables := make([]metric.Observable, 0, len(families)+1)

	for _, fam := range families {
		g, err := meter.Float64ObservableGauge(fam.Name, metric.WithDescription(fam.Help))
		if err != nil {
			return fmt.Errorf("failed to create gauge %s: %w", fam.Name, err)
		}
		gauges[fam.Name] = g
		observables = append(observables, g)
	}

	up, err := meter.Float64ObservableGauge("nutanix_exporter_target_up",
		metric.WithDescription("Whether the most recent poll of the target succeeded (1) or not (0)."))
	if err != nil {
		return fmt.Errorf("failed to create gauge nutanix_exporter_target_up: %w", err)
	}
	observables = append(observables, up)

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for target, entry := range f.cache.Snapshot() {
			upValue := 0.0
			if entry.LastPollOK {
				upValue = 1.0
			}
			o.ObserveFloat64(up, upValue, metric.WithAttributes(attribute.String("target", target)))

			for _, s := range entry.Samples {
				g, ok := gauges[s.Name]
				if !ok {
					continue
				}
				attrs := make([]attribute.KeyValue, 0, len(s.Labels))
				for _, l := range s.Labels {
					attrs = append(attrs, attribute.String(l.Name, l.Value))
				}
				o.ObserveFloat64(g, s.Value, metric.WithAttributes(attrs...))
			}
		}
		return nil
	}, observables...)
	if err != nil {
		return fmt.Errorf("failed to register forward callback: %w", err)
	}
	return nil
}

// createExporter creates the protocol-specific OTLP metric exporter.
func (f *Forwarder) createExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	switch f.config.Protocol {
	case ProtocolGRPC:
		return f.createGRPCExporter(ctx)
	case ProtocolHTTP:
		return f.createHTTPExporter(ctx)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", f.config.Protocol)
	}
}

func (f *Forwarder) createGRPCExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(f.config.Endpoint),
		otlpmetricgrpc.WithTimeout(f.config.Timeout),
	}

	if f.config.TLSEnabled {
		opts = append(opts, otlpmetricgrpc.WithDialOption(
			grpc.WithTransportCredentials(credentials.NewTLS(newTLSConfig(f.config.TLSSkipVerify))),
		))
	} else {
		opts = append(opts, otlpmetricgrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}

	if len(f.config.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(f.config.Headers))
	}

	if f.config.Compression == "gzip" {
		opts = append(opts, otlpmetricgrpc.WithCompressor("gzip"))
	}

	return otlpmetricgrpc.New(ctx, opts...)
}

func (f *Forwarder) createHTTPExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(f.config.Endpoint),
		otlpmetrichttp.WithTimeout(f.config.Timeout),
	}

	if f.config.TLSEnabled {
		opts = append(opts, otlpmetrichttp.WithTLSClientConfig(newTLSConfig(f.config.TLSSkipVerify)))
	} else {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	if len(f.config.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(f.config.Headers))
	}

	if f.config.Compression == "gzip" {
		opts = append(opts, otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression))
	}

	return otlpmetrichttp.New(ctx, opts...)
}

// createResource builds the OTel resource describing this exporter
// instance.
func (f *Forwarder) createResource(ctx context.Context) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(version.ProductShortName),
		semconv.ServiceVersion(version.Version),
		semconv.ServiceInstanceID(f.config.InstanceID),
		semconv.HostName(f.config.Hostname),
	}

	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcess(),
	)
}

// newTLSConfig isolates the InsecureSkipVerify assignment so certificate
// verification can be disabled for lab collectors.
func newTLSConfig(skipVerify bool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: skipVerify, // #nosec G402
	}
}

// countingExporter wraps the OTLP exporter to count export outcomes.
type countingExporter struct {
	sdkmetric.Exporter
	metrics *telemetry.Metrics
}

func (e *countingExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	err := e.Exporter.Export(ctx, rm)
	e.metrics.ObserveForwardExport(err)
	return err
}
