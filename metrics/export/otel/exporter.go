// Package otel bridges the engine's internal counters into OpenTelemetry
// observable instruments. The engine keeps its lock-free counters on the
// hot path; this exporter reads snapshots from a collection callback, so
// auth operations never touch the OTel SDK.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/nebulock/authgate"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type counterDef struct {
	id   authgate.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{authgate.MetricLoginSuccess, "authgate_login_success_total", "Successful logins."},
	{authgate.MetricLoginFailure, "authgate_login_failure_total", "Failed logins."},
	{authgate.MetricLockout, "authgate_lockout_total", "Lockout activations and locked-login rejections."},
	{authgate.MetricRegisterSuccess, "authgate_register_success_total", "Successful registrations."},
	{authgate.MetricRegisterDuplicate, "authgate_register_duplicate_total", "Registrations rejected for duplicate identifiers."},
	{authgate.MetricRefreshRotated, "authgate_refresh_rotated_total", "Successful refresh rotations."},
	{authgate.MetricRefreshReuseDetected, "authgate_refresh_reuse_total", "Refresh reuse detections (full revocations)."},
	{authgate.MetricRefreshFailure, "authgate_refresh_failure_total", "Failed refresh attempts."},
	{authgate.MetricStaleCredential, "authgate_stale_credential_total", "Tokens rejected for credential version mismatch."},
	{authgate.MetricCacheHit, "authgate_cache_hit_total", "Verification cache hits."},
	{authgate.MetricCacheMiss, "authgate_cache_miss_total", "Verification cache misses."},
	{authgate.MetricVerifyRejected, "authgate_verify_rejected_total", "Access tokens rejected during verification."},
	{authgate.MetricSessionCreated, "authgate_session_created_total", "Sessions created."},
	{authgate.MetricSessionRevoked, "authgate_session_revoked_total", "Sessions revoked."},
	{authgate.MetricLogoutAll, "authgate_logout_all_total", "Logout-all operations."},
	{authgate.MetricPasswordChanged, "authgate_password_changed_total", "Password changes."},
	{authgate.MetricTokensInvalidated, "authgate_tokens_invalidated_total", "Forced global token invalidations."},
}

// latencyBucketSuffix matches the engine's verify-latency bucket bounds.
var latencyBucketSuffix = [8]string{"1ms", "2500us", "5ms", "10ms", "25ms", "50ms", "100ms", "inf"}

type metricsSource interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         authgate.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter registers observable instruments on a meter and feeds them from
// engine snapshots until Close.
type Exporter struct {
	source         metricsSource
	registration   metric.Registration
	counters       []observedCounter
	latencyBuckets [8]metric.Int64ObservableGauge
	latencyCount   metric.Int64ObservableGauge
	auditDropped   metric.Int64ObservableCounter
}

// NewExporter wires an engine's metrics into meter.
func NewExporter(meter metric.Meter, engine *authgate.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

// NewExporterFromSource is NewExporter for any snapshot source, mainly for
// tests.
func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(counterDefs)),
	}
	observables := make([]metric.Observable, 0, len(counterDefs)+len(latencyBucketSuffix)+2)

	for _, def := range counterDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.id, instrument: ins})
		observables = append(observables, ins)
	}

	for i, suffix := range latencyBucketSuffix {
		name := "authgate_verify_latency_bucket_le_" + suffix
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative verify latency bucket count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
		}
		e.latencyBuckets[i] = ins
		observables = append(observables, ins)
	}
	latencyCount, err := meter.Int64ObservableGauge("authgate_verify_latency_count",
		metric.WithDescription("Verify latency total sample count."))
	if err != nil {
		return nil, fmt.Errorf("create histogram count gauge: %w", err)
	}
	e.latencyCount = latencyCount
	observables = append(observables, latencyCount)

	auditDropped, err := meter.Int64ObservableCounter("authgate_audit_dropped_total",
		metric.WithDescription("Audit events dropped by dispatcher backpressure."))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := e.source.MetricsSnapshot()
		for _, c := range e.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}

		var cumulative int64
		for i := range e.latencyBuckets {
			var bucket uint64
			if i < len(snapshot.VerifyLatencyBuckets) {
				bucket = snapshot.VerifyLatencyBuckets[i]
			}
			cumulative += int64(bucket)
			observer.ObserveInt64(e.latencyBuckets[i], cumulative)
		}
		observer.ObserveInt64(e.latencyCount, cumulative)

		observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	e.registration = registration
	return e, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
