package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is read once per collection cycle. *authcore.Engine satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditStats() authcore.AuditStats
}

// observation pushes one value read from a snapshot into an instrument.
type observation func(metric.Observer, authcore.MetricsSnapshot, authcore.AuditStats)

// OTelExporter publishes engine metrics as observable instruments.
type OTelExporter struct {
	source       Source
	observations []observation
	registration metric.Registration
}

func NewOTelExporter(meter metric.Meter, engine *authcore.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var instruments []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		instruments = append(instruments, ins)
		e.observations = append(e.observations, func(o metric.Observer, s authcore.MetricsSnapshot, _ authcore.AuditStats) {
			o.ObserveInt64(ins, int64(s.Counters[id]))
		})
	}

	for _, def := range internaldefs.HistogramDefs {
		obs, ins, err := histogramObservation(meter, def)
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, ins...)
		e.observations = append(e.observations, obs)
	}

	for _, def := range internaldefs.AuditDefs {
		value := def.Value
		var ins metric.Observable
		var observe func(metric.Observer, int64)
		if def.Gauge {
			g, err := meter.Int64ObservableGauge(def.Name, metric.WithDescription(def.Help))
			if err != nil {
				return nil, fmt.Errorf("create gauge %s: %w", def.Name, err)
			}
			ins = g
			observe = func(o metric.Observer, v int64) { o.ObserveInt64(g, v) }
		} else {
			c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
			if err != nil {
				return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
			}
			ins = c
			observe = func(o metric.Observer, v int64) { o.ObserveInt64(c, v) }
		}
		instruments = append(instruments, ins)
		e.observations = append(e.observations, func(o metric.Observer, _ authcore.MetricsSnapshot, a authcore.AuditStats) {
			observe(o, int64(value(a)))
		})
	}

	registration, err := meter.RegisterCallback(e.collect, instruments...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

// histogramObservation exposes each cumulative bucket as its own gauge,
// suffixed with the bound, plus a _count gauge.
func histogramObservation(meter metric.Meter, def internaldefs.HistogramDef) (observation, []metric.Observable, error) {
	var buckets [internaldefs.BucketCount]metric.Int64ObservableGauge
	instruments := make([]metric.Observable, 0, internaldefs.BucketCount+1)

	for i, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		g, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative bucket count of "+def.Name+"."))
		if err != nil {
			return nil, nil, fmt.Errorf("create bucket gauge %s: %w", name, err)
		}
		buckets[i] = g
		instruments = append(instruments, g)
	}

	count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Sample count of "+def.Name+"."))
	if err != nil {
		return nil, nil, fmt.Errorf("create count gauge %s_count: %w", def.Name, err)
	}
	instruments = append(instruments, count)

	id := def.ID
	obs := func(o metric.Observer, s authcore.MetricsSnapshot, _ authcore.AuditStats) {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(s.Histograms[id]))
		for i, g := range buckets {
			o.ObserveInt64(g, int64(cumulative[i]))
		}
		o.ObserveInt64(count, int64(cumulative[internaldefs.BucketCount-1]))
	}
	return obs, instruments, nil
}

func (e *OTelExporter) collect(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	stats := e.source.AuditStats()
	for _, observe := range e.observations {
		observe(o, snapshot, stats)
	}
	return nil
}

// Close unregisters the callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
