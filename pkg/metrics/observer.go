// Package metrics carries pipeline timing and level measurements from
// the hot path to pluggable sinks. Recording must never block audio
// processing; sinks that can stall sit behind AsyncObserver.
package metrics

import "time"

// MetricsEvent is a single named measurement. Tags identify the session
// and capture stream; Fields hold sink-specific extras.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

// NoopObserver discards everything. It is the default when no sink is
// configured.
type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
