package observers

import (
	"context"
	"log/slog"

	"github.com/transflow/transflow/pkg/logging"
	"github.com/transflow/transflow/pkg/metrics"
)

// LoggerObserver mirrors pipeline measurements into the debug log, one
// record per event, tags and fields flattened into attributes.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	return &LoggerObserver{log: logging.NewComponentLogger(log, "metrics")}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	attrs := make([]slog.Attr, 0, 3+len(ev.Tags)+len(ev.Fields))
	attrs = append(attrs,
		slog.String("name", ev.Name),
		slog.Time("time", ev.Time),
		slog.Float64("value", ev.Value))
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(context.Background(), slog.LevelDebug, "metrics", attrs...)
}

// MultiObserver fans one event out to every configured sink. Nil
// entries are tolerated so optional sinks can be passed unconditionally.
type MultiObserver struct {
	sinks []metrics.Observer
}

func NewMultiObserver(sinks ...metrics.Observer) *MultiObserver {
	return &MultiObserver{sinks: sinks}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.sinks {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}
