package metrics

import "log/slog"

// SlogObserver writes every metrics event to the structured log.
type SlogObserver struct {
	logger *slog.Logger
}

func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) RecordEvent(ev MetricsEvent) {
	args := make([]any, 0, 2*(len(ev.Tags)+len(ev.Fields))+2)
	if ev.Value != 0 {
		args = append(args, "value", ev.Value)
	}
	for k, v := range ev.Tags {
		args = append(args, k, v)
	}
	for k, v := range ev.Fields {
		args = append(args, k, v)
	}
	o.logger.Debug("metric_"+ev.Name, args...)
}

// MultiObserver fans one event out to several observers.
type MultiObserver struct {
	observers []Observer
}

func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{observers: observers}
}

func (m *MultiObserver) RecordEvent(ev MetricsEvent) {
	for _, o := range m.observers {
		o.RecordEvent(ev)
	}
}
