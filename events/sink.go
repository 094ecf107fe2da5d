package events

import (
	"go.uber.org/zap"
)

// Sink receives domain events. Emit is best-effort and must not block the
// caller on slow consumers.
type Sink interface {
	Emit(Event)
}

// Func adapts a function to Sink.
type Func func(Event)

// Emit calls f(e).
func (f Func) Emit(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Emit(Event) {}

// Nop returns a sink that discards everything.
func Nop() Sink { return nopSink{} }

// OrNop returns s, or a discarding sink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop()
	}
	return s
}

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiSink []Sink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging at debug level, or warn for failures.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("component", "events"))}
}

// Emit implements Sink.
func (s *LogSink) Emit(e Event) {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.TenantID != "" {
		fields = append(fields, zap.String("tenant_id", e.TenantID))
	}
	if e.AgentID != "" {
		fields = append(fields, zap.String("agent_id", e.AgentID))
	}
	if e.TaskID != "" {
		fields = append(fields, zap.String("task_id", e.TaskID))
	}
	if e.EnvelopeID != "" {
		fields = append(fields, zap.String("envelope_id", e.EnvelopeID))
	}
	if e.Circuit != "" {
		fields = append(fields, zap.String("circuit", e.Circuit))
	}
	if e.From != "" || e.To != "" {
		fields = append(fields, zap.String("from", e.From), zap.String("to", e.To))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if len(e.Data) > 0 {
		fields = append(fields, zap.Any("data", e.Data))
	}

	switch e.Kind {
	case KindTaskFailed, KindEnvelopeFailed, KindCircuitOpened, KindHealthCheckFailed:
		s.logger.Warn("domain event", fields...)
	default:
		s.logger.Debug("domain event", fields...)
	}
}
