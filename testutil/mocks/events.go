// =============================================================================
// 📣 EventRecorder - 事件接收端模拟实现
// =============================================================================
// 记录所有发出的事件，供断言使用
//
// 使用方法:
//
//	rec := mocks.NewEventRecorder()
//	f, _ := fleet.New(cfg, repo, evaluator, fleet.WithEventSink(rec))
//	assert.Equal(t, 1, rec.Count(events.KindTaskAssigned))
//
// =============================================================================
package mocks

import (
	"sync"

	"github.com/BaSui01/agentmesh/events"
)

// EventRecorder 并发安全的事件记录器
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Emit implements events.Sink.
func (r *EventRecorder) Emit(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// All returns a copy of every recorded event.
func (r *EventRecorder) All() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// OfKind returns recorded events of the given kind.
func (r *EventRecorder) OfKind(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (r *EventRecorder) Count(kind events.Kind) int {
	return len(r.OfKind(kind))
}

// Kinds returns the kinds in emission order.
func (r *EventRecorder) Kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Reset clears the recorder.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
