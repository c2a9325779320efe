// Package alerting fans structured pipeline events out to configured sinks.
// Dispatch is strictly best-effort: a failing or panicking sink never
// affects other sinks or the caller.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelguard/modelguard/pkg/logging"
)

// EventKind identifies the kind of alert event.
type EventKind string

const (
	EventBudgetSoftCap EventKind = "budget_soft_cap"
	EventBudgetHardCap EventKind = "budget_hard_cap"
	EventBreakerOpen   EventKind = "breaker_open"
	EventBreakerClosed EventKind = "breaker_closed"
	EventAgentAnomaly  EventKind = "agent_anomaly"
)

// Event is a transient alert event: constructed, dispatched and discarded.
// Only the capped recent history retains formatted copies for inspection.
type Event struct {
	ID        string                 `json:"id"`
	Kind      EventKind              `json:"kind"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink delivers an alert event to one destination.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
	Name() string
}

// Bus is the instrumentation bus every dispatched event is mirrored to,
// regardless of sink configuration.
type Bus interface {
	Emit(ctx context.Context, event string, payload map[string]interface{})
}

const historyCapacity = 50

// Dispatcher fans alert events out to zero or more sinks.
type Dispatcher struct {
	bus    Bus
	logger *logging.Logger

	mu      sync.Mutex
	sinks   []Sink
	history []Event // newest first, capped at historyCapacity
}

// NewDispatcher creates an alert dispatcher emitting on the given bus.
func NewDispatcher(bus Bus) *Dispatcher {
	return &Dispatcher{
		bus:    bus,
		logger: logging.GetLogger(),
	}
}

// AddSink registers an alert sink.
func (d *Dispatcher) AddSink(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
	d.logger.Info("Alert sink added", "sink", sink.Name())
}

// Notify dispatches an event of the given kind to every configured sink,
// appends it to the recent history and mirrors it on the instrumentation
// bus. It never returns an error; sink failures are logged and contained.
func (d *Dispatcher) Notify(ctx context.Context, kind EventKind, payload map[string]interface{}) {
	d.NotifyTenant(ctx, kind, payload, "")
}

// NotifyTenant is Notify with an explicit tenant identifier on the event.
func (d *Dispatcher) NotifyTenant(ctx context.Context, kind EventKind, payload map[string]interface{}, tenantID string) {
	event := Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Message:   formatMessage(kind, payload),
		Payload:   payload,
		TenantID:  tenantID,
		Timestamp: time.Now(),
	}

	d.mu.Lock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.appendHistory(event)
	d.mu.Unlock()

	for _, sink := range sinks {
		d.deliver(ctx, sink, event)
	}

	if d.bus != nil {
		d.bus.Emit(ctx, string(kind), payload)
	}
}

// Recent returns a copy of the alert history, newest first.
func (d *Dispatcher) Recent() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Event, len(d.history))
	copy(out, d.history)
	return out
}

// deliver runs one sink, containing both errors and panics.
func (d *Dispatcher) deliver(ctx context.Context, sink Sink, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Alert sink panicked",
				"sink", sink.Name(),
				"kind", string(event.Kind),
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()

	if err := sink.Deliver(ctx, event); err != nil {
		d.logger.Error("Alert sink delivery failed",
			"sink", sink.Name(),
			"kind", string(event.Kind),
			"error", err.Error(),
		)
	}
}

// appendHistory must be called with d.mu held.
func (d *Dispatcher) appendHistory(event Event) {
	d.history = append([]Event{event}, d.history...)
	if len(d.history) > historyCapacity {
		d.history = d.history[:historyCapacity]
	}
}

// formatMessage maps event kinds to human-readable messages. Unknown kinds
// format to a humanized version of the kind name.
func formatMessage(kind EventKind, payload map[string]interface{}) string {
	switch kind {
	case EventBudgetSoftCap:
		return fmt.Sprintf("Budget soft cap reached: $%v / $%v (%v)",
			payload["current"], payload["limit"], payload["scope"])
	case EventBudgetHardCap:
		return fmt.Sprintf("Budget hard cap reached: $%v / $%v (%v)",
			payload["current"], payload["limit"], payload["scope"])
	case EventBreakerOpen:
		return fmt.Sprintf("Circuit breaker opened: agent %v, model %v",
			payload["agent_type"], payload["model_id"])
	case EventBreakerClosed:
		return fmt.Sprintf("Circuit breaker closed: agent %v, model %v",
			payload["agent_type"], payload["model_id"])
	case EventAgentAnomaly:
		return fmt.Sprintf("Agent anomaly detected: %v", payload["description"])
	default:
		return humanize(string(kind))
	}
}

func humanize(kind string) string {
	words := strings.Split(kind, "_")
	if len(words) > 0 && len(words[0]) > 0 {
		words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	}
	return strings.Join(words, " ")
}
