package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
)

// EventType 事件类型
type EventType string

const (
	EventStepStart       EventType = "step_start"
	EventThought         EventType = "thought"
	EventAction          EventType = "action"
	EventObservation     EventType = "observation"
	EventStepComplete    EventType = "step_complete"
	EventFinalResponse   EventType = "final_response"
	EventError           EventType = "error"
	EventDelegationStart EventType = "delegation_start"
	EventDelegationEnd   EventType = "delegation_end"
)

// DefaultSubscriberBuffer 每个订阅者的默认缓冲区大小
const DefaultSubscriberBuffer = 256

// Event is one entry of the engine's event stream. Every event names the agent
// whose invocation produced it.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id,omitempty"`
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Depth     int       `json:"depth"`
	Step      int       `json:"step,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Content     string                `json:"content,omitempty"`
	ToolID      string                `json:"tool_id,omitempty"`
	Arguments   map[string]any        `json:"arguments,omitempty"`
	Observation *types.ToolCallResult `json:"observation,omitempty"`

	// 委派与终止相关
	TargetAgentID string                  `json:"target_agent_id,omitempty"`
	Status        types.Status            `json:"status,omitempty"`
	Reason        types.TerminationReason `json:"termination_reason,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// EventFilter selects the events a subscriber receives. A nil filter accepts all.
type EventFilter func(Event) bool

// SessionFilter accepts events of one executor session.
func SessionFilter(sessionID string) EventFilter {
	return func(e Event) bool { return e.SessionID == sessionID }
}

// RunFilter accepts events of one run, delegated agents included.
func RunFilter(runID string) EventFilter {
	return func(e Event) bool { return e.RunID == runID }
}

// EventMetrics counts events dropped because a subscriber fell behind.
type EventMetrics interface {
	RecordEventDropped(eventType string)
}

// Subscription receives events on a buffered channel. The channel is closed
// by Unsubscribe or when the emitter closes.
type Subscription struct {
	id      uint64
	filter  EventFilter
	ch      chan Event
	dropped atomic.Uint64
}

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Emitter fans events out to subscribers without ever blocking the emitting loop.
// A subscriber whose buffer is full loses the event; others are unaffected.
type Emitter struct {
	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	seq     uint64
	buffer  int
	closed  bool
	metrics EventMetrics
	logger  *zap.Logger
}

// NewEmitter creates an emitter. buffer <= 0 uses DefaultSubscriberBuffer.
func NewEmitter(buffer int, metrics EventMetrics, logger *zap.Logger) *Emitter {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		subs:    make(map[uint64]*Subscription),
		buffer:  buffer,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "event_emitter")),
	}
}

// Subscribe registers a subscriber. Only events emitted afterwards are delivered.
func (e *Emitter) Subscribe(filter EventFilter) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	sub := &Subscription{id: e.nextID, filter: filter, ch: make(chan Event, e.buffer)}
	if e.closed {
		close(sub.ch)
		return sub
	}
	e.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (e *Emitter) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[sub.id]; ok {
		delete(e.subs, sub.id)
		close(sub.ch)
	}
}

// SubscriberCount 当前订阅者数量
func (e *Emitter) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Emit stamps ev with a sequence number and delivers it to every matching subscriber.
// Sequence numbers and per-subscriber delivery order agree because both happen
// under the same lock.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.seq++
	ev.Seq = e.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, sub := range e.subs {
		e.deliver(sub, ev)
	}
}

func (e *Emitter) deliver(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event filter panicked",
				zap.Uint64("subscription", sub.id),
				zap.Any("recover", r))
		}
	}()

	if sub.filter != nil && !sub.filter(ev) {
		return
	}
	select {
	case sub.ch <- ev:
	default:
		sub.dropped.Add(1)
		if e.metrics != nil {
			e.metrics.RecordEventDropped(string(ev.Type))
		}
		e.logger.Debug("subscriber buffer full, event dropped",
			zap.Uint64("subscription", sub.id),
			zap.String("event_type", string(ev.Type)),
			zap.String("run_id", ev.RunID))
	}
}

// Close closes every subscription. Later emits are ignored.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, sub := range e.subs {
		close(sub.ch)
		delete(e.subs, id)
	}
}
