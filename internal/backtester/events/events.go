// Package events provides the event types the event-driven backtester's
// priority queue carries: market data, signals, orders, and fills. Trimmed
// from the teacher's broader event set — RiskEvent/KillSwitchEvent (no
// config surface once internal/sizing took over position sizing and
// risk.go's kill switch was dropped, see DESIGN.md) and BlockEvent/
// MempoolEvent (on-chain/MEV specific, out of scope) are gone.
package events

import (
	"time"

	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/shopspring/decimal"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeMarketData EventType = "market_data"
	EventTypeSignal     EventType = "signal"
	EventTypeOrder      EventType = "order"
	EventTypeFill       EventType = "fill"
)

// Event is the base interface for all events
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetPriority() int
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Priority  int       `json:"priority"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetPriority() int        { return e.Priority }

// MarketDataEvent represents a single bar arriving for a symbol.
type MarketDataEvent struct {
	BaseEvent
	Symbol string       `json:"symbol"`
	OHLCV  *types.OHLCV `json:"ohlcv,omitempty"`
}

// SignalEvent represents a trading signal
type SignalEvent struct {
	BaseEvent
	Signal *types.Signal `json:"signal"`
}

// OrderEvent represents an order submission
type OrderEvent struct {
	BaseEvent
	Order *types.Order `json:"order"`
}

// FillEvent represents an order fill
type FillEvent struct {
	BaseEvent
	OrderID    string          `json:"orderId"`
	Symbol     string          `json:"symbol"`
	Side       types.OrderSide `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Slippage   decimal.Decimal `json:"slippage"`
}

// EventQueue is a priority queue for events, ordered by timestamp then
// priority, so that within one bar, fills (priority 4) are only ever
// processed after the signals and orders (priorities 2-3) generated from
// that same bar's market data (priority 1).
type EventQueue struct {
	events []Event
}

// NewEventQueue creates a new event queue
func NewEventQueue() *EventQueue {
	return &EventQueue{
		events: make([]Event, 0, 10000),
	}
}

// Push adds an event to the queue
func (q *EventQueue) Push(e Event) {
	// Find insertion point (maintain sorted order by timestamp, then priority)
	i := len(q.events)
	for i > 0 {
		prev := q.events[i-1]
		if e.GetTimestamp().After(prev.GetTimestamp()) {
			break
		}
		if e.GetTimestamp().Equal(prev.GetTimestamp()) && e.GetPriority() >= prev.GetPriority() {
			break
		}
		i--
	}

	// Insert at position i
	q.events = append(q.events, nil)
	copy(q.events[i+1:], q.events[i:])
	q.events[i] = e
}

// Pop removes and returns the next event
func (q *EventQueue) Pop() Event {
	if len(q.events) == 0 {
		return nil
	}
	e := q.events[0]
	q.events = q.events[1:]
	return e
}

// Peek returns the next event without removing it
func (q *EventQueue) Peek() Event {
	if len(q.events) == 0 {
		return nil
	}
	return q.events[0]
}

// Len returns the number of events in the queue
func (q *EventQueue) Len() int {
	return len(q.events)
}

// Clear removes all events from the queue
func (q *EventQueue) Clear() {
	q.events = q.events[:0]
}
