package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType distinguishes a contract creation from an archival in the
// ledger event stream (spec §4.6: "unknown archive events are no-ops").
type EventType string

const (
	EventCreated  EventType = "Created"
	EventArchived EventType = "Archived"
)

// Event is one ledger event the projection folder (C6) consumes.
type Event struct {
	Type       EventType
	TemplateID string
	ContractID string
	Payload    map[string]any
	Timestamp  time.Time
}

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
)

// EventStream subscribes to the ledger's event feed and auto-reconnects
// with exponential backoff, grounded on the teacher's internal/exchange
// ws.go WSFeed (same reconnect-with-backoff dispatch loop, swapped from
// book/price/trade/order events to ledger Created/Archived events).
type EventStream struct {
	url     string
	party   string
	offline bool

	connMu sync.Mutex
	conn   *websocket.Conn

	eventCh chan Event
	logger  *zap.Logger
}

// NewEventStream builds a ledger event subscription for one party.
// If offline, Run never connects and just blocks until ctx is done — the
// caller gets an event channel that simply never fires, matching the façade's
// offline-mode contract (spec §4.5).
func NewEventStream(url, party string, offline bool, logger *zap.Logger) *EventStream {
	return &EventStream{
		url:     url,
		party:   party,
		offline: offline,
		eventCh: make(chan Event, 256),
		logger:  logger.With(zap.String("component", "ledger_events")),
	}
}

// Events returns the read-only channel of ledger events.
func (s *EventStream) Events() <-chan Event { return s.eventCh }

// Run connects and maintains the event subscription, reconnecting with
// exponential backoff (1s doubling to 30s max) on every disconnect.
// Blocks until ctx is cancelled.
func (s *EventStream) Run(ctx context.Context) error {
	if s.offline {
		<-ctx.Done()
		return ctx.Err()
	}

	backoff := time.Second
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("ledger event stream disconnected, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (s *EventStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	sub := map[string]string{"party": s.party, "action": "subscribe"}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		var wire wireEvent
		if err := conn.ReadJSON(&wire); err != nil {
			return err
		}

		ev := Event{
			Type:       EventType(wire.Type),
			TemplateID: wire.TemplateID,
			ContractID: wire.ContractID,
			Payload:    wire.Payload,
			Timestamp:  time.Now(),
		}
		select {
		case s.eventCh <- ev:
		case <-ctx.Done():
			return ctx.Err()
		default:
			s.logger.Warn("ledger event channel full, dropping event",
				zap.String("contractId", ev.ContractID))
		}
	}
}

type wireEvent struct {
	Type       string         `json:"type"`
	TemplateID string         `json:"templateId"`
	ContractID string         `json:"contractId"`
	Payload    map[string]any `json:"payload"`
}

// Close closes the underlying connection, if any, unblocking the current
// read and letting Run's reconnect loop observe ctx cancellation instead.
func (s *EventStream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
