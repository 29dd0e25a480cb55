// Package events carries domain events out of the request path: to
// websocket clients straight away and, when a broker is configured, to the
// worker over AMQP.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"millops/internal/websocket"
)

// Event types.
const (
	PurchasePosted = "purchase.posted"
	PurchasePaid   = "purchase.paid"
	InvoicePosted  = "invoice.posted"
	InvoicePaid    = "invoice.paid"
	StockLow       = "stock.low"
	TripCompleted  = "trip.completed"
	ScrapeFinished = "scrape.finished"
)

// Event is one domain event.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	RecordID   string          `json:"record_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// New builds an event with a fresh id. payload may be nil.
func New(typ, recordID string, payload any) (Event, error) {
	e := Event{ID: uuid.NewString(), Type: typ, RecordID: recordID, OccurredAt: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return e, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		e.Payload = raw
	}
	return e, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return errors.New("event has no payload")
	}
	return json.Unmarshal(e.Payload, v)
}

// FromJSON parses a wire event. Events without an id or type are rejected.
func FromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return e, err
	}
	if e.ID == "" || e.Type == "" {
		return e, errors.New("event is missing id or type")
	}
	return e, nil
}

// Payloads carried by the events above.

type StockLowPayload struct {
	ProductID    string  `json:"product_id"`
	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Qty          float64 `json:"qty"`
	ReorderPoint float64 `json:"reorder_point"`
}

type PaymentPayload struct {
	DocumentID string `json:"document_id"`
	PartyID    string `json:"party_id"`
	Amount     string `json:"amount"`
	Status     string `json:"status"`
}

type ScrapePayload struct {
	Source  string `json:"source"`
	Parsed  int    `json:"parsed"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// Publisher sends events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Broadcaster pushes every event to websocket clients and then hands it to
// the next publisher.
type Broadcaster struct {
	Hub  *websocket.Hub
	Next Publisher
}

func (b *Broadcaster) Publish(ctx context.Context, e Event) error {
	b.Hub.Broadcast(websocket.Event{Type: e.Type, ID: e.RecordID, Action: e.Type, Payload: e.Payload})
	if b.Next == nil {
		return nil
	}
	return b.Next.Publish(ctx, e)
}

func (b *Broadcaster) Close() error {
	if b.Next == nil {
		return nil
	}
	return b.Next.Close()
}

// Emit builds and publishes an event after the change it describes has been
// committed. Failures are logged, never returned: the change already
// happened.
func Emit(ctx context.Context, pub Publisher, log *zap.Logger, typ, recordID string, payload any) {
	if pub == nil {
		return
	}
	e, err := New(typ, recordID, payload)
	if err == nil {
		err = pub.Publish(ctx, e)
	}
	if err != nil && log != nil {
		log.Warn("publish event", zap.String("type", typ), zap.String("record_id", recordID), zap.Error(err))
	}
}
