package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const EventPaymentPaid = "payment_paid"

var ErrMalformedPayload = errors.New("malformed webhook payload")

type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	ID       string      `json:"id"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Status   string      `json:"status"`
}

// Key identifies the delivery for deduplication. Events without a
// top-level id fall back to type and payment id.
func (e *Event) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Type + ":" + e.Data.ID
}

// AmountMinor returns the paid amount in minor units.
func (d EventData) AmountMinor() (int64, error) {
	if d.Amount == "" {
		return 0, fmt.Errorf("%w: missing amount", ErrMalformedPayload)
	}
	if n, err := d.Amount.Int64(); err == nil {
		return n, nil
	}
	f, err := d.Amount.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrMalformedPayload, d.Amount)
	}
	return int64(math.Round(f)), nil
}

// ParseEvent decodes strict JSON first. Bodies that only parse after
// swapping single quotes for double quotes are still accepted; the
// returned raw message is whichever form decoded.
func ParseEvent(body []byte) (*Event, json.RawMessage, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err == nil {
		return &ev, json.RawMessage(body), nil
	}

	ev = Event{}
	normalized := bytes.ReplaceAll(body, []byte("'"), []byte(`"`))
	if err := json.Unmarshal(normalized, &ev); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &ev, json.RawMessage(normalized), nil
}
