package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event types published by lab sessions
const (
	TypeSessionOpened   = "session.opened"
	TypeSessionClosed   = "session.closed"
	TypeTradeBooked     = "trade.booked"
	TypeQuotesRefreshed = "quotes.refreshed"
	TypeQuoteSet        = "quote.set"
	TypeQuoteRemoved    = "quote.removed"
	TypeBatchStarted    = "batch.started"
	TypeBatchStage      = "batch.stage"
	TypeBatchCompleted  = "batch.completed"
	TypeBatchHalted     = "batch.halted"
)

// Event is an observational record of something that happened in a lab session
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Owner     string          `json:"owner"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	At        time.Time       `json:"at"`
}

// New builds an event, encoding payload as JSON. An unencodable payload is dropped.
func New(eventType, sessionID, owner string, payload any, at time.Time) Event {
	e := Event{
		ID:        "EVT_" + uuid.New().String(),
		Type:      eventType,
		SessionID: sessionID,
		Owner:     owner,
		At:        at,
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			e.Payload = raw
		}
	}
	return e
}

// Record is the persisted form of an Event
type Record struct {
	gorm.Model `json:"-"`
	EventID    string    `gorm:"uniqueIndex" json:"event_id"`
	Type       string    `gorm:"index" json:"type"`
	SessionID  string    `gorm:"index" json:"session_id"`
	Owner      string    `json:"owner"`
	Payload    string    `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (Record) TableName() string {
	return "lab_events"
}

func recordFromEvent(e Event) *Record {
	return &Record{
		EventID:    e.ID,
		Type:       e.Type,
		SessionID:  e.SessionID,
		Owner:      e.Owner,
		Payload:    string(e.Payload),
		OccurredAt: e.At,
	}
}

// Event converts the record back to its event form
func (r Record) Event() Event {
	e := Event{
		ID:        r.EventID,
		Type:      r.Type,
		SessionID: r.SessionID,
		Owner:     r.Owner,
		At:        r.OccurredAt,
	}
	if r.Payload != "" {
		e.Payload = json.RawMessage(r.Payload)
	}
	return e
}
