// internal/events/types.go
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event.
type EventType string

const (
	PoolUnlocked        EventType = "UNLOCKED"
	RandomnessRequested EventType = "RANDOMNESS_REQUESTED"
	RandomnessRevealed  EventType = "RANDOMNESS"
	WinnerSelected      EventType = "WINNER_SELECTED"
	PoolWon             EventType = "WIN"
)

// AllTypes lists every pool lifecycle event type.
var AllTypes = []EventType{PoolUnlocked, RandomnessRequested, RandomnessRevealed, WinnerSelected, PoolWon}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// PoolEvent сообщает о переходе пула в новое состояние.
type PoolEvent struct {
	ID          string    `json:"id"`
	EventType   EventType `json:"type"`
	PoolID      uint      `json:"pool_id"`
	PoolAddress string    `json:"pool_address"`
	Message     string    `json:"message"`
	// Link points to the transaction in an explorer, when known.
	Link      string    `json:"link,omitempty"`
	Winner    string    `json:"winner,omitempty"`
	TotalPot  uint64    `json:"total_pot,omitempty"`
	EventTime time.Time `json:"time"`
}

// NewPoolEvent fills the event id and time.
func NewPoolEvent(typ EventType, poolID uint, address, message string) PoolEvent {
	return PoolEvent{
		ID:          uuid.NewString(),
		EventType:   typ,
		PoolID:      poolID,
		PoolAddress: address,
		Message:     message,
		EventTime:   time.Now().UTC(),
	}
}

// Type returns the event type.
func (e PoolEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e PoolEvent) Timestamp() time.Time {
	return e.EventTime
}

// Publisher is the fire-and-forget side of the bus used by the orchestrator.
type Publisher interface {
	Publish(event Event) error
}
