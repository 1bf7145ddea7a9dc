package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypePositionsReconciled = "positions.reconciled"
	TypePoolsReconciled     = "pools.reconciled"
	TypeTokensReconciled    = "tokens.reconciled"
)

// Event announces a committed reconciliation.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Scope   string    `json:"scope"`
	Source  string    `json:"source,omitempty"`
	PoolID  string    `json:"pool_id,omitempty"`
	Updated int       `json:"updated"`
	Added   int       `json:"added"`
	Removed int       `json:"removed"`
	Stale   int       `json:"stale,omitempty"`
	At      time.Time `json:"at"`
}

// New stamps an event with a fresh id.
func New(typ, scope string, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: typ, Scope: scope, At: at.UTC()}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
