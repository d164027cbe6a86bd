// Package followup keeps interview completions that never reached the portal
// so they can be retried or handled by hand.
package followup

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/proctor/internal/backend"
)

var ErrNotFound = errors.New("follow-up not found")

// Record is one failed completion.
type Record struct {
	ID         string             `json:"id"`
	AttemptID  string             `json:"attempt_id"`
	SessionID  string             `json:"session_id"`
	Completion backend.Completion `json:"completion"`
	LastError  string             `json:"last_error"`
	Attempts   int                `json:"attempts"`
	CreatedAt  time.Time          `json:"created_at"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
}

type ListOptions struct {
	IncludeResolved bool
	Limit           int
}

// Store persists failed completions.
type Store interface {
	// Save inserts a record, or bumps Attempts and LastError for an attempt
	// that already has an unresolved record.
	Save(ctx context.Context, record Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Resolve(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]Record, error)
	Close() error
}
