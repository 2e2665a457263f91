package eventlog

import (
	"context"
	"errors"
	"time"

	"cellguard/internal/safety"
)

// ErrInvalidLimit is returned for non-positive list limits.
var ErrInvalidLimit = errors.New("eventlog: limit must be positive")

// Filter narrows a listing. Zero values mean no constraint.
type Filter struct {
	Since  time.Time
	Until  time.Time
	State  safety.State // matches the To state
	RuleID string
	Limit  int
}

// Store persists intervention events for audits and post-incident review.
type Store interface {
	Append(ctx context.Context, event safety.InterventionEvent) error
	List(ctx context.Context, filter Filter) ([]safety.InterventionEvent, error)
}
