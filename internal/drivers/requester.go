package drivers

import (
	"context"
	"log"

	"cellguard/internal/rules"
	"cellguard/internal/safety"
)

// LogRequester is the advisory command channel for cells without a wired
// controller endpoint: it records what would have been requested.
type LogRequester struct {
	logger *log.Logger
}

// NewLogRequester constructs a logging requester.
func NewLogRequester(logger *log.Logger) *LogRequester {
	return &LogRequester{logger: logger}
}

// Request logs the advisory action.
func (r *LogRequester) Request(_ context.Context, action rules.Action, state safety.State) error {
	if r == nil || r.logger == nil {
		return nil
	}
	r.logger.Printf("action requested: action=%s state=%s", action.Label(), state)
	return nil
}
