package audit

import (
	"context"
)

// Logger records audit events. Implementations must treat the log as
// append-only.
type Logger interface {
	// Log records a single audit event.
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the logger.
	Close() error
}
