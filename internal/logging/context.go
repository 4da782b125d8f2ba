package logging

import (
	"context"
	"time"
)

// DetachContext returns a context that keeps parent's values but is not
// cancelled with it.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout detaches from parent and applies its own
// deadline. Used for bookkeeping writes that must finish after a client
// has gone away.
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
