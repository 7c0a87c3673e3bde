package contxt

import (
	"context"
	"os"
	"time"
)

// NewContext returns a background context that expires after timeout.
func NewContext(timeout time.Duration) context.Context {
	return WithTimeout(context.Background(), timeout)
}

// WithTimeout bounds parent by timeout and releases the timer once the
// context is done, so callers need not hold on to a cancel func.
// CONTEXT_TEST disables the bound.
func WithTimeout(parent context.Context, timeout time.Duration) context.Context {
	if os.Getenv("CONTEXT_TEST") != "" {
		return parent
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ctx
}
