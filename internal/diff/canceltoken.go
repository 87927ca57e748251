package diff

import "sync/atomic"

// CancelToken is a cooperative cancellation flag for background
// estimation workers. Each estimation call gets its own token, so
// concurrent estimations cancel independently. There is no hard kill:
// the worker polls between per-dataset steps and raises the
// thread-terminated signal when the flag is set.
type CancelToken struct {
	flag atomic.Bool
}

// NewCancelToken returns a fresh, uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel requests the worker stop at its next poll.
func (t *CancelToken) Cancel() {
	if t != nil {
		t.flag.Store(true)
	}
}

// Cancelled reports whether cancellation was requested.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.flag.Load()
}
