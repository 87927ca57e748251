package errors

import (
	goerrors "errors"

	"github.com/tablevc/tablevc/pkg/types"
)

// ErrThreadTerminated is the cooperative-cancellation signal raised by a
// background diff-estimation worker when its token is cancelled. It is
// control flow, not a failure: callers drop the estimate and carry on.
var ErrThreadTerminated = goerrors.New("worker terminated by cancellation token")

// IsThreadTerminated reports whether err is the cancellation signal.
func IsThreadTerminated(err error) bool {
	return goerrors.Is(err, ErrThreadTerminated)
}

// PromisedValueNotReady signals that an object is known to the repository
// but its content has not been fetched yet (partial clone). It is the
// expected not-ready condition, distinguished from genuine corruption by
// the promised-object registry; callers respond by scheduling a batched
// fetch, never by failing.
type PromisedValueNotReady struct {
	ID types.OID
}

func (e *PromisedValueNotReady) Error() string {
	return "promised object " + e.ID.Hex() + " not fetched yet"
}

// AsPromisedValueNotReady extracts a PromisedValueNotReady from an error
// chain, or nil.
func AsPromisedValueNotReady(err error) *PromisedValueNotReady {
	var p *PromisedValueNotReady
	if goerrors.As(err, &p) {
		return p
	}
	return nil
}
