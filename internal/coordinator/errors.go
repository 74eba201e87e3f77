package coordinator

import (
	"errors"

	"github.com/GriffinCanCode/webviewrpc/internal/correlation"
	"github.com/GriffinCanCode/webviewrpc/internal/pool"
)

var (
	// ErrValidation rejects registrations with a bad source locator or script
	ErrValidation = errors.New("validation failed")
	// ErrNotFound reports an unknown registration, pool key or unbound context
	ErrNotFound = errors.New("not found")
	// ErrUnregistered settles what was pending when a registration went away
	ErrUnregistered = errors.New("unregistered")
	// ErrClosed is returned once the coordinator is closed
	ErrClosed = errors.New("coordinator closed")

	// ErrCapacity means no pooled context could be reused or created
	ErrCapacity = pool.ErrCapacity
	// ErrTimeout rejects requests that outlived the sync timeout
	ErrTimeout = correlation.ErrTimeout
)

// RemoteError carries a failure reported by the remote side as text
type RemoteError struct {
	Text string
}

func (e *RemoteError) Error() string {
	return e.Text
}

// IsRemote reports whether err was raised inside a context
func IsRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}
