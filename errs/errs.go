// Package errs defines sentinel errors shared across the wire, txdb,
// notify, spatial and dispatch packages so callers can branch with
// errors.Is instead of matching on response codes at every layer.
package errs

import "github.com/pkg/errors"

var (
	// ErrShortPayload is returned by the codec when a read runs past the
	// end of the payload buffer.
	ErrShortPayload = errors.New("payload ended before all parameters were read")

	// ErrSyncConflict is the distinguished synchronization-conflict
	// condition a database context raises from any operation, including
	// commit, to signal a serialization failure that the caller should
	// retry.
	ErrSyncConflict = errors.New("synchronization conflict")

	// ErrLockNotHeld is raised by the spatial cache when a caller invokes
	// an update-tick-only operation without holding the cache lock via
	// BeginUpdate.
	ErrLockNotHeld = errors.New("cache lock not held by calling goroutine")

	// ErrBrokerDown is raised by the notification table when the
	// connection registered under the node's own area id is removed.
	ErrBrokerDown = errors.New("broker connection lost")
)
