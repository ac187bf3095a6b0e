// Package handler defines the Handler contract dispatch drives, the
// per-worker registry that resolves a (category, method, auth state)
// triple to a handler instance, and the outbox mix-in concrete handlers
// embed to queue notifications.
package handler

import (
	"reflect"

	"github.com/riftkeep/gamecore/notify"
	"github.com/riftkeep/gamecore/schema"
	"github.com/riftkeep/gamecore/validate"
	"github.com/riftkeep/gamecore/wire"
)

// ResponseCode is the reserved response-code space from the wire format,
// plus whatever domain codes a handler chooses above it.
type ResponseCode uint16

const (
	Success            ResponseCode = 0
	RetryLater         ResponseCode = 1
	ServerError        ResponseCode = 2
	InvalidRequestType ResponseCode = 3
	InvalidParameters  ResponseCode = 4
	NoResponse         ResponseCode = 5
	FirstDomainCode    ResponseCode = 6
)

// Handler is what dispatch drives for one (category, method) request.
// Implementations are typically an embedded Base plus a schema.Tree built
// once from the concrete type; calling Base.Init from the handler's
// factory is the standard way to get both at registration time.
type Handler interface {
	Deserialize(r *wire.Reader) error
	Validate() validate.Code
	// Process runs the handler's business logic against authenticatedID
	// (the connection's identity before this call) and returns the
	// response code plus the identity to use going forward — different
	// from authenticatedID only on login (0 -> id) or logout (id -> 0).
	// Process returns errs.ErrSyncConflict instead of a code when the
	// database context reports a serialization failure.
	Process(authenticatedID uint64) (code ResponseCode, nextAuthenticatedID uint64, err error)
	Serialize(w *wire.Writer) error
	// DrainNotifications returns and clears the handler's pending
	// notifications. Dispatch calls it after every processed request and
	// fans the result out only when the transaction committed.
	DrainNotifications() []notify.Notification
}

// Base is embedded by every concrete handler to get a notification
// outbox and the built parameter tree for free. Concrete handlers must
// call Base.Init once, typically from their factory function, before
// first use.
type Base struct {
	tree          *schema.Tree
	notifications []notify.Notification
}

// Init resolves and caches self's parameter tree. self must be a pointer
// to the struct embedding this Base.
func (b *Base) Init(self interface{}) error {
	t := reflect.TypeOf(self).Elem()
	tree, err := schema.Build(t)
	if err != nil {
		return err
	}
	b.tree = tree
	return nil
}

// Notify queues a notification for the fan-out stage to deliver after
// this request's transaction commits.
func (b *Base) Notify(target, notifType, objectID uint64) {
	b.notifications = append(b.notifications, notify.Notification{
		TargetAuthenticatedID: target,
		Type:                  notifType,
		ObjectID:              objectID,
	})
}

// DrainNotifications implements Handler.
func (b *Base) DrainNotifications() []notify.Notification {
	out := b.notifications
	b.notifications = nil
	return out
}

// Tree exposes the built parameter tree so Deserialize/Serialize
// implementations (or a shared helper) can drive codec.Serialize and
// codec.Deserialize without rebuilding it.
func (b *Base) Tree() *schema.Tree { return b.tree }

// Declaration is the static identity of a handler class, used as the
// registry key.
type Declaration struct {
	Category          uint8
	Method            uint8
	RequiredAuthLevel uint8 // 0 means callable while unauthenticated
}

// Key packs (category, method) into the u16 registry lookup key.
func (d Declaration) Key() uint16 { return uint16(d.Category)<<8 | uint16(d.Method) }

// Factory constructs and initializes one handler instance.
type Factory func() (Handler, error)

// Registry holds, per registry key, one handler instance per worker, so
// handlers may keep per-worker mutable state without synchronization.
// Two disjoint keyspaces exist for unauthenticated and authenticated
// requests.
type Registry struct {
	workers int

	unauthenticated map[uint16][]Handler
	authenticated   map[uint16][]Handler
	requiredLevel   map[uint16]uint8
}

// NewRegistry allocates a registry sized for the given worker count.
func NewRegistry(workers int) *Registry {
	return &Registry{
		workers:         workers,
		unauthenticated: map[uint16][]Handler{},
		authenticated:   map[uint16][]Handler{},
		requiredLevel:   map[uint16]uint8{},
	}
}

// Register builds one handler instance per worker from factory and files
// it under decl's key in the auth-appropriate keyspace.
func (r *Registry) Register(decl Declaration, factory Factory) error {
	key := decl.Key()
	instances := make([]Handler, r.workers)
	for i := 0; i < r.workers; i++ {
		h, err := factory()
		if err != nil {
			return err
		}
		instances[i] = h
	}
	r.requiredLevel[key] = decl.RequiredAuthLevel
	if decl.RequiredAuthLevel == 0 {
		r.unauthenticated[key] = instances
	} else {
		r.authenticated[key] = instances
	}
	return nil
}

// Resolve returns the worker-local handler instance for (category,
// method) given the connection's current authenticatedID, or
// InvalidRequestType if no handler is registered in the applicable
// keyspace. The returned code mirrors the reference HandlerCreator, which
// reports failure as a response code rather than a bare miss so future
// auth-level mismatches inside the registry can be distinguished without
// dispatch special-casing them.
func (r *Registry) Resolve(authenticatedID uint64, category, method uint8, worker int) (Handler, ResponseCode) {
	key := uint16(category)<<8 | uint16(method)

	table := r.unauthenticated
	if authenticatedID != 0 {
		table = r.authenticated
	}

	instances, ok := table[key]
	if !ok {
		return nil, InvalidRequestType
	}
	if worker < 0 || worker >= len(instances) {
		return nil, InvalidRequestType
	}
	return instances[worker], Success
}
