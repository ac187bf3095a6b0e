// Package dispatch runs the worker-pool request loop: one goroutine per
// worker, each with its own handler instances and database context, so
// a handler can keep per-worker mutable state without synchronization —
// the same shape as the reference GameService's single select loop, run
// once per worker instead of once per process.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	timer "github.com/xiaonanln/goTimer"
	"golang.org/x/sync/errgroup"

	"github.com/riftkeep/gamecore/corelog"
	"github.com/riftkeep/gamecore/errs"
	"github.com/riftkeep/gamecore/handler"
	"github.com/riftkeep/gamecore/notify"
	"github.com/riftkeep/gamecore/opmon"
	"github.com/riftkeep/gamecore/txdb"
)

// slowRequestThreshold is the per-request duration opmon warns above,
// the same 100ms bar the reference GateServiceHandlePacket loop uses for
// its own dispatcher-packet operation.
const slowRequestThreshold = 100 * time.Millisecond

// Connection is what dispatch needs from a live client connection: the
// notify.Conn outbound capability plus its current authentication state.
// The transport packages' connection types implement this.
type Connection interface {
	notify.Conn
	AuthenticatedID() uint64
	SetAuthenticatedID(id uint64)
}

// Request is one framed request read off a connection, already split
// into its routing key and undecoded payload.
type Request struct {
	Conn     Connection
	Category uint8
	Method   uint8
	Payload  []byte
}

// Responder is how dispatch hands a computed response back to whatever
// read the request off the wire. handler.NoResponse means Write is never
// called for this request.
type Responder interface {
	Write(code handler.ResponseCode, payload []byte)
}

// ResponderFunc adapts a plain function to Responder.
type ResponderFunc func(code handler.ResponseCode, payload []byte)

func (f ResponderFunc) Write(code handler.ResponseCode, payload []byte) { f(code, payload) }

// job is a Request paired with where its result goes.
type job struct {
	req  Request
	resp Responder
}

const (
	rsRunning = iota
	rsTerminating
	rsTerminated
)

// Loop owns one request queue, handler instance set, and database
// context per worker.
type Loop struct {
	registry     *handler.Registry
	db           txdb.Pool
	notifyTable  *notify.Table
	tickInterval time.Duration
	// OnTick runs on every worker on every tick, after timer.Tick(). It
	// is where the spatial cache's periodic update pass is wired in by
	// the node that owns a Loop.
	OnTick func(worker int)
	// Monitor, if set, tracks per-(category,method) call counts and
	// durations and opens an otel span around every request. Nil skips
	// tracking entirely.
	Monitor *opmon.Monitor

	queues   []chan job
	runState xnsyncutil.AtomicInt
}

// Status reports the loop's current run state: rsRunning until Run's
// context is cancelled, rsTerminating while workers drain in flight
// work, rsTerminated once every worker has returned.
func (l *Loop) Status() int32 { return int32(l.runState.Load()) }

// NewLoop allocates a loop with one queue and one entry in db per worker.
// registry must already have every handler class Registered for
// len(db) workers.
func NewLoop(registry *handler.Registry, db txdb.Pool, notifyTable *notify.Table, tickInterval time.Duration) *Loop {
	queues := make([]chan job, len(db))
	for i := range queues {
		queues[i] = make(chan job, 256)
	}
	return &Loop{
		registry:     registry,
		db:           db,
		notifyTable:  notifyTable,
		tickInterval: tickInterval,
		queues:       queues,
	}
}

// Workers returns the worker count, i.e. len(db).
func (l *Loop) Workers() int { return len(l.db) }

// Submit enqueues req on worker's queue for asynchronous processing; resp
// is called exactly once, unless the handler responds with NoResponse, in
// which case it is never called. Submit blocks if that worker's queue is
// full, providing natural backpressure instead of an unbounded queue.
func (l *Loop) Submit(ctx context.Context, worker int, req Request, resp Responder) error {
	select {
	case l.queues[worker] <- job{req: req, resp: resp}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives every worker's loop until ctx is cancelled, then drains
// in-flight work and returns. Each worker runs in its own goroutine
// under an errgroup so a worker panic (recovered per job, see handle)
// never brings down its siblings mid-request.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for worker := 0; worker < l.Workers(); worker++ {
		worker := worker
		g.Go(func() error {
			return l.runWorker(ctx, worker)
		})
	}
	l.runState.Store(rsRunning)
	err := g.Wait()
	l.runState.Store(rsTerminated)
	return err
}

func (l *Loop) runWorker(ctx context.Context, worker int) error {
	corelog.Infof("dispatch: worker %d starting", worker)
	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.runState.Store(rsTerminating)
			corelog.Infof("dispatch: worker %d stopping", worker)
			return nil
		case j, ok := <-l.queues[worker]:
			if !ok {
				return nil
			}
			if err := l.handle(ctx, worker, j); err != nil {
				return err
			}
		case <-ticker.C:
			timer.Tick()
			if l.OnTick != nil {
				l.OnTick(worker)
			}
		}
	}
}

// handle runs dispatch steps 1-10 against one request. It returns a
// non-nil error only for the broker-down condition, which is fatal to
// the whole worker (and, via errgroup, the whole loop); every other
// failure is reported through the response-code channel and handle
// returns nil. A handler panic is caught here and reported as
// server_error so one bad request cannot take a whole worker offline.
func (l *Loop) handle(ctx context.Context, worker int, j job) (fatal error) {
	requestID := uuid.New()
	req := j.req

	var op *opmon.Operation
	if l.Monitor != nil {
		op, ctx = l.Monitor.StartOperation(ctx, fmt.Sprintf("dispatch.%d.%d", req.Category, req.Method), requestID.String())
	}

	defer func() {
		if op != nil {
			op.Finish(slowRequestThreshold)
		}
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && errors.Is(err, errs.ErrBrokerDown) {
				fatal = err
				return
			}
			corelog.Errorf("dispatch: request %s panicked on worker %d: %v", requestID, worker, r)
			j.resp.Write(handler.ServerError, nil)
		}
	}()

	// Steps 1-2: read category/method/payload (already framed by the
	// transport) and resolve the worker-local handler instance for the
	// connection's *current* authenticated id. The type key is derived
	// before this call and looked up against exactly one of the two
	// keyspaces, mirroring the reference on_request.
	authenticatedID := req.Conn.AuthenticatedID()
	h, code := l.registry.Resolve(authenticatedID, req.Category, req.Method, worker)
	if code != handler.Success {
		j.resp.Write(code, nil)
		return
	}

	// Step 3: deserialize. A short payload is invalid_parameters, not a
	// transport-level error.
	r := wireReaderFor(req.Payload)
	if err := h.Deserialize(r); err != nil {
		j.resp.Write(handler.InvalidParameters, nil)
		return
	}

	// Step 4: validate.
	if vcode := h.Validate(); vcode != 0 {
		j.resp.Write(handler.ResponseCode(vcode), nil)
		return
	}

	// Steps 5-7: transactional invocation with retry-on-conflict and
	// commit-failure downgrade to server_error.
	db := l.db[worker]
	if err := db.Begin(ctx); err != nil {
		corelog.Errorf("dispatch: request %s begin failed: %+v", requestID, err)
		j.resp.Write(handler.ServerError, nil)
		return
	}

	respCode, nextAuthenticatedID, err := h.Process(authenticatedID)
	if err != nil {
		_ = db.Rollback(ctx)
		if errors.Is(err, errs.ErrSyncConflict) || txdb.IsSyncConflict(err) {
			j.resp.Write(handler.RetryLater, nil)
			return
		}
		corelog.Errorf("dispatch: request %s process error: %+v", requestID, err)
		j.resp.Write(handler.ServerError, nil)
		return
	}

	committed := false
	if respCode == handler.Success {
		if err := db.Commit(ctx); err != nil {
			_ = db.Rollback(ctx)
			corelog.Errorf("dispatch: request %s commit failed: %+v", requestID, err)
			respCode = handler.ServerError
		} else {
			committed = true
		}
	} else {
		_ = db.Rollback(ctx)
	}

	// Step 8: write the response code, and the output fields on success.
	var payload []byte
	if respCode == handler.Success {
		w := wireWriter()
		if err := h.Serialize(w); err != nil {
			corelog.Errorf("dispatch: request %s serialize error: %+v", requestID, err)
			respCode = handler.ServerError
		} else {
			payload = w.Bytes()
		}
	}
	if respCode != handler.NoResponse {
		j.resp.Write(respCode, payload)
	}

	// Step 9: login/logout on an authenticated_id mutation.
	if nextAuthenticatedID != authenticatedID {
		if authenticatedID == 0 && nextAuthenticatedID != 0 {
			l.notifyTable.Login(nextAuthenticatedID, req.Conn)
		} else if authenticatedID != 0 && nextAuthenticatedID == 0 {
			if err := l.notifyTable.Logout(authenticatedID, req.Conn); err != nil {
				corelog.Errorf("dispatch: worker %d broker connection lost, tearing down: %+v", worker, err)
				panic(err)
			}
		}
		req.Conn.SetAuthenticatedID(nextAuthenticatedID)
	}

	// Step 10: drain the handler's outbox into the fan-out stage. The
	// outbox is always drained so a rolled-back request never leaks its
	// queued notifications into the handler instance's next invocation,
	// but they are only sent on to the fan-out stage after a commit that
	// actually succeeded.
	notifications := h.DrainNotifications()
	if !committed {
		return nil
	}
	for _, n := range notifications {
		frame := notificationFrame(n)
		l.notifyTable.Send(n.TargetAuthenticatedID, frame, req.Conn)
	}
	return nil
}
