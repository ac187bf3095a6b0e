// Package ws is the WebSocket listener: each binary message is exactly
// one frame, length prefix included, in the same bytes the TCP listener
// reads; the prefix is skipped rather than checked since the websocket
// framing already delimits messages. The frame body is decoded and
// handed to the same dispatch.Loop the TCP listener feeds.
package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/riftkeep/gamecore/corelog"
	"github.com/riftkeep/gamecore/dispatch"
	"github.com/riftkeep/gamecore/handler"
	"github.com/riftkeep/gamecore/notify"
	"github.com/riftkeep/gamecore/transport"
)

// lengthPrefixSize is the 4 bytes every frame carries even though a
// WebSocket message is already self-delimiting — kept so both listeners
// speak byte-for-byte the same framer and a captured frame can be
// replayed against either one.
const lengthPrefixSize = 4

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is one accepted WebSocket client connection.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	auth uint64

	closed chan struct{}
}

// AuthenticatedID implements dispatch.Connection.
func (c *Conn) AuthenticatedID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

// SetAuthenticatedID implements dispatch.Connection.
func (c *Conn) SetAuthenticatedID(id uint64) {
	c.mu.Lock()
	c.auth = id
	c.mu.Unlock()
}

// Enqueue implements notify.Conn. Gorilla connections require writes to
// be serialized by the caller; Enqueue takes a mutex rather than
// spawning a per-connection writer goroutine since WebSocket messages
// are already whole frames with no separate flush step.
func (c *Conn) Enqueue(frame []byte) error {
	select {
	case <-c.closed:
		return errors.New("ws: connection closed")
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *Conn) close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
		c.ws.Close()
	}
}

// Server upgrades incoming HTTP connections to WebSocket and feeds their
// frames to a dispatch.Loop, round-robining new connections across its
// workers.
type Server struct {
	Loop        *dispatch.Loop
	NotifyTable *notify.Table

	nextWorker   int
	nextWorkerMu sync.Mutex
}

func (s *Server) assignWorker() int {
	s.nextWorkerMu.Lock()
	defer s.nextWorkerMu.Unlock()
	w := s.nextWorker
	s.nextWorker = (s.nextWorker + 1) % s.Loop.Workers()
	return w
}

// ServeHTTP implements http.Handler; mount it at the node's WebSocket
// endpoint path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		corelog.Errorf("ws: upgrade failed: %+v", err)
		return
	}
	corelog.Infof("ws: connection from %s", r.RemoteAddr)

	conn := &Conn{ws: ws, closed: make(chan struct{})}
	worker := s.assignWorker()
	ctx := r.Context()
	defer conn.close()

	for {
		msgType, body, err := ws.ReadMessage()
		if err != nil {
			if authID := conn.AuthenticatedID(); authID != 0 {
				_ = s.NotifyTable.Logout(authID, conn)
			}
			return
		}
		if msgType != websocket.BinaryMessage || len(body) < lengthPrefixSize {
			continue
		}

		category, method, payload, err := transport.Decode(body[lengthPrefixSize:])
		if err != nil {
			corelog.Errorf("ws: decode failed: %+v", err)
			continue
		}

		req := dispatch.Request{Conn: conn, Category: category, Method: method, Payload: payload}
		resp := dispatch.ResponderFunc(func(code handler.ResponseCode, payload []byte) {
			if err := conn.Enqueue(transport.EncodeResponse(uint16(code), payload)); err != nil {
				corelog.Errorf("ws: enqueue response failed: %+v", err)
			}
		})
		if err := s.Loop.Submit(ctx, worker, req, resp); err != nil {
			return
		}
	}
}
