// Package tcp is the TCP listener: accept, wrap the raw connection the
// way the reference gate wraps its client sockets (no-temp-error, then
// buffered), read length-prefixed frames, and hand each one to dispatch.
package tcp

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/netconnutil"

	"github.com/riftkeep/gamecore/corelog"
	"github.com/riftkeep/gamecore/dispatch"
	"github.com/riftkeep/gamecore/handler"
	"github.com/riftkeep/gamecore/notify"
	"github.com/riftkeep/gamecore/transport"
)

const restartInterval = 3 * time.Second

const (
	readBufferSize  = 16 * 1024
	writeBufferSize = 16 * 1024
)

// Conn is one accepted TCP client connection. It implements
// dispatch.Connection: an outbound frame queue drained by its own writer
// goroutine, plus the authenticated-id cell dispatch reads and mutates.
type Conn struct {
	raw netconnutil.FlushableConn

	mu   sync.Mutex
	auth uint64

	out    chan []byte
	closed chan struct{}
}

func newConn(raw net.Conn) *Conn {
	wrapped := netconnutil.NewNoTempErrorConn(raw)
	buffered := netconnutil.NewBufferedConn(wrapped, readBufferSize, writeBufferSize)
	return &Conn{
		raw:    buffered,
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
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

// Enqueue implements notify.Conn.
func (c *Conn) Enqueue(frame []byte) error {
	select {
	case c.out <- frame:
		return nil
	case <-c.closed:
		return errors.New("tcp: connection closed")
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case frame := <-c.out:
			if _, err := c.raw.Write(frame); err != nil {
				corelog.Errorf("tcp: write failed: %+v", err)
				c.Close()
				return
			}
			if err := c.raw.Flush(); err != nil {
				corelog.Errorf("tcp: flush failed: %+v", err)
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Close tears down the connection. Safe to call more than once.
func (c *Conn) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
		c.raw.Close()
	}
}

// Server accepts TCP connections and feeds their frames to a
// dispatch.Loop, round-robining new connections across its workers.
type Server struct {
	ListenAddr   string
	Loop         *dispatch.Loop
	NotifyTable  *notify.Table
	nextWorker   int
	nextWorkerMu sync.Mutex
}

// ServeForever accepts connections until ctx is cancelled, restarting the
// listener after any accept-loop error, mirroring the reference
// ServeTCPForever's crash-and-restart behavior.
func (s *Server) ServeForever(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.serveOnce(ctx); err != nil {
			corelog.Errorf("tcp: server@%s failed: %+v, restarting in %s", s.ListenAddr, err, restartInterval)
			select {
			case <-time.After(restartInterval):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Server) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return errors.Wrap(err, "tcp: listen")
	}
	corelog.Infof("tcp: listening on %s", s.ListenAddr)
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "tcp: accept")
		}
		corelog.Infof("tcp: connection from %s", raw.RemoteAddr())
		go s.serve(ctx, raw)
	}
}

func (s *Server) assignWorker() int {
	s.nextWorkerMu.Lock()
	defer s.nextWorkerMu.Unlock()
	w := s.nextWorker
	s.nextWorker = (s.nextWorker + 1) % s.Loop.Workers()
	return w
}

func (s *Server) serve(ctx context.Context, raw net.Conn) {
	conn := newConn(raw)
	worker := s.assignWorker()
	go conn.writeLoop()
	defer conn.Close()

	for {
		frame, err := readFrame(conn.raw)
		if err != nil {
			if err != io.EOF {
				corelog.Errorf("tcp: read failed: %+v", err)
			}
			if authID := conn.AuthenticatedID(); authID != 0 {
				_ = s.NotifyTable.Logout(authID, conn)
			}
			return
		}

		category, method, payload, err := transport.Decode(frame)
		if err != nil {
			corelog.Errorf("tcp: decode failed: %+v", err)
			continue
		}

		req := dispatch.Request{Conn: conn, Category: category, Method: method, Payload: payload}
		resp := dispatch.ResponderFunc(func(code handler.ResponseCode, payload []byte) {
			if err := conn.Enqueue(transport.EncodeResponse(uint16(code), payload)); err != nil {
				corelog.Errorf("tcp: enqueue response failed: %+v", err)
			}
		})
		if err := s.Loop.Submit(ctx, worker, req, resp); err != nil {
			return
		}
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > transport.MaxFrameLen {
		return nil, errors.New("tcp: frame too large")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
