// Package broker implements the two ends of the broker link: the
// broker-side listener that accepts one long-lived connection per
// processor and routes forwarded notification envelopes between them,
// and the processor-side dialer notify.Table.BecomeProcessor hands its
// Conn.
//
// A processor identifies itself to the broker with a raw 8-byte area id
// header written immediately after connecting, before any framed
// traffic — connection identity, not frame content, is what the broker
// keys its routing table on, matching the reference broker_node_down
// bookkeeping this module's notify package already follows.
package broker

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/netconnutil"

	"github.com/riftkeep/gamecore/corelog"
	"github.com/riftkeep/gamecore/notify"
	"github.com/riftkeep/gamecore/transport"
)

const restartInterval = 3 * time.Second

const (
	readBufferSize  = 16 * 1024
	writeBufferSize = 16 * 1024
)

// procConn is one broker-side connection to a processor, implementing
// notify.Conn so Broker.Route can enqueue routed frames directly onto
// it.
type procConn struct {
	raw netconnutil.FlushableConn

	out    chan []byte
	closed chan struct{}
}

func newProcConn(raw net.Conn) *procConn {
	wrapped := netconnutil.NewNoTempErrorConn(raw)
	buffered := netconnutil.NewBufferedConn(wrapped, readBufferSize, writeBufferSize)
	return &procConn{
		raw:    buffered,
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *procConn) Enqueue(frame []byte) error {
	select {
	case c.out <- frame:
		return nil
	case <-c.closed:
		return errors.New("broker: connection closed")
	}
}

func (c *procConn) writeLoop() {
	for {
		select {
		case frame := <-c.out:
			if _, err := c.raw.Write(frame); err != nil {
				corelog.Errorf("broker: write to processor failed: %+v", err)
				c.Close()
				return
			}
			if err := c.raw.Flush(); err != nil {
				corelog.Errorf("broker: flush to processor failed: %+v", err)
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *procConn) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
		c.raw.Close()
	}
}

// Server is the broker-side listener. Each accepted connection is read
// as a stream of length-prefixed envelopes (see readEnvelope) and routed
// through Table.
type Server struct {
	ListenAddr string
	Table      *notify.Broker
}

// ServeForever accepts processor connections until ctx is cancelled,
// restarting the listener after any accept-loop error.
func (s *Server) ServeForever(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.serveOnce(ctx); err != nil {
			corelog.Errorf("broker: server@%s failed: %+v, restarting in %s", s.ListenAddr, err, restartInterval)
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
		return errors.Wrap(err, "broker: listen")
	}
	corelog.Infof("broker: listening on %s", s.ListenAddr)
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
			return errors.Wrap(err, "broker: accept")
		}
		go s.serve(raw)
	}
}

func (s *Server) serve(raw net.Conn) {
	conn := newProcConn(raw)
	go conn.writeLoop()
	defer conn.Close()

	var areaIDBuf [8]byte
	if _, err := io.ReadFull(conn.raw, areaIDBuf[:]); err != nil {
		corelog.Errorf("broker: read area id header failed: %+v", err)
		return
	}
	areaID := binary.LittleEndian.Uint64(areaIDBuf[:])
	corelog.Infof("broker: processor for area %d connected from %s", areaID, raw.RemoteAddr())

	s.Table.RegisterProcessor(areaID, conn)
	defer s.Table.UnregisterProcessor(areaID)

	// The first frame on every processor connection is BecomeProcessor's
	// handshake: a plain length-prefixed frame with no 8-byte target
	// suffix. Consume it here, before the envelope loop, so readEnvelope
	// never has to guess which shape a given frame is.
	if _, err := readFrame(conn.raw); err != nil {
		corelog.Errorf("broker: read handshake from area %d failed: %+v", areaID, err)
		return
	}

	for {
		envelope, err := readEnvelope(conn.raw)
		if err != nil {
			if err != io.EOF {
				corelog.Errorf("broker: read from area %d failed: %+v", areaID, err)
			}
			return
		}
		if !s.Table.Route(envelope) {
			// A target with no known owner. Not an error: the sender
			// just hasn't been told to register that owner yet.
			continue
		}
	}
}

// readFrame reads one plain length-prefixed frame with no target suffix
// the way tcp.readFrame does — the shape of BecomeProcessor's handshake
// frame, the only frame on a processor connection that isn't a
// forwarded envelope.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > transport.MaxFrameLen {
		return nil, errors.New("broker: frame too large")
	}

	frame := make([]byte, 4+n)
	copy(frame[0:4], lenBuf[:])
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// readEnvelope reads one length-prefixed frame via readFrame, then the 8
// raw bytes notify.Table.forwardToBroker appends after it, and returns
// the two concatenated exactly as notify.Broker.Route expects.
func readEnvelope(r io.Reader) ([]byte, error) {
	frame, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	envelope := make([]byte, len(frame)+8)
	copy(envelope, frame)
	if _, err := io.ReadFull(r, envelope[len(frame):]); err != nil {
		return nil, err
	}
	return envelope, nil
}

// Dial connects to the broker at addr, sends the raw area id header, and
// returns a notify.Conn ready to hand to notify.Table.BecomeProcessor.
// The returned closer must be called on node shutdown.
func Dial(addr string, areaID uint64) (notify.Conn, func() error, error) {
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "broker: dial %s", addr)
	}
	conn := newProcConn(raw)

	var areaIDBuf [8]byte
	binary.LittleEndian.PutUint64(areaIDBuf[:], areaID)
	if _, err := conn.raw.Write(areaIDBuf[:]); err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "broker: write area id header")
	}
	if err := conn.raw.Flush(); err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "broker: flush area id header")
	}

	go conn.writeLoop()
	go drainInbound(conn)

	return conn, func() error { conn.Close(); return nil }, nil
}

// drainInbound reads and discards everything the broker sends on this
// link, including the frames notify.Broker.Route forwards to this
// processor's area; those frames are not delivered to this node's
// clients. The read is pumped so the connection's TCP receive buffer
// never fills and stalls writes.
func drainInbound(conn *procConn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.raw.Read(buf); err != nil {
			conn.Close()
			return
		}
	}
}
