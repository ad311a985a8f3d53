package server

import (
	"net"
	"sync"
	"time"

	"github.com/courierchat/courier/pkg/protocol"
)

// SafeConn wraps a net.Conn with automatic write synchronization to prevent
// concurrent writes from corrupting the wire protocol.
//
// Two goroutines may write to the same connection at once: the connection's
// own handler writing a response, and another handler pushing a new_message
// notification to this connection's user. Without synchronization their
// envelope bytes interleave on the wire.
//
// SafeConn encapsulates the connection and its write mutex, making it
// impossible to write without proper synchronization.
type SafeConn struct {
	conn         net.Conn
	writeTimeout time.Duration
	mu           sync.Mutex // Protects writes to conn
}

// NewSafeConn wraps a net.Conn with write synchronization. A non-zero
// writeTimeout bounds every envelope write.
func NewSafeConn(conn net.Conn, writeTimeout time.Duration) *SafeConn {
	return &SafeConn{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// WriteEnvelope encodes and sends one envelope with automatic write
// synchronization. This is the ONLY way to write to the connection - the
// raw conn is private.
func (sc *SafeConn) WriteEnvelope(v any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.writeTimeout > 0 {
		sc.conn.SetWriteDeadline(time.Now().Add(sc.writeTimeout))
		defer sc.conn.SetWriteDeadline(time.Time{})
	}
	return protocol.Encode(sc.conn, v)
}

// ReadRequest decodes one request envelope from the connection.
// Reads don't need write synchronization.
func (sc *SafeConn) ReadRequest(req *protocol.Request) error {
	return protocol.Decode(sc.conn, req)
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (sc *SafeConn) SetReadDeadline(t time.Time) error {
	return sc.conn.SetReadDeadline(t)
}

// Close closes the underlying connection
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
