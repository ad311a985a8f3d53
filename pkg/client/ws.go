package client

import (
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// wsClientConn adapts a websocket connection to net.Conn. Mirror of the
// server-side bridge: one envelope per binary message.
type wsClientConn struct {
	ws     *websocket.Conn
	reader io.Reader
}

func newWSClientConn(ws *websocket.Conn) *wsClientConn {
	return &wsClientConn{ws: ws}
}

func (c *wsClientConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			msgType, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsClientConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsClientConn) Close() error         { return c.ws.Close() }
func (c *wsClientConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsClientConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsClientConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsClientConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

func (c *wsClientConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}
