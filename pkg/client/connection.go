// Package client provides a connection to a courier server over TCP or
// WebSocket, splitting the single inbound envelope stream into request
// responses and server pushes.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/courierchat/courier/pkg/protocol"
)

// ErrClosed is returned by calls on a connection after Close.
var ErrClosed = errors.New("connection closed")

// Push is an unsolicited server envelope: a new message notification or a
// shutdown notice.
type Push struct {
	Action   string `json:"action"`
	Message  string `json:"message,omitempty"`
	Sender   string `json:"sender,omitempty"`
	Receiver string `json:"receiver,omitempty"`
	Content  string `json:"content,omitempty"`
	IsFile   bool   `json:"is_file,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// inbound is the union of push and response shapes; the reader loop
// classifies each envelope by which discriminator is set.
type inbound struct {
	Push
	Status      string                   `json:"status,omitempty"`
	Contacts    []string                 `json:"contacts,omitempty"`
	Messages    []protocol.MessageRecord `json:"messages,omitempty"`
	FileContent string                   `json:"file_content,omitempty"`
}

// Connection is a client connection to a courier server. One request may be
// in flight at a time; pushes arrive on the Pushes channel at any moment.
type Connection struct {
	addr string
	conn net.Conn

	writeMu sync.Mutex

	responses chan *protocol.Response
	pushes    chan Push
	readErr   chan error

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to a server address. Plain host:port (or tcp://host:port)
// dials TCP; ws://host:port connects through the WebSocket bridge.
func Dial(addr string) (*Connection, error) {
	conn, display, err := dialTransport(addr)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		addr:      display,
		conn:      conn,
		responses: make(chan *protocol.Response, 1),
		pushes:    make(chan Push, 64),
		readErr:   make(chan error, 1),
		shutdown:  make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()

	return c, nil
}

func dialTransport(addr string) (net.Conn, string, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		u, err := url.Parse(addr)
		if err != nil {
			return nil, "", fmt.Errorf("invalid server address %q: %w", addr, err)
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = "/ws"
		}
		ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			return nil, "", fmt.Errorf("websocket connect to %s failed: %w", addr, err)
		}
		return newWSClientConn(ws), addr, nil
	}

	raw := strings.TrimPrefix(addr, "tcp://")
	conn, err := net.Dial("tcp", raw)
	if err != nil {
		return nil, "", fmt.Errorf("connect to %s failed: %w", raw, err)
	}
	return conn, "tcp://" + raw, nil
}

// Addr returns the display address this connection was dialed with.
func (c *Connection) Addr() string {
	return c.addr
}

// Pushes returns the channel unsolicited server envelopes arrive on. The
// channel is closed when the connection dies.
func (c *Connection) Pushes() <-chan Push {
	return c.pushes
}

// readLoop splits the inbound stream: responses go to the (capacity one)
// response channel for the in-flight request, pushes go to the push channel.
func (c *Connection) readLoop() {
	defer c.wg.Done()
	defer close(c.pushes)

	for {
		var msg inbound
		if err := protocol.Decode(c.conn, &msg); err != nil {
			select {
			case c.readErr <- err:
			default:
			}
			return
		}

		switch {
		case msg.Status != "":
			resp := &protocol.Response{
				Status:      msg.Status,
				Message:     msg.Message,
				Contacts:    msg.Contacts,
				Messages:    msg.Messages,
				FileContent: msg.FileContent,
			}
			select {
			case c.responses <- resp:
			case <-c.shutdown:
				return
			}
		case msg.Action != "":
			select {
			case c.pushes <- msg.Push:
			case <-c.shutdown:
				return
			}
		default:
			// Neither a response nor a push. Skip rather than wedge the
			// stream over one odd envelope.
		}
	}
}

// roundTrip sends one request and waits for its response.
func (c *Connection) roundTrip(req protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	// Drop a stale response left behind by a timed-out predecessor.
	select {
	case <-c.responses:
	default:
	}

	c.writeMu.Lock()
	err := protocol.Encode(c.conn, req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Action, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-c.responses:
		return resp, nil
	case err := <-c.readErr:
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", req.Action, ErrClosed)
		}
		return nil, fmt.Errorf("%s: %w", req.Action, err)
	case <-timer.C:
		return nil, fmt.Errorf("%s: timed out after %s", req.Action, timeout)
	case <-c.shutdown:
		return nil, ErrClosed
	}
}

// Close tears down the connection. Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.shutdown)
		c.conn.Close()
	})
	c.wg.Wait()
	return nil
}
