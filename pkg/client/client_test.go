package client

import (
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierchat/courier/pkg/database"
	"github.com/courierchat/courier/pkg/filestore"
	"github.com/courierchat/courier/pkg/protocol"
	"github.com/courierchat/courier/pkg/server"
)

func startServer(t *testing.T) (tcpAddr, wsAddr string) {
	t.Helper()
	tmpDir := t.TempDir()

	db, err := database.Open(tmpDir + "/client-test.db")
	require.NoError(t, err)

	files, err := filestore.New(tmpDir + "/files")
	require.NoError(t, err)

	config := server.DefaultConfig()
	config.ListenPort = 0
	config.HTTPPort = 0
	config.MetricsPort = 0

	srv := server.NewServer(db, files, config)
	require.NoError(t, srv.Start())

	wsListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	wsServer := &http.Server{Handler: srv.WebSocketHandler()}
	go wsServer.Serve(wsListener)

	t.Cleanup(func() {
		wsServer.Close()
		srv.Stop()
	})

	return srv.Addr().String(), wsListener.Addr().String()
}

func dial(t *testing.T, addr string) *Connection {
	t.Helper()
	conn, err := Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRegisterLoginSend(t *testing.T) {
	tcpAddr, _ := startServer(t)

	alice := dial(t, tcpAddr)
	require.NoError(t, alice.Register("alice", "pw"))
	require.NoError(t, alice.Login("alice", "pw"))

	bob := dial(t, tcpAddr)
	require.NoError(t, bob.Register("bob", "pw"))
	require.NoError(t, bob.Login("bob", "pw"))

	require.NoError(t, alice.AddContact("alice", "bob"))
	contacts, err := alice.Contacts("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, contacts)

	require.NoError(t, alice.SendMessage("alice", "bob", "hello"))

	select {
	case push := <-bob.Pushes():
		assert.Equal(t, protocol.ActionNewMessage, push.Action)
		assert.Equal(t, "alice", push.Sender)
		assert.Equal(t, "hello", push.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no push received")
	}

	history, err := bob.Messages("bob", "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)
}

func TestServerRejectionIsTyped(t *testing.T) {
	tcpAddr, _ := startServer(t)

	c := dial(t, tcpAddr)
	require.NoError(t, c.Register("alice", "pw"))

	err := c.Register("alice", "pw")
	var serverErr *ErrServer
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.ActionRegister, serverErr.Action)
	assert.Equal(t, "Username already exists", serverErr.Message)

	err = c.Login("alice", "wrong")
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "Invalid credentials", serverErr.Message)
}

func TestFileRoundTrip(t *testing.T) {
	tcpAddr, _ := startServer(t)

	alice := dial(t, tcpAddr)
	require.NoError(t, alice.Register("alice", "pw"))
	require.NoError(t, alice.Login("alice", "pw"))

	bob := dial(t, tcpAddr)
	require.NoError(t, bob.Register("bob", "pw"))
	require.NoError(t, bob.Login("bob", "pw"))

	payload := []byte("attachment bytes")
	require.NoError(t, alice.SendFile("alice", "bob", "here you go", "data.bin", payload))

	select {
	case push := <-bob.Pushes():
		require.True(t, push.IsFile)
		got, err := bob.GetFile(push.FilePath)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no push received")
	}
}

func TestWebSocketTransport(t *testing.T) {
	_, wsAddr := startServer(t)

	c := dial(t, fmt.Sprintf("ws://%s/ws", wsAddr))
	require.NoError(t, c.Register("wsuser", "pw"))
	require.NoError(t, c.Login("wsuser", "pw"))

	require.NoError(t, c.SendMessage("wsuser", "wsuser", "note to self"))
	history, err := c.Messages("wsuser", "wsuser")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestCallAfterClose(t *testing.T) {
	tcpAddr, _ := startServer(t)

	c := dial(t, tcpAddr)
	require.NoError(t, c.Register("alice", "pw"))
	require.NoError(t, c.Close())

	require.Error(t, c.Login("alice", "pw"))
}
