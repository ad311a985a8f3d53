package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{
			name: "register",
			req:  Request{Action: ActionRegister, Username: "alice", Password: "8a4f2c"},
		},
		{
			name: "login",
			req:  Request{Action: ActionLogin, Username: "bob", Password: "d41d8cd9"},
		},
		{
			name: "text message",
			req:  Request{Action: ActionSendMessage, Sender: "alice", Receiver: "bob", Content: "hello"},
		},
		{
			name: "file message",
			req: Request{
				Action:      ActionSendMessage,
				Sender:      "alice",
				Receiver:    "bob",
				Content:     "sent a file",
				IsFile:      true,
				FilePath:    "report.pdf",
				FileContent: "aGVsbG8=",
			},
		},
		{
			name: "history query",
			req:  Request{Action: ActionGetMessages, User1: "alice", User2: "bob"},
		},
		{
			name: "unicode content",
			req:  Request{Action: ActionSendMessage, Sender: "alice", Receiver: "bob", Content: "日本語 🎉 ñ"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, tt.req))

			var got Request
			require.NoError(t, Decode(&buf, &got))
			assert.Equal(t, tt.req, got)
		})
	}
}

func TestEncodePrefixMatchesPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Request{Action: ActionGetContacts, Username: "alice"}))

	raw := buf.Bytes()
	require.GreaterOrEqual(t, len(raw), 4)
	length := binary.BigEndian.Uint32(raw[:4])
	assert.Equal(t, int(length), len(raw)-4)
}

func TestDecodeMultipleEnvelopes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Request{Action: ActionRegister, Username: "alice", Password: "x"}))
	require.NoError(t, Encode(&buf, Request{Action: ActionLogin, Username: "alice", Password: "x"}))

	var first, second Request
	require.NoError(t, Decode(&buf, &first))
	require.NoError(t, Decode(&buf, &second))
	assert.Equal(t, ActionRegister, first.Action)
	assert.Equal(t, ActionLogin, second.Action)
}

func TestDecodeCleanEOF(t *testing.T) {
	var req Request
	err := Decode(bytes.NewReader(nil), &req)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodePartialPrefix(t *testing.T) {
	var req Request
	err := Decode(bytes.NewReader([]byte{0x00, 0x00}), &req)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Request{Action: ActionLogin, Username: "alice", Password: "x"}))

	truncated := buf.Bytes()[:buf.Len()-3]

	var req Request
	err := Decode(bytes.NewReader(truncated), &req)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeZeroLength(t *testing.T) {
	var req Request
	err := Decode(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00}), &req)
	assert.ErrorIs(t, err, ErrInvalidEnvelopeLength)
}

func TestDecodeOversizedEnvelope(t *testing.T) {
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, MaxEnvelopeSize+1)

	var req Request
	err := Decode(bytes.NewReader(prefix), &req)
	assert.ErrorIs(t, err, ErrEnvelopeTooLarge)
}

func TestEncodeOversizedEnvelope(t *testing.T) {
	huge := Request{
		Action:      ActionSendMessage,
		Sender:      "alice",
		Receiver:    "bob",
		FileContent: strings.Repeat("A", MaxEnvelopeSize),
	}
	err := Encode(io.Discard, huge)
	assert.ErrorIs(t, err, ErrEnvelopeTooLarge)
}

func TestDecodeMalformedJSON(t *testing.T) {
	payload := []byte(`{"action": register}`)
	var buf bytes.Buffer
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
	buf.Write(prefix)
	buf.Write(payload)

	var req Request
	err := Decode(&buf, &req)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestDecodeMalformedLeavesStreamAligned(t *testing.T) {
	var buf bytes.Buffer

	payload := []byte(`not json at all`)
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
	buf.Write(prefix)
	buf.Write(payload)

	require.NoError(t, Encode(&buf, Request{Action: ActionGetContacts, Username: "alice"}))

	var req Request
	require.ErrorIs(t, Decode(&buf, &req), ErrMalformedEnvelope)

	// The bad payload was fully consumed, the next envelope decodes cleanly.
	var next Request
	require.NoError(t, Decode(&buf, &next))
	assert.Equal(t, ActionGetContacts, next.Action)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{
		Status:  StatusSuccess,
		Message: "Login successful",
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, resp))

	var got Response
	require.NoError(t, Decode(&buf, &got))
	assert.Equal(t, resp, got)
}

func TestNotificationRoundTrip(t *testing.T) {
	note := Notification{
		Action:   ActionNewMessage,
		Sender:   "alice",
		Receiver: "bob",
		Content:  "ping",
		IsFile:   false,
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, note))

	var got Notification
	require.NoError(t, Decode(&buf, &got))
	assert.Equal(t, note, got)
}
