package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxEnvelopeSize is the maximum allowed envelope payload size (32 MB).
// Large enough for base64-encoded file transfers, small enough to bound
// per-connection memory.
const MaxEnvelopeSize = 32 * 1024 * 1024

var (
	ErrEnvelopeTooLarge      = errors.New("envelope exceeds maximum size (32 MB)")
	ErrInvalidEnvelopeLength = errors.New("invalid envelope length")
	// ErrMalformedEnvelope indicates the payload was fully read but is not
	// valid JSON. The stream itself is still intact: the connection can keep
	// serving requests after reporting the error.
	ErrMalformedEnvelope = errors.New("malformed envelope payload")
)

// Encode writes one envelope to the writer: a 4-byte unsigned big-endian
// length prefix followed by exactly that many bytes of UTF-8 JSON.
// The prefix and payload are written in a single Write call so that
// message-oriented transports (WebSocket) carry one envelope per message.
func Encode(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if len(payload) > MaxEnvelopeSize {
		return ErrEnvelopeTooLarge
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	_, err = w.Write(buf)
	return err
}

// Decode reads one envelope from the reader into v.
//
// A clean peer close before any prefix byte is reported as io.EOF — the
// end-of-stream condition, not an error. A close mid-prefix or mid-payload
// surfaces as io.ErrUnexpectedEOF and is fatal for the connection.
// A payload that reads fully but fails to parse returns an error wrapping
// ErrMalformedEnvelope; the stream remains usable.
func Decode(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		// io.ReadFull returns io.EOF only when zero bytes were read.
		return err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxEnvelopeSize {
		return ErrEnvelopeTooLarge
	}
	if length == 0 {
		return ErrInvalidEnvelopeLength
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}
