package protocol

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// TestRequestRoundTripRapid tests that any request envelope survives an
// encode/decode cycle byte-for-byte at the field level.
func TestRequestRoundTripRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := Request{
			Action:          rapid.StringN(0, 32, 32).Draw(t, "action"),
			Username:        rapid.StringN(0, 64, 64).Draw(t, "username"),
			Password:        rapid.StringN(0, 64, 64).Draw(t, "password"),
			ContactUsername: rapid.StringN(0, 64, 64).Draw(t, "contactUsername"),
			Sender:          rapid.StringN(0, 64, 64).Draw(t, "sender"),
			Receiver:        rapid.StringN(0, 64, 64).Draw(t, "receiver"),
			Content:         rapid.StringN(0, 2048, 2048).Draw(t, "content"),
			IsFile:          rapid.Bool().Draw(t, "isFile"),
			FilePath:        rapid.StringN(0, 128, 128).Draw(t, "filePath"),
			User1:           rapid.StringN(0, 64, 64).Draw(t, "user1"),
			User2:           rapid.StringN(0, 64, 64).Draw(t, "user2"),
		}

		var buf bytes.Buffer
		if err := Encode(&buf, original); err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		var decoded Request
		if err := Decode(&buf, &decoded); err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded != original {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, original)
		}
	})
}

// TestDecodeNeverPanicsOnGarbage feeds arbitrary byte streams to the
// decoder: every outcome must be a value or an error, never a panic.
func TestDecodeNeverPanicsOnGarbage(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "raw")

		var req Request
		// Errors are expected for most inputs; this checks robustness only.
		_ = Decode(bytes.NewReader(raw), &req)
	})
}
