package protocol

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// jsonValue draws values that survive a JSON round trip unchanged: strings
// (including empty and non-ASCII), bools, and integers small enough to be
// exact as float64.
func jsonValue() *rapid.Generator[any] {
	return rapid.OneOf(
		rapid.Map(rapid.String(), func(s string) any { return s }),
		rapid.Map(rapid.SampledFrom([]string{"", "你好，世界", "émoji 🎮", "line\nbreak", `quote"d`}), func(s string) any { return s }),
		rapid.Map(rapid.Bool(), func(b bool) any { return b }),
		rapid.Map(rapid.Int64Range(-1<<52, 1<<52), func(n int64) any { return float64(n) }),
	)
}

// TestFrameRoundTrip checks decode(encode(m)) == m for generic maps
func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := rapid.MapOf(rapid.String(), jsonValue()).Draw(t, "message")

		frame, err := EncodeFrame(original)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := DecodeFrame(frame)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if len(original) == 0 {
			if len(decoded) != 0 {
				t.Fatalf("expected empty map, got %v", decoded)
			}
			return
		}
		require.Equal(t, original, decoded)
	})
}

// TestRequestRoundTrip checks that typed requests survive the wire
func TestRequestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := &SendMessageRequest{
			SenderID:   ID(rapid.Int64Range(1, 1<<40).Draw(t, "sender")),
			ReceiverID: ID(rapid.Int64Range(1, 1<<40).Draw(t, "receiver")),
			Content:    rapid.StringN(1, 400, -1).Draw(t, "content"),
		}

		var buf bytes.Buffer
		if err := WriteFrame(&buf, original); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		body, err := ReadFrame(&buf, DefaultMaxFrameSize)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}

		req, err := ParseRequest(TypeSendMessage, body)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		require.Equal(t, original, req)
	})
}

// TestReadFrameNeverPanicsOnGarbage feeds arbitrary bytes to the decoder
func TestReadFrameNeverPanicsOnGarbage(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "data")
		body, err := ReadFrame(bytes.NewReader(data), 1024)
		if err == nil && !json.Valid(body) {
			t.Fatalf("accepted invalid JSON body %q", body)
		}
	})
}
