package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFrame(body string) []byte {
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	return buf
}

func TestEncodeFrameLayout(t *testing.T) {
	frame, err := EncodeFrame(map[string]any{"type": "login"})
	require.NoError(t, err)

	body := `{"type":"login"}`
	require.Len(t, frame, 4+len(body))
	assert.Equal(t, uint32(len(body)), binary.BigEndian.Uint32(frame[:4]), "length prefix counts the body only")
	assert.Equal(t, body, string(frame[4:]))
}

func TestEncodeFrameUTF8Length(t *testing.T) {
	frame, err := EncodeFrame(map[string]string{"content": "你好"})
	require.NoError(t, err)

	// Each CJK rune is three bytes in UTF-8.
	body := `{"content":"你好"}`
	assert.Equal(t, uint32(len(body)), binary.BigEndian.Uint32(frame[:4]))
}

func TestReadFrame(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		max     uint32
		wantErr error
		want    string
	}{
		{
			name:  "valid object",
			input: rawFrame(`{"type":"login","seq":1}`),
			want:  `{"type":"login","seq":1}`,
		},
		{
			name:  "empty object",
			input: rawFrame(`{}`),
			want:  `{}`,
		},
		{
			name:    "empty stream",
			input:   nil,
			wantErr: ErrConnectionClosed,
		},
		{
			name:    "short header",
			input:   []byte{0x00, 0x00},
			wantErr: ErrConnectionClosed,
		},
		{
			name:    "short body",
			input:   rawFrame(`{"type":"login"}`)[:10],
			wantErr: ErrConnectionClosed,
		},
		{
			name:    "malformed json",
			input:   rawFrame(`{"type":`),
			wantErr: ErrProtocol,
		},
		{
			name:    "json array is not a request",
			input:   rawFrame(`[1,2,3]`),
			wantErr: ErrProtocol,
		},
		{
			name:    "zero length body",
			input:   rawFrame(``),
			wantErr: ErrProtocol,
		},
		{
			name:    "frame above limit",
			input:   rawFrame(`{"content":"0123456789"}`),
			max:     8,
			wantErr: ErrFrameTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := ReadFrame(bytes.NewReader(tt.input), tt.max)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(body))
		})
	}
}

func TestFrameTooLargeIsProtocolError(t *testing.T) {
	assert.True(t, errors.Is(ErrFrameTooLarge, ErrProtocol))
	assert.False(t, errors.Is(ErrFrameTooLarge, ErrConnectionClosed))
}

func TestReadFrameWrapsUnderlyingError(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(rawFrame(`{"a":1}`)[:6]), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.True(t, errors.Is(err, ErrConnectionClosed))
}

func TestReadFrameSequential(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, map[string]int{"seq": 1}))
	require.NoError(t, WriteFrame(&buf, map[string]int{"seq": 2}))

	first, err := ReadFrame(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	second, err := ReadFrame(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)

	assert.JSONEq(t, `{"seq":1}`, string(first))
	assert.JSONEq(t, `{"seq":2}`, string(second))

	_, err = ReadFrame(&buf, DefaultMaxFrameSize)
	assert.True(t, errors.Is(err, ErrConnectionClosed))
}

type countingWriter struct {
	writes int
	bytes.Buffer
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

func TestWriteFrameSingleWrite(t *testing.T) {
	w := &countingWriter{}
	require.NoError(t, WriteFrame(w, NewRealTimeMessage(PushMessage{SenderID: 1, ReceiverID: 2, Content: "hi"})))
	assert.Equal(t, 1, w.writes)
}

func TestEncodeFrameUnsupportedValue(t *testing.T) {
	_, err := EncodeFrame(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestPushEnvelopeHasNoSeq(t *testing.T) {
	frame, err := EncodeFrame(NewRealTimeMessage(PushMessage{
		SenderID:   1,
		ReceiverID: 2,
		Content:    "hello",
		Timestamp:  "2025-01-02 03:04:05",
	}))
	require.NoError(t, err)

	m, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, TypeRealTimeMessage, m["type"])
	assert.NotContains(t, m, "seq")

	msg, ok := m["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), msg["sender_id"])
	assert.Equal(t, float64(2), msg["receiver_id"])
	assert.Equal(t, "hello", msg["content"])
	assert.Equal(t, "2025-01-02 03:04:05", msg["timestamp"])
}

func TestResponseEchoesSeqVerbatim(t *testing.T) {
	resp := &UnreadResponse{Status: *OK("")}
	resp.Header().Type = TypeGetUnreadMessages
	resp.Header().Seq = []byte(`42`)

	frame, err := EncodeFrame(resp)
	require.NoError(t, err)
	m, err := DecodeFrame(frame)
	require.NoError(t, err)

	assert.Equal(t, TypeGetUnreadMessages, m["type"])
	assert.Equal(t, float64(42), m["seq"])
	assert.Equal(t, true, m["success"])
	assert.NotContains(t, m, "message")
}
