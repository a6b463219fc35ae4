package queue

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Uh-X3L/agentmq/internal/protocol"
)

func newTestMessage(t *testing.T) *protocol.AgentMessage {
	t.Helper()
	msg, err := protocol.New("worker_1", "coordinator", protocol.TypeTaskRequest, map[string]interface{}{
		"task": "analyze",
		"body": strings.Repeat("payload ", 64),
	})
	require.NoError(t, err)
	return msg
}

func TestCodecPlainRoundTrip(t *testing.T) {
	codec := NewCodec(false)
	msg := newTestMessage(t)

	data, err := codec.Encode(msg)
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(data, gzipMagic))
	assert.False(t, msg.Compression)

	got, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Content, got.Content)
}

func TestCodecCompressedRoundTrip(t *testing.T) {
	codec := NewCodec(true)
	msg := newTestMessage(t)

	data, err := codec.Encode(msg)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, gzipMagic))
	assert.True(t, msg.Compression)

	plain, err := msg.Marshal()
	require.NoError(t, err)
	assert.Less(t, len(data), len(plain), "repetitive payload compresses")

	got, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Content, got.Content)
	assert.True(t, got.Compression)
}

func TestCodecDecodeSniffsCompression(t *testing.T) {
	// A plain-configured codec still reads records written while
	// compression was on, and vice versa.
	msg := newTestMessage(t)

	compressed, err := NewCodec(true).Encode(msg)
	require.NoError(t, err)
	got, err := NewCodec(false).Decode(compressed)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)

	plain, err := NewCodec(false).Encode(msg)
	require.NoError(t, err)
	got, err = NewCodec(true).Decode(plain)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
}

func TestCodecDecodeGarbage(t *testing.T) {
	codec := NewCodec(false)

	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("not a record")},
		{"truncated gzip", []byte{0x1f, 0x8b, 0x01}},
		{"wrong json shape", []byte(`{"type":"bogus"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.data)
			require.Error(t, err)
			var qe *QueueError
			assert.ErrorAs(t, err, &qe)
			assert.Equal(t, ErrCodeDecodeFailed, qe.Code)
		})
	}
}
