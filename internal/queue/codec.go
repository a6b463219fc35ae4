package queue

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/Uh-X3L/agentmq/internal/protocol"
)

// gzipMagic is the two-byte header every gzip stream starts with. Decoding
// keys off it so a reader can handle queues holding a mix of compressed and
// plain records, for example after the compression setting changed.
var gzipMagic = []byte{0x1f, 0x8b}

// Codec turns messages into stored records and back. When compression is on,
// Encode gzips the JSON record and stamps the message's compression flag
// before serializing.
type Codec struct {
	compress bool
}

// NewCodec creates a Codec. compress enables gzip on encode; decode always
// accepts both forms.
func NewCodec(compress bool) *Codec {
	return &Codec{compress: compress}
}

// Encode serializes msg for storage.
func (c *Codec) Encode(msg *protocol.AgentMessage) ([]byte, error) {
	msg.Compression = c.compress
	data, err := msg.Marshal()
	if err != nil {
		return nil, NewQueueError(ErrCodeEncodeFailed, "marshal message", err).WithMessageID(msg.ID)
	}
	if !c.compress {
		return data, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, NewQueueError(ErrCodeEncodeFailed, "compress message", err).WithMessageID(msg.ID)
	}
	if err := zw.Close(); err != nil {
		return nil, NewQueueError(ErrCodeEncodeFailed, "compress message", err).WithMessageID(msg.ID)
	}
	return buf.Bytes(), nil
}

// Decode reads a stored record back into a message. Records are sniffed for
// the gzip header rather than trusting any flag, since the flag itself lives
// inside the compressed payload.
func (c *Codec) Decode(data []byte) (*protocol.AgentMessage, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, NewQueueError(ErrCodeDecodeFailed, "open gzip record", err)
		}
		plain, err := io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, NewQueueError(ErrCodeDecodeFailed, "decompress record", err)
		}
		data = plain
	}
	msg, err := protocol.Unmarshal(data)
	if err != nil {
		return nil, NewQueueError(ErrCodeDecodeFailed, "unmarshal record", err)
	}
	return msg, nil
}
