package gadget

import "fmt"

// StreamingBuffer is the transmit buffer of the streamer. Frames are copied
// in whole or not at all.
type StreamingBuffer struct {
	buf []byte
	n   int
}

func NewStreamingBuffer(capacity int) *StreamingBuffer {
	return &StreamingBuffer{buf: make([]byte, capacity)}
}

// Load replaces the contents with src. A frame larger than the buffer leaves
// it empty and returns ErrFrameTooLarge.
func (b *StreamingBuffer) Load(src []byte) error {
	if len(src) > len(b.buf) {
		b.n = 0
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrFrameTooLarge, len(src), len(b.buf))
	}
	b.n = copy(b.buf, src)
	return nil
}

func (b *StreamingBuffer) Bytes() []byte { return b.buf[:b.n] }
func (b *StreamingBuffer) Len() int      { return b.n }
func (b *StreamingBuffer) Cap() int      { return len(b.buf) }
func (b *StreamingBuffer) Reset()        { b.n = 0 }
