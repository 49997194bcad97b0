package transfers

import (
	"errors"
	"fmt"
	"io"
)

// FrameAssembler rebuilds frames from payload packets using the frame ID and
// end of frame bits. It is the host side counterpart of Packetizer.
type FrameAssembler struct {
	// Dropped counts packets discarded because their error bit was set.
	Dropped int

	started bool
	fid     bool
	buf     []byte

	pending []byte
}

// Push consumes one packet. A frame is complete when a packet carries the end
// of frame bit, or when the frame ID toggles before one arrived, in which case
// the short frame is returned with ErrFrameTruncated. The returned slice is
// owned by the caller.
//
// A single packet can complete two frames: a truncated one and a one-packet
// frame that follows it. The second is returned by Pending.
func (a *FrameAssembler) Push(packet []byte) ([]byte, bool, error) {
	var p Payload
	if err := p.UnmarshalBinary(packet); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if p.Error() {
		a.Dropped++
		return nil, false, nil
	}

	var (
		out    []byte
		ok     bool
		outErr error
	)
	if a.started && p.FrameID() != a.fid {
		// frame id bit flipped without an end of frame, the device dropped the tail.
		if len(a.buf) > 0 {
			out, ok, outErr = a.take(), true, ErrFrameTruncated
		}
		a.started = false
	}
	if !a.started {
		a.started = true
		a.fid = p.FrameID()
	}
	a.buf = append(a.buf, p.Data...)
	if !p.EndOfFrame() {
		return out, ok, outErr
	}

	frame := a.take()
	a.started = false
	if ok {
		a.pending = frame
		return out, ok, outErr
	}
	return frame, true, nil
}

// Pending returns a frame completed by the last Push that could not be
// returned by it.
func (a *FrameAssembler) Pending() ([]byte, bool) {
	if a.pending == nil {
		return nil, false
	}
	frame := a.pending
	a.pending = nil
	return frame, true
}

// Reset discards any partially assembled frame.
func (a *FrameAssembler) Reset() {
	a.started = false
	a.buf = a.buf[:0]
	a.pending = nil
}

func (a *FrameAssembler) take() []byte {
	frame := append([]byte(nil), a.buf...)
	a.buf = a.buf[:0]
	return frame
}

// FrameReader reads whole frames from a packet reader. Each Read on the
// underlying reader must return exactly one payload, which is what bulk
// transfers delimited by short packets give.
type FrameReader struct {
	r   io.Reader
	buf []byte
	asm FrameAssembler
}

func NewFrameReader(r io.Reader, maxPayload uint32) *FrameReader {
	return &FrameReader{r: r, buf: make([]byte, max(maxPayload, MaxURBBufferSize))}
}

// ReadFrame returns the next complete frame. Truncated frames are returned
// together with ErrFrameTruncated.
func (r *FrameReader) ReadFrame() ([]byte, error) {
	for {
		if frame, ok := r.asm.Pending(); ok {
			return frame, nil
		}
		n, err := r.r.Read(r.buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		frame, ok, err := r.asm.Push(r.buf[:n])
		if errors.Is(err, ErrMalformedHeader) {
			continue
		}
		if ok {
			return frame, err
		}
	}
}

func (r *FrameReader) Close() error {
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
