package transfers

import "errors"

var (
	ErrEmptyFrame      = errors.New("empty frame")
	ErrPayloadTooSmall = errors.New("max payload size leaves no room for data")
	ErrFrameTruncated  = errors.New("frame ended without end of frame bit")
	ErrMalformedHeader = errors.New("malformed payload header")
)

// PacketCount returns the number of packets a frame of n bytes takes when
// every packet carries at most maxPayload bytes including the header.
func PacketCount(n, maxPayload int) int {
	data := maxPayload - HeaderSize
	if n <= 0 || data <= 0 {
		return 0
	}
	return (n + data - 1) / data
}

// Packetizer slices frames into header+payload packets. The frame ID bit
// toggles once per frame. It is not safe for concurrent use.
type Packetizer struct {
	// MaxPayload is dwMaxPayloadTransferSize, the header included.
	MaxPayload int

	fid     bool
	scratch []byte
}

// FrameID reports the frame ID bit the next frame will carry.
func (p *Packetizer) FrameID() bool {
	return !p.fid
}

// Packetize emits frame as a sequence of packets in byte order. Only the last
// packet has the end of frame bit. The slice passed to emit is reused and is
// valid only for the duration of the call. If emit fails the frame is
// abandoned and the error is returned with the number of packets sent.
func (p *Packetizer) Packetize(frame []byte, still bool, emit func(packet []byte) error) (int, error) {
	if p.MaxPayload <= HeaderSize {
		return 0, ErrPayloadTooSmall
	}
	if len(frame) == 0 {
		return 0, ErrEmptyFrame
	}
	if cap(p.scratch) < p.MaxPayload {
		p.scratch = make([]byte, p.MaxPayload)
	}
	p.fid = !p.fid

	data := p.MaxPayload - HeaderSize
	sent := 0
	for off := 0; off < len(frame); off += data {
		end := min(off+data, len(frame))
		pkt := p.scratch[:HeaderSize+end-off]
		PutHeader(pkt, p.fid, end == len(frame), still)
		copy(pkt[HeaderSize:], frame[off:end])
		if err := emit(pkt); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
