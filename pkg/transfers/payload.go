package transfers

import (
	"encoding/binary"
	"fmt"
	"io"
)

// bmHeaderInfo bits, UVC spec 1.5, 2.4.3.3
const (
	HeaderFrameID     uint8 = 0b00000001
	HeaderEndOfFrame  uint8 = 0b00000010
	HeaderPTS         uint8 = 0b00000100
	HeaderSCR         uint8 = 0b00001000
	HeaderPayloadBit  uint8 = 0b00010000
	HeaderStillImage  uint8 = 0b00100000
	HeaderError       uint8 = 0b01000000
	HeaderEndOfHeader uint8 = 0b10000000
)

// HeaderSize is the length of the payload header the gadget emits. It never
// carries PTS or SCR.
const HeaderSize = 2

type PayloadReader interface {
	io.Closer
	ReadPayload() (*Payload, error)
}

type Payload struct {
	HeaderInfoBitmask uint8
	PTS               uint32
	SCR               struct {
		SourceTimeClock uint32
		TokenCounter    uint16
	}
	Data []byte
}

func (f *Payload) FrameID() bool {
	return f.HeaderInfoBitmask&HeaderFrameID != 0
}

func (f *Payload) EndOfFrame() bool {
	return f.HeaderInfoBitmask&HeaderEndOfFrame != 0
}

func (f *Payload) HasPTS() bool {
	return f.HeaderInfoBitmask&HeaderPTS != 0
}

func (f *Payload) HasSCR() bool {
	return f.HeaderInfoBitmask&HeaderSCR != 0
}

func (f *Payload) PayloadSpecificBit() bool {
	return f.HeaderInfoBitmask&HeaderPayloadBit != 0
}

func (f *Payload) StillImage() bool {
	return f.HeaderInfoBitmask&HeaderStillImage != 0
}

func (f *Payload) Error() bool {
	return f.HeaderInfoBitmask&HeaderError != 0
}

func (f *Payload) EndOfHeader() bool {
	return f.HeaderInfoBitmask&HeaderEndOfHeader != 0
}

func (f *Payload) String() string {
	return fmt.Sprintf("fid=%t eof=%t still=%t err=%t len=%d", f.FrameID(), f.EndOfFrame(), f.StillImage(), f.Error(), len(f.Data))
}

func (f *Payload) UnmarshalBinary(buf []byte) error {
	if len(buf) < 2 || len(buf) < int(buf[0]) {
		return io.ErrShortBuffer
	}
	f.HeaderInfoBitmask = buf[1]
	offset := 2
	if f.HasPTS() {
		if len(buf) < offset+4 {
			return io.ErrShortBuffer
		}
		f.PTS = binary.LittleEndian.Uint32(buf[offset : offset+4])
		offset += 4
	}
	if f.HasSCR() {
		if len(buf) < offset+6 {
			return io.ErrShortBuffer
		}
		f.SCR.SourceTimeClock = binary.LittleEndian.Uint32(buf[offset : offset+4])
		offset += 4
		f.SCR.TokenCounter = binary.LittleEndian.Uint16(buf[offset : offset+2])
		offset += 2
	}
	// bHeaderLength is authoritative when it covers more than the fields we know.
	if int(buf[0]) > offset {
		offset = int(buf[0])
	}
	f.Data = buf[offset:]
	return nil
}

// PutHeader writes the two byte payload header for a packet into buf.
func PutHeader(buf []byte, fid, eof, still bool) {
	buf[0] = HeaderSize
	var info uint8
	if fid {
		info |= HeaderFrameID
	}
	if eof {
		info |= HeaderEndOfFrame
	}
	if still {
		info |= HeaderStillImage
	}
	buf[1] = info
}
