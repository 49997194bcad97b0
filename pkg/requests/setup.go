package requests

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SetupPacketSize is the size of a SETUP packet on the wire.
const SetupPacketSize = 8

// SetupPacket is the 8-byte SETUP stage of a control transfer.
type SetupPacket struct {
	RequestType RequestType
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

func (sp *SetupPacket) UnmarshalBinary(buf []byte) error {
	if len(buf) < SetupPacketSize {
		return io.ErrShortBuffer
	}
	sp.RequestType = RequestType(buf[0])
	sp.Request = buf[1]
	sp.Value = binary.LittleEndian.Uint16(buf[2:4])
	sp.Index = binary.LittleEndian.Uint16(buf[4:6])
	sp.Length = binary.LittleEndian.Uint16(buf[6:8])
	return nil
}

func (sp *SetupPacket) MarshalInto(buf []byte) error {
	if len(buf) < SetupPacketSize {
		return io.ErrShortBuffer
	}
	buf[0] = byte(sp.RequestType)
	buf[1] = sp.Request
	binary.LittleEndian.PutUint16(buf[2:4], sp.Value)
	binary.LittleEndian.PutUint16(buf[4:6], sp.Index)
	binary.LittleEndian.PutUint16(buf[6:8], sp.Length)
	return nil
}

func (sp *SetupPacket) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SetupPacketSize)
	return buf, sp.MarshalInto(buf)
}

// Selector is the control selector carried in the high byte of wValue.
func (sp *SetupPacket) Selector() uint8 {
	return uint8(sp.Value >> 8)
}

// ValueLow is the low byte of wValue, the descriptor index or alternate setting.
func (sp *SetupPacket) ValueLow() uint8 {
	return uint8(sp.Value)
}

// InterfaceNumber is the low byte of wIndex for interface-addressed requests.
func (sp *SetupPacket) InterfaceNumber() uint8 {
	return uint8(sp.Index)
}

// EntityID is the unit or terminal id in the high byte of wIndex.
func (sp *SetupPacket) EntityID() uint8 {
	return uint8(sp.Index >> 8)
}

func (sp *SetupPacket) String() string {
	return fmt.Sprintf("setup{type=%#02x req=%#02x value=%#04x index=%#04x len=%d}",
		uint8(sp.RequestType), sp.Request, sp.Value, sp.Index, sp.Length)
}

// NewClassRequest builds a class-specific interface request addressed to a
// control selector, the shape used for every PROBE/COMMIT transfer.
func NewClassRequest(get bool, code RequestCode, selector uint8, iface uint8, length uint16) SetupPacket {
	rt := RequestTypeVideoInterfaceSetRequest
	if get {
		rt = RequestTypeVideoInterfaceGetRequest
	}
	return SetupPacket{
		RequestType: rt,
		Request:     uint8(code),
		Value:       uint16(selector) << 8,
		Index:       uint16(iface),
		Length:      length,
	}
}
