// This file implements the standard descriptors as defined in the USB 2.0 spec, section 9.6.
package descriptors

import (
	"encoding/binary"
	"io"
)

// Marshaler is implemented by every descriptor the gadget emits.
type Marshaler interface {
	Size() int
	MarshalInto(buf []byte) error
}

// Marshal encodes a descriptor into a freshly allocated buffer of exactly Size bytes.
func Marshal(d Marshaler) ([]byte, error) {
	buf := make([]byte, d.Size())
	return buf, d.MarshalInto(buf)
}

// AppendMarshal encodes d onto the end of dst.
func AppendMarshal(dst []byte, d Marshaler) ([]byte, error) {
	n := len(dst)
	dst = append(dst, make([]byte, d.Size())...)
	return dst, d.MarshalInto(dst[n:])
}

func checkHeader(buf []byte, size int, typ DescriptorType) error {
	if len(buf) < 2 || len(buf) < int(buf[0]) || int(buf[0]) < size {
		return io.ErrShortBuffer
	}
	if DescriptorType(buf[1]) != typ {
		return ErrInvalidDescriptor
	}
	return nil
}

// DeviceDescriptor as defined in USB 2.0 spec, 9.6.1
type DeviceDescriptor struct {
	USB               uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	Device            uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

func (dd *DeviceDescriptor) Size() int { return 18 }

func (dd *DeviceDescriptor) MarshalInto(buf []byte) error {
	if len(buf) < dd.Size() {
		return io.ErrShortBuffer
	}
	buf[0] = byte(dd.Size())
	buf[1] = byte(DescriptorTypeDevice)
	binary.LittleEndian.PutUint16(buf[2:4], dd.USB)
	buf[4] = dd.DeviceClass
	buf[5] = dd.DeviceSubClass
	buf[6] = dd.DeviceProtocol
	buf[7] = dd.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:10], dd.VendorID)
	binary.LittleEndian.PutUint16(buf[10:12], dd.ProductID)
	binary.LittleEndian.PutUint16(buf[12:14], dd.Device)
	buf[14] = dd.ManufacturerIndex
	buf[15] = dd.ProductIndex
	buf[16] = dd.SerialNumberIndex
	buf[17] = dd.NumConfigurations
	return nil
}

func (dd *DeviceDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkHeader(buf, dd.Size(), DescriptorTypeDevice); err != nil {
		return err
	}
	dd.USB = binary.LittleEndian.Uint16(buf[2:4])
	dd.DeviceClass = buf[4]
	dd.DeviceSubClass = buf[5]
	dd.DeviceProtocol = buf[6]
	dd.MaxPacketSize0 = buf[7]
	dd.VendorID = binary.LittleEndian.Uint16(buf[8:10])
	dd.ProductID = binary.LittleEndian.Uint16(buf[10:12])
	dd.Device = binary.LittleEndian.Uint16(buf[12:14])
	dd.ManufacturerIndex = buf[14]
	dd.ProductIndex = buf[15]
	dd.SerialNumberIndex = buf[16]
	dd.NumConfigurations = buf[17]
	return nil
}

// ConfigurationDescriptor as defined in USB 2.0 spec, 9.6.3
type ConfigurationDescriptor struct {
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	DescriptionIndex   uint8
	AttributesBitmask  uint8
	MaxPower           uint8 // in 2 mA units
}

func (cd *ConfigurationDescriptor) Size() int { return 9 }

func (cd *ConfigurationDescriptor) MarshalInto(buf []byte) error {
	if len(buf) < cd.Size() {
		return io.ErrShortBuffer
	}
	buf[0] = byte(cd.Size())
	buf[1] = byte(DescriptorTypeConfiguration)
	binary.LittleEndian.PutUint16(buf[2:4], cd.TotalLength)
	buf[4] = cd.NumInterfaces
	buf[5] = cd.ConfigurationValue
	buf[6] = cd.DescriptionIndex
	buf[7] = cd.AttributesBitmask
	buf[8] = cd.MaxPower
	return nil
}

func (cd *ConfigurationDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkHeader(buf, cd.Size(), DescriptorTypeConfiguration); err != nil {
		return err
	}
	cd.TotalLength = binary.LittleEndian.Uint16(buf[2:4])
	cd.NumInterfaces = buf[4]
	cd.ConfigurationValue = buf[5]
	cd.DescriptionIndex = buf[6]
	cd.AttributesBitmask = buf[7]
	cd.MaxPower = buf[8]
	return nil
}

// InterfaceDescriptor as defined in USB 2.0 spec, 9.6.5. The video control
// and video streaming interfaces (UVC 1.5, 3.7.1 and 3.9.1) are instances of it.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    ClassCode
	InterfaceSubClass SubclassCode
	InterfaceProtocol ProtocolCode
	DescriptionIndex  uint8
}

func (id *InterfaceDescriptor) Size() int { return 9 }

func (id *InterfaceDescriptor) MarshalInto(buf []byte) error {
	if len(buf) < id.Size() {
		return io.ErrShortBuffer
	}
	buf[0] = byte(id.Size())
	buf[1] = byte(DescriptorTypeInterface)
	buf[2] = id.InterfaceNumber
	buf[3] = id.AlternateSetting
	buf[4] = id.NumEndpoints
	buf[5] = byte(id.InterfaceClass)
	buf[6] = byte(id.InterfaceSubClass)
	buf[7] = byte(id.InterfaceProtocol)
	buf[8] = id.DescriptionIndex
	return nil
}

func (id *InterfaceDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkHeader(buf, id.Size(), DescriptorTypeInterface); err != nil {
		return err
	}
	id.InterfaceNumber = buf[2]
	id.AlternateSetting = buf[3]
	id.NumEndpoints = buf[4]
	id.InterfaceClass = ClassCode(buf[5])
	id.InterfaceSubClass = SubclassCode(buf[6])
	id.InterfaceProtocol = ProtocolCode(buf[7])
	id.DescriptionIndex = buf[8]
	return nil
}

func (id *InterfaceDescriptor) IsVideoControl() bool {
	return id.InterfaceClass == ClassCodeVideo && id.InterfaceSubClass == SubclassCodeVideoControl
}

func (id *InterfaceDescriptor) IsVideoStreaming() bool {
	return id.InterfaceClass == ClassCodeVideo && id.InterfaceSubClass == SubclassCodeVideoStreaming
}

type TransferType uint8

const (
	TransferTypeControl     TransferType = 0b00
	TransferTypeIsochronous TransferType = 0b01
	TransferTypeBulk        TransferType = 0b10
	TransferTypeInterrupt   TransferType = 0b11
)

// EndpointDescriptor as defined in USB 2.0 spec, 9.6.6. The bulk video data
// endpoint of UVC 1.5, 3.10.1.2 is an instance of it.
type EndpointDescriptor struct {
	EndpointAddress   uint8
	AttributesBitmask uint8
	MaxPacketSize     uint16
	Interval          uint8
}

func (ed *EndpointDescriptor) Size() int { return 7 }

func (ed *EndpointDescriptor) MarshalInto(buf []byte) error {
	if len(buf) < ed.Size() {
		return io.ErrShortBuffer
	}
	buf[0] = byte(ed.Size())
	buf[1] = byte(DescriptorTypeEndpoint)
	buf[2] = ed.EndpointAddress
	buf[3] = ed.AttributesBitmask
	binary.LittleEndian.PutUint16(buf[4:6], ed.MaxPacketSize)
	buf[6] = ed.Interval
	return nil
}

func (ed *EndpointDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkHeader(buf, ed.Size(), DescriptorTypeEndpoint); err != nil {
		return err
	}
	ed.EndpointAddress = buf[2]
	ed.AttributesBitmask = buf[3]
	ed.MaxPacketSize = binary.LittleEndian.Uint16(buf[4:6])
	ed.Interval = buf[6]
	return nil
}

func (ed *EndpointDescriptor) TransferType() TransferType {
	return TransferType(ed.AttributesBitmask & 0b11)
}

func (ed *EndpointDescriptor) IsIn() bool {
	return ed.EndpointAddress&0b10000000 != 0
}
