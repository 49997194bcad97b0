// This file implements the descriptors as defined in the UVC spec 1.5, section 3.7.
package descriptors

import (
	"encoding"
	"encoding/binary"
	"io"
)

type ControlInterface interface {
	encoding.BinaryUnmarshaler
	Marshaler
	isControlInterface()
}

func UnmarshalControlInterface(buf []byte) (ControlInterface, error) {
	if len(buf) < 3 {
		return nil, io.ErrShortBuffer
	}
	var desc ControlInterface
	switch VideoControlInterfaceDescriptorSubtype(buf[2]) {
	case VideoControlInterfaceDescriptorSubtypeHeader:
		desc = &HeaderDescriptor{}
	case VideoControlInterfaceDescriptorSubtypeInputTerminal:
		if len(buf) >= 6 && InputTerminalType(binary.LittleEndian.Uint16(buf[4:6])) == InputTerminalTypeCamera {
			desc = &CameraTerminalDescriptor{}
		} else {
			desc = &InputTerminalDescriptor{}
		}
	case VideoControlInterfaceDescriptorSubtypeOutputTerminal:
		desc = &OutputTerminalDescriptor{}
	case VideoControlInterfaceDescriptorSubtypeProcessingUnit:
		desc = &ProcessingUnitDescriptor{}
	default:
		return nil, ErrUnsupportedDescriptor
	}
	return desc, desc.UnmarshalBinary(buf)
}

type VideoControlInterfaceDescriptorSubtype byte

const (
	VideoControlInterfaceDescriptorSubtypeUndefined      VideoControlInterfaceDescriptorSubtype = 0x00
	VideoControlInterfaceDescriptorSubtypeHeader         VideoControlInterfaceDescriptorSubtype = 0x01
	VideoControlInterfaceDescriptorSubtypeInputTerminal  VideoControlInterfaceDescriptorSubtype = 0x02
	VideoControlInterfaceDescriptorSubtypeOutputTerminal VideoControlInterfaceDescriptorSubtype = 0x03
	VideoControlInterfaceDescriptorSubtypeSelectorUnit   VideoControlInterfaceDescriptorSubtype = 0x04
	VideoControlInterfaceDescriptorSubtypeProcessingUnit VideoControlInterfaceDescriptorSubtype = 0x05
	VideoControlInterfaceDescriptorSubtypeExtensionUnit  VideoControlInterfaceDescriptorSubtype = 0x06
	VideoControlInterfaceDescriptorSubtypeEncodingUnit   VideoControlInterfaceDescriptorSubtype = 0x07
)

type TerminalType uint16

const (
	TerminalTypeVendorSpecific TerminalType = 0x0100
	TerminalTypeStreaming      TerminalType = 0x0101
)

type InputTerminalType uint16

const (
	InputTerminalTypeVendorSpecific      InputTerminalType = 0x0200
	InputTerminalTypeCamera              InputTerminalType = 0x0201
	InputTerminalTypeMediaTransportInput InputTerminalType = 0x0202
)

type OutputTerminalType uint16

const (
	OutputTerminalTypeVendorSpecific       OutputTerminalType = 0x0300
	OutputTerminalTypeCamera               OutputTerminalType = 0x0301
	OutputTerminalTypeMediaTransportOutput OutputTerminalType = 0x0302
)

func checkClassSpecific(buf []byte, size int, subtype VideoControlInterfaceDescriptorSubtype) error {
	if len(buf) < 3 || len(buf) < int(buf[0]) || int(buf[0]) < size {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoControlInterfaceDescriptorSubtype(buf[2]) != subtype {
		return ErrInvalidDescriptor
	}
	return nil
}

func putClassSpecific(buf []byte, size int, subtype byte) error {
	if len(buf) < size {
		return io.ErrShortBuffer
	}
	buf[0] = byte(size)
	buf[1] = byte(ClassSpecificDescriptorTypeInterface)
	buf[2] = subtype
	return nil
}

// HeaderDescriptor as defined in UVC spec 1.5, 3.7.2.1
type HeaderDescriptor struct {
	UVC                            uint16
	TotalLength                    uint16
	ClockFrequency                 uint32
	VideoStreamingInterfaceIndexes []uint8
}

func (hd *HeaderDescriptor) Size() int { return 12 + len(hd.VideoStreamingInterfaceIndexes) }

func (hd *HeaderDescriptor) MarshalInto(buf []byte) error {
	if err := putClassSpecific(buf, hd.Size(), byte(VideoControlInterfaceDescriptorSubtypeHeader)); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(buf[3:5], hd.UVC)
	binary.LittleEndian.PutUint16(buf[5:7], hd.TotalLength)
	binary.LittleEndian.PutUint32(buf[7:11], hd.ClockFrequency)
	buf[11] = byte(len(hd.VideoStreamingInterfaceIndexes))
	copy(buf[12:], hd.VideoStreamingInterfaceIndexes)
	return nil
}

func (hd *HeaderDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkClassSpecific(buf, 12, VideoControlInterfaceDescriptorSubtypeHeader); err != nil {
		return err
	}
	hd.UVC = binary.LittleEndian.Uint16(buf[3:5])
	hd.TotalLength = binary.LittleEndian.Uint16(buf[5:7])
	hd.ClockFrequency = binary.LittleEndian.Uint32(buf[7:11])
	n := int(buf[11])
	if 12+n > int(buf[0]) {
		return io.ErrShortBuffer
	}
	hd.VideoStreamingInterfaceIndexes = append([]uint8(nil), buf[12:12+n]...)
	return nil
}

func (hd *HeaderDescriptor) isControlInterface() {}

// InputTerminalDescriptor as defined in UVC spec 1.5, 3.7.2.1
type InputTerminalDescriptor struct {
	TerminalID           uint8
	TerminalType         InputTerminalType
	AssociatedTerminalID uint8
	DescriptionIndex     uint8
}

func (itd *InputTerminalDescriptor) Size() int { return 8 }

func (itd *InputTerminalDescriptor) MarshalInto(buf []byte) error {
	if err := putClassSpecific(buf, itd.Size(), byte(VideoControlInterfaceDescriptorSubtypeInputTerminal)); err != nil {
		return err
	}
	buf[3] = itd.TerminalID
	binary.LittleEndian.PutUint16(buf[4:6], uint16(itd.TerminalType))
	buf[6] = itd.AssociatedTerminalID
	buf[7] = itd.DescriptionIndex
	return nil
}

func (itd *InputTerminalDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkClassSpecific(buf, itd.Size(), VideoControlInterfaceDescriptorSubtypeInputTerminal); err != nil {
		return err
	}
	itd.TerminalID = buf[3]
	itd.TerminalType = InputTerminalType(binary.LittleEndian.Uint16(buf[4:6]))
	itd.AssociatedTerminalID = buf[6]
	itd.DescriptionIndex = buf[7]
	return nil
}

func (itd *InputTerminalDescriptor) isControlInterface() {}

// OutputTerminalDescriptor as defined in UVC spec 1.5, 3.7.2.2
type OutputTerminalDescriptor struct {
	TerminalID           uint8
	TerminalType         OutputTerminalType
	AssociatedTerminalID uint8
	SourceID             uint8
	DescriptionIndex     uint8
}

func (otd *OutputTerminalDescriptor) Size() int { return 9 }

func (otd *OutputTerminalDescriptor) MarshalInto(buf []byte) error {
	if err := putClassSpecific(buf, otd.Size(), byte(VideoControlInterfaceDescriptorSubtypeOutputTerminal)); err != nil {
		return err
	}
	buf[3] = otd.TerminalID
	binary.LittleEndian.PutUint16(buf[4:6], uint16(otd.TerminalType))
	buf[6] = otd.AssociatedTerminalID
	buf[7] = otd.SourceID
	buf[8] = otd.DescriptionIndex
	return nil
}

func (otd *OutputTerminalDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkClassSpecific(buf, otd.Size(), VideoControlInterfaceDescriptorSubtypeOutputTerminal); err != nil {
		return err
	}
	otd.TerminalID = buf[3]
	otd.TerminalType = OutputTerminalType(binary.LittleEndian.Uint16(buf[4:6]))
	otd.AssociatedTerminalID = buf[6]
	otd.SourceID = buf[7]
	otd.DescriptionIndex = buf[8]
	return nil
}

func (otd *OutputTerminalDescriptor) isControlInterface() {}

// CameraTerminalDescriptor as defined in UVC spec 1.5, 3.7.2.3
type CameraTerminalDescriptor struct {
	TerminalID              uint8
	AssociatedTerminalID    uint8
	DescriptionIndex        uint8
	ObjectiveFocalLengthMin uint16
	ObjectiveFocalLengthMax uint16
	OcularFocalLength       uint16
	ControlsBitmask         []byte
}

func (ctd *CameraTerminalDescriptor) Size() int { return 15 + len(ctd.ControlsBitmask) }

func (ctd *CameraTerminalDescriptor) MarshalInto(buf []byte) error {
	if err := putClassSpecific(buf, ctd.Size(), byte(VideoControlInterfaceDescriptorSubtypeInputTerminal)); err != nil {
		return err
	}
	buf[3] = ctd.TerminalID
	binary.LittleEndian.PutUint16(buf[4:6], uint16(InputTerminalTypeCamera))
	buf[6] = ctd.AssociatedTerminalID
	buf[7] = ctd.DescriptionIndex
	binary.LittleEndian.PutUint16(buf[8:10], ctd.ObjectiveFocalLengthMin)
	binary.LittleEndian.PutUint16(buf[10:12], ctd.ObjectiveFocalLengthMax)
	binary.LittleEndian.PutUint16(buf[12:14], ctd.OcularFocalLength)
	buf[14] = byte(len(ctd.ControlsBitmask))
	copy(buf[15:], ctd.ControlsBitmask)
	return nil
}

func (ctd *CameraTerminalDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkClassSpecific(buf, 15, VideoControlInterfaceDescriptorSubtypeInputTerminal); err != nil {
		return err
	}
	if InputTerminalType(binary.LittleEndian.Uint16(buf[4:6])) != InputTerminalTypeCamera {
		return ErrInvalidDescriptor
	}
	ctd.TerminalID = buf[3]
	ctd.AssociatedTerminalID = buf[6]
	ctd.DescriptionIndex = buf[7]
	ctd.ObjectiveFocalLengthMin = binary.LittleEndian.Uint16(buf[8:10])
	ctd.ObjectiveFocalLengthMax = binary.LittleEndian.Uint16(buf[10:12])
	ctd.OcularFocalLength = binary.LittleEndian.Uint16(buf[12:14])
	n := int(buf[14])
	if 15+n > int(buf[0]) {
		return io.ErrShortBuffer
	}
	ctd.ControlsBitmask = append([]byte(nil), buf[15:15+n]...)
	return nil
}

func (ctd *CameraTerminalDescriptor) isControlInterface() {}

// ProcessingUnitDescriptor as defined in UVC spec 1.5, 3.7.2.5
type ProcessingUnitDescriptor struct {
	UnitID                uint8
	SourceID              uint8
	MaxMultiplier         uint16
	ControlsBitmask       []byte
	DescriptionIndex      uint8
	VideoStandardsBitmask uint8

	// HasVideoStandards is false for the UVC 1.0 layout, which ends at iProcessing.
	HasVideoStandards bool
}

func (pud *ProcessingUnitDescriptor) Size() int {
	n := 9 + len(pud.ControlsBitmask)
	if pud.HasVideoStandards {
		n++
	}
	return n
}

func (pud *ProcessingUnitDescriptor) MarshalInto(buf []byte) error {
	if err := putClassSpecific(buf, pud.Size(), byte(VideoControlInterfaceDescriptorSubtypeProcessingUnit)); err != nil {
		return err
	}
	n := len(pud.ControlsBitmask)
	buf[3] = pud.UnitID
	buf[4] = pud.SourceID
	binary.LittleEndian.PutUint16(buf[5:7], pud.MaxMultiplier)
	buf[7] = byte(n)
	copy(buf[8:8+n], pud.ControlsBitmask)
	buf[8+n] = pud.DescriptionIndex
	if pud.HasVideoStandards {
		buf[9+n] = pud.VideoStandardsBitmask
	}
	return nil
}

func (pud *ProcessingUnitDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkClassSpecific(buf, 9, VideoControlInterfaceDescriptorSubtypeProcessingUnit); err != nil {
		return err
	}
	pud.UnitID = buf[3]
	pud.SourceID = buf[4]
	pud.MaxMultiplier = binary.LittleEndian.Uint16(buf[5:7])
	n := int(buf[7])
	if 9+n > int(buf[0]) {
		return io.ErrShortBuffer
	}
	pud.ControlsBitmask = make([]byte, n)
	copy(pud.ControlsBitmask, buf[8:8+n])
	pud.DescriptionIndex = buf[8+n]
	pud.HasVideoStandards = int(buf[0]) > 9+n
	if pud.HasVideoStandards {
		pud.VideoStandardsBitmask = buf[9+n]
	}
	return nil
}

func (pud *ProcessingUnitDescriptor) isControlInterface() {}
