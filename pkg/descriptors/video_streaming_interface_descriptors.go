// This file implements the descriptors as defined in the UVC spec 1.5, section 3.9.
package descriptors

import (
	"encoding"
	"encoding/binary"
	"io"
)

type StreamingInterface interface {
	encoding.BinaryUnmarshaler
	Marshaler
	isStreamingInterface()
}

func UnmarshalStreamingInterface(buf []byte) (StreamingInterface, error) {
	if len(buf) < 3 {
		return nil, io.ErrShortBuffer
	}
	var desc StreamingInterface
	switch VideoStreamingInterfaceDescriptorSubtype(buf[2]) {
	case VideoStreamingInterfaceDescriptorSubtypeInputHeader:
		desc = &InputHeaderDescriptor{}
	case VideoStreamingInterfaceDescriptorSubtypeFormatMJPEG:
		desc = &MJPEGFormatDescriptor{}
	case VideoStreamingInterfaceDescriptorSubtypeFrameMJPEG:
		desc = &MJPEGFrameDescriptor{}
	default:
		return nil, ErrUnsupportedDescriptor
	}
	return desc, desc.UnmarshalBinary(buf)
}

type VideoStreamingInterfaceDescriptorSubtype byte

const (
	VideoStreamingInterfaceDescriptorSubtypeUndefined           VideoStreamingInterfaceDescriptorSubtype = 0x00
	VideoStreamingInterfaceDescriptorSubtypeInputHeader         VideoStreamingInterfaceDescriptorSubtype = 0x01
	VideoStreamingInterfaceDescriptorSubtypeOutputHeader        VideoStreamingInterfaceDescriptorSubtype = 0x02
	VideoStreamingInterfaceDescriptorSubtypeStillImageFrame     VideoStreamingInterfaceDescriptorSubtype = 0x03
	VideoStreamingInterfaceDescriptorSubtypeFormatUncompressed  VideoStreamingInterfaceDescriptorSubtype = 0x04
	VideoStreamingInterfaceDescriptorSubtypeFrameUncompressed   VideoStreamingInterfaceDescriptorSubtype = 0x05
	VideoStreamingInterfaceDescriptorSubtypeFormatMJPEG         VideoStreamingInterfaceDescriptorSubtype = 0x06
	VideoStreamingInterfaceDescriptorSubtypeFrameMJPEG          VideoStreamingInterfaceDescriptorSubtype = 0x07
	VideoStreamingInterfaceDescriptorSubtypeFormatMPEG2TS       VideoStreamingInterfaceDescriptorSubtype = 0x0A
	VideoStreamingInterfaceDescriptorSubtypeFormatDV            VideoStreamingInterfaceDescriptorSubtype = 0x0C
	VideoStreamingInterfaceDescriptorSubtypeColorFormat         VideoStreamingInterfaceDescriptorSubtype = 0x0D
	VideoStreamingInterfaceDescriptorSubtypeFormatFrameBased    VideoStreamingInterfaceDescriptorSubtype = 0x10
	VideoStreamingInterfaceDescriptorSubtypeFrameFrameBased     VideoStreamingInterfaceDescriptorSubtype = 0x11
	VideoStreamingInterfaceDescriptorSubtypeFormatStreamBased   VideoStreamingInterfaceDescriptorSubtype = 0x12
	VideoStreamingInterfaceDescriptorSubtypeFormatH264          VideoStreamingInterfaceDescriptorSubtype = 0x13
	VideoStreamingInterfaceDescriptorSubtypeFrameH264           VideoStreamingInterfaceDescriptorSubtype = 0x14
	VideoStreamingInterfaceDescriptorSubtypeFormatH264Simulcast VideoStreamingInterfaceDescriptorSubtype = 0x15
	VideoStreamingInterfaceDescriptorSubtypeFormatVP8           VideoStreamingInterfaceDescriptorSubtype = 0x16
	VideoStreamingInterfaceDescriptorSubtypeFrameVP8            VideoStreamingInterfaceDescriptorSubtype = 0x17
	VideoStreamingInterfaceDescriptorSubtypeFormatVP8Simulcast  VideoStreamingInterfaceDescriptorSubtype = 0x18
)

// IsFormat reports whether the subtype opens a format group.
func (s VideoStreamingInterfaceDescriptorSubtype) IsFormat() bool {
	switch s {
	case VideoStreamingInterfaceDescriptorSubtypeFormatUncompressed,
		VideoStreamingInterfaceDescriptorSubtypeFormatMJPEG,
		VideoStreamingInterfaceDescriptorSubtypeFormatMPEG2TS,
		VideoStreamingInterfaceDescriptorSubtypeFormatDV,
		VideoStreamingInterfaceDescriptorSubtypeFormatFrameBased,
		VideoStreamingInterfaceDescriptorSubtypeFormatStreamBased,
		VideoStreamingInterfaceDescriptorSubtypeFormatH264,
		VideoStreamingInterfaceDescriptorSubtypeFormatH264Simulcast,
		VideoStreamingInterfaceDescriptorSubtypeFormatVP8,
		VideoStreamingInterfaceDescriptorSubtypeFormatVP8Simulcast:
		return true
	}
	return false
}

// IsFrame reports whether the subtype is a frame descriptor belonging to the preceding format.
func (s VideoStreamingInterfaceDescriptorSubtype) IsFrame() bool {
	switch s {
	case VideoStreamingInterfaceDescriptorSubtypeFrameUncompressed,
		VideoStreamingInterfaceDescriptorSubtypeFrameMJPEG,
		VideoStreamingInterfaceDescriptorSubtypeFrameFrameBased,
		VideoStreamingInterfaceDescriptorSubtypeFrameH264,
		VideoStreamingInterfaceDescriptorSubtypeFrameVP8:
		return true
	}
	return false
}

func checkStreaming(buf []byte, size int, subtype VideoStreamingInterfaceDescriptorSubtype) error {
	if len(buf) < 3 || len(buf) < int(buf[0]) || int(buf[0]) < size {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoStreamingInterfaceDescriptorSubtype(buf[2]) != subtype {
		return ErrInvalidDescriptor
	}
	return nil
}

// InputHeaderDescriptor as defined in UVC spec 1.5, 3.9.2.1
type InputHeaderDescriptor struct {
	TotalLength        uint16
	EndpointAddress    uint8
	InfoBitmask        uint8
	TerminalLink       uint8
	StillCaptureMethod uint8
	TriggerSupport     uint8
	TriggerUsage       uint8
	// ControlBitmasks holds one bmaControls entry per format, all of the same size.
	ControlBitmasks [][]byte
}

func (ihd *InputHeaderDescriptor) NumFormats() int { return len(ihd.ControlBitmasks) }

func (ihd *InputHeaderDescriptor) controlSize() int {
	if len(ihd.ControlBitmasks) == 0 {
		return 0
	}
	return len(ihd.ControlBitmasks[0])
}

func (ihd *InputHeaderDescriptor) Size() int {
	return 13 + len(ihd.ControlBitmasks)*ihd.controlSize()
}

func (ihd *InputHeaderDescriptor) MarshalInto(buf []byte) error {
	if err := putClassSpecific(buf, ihd.Size(), byte(VideoStreamingInterfaceDescriptorSubtypeInputHeader)); err != nil {
		return err
	}
	n := ihd.controlSize()
	buf[3] = byte(len(ihd.ControlBitmasks))
	binary.LittleEndian.PutUint16(buf[4:6], ihd.TotalLength)
	buf[6] = ihd.EndpointAddress
	buf[7] = ihd.InfoBitmask
	buf[8] = ihd.TerminalLink
	buf[9] = ihd.StillCaptureMethod
	buf[10] = ihd.TriggerSupport
	buf[11] = ihd.TriggerUsage
	buf[12] = byte(n)
	for i, bm := range ihd.ControlBitmasks {
		if len(bm) != n {
			return ErrInvalidDescriptor
		}
		copy(buf[13+i*n:13+(i+1)*n], bm)
	}
	return nil
}

func (ihd *InputHeaderDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkStreaming(buf, 13, VideoStreamingInterfaceDescriptorSubtypeInputHeader); err != nil {
		return err
	}
	p := int(buf[3])
	ihd.TotalLength = binary.LittleEndian.Uint16(buf[4:6])
	ihd.EndpointAddress = buf[6]
	ihd.InfoBitmask = buf[7]
	ihd.TerminalLink = buf[8]
	ihd.StillCaptureMethod = buf[9]
	ihd.TriggerSupport = buf[10]
	ihd.TriggerUsage = buf[11]
	n := int(buf[12])
	if 13+p*n > int(buf[0]) {
		return io.ErrShortBuffer
	}
	ihd.ControlBitmasks = make([][]byte, p)
	for i := 0; i < p; i++ {
		ihd.ControlBitmasks[i] = append([]byte(nil), buf[13+i*n:13+(i+1)*n]...)
	}
	return nil
}

func (ihd *InputHeaderDescriptor) isStreamingInterface() {}
