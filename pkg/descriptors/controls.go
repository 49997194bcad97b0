package descriptors

import (
	"encoding/binary"
	"io"
	"time"
)

// Probe/commit hint bits, UVC spec 1.5, 4.3.1.1
const (
	HintFrameInterval  uint16 = 1 << 0
	HintKeyFrameRate   uint16 = 1 << 1
	HintPFrameRate     uint16 = 1 << 2
	HintCompQuality    uint16 = 1 << 3
	HintCompWindowSize uint16 = 1 << 4
)

// VideoProbeCommitControl as defined in UVC spec 1.5, 4.3.1.1
type VideoProbeCommitControl struct {
	HintBitmask            uint16
	FormatIndex            uint8
	FrameIndex             uint8
	FrameInterval          time.Duration
	KeyFrameRate           uint16
	PFrameRate             uint16
	CompQuality            uint16
	CompWindowSize         uint16
	Delay                  uint16
	MaxVideoFrameSize      uint32
	MaxPayloadTransferSize uint32

	// added in uvc 1.1
	ClockFrequency     uint32
	FramingInfoBitmask uint8
	PreferedVersion    uint8
	MinVersion         uint8
	MaxVersion         uint8

	// added in uvc 1.5
	Usage                     uint8
	BitDepthLuma              uint8
	SettingsBitmask           uint8
	MaxNumberOfRefFramesPlus1 uint8
	RateControlModes          uint16
	LayoutPerStream           [4]uint16
}

// MarshalSize returns the wire size of the record for a given bcdUVC.
func MarshalSize(bcdUVC uint16) int {
	switch {
	case bcdUVC >= UVC15:
		return 48
	case bcdUVC >= UVC11:
		return 34
	default:
		return 26
	}
}

// MarshalInto writes the record into buf. The layout is chosen by len(buf),
// which must be 26, 34 or at least 48.
func (vpcc *VideoProbeCommitControl) MarshalInto(buf []byte) error {
	if len(buf) < 26 {
		return io.ErrShortBuffer
	}
	binary.LittleEndian.PutUint16(buf[0:2], vpcc.HintBitmask)
	buf[2] = vpcc.FormatIndex
	buf[3] = vpcc.FrameIndex
	binary.LittleEndian.PutUint32(buf[4:8], IntervalUnits(vpcc.FrameInterval))
	binary.LittleEndian.PutUint16(buf[8:10], vpcc.KeyFrameRate)
	binary.LittleEndian.PutUint16(buf[10:12], vpcc.PFrameRate)
	binary.LittleEndian.PutUint16(buf[12:14], vpcc.CompQuality)
	binary.LittleEndian.PutUint16(buf[14:16], vpcc.CompWindowSize)
	binary.LittleEndian.PutUint16(buf[16:18], vpcc.Delay)
	binary.LittleEndian.PutUint32(buf[18:22], vpcc.MaxVideoFrameSize)
	binary.LittleEndian.PutUint32(buf[22:26], vpcc.MaxPayloadTransferSize)
	if len(buf) >= 34 {
		binary.LittleEndian.PutUint32(buf[26:30], vpcc.ClockFrequency)
		buf[30] = vpcc.FramingInfoBitmask
		buf[31] = vpcc.PreferedVersion
		buf[32] = vpcc.MinVersion
		buf[33] = vpcc.MaxVersion
	}

	if len(buf) >= 48 {
		buf[34] = vpcc.Usage
		buf[35] = vpcc.BitDepthLuma
		buf[36] = vpcc.SettingsBitmask
		buf[37] = vpcc.MaxNumberOfRefFramesPlus1
		binary.LittleEndian.PutUint16(buf[38:40], vpcc.RateControlModes)
		for i, l := range vpcc.LayoutPerStream {
			binary.LittleEndian.PutUint16(buf[40+2*i:42+2*i], l)
		}
	}
	return nil
}

func (vpcc *VideoProbeCommitControl) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 48)
	return buf, vpcc.MarshalInto(buf)
}

// MarshalVersion encodes the record in the layout of the given bcdUVC.
func (vpcc *VideoProbeCommitControl) MarshalVersion(bcdUVC uint16) []byte {
	buf := make([]byte, MarshalSize(bcdUVC))
	_ = vpcc.MarshalInto(buf)
	return buf
}

func (vpcc *VideoProbeCommitControl) UnmarshalBinary(buf []byte) error {
	// this descriptor is not length and control-selector prefixed because
	// the data stage of the control transfer carries only the record.
	if len(buf) < 26 {
		return io.ErrShortBuffer
	}
	vpcc.HintBitmask = binary.LittleEndian.Uint16(buf[0:2])
	vpcc.FormatIndex = buf[2]
	vpcc.FrameIndex = buf[3]
	vpcc.FrameInterval = IntervalDuration(binary.LittleEndian.Uint32(buf[4:8]))

	vpcc.KeyFrameRate = binary.LittleEndian.Uint16(buf[8:10])
	vpcc.PFrameRate = binary.LittleEndian.Uint16(buf[10:12])

	vpcc.CompQuality = binary.LittleEndian.Uint16(buf[12:14])
	vpcc.CompWindowSize = binary.LittleEndian.Uint16(buf[14:16])

	vpcc.Delay = binary.LittleEndian.Uint16(buf[16:18])

	vpcc.MaxVideoFrameSize = binary.LittleEndian.Uint32(buf[18:22])
	vpcc.MaxPayloadTransferSize = binary.LittleEndian.Uint32(buf[22:26])

	if len(buf) >= 34 {
		vpcc.ClockFrequency = binary.LittleEndian.Uint32(buf[26:30])
		vpcc.FramingInfoBitmask = buf[30]
		vpcc.PreferedVersion = buf[31]
		vpcc.MinVersion = buf[32]
		vpcc.MaxVersion = buf[33]
	}

	if len(buf) >= 48 {
		vpcc.Usage = buf[34]
		vpcc.BitDepthLuma = buf[35]
		vpcc.SettingsBitmask = buf[36]
		vpcc.MaxNumberOfRefFramesPlus1 = buf[37]
		vpcc.RateControlModes = binary.LittleEndian.Uint16(buf[38:40])
		for i := range vpcc.LayoutPerStream {
			vpcc.LayoutPerStream[i] = binary.LittleEndian.Uint16(buf[40+2*i : 42+2*i])
		}
	}
	return nil
}
