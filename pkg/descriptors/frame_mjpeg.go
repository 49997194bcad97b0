package descriptors

import (
	"encoding/binary"
	"time"
)

// IntervalUnits converts a frame interval to the 100 ns units used on the wire.
func IntervalUnits(d time.Duration) uint32 {
	return uint32(d / (100 * time.Nanosecond))
}

// IntervalDuration converts a wire frame interval in 100 ns units to a duration.
func IntervalDuration(units uint32) time.Duration {
	return time.Duration(units) * 100 * time.Nanosecond
}

// MJPEG format flags, UVC MJPEG payload spec 1.5, 3.1.1.
const (
	MJPEGFlagFixedSizeSamples uint8 = 0x01
)

type MJPEGFormatDescriptor struct {
	FormatIndex                uint8
	NumFrameDescriptors        uint8
	Flags                      uint8
	DefaultFrameIndex          uint8
	AspectRatioX, AspectRatioY uint8
	InterlaceFlags             uint8
	CopyProtect                uint8
}

func (mfd *MJPEGFormatDescriptor) Size() int { return 11 }

func (mfd *MJPEGFormatDescriptor) MarshalInto(buf []byte) error {
	if err := putClassSpecific(buf, mfd.Size(), byte(VideoStreamingInterfaceDescriptorSubtypeFormatMJPEG)); err != nil {
		return err
	}
	buf[3] = mfd.FormatIndex
	buf[4] = mfd.NumFrameDescriptors
	buf[5] = mfd.Flags
	buf[6] = mfd.DefaultFrameIndex
	buf[7] = mfd.AspectRatioX
	buf[8] = mfd.AspectRatioY
	buf[9] = mfd.InterlaceFlags
	buf[10] = mfd.CopyProtect
	return nil
}

func (mfd *MJPEGFormatDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkStreaming(buf, mfd.Size(), VideoStreamingInterfaceDescriptorSubtypeFormatMJPEG); err != nil {
		return err
	}
	mfd.FormatIndex = buf[3]
	mfd.NumFrameDescriptors = buf[4]
	mfd.Flags = buf[5]
	mfd.DefaultFrameIndex = buf[6]
	mfd.AspectRatioX = buf[7]
	mfd.AspectRatioY = buf[8]
	mfd.InterlaceFlags = buf[9]
	mfd.CopyProtect = buf[10]
	return nil
}

func (mfd *MJPEGFormatDescriptor) Index() uint8 { return mfd.FormatIndex }

func (mfd *MJPEGFormatDescriptor) NumFrames() uint8 { return mfd.NumFrameDescriptors }

func (mfd *MJPEGFormatDescriptor) isStreamingInterface() {}

func (mfd *MJPEGFormatDescriptor) isFormatDescriptor() {}

// MJPEG frame capabilities.
const (
	FrameCapabilityStillImage     uint8 = 0x01
	FrameCapabilityFixedFrameRate uint8 = 0x02
)

type MJPEGFrameDescriptor struct {
	FrameIndex              uint8
	Capabilities            uint8
	Width, Height           uint16
	MinBitRate, MaxBitRate  uint32
	MaxVideoFrameBufferSize uint32
	DefaultFrameInterval    time.Duration

	ContinuousFrameInterval struct {
		MinFrameInterval, MaxFrameInterval, FrameIntervalStep time.Duration
	}
	DiscreteFrameIntervals []time.Duration
}

func (mfd *MJPEGFrameDescriptor) Size() int {
	if len(mfd.DiscreteFrameIntervals) == 0 {
		return 38
	}
	return 26 + 4*len(mfd.DiscreteFrameIntervals)
}

func (mfd *MJPEGFrameDescriptor) MarshalInto(buf []byte) error {
	if err := putClassSpecific(buf, mfd.Size(), byte(VideoStreamingInterfaceDescriptorSubtypeFrameMJPEG)); err != nil {
		return err
	}
	if len(mfd.DiscreteFrameIntervals) > 0xFF {
		return ErrInvalidDescriptor
	}
	buf[3] = mfd.FrameIndex
	buf[4] = mfd.Capabilities
	binary.LittleEndian.PutUint16(buf[5:7], mfd.Width)
	binary.LittleEndian.PutUint16(buf[7:9], mfd.Height)
	binary.LittleEndian.PutUint32(buf[9:13], mfd.MinBitRate)
	binary.LittleEndian.PutUint32(buf[13:17], mfd.MaxBitRate)
	binary.LittleEndian.PutUint32(buf[17:21], mfd.MaxVideoFrameBufferSize)
	binary.LittleEndian.PutUint32(buf[21:25], IntervalUnits(mfd.DefaultFrameInterval))
	buf[25] = byte(len(mfd.DiscreteFrameIntervals))
	if len(mfd.DiscreteFrameIntervals) == 0 {
		binary.LittleEndian.PutUint32(buf[26:30], IntervalUnits(mfd.ContinuousFrameInterval.MinFrameInterval))
		binary.LittleEndian.PutUint32(buf[30:34], IntervalUnits(mfd.ContinuousFrameInterval.MaxFrameInterval))
		binary.LittleEndian.PutUint32(buf[34:38], IntervalUnits(mfd.ContinuousFrameInterval.FrameIntervalStep))
		return nil
	}
	for i, d := range mfd.DiscreteFrameIntervals {
		binary.LittleEndian.PutUint32(buf[26+i*4:30+i*4], IntervalUnits(d))
	}
	return nil
}

func (mfd *MJPEGFrameDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkStreaming(buf, 26, VideoStreamingInterfaceDescriptorSubtypeFrameMJPEG); err != nil {
		return err
	}
	mfd.FrameIndex = buf[3]
	mfd.Capabilities = buf[4]
	mfd.Width = binary.LittleEndian.Uint16(buf[5:7])
	mfd.Height = binary.LittleEndian.Uint16(buf[7:9])
	mfd.MinBitRate = binary.LittleEndian.Uint32(buf[9:13])
	mfd.MaxBitRate = binary.LittleEndian.Uint32(buf[13:17])
	mfd.MaxVideoFrameBufferSize = binary.LittleEndian.Uint32(buf[17:21])
	mfd.DefaultFrameInterval = IntervalDuration(binary.LittleEndian.Uint32(buf[21:25]))

	n := int(buf[25])

	if n == 0 {
		// Continuous frame intervals
		if int(buf[0]) < 38 {
			return ErrInvalidDescriptor
		}
		mfd.ContinuousFrameInterval.MinFrameInterval = IntervalDuration(binary.LittleEndian.Uint32(buf[26:30]))
		mfd.ContinuousFrameInterval.MaxFrameInterval = IntervalDuration(binary.LittleEndian.Uint32(buf[30:34]))
		mfd.ContinuousFrameInterval.FrameIntervalStep = IntervalDuration(binary.LittleEndian.Uint32(buf[34:38]))
		mfd.DiscreteFrameIntervals = nil
		return nil
	}
	if int(buf[0]) < 26+4*n {
		return ErrInvalidDescriptor
	}
	mfd.DiscreteFrameIntervals = make([]time.Duration, n)
	for i := 0; i < n; i++ {
		mfd.DiscreteFrameIntervals[i] = IntervalDuration(binary.LittleEndian.Uint32(buf[26+i*4 : 30+i*4]))
	}
	return nil
}

// IntervalRange returns the shortest and longest frame interval the frame supports.
func (mfd *MJPEGFrameDescriptor) IntervalRange() (min, max time.Duration) {
	if len(mfd.DiscreteFrameIntervals) == 0 {
		return mfd.ContinuousFrameInterval.MinFrameInterval, mfd.ContinuousFrameInterval.MaxFrameInterval
	}
	min, max = mfd.DiscreteFrameIntervals[0], mfd.DiscreteFrameIntervals[0]
	for _, d := range mfd.DiscreteFrameIntervals[1:] {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}

// SupportsInterval reports whether d is one of the discrete intervals, or
// lies on the continuous range.
func (mfd *MJPEGFrameDescriptor) SupportsInterval(d time.Duration) bool {
	if len(mfd.DiscreteFrameIntervals) > 0 {
		for _, i := range mfd.DiscreteFrameIntervals {
			if IntervalUnits(i) == IntervalUnits(d) {
				return true
			}
		}
		return false
	}
	c := mfd.ContinuousFrameInterval
	if d < c.MinFrameInterval || d > c.MaxFrameInterval {
		return false
	}
	if c.FrameIntervalStep == 0 {
		return true
	}
	return (IntervalUnits(d)-IntervalUnits(c.MinFrameInterval))%IntervalUnits(c.FrameIntervalStep) == 0
}

func (mfd *MJPEGFrameDescriptor) Index() uint8 { return mfd.FrameIndex }

func (mfd *MJPEGFrameDescriptor) isStreamingInterface() {}

func (mfd *MJPEGFrameDescriptor) isFrameDescriptor() {}
