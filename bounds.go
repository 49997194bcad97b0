package gadget

import (
	"fmt"

	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/transfers"
)

// Bounds are the GET_MIN, GET_MAX and GET_DEF records of the probe and
// commit controls, derived from the descriptor table.
type Bounds struct {
	Min descriptors.VideoProbeCommitControl
	Max descriptors.VideoProbeCommitControl
	Def descriptors.VideoProbeCommitControl

	table *descriptors.Table
}

// NewBounds derives the bounds of table for a gadget that offers at most
// maxPayload bytes per transfer.
func NewBounds(table *descriptors.Table, maxPayload uint32) *Bounds {
	b := &Bounds{table: table}
	format := table.Format.FormatIndex
	minPayload := uint32(transfers.HeaderSize + 1)
	if maxPayload < minPayload {
		maxPayload = minPayload
	}

	first := table.FrameDescriptors[0]
	minInterval, maxInterval := first.IntervalRange()
	minSize, maxSize := first.MaxVideoFrameBufferSize, first.MaxVideoFrameBufferSize
	for _, fd := range table.FrameDescriptors[1:] {
		lo, hi := fd.IntervalRange()
		minInterval = min(minInterval, lo)
		maxInterval = max(maxInterval, hi)
		minSize = min(minSize, fd.MaxVideoFrameBufferSize)
		maxSize = max(maxSize, fd.MaxVideoFrameBufferSize)
	}
	last := table.FrameDescriptors[len(table.FrameDescriptors)-1]
	def := table.DefaultFrame()

	b.Min = descriptors.VideoProbeCommitControl{
		FormatIndex:            format,
		FrameIndex:             first.FrameIndex,
		FrameInterval:          minInterval,
		MaxVideoFrameSize:      minSize,
		MaxPayloadTransferSize: minPayload,
	}
	b.Max = descriptors.VideoProbeCommitControl{
		FormatIndex:            format,
		FrameIndex:             last.FrameIndex,
		FrameInterval:          maxInterval,
		MaxVideoFrameSize:      maxSize,
		MaxPayloadTransferSize: maxPayload,
	}
	b.Def = descriptors.VideoProbeCommitControl{
		FormatIndex:            format,
		FrameIndex:             def.FrameIndex,
		FrameInterval:          def.DefaultFrameInterval,
		MaxVideoFrameSize:      def.MaxVideoFrameBufferSize,
		MaxPayloadTransferSize: maxPayload,
	}
	if table.Config.UVC >= descriptors.UVC11 {
		for _, r := range []*descriptors.VideoProbeCommitControl{&b.Min, &b.Max, &b.Def} {
			r.ClockFrequency = descriptors.DefaultClockFrequency
		}
	}
	return b
}

// RecordSize is the size of the probe and commit record on the wire.
func (b *Bounds) RecordSize() int {
	return descriptors.MarshalSize(b.table.Config.UVC)
}

// Check reports ErrOutOfRange unless p names an existing format and frame and
// every non-zero field lies within what that frame supports.
func (b *Bounds) Check(p descriptors.VideoProbeCommitControl) error {
	fd, ok := b.table.Frame(p.FormatIndex, p.FrameIndex)
	if !ok {
		return fmt.Errorf("%w: format %d frame %d", ErrOutOfRange, p.FormatIndex, p.FrameIndex)
	}
	if p.FrameInterval != 0 && !fd.SupportsInterval(p.FrameInterval) {
		lo, hi := fd.IntervalRange()
		return fmt.Errorf("%w: interval %d not offered by frame %d (%d..%d)", ErrOutOfRange,
			descriptors.IntervalUnits(p.FrameInterval), fd.FrameIndex,
			descriptors.IntervalUnits(lo), descriptors.IntervalUnits(hi))
	}
	if p.MaxPayloadTransferSize != 0 &&
		(p.MaxPayloadTransferSize < b.Min.MaxPayloadTransferSize || p.MaxPayloadTransferSize > b.Max.MaxPayloadTransferSize) {
		return fmt.Errorf("%w: payload size %d not in %d..%d", ErrOutOfRange,
			p.MaxPayloadTransferSize, b.Min.MaxPayloadTransferSize, b.Max.MaxPayloadTransferSize)
	}
	if p.MaxVideoFrameSize > fd.MaxVideoFrameBufferSize {
		return fmt.Errorf("%w: frame size %d exceeds %d", ErrOutOfRange, p.MaxVideoFrameSize, fd.MaxVideoFrameBufferSize)
	}
	return nil
}

// Resolve fills the fields a host left at zero with the device's choice and
// returns the frame descriptor p selects. Records that fail Check resolve to
// the defaults.
func (b *Bounds) Resolve(p descriptors.VideoProbeCommitControl) (descriptors.VideoProbeCommitControl, *descriptors.MJPEGFrameDescriptor) {
	if b.Check(p) != nil {
		p = b.Def
	}
	fd, _ := b.table.Frame(p.FormatIndex, p.FrameIndex)
	if p.FrameInterval == 0 {
		p.FrameInterval = fd.DefaultFrameInterval
	}
	if p.MaxVideoFrameSize == 0 {
		p.MaxVideoFrameSize = fd.MaxVideoFrameBufferSize
	}
	if p.MaxPayloadTransferSize == 0 {
		p.MaxPayloadTransferSize = b.Max.MaxPayloadTransferSize
	}
	return p, fd
}

// Compatible reports ErrOutOfRange unless commit selects the same format,
// frame, interval and payload size as probe once both are resolved.
func (b *Bounds) Compatible(probe, commit descriptors.VideoProbeCommitControl) error {
	p, _ := b.Resolve(probe)
	c, _ := b.Resolve(commit)
	switch {
	case p.FormatIndex != c.FormatIndex || p.FrameIndex != c.FrameIndex:
		return fmt.Errorf("%w: commit format %d frame %d, probe has format %d frame %d", ErrOutOfRange,
			c.FormatIndex, c.FrameIndex, p.FormatIndex, p.FrameIndex)
	case descriptors.IntervalUnits(p.FrameInterval) != descriptors.IntervalUnits(c.FrameInterval):
		return fmt.Errorf("%w: commit interval %d, probe has %d", ErrOutOfRange,
			descriptors.IntervalUnits(c.FrameInterval), descriptors.IntervalUnits(p.FrameInterval))
	case p.MaxPayloadTransferSize != c.MaxPayloadTransferSize:
		return fmt.Errorf("%w: commit payload size %d, probe has %d", ErrOutOfRange,
			c.MaxPayloadTransferSize, p.MaxPayloadTransferSize)
	}
	return nil
}
