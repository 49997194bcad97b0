package descriptors

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type validator struct {
	interfaces map[uint8]bool

	iface     *InterfaceDescriptor
	endpoints int
	vcTotal   int // declared by the VC header, -1 when absent
	vcSum     int
	vsTotal   int // declared by the VS input header, -1 when absent
	vsSum     int
	vsFormats int
	vsSeen    int
	format    *formatState
}

type formatState struct {
	index        uint8
	numFrames    int
	defaultFrame uint8
	frames       int
}

func invalid(off int, format string, args ...any) error {
	return fmt.Errorf("%w: offset %d: %s", ErrInvalidTable, off, fmt.Sprintf(format, args...))
}

// Validate walks a complete configuration descriptor blob and checks that
// every declared length and count agrees with the descriptors present.
func Validate(config []byte) error {
	var cd ConfigurationDescriptor
	if err := cd.UnmarshalBinary(config); err != nil {
		return invalid(0, "configuration header: %v", err)
	}
	if int(cd.TotalLength) != len(config) {
		return invalid(0, "wTotalLength %d, blob is %d bytes", cd.TotalLength, len(config))
	}
	v := &validator{interfaces: map[uint8]bool{}, vcTotal: -1, vsTotal: -1}

	for off := int(config[0]); off < len(config); {
		n := int(config[off])
		if n < 2 || off+n > len(config) {
			return invalid(off, "bLength %d overruns blob", n)
		}
		d := config[off : off+n]
		var err error
		switch {
		case DescriptorType(d[1]) == DescriptorTypeInterface:
			err = v.interfaceDescriptor(off, d)
		case DescriptorType(d[1]) == DescriptorTypeEndpoint:
			if v.iface == nil {
				err = invalid(off, "endpoint outside an interface")
			}
			v.endpoints++
		case ClassSpecificDescriptorType(d[1]) == ClassSpecificDescriptorTypeInterface:
			err = v.classSpecific(off, d)
		}
		if err != nil {
			return err
		}
		off += n
	}
	if err := v.closeInterface(len(config)); err != nil {
		return err
	}
	if len(v.interfaces) != int(cd.NumInterfaces) {
		return invalid(0, "bNumInterfaces %d, found %d", cd.NumInterfaces, len(v.interfaces))
	}
	return nil
}

func (v *validator) interfaceDescriptor(off int, d []byte) error {
	if err := v.closeInterface(off); err != nil {
		return err
	}
	id := &InterfaceDescriptor{}
	if err := id.UnmarshalBinary(d); err != nil {
		return invalid(off, "interface: %v", err)
	}
	v.iface = id
	v.endpoints = 0
	v.interfaces[id.InterfaceNumber] = true
	return nil
}

func (v *validator) closeInterface(off int) error {
	if v.iface == nil {
		return nil
	}
	if v.endpoints != int(v.iface.NumEndpoints) {
		return invalid(off, "interface %d alt %d declares %d endpoints, found %d",
			v.iface.InterfaceNumber, v.iface.AlternateSetting, v.iface.NumEndpoints, v.endpoints)
	}
	if err := v.closeFormat(off); err != nil {
		return err
	}
	if v.vcTotal >= 0 && v.vcTotal != v.vcSum {
		return invalid(off, "VC header wTotalLength %d, descriptors sum to %d", v.vcTotal, v.vcSum)
	}
	if v.vsTotal >= 0 {
		if v.vsTotal != v.vsSum {
			return invalid(off, "VS input header wTotalLength %d, descriptors sum to %d", v.vsTotal, v.vsSum)
		}
		if v.vsFormats != v.vsSeen {
			return invalid(off, "VS input header bNumFormats %d, found %d", v.vsFormats, v.vsSeen)
		}
	}
	v.vcTotal, v.vcSum, v.vsTotal, v.vsSum, v.vsFormats, v.vsSeen = -1, 0, -1, 0, 0, 0
	return nil
}

func (v *validator) closeFormat(off int) error {
	f := v.format
	if f == nil {
		return nil
	}
	v.format = nil
	if f.frames != f.numFrames {
		return invalid(off, "format %d bNumFrameDescriptors %d, found %d", f.index, f.numFrames, f.frames)
	}
	if f.defaultFrame == 0 || int(f.defaultFrame) > f.frames {
		return invalid(off, "format %d bDefaultFrameIndex %d does not exist", f.index, f.defaultFrame)
	}
	return nil
}

func (v *validator) classSpecific(off int, d []byte) error {
	if v.iface == nil || v.iface.InterfaceClass != ClassCodeVideo || len(d) < 3 {
		return nil
	}
	switch {
	case v.iface.IsVideoControl():
		if VideoControlInterfaceDescriptorSubtype(d[2]) == VideoControlInterfaceDescriptorSubtypeHeader {
			hd := &HeaderDescriptor{}
			if err := hd.UnmarshalBinary(d); err != nil {
				return invalid(off, "VC header: %v", err)
			}
			v.vcTotal = int(hd.TotalLength)
		}
		v.vcSum += len(d)
	case v.iface.IsVideoStreaming():
		return v.streaming(off, d)
	}
	return nil
}

func (v *validator) streaming(off int, d []byte) error {
	subtype := VideoStreamingInterfaceDescriptorSubtype(d[2])
	switch {
	case subtype == VideoStreamingInterfaceDescriptorSubtypeInputHeader:
		ih := &InputHeaderDescriptor{}
		if err := ih.UnmarshalBinary(d); err != nil {
			return invalid(off, "VS input header: %v", err)
		}
		v.vsTotal = int(ih.TotalLength)
		v.vsFormats = ih.NumFormats()
	case subtype.IsFormat():
		if err := v.closeFormat(off); err != nil {
			return err
		}
		if len(d) < 7 {
			return invalid(off, "format descriptor too short")
		}
		v.vsSeen++
		v.format = &formatState{index: d[3], numFrames: int(d[4]), defaultFrame: d[6]}
	case subtype.IsFrame():
		if v.format == nil {
			return invalid(off, "frame descriptor outside a format")
		}
		v.format.frames++
		if int(d[3]) != v.format.frames {
			return invalid(off, "format %d frame index %d, want %d", v.format.index, d[3], v.format.frames)
		}
		if subtype == VideoStreamingInterfaceDescriptorSubtypeFrameMJPEG {
			if err := checkIntervals(off, d); err != nil {
				return err
			}
		}
	}
	v.vsSum += len(d)
	return nil
}

func checkIntervals(off int, d []byte) error {
	fd := &MJPEGFrameDescriptor{}
	if err := fd.UnmarshalBinary(d); err != nil {
		return invalid(off, "frame %d: %v", d[3], err)
	}
	if int(d[0]) != fd.Size() {
		return invalid(off, "frame %d bLength %d, want %d", fd.FrameIndex, d[0], fd.Size())
	}
	if len(fd.DiscreteFrameIntervals) == 0 {
		c := fd.ContinuousFrameInterval
		if c.MinFrameInterval == 0 || c.MinFrameInterval > c.MaxFrameInterval {
			return invalid(off, "frame %d continuous range %v..%v", fd.FrameIndex, c.MinFrameInterval, c.MaxFrameInterval)
		}
	}
	if !fd.SupportsInterval(fd.DefaultFrameInterval) {
		return invalid(off, "frame %d default interval %d not supported", fd.FrameIndex, IntervalUnits(fd.DefaultFrameInterval))
	}
	return nil
}

// ParseConfiguration decodes the class-specific descriptors of a configuration
// blob. Descriptors without a typed decoder are skipped.
func ParseConfiguration(config []byte) ([]ControlInterface, []StreamingInterface, error) {
	var (
		vc    []ControlInterface
		vs    []StreamingInterface
		iface *InterfaceDescriptor
	)
	for off := 0; off < len(config); {
		n := int(config[off])
		if n < 2 || off+n > len(config) {
			return nil, nil, invalid(off, "bLength %d overruns blob", n)
		}
		d := config[off : off+n]
		off += n
		switch {
		case DescriptorType(d[1]) == DescriptorTypeInterface:
			iface = &InterfaceDescriptor{}
			if err := iface.UnmarshalBinary(d); err != nil {
				return nil, nil, err
			}
		case ClassSpecificDescriptorType(d[1]) == ClassSpecificDescriptorTypeInterface && iface != nil:
			if iface.IsVideoControl() {
				desc, err := UnmarshalControlInterface(d)
				if errors.Is(err, ErrUnsupportedDescriptor) {
					continue
				} else if err != nil {
					return nil, nil, err
				}
				vc = append(vc, desc)
			} else if iface.IsVideoStreaming() {
				desc, err := UnmarshalStreamingInterface(d)
				if errors.Is(err, ErrUnsupportedDescriptor) {
					continue
				} else if err != nil {
					return nil, nil, err
				}
				vs = append(vs, desc)
			}
		}
	}
	return vc, vs, nil
}

// TotalLength reads wTotalLength from the head of a configuration descriptor.
func TotalLength(config []byte) (int, error) {
	if len(config) < 4 || DescriptorType(config[1]) != DescriptorTypeConfiguration {
		return 0, ErrInvalidDescriptor
	}
	return int(binary.LittleEndian.Uint16(config[2:4])), nil
}
