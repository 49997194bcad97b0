package descriptors

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
	"time"
)

// Fixed layout of the video function.
const (
	VideoControlInterface   uint8 = 0
	VideoStreamingInterface uint8 = 1

	CameraTerminalID   uint8 = 1
	ProcessingUnitID   uint8 = 2
	OutputTerminalID   uint8 = 3
	MJPEGFormatIndex   uint8 = 1
	ConfigurationValue uint8 = 1

	StringIndexManufacturer uint8 = 1
	StringIndexProduct      uint8 = 2
	StringIndexSerial       uint8 = 3

	// DefaultClockFrequency is the dwClockFrequency reported in the VC header.
	DefaultClockFrequency uint32 = 6000000
)

type FrameConfig struct {
	Width, Height uint16
	// Intervals lists the discrete frame intervals the frame supports.
	Intervals []time.Duration
	// DefaultInterval must be one of Intervals. Zero selects Intervals[0].
	DefaultInterval time.Duration
	// MaxFrameSize is dwMaxVideoFrameBufferSize. Zero means MaxFrameSize(Width, Height).
	MaxFrameSize uint32
}

func (fc FrameConfig) defaultInterval() time.Duration {
	if fc.DefaultInterval != 0 || len(fc.Intervals) == 0 {
		return fc.DefaultInterval
	}
	return fc.Intervals[0]
}

func (fc FrameConfig) maxFrameSize() uint32 {
	if fc.MaxFrameSize != 0 {
		return fc.MaxFrameSize
	}
	return MaxFrameSize(int(fc.Width), int(fc.Height))
}

// JPEGHeaderAllowance is the room left for markers, quantization and
// Huffman tables on top of two bytes per pixel.
const JPEGHeaderAllowance = 1024

// MaxFrameSize is the largest encoded w x h MJPEG frame the gadget expects.
func MaxFrameSize(w, h int) uint32 {
	return uint32(w)*uint32(h)*2 + JPEGHeaderAllowance
}

// bitRate is width*height*16 bits per frame at the given interval.
func (fc FrameConfig) bitRate(interval time.Duration) uint32 {
	if interval <= 0 {
		return 0
	}
	bitsPerFrame := uint64(fc.Width) * uint64(fc.Height) * 16
	hi, lo := bits.Mul64(bitsPerFrame, uint64(time.Second))
	if hi >= uint64(interval) {
		return math.MaxUint32
	}
	rate, _ := bits.Div64(hi, lo, uint64(interval))
	if rate > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(rate)
}

type TableConfig struct {
	VendorID      uint16
	ProductID     uint16
	DeviceRelease uint16
	Manufacturer  string
	Product       string
	Serial        string

	// UVC is the bcdUVC of the function, UVC10 or UVC11.
	UVC             uint16
	EndpointAddress uint8
	MaxPacketSize   uint16
	// MaxPower is in mA.
	MaxPower uint16

	Frames []FrameConfig
	// DefaultFrameIndex is 1-based. Zero selects the first frame.
	DefaultFrameIndex uint8
	StillCapture      bool
}

// DefaultTableConfig describes a bus-powered MJPEG webcam with VGA at 15 fps
// and QVGA at 30 fps on a bulk endpoint.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		VendorID:        0x303A,
		ProductID:       0x1001,
		DeviceRelease:   0x0100,
		Manufacturer:    "Espressif Systems",
		Product:         "XIAO ESP32S3 UVC Webcam",
		Serial:          "123456",
		UVC:             UVC10,
		EndpointAddress: 0x81,
		MaxPacketSize:   512,
		MaxPower:        100,
		Frames: []FrameConfig{
			{Width: 640, Height: 480, Intervals: []time.Duration{IntervalDuration(666666)}},
			{Width: 320, Height: 240, Intervals: []time.Duration{IntervalDuration(333333)}},
		},
		DefaultFrameIndex: 1,
		StillCapture:      true,
	}
}

// FrameInfo is the negotiable view of one frame descriptor.
type FrameInfo struct {
	Index           uint8
	Width, Height   uint16
	Intervals       []time.Duration
	DefaultInterval time.Duration
	MaxFrameSize    uint32
}

// Table is the complete descriptor set of the gadget. Its byte slices must not
// be modified.
type Table struct {
	Config        TableConfig
	Device        []byte
	Configuration []byte
	// Strings is indexed by string descriptor index. Strings[0] is the LANGID list.
	Strings [][]byte
	Frames  []FrameInfo

	VCInterface   uint8
	VSInterface   uint8
	Endpoint      uint8
	MaxPacketSize uint16

	Format           *MJPEGFormatDescriptor
	FrameDescriptors []*MJPEGFrameDescriptor
}

// BuildTable lays out the descriptor set for cfg, computing every length and
// count field from the descriptors that are actually emitted.
func BuildTable(cfg TableConfig) (*Table, error) {
	if len(cfg.Frames) == 0 || len(cfg.Frames) > 0xFF {
		return nil, fmt.Errorf("%w: need 1..255 frames, got %d", ErrInvalidTable, len(cfg.Frames))
	}
	if cfg.EndpointAddress&0x80 == 0 {
		return nil, fmt.Errorf("%w: endpoint %#02x is not IN", ErrInvalidTable, cfg.EndpointAddress)
	}
	if cfg.MaxPacketSize < 8 {
		return nil, fmt.Errorf("%w: wMaxPacketSize %d", ErrInvalidTable, cfg.MaxPacketSize)
	}
	if cfg.UVC == 0 {
		cfg.UVC = UVC10
	}
	if cfg.DefaultFrameIndex == 0 {
		cfg.DefaultFrameIndex = 1
	}
	if int(cfg.DefaultFrameIndex) > len(cfg.Frames) {
		return nil, fmt.Errorf("%w: default frame %d of %d", ErrInvalidTable, cfg.DefaultFrameIndex, len(cfg.Frames))
	}

	t := &Table{
		Config:        cfg,
		VCInterface:   VideoControlInterface,
		VSInterface:   VideoStreamingInterface,
		Endpoint:      cfg.EndpointAddress,
		MaxPacketSize: cfg.MaxPacketSize,
	}

	var capabilities uint8
	if cfg.StillCapture {
		capabilities |= FrameCapabilityStillImage
	}
	for i, fc := range cfg.Frames {
		if fc.Width == 0 || fc.Height == 0 {
			return nil, fmt.Errorf("%w: frame %d has no size", ErrInvalidTable, i+1)
		}
		if len(fc.Intervals) == 0 {
			return nil, fmt.Errorf("%w: frame %d has no intervals", ErrInvalidTable, i+1)
		}
		fd := &MJPEGFrameDescriptor{
			FrameIndex:              uint8(i + 1),
			Capabilities:            capabilities,
			Width:                   fc.Width,
			Height:                  fc.Height,
			MaxVideoFrameBufferSize: fc.maxFrameSize(),
			DefaultFrameInterval:    fc.defaultInterval(),
			DiscreteFrameIntervals:  append([]time.Duration(nil), fc.Intervals...),
		}
		if !fd.SupportsInterval(fd.DefaultFrameInterval) {
			return nil, fmt.Errorf("%w: frame %d default interval %v not listed", ErrInvalidTable, i+1, fd.DefaultFrameInterval)
		}
		shortest, longest := fd.IntervalRange()
		fd.MaxBitRate = fc.bitRate(shortest)
		fd.MinBitRate = fc.bitRate(longest)
		t.FrameDescriptors = append(t.FrameDescriptors, fd)
		t.Frames = append(t.Frames, FrameInfo{
			Index:           fd.FrameIndex,
			Width:           fd.Width,
			Height:          fd.Height,
			Intervals:       fd.DiscreteFrameIntervals,
			DefaultInterval: fd.DefaultFrameInterval,
			MaxFrameSize:    fd.MaxVideoFrameBufferSize,
		})
	}
	t.Format = &MJPEGFormatDescriptor{
		FormatIndex:         MJPEGFormatIndex,
		NumFrameDescriptors: uint8(len(t.FrameDescriptors)),
		Flags:               MJPEGFlagFixedSizeSamples,
		DefaultFrameIndex:   cfg.DefaultFrameIndex,
	}

	device := &DeviceDescriptor{
		USB:               0x0200,
		DeviceClass:       DeviceClassMiscellaneous,
		DeviceSubClass:    DeviceSubclassCommon,
		DeviceProtocol:    DeviceProtocolIAD,
		MaxPacketSize0:    64,
		VendorID:          cfg.VendorID,
		ProductID:         cfg.ProductID,
		Device:            cfg.DeviceRelease,
		ManufacturerIndex: StringIndexManufacturer,
		ProductIndex:      StringIndexProduct,
		SerialNumberIndex: StringIndexSerial,
		NumConfigurations: 1,
	}
	var err error
	if t.Device, err = Marshal(device); err != nil {
		return nil, err
	}

	if t.Configuration, err = t.buildConfiguration(); err != nil {
		return nil, err
	}

	t.Strings = [][]byte{MarshalLanguages(LanguageIDEnglishUS)}
	for _, s := range []string{cfg.Manufacturer, cfg.Product, cfg.Serial} {
		b, err := MarshalString(s)
		if err != nil {
			return nil, err
		}
		t.Strings = append(t.Strings, b)
	}
	return t, nil
}

func (t *Table) buildConfiguration() ([]byte, error) {
	cfg := t.Config
	controls := []byte{0, 0, 0}

	vcUnits := []Marshaler{
		&CameraTerminalDescriptor{
			TerminalID:      CameraTerminalID,
			ControlsBitmask: controls,
		},
		&ProcessingUnitDescriptor{
			UnitID:            ProcessingUnitID,
			SourceID:          CameraTerminalID,
			MaxMultiplier:     0x4000,
			ControlsBitmask:   controls,
			HasVideoStandards: cfg.UVC >= UVC11,
		},
		&OutputTerminalDescriptor{
			TerminalID:   OutputTerminalID,
			TerminalType: OutputTerminalType(TerminalTypeStreaming),
			SourceID:     ProcessingUnitID,
		},
	}
	vcHeader := &HeaderDescriptor{
		UVC:                            cfg.UVC,
		ClockFrequency:                 DefaultClockFrequency,
		VideoStreamingInterfaceIndexes: []uint8{VideoStreamingInterface},
	}
	vcHeader.TotalLength = uint16(vcHeader.Size() + sumSizes(vcUnits))

	vsFormat := []Marshaler{t.Format}
	for _, fd := range t.FrameDescriptors {
		vsFormat = append(vsFormat, fd)
	}
	inputHeader := &InputHeaderDescriptor{
		EndpointAddress: cfg.EndpointAddress,
		TerminalLink:    OutputTerminalID,
		ControlBitmasks: [][]byte{{0}},
	}
	if cfg.StillCapture {
		inputHeader.StillCaptureMethod = 1
	}
	inputHeader.TotalLength = uint16(inputHeader.Size() + sumSizes(vsFormat))

	body := []Marshaler{
		&InterfaceAssociationDescriptor{
			FirstInterface:   VideoControlInterface,
			InterfaceCount:   2,
			FunctionClass:    ClassCodeVideo,
			FunctionSubClass: SubclassCodeVideoInterfaceCollection,
		},
		&InterfaceDescriptor{
			InterfaceNumber:   VideoControlInterface,
			InterfaceClass:    ClassCodeVideo,
			InterfaceSubClass: SubclassCodeVideoControl,
		},
		vcHeader,
	}
	body = append(body, vcUnits...)
	body = append(body,
		&InterfaceDescriptor{
			InterfaceNumber:   VideoStreamingInterface,
			InterfaceClass:    ClassCodeVideo,
			InterfaceSubClass: SubclassCodeVideoStreaming,
		},
		inputHeader,
	)
	body = append(body, vsFormat...)
	body = append(body,
		&InterfaceDescriptor{
			InterfaceNumber:   VideoStreamingInterface,
			AlternateSetting:  1,
			NumEndpoints:      1,
			InterfaceClass:    ClassCodeVideo,
			InterfaceSubClass: SubclassCodeVideoStreaming,
		},
		&EndpointDescriptor{
			EndpointAddress:   cfg.EndpointAddress,
			AttributesBitmask: uint8(TransferTypeBulk),
			MaxPacketSize:     cfg.MaxPacketSize,
		},
	)

	config := &ConfigurationDescriptor{
		NumInterfaces:      2,
		ConfigurationValue: ConfigurationValue,
		AttributesBitmask:  0x80,
		MaxPower:           uint8(min(cfg.MaxPower/2, 0xFF)),
	}
	total := config.Size() + sumSizes(body)
	if total > 0xFFFF {
		return nil, fmt.Errorf("%w: configuration is %d bytes", ErrInvalidTable, total)
	}
	config.TotalLength = uint16(total)

	buf, err := Marshal(config)
	if err != nil {
		return nil, err
	}
	for _, d := range body {
		if buf, err = AppendMarshal(buf, d); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func sumSizes(ds []Marshaler) int {
	n := 0
	for _, d := range ds {
		n += d.Size()
	}
	return n
}

// Frame returns the frame descriptor for a format and frame index pair.
func (t *Table) Frame(formatIndex, frameIndex uint8) (*MJPEGFrameDescriptor, bool) {
	if formatIndex != t.Format.FormatIndex || frameIndex == 0 || int(frameIndex) > len(t.FrameDescriptors) {
		return nil, false
	}
	return t.FrameDescriptors[frameIndex-1], true
}

// DefaultFrame returns the frame selected by bDefaultFrameIndex.
func (t *Table) DefaultFrame() *MJPEGFrameDescriptor {
	fd, _ := t.Frame(t.Format.FormatIndex, t.Format.DefaultFrameIndex)
	return fd
}

// Descriptor answers GET_DESCRIPTOR for the device, configuration and string types.
func (t *Table) Descriptor(typ DescriptorType, index uint8) ([]byte, error) {
	switch typ {
	case DescriptorTypeDevice:
		return t.Device, nil
	case DescriptorTypeConfiguration:
		if index != 0 {
			return nil, ErrNoSuchDescriptor
		}
		return t.Configuration, nil
	case DescriptorTypeString:
		if int(index) >= len(t.Strings) {
			return nil, ErrNoSuchDescriptor
		}
		return t.Strings[index], nil
	}
	return nil, ErrNoSuchDescriptor
}

// Parse decodes the class-specific descriptors of the configuration back
// through the typed decoders.
func (t *Table) Parse() ([]ControlInterface, []StreamingInterface, error) {
	return ParseConfiguration(t.Configuration)
}

func (t *Table) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "device %04x:%04x release %s, %q %q %q\n",
		t.Config.VendorID, t.Config.ProductID, BinaryCodedDecimal(t.Config.DeviceRelease),
		t.Config.Manufacturer, t.Config.Product, t.Config.Serial)
	fmt.Fprintf(&sb, "uvc %s, configuration %d bytes, endpoint %#02x bulk %d\n",
		BinaryCodedDecimal(t.Config.UVC), len(t.Configuration), t.Endpoint, t.MaxPacketSize)
	fmt.Fprintf(&sb, "format %d mjpeg, %d frames, default %d\n",
		t.Format.FormatIndex, t.Format.NumFrameDescriptors, t.Format.DefaultFrameIndex)
	for _, fd := range t.FrameDescriptors {
		fmt.Fprintf(&sb, "  frame %d %dx%d buffer %d bitrate %d..%d default %d",
			fd.FrameIndex, fd.Width, fd.Height, fd.MaxVideoFrameBufferSize,
			fd.MinBitRate, fd.MaxBitRate, IntervalUnits(fd.DefaultFrameInterval))
		for _, d := range fd.DiscreteFrameIntervals {
			fmt.Fprintf(&sb, " %d", IntervalUnits(d))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
