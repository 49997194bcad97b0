package descriptors

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func buildDefault(t *testing.T) *Table {
	t.Helper()
	table, err := BuildTable(DefaultTableConfig())
	if err != nil {
		t.Fatalf("BuildTable failed: %v", err)
	}
	return table
}

func TestBuildTable_Default(t *testing.T) {
	table := buildDefault(t)

	if len(table.Configuration) != 188 {
		t.Errorf("len(Configuration) = %d, want 188", len(table.Configuration))
	}
	if err := Validate(table.Configuration); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if n, err := TotalLength(table.Configuration); err != nil || n != len(table.Configuration) {
		t.Errorf("TotalLength() = %d, %v, want %d", n, err, len(table.Configuration))
	}

	var dd DeviceDescriptor
	if err := dd.UnmarshalBinary(table.Device); err != nil {
		t.Fatalf("device UnmarshalBinary failed: %v", err)
	}
	if dd.DeviceClass != 0xEF || dd.DeviceSubClass != 0x02 || dd.DeviceProtocol != 0x01 {
		t.Errorf("device class = %02x/%02x/%02x, want ef/02/01", dd.DeviceClass, dd.DeviceSubClass, dd.DeviceProtocol)
	}
	if dd.VendorID != 0x303A || dd.ProductID != 0x1001 {
		t.Errorf("device id = %04x:%04x, want 303a:1001", dd.VendorID, dd.ProductID)
	}

	// VC header sits after configuration, IAD and the VC interface descriptor.
	if got := binary.LittleEndian.Uint16(table.Configuration[31:33]); got != 52 {
		t.Errorf("VC header wTotalLength = %d, want 52", got)
	}
	// VS input header sits after the VS alt 0 interface descriptor.
	if got := binary.LittleEndian.Uint16(table.Configuration[91:93]); got != 85 {
		t.Errorf("VS input header wTotalLength = %d, want 85", got)
	}
	if table.Format.NumFrameDescriptors != 2 {
		t.Errorf("bNumFrameDescriptors = %d, want 2", table.Format.NumFrameDescriptors)
	}
}

func TestBuildTable_Frames(t *testing.T) {
	table := buildDefault(t)

	tests := []struct {
		index         uint8
		width, height uint16
		interval      uint32
	}{
		{1, 640, 480, 666666},
		{2, 320, 240, 333333},
	}
	for _, tt := range tests {
		fd, ok := table.Frame(MJPEGFormatIndex, tt.index)
		if !ok {
			t.Fatalf("Frame(1, %d) not found", tt.index)
		}
		if fd.Width != tt.width || fd.Height != tt.height {
			t.Errorf("frame %d size = %dx%d, want %dx%d", tt.index, fd.Width, fd.Height, tt.width, tt.height)
		}
		if got := IntervalUnits(fd.DefaultFrameInterval); got != tt.interval {
			t.Errorf("frame %d default interval = %d, want %d", tt.index, got, tt.interval)
		}
		if want := uint32(tt.width)*uint32(tt.height)*2 + JPEGHeaderAllowance; fd.MaxVideoFrameBufferSize != want {
			t.Errorf("frame %d buffer size = %d, want %d", tt.index, fd.MaxVideoFrameBufferSize, want)
		}
		if fd.MinBitRate == 0 || fd.MinBitRate != fd.MaxBitRate {
			t.Errorf("frame %d bitrate = %d..%d, want equal and non-zero", tt.index, fd.MinBitRate, fd.MaxBitRate)
		}
	}
	if _, ok := table.Frame(MJPEGFormatIndex, 3); ok {
		t.Error("Frame(1, 3) found, want missing")
	}
	if _, ok := table.Frame(2, 1); ok {
		t.Error("Frame(2, 1) found, want missing")
	}
	if fd := table.DefaultFrame(); fd == nil || fd.FrameIndex != 1 {
		t.Errorf("DefaultFrame() = %v, want frame 1", fd)
	}
}

func TestBuildTable_UVC11(t *testing.T) {
	cfg := DefaultTableConfig()
	cfg.UVC = UVC11
	table, err := BuildTable(cfg)
	if err != nil {
		t.Fatalf("BuildTable failed: %v", err)
	}
	// the processing unit gains bmVideoStandards
	if len(table.Configuration) != 189 {
		t.Errorf("len(Configuration) = %d, want 189", len(table.Configuration))
	}
	if err := Validate(table.Configuration); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestBuildTable_ManyIntervals(t *testing.T) {
	cfg := DefaultTableConfig()
	cfg.Frames = []FrameConfig{
		{Width: 1280, Height: 1024, Intervals: []time.Duration{
			IntervalDuration(333333), IntervalDuration(666666), IntervalDuration(1000000),
		}, DefaultInterval: IntervalDuration(666666)},
	}
	table, err := BuildTable(cfg)
	if err != nil {
		t.Fatalf("BuildTable failed: %v", err)
	}
	if err := Validate(table.Configuration); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	fd := table.FrameDescriptors[0]
	if fd.MinBitRate >= fd.MaxBitRate {
		t.Errorf("bitrate = %d..%d, want min < max", fd.MinBitRate, fd.MaxBitRate)
	}
}

func TestFrameConfig_BitRate(t *testing.T) {
	tests := []struct {
		name  string
		fc    FrameConfig
		units uint32
		want  uint32
	}{
		{"vga 15 fps", FrameConfig{Width: 640, Height: 480}, 666666, 73728073},
		{"4k 60 fps", FrameConfig{Width: 3840, Height: 2160}, 166666, math.MaxUint32},
		{"largest frame", FrameConfig{Width: math.MaxUint16, Height: math.MaxUint16}, 1, math.MaxUint32},
		{"no interval", FrameConfig{Width: 640, Height: 480}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fc.bitRate(IntervalDuration(tt.units)); got != tt.want {
				t.Errorf("bitRate(%d) = %d, want %d", tt.units, got, tt.want)
			}
		})
	}
}

func TestBuildTable_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TableConfig)
	}{
		{"no frames", func(c *TableConfig) { c.Frames = nil }},
		{"default frame out of range", func(c *TableConfig) { c.DefaultFrameIndex = 3 }},
		{"no intervals", func(c *TableConfig) { c.Frames[0].Intervals = nil }},
		{"unlisted default interval", func(c *TableConfig) { c.Frames[0].DefaultInterval = time.Second }},
		{"OUT endpoint", func(c *TableConfig) { c.EndpointAddress = 0x01 }},
		{"zero size", func(c *TableConfig) { c.Frames[1].Width = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTableConfig()
			tt.mutate(&cfg)
			if _, err := BuildTable(cfg); !errors.Is(err, ErrInvalidTable) {
				t.Errorf("BuildTable() = %v, want %v", err, ErrInvalidTable)
			}
		})
	}
}

func TestValidate_Corrupted(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		value  byte
	}{
		{"wTotalLength", 2, 0xFF},
		{"bNumInterfaces", 4, 3},
		{"VC header wTotalLength", 31, 53},
		{"VS input header bNumFormats", 90, 2},
		{"VS input header wTotalLength", 91, 84},
		{"bNumFrameDescriptors", 105, 1},
		{"bDefaultFrameIndex", 107, 5},
		{"frame index gap", 145, 3},
		{"default interval", 133, 0x01},
		{"bNumEndpoints", 176, 2},
		{"bLength zero", 181, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := append([]byte(nil), buildDefault(t).Configuration...)
			config[tt.offset] = tt.value
			if err := Validate(config); !errors.Is(err, ErrInvalidTable) {
				t.Errorf("Validate() = %v, want %v", err, ErrInvalidTable)
			}
		})
	}
}

func TestValidate_Truncated(t *testing.T) {
	config := buildDefault(t).Configuration
	if err := Validate(config[:100]); err == nil {
		t.Error("Validate(truncated) = nil, want error")
	}
	if err := Validate(config[:4]); err == nil {
		t.Error("Validate(4 bytes) = nil, want error")
	}
}

func TestTable_Parse(t *testing.T) {
	vc, vs, err := buildDefault(t).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(vc) != 4 {
		t.Fatalf("len(vc) = %d, want 4", len(vc))
	}
	if _, ok := vc[1].(*CameraTerminalDescriptor); !ok {
		t.Errorf("vc[1] = %T, want *CameraTerminalDescriptor", vc[1])
	}
	if ot, ok := vc[3].(*OutputTerminalDescriptor); !ok || ot.SourceID != ProcessingUnitID {
		t.Errorf("vc[3] = %+v, want output terminal fed by unit %d", vc[3], ProcessingUnitID)
	}
	if len(vs) != 4 {
		t.Fatalf("len(vs) = %d, want 4", len(vs))
	}
	ih, ok := vs[0].(*InputHeaderDescriptor)
	if !ok {
		t.Fatalf("vs[0] = %T, want *InputHeaderDescriptor", vs[0])
	}
	if ih.EndpointAddress != 0x81 || ih.TerminalLink != OutputTerminalID || ih.StillCaptureMethod != 1 {
		t.Errorf("input header = %+v", ih)
	}
	fd, ok := vs[3].(*MJPEGFrameDescriptor)
	if !ok {
		t.Fatalf("vs[3] = %T, want *MJPEGFrameDescriptor", vs[3])
	}
	if fd.Width != 320 || IntervalUnits(fd.DiscreteFrameIntervals[0]) != 333333 {
		t.Errorf("frame 2 = %dx%d @ %d, want 320x240 @ 333333", fd.Width, fd.Height, IntervalUnits(fd.DiscreteFrameIntervals[0]))
	}
}

func TestTable_Descriptor(t *testing.T) {
	table := buildDefault(t)

	if b, err := table.Descriptor(DescriptorTypeDevice, 0); err != nil || len(b) != 18 {
		t.Errorf("Descriptor(device) = %d bytes, %v, want 18 bytes", len(b), err)
	}
	b, err := table.Descriptor(DescriptorTypeString, 0)
	if err != nil {
		t.Fatalf("Descriptor(string 0) failed: %v", err)
	}
	langs, err := UnmarshalLanguages(b)
	if err != nil || len(langs) != 1 || langs[0] != LanguageIDEnglishUS {
		t.Errorf("languages = %v, %v, want [0x0409]", langs, err)
	}

	wants := map[uint8]string{
		StringIndexManufacturer: "Espressif Systems",
		StringIndexProduct:      "XIAO ESP32S3 UVC Webcam",
		StringIndexSerial:       "123456",
	}
	for index, want := range wants {
		b, err := table.Descriptor(DescriptorTypeString, index)
		if err != nil {
			t.Fatalf("Descriptor(string %d) failed: %v", index, err)
		}
		if got, err := UnmarshalString(b); err != nil || got != want {
			t.Errorf("string %d = %q, %v, want %q", index, got, err, want)
		}
	}

	if _, err := table.Descriptor(DescriptorTypeString, 9); !errors.Is(err, ErrNoSuchDescriptor) {
		t.Errorf("Descriptor(string 9) = %v, want %v", err, ErrNoSuchDescriptor)
	}
	if _, err := table.Descriptor(DescriptorTypeEndpoint, 0); !errors.Is(err, ErrNoSuchDescriptor) {
		t.Errorf("Descriptor(endpoint) = %v, want %v", err, ErrNoSuchDescriptor)
	}
}

func TestMJPEGFrameDescriptor_RoundTrip(t *testing.T) {
	tests := []*MJPEGFrameDescriptor{
		{
			FrameIndex: 1, Capabilities: FrameCapabilityStillImage, Width: 640, Height: 480,
			MinBitRate: 1000, MaxBitRate: 2000, MaxVideoFrameBufferSize: 614400,
			DefaultFrameInterval:   IntervalDuration(666666),
			DiscreteFrameIntervals: []time.Duration{IntervalDuration(333333), IntervalDuration(666666)},
		},
		func() *MJPEGFrameDescriptor {
			fd := &MJPEGFrameDescriptor{FrameIndex: 2, Width: 320, Height: 240, DefaultFrameInterval: IntervalDuration(400000)}
			fd.ContinuousFrameInterval.MinFrameInterval = IntervalDuration(333333)
			fd.ContinuousFrameInterval.MaxFrameInterval = IntervalDuration(1000000)
			fd.ContinuousFrameInterval.FrameIntervalStep = IntervalDuration(1)
			return fd
		}(),
	}
	for _, want := range tests {
		buf, err := Marshal(want)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		got := &MJPEGFrameDescriptor{}
		if err := got.UnmarshalBinary(buf); err != nil {
			t.Fatalf("UnmarshalBinary failed: %v", err)
		}
		if got.Size() != want.Size() || got.Width != want.Width || got.DefaultFrameInterval != want.DefaultFrameInterval {
			t.Errorf("decoded = %+v, want %+v", got, want)
		}
		if !got.SupportsInterval(want.DefaultFrameInterval) {
			t.Errorf("SupportsInterval(%v) = false, want true", want.DefaultFrameInterval)
		}
	}
}

func TestMarshalString_TooLong(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := MarshalString(string(long)); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("MarshalString(200 chars) = %v, want %v", err, ErrStringTooLong)
	}
}
