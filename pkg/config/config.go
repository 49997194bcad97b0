// Package config loads the gadget configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/logging"
	"github.com/kevmo314/go-uvc-gadget/pkg/source"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Video     VideoConfig     `yaml:"video"`
	Stream    StreamConfig    `yaml:"stream"`
	Source    SourceConfig    `yaml:"source"`
	Transport TransportConfig `yaml:"transport"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Log       LogConfig       `yaml:"log"`
}

// DeviceConfig is the USB identity of the gadget.
type DeviceConfig struct {
	VendorID     uint16 `yaml:"vendor_id"`
	ProductID    uint16 `yaml:"product_id"`
	BCDDevice    uint16 `yaml:"bcd_device"`
	Manufacturer string `yaml:"manufacturer"`
	Product      string `yaml:"product"`
	// Serial is filled with a random UUID when empty.
	Serial string `yaml:"serial"`
}

// FrameConfig is one advertised frame size. Preset takes precedence over
// Width and Height.
type FrameConfig struct {
	Preset       string `yaml:"preset,omitempty"`
	Width        int    `yaml:"width,omitempty"`
	Height       int    `yaml:"height,omitempty"`
	FPS          []int  `yaml:"fps"`
	MaxFrameSize uint32 `yaml:"max_frame_size,omitempty"`
}

// Size resolves the preset or the explicit size.
func (f FrameConfig) Size() (int, int, error) {
	if f.Preset != "" {
		p, err := source.ParsePreset(f.Preset)
		if err != nil {
			return 0, 0, err
		}
		return p.Width, p.Height, nil
	}
	if f.Width <= 0 || f.Height <= 0 || f.Width > 0xFFFF || f.Height > 0xFFFF {
		return 0, 0, fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	return f.Width, f.Height, nil
}

type VideoConfig struct {
	UVCVersion    uint16 `yaml:"uvc_version"`
	Endpoint      uint8  `yaml:"endpoint"`
	MaxPacketSize uint16 `yaml:"max_packet_size"`
	// MaxPayloadTransferSize is the largest payload the gadget offers in
	// PROBE, header included.
	MaxPayloadTransferSize uint32 `yaml:"max_payload_transfer_size"`
	// BufferCapacity is the size of the streaming buffer. Larger frames are
	// dropped.
	BufferCapacity int           `yaml:"buffer_capacity"`
	Frames         []FrameConfig `yaml:"frames"`
	// DefaultFrame is 1-based.
	DefaultFrame      int    `yaml:"default_frame"`
	CommitPolicy      string `yaml:"commit_policy"`
	FillProbeDefaults bool   `yaml:"fill_probe_defaults"`
	StillCapture      bool   `yaml:"still_capture"`
}

type StreamConfig struct {
	IdleInterval Duration      `yaml:"idle_interval"`
	RetryBackoff BackoffConfig `yaml:"retry_backoff"`
	Yield        Duration      `yaml:"yield"`
	// Pace sleeps out the negotiated frame interval after every frame.
	Pace bool `yaml:"pace"`
}

// BackoffConfig bounds the exponential backoff after a capture or write
// failure.
type BackoffConfig struct {
	Min Duration `yaml:"min"`
	Max Duration `yaml:"max"`
}

type SourceConfig struct {
	Kind  string   `yaml:"kind"`
	Dir   string   `yaml:"dir,omitempty"`
	Files []string `yaml:"files,omitempty"`
	// Quality is on the sensor scale, 0 best and 63 worst.
	Quality  int `yaml:"quality"`
	PoolSize int `yaml:"pool_size"`
	// StillEvery makes the pattern source send every n-th frame as a still.
	StillEvery int `yaml:"still_every"`
}

type TransportConfig struct {
	Kind     string `yaml:"kind"`
	BusDir   string `yaml:"bus_dir"`
	DeviceID string `yaml:"device_id,omitempty"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a time.Duration written as a string such as "10ms".
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			VendorID:     0x303A,
			ProductID:    0x1001,
			BCDDevice:    0x0100,
			Manufacturer: "Espressif Systems",
			Product:      "XIAO ESP32S3 UVC Webcam",
			Serial:       "123456",
		},
		Video: VideoConfig{
			UVCVersion:             descriptors.UVC10,
			Endpoint:               0x81,
			MaxPacketSize:          512,
			MaxPayloadTransferSize: 512,
			BufferCapacity:         65536,
			Frames: []FrameConfig{
				{Preset: "VGA", FPS: []int{15}},
				{Preset: "QVGA", FPS: []int{30}},
			},
			DefaultFrame: 1,
			CommitPolicy: "apply",
			StillCapture: true,
		},
		Stream: StreamConfig{
			IdleInterval: Duration(10 * time.Millisecond),
			RetryBackoff: BackoffConfig{
				Min: Duration(5 * time.Millisecond),
				Max: Duration(200 * time.Millisecond),
			},
			Yield: Duration(time.Millisecond),
		},
		Source: SourceConfig{
			Kind:     "pattern",
			Quality:  source.DefaultQuality,
			PoolSize: source.DefaultPoolSize,
		},
		Transport: TransportConfig{
			Kind:   "fifo",
			BusDir: filepath.Join(os.TempDir(), "uvc-bus"),
		},
		Monitor: MonitorConfig{Addr: ":8080"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the file at path over the defaults, then applies UVC_*
// environment overrides and validates the result. An empty or missing path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if cfg.Device.Serial == "" {
		cfg.Device.Serial = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := c.Video
	if v.UVCVersion != descriptors.UVC10 && v.UVCVersion != descriptors.UVC11 {
		return fmt.Errorf("video.uvc_version %#04x: want 0x0100 or 0x0110", v.UVCVersion)
	}
	if v.Endpoint&0x80 == 0 || v.Endpoint&0x0F == 0 || v.Endpoint&0x70 != 0 {
		return fmt.Errorf("video.endpoint %#02x is not an IN endpoint", v.Endpoint)
	}
	if v.MaxPacketSize < 8 || v.MaxPacketSize > 1024 {
		return fmt.Errorf("video.max_packet_size %d out of range 8..1024", v.MaxPacketSize)
	}
	if v.MaxPayloadTransferSize <= 2 || v.MaxPayloadTransferSize > 0xFFFF {
		return fmt.Errorf("video.max_payload_transfer_size %d out of range 3..65535", v.MaxPayloadTransferSize)
	}
	if v.BufferCapacity <= 0 {
		return fmt.Errorf("video.buffer_capacity must be positive")
	}
	if len(v.Frames) == 0 {
		return fmt.Errorf("video.frames is empty")
	}
	for i, f := range v.Frames {
		if _, _, err := f.Size(); err != nil {
			return fmt.Errorf("video.frames[%d]: %w", i, err)
		}
		if len(f.FPS) == 0 {
			return fmt.Errorf("video.frames[%d]: no fps", i)
		}
		for _, fps := range f.FPS {
			if fps <= 0 || fps > 240 {
				return fmt.Errorf("video.frames[%d]: fps %d out of range 1..240", i, fps)
			}
		}
	}
	if v.DefaultFrame < 1 || v.DefaultFrame > len(v.Frames) {
		return fmt.Errorf("video.default_frame %d out of range 1..%d", v.DefaultFrame, len(v.Frames))
	}
	if v.CommitPolicy != "apply" && v.CommitPolicy != "restart" {
		return fmt.Errorf("video.commit_policy %q: want apply or restart", v.CommitPolicy)
	}

	s := c.Stream
	if s.IdleInterval <= 0 || s.RetryBackoff.Min <= 0 || s.Yield < 0 {
		return fmt.Errorf("stream intervals must be positive")
	}
	if s.RetryBackoff.Max < s.RetryBackoff.Min {
		return fmt.Errorf("stream.retry_backoff.max %v is below min %v", s.RetryBackoff.Max.D(), s.RetryBackoff.Min.D())
	}

	switch c.Source.Kind {
	case "pattern":
	case "dir":
		if c.Source.Dir == "" {
			return fmt.Errorf("source.dir is required for kind dir")
		}
	case "files":
		if len(c.Source.Files) == 0 {
			return fmt.Errorf("source.files is required for kind files")
		}
	default:
		return fmt.Errorf("source.kind %q: want pattern, dir or files", c.Source.Kind)
	}
	if c.Source.Quality < 0 || c.Source.Quality > 63 {
		return fmt.Errorf("source.quality %d out of range 0..63", c.Source.Quality)
	}
	if c.Source.StillEvery < 0 {
		return fmt.Errorf("source.still_every must not be negative")
	}
	if c.Source.PoolSize < 1 {
		return fmt.Errorf("source.pool_size must be at least 1")
	}

	if c.Transport.Kind != "fifo" {
		return fmt.Errorf("transport.kind %q: want fifo", c.Transport.Kind)
	}
	if c.Transport.BusDir == "" {
		return fmt.Errorf("transport.bus_dir is required")
	}
	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		return fmt.Errorf("monitor.addr is required when the monitor is enabled")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	return nil
}

// TableConfig converts the device and video sections into a descriptor
// table configuration.
func (c *Config) TableConfig() (descriptors.TableConfig, error) {
	tc := descriptors.TableConfig{
		VendorID:          c.Device.VendorID,
		ProductID:         c.Device.ProductID,
		DeviceRelease:     c.Device.BCDDevice,
		Manufacturer:      c.Device.Manufacturer,
		Product:           c.Device.Product,
		Serial:            c.Device.Serial,
		UVC:               c.Video.UVCVersion,
		EndpointAddress:   c.Video.Endpoint,
		MaxPacketSize:     c.Video.MaxPacketSize,
		MaxPower:          100,
		DefaultFrameIndex: uint8(c.Video.DefaultFrame),
		StillCapture:      c.Video.StillCapture,
	}
	for i, f := range c.Video.Frames {
		w, h, err := f.Size()
		if err != nil {
			return tc, fmt.Errorf("frame %d: %w", i+1, err)
		}
		fc := descriptors.FrameConfig{
			Width:        uint16(w),
			Height:       uint16(h),
			MaxFrameSize: f.MaxFrameSize,
		}
		for _, fps := range f.FPS {
			// whole 100 ns units, the precision of the wire format.
			units := descriptors.IntervalUnits(time.Second / time.Duration(fps))
			fc.Intervals = append(fc.Intervals, descriptors.IntervalDuration(units))
		}
		tc.Frames = append(tc.Frames, fc)
	}
	return tc, nil
}
