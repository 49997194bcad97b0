package source

import (
	"fmt"
	"strings"

	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
)

// Preset is a named sensor resolution.
type Preset struct {
	Name   string
	Width  int
	Height int
}

var Presets = []Preset{
	{"QQVGA", 160, 120},
	{"QVGA", 320, 240},
	{"VGA", 640, 480},
	{"SVGA", 800, 600},
	{"XGA", 1024, 768},
	{"SXGA", 1280, 1024},
	{"UXGA", 1600, 1200},
}

// ParsePreset accepts a preset name in any case or an explicit WxH size.
func ParsePreset(s string) (Preset, error) {
	for _, p := range Presets {
		if strings.EqualFold(p.Name, s) {
			return p, nil
		}
	}
	var w, h int
	if n, err := fmt.Sscanf(strings.ToLower(s), "%dx%d", &w, &h); err == nil && n == 2 && w > 0 && h > 0 {
		return Preset{Name: fmt.Sprintf("%dx%d", w, h), Width: w, Height: h}, nil
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, s)
}

// DefaultQuality is the sensor quality used when none is configured.
const DefaultQuality = 12

// JPEGQuality maps a sensor quality, 0 best to 63 worst, onto the 100..10
// scale of image/jpeg.
func JPEGQuality(q int) int {
	q = min(max(q, 0), 63)
	return 100 - q*90/63
}

// FrameBufferSize is the capture buffer size for w x h frames. It matches
// the dwMaxVideoFrameBufferSize the descriptor table advertises.
func FrameBufferSize(w, h int) int {
	return int(descriptors.MaxFrameSize(w, h))
}
