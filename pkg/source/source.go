// Package source provides JPEG frame sources for the gadget. A source owns
// its capture buffers and lends them out one at a time: every frame returned
// by Acquire must be handed back with exactly one Release.
package source

import (
	"context"
	"errors"
)

var (
	ErrFrameUnavailable = errors.New("no frame available")
	ErrDoubleRelease    = errors.New("frame released twice")
	ErrForeignFrame     = errors.New("frame does not belong to this source")
	ErrBufferFull       = errors.New("capture buffer full")
	ErrUnknownPreset    = errors.New("unknown resolution preset")
)

// Frame is a borrowed view of one encoded frame. The bytes are only valid
// until the frame is released.
type Frame interface {
	Bytes() []byte
	Len() int
	ID() uint64
}

// StillFrame is implemented by frames that can be flagged as a still image.
type StillFrame interface {
	Still() bool
}

type Source interface {
	// Acquire returns the next frame, or ErrFrameUnavailable when nothing is
	// ready yet. It does not block for longer than it takes to encode one
	// frame.
	Acquire(ctx context.Context) (Frame, error)
	Release(f Frame) error
}

// Info describes a source for status reporting.
type Info struct {
	Kind      string `json:"kind"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Quality   int    `json:"quality"`
	Simulated bool   `json:"simulated"`
	Frames    uint64 `json:"frames"`
	InUse     int    `json:"in_use"`
}

type Describer interface {
	Info() Info
}

// Sizer is implemented by sources whose output size follows the negotiated
// frame.
type Sizer interface {
	SetSize(width, height int)
}

// IsStill reports the still image flag of f, if it carries one.
func IsStill(f Frame) bool {
	s, ok := f.(StillFrame)
	return ok && s.Still()
}
