package transfers

import "io"

// Reader yields reassembled frames from a video endpoint.
type Reader interface {
	io.Closer
	ReadFrame() ([]byte, error)
}

var _ Reader = (*FrameReader)(nil)
