package source

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"sync"
)

// Files cycles through a fixed list of JPEG images. Without a target size the
// bytes are passed through untouched, otherwise every image is filled to the
// size and re-encoded.
type Files struct {
	pool  *Pool
	load  func(i int) ([]byte, error)
	count int
	kind  string

	mu       sync.Mutex
	opts     Options
	resample bool
	next     int
	counter  uint64
}

// NewFiles reads the named files on every pass, so they can be replaced while
// the gadget runs.
func NewFiles(paths []string, opts Options) (*Files, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frame files")
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return nil, err
		}
	}
	f := newFiles("files", len(paths), opts)
	f.load = func(i int) ([]byte, error) { return os.ReadFile(paths[i]) }
	return f, nil
}

// NewBlobs serves in-memory JPEG frames.
func NewBlobs(blobs [][]byte, opts Options) (*Files, error) {
	if len(blobs) == 0 {
		return nil, fmt.Errorf("no frame blobs")
	}
	f := newFiles("blobs", len(blobs), opts)
	f.load = func(i int) ([]byte, error) { return blobs[i], nil }
	return f, nil
}

func newFiles(kind string, n int, opts Options) *Files {
	resample := opts.Width > 0 && opts.Height > 0
	opts = opts.withDefaults()
	size := FrameBufferSize(opts.Width, opts.Height)
	return &Files{
		kind:     kind,
		count:    n,
		opts:     opts,
		resample: resample,
		pool:     NewPool(opts.PoolSize, size),
	}
}

func (f *Files) Acquire(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	i := f.next
	f.next = (f.next + 1) % f.count
	opts, resample := f.opts, f.resample
	f.mu.Unlock()

	data, err := f.load(i)
	if err != nil {
		return nil, fmt.Errorf("load frame %d: %w", i, err)
	}

	var b *Buffer
	if resample {
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", i, err)
		}
		if b, err = encode(f.pool, img, opts.Width, opts.Height, opts.Quality); err != nil {
			return nil, err
		}
	} else {
		if b, err = f.pool.Get(); err != nil {
			return nil, err
		}
		if _, err := b.Write(data); err != nil {
			f.pool.Put(b)
			return nil, fmt.Errorf("frame %d is %d bytes: %w", i, len(data), err)
		}
	}

	f.mu.Lock()
	f.counter++
	f.mu.Unlock()
	return b, nil
}

func (f *Files) Release(fr Frame) error {
	return f.pool.Release(fr)
}

func (f *Files) SetSize(width, height int) {
	f.mu.Lock()
	f.opts.Width, f.opts.Height = width, height
	f.resample = true
	f.mu.Unlock()
	f.pool.Resize(FrameBufferSize(width, height))
}

func (f *Files) Info() Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Info{
		Kind:    f.kind,
		Width:   f.opts.Width,
		Height:  f.opts.Height,
		Quality: f.opts.Quality,
		Frames:  f.counter,
		InUse:   f.pool.InUse(),
	}
}
