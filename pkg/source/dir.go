package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
)

func isJPEG(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// encode fills img to w x h and encodes it into a buffer from the pool.
func encode(pool *Pool, img image.Image, w, h, quality int) (*Buffer, error) {
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		img = imaging.Fill(img, w, h, imaging.Center, imaging.Linear)
	}
	buf, err := pool.Get()
	if err != nil {
		return nil, err
	}
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: JPEGQuality(quality)}); err != nil {
		pool.Put(buf)
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf, nil
}

// Dir delivers JPEG files as they appear in a directory. Only the newest file
// is kept, each is delivered once, and files that arrive faster than they are
// acquired are skipped.
type Dir struct {
	path    string
	pool    *Pool
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.Mutex
	opts    Options
	latest  string
	fresh   bool
	counter uint64
	werr    error
}

func NewDir(path string, opts Options) (*Dir, error) {
	opts = opts.withDefaults()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %w", err)
	}
	d := &Dir{
		path:    path,
		opts:    opts,
		pool:    NewPool(opts.PoolSize, FrameBufferSize(opts.Width, opts.Height)),
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go d.watch()
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return d, nil
}

func (d *Dir) watch() {
	defer close(d.done)
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isJPEG(ev.Name) {
				continue
			}
			d.mu.Lock()
			d.latest, d.fresh = ev.Name, true
			d.mu.Unlock()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.mu.Lock()
			d.werr = err
			d.mu.Unlock()
			d.opts.Logger.Warn("watching for frames", "dir", d.path, "error", err)
		}
	}
}

// Notify marks a file as the newest frame, the same as a create event.
func (d *Dir) Notify(name string) {
	d.mu.Lock()
	d.latest, d.fresh = name, true
	d.mu.Unlock()
}

func (d *Dir) Acquire(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if err := d.werr; err != nil {
		d.werr = nil
		d.mu.Unlock()
		return nil, fmt.Errorf("watch %s: %w", d.path, err)
	}
	if !d.fresh {
		d.mu.Unlock()
		return nil, ErrFrameUnavailable
	}
	name, w, h, q := d.latest, d.opts.Width, d.opts.Height, d.opts.Quality
	d.fresh = false
	d.mu.Unlock()

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		// most likely still being written, the next write event retries it.
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(name), err)
	}
	b, err := encode(d.pool, img, w, h, q)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.counter++
	d.mu.Unlock()
	return b, nil
}

func (d *Dir) Release(f Frame) error {
	return d.pool.Release(f)
}

func (d *Dir) SetSize(width, height int) {
	d.mu.Lock()
	d.opts.Width, d.opts.Height = width, height
	d.mu.Unlock()
	d.pool.Resize(FrameBufferSize(width, height))
}

func (d *Dir) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Info{
		Kind:    "dir",
		Width:   d.opts.Width,
		Height:  d.opts.Height,
		Quality: d.opts.Quality,
		Frames:  d.counter,
		InUse:   d.pool.InUse(),
	}
}

func (d *Dir) Close() error {
	err := d.watcher.Close()
	<-d.done
	return err
}
