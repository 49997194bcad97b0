package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"

	"github.com/kevmo314/go-uvc-gadget/pkg/logging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Options configure the built-in sources.
type Options struct {
	Width  int
	Height int
	// Quality is on the sensor scale, see JPEGQuality.
	Quality  int
	PoolSize int
	// StillEvery flags every n-th pattern frame as a still image, 0 never.
	StillEvery int
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = 640, 480
	}
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	o.Logger = logging.Or(o.Logger, logging.ComponentSource)
	return o
}

var bars = []color.RGBA{
	{0xc0, 0xc0, 0xc0, 0xff},
	{0xc0, 0xc0, 0x00, 0xff},
	{0x00, 0xc0, 0xc0, 0xff},
	{0x00, 0xc0, 0x00, 0xff},
	{0xc0, 0x00, 0xc0, 0xff},
	{0xc0, 0x00, 0x00, 0xff},
	{0x00, 0x00, 0xc0, 0xff},
	{0x10, 0x10, 0x10, 0xff},
}

// Pattern generates colour bars with a moving marker and a frame counter.
// It stands in for a sensor when none is attached.
type Pattern struct {
	pool *Pool

	mu      sync.Mutex
	opts    Options
	img     *image.RGBA
	counter uint64
}

func NewPattern(opts Options) *Pattern {
	opts = opts.withDefaults()
	return &Pattern{
		opts: opts,
		pool: NewPool(opts.PoolSize, FrameBufferSize(opts.Width, opts.Height)),
		img:  image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
	}
}

// SetSize changes the generated frame size. Frames already out keep theirs.
func (p *Pattern) SetSize(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if width == p.opts.Width && height == p.opts.Height {
		return
	}
	p.opts.Width, p.opts.Height = width, height
	p.img = image.NewRGBA(image.Rect(0, 0, width, height))
	p.pool.Resize(FrameBufferSize(width, height))
	p.opts.Logger.Debug("pattern resized", "width", width, "height", height)
}

func (p *Pattern) Acquire(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := p.pool.Get()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.counter++
	p.draw(p.counter)
	if err := jpeg.Encode(b, p.img, &jpeg.Options{Quality: JPEGQuality(p.opts.Quality)}); err != nil {
		p.pool.Put(b)
		return nil, fmt.Errorf("encode pattern: %w", err)
	}
	if n := p.opts.StillEvery; n > 0 {
		b.SetStill(p.counter%uint64(n) == 0)
	}
	return b, nil
}

func (p *Pattern) draw(n uint64) {
	r := p.img.Bounds()
	w := r.Dx()
	for x := 0; x < w; x++ {
		c := bars[x*len(bars)/w]
		for y := 0; y < r.Dy(); y++ {
			p.img.SetRGBA(x, y, c)
		}
	}
	// one column per frame so dropped frames show up as jumps.
	marker := int(n % uint64(w))
	for y := 0; y < r.Dy(); y++ {
		p.img.SetRGBA(marker, y, color.RGBA{0xff, 0xff, 0xff, 0xff})
	}
	d := &font.Drawer{
		Dst:  p.img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, 20),
	}
	d.DrawString(fmt.Sprintf("%dx%d #%d", w, r.Dy(), n))
}

func (p *Pattern) Release(f Frame) error {
	return p.pool.Release(f)
}

func (p *Pattern) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Info{
		Kind:      "pattern",
		Width:     p.opts.Width,
		Height:    p.opts.Height,
		Quality:   p.opts.Quality,
		Simulated: true,
		Frames:    p.counter,
		InUse:     p.pool.InUse(),
	}
}
