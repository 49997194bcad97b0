package fifo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kevmo314/go-uvc-gadget/pkg/logging"
	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
	"github.com/kevmo314/go-uvc-gadget/pkg/transport"
	"golang.org/x/sys/unix"
)

// EndpointAddress is the only data endpoint the bus carries.
const EndpointAddress = 0x81

// Device is the gadget end of a fifo bus connection.
type Device struct {
	id  string
	dir string
	log *slog.Logger

	h2d *os.File
	d2h *os.File
	// raw descriptor, so a full pipe surfaces as EAGAIN instead of parking
	// the writer in the runtime poller.
	ep int

	mu      sync.Mutex
	pending []byte
	wbuf    []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewDevice creates the device directory and its pipes. An empty id picks a
// random one.
func NewDevice(busDir, id string) (*Device, error) {
	if id == "" {
		id = uuid.NewString()
	}
	d := &Device{
		id:   id,
		dir:  filepath.Join(busDir, id),
		log:  logging.Logger(logging.ComponentTransport).With("device", id),
		ep:   -1,
		done: make(chan struct{}),
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}
	for _, name := range []string{pipeHostToDevice, pipeDeviceToHost, pipeEndpoint} {
		if err := mkfifo(d.dir, name); err != nil {
			d.cleanup()
			return nil, err
		}
	}

	var err error
	if d.h2d, err = openPipe(d.dir, pipeHostToDevice); err != nil {
		d.cleanup()
		return nil, err
	}
	if d.d2h, err = openPipe(d.dir, pipeDeviceToHost); err != nil {
		d.cleanup()
		return nil, err
	}
	d.ep, err = unix.Open(filepath.Join(d.dir, pipeEndpoint), unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		d.cleanup()
		return nil, fmt.Errorf("open %s: %w", pipeEndpoint, err)
	}
	if err := writeState(d.dir, "off"); err != nil {
		d.cleanup()
		return nil, err
	}
	d.log.Info("fifo device created", "dir", d.dir)
	return d, nil
}

func (d *Device) ID() string  { return d.id }
func (d *Device) Dir() string { return d.dir }

func (d *Device) ReadSetup(ctx context.Context, setup *requests.SetupPacket) error {
	for {
		typ, payload, err := readMessage(ctx, d.h2d)
		if err != nil {
			return err
		}
		switch typ {
		case msgSetup:
			if err := setup.UnmarshalBinary(payload); err != nil {
				return fmt.Errorf("%w: setup message of %d bytes", transport.ErrProtocol, len(payload))
			}
			d.mu.Lock()
			d.pending = payload[requests.SetupPacketSize:]
			d.mu.Unlock()
			return nil
		case msgReset:
			if err := writeMessage(d.d2h, msgAck, nil); err != nil {
				return err
			}
			return transport.ErrReset
		default:
			d.log.Warn("unexpected message on control pipe", "type", typ, "length", len(payload))
		}
	}
}

// ReadControlPayload returns the OUT data that came with the SETUP message.
func (d *Device) ReadControlPayload(ctx context.Context, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(buf, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *Device) WriteControlResponse(ctx context.Context, data []byte) error {
	return writeMessage(d.d2h, msgData, data)
}

func (d *Device) Stall() error {
	return writeMessage(d.d2h, msgStall, nil)
}

func (d *Device) Ack() error {
	return writeMessage(d.d2h, msgAck, nil)
}

func (d *Device) WriteEndpoint(ctx context.Context, ep uint8, data []byte) error {
	if ep != EndpointAddress {
		return fmt.Errorf("no pipe for endpoint %#02x", ep)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("packet of %d bytes exceeds %d", len(data), MaxMessageSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ep < 0 {
		return transport.ErrClosed
	}

	n := headerSize + len(data)
	if cap(d.wbuf) < n {
		d.wbuf = make([]byte, n)
	}
	buf := d.wbuf[:n]
	putHeader(buf, msgData, len(data))
	copy(buf[headerSize:], data)

	written, err := unix.Write(d.ep, buf)
	if errors.Is(err, unix.EAGAIN) {
		return transport.ErrWouldBlock
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", pipeEndpoint, err)
	}
	// messages larger than PIPE_BUF can be split, the rest has to follow or
	// the framing is lost.
	for written < n {
		m, err := unix.Write(d.ep, buf[written:])
		if errors.Is(err, unix.EAGAIN) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.done:
				return transport.ErrClosed
			case <-time.After(time.Millisecond):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", pipeEndpoint, err)
		}
		written += m
	}
	return nil
}

func (d *Device) ReportState(state string) error {
	return writeState(d.dir, state)
}

// Close removes the device from the bus.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		d.mu.Lock()
		d.cleanup()
		d.mu.Unlock()
		d.log.Info("fifo device removed")
	})
	return nil
}

func (d *Device) cleanup() {
	if d.h2d != nil {
		d.h2d.Close()
	}
	if d.d2h != nil {
		d.d2h.Close()
	}
	if d.ep >= 0 {
		unix.Close(d.ep)
		d.ep = -1
	}
	os.RemoveAll(d.dir)
}

var (
	_ transport.Transport     = (*Device)(nil)
	_ transport.StateReporter = (*Device)(nil)
)
