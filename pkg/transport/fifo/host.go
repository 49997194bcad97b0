package fifo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
	"github.com/kevmo314/go-uvc-gadget/pkg/transport"
)

// Host is the host end of a fifo bus connection to one device.
type Host struct {
	info DeviceInfo

	h2d *os.File
	d2h *os.File
	ep  *os.File

	// Timeout bounds each control transfer.
	Timeout time.Duration

	mu sync.Mutex
}

// Dial opens the pipes of a device on the bus.
func Dial(busDir, id string) (*Host, error) {
	dir := filepath.Join(busDir, id)
	h := &Host{info: DeviceInfo{ID: id, Dir: dir}, Timeout: 5 * time.Second}
	var err error
	if h.h2d, err = openPipe(dir, pipeHostToDevice); err != nil {
		return nil, err
	}
	if h.d2h, err = openPipe(dir, pipeDeviceToHost); err != nil {
		h.Close()
		return nil, err
	}
	if h.ep, err = openPipe(dir, pipeEndpoint); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Host) ID() string {
	return h.info.ID
}

// State reads the stream state last reported by the device.
func (h *Host) State() (string, error) {
	b, err := os.ReadFile(filepath.Join(h.info.Dir, stateFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Control runs one control transfer. IN requests return the data stage,
// OUT requests carry data and return nil once acknowledged. A stalled
// request returns transport.ErrStall.
func (h *Host) Control(ctx context.Context, setup requests.SetupPacket, data []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := make([]byte, requests.SetupPacketSize, requests.SetupPacketSize+len(data))
	if err := setup.MarshalInto(msg); err != nil {
		return nil, err
	}
	if !setup.RequestType.DeviceToHost() {
		msg = append(msg, data...)
	}
	if err := writeMessage(h.h2d, msgSetup, msg); err != nil {
		return nil, fmt.Errorf("send setup: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	typ, payload, err := readMessage(ctx, h.d2h)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", setup.String(), err)
	}
	switch typ {
	case msgData:
		return payload, nil
	case msgAck:
		return nil, nil
	case msgStall:
		return nil, transport.ErrStall
	default:
		return nil, fmt.Errorf("%w: response type %#02x", transport.ErrProtocol, typ)
	}
}

// Reset signals a bus reset and waits for the device to acknowledge it.
func (h *Host) Reset(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := writeMessage(h.h2d, msgReset, nil); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	typ, _, err := readMessage(ctx, h.d2h)
	if err != nil {
		return err
	}
	if typ != msgAck {
		return fmt.Errorf("%w: reset answered with %#02x", transport.ErrProtocol, typ)
	}
	return nil
}

// ReadPacket returns the next packet from the video endpoint.
func (h *Host) ReadPacket(ctx context.Context) ([]byte, error) {
	typ, payload, err := readMessage(ctx, h.ep)
	if err != nil {
		return nil, err
	}
	if typ != msgData {
		return nil, fmt.Errorf("%w: endpoint message type %#02x", transport.ErrProtocol, typ)
	}
	return payload, nil
}

// Read reads exactly one packet, which is the contract transfers.FrameReader
// expects from a bulk pipe.
func (h *Host) Read(buf []byte) (int, error) {
	p, err := h.ReadPacket(context.Background())
	if err != nil {
		return 0, err
	}
	if len(p) > len(buf) {
		return 0, fmt.Errorf("packet of %d bytes does not fit in %d", len(p), len(buf))
	}
	return copy(buf, p), nil
}

func (h *Host) Close() error {
	for _, f := range []*os.File{h.h2d, h.d2h, h.ep} {
		if f != nil {
			f.Close()
		}
	}
	return nil
}
