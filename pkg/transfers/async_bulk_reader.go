package transfers

import (
	"errors"
	"fmt"
	"sync"

	usb "github.com/kevmo314/go-usb"
)

const (
	// DefaultNumTransfers is the number of URBs kept in flight. A gadget
	// sending one 512 byte packet per payload needs far fewer than a
	// high-bandwidth camera, so this is lower than a typical libusb setup.
	DefaultNumTransfers = 16

	// MaxURBBufferSize matches the kernel's MAX_USBFS_BUFFER_SIZE.
	MaxURBBufferSize = 16384
)

var ErrReaderClosed = errors.New("reader closed")

// AsyncBulkReader reads UVC payloads from a bulk endpoint with several
// transfers queued. A payload ends with a short transfer, so payloads larger
// than one URB are reassembled here.
type AsyncBulkReader struct {
	handle    *usb.DeviceHandle
	endpoint  uint8
	urbSize   int
	whole     bool // a payload always fits in one URB
	transfers []*usb.AsyncBulkTransfer

	mu       sync.Mutex
	nextRead int
	closed   bool
}

func (si *StreamingInterface) NewAsyncBulkReader(endpointAddress uint8, maxPayload uint32) (*AsyncBulkReader, error) {
	return NewAsyncBulkReaderWithCount(si.handle, endpointAddress, maxPayload, DefaultNumTransfers)
}

func NewAsyncBulkReaderWithCount(handle *usb.DeviceHandle, endpointAddress uint8, maxPayload uint32, numTransfers int) (*AsyncBulkReader, error) {
	numTransfers = max(numTransfers, 1)
	urbSize := MaxURBBufferSize
	if maxPayload > 0 && int(maxPayload) < urbSize {
		urbSize = int(maxPayload)
	}

	r := &AsyncBulkReader{
		handle:    handle,
		endpoint:  endpointAddress,
		urbSize:   urbSize,
		whole:     int(maxPayload) == urbSize,
		transfers: make([]*usb.AsyncBulkTransfer, 0, numTransfers),
	}
	for i := 0; i < numTransfers; i++ {
		t, err := handle.NewAsyncBulkTransfer(endpointAddress, urbSize)
		if err != nil {
			r.cancel()
			return nil, fmt.Errorf("create async transfer %d: %w", i, err)
		}
		r.transfers = append(r.transfers, t)
	}
	for i, t := range r.transfers {
		if err := t.Submit(); err != nil {
			r.cancel()
			return nil, fmt.Errorf("submit async transfer %d: %w", i, err)
		}
	}
	return r, nil
}

// Read returns one complete payload.
func (r *AsyncBulkReader) Read(buf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrReaderClosed
	}

	written := 0
	for {
		t := r.transfers[r.nextRead]
		data, err := t.Wait()
		if err != nil {
			return 0, fmt.Errorf("async bulk read: %w", err)
		}
		if len(buf)-written < len(data) {
			return 0, fmt.Errorf("buffer too small: need %d bytes, have %d", len(data), len(buf)-written)
		}
		// copy before resubmitting, the kernel owns the buffer again after Submit.
		copy(buf[written:], data)
		written += len(data)

		if err := t.Submit(); err != nil {
			return written, fmt.Errorf("resubmit async transfer: %w", err)
		}
		r.nextRead = (r.nextRead + 1) % len(r.transfers)

		if r.whole || len(data) < r.urbSize {
			return written, nil
		}
	}
}

func (r *AsyncBulkReader) cancel() {
	for _, t := range r.transfers {
		t.Cancel()
	}
}

func (r *AsyncBulkReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	for _, t := range r.transfers {
		t.Wait() // cancelled transfers complete with an error
	}
	return nil
}
