// Package fifo runs a gadget over named pipes so it can be exercised without
// a USB device controller.
//
// A bus is a directory. Every device owns a subdirectory named by its id
// holding three pipes and a state file:
//
//	host_to_device  SETUP (with OUT data) and reset messages
//	device_to_host  DATA, ACK and STALL responses
//	ep1_in          video packets, one DATA message each
//	state           the last stream state the device reported
//
// Every message is [type, len_lo, len_hi, payload...].
package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kevmo314/go-uvc-gadget/pkg/transport"
	"golang.org/x/sys/unix"
)

const (
	msgSetup = 0x01
	msgData  = 0x02
	msgAck   = 0x03
	msgStall = 0x05
	msgReset = 0x12
)

const headerSize = 3

// MaxMessageSize is the largest payload a message can carry.
const MaxMessageSize = 0xFFFF

const (
	pipeHostToDevice = "host_to_device"
	pipeDeviceToHost = "device_to_host"
	pipeEndpoint     = "ep1_in"
	stateFile        = "state"
)

// DeviceInfo describes a device directory on the bus.
type DeviceInfo struct {
	ID    string
	Dir   string
	State string
}

// List returns the devices on a bus.
func List(busDir string) ([]DeviceInfo, error) {
	entries, err := os.ReadDir(busDir)
	if err != nil {
		return nil, err
	}
	var devices []DeviceInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(busDir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, pipeHostToDevice)); err != nil {
			continue
		}
		state, _ := os.ReadFile(filepath.Join(dir, stateFile))
		devices = append(devices, DeviceInfo{
			ID:    e.Name(),
			Dir:   dir,
			State: strings.TrimSpace(string(state)),
		})
	}
	return devices, nil
}

func mkfifo(dir, name string) error {
	path := filepath.Join(dir, name)
	os.Remove(path)
	if err := unix.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", name, err)
	}
	return nil
}

// openPipe opens both ends of a pipe so neither side blocks in open and
// neither sees EOF when the peer goes away.
func openPipe(dir, name string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

func putHeader(buf []byte, typ byte, n int) {
	buf[0] = typ
	binary.LittleEndian.PutUint16(buf[1:3], uint16(n))
}

// writeMessage writes one framed message with a single write, so messages
// from one writer never interleave.
func writeMessage(w io.Writer, typ byte, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds %d", len(payload), MaxMessageSize)
	}
	buf := make([]byte, headerSize+len(payload))
	putHeader(buf, typ, len(payload))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

func writeState(dir, state string) error {
	tmp := filepath.Join(dir, stateFile+".tmp")
	if err := os.WriteFile(tmp, []byte(state+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, stateFile))
}

// pollInterval bounds how long a read waits before it checks for
// cancellation again.
const pollInterval = 100 * time.Millisecond

// readFull fills buf from a pipe, giving up when ctx is done.
func readFull(ctx context.Context, f *os.File, buf []byte) error {
	for total := 0; total < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := f.Read(buf[total:])
		total += n
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if errors.Is(err, os.ErrClosed) {
			return transport.ErrClosed
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readMessage reads one message. The payload slice is freshly allocated.
func readMessage(ctx context.Context, f *os.File) (byte, []byte, error) {
	var hdr [headerSize]byte
	if err := readFull(ctx, f, hdr[:]); err != nil {
		return 0, nil, err
	}
	payload := make([]byte, binary.LittleEndian.Uint16(hdr[1:3]))
	if err := readFull(ctx, f, payload); err != nil {
		return 0, nil, err
	}
	return hdr[0], payload, nil
}
