package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
)

func TestLoopback_Control(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l := NewLoopback(4)
	defer l.Close()
	host := l.Host()

	// device side: echo OUT data back on the next IN request, stall anything else.
	go func() {
		var stored []byte
		for {
			var setup requests.SetupPacket
			if err := l.ReadSetup(ctx, &setup); err != nil {
				return
			}
			switch {
			case setup.Request == uint8(requests.RequestCodeSetCur):
				buf := make([]byte, setup.Length)
				n, _ := l.ReadControlPayload(ctx, buf)
				stored = buf[:n]
				l.Ack()
			case setup.Request == uint8(requests.RequestCodeGetCur):
				l.WriteControlResponse(ctx, stored)
			default:
				l.Stall()
			}
		}
	}()

	set := requests.NewClassRequest(false, requests.RequestCodeSetCur, 1, 1, 3)
	if resp, err := host.Control(ctx, set, []byte{1, 2, 3}); err != nil || resp != nil {
		t.Fatalf("SET_CUR = %v, %v, want ack", resp, err)
	}
	get := requests.NewClassRequest(true, requests.RequestCodeGetCur, 1, 1, 3)
	resp, err := host.Control(ctx, get, nil)
	if err != nil {
		t.Fatalf("GET_CUR failed: %v", err)
	}
	if !bytes.Equal(resp, []byte{1, 2, 3}) {
		t.Errorf("GET_CUR = %v, want [1 2 3]", resp)
	}
	res := requests.NewClassRequest(true, requests.RequestCodeGetRes, 1, 1, 3)
	if _, err := host.Control(ctx, res, nil); !errors.Is(err, ErrStall) {
		t.Errorf("GET_RES = %v, want %v", err, ErrStall)
	}
}

func TestLoopback_Reset(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l := NewLoopback(1)
	defer l.Close()
	errc := make(chan error, 1)
	go func() {
		var setup requests.SetupPacket
		errc <- l.ReadSetup(ctx, &setup)
	}()
	if err := l.Host().Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := <-errc; !errors.Is(err, ErrReset) {
		t.Errorf("ReadSetup after reset = %v, want %v", err, ErrReset)
	}
}

func TestLoopback_Endpoint(t *testing.T) {
	ctx := context.Background()
	l := NewLoopback(2)
	host := l.Host()

	pkt := []byte{2, 3, 0xff}
	if err := l.WriteEndpoint(ctx, 0x81, pkt); err != nil {
		t.Fatalf("WriteEndpoint failed: %v", err)
	}
	pkt[2] = 0 // the loopback keeps its own copy
	l.WriteEndpoint(ctx, 0x81, pkt)
	if err := l.WriteEndpoint(ctx, 0x81, pkt); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("WriteEndpoint on full queue = %v, want %v", err, ErrWouldBlock)
	}

	got, err := host.ReadPacket(ctx)
	if err != nil || !bytes.Equal(got, []byte{2, 3, 0xff}) {
		t.Errorf("ReadPacket = %v, %v, want [2 3 255]", got, err)
	}
	host.ReadPacket(ctx)

	host.SetBlocked(true)
	if err := l.WriteEndpoint(ctx, 0x81, pkt); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("WriteEndpoint while blocked = %v, want %v", err, ErrWouldBlock)
	}
	host.SetBlocked(false)

	gone := errors.New("host gone")
	host.FailWrites(gone)
	if err := l.WriteEndpoint(ctx, 0x81, pkt); !errors.Is(err, gone) {
		t.Errorf("WriteEndpoint with failing host = %v, want %v", err, gone)
	}
	host.FailWrites(nil)
	if err := l.WriteEndpoint(ctx, 0x81, pkt); err != nil {
		t.Errorf("WriteEndpoint after recovery = %v", err)
	}

	l.Close()
	var setup requests.SetupPacket
	if err := l.ReadSetup(ctx, &setup); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadSetup after Close = %v, want %v", err, ErrClosed)
	}
}
