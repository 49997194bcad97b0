package fifo

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
	"github.com/kevmo314/go-uvc-gadget/pkg/transport"
)

func newPair(t *testing.T) (*Device, *Host) {
	t.Helper()
	bus := t.TempDir()
	d, err := NewDevice(bus, "")
	if err != nil {
		t.Skipf("named pipes unavailable: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	h, err := Dial(bus, d.ID())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return d, h
}

func TestList(t *testing.T) {
	bus := t.TempDir()
	d, err := NewDevice(bus, "cam0")
	if err != nil {
		t.Skipf("named pipes unavailable: %v", err)
	}
	defer d.Close()
	d.ReportState("ready")

	devices, err := List(bus)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "cam0" || devices[0].State != "ready" {
		t.Errorf("List() = %+v, want cam0 in state ready", devices)
	}

	d.Close()
	if devices, _ := List(bus); len(devices) != 0 {
		t.Errorf("List() after Close = %+v, want none", devices)
	}
}

func TestControl(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, h := newPair(t)

	go func() {
		for {
			var setup requests.SetupPacket
			err := d.ReadSetup(ctx, &setup)
			if errors.Is(err, transport.ErrReset) {
				continue
			}
			if err != nil {
				return
			}
			switch requests.RequestCode(setup.Request) {
			case requests.RequestCodeSetCur:
				buf := make([]byte, setup.Length)
				n, _ := d.ReadControlPayload(ctx, buf)
				if n == int(setup.Length) {
					d.Ack()
				} else {
					d.Stall()
				}
			case requests.RequestCodeGetCur:
				d.WriteControlResponse(ctx, []byte{0xde, 0xad})
			default:
				d.Stall()
			}
		}
	}()

	set := requests.NewClassRequest(false, requests.RequestCodeSetCur, 1, 1, 4)
	if resp, err := h.Control(ctx, set, []byte{1, 2, 3, 4}); err != nil || resp != nil {
		t.Errorf("SET_CUR = %v, %v, want ack", resp, err)
	}
	get := requests.NewClassRequest(true, requests.RequestCodeGetCur, 1, 1, 2)
	if resp, err := h.Control(ctx, get, nil); err != nil || !bytes.Equal(resp, []byte{0xde, 0xad}) {
		t.Errorf("GET_CUR = %v, %v, want [de ad]", resp, err)
	}
	short := requests.NewClassRequest(false, requests.RequestCodeSetCur, 1, 1, 4)
	if _, err := h.Control(ctx, short, []byte{1}); !errors.Is(err, transport.ErrStall) {
		t.Errorf("short SET_CUR = %v, want %v", err, transport.ErrStall)
	}
	if err := h.Reset(ctx); err != nil {
		t.Errorf("Reset failed: %v", err)
	}
}

func TestEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, h := newPair(t)

	pkt := append([]byte{2, 3}, bytes.Repeat([]byte{0x55}, 510)...)
	if err := d.WriteEndpoint(ctx, EndpointAddress, pkt); err != nil {
		t.Fatalf("WriteEndpoint failed: %v", err)
	}
	got, err := h.ReadPacket(ctx)
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if !bytes.Equal(got, pkt) {
		t.Errorf("ReadPacket returned %d bytes, want the %d written", len(got), len(pkt))
	}

	if err := d.WriteEndpoint(ctx, 0x82, pkt); err == nil {
		t.Error("WriteEndpoint(0x82) succeeded")
	}
}

func TestEndpoint_WouldBlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, h := newPair(t)

	pkt := make([]byte, 512)
	var sent int
	for ; sent < 10000; sent++ {
		err := d.WriteEndpoint(ctx, EndpointAddress, pkt)
		if errors.Is(err, transport.ErrWouldBlock) {
			break
		}
		if err != nil {
			t.Fatalf("WriteEndpoint failed: %v", err)
		}
	}
	if sent == 10000 {
		t.Fatal("pipe never filled up")
	}

	// every accepted packet arrives whole, the refused one not at all.
	for i := 0; i < sent; i++ {
		p, err := h.ReadPacket(ctx)
		if err != nil {
			t.Fatalf("ReadPacket %d failed: %v", i, err)
		}
		if len(p) != 512 {
			t.Fatalf("packet %d is %d bytes, want 512", i, len(p))
		}
	}
	if err := d.WriteEndpoint(ctx, EndpointAddress, pkt); err != nil {
		t.Errorf("WriteEndpoint after drain = %v", err)
	}
}
