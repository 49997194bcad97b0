// Package transport defines what the gadget needs from a USB device
// controller: the control endpoint and one IN endpoint.
package transport

import (
	"context"
	"errors"

	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
)

var (
	// ErrWouldBlock means the endpoint cannot take the packet right now. The
	// caller keeps the packet and retries.
	ErrWouldBlock = errors.New("endpoint busy")
	// ErrReset is returned by ReadSetup when the bus was reset.
	ErrReset = errors.New("bus reset")
	// ErrStall is what the host end sees when the device stalled a request.
	ErrStall  = errors.New("endpoint stalled")
	ErrClosed = errors.New("transport closed")
	// ErrProtocol means a peer sent a message that does not parse.
	ErrProtocol = errors.New("protocol error")
)

// Transport is the device end of a USB connection.
type Transport interface {
	// ReadSetup blocks until the next SETUP packet arrives.
	ReadSetup(ctx context.Context, setup *requests.SetupPacket) error
	// ReadControlPayload reads the OUT data stage of the current request.
	ReadControlPayload(ctx context.Context, buf []byte) (int, error)
	// WriteControlResponse sends the IN data stage of the current request.
	WriteControlResponse(ctx context.Context, data []byte) error
	Stall() error
	Ack() error
	// WriteEndpoint sends one packet, or returns ErrWouldBlock without
	// sending any of it.
	WriteEndpoint(ctx context.Context, ep uint8, data []byte) error
	Close() error
}

// StateReporter is implemented by transports that can publish the stream
// state to the host side.
type StateReporter interface {
	ReportState(state string) error
}
