package gadget

import (
	"fmt"

	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
)

// device is the chapter 9 state of the gadget as far as the video function
// needs it.
type device struct {
	address       uint8
	configuration uint8
	alternate     uint8 // of the streaming interface
	halted        bool
}

// handleStandard answers the standard requests that enumeration and stream
// control need. handled is false for anything else.
func (g *Gadget) handleStandard(setup requests.SetupPacket) (resp []byte, handled bool, err error) {
	if setup.RequestType.Kind() != requests.KindStandard {
		return nil, false, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	recipient := setup.RequestType.Recipient()
	switch requests.StandardRequest(setup.Request) {
	case requests.StandardRequestGetDescriptor:
		typ := descriptors.DescriptorType(setup.Value >> 8)
		b, err := g.table.Descriptor(typ, setup.ValueLow())
		if err != nil {
			return nil, true, fmt.Errorf("%w: descriptor %#02x index %d", ErrUnsupportedRequest, typ, setup.ValueLow())
		}
		return b, true, nil

	case requests.StandardRequestSetAddress:
		if setup.Value > 127 {
			return nil, true, fmt.Errorf("%w: address %d", ErrOutOfRange, setup.Value)
		}
		g.dev.address = uint8(setup.Value)
		return nil, true, nil

	case requests.StandardRequestGetConfiguration:
		return []byte{g.dev.configuration}, true, nil

	case requests.StandardRequestSetConfiguration:
		switch setup.ValueLow() {
		case 0:
			g.dev.configuration = 0
			g.dev.alternate = 0
			g.session.Stop("deconfigured")
		case descriptors.ConfigurationValue:
			g.dev.configuration = descriptors.ConfigurationValue
		default:
			return nil, true, fmt.Errorf("%w: configuration %d", ErrOutOfRange, setup.ValueLow())
		}
		return nil, true, nil

	case requests.StandardRequestGetInterface:
		switch setup.InterfaceNumber() {
		case g.table.VCInterface:
			return []byte{0}, true, nil
		case g.table.VSInterface:
			return []byte{g.dev.alternate}, true, nil
		}
		return nil, true, fmt.Errorf("%w: interface %d", ErrOutOfRange, setup.InterfaceNumber())

	case requests.StandardRequestSetInterface:
		iface, alt := setup.InterfaceNumber(), setup.ValueLow()
		switch {
		case iface == g.table.VCInterface && alt == 0:
		case iface == g.table.VSInterface && alt == 0:
			g.dev.alternate = 0
			g.session.Stop("alternate setting 0")
		case iface == g.table.VSInterface && alt == 1:
			g.dev.alternate = 1
		default:
			return nil, true, fmt.Errorf("%w: interface %d alternate %d", ErrOutOfRange, iface, alt)
		}
		return nil, true, nil

	case requests.StandardRequestGetStatus:
		status := []byte{0, 0}
		if recipient == requests.RecipientEndpoint && g.dev.halted && uint8(setup.Index) == g.table.Endpoint {
			status[0] = 1
		}
		return status, true, nil

	case requests.StandardRequestClearFeature, requests.StandardRequestSetFeature:
		if recipient != requests.RecipientEndpoint || setup.Value != requests.FeatureEndpointHalt {
			// remote wakeup and test mode are accepted and ignored.
			return nil, true, nil
		}
		if uint8(setup.Index) != g.table.Endpoint {
			return nil, true, fmt.Errorf("%w: endpoint %#02x", ErrOutOfRange, uint8(setup.Index))
		}
		set := requests.StandardRequest(setup.Request) == requests.StandardRequestSetFeature
		g.dev.halted = set
		if !set {
			// bulk hosts have no alternate setting to drop, they stop a
			// stream by clearing the halt on its endpoint.
			g.session.Stop("endpoint halt cleared")
		}
		return nil, true, nil
	}
	return nil, false, nil
}

func (g *Gadget) resetDevice() {
	g.mu.Lock()
	g.dev = device{}
	g.mu.Unlock()
}
