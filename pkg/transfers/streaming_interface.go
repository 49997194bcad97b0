package transfers

import (
	"errors"
	"fmt"
	"time"

	usb "github.com/kevmo314/go-usb"
	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
)

// StreamingInterface drives the video streaming interface of a device from
// the host side. It is used to check a gadget against a real host stack.
type StreamingInterface struct {
	bcdUVC      uint16 // cached since it's used a lot
	handle      *usb.DeviceHandle
	ifnum       uint8
	Descriptors []descriptors.StreamingInterface

	// Timeout applies to every control transfer.
	Timeout time.Duration
}

func NewStreamingInterface(handle *usb.DeviceHandle, ifnum uint8, bcdUVC uint16) *StreamingInterface {
	return &StreamingInterface{handle: handle, ifnum: ifnum, bcdUVC: bcdUVC, Timeout: time.Second}
}

// ParseDescriptors decodes the class-specific descriptors that follow the
// interface descriptor. Descriptors without a decoder are skipped.
func (si *StreamingInterface) ParseDescriptors(extra []byte) error {
	for i := 0; i < len(extra); {
		n := int(extra[i])
		if n < 3 || i+n > len(extra) {
			return descriptors.ErrInvalidDescriptor
		}
		block := extra[i : i+n]
		i += n
		if descriptors.ClassSpecificDescriptorType(block[1]) != descriptors.ClassSpecificDescriptorTypeInterface {
			continue
		}
		desc, err := descriptors.UnmarshalStreamingInterface(block)
		if errors.Is(err, descriptors.ErrUnsupportedDescriptor) {
			continue
		} else if err != nil {
			return err
		}
		si.Descriptors = append(si.Descriptors, desc)
	}
	return nil
}

func (si *StreamingInterface) InterfaceNumber() uint8 {
	return si.ifnum
}

func (si *StreamingInterface) UVCVersionString() string {
	return descriptors.BinaryCodedDecimal(si.bcdUVC).String()
}

func (si *StreamingInterface) FormatDescriptors() []descriptors.FormatDescriptor {
	var descs []descriptors.FormatDescriptor
	for _, desc := range si.Descriptors {
		if d, ok := desc.(descriptors.FormatDescriptor); ok {
			descs = append(descs, d)
		}
	}
	return descs
}

func (si *StreamingInterface) FrameDescriptors() []descriptors.FrameDescriptor {
	var descs []descriptors.FrameDescriptor
	for _, desc := range si.Descriptors {
		if d, ok := desc.(descriptors.FrameDescriptor); ok {
			descs = append(descs, d)
		}
	}
	return descs
}

func (si *StreamingInterface) InputHeaderDescriptors() []*descriptors.InputHeaderDescriptor {
	var descs []*descriptors.InputHeaderDescriptor
	for _, desc := range si.Descriptors {
		if d, ok := desc.(*descriptors.InputHeaderDescriptor); ok {
			descs = append(descs, d)
		}
	}
	return descs
}

func (si *StreamingInterface) control(get bool, code requests.RequestCode, selector requests.VideoStreamingControlSelector, data []byte) error {
	setup := requests.NewClassRequest(get, code, uint8(selector), si.ifnum, uint16(len(data)))
	if _, err := si.handle.ControlTransfer(uint8(setup.RequestType), setup.Request, setup.Value, setup.Index, data, si.Timeout); err != nil {
		return fmt.Errorf("%s %s failed: %w", code, selector, err)
	}
	return nil
}

// Probe issues a GET request on the probe control and decodes the record.
func (si *StreamingInterface) Probe(code requests.RequestCode) (*descriptors.VideoProbeCommitControl, error) {
	buf := make([]byte, descriptors.MarshalSize(si.bcdUVC))
	if err := si.control(true, code, requests.VideoStreamingControlSelectorProbeControl, buf); err != nil {
		return nil, err
	}
	vpcc := &descriptors.VideoProbeCommitControl{}
	return vpcc, vpcc.UnmarshalBinary(buf)
}

// Negotiate runs PROBE and COMMIT for a format and frame. A zero interval
// leaves the choice to the device.
func (si *StreamingInterface) Negotiate(formatIndex, frameIndex uint8, interval time.Duration) (*descriptors.VideoProbeCommitControl, error) {
	// get the bounds
	vpcc, err := si.Probe(requests.RequestCodeGetMax)
	if err != nil {
		return nil, err
	}
	vpcc.FormatIndex = formatIndex
	vpcc.FrameIndex = frameIndex
	vpcc.FrameInterval = interval
	if interval != 0 {
		vpcc.HintBitmask |= descriptors.HintFrameInterval
	}

	buf := vpcc.MarshalVersion(si.bcdUVC)
	if err := si.control(false, requests.RequestCodeSetCur, requests.VideoStreamingControlSelectorProbeControl, buf); err != nil {
		return nil, err
	}
	// get the negotiated values
	if err := si.control(true, requests.RequestCodeGetCur, requests.VideoStreamingControlSelectorProbeControl, buf); err != nil {
		return nil, err
	}
	if err := si.control(false, requests.RequestCodeSetCur, requests.VideoStreamingControlSelectorCommitControl, buf); err != nil {
		return nil, err
	}
	return vpcc, vpcc.UnmarshalBinary(buf)
}

// SetAlternate selects an alternate setting of the streaming interface.
func (si *StreamingInterface) SetAlternate(alt uint8) error {
	return si.handle.SetInterfaceAltSetting(si.ifnum, alt)
}

// ClaimFrameReader claims the interface, negotiates the stream and starts
// reading from the endpoint named by the first input header.
func (si *StreamingInterface) ClaimFrameReader(formatIndex, frameIndex uint8, interval time.Duration) (*FrameReader, *descriptors.VideoProbeCommitControl, error) {
	// the kernel driver may not be bound, so this is allowed to fail.
	_ = si.handle.DetachKernelDriver(si.ifnum)
	if err := si.handle.ClaimInterface(si.ifnum); err != nil {
		return nil, nil, fmt.Errorf("claim interface %d: %w", si.ifnum, err)
	}
	vpcc, err := si.Negotiate(formatIndex, frameIndex, interval)
	if err != nil {
		return nil, nil, err
	}
	inputs := si.InputHeaderDescriptors()
	if len(inputs) == 0 {
		return nil, nil, fmt.Errorf("no input header descriptors found")
	}
	if err := si.SetAlternate(1); err != nil {
		return nil, nil, fmt.Errorf("set alternate setting: %w", err)
	}
	r, err := si.NewAsyncBulkReader(inputs[0].EndpointAddress, vpcc.MaxPayloadTransferSize)
	if err != nil {
		return nil, nil, err
	}
	return NewFrameReader(r, vpcc.MaxPayloadTransferSize), vpcc, nil
}

// Release stops the stream and gives the interface back.
func (si *StreamingInterface) Release() error {
	return errors.Join(si.SetAlternate(0), si.handle.ReleaseInterface(si.ifnum))
}
