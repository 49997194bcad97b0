package gadget

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/logging"
	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
)

type ControlOptions struct {
	Policy CommitPolicy
	// FillProbeDefaults makes GET_CUR on PROBE report the record with the
	// zero fields resolved instead of what the host wrote.
	FillProbeDefaults bool
	Logger            *slog.Logger
}

// ControlHandler answers the class-specific requests of the video function:
// PROBE and COMMIT on the streaming interface and the request error code on
// the control interface.
type ControlHandler struct {
	session *Session
	bounds  *Bounds
	opts    ControlOptions
	log     *slog.Logger

	mu        sync.Mutex
	lastError requests.RequestErrorCode
}

func NewControlHandler(session *Session, bounds *Bounds, opts ControlOptions) *ControlHandler {
	return &ControlHandler{
		session: session,
		bounds:  bounds,
		opts:    opts,
		log:     logging.Or(opts.Logger, logging.ComponentControl),
	}
}

// Handle processes one class request. handled is false when the request is
// not addressed to a control this handler owns, in which case nothing was
// changed. A non-nil error means the request must be stalled.
func (h *ControlHandler) Handle(setup requests.SetupPacket, data []byte) (resp []byte, handled bool, err error) {
	if setup.RequestType.Kind() != requests.KindClass || setup.RequestType.Recipient() != requests.RecipientInterface {
		return nil, false, nil
	}
	table := h.bounds.table
	switch setup.InterfaceNumber() {
	case table.VSInterface:
		sel := requests.VideoStreamingControlSelector(setup.Selector())
		if sel != requests.VideoStreamingControlSelectorProbeControl && sel != requests.VideoStreamingControlSelectorCommitControl {
			return nil, false, nil
		}
		resp, err = h.probeCommit(sel, setup, data)
	case table.VCInterface:
		if setup.EntityID() != 0 || requests.VideoControlSelector(setup.Selector()) != requests.VideoControlSelectorRequestErrorCodeControl {
			return nil, false, nil
		}
		// reading the error code does not overwrite it.
		return h.errorCode(setup)
	default:
		return nil, false, nil
	}

	h.setError(err)
	if err != nil {
		h.log.Debug("control request stalled", "setup", setup.String(), "error", err)
	}
	return resp, true, err
}

func (h *ControlHandler) probeCommit(sel requests.VideoStreamingControlSelector, setup requests.SetupPacket, data []byte) ([]byte, error) {
	size := h.bounds.RecordSize()
	code := requests.RequestCode(setup.Request)

	if code == requests.RequestCodeSetCur {
		if setup.RequestType.DeviceToHost() {
			return nil, fmt.Errorf("%w: %s with data stage in", ErrUnsupportedRequest, code)
		}
		if int(setup.Length) != size || len(data) != size {
			return nil, fmt.Errorf("%w: %s %s of %d bytes, want %d", ErrLengthMismatch, sel, code, len(data), size)
		}
		var p descriptors.VideoProbeCommitControl
		if err := p.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		if err := h.bounds.Check(p); err != nil {
			return nil, err
		}
		if sel == requests.VideoStreamingControlSelectorProbeControl {
			h.session.SetProbe(p)
			h.log.Debug("probe set", "format", p.FormatIndex, "frame", p.FrameIndex,
				"interval", descriptors.IntervalUnits(p.FrameInterval), "payload", p.MaxPayloadTransferSize)
			return nil, nil
		}
		st := h.session.Snapshot()
		if !st.Probed {
			return nil, fmt.Errorf("%w: COMMIT without a prior PROBE", ErrWrongState)
		}
		if err := h.bounds.Compatible(st.Probe, p); err != nil {
			return nil, err
		}
		from, to := h.session.Commit(p, h.opts.Policy)
		h.log.Debug("commit", "format", p.FormatIndex, "frame", p.FrameIndex,
			"interval", descriptors.IntervalUnits(p.FrameInterval), "from", from, "to", to)
		return nil, nil
	}

	if !setup.RequestType.DeviceToHost() {
		return nil, fmt.Errorf("%w: %s without data stage in", ErrUnsupportedRequest, code)
	}
	var record descriptors.VideoProbeCommitControl
	switch code {
	case requests.RequestCodeGetCur:
		st := h.session.Snapshot()
		record = st.Commit
		if sel == requests.VideoStreamingControlSelectorProbeControl {
			record = st.Probe
			if h.opts.FillProbeDefaults {
				record, _ = h.bounds.Resolve(record)
			}
		}
	case requests.RequestCodeGetMin:
		record = h.bounds.Min
	case requests.RequestCodeGetMax:
		record = h.bounds.Max
	case requests.RequestCodeGetDef:
		record = h.bounds.Def
	case requests.RequestCodeGetLen:
		if setup.Length != 2 {
			return nil, fmt.Errorf("%w: GET_LEN of %d bytes", ErrLengthMismatch, setup.Length)
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(size)), nil
	case requests.RequestCodeGetInfo:
		if setup.Length != 1 {
			return nil, fmt.Errorf("%w: GET_INFO of %d bytes", ErrLengthMismatch, setup.Length)
		}
		return []byte{requests.InfoSupportsGet | requests.InfoSupportsSet}, nil
	default:
		// GET_RES has no meaning for a record control.
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedRequest, code, sel)
	}
	if int(setup.Length) != size {
		return nil, fmt.Errorf("%w: %s %s of %d bytes, want %d", ErrLengthMismatch, sel, code, setup.Length, size)
	}
	return record.MarshalVersion(h.bounds.table.Config.UVC), nil
}

func (h *ControlHandler) errorCode(setup requests.SetupPacket) ([]byte, bool, error) {
	if !setup.RequestType.DeviceToHost() || setup.Length != 1 {
		return nil, true, fmt.Errorf("%w: request error code control", ErrUnsupportedRequest)
	}
	switch requests.RequestCode(setup.Request) {
	case requests.RequestCodeGetCur:
		return []byte{byte(h.LastError())}, true, nil
	case requests.RequestCodeGetInfo:
		return []byte{requests.InfoSupportsGet}, true, nil
	}
	return nil, true, fmt.Errorf("%w: %s on request error code control", ErrUnsupportedRequest, requests.RequestCode(setup.Request))
}

// LastError is the code reported by VC_REQUEST_ERROR_CODE_CONTROL.
func (h *ControlHandler) LastError() requests.RequestErrorCode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastError
}

func (h *ControlHandler) setError(err error) {
	code := requests.RequestErrorCodeNoError
	switch {
	case err == nil:
	case errors.Is(err, ErrOutOfRange):
		code = requests.RequestErrorCodeOutOfRange
	case errors.Is(err, ErrWrongState):
		code = requests.RequestErrorCodeWrongState
	case errors.Is(err, ErrLengthMismatch), errors.Is(err, ErrUnsupportedRequest):
		code = requests.RequestErrorCodeInvalidRequest
	default:
		code = requests.RequestErrorCodeUnknown
	}
	h.mu.Lock()
	h.lastError = code
	h.mu.Unlock()
}

// unhandled records a class request that nothing answered.
func (h *ControlHandler) unhandled() {
	h.mu.Lock()
	h.lastError = requests.RequestErrorCodeInvalidControl
	h.mu.Unlock()
}
