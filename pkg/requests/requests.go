package requests

// RequestType is the bmRequestType field of a setup packet.
type RequestType uint8

const (
	RequestTypeVideoInterfaceSetRequest RequestType = 0b00100001
	RequestTypeDataEndpointSetRequest   RequestType = 0b00100010
	RequestTypeVideoInterfaceGetRequest RequestType = 0b10100001
	RequestTypeDataEndpointGetRequest   RequestType = 0b10100010

	RequestTypeStandardDeviceOut    RequestType = 0b00000000
	RequestTypeStandardInterfaceOut RequestType = 0b00000001
	RequestTypeStandardEndpointOut  RequestType = 0b00000010
	RequestTypeStandardDeviceIn     RequestType = 0b10000000
	RequestTypeStandardInterfaceIn  RequestType = 0b10000001
	RequestTypeStandardEndpointIn   RequestType = 0b10000010
)

const (
	requestTypeDirectionMask = 0b10000000
	requestTypeTypeMask      = 0b01100000
	requestTypeRecipientMask = 0b00011111
)

// Kind is the type field (bits 6..5) of bmRequestType.
type Kind uint8

const (
	KindStandard Kind = 0
	KindClass    Kind = 1
	KindVendor   Kind = 2
)

// Recipient is the recipient field (bits 4..0) of bmRequestType.
type Recipient uint8

const (
	RecipientDevice    Recipient = 0
	RecipientInterface Recipient = 1
	RecipientEndpoint  Recipient = 2
	RecipientOther     Recipient = 3
)

func (rt RequestType) DeviceToHost() bool {
	return rt&requestTypeDirectionMask != 0
}

func (rt RequestType) Kind() Kind {
	return Kind((rt & requestTypeTypeMask) >> 5)
}

func (rt RequestType) Recipient() Recipient {
	return Recipient(rt & requestTypeRecipientMask)
}

// RequestCode is a class-specific bRequest value, UVC 1.5 table A-8.
type RequestCode uint8

const (
	RequestCodeUndefined RequestCode = 0x00
	RequestCodeSetCur    RequestCode = 0x01
	RequestCodeSetCurAll RequestCode = 0x11
	RequestCodeGetCur    RequestCode = 0x81
	RequestCodeGetMin    RequestCode = 0x82
	RequestCodeGetMax    RequestCode = 0x83
	RequestCodeGetRes    RequestCode = 0x84
	RequestCodeGetLen    RequestCode = 0x85
	RequestCodeGetInfo   RequestCode = 0x86
	RequestCodeGetDef    RequestCode = 0x87
	RequestCodeGetCurAll RequestCode = 0x91
	RequestCodeGetMinAll RequestCode = 0x92
	RequestCodeGetMaxAll RequestCode = 0x93
	RequestCodeGetResAll RequestCode = 0x94
	RequestCodeGetDefAll RequestCode = 0x97
)

func (rc RequestCode) String() string {
	switch rc {
	case RequestCodeSetCur:
		return "SET_CUR"
	case RequestCodeGetCur:
		return "GET_CUR"
	case RequestCodeGetMin:
		return "GET_MIN"
	case RequestCodeGetMax:
		return "GET_MAX"
	case RequestCodeGetRes:
		return "GET_RES"
	case RequestCodeGetLen:
		return "GET_LEN"
	case RequestCodeGetInfo:
		return "GET_INFO"
	case RequestCodeGetDef:
		return "GET_DEF"
	default:
		return "UNKNOWN"
	}
}

// StandardRequest is a bRequest value from chapter 9 of the USB 2.0 spec.
type StandardRequest uint8

const (
	StandardRequestGetStatus        StandardRequest = 0x00
	StandardRequestClearFeature     StandardRequest = 0x01
	StandardRequestSetFeature       StandardRequest = 0x03
	StandardRequestSetAddress       StandardRequest = 0x05
	StandardRequestGetDescriptor    StandardRequest = 0x06
	StandardRequestSetDescriptor    StandardRequest = 0x07
	StandardRequestGetConfiguration StandardRequest = 0x08
	StandardRequestSetConfiguration StandardRequest = 0x09
	StandardRequestGetInterface     StandardRequest = 0x0A
	StandardRequestSetInterface     StandardRequest = 0x0B
)

// FeatureEndpointHalt is the ENDPOINT_HALT feature selector.
const FeatureEndpointHalt = 0x00

// VideoStreamingControlSelector as defined in UVC spec 1.5, table A-15.
type VideoStreamingControlSelector uint8

const (
	VideoStreamingControlSelectorUndefined                 VideoStreamingControlSelector = 0x00
	VideoStreamingControlSelectorProbeControl              VideoStreamingControlSelector = 0x01
	VideoStreamingControlSelectorCommitControl             VideoStreamingControlSelector = 0x02
	VideoStreamingControlSelectorStillProbeControl         VideoStreamingControlSelector = 0x03
	VideoStreamingControlSelectorStillCommitControl        VideoStreamingControlSelector = 0x04
	VideoStreamingControlSelectorStillImageTriggerControl  VideoStreamingControlSelector = 0x05
	VideoStreamingControlSelectorStreamErrorCodeControl    VideoStreamingControlSelector = 0x06
	VideoStreamingControlSelectorGenerateKeyFrameControl   VideoStreamingControlSelector = 0x07
	VideoStreamingControlSelectorUpdateFrameSegmentControl VideoStreamingControlSelector = 0x08
	VideoStreamingControlSelectorSynchDelayControl         VideoStreamingControlSelector = 0x09
)

func (cs VideoStreamingControlSelector) String() string {
	switch cs {
	case VideoStreamingControlSelectorProbeControl:
		return "VS_PROBE_CONTROL"
	case VideoStreamingControlSelectorCommitControl:
		return "VS_COMMIT_CONTROL"
	default:
		return "VS_UNHANDLED_CONTROL"
	}
}

// VideoControlSelector as defined in UVC spec 1.5, table A-10.
type VideoControlSelector uint8

const (
	VideoControlSelectorUndefined               VideoControlSelector = 0x00
	VideoControlSelectorVideoPowerModeControl   VideoControlSelector = 0x01
	VideoControlSelectorRequestErrorCodeControl VideoControlSelector = 0x02
)

// RequestErrorCode is reported through VC_REQUEST_ERROR_CODE_CONTROL, UVC spec 1.5, 4.2.1.2.
type RequestErrorCode uint8

const (
	RequestErrorCodeNoError        RequestErrorCode = 0x00
	RequestErrorCodeNotReady       RequestErrorCode = 0x01
	RequestErrorCodeWrongState     RequestErrorCode = 0x02
	RequestErrorCodePower          RequestErrorCode = 0x03
	RequestErrorCodeOutOfRange     RequestErrorCode = 0x04
	RequestErrorCodeInvalidUnit    RequestErrorCode = 0x05
	RequestErrorCodeInvalidControl RequestErrorCode = 0x06
	RequestErrorCodeInvalidRequest RequestErrorCode = 0x07
	RequestErrorCodeInvalidValue   RequestErrorCode = 0x08
	RequestErrorCodeUnknown        RequestErrorCode = 0xFF
)

// GET_INFO capability bits, UVC spec 1.5, 4.1.2.
const (
	InfoSupportsGet uint8 = 1 << 0
	InfoSupportsSet uint8 = 1 << 1
)
