package gadget

import "errors"

var (
	ErrLengthMismatch     = errors.New("request length does not match the control size")
	ErrUnsupportedRequest = errors.New("unsupported request")
	ErrOutOfRange         = errors.New("value out of range")
	ErrWrongState         = errors.New("request not valid in the current state")
	ErrFrameTooLarge      = errors.New("frame exceeds the streaming buffer")
	ErrFrameLength        = errors.New("frame length exceeds its data")
	ErrInvalidTable       = errors.New("invalid descriptor table")
)
