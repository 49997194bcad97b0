package descriptors

import "errors"

var (
	ErrInvalidDescriptor     = errors.New("invalid descriptor")
	ErrUnsupportedDescriptor = errors.New("unsupported descriptor")
	ErrInvalidTable          = errors.New("inconsistent descriptor table")
	ErrStringTooLong         = errors.New("string descriptor too long")
	ErrNoSuchDescriptor      = errors.New("no such descriptor")
)
