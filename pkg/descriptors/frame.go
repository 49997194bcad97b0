package descriptors

type FormatDescriptor interface {
	StreamingInterface
	Index() uint8
	NumFrames() uint8
	isFormatDescriptor()
}

type FrameDescriptor interface {
	StreamingInterface
	Index() uint8
	isFrameDescriptor()
}
