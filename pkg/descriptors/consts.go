package descriptors

type ClassCode byte

const (
	ClassCodeVideo ClassCode = 0x0E
)

type SubclassCode byte

const (
	SubclassCodeUndefined                SubclassCode = 0x00
	SubclassCodeVideoControl             SubclassCode = 0x01
	SubclassCodeVideoStreaming           SubclassCode = 0x02
	SubclassCodeVideoInterfaceCollection SubclassCode = 0x03
)

type ProtocolCode byte

const (
	ProtocolCodeUndefined ProtocolCode = 0x00
	ProtocolCode15        ProtocolCode = 0x01
)

// Device-level class triple announcing interface association descriptors.
const (
	DeviceClassMiscellaneous byte = 0xEF
	DeviceSubclassCommon     byte = 0x02
	DeviceProtocolIAD        byte = 0x01
)

type DescriptorType byte

const (
	DescriptorTypeDevice               DescriptorType = 0x01
	DescriptorTypeConfiguration        DescriptorType = 0x02
	DescriptorTypeString               DescriptorType = 0x03
	DescriptorTypeInterface            DescriptorType = 0x04
	DescriptorTypeEndpoint             DescriptorType = 0x05
	DescriptorTypeDeviceQualifier      DescriptorType = 0x06
	DescriptorTypeInterfaceAssociation DescriptorType = 0x0B
)

type ClassSpecificDescriptorType int

const (
	ClassSpecificDescriptorTypeUndefined     ClassSpecificDescriptorType = 0x20
	ClassSpecificDescriptorTypeDevice        ClassSpecificDescriptorType = 0x21
	ClassSpecificDescriptorTypeConfiguration ClassSpecificDescriptorType = 0x22
	ClassSpecificDescriptorTypeString        ClassSpecificDescriptorType = 0x23
	ClassSpecificDescriptorTypeInterface     ClassSpecificDescriptorType = 0x24
	ClassSpecificDescriptorTypeEndpoint      ClassSpecificDescriptorType = 0x25
)

// bcdUVC values.
const (
	UVC10 uint16 = 0x0100
	UVC11 uint16 = 0x0110
	UVC15 uint16 = 0x0150
)

// LanguageIDEnglishUS is the only LANGID the gadget reports in string descriptor zero.
const LanguageIDEnglishUS uint16 = 0x0409
