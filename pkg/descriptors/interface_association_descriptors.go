// This file implements the descriptors as defined in the UVC spec 1.5, section 3.6.
package descriptors

import "io"

type InterfaceAssociationDescriptor struct {
	FirstInterface   uint8
	InterfaceCount   uint8
	FunctionClass    ClassCode
	FunctionSubClass SubclassCode
	FunctionProtocol ProtocolCode
	DescriptionIndex uint8
}

func (iad *InterfaceAssociationDescriptor) Size() int { return 8 }

func (iad *InterfaceAssociationDescriptor) MarshalInto(buf []byte) error {
	if len(buf) < iad.Size() {
		return io.ErrShortBuffer
	}
	buf[0] = byte(iad.Size())
	buf[1] = byte(DescriptorTypeInterfaceAssociation)
	buf[2] = iad.FirstInterface
	buf[3] = iad.InterfaceCount
	buf[4] = byte(iad.FunctionClass)
	buf[5] = byte(iad.FunctionSubClass)
	buf[6] = byte(iad.FunctionProtocol)
	buf[7] = iad.DescriptionIndex
	return nil
}

func (iad *InterfaceAssociationDescriptor) UnmarshalBinary(buf []byte) error {
	if err := checkHeader(buf, iad.Size(), DescriptorTypeInterfaceAssociation); err != nil {
		return err
	}
	iad.FirstInterface = buf[2]
	iad.InterfaceCount = buf[3]
	iad.FunctionClass = ClassCode(buf[4])
	if iad.FunctionClass != ClassCodeVideo {
		return ErrInvalidDescriptor
	}
	iad.FunctionSubClass = SubclassCode(buf[5])
	if iad.FunctionSubClass != SubclassCodeVideoInterfaceCollection {
		return ErrInvalidDescriptor
	}
	iad.FunctionProtocol = ProtocolCode(buf[6])
	iad.DescriptionIndex = buf[7]
	return nil
}
