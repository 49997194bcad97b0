package descriptors

import "fmt"

type BinaryCodedDecimal uint16

// String formats a release number such as bcdUSB or bcdUVC as "major.minor".
func (bcd BinaryCodedDecimal) String() string {
	return fmt.Sprintf("%x.%02x", uint16(bcd)>>8, uint16(bcd)&0xff)
}
