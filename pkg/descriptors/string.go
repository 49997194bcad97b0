package descriptors

import (
	"encoding/binary"
	"io"

	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// MarshalString encodes s as a string descriptor (USB 2.0 spec, 9.6.7).
func MarshalString(s string) ([]byte, error) {
	body, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	if len(body)+2 > 0xFF {
		return nil, ErrStringTooLong
	}
	buf := make([]byte, 2+len(body))
	buf[0] = byte(len(buf))
	buf[1] = byte(DescriptorTypeString)
	copy(buf[2:], body)
	return buf, nil
}

// UnmarshalString decodes a string descriptor returned for a non-zero index.
func UnmarshalString(buf []byte) (string, error) {
	if err := checkHeader(buf, 2, DescriptorTypeString); err != nil {
		return "", err
	}
	body, err := utf16le.NewDecoder().Bytes(buf[2:buf[0]])
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// MarshalLanguages encodes string descriptor zero, the list of supported LANGIDs.
func MarshalLanguages(langs ...uint16) []byte {
	buf := make([]byte, 2+2*len(langs))
	buf[0] = byte(len(buf))
	buf[1] = byte(DescriptorTypeString)
	for i, l := range langs {
		binary.LittleEndian.PutUint16(buf[2+2*i:], l)
	}
	return buf
}

func UnmarshalLanguages(buf []byte) ([]uint16, error) {
	if err := checkHeader(buf, 2, DescriptorTypeString); err != nil {
		return nil, err
	}
	if buf[0]%2 != 0 {
		return nil, io.ErrUnexpectedEOF
	}
	langs := make([]uint16, 0, (buf[0]-2)/2)
	for i := 2; i+1 < int(buf[0]); i += 2 {
		langs = append(langs, binary.LittleEndian.Uint16(buf[i:i+2]))
	}
	return langs, nil
}
