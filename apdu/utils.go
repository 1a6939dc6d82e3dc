package apdu

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/moov-io/bertlv"
)

// ErrUnsupportedLenth80 is returned for the indefinite length form, which keycard never sends.
var ErrUnsupportedLenth80 = errors.New("length cannot be 0x80")

// ErrLengthTooBig is returned when a length is encoded on more than 4 bytes.
var ErrLengthTooBig = errors.New("length cannot be more than 4 bytes")

// Tag is a BER-TLV tag, one or more bytes long.
type Tag []byte

// ErrTagNotFound is an error returned if a tag is not found in a TLV sequence.
type ErrTagNotFound struct {
	tag Tag
}

// Error implements the error interface
func (e *ErrTagNotFound) Error() string {
	return fmt.Sprintf("tag %x not found", []byte(e.tag))
}

// FindTag searches for a tag value within a TLV sequence.
// Each tag after the first one is searched inside the value of the previous one.
func FindTag(raw []byte, tags ...Tag) ([]byte, error) {
	return FindTagN(raw, 0, tags...)
}

// FindTagN searches for a tag value within a TLV sequence and returns the n occurrence
func FindTagN(raw []byte, n int, tags ...Tag) ([]byte, error) {
	if len(tags) == 0 {
		return raw, nil
	}

	tlvs, err := bertlv.Decode(raw)
	if err != nil {
		return nil, err
	}

	return findTag(tlvs, n, tags...)
}

func findTag(tlvs []bertlv.TLV, occurrence int, tags ...Tag) ([]byte, error) {
	target := tags[0]
	name := hex.EncodeToString(target)

	for _, tlv := range tlvs {
		if !strings.EqualFold(tlv.Tag, name) {
			continue
		}

		// the occurrence counter only applies to the last tag of the search path
		if len(tags) == 1 {
			if occurrence > 0 {
				occurrence--
				continue
			}

			return tlvValue(tlv)
		}

		return findTag(tlv.TLVs, occurrence, tags[1:]...)
	}

	return nil, &ErrTagNotFound{target}
}

func tlvValue(tlv bertlv.TLV) ([]byte, error) {
	if len(tlv.TLVs) > 0 {
		return bertlv.Encode(tlv.TLVs)
	}

	if tlv.Value == nil {
		return []byte{}, nil
	}

	return tlv.Value, nil
}

// ParseLength reads a BER encoded length from buf.
func ParseLength(buf *bytes.Buffer) (uint32, error) {
	length, err := buf.ReadByte()
	if err != nil {
		return 0, err
	}

	if length == 0x80 {
		return 0, ErrUnsupportedLenth80
	}

	if length < 0x80 {
		return uint32(length), nil
	}

	lengthSize := int(length - 0x80)
	if lengthSize > 4 {
		return 0, ErrLengthTooBig
	}

	var l uint32
	for i := 0; i < lengthSize; i++ {
		b, err := buf.ReadByte()
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		} else if err != nil {
			return 0, err
		}

		l = l<<8 | uint32(b)
	}

	return l, nil
}

// WriteLength writes length to buf using the shortest BER encoding.
func WriteLength(buf *bytes.Buffer, length uint32) {
	switch {
	case length < 0x80:
		buf.WriteByte(byte(length))
	case length < 0x100:
		buf.WriteByte(0x81)
		buf.WriteByte(byte(length))
	case length < 0x10000:
		buf.WriteByte(0x82)
		buf.WriteByte(byte(length >> 8))
		buf.WriteByte(byte(length))
	case length < 0x1000000:
		buf.WriteByte(0x83)
		buf.WriteByte(byte(length >> 16))
		buf.WriteByte(byte(length >> 8))
		buf.WriteByte(byte(length))
	default:
		buf.WriteByte(0x84)
		buf.WriteByte(byte(length >> 24))
		buf.WriteByte(byte(length >> 16))
		buf.WriteByte(byte(length >> 8))
		buf.WriteByte(byte(length))
	}
}
