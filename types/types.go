package types

import (
	"encoding/base64"
	"errors"

	"github.com/status-im/keycard-session/apdu"
)

var ErrInvalidPairing = errors.New("invalid pairing")

// Channel is an interface with a Send method to send apdu commands and receive apdu responses.
type Channel interface {
	Send(*apdu.Command) (*apdu.Response, error)
}

type PairingInfo struct {
	Key   []byte
	Index int
}

// Encode returns the pairing as base64(index || key), the form handed to external persistence.
func (p *PairingInfo) Encode() string {
	data := make([]byte, 0, len(p.Key)+1)
	data = append(data, byte(p.Index))
	data = append(data, p.Key...)

	return base64.StdEncoding.EncodeToString(data)
}

// ParsePairingInfo decodes a pairing produced by Encode.
func ParsePairingInfo(encoded string) (*PairingInfo, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	if len(data) < 2 {
		return nil, ErrInvalidPairing
	}

	return &PairingInfo{
		Index: int(data[0]),
		Key:   data[1:],
	}, nil
}
