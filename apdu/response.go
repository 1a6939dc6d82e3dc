package apdu

import (
	"errors"
	"fmt"
)

const (
	SwOK                            = 0x9000
	SwSecurityConditionNotSatisfied = 0x6982
	SwAuthenticationMethodBlocked   = 0x6983
	SwConditionsNotSatisfied        = 0x6985
	SwFileNotFound                  = 0x6A82
	SwReferencedDataNotFound        = 0x6A88
	SwInsNotSupported               = 0x6D00
)

// ErrBadRawResponse is returned when a raw response is shorter than the status word.
var ErrBadRawResponse = errors.New("response data must be at least 2 bytes")

// ErrBadResponse defines an error conaining the returned Sw code and a description message.
type ErrBadResponse struct {
	sw      uint16
	message string
}

// NewErrBadResponse returns a ErrBadResponse with the specified sw and message values.
func NewErrBadResponse(sw uint16, message string) *ErrBadResponse {
	return &ErrBadResponse{
		sw:      sw,
		message: message,
	}
}

// Error implements the error interface.
func (e *ErrBadResponse) Error() string {
	return fmt.Sprintf("bad response %x: %s", e.sw, e.message)
}

// Sw returns the status word carried by the error.
func (e *ErrBadResponse) Sw() uint16 {
	return e.sw
}

// Response represents a struct containing the smartcard response fields.
type Response struct {
	Data []byte
	Sw1  uint8
	Sw2  uint8
	Sw   uint16
}

// ParseResponse parses a raw response and return a Response.
func ParseResponse(data []byte) (*Response, error) {
	if len(data) < 2 {
		return nil, ErrBadRawResponse
	}

	sw1 := data[len(data)-2]
	sw2 := data[len(data)-1]

	return &Response{
		Data: data[:len(data)-2],
		Sw1:  sw1,
		Sw2:  sw2,
		Sw:   uint16(sw1)<<8 | uint16(sw2),
	}, nil
}

// IsOK returns true if the response Sw code is 0x9000.
func (r *Response) IsOK() bool {
	return r.Sw == SwOK
}
