package types

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/status-im/keycard-session/apdu"
	"github.com/status-im/keycard-session/derivationpath"
)

var (
	ErrApplicationStatusTemplateNotFound = errors.New("application status template not found")
	ErrInvalidKeyPath                    = errors.New("key path length must be a multiple of 4")
)

type ApplicationStatus struct {
	PinRetryCount  int
	PUKRetryCount  int
	KeyInitialized bool
	Path           string
}

func ParseApplicationStatus(data []byte) (*ApplicationStatus, error) {
	tpl, err := apdu.FindTag(data, apdu.Tag{TagApplicationStatusTemplate})
	if err != nil {
		return nil, ErrApplicationStatusTemplateNotFound
	}

	appStatus := &ApplicationStatus{}

	if pinRetryCount, err := apdu.FindTag(tpl, apdu.Tag{0x02}); err == nil && len(pinRetryCount) == 1 {
		appStatus.PinRetryCount = int(pinRetryCount[0])
	}

	if pukRetryCount, err := apdu.FindTagN(tpl, 1, apdu.Tag{0x02}); err == nil && len(pukRetryCount) == 1 {
		appStatus.PUKRetryCount = int(pukRetryCount[0])
	}

	if keyInitialized, err := apdu.FindTag(tpl, apdu.Tag{0x01}); err == nil {
		if bytes.Equal(keyInitialized, []byte{0xFF}) {
			appStatus.KeyInitialized = true
		}
	}

	return appStatus, nil
}

// ParseKeyPathStatus parses the current key path returned as a list of big endian uint32.
func ParseKeyPathStatus(data []byte) (*ApplicationStatus, error) {
	if len(data)%4 != 0 {
		return nil, ErrInvalidKeyPath
	}

	rawPath := make([]uint32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &rawPath); err != nil {
		return nil, err
	}

	return &ApplicationStatus{
		Path: derivationpath.Encode(rawPath),
	}, nil
}
