package types

import (
	"errors"
	"fmt"

	"github.com/status-im/keycard-session/apdu"
)

var (
	ErrWrongApplicationInfoTemplate = errors.New("wrong application info template")
	ErrEmptySelectResponse          = errors.New("empty select response")
)

const (
	TagSelectResponsePreInitialized = uint8(0x80)
	TagApplicationStatusTemplate    = uint8(0xA3)
	TagApplicationInfoTemplate      = uint8(0xA4)
	TagApplicationInfoCapabilities  = uint8(0x8D)
)

type Capability uint8

const (
	CapabilitySecureChannel Capability = 1 << iota
	CapabilityKeyManagement
	CapabilityCredentialsManagement
	CapabilityNDEF
	CapabilityFactoryReset

	// cards without the capabilities tag predate factory reset
	CapabilityDefault = CapabilitySecureChannel | CapabilityKeyManagement | CapabilityCredentialsManagement | CapabilityNDEF
)

type ApplicationInfo struct {
	Installed              bool
	Initialized            bool
	InstanceUID            []byte
	SecureChannelPublicKey []byte
	Version                []byte
	AvailableSlots         []byte
	// KeyUID is the sha256 of of the master public key on the card.
	// It's empty if the card doesn't contain any key.
	KeyUID       []byte
	Capabilities Capability
}

func ParseApplicationInfo(data []byte) (*ApplicationInfo, error) {
	if len(data) == 0 {
		return nil, ErrEmptySelectResponse
	}

	info := &ApplicationInfo{
		Installed: true,
	}

	if data[0] == TagSelectResponsePreInitialized {
		pubKey, err := apdu.FindTag(data, apdu.Tag{TagSelectResponsePreInitialized})
		if err != nil {
			return nil, err
		}

		info.SecureChannelPublicKey = pubKey
		info.Capabilities = CapabilitySecureChannel | CapabilityCredentialsManagement
		if capabilities, err := apdu.FindTag(data, apdu.Tag{TagApplicationInfoCapabilities}); err == nil && len(capabilities) == 1 {
			info.Capabilities = Capability(capabilities[0])
		}

		return info, nil
	}

	if data[0] != TagApplicationInfoTemplate {
		return nil, ErrWrongApplicationInfoTemplate
	}

	info.Initialized = true

	instanceUID, err := apdu.FindTag(data, apdu.Tag{TagApplicationInfoTemplate}, apdu.Tag{0x8F})
	if err != nil {
		return nil, err
	}

	pubKey, err := apdu.FindTag(data, apdu.Tag{TagApplicationInfoTemplate}, apdu.Tag{0x80})
	if err != nil {
		return nil, err
	}

	appVersion, err := apdu.FindTag(data, apdu.Tag{TagApplicationInfoTemplate}, apdu.Tag{0x02})
	if err != nil {
		return nil, err
	}

	availableSlots, err := apdu.FindTagN(data, 1, apdu.Tag{TagApplicationInfoTemplate}, apdu.Tag{0x02})
	if err != nil {
		return nil, err
	}

	keyUID, err := apdu.FindTagN(data, 0, apdu.Tag{TagApplicationInfoTemplate}, apdu.Tag{0x8E})
	if err != nil {
		return nil, err
	}

	info.Capabilities = CapabilityDefault
	capabilities, err := apdu.FindTag(data, apdu.Tag{TagApplicationInfoTemplate}, apdu.Tag{TagApplicationInfoCapabilities})
	if err == nil && len(capabilities) == 1 {
		info.Capabilities = Capability(capabilities[0])
	}

	info.InstanceUID = instanceUID
	info.SecureChannelPublicKey = pubKey
	info.Version = appVersion
	info.AvailableSlots = availableSlots
	info.KeyUID = keyUID

	return info, nil
}

func (i *ApplicationInfo) HasCapability(c Capability) bool {
	return i.Capabilities&c == c
}

func (i *ApplicationInfo) HasSecureChannelCapability() bool {
	return i.HasCapability(CapabilitySecureChannel)
}

func (i *ApplicationInfo) HasFactoryResetCapability() bool {
	return i.HasCapability(CapabilityFactoryReset)
}

// HasMasterKey reports whether key material is loaded on the card.
func (i *ApplicationInfo) HasMasterKey() bool {
	return len(i.KeyUID) > 0
}

// AppVersion returns the applet version as major<<8 | minor.
func (i *ApplicationInfo) AppVersion() int {
	if len(i.Version) != 2 {
		return 0
	}

	return int(i.Version[0])<<8 | int(i.Version[1])
}

func (i *ApplicationInfo) VersionString() string {
	if len(i.Version) != 2 {
		return ""
	}

	return fmt.Sprintf("%d.%d", i.Version[0], i.Version[1])
}

func (i *ApplicationInfo) FreePairingSlots() int {
	if len(i.AvailableSlots) == 0 {
		return 0
	}

	return int(i.AvailableSlots[0])
}

// CashApplicationInfo is the select response of the cash applet.
type CashApplicationInfo struct {
	PublicKey []byte
	Version   []byte
}

func ParseCashApplicationInfo(data []byte) (*CashApplicationInfo, error) {
	if len(data) == 0 || data[0] != TagApplicationInfoTemplate {
		return nil, ErrWrongApplicationInfoTemplate
	}

	pubKey, err := apdu.FindTag(data, apdu.Tag{TagApplicationInfoTemplate}, apdu.Tag{0x80})
	if err != nil {
		return nil, err
	}

	version, err := apdu.FindTag(data, apdu.Tag{TagApplicationInfoTemplate}, apdu.Tag{0x02})
	if err != nil {
		return nil, err
	}

	return &CashApplicationInfo{
		PublicKey: pubKey,
		Version:   version,
	}, nil
}
