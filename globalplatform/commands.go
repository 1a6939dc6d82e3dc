package globalplatform

import (
	"github.com/status-im/keycard-session/apdu"
)

const (
	ClaISO7816 = uint8(0x00)
	ClaGp      = uint8(0x80)
	ClaMac     = uint8(0x84)

	InsSelect               = uint8(0xA4)
	InsInitializeUpdate     = uint8(0x50)
	InsExternalAuthenticate = uint8(0x82)
	InsDelete               = uint8(0xE4)
	InsInstall              = uint8(0xE6)

	P1ExternalAuthenticateCMAC = uint8(0x01)
	P1InstallForInstall        = uint8(0x04)
	P1InstallForMakeSelectable = uint8(0x08)

	tagDeleteAID     = uint8(0x4F)
	tagInstallParams = uint8(0xC9)
)

// NewCommandSelect returns a Select command for the given AID. An empty AID selects the card manager.
func NewCommandSelect(aid []byte) *apdu.Command {
	c := apdu.NewCommand(
		ClaISO7816,
		InsSelect,
		uint8(0x04),
		uint8(0x00),
		aid,
	)

	c.SetLe(0)

	return c
}

// NewCommandInitializeUpdate returns the first command of the SCP02 handshake.
func NewCommandInitializeUpdate(challenge []byte) *apdu.Command {
	c := apdu.NewCommand(
		ClaGp,
		InsInitializeUpdate,
		uint8(0x00),
		uint8(0x00),
		challenge,
	)

	c.SetLe(0)

	return c
}

// NewCommandExternalAuthenticate returns the host cryptogram command. Its MAC is added by the SCP02 wrapper.
func NewCommandExternalAuthenticate(encKey, cardChallenge, hostChallenge []byte) (*apdu.Command, error) {
	hostCryptogram, err := calculateHostCryptogram(encKey, cardChallenge, hostChallenge)
	if err != nil {
		return nil, err
	}

	return apdu.NewCommand(
		ClaMac,
		InsExternalAuthenticate,
		P1ExternalAuthenticateCMAC,
		uint8(0x00),
		hostCryptogram,
	), nil
}

// NewCommandDelete returns a Delete command for the object identified by aid.
func NewCommandDelete(aid []byte) *apdu.Command {
	data := []byte{tagDeleteAID, byte(len(aid))}
	data = append(data, aid...)

	return apdu.NewCommand(
		ClaGp,
		InsDelete,
		uint8(0x00),
		uint8(0x00),
		data,
	)
}

// NewCommandInstallForInstall returns an Install [for install and make selectable] command.
func NewCommandInstallForInstall(pkgAID, appletAID, instanceAID, params []byte) *apdu.Command {
	data := []byte{byte(len(pkgAID))}
	data = append(data, pkgAID...)
	data = append(data, byte(len(appletAID)))
	data = append(data, appletAID...)
	data = append(data, byte(len(instanceAID)))
	data = append(data, instanceAID...)

	// privileges
	data = append(data, 0x01, 0x00)

	fullParams := []byte{tagInstallParams, byte(len(params))}
	fullParams = append(fullParams, params...)
	data = append(data, byte(len(fullParams)))
	data = append(data, fullParams...)

	// install token
	data = append(data, 0x00)

	return apdu.NewCommand(
		ClaGp,
		InsInstall,
		P1InstallForInstall|P1InstallForMakeSelectable,
		uint8(0x00),
		data,
	)
}

func calculateHostCryptogram(encKey, cardChallenge, hostChallenge []byte) ([]byte, error) {
	var data []byte
	data = append(data, cardChallenge...)
	data = append(data, hostChallenge...)
	data = AppendDESPadding(data)

	return Mac3DES(encKey, data, NullBytes8)
}
