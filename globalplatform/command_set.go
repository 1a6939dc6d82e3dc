package globalplatform

import (
	"crypto/rand"
	"errors"

	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/keycard-session/apdu"
	"github.com/status-im/keycard-session/identifiers"
)

var logger = log.New("package", "keycard-session/globalplatform")

var ErrSessionNotInitialized = errors.New("session must be initialized using initializeUpdate")

// CommandSet drives the card manager: it is used to reinstall the keycard applet when the applet itself
// cannot be reset.
type CommandSet struct {
	c       Channel
	keys    *SCP02Keys
	session *Session
}

func NewCommandSet(c Channel) *CommandSet {
	return &CommandSet{
		c:    c,
		keys: NewSCP02Keys(identifiers.CardTestKey, identifiers.CardTestKey),
	}
}

// SetKeys replaces the static card keys used by OpenSecureChannel.
func (cs *CommandSet) SetKeys(keys *SCP02Keys) {
	cs.keys = keys
}

// Select selects the issuer security domain and returns its AID.
func (cs *CommandSet) Select() ([]byte, error) {
	cmd := NewCommandSelect(nil)
	resp, err := cs.c.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	// issuer security domain
	isd, _ := apdu.FindTag(resp.Data, apdu.Tag{0x6F}, apdu.Tag{0x84})
	return isd, nil
}

func (cs *CommandSet) OpenSecureChannel() error {
	hostChallenge, err := generateHostChallenge()
	if err != nil {
		return err
	}

	err = cs.initializeUpdate(hostChallenge)
	if err != nil {
		return err
	}

	return cs.externalAuthenticate()
}

// DeleteKeycardInstance deletes the keycard applet instance. A missing instance is not an error.
func (cs *CommandSet) DeleteKeycardInstance() error {
	instanceAID, err := identifiers.KeycardInstanceAID(identifiers.KeycardDefaultInstanceIndex)
	if err != nil {
		return err
	}

	cmd := NewCommandDelete(instanceAID)
	resp, err := cs.c.Send(cmd)
	if err = cs.checkOK(resp, err, apdu.SwOK, apdu.SwReferencedDataNotFound); err != nil {
		return err
	}

	if resp.Sw == apdu.SwReferencedDataNotFound {
		logger.Debug("keycard instance already absent")
	}

	return nil
}

func (cs *CommandSet) InstallKeycardApplet() error {
	instanceAID, err := identifiers.KeycardInstanceAID(identifiers.KeycardDefaultInstanceIndex)
	if err != nil {
		return err
	}

	return cs.installForInstall(
		identifiers.PackageAID,
		identifiers.KeycardAID,
		instanceAID,
		[]byte{})
}

func (cs *CommandSet) installForInstall(packageAID, appletAID, instanceAID, params []byte) error {
	cmd := NewCommandInstallForInstall(packageAID, appletAID, instanceAID, params)
	resp, err := cs.c.Send(cmd)
	return cs.checkOK(resp, err)
}

func (cs *CommandSet) initializeUpdate(hostChallenge []byte) error {
	cmd := NewCommandInitializeUpdate(hostChallenge)
	resp, err := cs.c.Send(cmd)
	if err != nil {
		return err
	}

	// verify cryptogram and initialize session keys
	session, err := NewSession(cs.keys, resp, hostChallenge)
	if err != nil {
		return err
	}

	cs.c = NewSecureChannel(session, cs.c)
	cs.session = session

	return nil
}

func (cs *CommandSet) externalAuthenticate() error {
	if cs.session == nil {
		return ErrSessionNotInitialized
	}

	encKey := cs.session.Keys().Enc()
	cmd, err := NewCommandExternalAuthenticate(encKey, cs.session.CardChallenge(), cs.session.HostChallenge())
	if err != nil {
		return err
	}

	resp, err := cs.c.Send(cmd)
	return cs.checkOK(resp, err)
}

func (cs *CommandSet) checkOK(resp *apdu.Response, err error, allowedResponses ...uint16) error {
	if err != nil {
		return err
	}

	if len(allowedResponses) == 0 {
		allowedResponses = []uint16{apdu.SwOK}
	}

	for _, code := range allowedResponses {
		if code == resp.Sw {
			return nil
		}
	}

	return apdu.NewErrBadResponse(resp.Sw, "unexpected response")
}

func generateHostChallenge() ([]byte, error) {
	c := make([]byte, 8)
	_, err := rand.Read(c)
	return c, err
}
