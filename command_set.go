package keycard

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/status-im/keycard-session/apdu"
	"github.com/status-im/keycard-session/crypto"
	"github.com/status-im/keycard-session/globalplatform"
	"github.com/status-im/keycard-session/identifiers"
	"github.com/status-im/keycard-session/types"
)

var (
	ErrNoAvailablePairingSlots = errors.New("no available pairing slots")
	ErrBadChecksumSize         = errors.New("bad checksum size")
	ErrPairingNotSet           = errors.New("cannot open secure channel without setting PairingInfo")
	ErrBadPairingResponse      = errors.New("bad pairing response")
)

type WrongPINError struct {
	RemainingAttempts int
}

func (e *WrongPINError) Error() string {
	return fmt.Sprintf("wrong pin. remaining attempts: %d", e.RemainingAttempts)
}

type WrongPUKError struct {
	RemainingAttempts int
}

func (e *WrongPUKError) Error() string {
	return fmt.Sprintf("wrong puk. remaining attempts: %d", e.RemainingAttempts)
}

// CommandSet is the client of the keycard applet. It is bound to a single channel and is not safe for
// concurrent use.
type CommandSet struct {
	c               types.Channel
	sc              *SecureChannel
	ApplicationInfo *types.ApplicationInfo
	PairingInfo     *types.PairingInfo
}

func NewCommandSet(c types.Channel) *CommandSet {
	return &CommandSet{
		c:               c,
		sc:              NewSecureChannel(c),
		ApplicationInfo: &types.ApplicationInfo{},
	}
}

func (cs *CommandSet) SetPairingInfo(pairing *types.PairingInfo) {
	cs.PairingInfo = pairing
}

func (cs *CommandSet) Pairing() *types.PairingInfo {
	return cs.PairingInfo
}

func (cs *CommandSet) Select() (*types.ApplicationInfo, error) {
	instanceAID, err := identifiers.KeycardInstanceAID(identifiers.KeycardDefaultInstanceIndex)
	if err != nil {
		return nil, err
	}

	cmd := globalplatform.NewCommandSelect(instanceAID)
	resp, err := cs.c.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	appInfo, err := types.ParseApplicationInfo(resp.Data)
	if err != nil {
		return nil, err
	}

	cs.ApplicationInfo = appInfo
	cs.sc.Reset()

	if appInfo.HasSecureChannelCapability() && len(appInfo.SecureChannelPublicKey) > 0 {
		if err = cs.sc.GenerateSecret(appInfo.SecureChannelPublicKey); err != nil {
			return nil, err
		}
	}

	return appInfo, nil
}

func (cs *CommandSet) Init(secrets *Secrets) error {
	data, err := cs.sc.OneShotEncrypt(secrets)
	if err != nil {
		return err
	}

	init := NewCommandInit(data)
	resp, err := cs.c.Send(init)

	return cs.checkOK(resp, err)
}

func (cs *CommandSet) Pair(pairingPass string) (*types.PairingInfo, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return nil, err
	}

	cmd := NewCommandPairFirstStep(challenge)
	resp, err := cs.c.Send(cmd)
	if err == nil && resp.Sw == SwNoAvailablePairingSlots {
		return nil, ErrNoAvailablePairingSlots
	}

	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	if len(resp.Data) != 64 {
		return nil, ErrBadPairingResponse
	}

	cardCryptogram := resp.Data[:32]
	cardChallenge := resp.Data[32:]

	secretHash, err := crypto.VerifyCryptogram(challenge, pairingPass, cardCryptogram)
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	h.Write(secretHash[:])
	h.Write(cardChallenge)
	cmd = NewCommandPairFinalStep(h.Sum(nil))
	resp, err = cs.c.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	if len(resp.Data) < 2 {
		return nil, ErrBadPairingResponse
	}

	h.Reset()
	h.Write(secretHash[:])
	h.Write(resp.Data[1:])

	cs.PairingInfo = &types.PairingInfo{
		Key:   h.Sum(nil),
		Index: int(resp.Data[0]),
	}

	return cs.PairingInfo, nil
}

func (cs *CommandSet) Unpair(index uint8) error {
	cmd := NewCommandUnpair(index)
	resp, err := cs.sc.Send(cmd)
	return cs.checkOK(resp, err)
}

func (cs *CommandSet) OpenSecureChannel() error {
	if cs.PairingInfo == nil {
		return ErrPairingNotSet
	}

	if cs.sc.PublicKey() == nil {
		return ErrSecretNotGenerated
	}

	err := cs.openSecureChannel()
	if err != nil {
		cs.sc.Reset()
	}

	return err
}

func (cs *CommandSet) openSecureChannel() error {
	cs.sc.Reset()

	cmd := NewCommandOpenSecureChannel(uint8(cs.PairingInfo.Index), cs.sc.RawPublicKey())
	resp, err := cs.c.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return err
	}

	encKey, macKey, iv, err := crypto.DeriveSessionKeys(cs.sc.Secret(), cs.PairingInfo.Key, resp.Data)
	if err != nil {
		return err
	}

	cs.sc.Init(iv, encKey, macKey)

	return cs.mutualAuthenticate()
}

// Identify asks the card to sign challenge with its identity key. The response carries the certificate.
func (cs *CommandSet) Identify(challenge []byte) ([]byte, error) {
	cmd := NewCommandIdentify(challenge)
	resp, err := cs.sc.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return resp.Data, nil
}

func (cs *CommandSet) GetStatusApplication() (*types.ApplicationStatus, error) {
	cmd := NewCommandGetStatus(P1GetStatusApplication)
	resp, err := cs.sc.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return types.ParseApplicationStatus(resp.Data)
}

func (cs *CommandSet) GetStatusKeyPath() (*types.ApplicationStatus, error) {
	cmd := NewCommandGetStatus(P1GetStatusKeyPath)
	resp, err := cs.sc.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return types.ParseKeyPathStatus(resp.Data)
}

func (cs *CommandSet) VerifyPIN(pin string) error {
	cmd := NewCommandVerifyPIN(pin)
	resp, err := cs.sc.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		if resp != nil && ((resp.Sw & 0x63C0) == 0x63C0) {
			remainingAttempts := resp.Sw & 0x000F
			return &WrongPINError{
				RemainingAttempts: int(remainingAttempts),
			}
		}
		return err
	}

	return nil
}

func (cs *CommandSet) ChangePIN(pin string) error {
	cmd := NewCommandChangePIN(pin)
	resp, err := cs.sc.Send(cmd)
	return cs.checkOK(resp, err)
}

func (cs *CommandSet) UnblockPIN(puk string, newPIN string) error {
	cmd := NewCommandUnblockPIN(puk, newPIN)
	resp, err := cs.sc.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		if resp != nil && ((resp.Sw & 0x63C0) == 0x63C0) {
			remainingAttempts := resp.Sw & 0x000F
			return &WrongPUKError{
				RemainingAttempts: int(remainingAttempts),
			}
		}
		return err
	}

	return nil
}

func (cs *CommandSet) ChangePUK(puk string) error {
	cmd := NewCommandChangePUK(puk)
	resp, err := cs.sc.Send(cmd)

	return cs.checkOK(resp, err)
}

func (cs *CommandSet) ChangePairingSecret(password string) error {
	secret := crypto.PairingToken(password)
	cmd := NewCommandChangePairingSecret(secret)
	resp, err := cs.sc.Send(cmd)

	return cs.checkOK(resp, err)
}

func (cs *CommandSet) GenerateMnemonic(checksumSize int) ([]int, error) {
	if checksumSize < 4 || checksumSize > 8 {
		return nil, ErrBadChecksumSize
	}

	cmd := NewCommandGenerateMnemonic(byte(checksumSize))
	resp, err := cs.sc.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(resp.Data)
	indexes := make([]int, 0)
	for {
		var index int16
		err := binary.Read(buf, binary.BigEndian, &index)
		if err != nil {
			break
		}

		indexes = append(indexes, int(index))
	}

	return indexes, nil
}

func (cs *CommandSet) RemoveKey() error {
	cmd := NewCommandRemoveKey()
	resp, err := cs.sc.Send(cmd)
	return cs.checkOK(resp, err)
}

func (cs *CommandSet) DeriveKey(path string) error {
	cmd, err := NewCommandDeriveKey(path)
	if err != nil {
		return err
	}

	resp, err := cs.sc.Send(cmd)
	return cs.checkOK(resp, err)
}

// ExportKey exports the current key, or the key at path when derive is set. p2 selects what is returned:
// P2ExportKeyPrivateAndPublic, P2ExportKeyPublicOnly or P2ExportKeyExtendedPublic.
func (cs *CommandSet) ExportKey(derive bool, makeCurrent bool, p2 uint8, path string) (*types.KeyPair, error) {
	var p1 uint8
	if !derive {
		p1 = P1ExportKeyCurrent
	} else if !makeCurrent {
		p1 = P1ExportKeyDerive
	} else {
		p1 = P1ExportKeyDeriveAndMakeCurrent
	}

	cmd, err := NewCommandExportKey(p1, p2, path)
	if err != nil {
		return nil, err
	}

	resp, err := cs.sc.Send(cmd)
	err = cs.checkOK(resp, err)
	if err != nil {
		return nil, err
	}

	return types.ParseKeyPair(resp.Data)
}

func (cs *CommandSet) Sign(data []byte) (*types.Signature, error) {
	cmd, err := NewCommandSign(data, P1SignCurrentKey, "")
	if err != nil {
		return nil, err
	}

	resp, err := cs.sc.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return types.ParseSignature(data, resp.Data)
}

func (cs *CommandSet) SignWithPath(data []byte, path string, makeCurrent bool) (*types.Signature, error) {
	p1 := uint8(P1SignDerive)
	if makeCurrent {
		p1 = P1SignDeriveAndMakeCurrent
	}

	cmd, err := NewCommandSign(data, p1, path)
	if err != nil {
		return nil, err
	}

	resp, err := cs.sc.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return types.ParseSignature(data, resp.Data)
}

// LoadSeed loads a BIP39 seed and returns the key UID.
func (cs *CommandSet) LoadSeed(seed []byte) ([]byte, error) {
	cmd := NewCommandLoadSeed(seed)
	resp, err := cs.sc.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return resp.Data, nil
}

// LoadKeyPair loads a key pair, extended when it has a chain code, and returns the key UID.
func (cs *CommandSet) LoadKeyPair(kp *types.KeyPair) ([]byte, error) {
	data, err := kp.TLV()
	if err != nil {
		return nil, err
	}

	p1 := uint8(P1LoadKeyEC)
	if kp.IsExtended() {
		p1 = P1LoadKeyExtendedEC
	}

	cmd := NewCommandLoadKey(p1, data)
	resp, err := cs.sc.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return resp.Data, nil
}

func (cs *CommandSet) GetData(typ uint8) ([]byte, error) {
	cmd := NewCommandGetData(typ)
	resp, err := cs.sc.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return resp.Data, nil
}

func (cs *CommandSet) StoreData(typ uint8, data []byte) error {
	cmd := NewCommandStoreData(typ, data)
	resp, err := cs.sc.Send(cmd)
	return cs.checkOK(resp, err)
}

func (cs *CommandSet) FactoryReset() error {
	cmd := NewCommandFactoryReset()
	resp, err := cs.c.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return err
	}

	cs.sc.Reset()

	return nil
}

func (cs *CommandSet) mutualAuthenticate() error {
	data := make([]byte, 32)
	if _, err := rand.Read(data); err != nil {
		return err
	}

	cmd := NewCommandMutuallyAuthenticate(data)
	resp, err := cs.sc.Send(cmd)

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
