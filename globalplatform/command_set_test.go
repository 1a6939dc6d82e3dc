package globalplatform

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/status-im/keycard-session/apdu"
	"github.com/status-im/keycard-session/identifiers"
)

// fakeCardManager plays the card side of SCP02.
type fakeCardManager struct {
	t             *testing.T
	seq           []byte
	encKey        []byte
	cardChallenge []byte
	hostChallenge []byte
	verifier      *SCP02Wrapper
	deleteSw      uint16
	received      []uint8
}

func newFakeCardManager(t *testing.T) *fakeCardManager {
	return &fakeCardManager{
		t:        t,
		seq:      []byte{0x00, 0x2A},
		deleteSw: apdu.SwOK,
	}
}

func sw(code uint16, data ...byte) *apdu.Response {
	raw := append(data, byte(code>>8), byte(code))
	resp, _ := apdu.ParseResponse(raw)
	return resp
}

func (f *fakeCardManager) Send(cmd *apdu.Command) (*apdu.Response, error) {
	f.received = append(f.received, cmd.Ins())

	switch cmd.Ins() {
	case InsSelect:
		return sw(apdu.SwOK, 0x6F, 0x0A, 0x84, 0x08, 0xA0, 0x00, 0x00, 0x01, 0x51, 0x00, 0x00, 0x00), nil
	case InsInitializeUpdate:
		return f.initializeUpdate(cmd.Data()), nil
	}

	if !f.verifyMAC(cmd) {
		return sw(apdu.SwSecurityConditionNotSatisfied), nil
	}

	data := cmd.Data()[:len(cmd.Data())-8]

	switch cmd.Ins() {
	case InsExternalAuthenticate:
		expected, err := calculateHostCryptogram(f.encKey, f.cardChallenge, f.hostChallenge)
		require.NoError(f.t, err)
		if !bytes.Equal(expected, data) {
			return sw(apdu.SwSecurityConditionNotSatisfied), nil
		}

		return sw(apdu.SwOK), nil
	case InsDelete:
		return sw(f.deleteSw), nil
	case InsInstall:
		return sw(apdu.SwOK), nil
	}

	return sw(apdu.SwInsNotSupported), nil
}

func (f *fakeCardManager) initializeUpdate(hostChallenge []byte) *apdu.Response {
	f.hostChallenge = hostChallenge
	f.cardChallenge = append(append([]byte{}, f.seq...), 0x01, 0x02, 0x03, 0x04, 0x05, 0x06)

	encKey, err := DeriveKey(identifiers.CardTestKey, f.seq, DerivationPurposeEnc)
	require.NoError(f.t, err)
	macKey, err := DeriveKey(identifiers.CardTestKey, f.seq, DerivationPurposeMac)
	require.NoError(f.t, err)

	f.encKey = encKey
	f.verifier = NewSCP02Wrapper(macKey)

	var macData []byte
	macData = append(macData, hostChallenge...)
	macData = append(macData, f.cardChallenge...)
	cryptogram, err := Mac3DES(encKey, AppendDESPadding(macData), NullBytes8)
	require.NoError(f.t, err)

	data := make([]byte, 12)
	data = append(data, f.cardChallenge...)
	data = append(data, cryptogram...)

	return sw(apdu.SwOK, data...)
}

func (f *fakeCardManager) verifyMAC(cmd *apdu.Command) bool {
	if f.verifier == nil || len(cmd.Data()) < 8 {
		return false
	}

	payload := cmd.Data()[:len(cmd.Data())-8]
	mac := cmd.Data()[len(cmd.Data())-8:]

	expected, err := f.verifier.Wrap(apdu.NewCommand(cmd.Cla(), cmd.Ins(), cmd.P1(), cmd.P2(), payload))
	require.NoError(f.t, err)

	return bytes.Equal(expected.Data()[len(payload):], mac)
}

func TestCommandSet_ReinstallFlow(t *testing.T) {
	card := newFakeCardManager(t)
	cs := NewCommandSet(card)

	isd, err := cs.Select()
	require.NoError(t, err)
	assert.Equal(t, identifiers.CardManagerAID, isd)

	require.NoError(t, cs.OpenSecureChannel())
	require.NoError(t, cs.DeleteKeycardInstance())
	require.NoError(t, cs.InstallKeycardApplet())

	assert.Equal(t, []uint8{InsSelect, InsInitializeUpdate, InsExternalAuthenticate, InsDelete, InsInstall}, card.received)
}

func TestCommandSet_DeleteAlreadyAbsent(t *testing.T) {
	card := newFakeCardManager(t)
	card.deleteSw = apdu.SwReferencedDataNotFound
	cs := NewCommandSet(card)

	require.NoError(t, cs.OpenSecureChannel())
	assert.NoError(t, cs.DeleteKeycardInstance())
}

func TestCommandSet_DeleteFailure(t *testing.T) {
	card := newFakeCardManager(t)
	card.deleteSw = apdu.SwConditionsNotSatisfied
	cs := NewCommandSet(card)

	require.NoError(t, cs.OpenSecureChannel())
	err := cs.DeleteKeycardInstance()
	require.Error(t, err)
	assert.Equal(t, uint16(apdu.SwConditionsNotSatisfied), err.(*apdu.ErrBadResponse).Sw())
}

func TestCommandSet_WrongKeys(t *testing.T) {
	card := newFakeCardManager(t)
	cs := NewCommandSet(card)
	cs.SetKeys(NewSCP02Keys(bytes.Repeat([]byte{0x01}, 16), bytes.Repeat([]byte{0x01}, 16)))

	assert.Equal(t, ErrBadCardCryptogram, cs.OpenSecureChannel())
}

func TestExternalAuthenticateRequiresSession(t *testing.T) {
	cs := NewCommandSet(newFakeCardManager(t))
	assert.Equal(t, ErrSessionNotInitialized, cs.externalAuthenticate())
}

func TestAppendDESPadding(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x80, 0, 0, 0, 0, 0, 0}, AppendDESPadding([]byte{0x01}))
	assert.Len(t, AppendDESPadding(make([]byte, 8)), 16)
	assert.Len(t, AppendDESPadding(make([]byte, 16)), 24)
}

func TestMacFull3DES_SingleBlock(t *testing.T) {
	key := identifiers.CardTestKey
	data := AppendDESPadding([]byte{0x01, 0x02, 0x03})

	full, err := MacFull3DES(key, data, NullBytes8)
	require.NoError(t, err)
	mac, err := Mac3DES(key, data, NullBytes8)
	require.NoError(t, err)

	assert.Equal(t, mac, full)
}

func TestNewSession_Errors(t *testing.T) {
	keys := NewSCP02Keys(identifiers.CardTestKey, identifiers.CardTestKey)

	_, err := NewSession(keys, sw(apdu.SwSecurityConditionNotSatisfied), nil)
	assert.Equal(t, ErrSecurityConditionNotSatisfied, err)

	_, err = NewSession(keys, sw(apdu.SwAuthenticationMethodBlocked), nil)
	assert.Equal(t, ErrAuthenticationMethodBlocked, err)

	_, err = NewSession(keys, sw(apdu.SwOK, 0x01), nil)
	assert.Equal(t, ErrInvalidInitializeUpdateLength, err)
}
