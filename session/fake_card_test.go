package session

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	keycard "github.com/status-im/keycard-session"
	"github.com/status-im/keycard-session/apdu"
	"github.com/status-im/keycard-session/crypto"
	"github.com/status-im/keycard-session/derivationpath"
	"github.com/status-im/keycard-session/types"
	"github.com/stretchr/testify/require"
)

func tlv(tag byte, value []byte) []byte {
	if len(value) < 0x80 {
		return append([]byte{tag, byte(len(value))}, value...)
	}

	return append([]byte{tag, 0x81, byte(len(value))}, value...)
}

// cardIdentity is a card identity key certified by a CA key.
type cardIdentity struct {
	ca    *ecdsa.PrivateKey
	ident *ecdsa.PrivateKey
}

func newCardIdentity(t *testing.T) *cardIdentity {
	ca, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	ident, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	return &cardIdentity{ca: ca, ident: ident}
}

func (id *cardIdentity) caKey() string {
	return identityKey(ethcrypto.CompressPubkey(&id.ca.PublicKey))
}

func (id *cardIdentity) respond(t *testing.T, challenge []byte) []byte {
	identPub := ethcrypto.CompressPubkey(&id.ident.PublicKey)
	certHash := sha256.Sum256(identPub)
	certSig, err := ethcrypto.Sign(certHash[:], id.ca)
	require.NoError(t, err)

	sig, err := ethcrypto.Sign(challenge, id.ident)
	require.NoError(t, err)

	der := tlv(0x30, append(
		tlv(0x02, append([]byte{0x00}, sig[:32]...)),
		tlv(0x02, append([]byte{0x00}, sig[32:64]...))...,
	))

	return tlv(0xA0, append(tlv(0x8A, append(identPub, certSig...)), der...))
}

func badResponse(sw uint16) error {
	return apdu.NewErrBadResponse(sw, "unexpected response")
}

// fakeCard is a scripted keycard. Every command goes through the channel the command set is bound to, so
// a lost channel fails the command before the card state changes.
type fakeCard struct {
	t *testing.T

	instanceUID     []byte
	installed       bool
	initialized     bool
	version         []byte
	capabilities    types.Capability
	pairingPassword string
	pairings        map[int][]byte
	nextIndex       int
	pin             string
	puk             string
	keyUID          []byte
	keyPath         string
	metadata        []byte
	identity        *cardIdentity
	cashKey         *ecdsa.PrivateKey

	selectErr           error
	factoryResetErr     error
	unpairErr           map[int]error
	refusePrivateExport bool
	hooks               map[string]func()

	calls []string
}

func newFakeCard(t *testing.T) *fakeCard {
	cashKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	return &fakeCard{
		t:               t,
		instanceUID:     bytes.Repeat([]byte{0xC1}, 16),
		installed:       true,
		initialized:     true,
		version:         []byte{0x03, 0x01},
		capabilities:    types.CapabilityDefault | types.CapabilityFactoryReset,
		pairingPassword: DefaultPairingPassword,
		pairings:        make(map[int][]byte),
		pin:             "123456",
		puk:             "123456789012",
		keyUID:          bytes.Repeat([]byte{0x0E}, 32),
		keyPath:         derivationpath.MasterPath,
		cashKey:         cashKey,
		unpairErr:       make(map[int]error),
		hooks:           make(map[string]func()),
	}
}

func (c *fakeCard) exchange(ch types.Channel, name string) error {
	if hook, ok := c.hooks[name]; ok {
		hook()
	}

	if _, err := ch.Send(apdu.NewCommand(0x80, 0xFF, 0x00, 0x00, []byte(name))); err != nil {
		return err
	}

	c.calls = append(c.calls, name)

	return nil
}

func (c *fakeCard) count(name string) int {
	n := 0
	for _, call := range c.calls {
		if call == name {
			n++
		}
	}

	return n
}

func (c *fakeCard) index(name string) int {
	for i, call := range c.calls {
		if call == name {
			return i
		}
	}

	return -1
}

func (c *fakeCard) keyAt(path string) *ecdsa.PrivateKey {
	seed := sha256.Sum256(append([]byte(path), c.keyUID...))
	key, err := ethcrypto.ToECDSA(seed[:])
	require.NoError(c.t, err)

	return key
}

type fakeFactory struct {
	card *fakeCard
}

func (f fakeFactory) Applet(c types.Channel) Applet {
	return &fakeApplet{card: f.card, c: c}
}

func (f fakeFactory) CashApplet(c types.Channel) CashApplet {
	return &fakeCashApplet{card: f.card, c: c}
}

func (f fakeFactory) CardManager(c types.Channel) CardManager {
	return &fakeCardManager{card: f.card, c: c}
}

type fakeApplet struct {
	card    *fakeCard
	c       types.Channel
	pairing *types.PairingInfo
	secure  bool
}

func (a *fakeApplet) send(name string) error {
	return a.card.exchange(a.c, name)
}

func (a *fakeApplet) sendSecure(name string) error {
	if err := a.send(name); err != nil {
		return err
	}

	if !a.secure {
		return badResponse(apdu.SwSecurityConditionNotSatisfied)
	}

	return nil
}

func (a *fakeApplet) Select() (*types.ApplicationInfo, error) {
	if err := a.send("Select"); err != nil {
		return nil, err
	}

	card := a.card
	if card.selectErr != nil {
		return nil, card.selectErr
	}

	a.secure = false

	return &types.ApplicationInfo{
		Installed:              card.installed,
		Initialized:            card.initialized,
		InstanceUID:            card.instanceUID,
		SecureChannelPublicKey: bytes.Repeat([]byte{0x04}, 65),
		Version:                card.version,
		AvailableSlots:         []byte{byte(maxPairingSlots - len(card.pairings))},
		KeyUID:                 card.keyUID,
		Capabilities:           card.capabilities,
	}, nil
}

func (a *fakeApplet) Init(secrets *keycard.Secrets) error {
	if err := a.send("Init"); err != nil {
		return err
	}

	if a.card.initialized {
		return badResponse(apdu.SwInsNotSupported)
	}

	a.card.initialized = true
	a.card.pin = secrets.Pin()
	a.card.puk = secrets.Puk()
	a.card.pairingPassword = secrets.PairingPass()

	return nil
}

func (a *fakeApplet) Pair(pairingPass string) (*types.PairingInfo, error) {
	if err := a.send("Pair"); err != nil {
		return nil, err
	}

	if pairingPass != a.card.pairingPassword {
		return nil, crypto.ErrInvalidCardCryptogram
	}

	index := a.card.nextIndex
	a.card.nextIndex++
	key := sha256.Sum256([]byte{byte(index), 0x42})
	a.card.pairings[index] = key[:]

	a.pairing = &types.PairingInfo{Key: key[:], Index: index}

	return a.pairing, nil
}

func (a *fakeApplet) SetPairingInfo(pairing *types.PairingInfo) {
	a.pairing = pairing
}

func (a *fakeApplet) OpenSecureChannel() error {
	if err := a.send("OpenSecureChannel"); err != nil {
		return err
	}

	if a.pairing == nil {
		return keycard.ErrPairingNotSet
	}

	key, ok := a.card.pairings[a.pairing.Index]
	if !ok || !bytes.Equal(key, a.pairing.Key) {
		return keycard.ErrInvalidResponseMAC
	}

	a.secure = true

	return nil
}

func (a *fakeApplet) Identify(challenge []byte) ([]byte, error) {
	if err := a.send("Identify"); err != nil {
		return nil, err
	}

	if a.card.identity == nil {
		return nil, badResponse(apdu.SwInsNotSupported)
	}

	return a.card.identity.respond(a.card.t, challenge), nil
}

func (a *fakeApplet) GetStatusApplication() (*types.ApplicationStatus, error) {
	if err := a.sendSecure("GetStatusApplication"); err != nil {
		return nil, err
	}

	return &types.ApplicationStatus{PinRetryCount: 3, PUKRetryCount: 5, KeyInitialized: len(a.card.keyUID) > 0}, nil
}

func (a *fakeApplet) GetStatusKeyPath() (*types.ApplicationStatus, error) {
	if err := a.sendSecure("GetStatusKeyPath"); err != nil {
		return nil, err
	}

	return &types.ApplicationStatus{Path: a.card.keyPath}, nil
}

func (a *fakeApplet) VerifyPIN(pin string) error {
	if err := a.sendSecure("VerifyPIN"); err != nil {
		return err
	}

	if pin != a.card.pin {
		return &keycard.WrongPINError{RemainingAttempts: 2}
	}

	return nil
}

func (a *fakeApplet) ChangePIN(pin string) error {
	if err := a.sendSecure("ChangePIN"); err != nil {
		return err
	}

	a.card.pin = pin

	return nil
}

func (a *fakeApplet) ChangePUK(puk string) error {
	if err := a.sendSecure("ChangePUK"); err != nil {
		return err
	}

	a.card.puk = puk

	return nil
}

func (a *fakeApplet) ChangePairingSecret(password string) error {
	if err := a.sendSecure("ChangePairingSecret"); err != nil {
		return err
	}

	a.card.pairingPassword = password

	return nil
}

func (a *fakeApplet) UnblockPIN(puk string, newPIN string) error {
	if err := a.sendSecure("UnblockPIN"); err != nil {
		return err
	}

	if puk != a.card.puk {
		return &keycard.WrongPUKError{RemainingAttempts: 4}
	}

	a.card.pin = newPIN

	return nil
}

func (a *fakeApplet) Unpair(index uint8) error {
	if err := a.sendSecure("Unpair"); err != nil {
		return err
	}

	if err := a.card.unpairErr[int(index)]; err != nil {
		return err
	}

	delete(a.card.pairings, int(index))

	return nil
}

func (a *fakeApplet) GenerateMnemonic(checksumSize int) ([]int, error) {
	if err := a.sendSecure("GenerateMnemonic"); err != nil {
		return nil, err
	}

	require.Equal(a.card.t, mnemonicChecksumSize, checksumSize)

	return []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 2047}, nil
}

func (a *fakeApplet) LoadSeed(seed []byte) ([]byte, error) {
	if err := a.sendSecure("LoadSeed"); err != nil {
		return nil, err
	}

	uid := sha256.Sum256(seed)
	a.card.keyUID = uid[:]

	return a.card.keyUID, nil
}

func (a *fakeApplet) LoadKeyPair(kp *types.KeyPair) ([]byte, error) {
	if err := a.sendSecure("LoadKeyPair"); err != nil {
		return nil, err
	}

	uid := sha256.Sum256(kp.PublicKey)
	a.card.keyUID = uid[:]

	return a.card.keyUID, nil
}

func (a *fakeApplet) RemoveKey() error {
	if err := a.sendSecure("RemoveKey"); err != nil {
		return err
	}

	a.card.keyUID = nil

	return nil
}

func (a *fakeApplet) DeriveKey(path string) error {
	if err := a.sendSecure("DeriveKey"); err != nil {
		return err
	}

	canonical, _, err := derivationpath.Canonical(path)
	require.NoError(a.card.t, err)
	a.card.keyPath = canonical

	return nil
}

func (a *fakeApplet) ExportKey(derive bool, makeCurrent bool, p2 uint8, path string) (*types.KeyPair, error) {
	if err := a.sendSecure("ExportKey"); err != nil {
		return nil, err
	}

	if !derive {
		path = a.card.keyPath
		if a.card.refusePrivateExport && p2 == keycard.P2ExportKeyPrivateAndPublic {
			return nil, badResponse(apdu.SwConditionsNotSatisfied)
		}
	}

	key := a.card.keyAt(path)
	kp := &types.KeyPair{PublicKey: ethcrypto.FromECDSAPub(&key.PublicKey)}

	switch p2 {
	case keycard.P2ExportKeyPrivateAndPublic:
		kp.PrivateKey = ethcrypto.FromECDSA(key)
	case keycard.P2ExportKeyExtendedPublic:
		chainCode := sha256.Sum256([]byte(path))
		kp.ChainCode = chainCode[:]
	}

	return kp, nil
}

func (a *fakeApplet) sign(hash []byte, key *ecdsa.PrivateKey) (*types.Signature, error) {
	sig, err := ethcrypto.Sign(hash, key)
	require.NoError(a.card.t, err)

	return types.ParseRecoverableSignature(hash, sig)
}

func (a *fakeApplet) Sign(hash []byte) (*types.Signature, error) {
	if err := a.sendSecure("Sign"); err != nil {
		return nil, err
	}

	return a.sign(hash, a.card.keyAt(a.card.keyPath))
}

func (a *fakeApplet) SignWithPath(hash []byte, path string, makeCurrent bool) (*types.Signature, error) {
	if err := a.sendSecure("SignWithPath"); err != nil {
		return nil, err
	}

	return a.sign(hash, a.card.keyAt(path))
}

func (a *fakeApplet) GetData(typ uint8) ([]byte, error) {
	if err := a.send("GetData"); err != nil {
		return nil, err
	}

	return a.card.metadata, nil
}

func (a *fakeApplet) StoreData(typ uint8, data []byte) error {
	if err := a.sendSecure("StoreData"); err != nil {
		return err
	}

	a.card.metadata = data

	return nil
}

func (a *fakeApplet) FactoryReset() error {
	if err := a.send("FactoryReset"); err != nil {
		return err
	}

	if a.card.factoryResetErr != nil {
		return a.card.factoryResetErr
	}

	a.card.reset()

	return nil
}

func (c *fakeCard) reset() {
	c.initialized = false
	c.pairings = make(map[int][]byte)
	c.keyUID = nil
	c.metadata = nil
}

type fakeCashApplet struct {
	card *fakeCard
	c    types.Channel
}

func (a *fakeCashApplet) Select() (*types.CashApplicationInfo, error) {
	if err := a.card.exchange(a.c, "CashSelect"); err != nil {
		return nil, err
	}

	return &types.CashApplicationInfo{
		PublicKey: ethcrypto.FromECDSAPub(&a.card.cashKey.PublicKey),
		Version:   a.card.version,
	}, nil
}

func (a *fakeCashApplet) Sign(hash []byte) (*types.Signature, error) {
	if err := a.card.exchange(a.c, "CashSign"); err != nil {
		return nil, err
	}

	sig, err := ethcrypto.Sign(hash, a.card.cashKey)
	require.NoError(a.card.t, err)

	return types.ParseRecoverableSignature(hash, sig)
}

type fakeCardManager struct {
	card *fakeCard
	c    types.Channel
}

func (m *fakeCardManager) Select() ([]byte, error) {
	if err := m.card.exchange(m.c, "CardManagerSelect"); err != nil {
		return nil, err
	}

	return []byte{0xA0, 0x00, 0x00, 0x01, 0x51, 0x00, 0x00, 0x00}, nil
}

func (m *fakeCardManager) OpenSecureChannel() error {
	return m.card.exchange(m.c, "CardManagerOpenSecureChannel")
}

func (m *fakeCardManager) DeleteKeycardInstance() error {
	if err := m.card.exchange(m.c, "CardManagerDelete"); err != nil {
		return err
	}

	m.card.installed = false

	return nil
}

func (m *fakeCardManager) InstallKeycardApplet() error {
	if err := m.card.exchange(m.c, "CardManagerInstall"); err != nil {
		return err
	}

	m.card.reset()
	m.card.installed = true
	m.card.selectErr = nil

	return nil
}

// rawChannel is the transport side channel. It answers 9000 to everything unless blocked.
type rawChannel struct {
	block chan struct{}
}

func (c *rawChannel) Send(cmd *apdu.Command) (*apdu.Response, error) {
	if c.block != nil {
		<-c.block
	}

	return &apdu.Response{Sw: apdu.SwOK, Sw1: 0x90, Sw2: 0x00}, nil
}

type fakeTransport struct {
	supported  bool
	enabled    bool
	listener   TransportListener
	started    bool
	reconnects int
}

func (t *fakeTransport) Reconnect() {
	t.reconnects++
}

func (t *fakeTransport) Start(listener TransportListener) error {
	t.listener = listener
	t.started = true
	return nil
}

func (t *fakeTransport) Stop() error {
	t.started = false
	return nil
}

func (t *fakeTransport) IsSupported() bool {
	return t.supported
}

func (t *fakeTransport) IsEnabled() bool {
	return t.enabled
}

func newTestSession(t *testing.T, card *fakeCard, configure ...func(*Config)) *Session {
	config := DefaultConfig()
	config.ExchangeTimeout = time.Second
	for _, f := range configure {
		f(&config)
	}

	s, err := New(config, &fakeTransport{supported: true, enabled: true}, fakeFactory{card})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	s.Connection().OnTransportConnected(&rawChannel{})

	return s
}

func receiveEvent(t *testing.T, ch <-chan Event) Event {
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	return Event{}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
