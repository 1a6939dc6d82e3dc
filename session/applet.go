package session

import (
	keycard "github.com/status-im/keycard-session"
	"github.com/status-im/keycard-session/globalplatform"
	"github.com/status-im/keycard-session/types"
)

// Applet is the keycard applet command grammar used by the session. *keycard.CommandSet implements it.
type Applet interface {
	Select() (*types.ApplicationInfo, error)
	Init(secrets *keycard.Secrets) error
	Pair(pairingPass string) (*types.PairingInfo, error)
	SetPairingInfo(pairing *types.PairingInfo)
	OpenSecureChannel() error
	Identify(challenge []byte) ([]byte, error)
	GetStatusApplication() (*types.ApplicationStatus, error)
	GetStatusKeyPath() (*types.ApplicationStatus, error)
	VerifyPIN(pin string) error
	ChangePIN(pin string) error
	ChangePUK(puk string) error
	ChangePairingSecret(password string) error
	UnblockPIN(puk string, newPIN string) error
	Unpair(index uint8) error
	GenerateMnemonic(checksumSize int) ([]int, error)
	LoadSeed(seed []byte) ([]byte, error)
	LoadKeyPair(kp *types.KeyPair) ([]byte, error)
	RemoveKey() error
	DeriveKey(path string) error
	ExportKey(derive bool, makeCurrent bool, p2 uint8, path string) (*types.KeyPair, error)
	Sign(hash []byte) (*types.Signature, error)
	SignWithPath(hash []byte, path string, makeCurrent bool) (*types.Signature, error)
	GetData(typ uint8) ([]byte, error)
	StoreData(typ uint8, data []byte) error
	FactoryReset() error
}

// CashApplet signs without PIN with the key of the cash applet.
type CashApplet interface {
	Select() (*types.CashApplicationInfo, error)
	Sign(hash []byte) (*types.Signature, error)
}

// CardManager is the GlobalPlatform issuer security domain, used to reinstall the keycard applet.
type CardManager interface {
	Select() ([]byte, error)
	OpenSecureChannel() error
	DeleteKeycardInstance() error
	InstallKeycardApplet() error
}

// CardFactory binds command sets to a channel. The session passes a guarded channel, fresh for every
// operation.
type CardFactory interface {
	Applet(c types.Channel) Applet
	CashApplet(c types.Channel) CashApplet
	CardManager(c types.Channel) CardManager
}

type DefaultCardFactory struct{}

func (DefaultCardFactory) Applet(c types.Channel) Applet {
	return keycard.NewCommandSet(c)
}

func (DefaultCardFactory) CashApplet(c types.Channel) CashApplet {
	return keycard.NewCashCommandSet(c)
}

func (DefaultCardFactory) CardManager(c types.Channel) CardManager {
	return globalplatform.NewCommandSet(c)
}

var (
	_ Applet      = (*keycard.CommandSet)(nil)
	_ CashApplet  = (*keycard.CashCommandSet)(nil)
	_ CardManager = (*globalplatform.CommandSet)(nil)
)
