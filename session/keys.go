package session

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	keycard "github.com/status-im/keycard-session"
	"github.com/status-im/keycard-session/apdu"
	"github.com/status-im/keycard-session/derivationpath"
	"github.com/status-im/keycard-session/types"
)

const (
	// applet 2.2, the first with SIGN on an explicit path
	combinedDeriveSignVersion = 0x0202
	// applet 3.16, the first exporting extended public keys
	extendedPublicExportVersion = 0x0310
)

// ExportedKey is a key pair exported from the card, hex encoded. PrivateKey is empty when the card only
// exports the public key.
type ExportedKey struct {
	Address    string
	PublicKey  string
	PrivateKey string
	ChainCode  string
}

// Keys are the messaging keys and identities returned by GetKeys.
type Keys struct {
	WhisperAddress       string
	WhisperPublicKey     string
	WhisperPrivateKey    string
	EncryptionPublicKey  string
	EncryptionPrivateKey string
	InstanceUID          string
	KeyUID               string
}

// GeneratedKeys is the account material reported after loading or importing keys. WalletRootChainCode is
// only set when the applet exports extended public keys.
type GeneratedKeys struct {
	Address             string
	PublicKey           string
	WalletRootAddress   string
	WalletRootPublicKey string
	WalletRootChainCode string
	WalletAddress       string
	WalletPublicKey     string
	WhisperAddress      string
	WhisperPublicKey    string
	WhisperPrivateKey   string
	EncryptionPublicKey string
	InstanceUID         string
	KeyUID              string
}

type ImportedKeys = GeneratedKeys

func newExportedKey(kp *types.KeyPair) (*ExportedKey, error) {
	address, err := kp.EthereumAddress()
	if err != nil {
		return nil, err
	}

	return &ExportedKey{
		Address:    address,
		PublicKey:  common.Bytes2Hex(kp.PublicKey),
		PrivateKey: common.Bytes2Hex(kp.PrivateKey),
		ChainCode:  common.Bytes2Hex(kp.ChainCode),
	}, nil
}

func validateHash(hash []byte) error {
	if len(hash) != 32 {
		return fmt.Errorf("%w: hash must be 32 bytes, got %d", ErrInvalidArgument, len(hash))
	}

	return nil
}

func validatePath(path string) (string, bool, error) {
	canonical, absolute, err := derivationpath.Canonical(path)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return canonical, absolute, nil
}

func rootExportP2(info *types.ApplicationInfo) uint8 {
	if info.AppVersion() < extendedPublicExportVersion {
		return keycard.P2ExportKeyPublicOnly
	}

	return keycard.P2ExportKeyExtendedPublic
}

// GenerateAndLoadKey loads the BIP32 master key of mnemonic and exports the account keys derived from it.
func (s *Session) GenerateAndLoadKey(ctx context.Context, mnemonic string, pin string) (*GeneratedKeys, error) {
	var keys *GeneratedKeys
	err := s.run(ctx, "generate_and_load_key", func(op *operation) error {
		applet, info, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		master, err := keycard.MasterKeyFromSeed(keycard.MnemonicToSeed(mnemonic, ""))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}

		if _, err := applet.LoadKeyPair(master); err != nil {
			return err
		}
		op.logger.Info("key pair loaded")

		out := &GeneratedKeys{}
		if err := op.exportAccountKeys(applet, info, master, out); err != nil {
			return err
		}

		info, err = applet.Select()
		if err != nil {
			return err
		}

		out.InstanceUID = identityKey(info.InstanceUID)
		out.KeyUID = common.Bytes2Hex(info.KeyUID)
		keys = out

		return nil
	})

	return keys, err
}

// ImportKeys exports the account keys of the key already loaded on the card.
func (s *Session) ImportKeys(ctx context.Context, pin string) (*ImportedKeys, error) {
	var keys *ImportedKeys
	err := s.run(ctx, "import_keys", func(op *operation) error {
		applet, info, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		master, err := applet.ExportKey(true, false, keycard.P2ExportKeyPublicOnly, derivationpath.MasterPath)
		if err != nil {
			return err
		}

		out := &ImportedKeys{
			InstanceUID: identityKey(info.InstanceUID),
			KeyUID:      common.Bytes2Hex(info.KeyUID),
		}

		if err := op.exportAccountKeys(applet, info, master, out); err != nil {
			return err
		}

		keys = out

		return nil
	})

	return keys, err
}

func (op *operation) exportAccountKeys(applet Applet, info *types.ApplicationInfo, master *types.KeyPair, out *GeneratedKeys) error {
	var err error
	if out.Address, err = master.EthereumAddress(); err != nil {
		return err
	}
	out.PublicKey = common.Bytes2Hex(master.PublicKey)

	root, err := applet.ExportKey(true, false, rootExportP2(info), derivationpath.RootPath)
	if err != nil {
		return err
	}
	if out.WalletRootAddress, err = root.EthereumAddress(); err != nil {
		return err
	}
	out.WalletRootPublicKey = common.Bytes2Hex(root.PublicKey)
	if root.IsExtended() {
		out.WalletRootChainCode = common.Bytes2Hex(root.ChainCode)
	}

	wallet, err := applet.ExportKey(true, false, keycard.P2ExportKeyPublicOnly, derivationpath.WalletPath)
	if err != nil {
		return err
	}
	if out.WalletAddress, err = wallet.EthereumAddress(); err != nil {
		return err
	}
	out.WalletPublicKey = common.Bytes2Hex(wallet.PublicKey)

	whisper, err := applet.ExportKey(true, false, keycard.P2ExportKeyPrivateAndPublic, derivationpath.WhisperPath)
	if err != nil {
		return err
	}
	if out.WhisperAddress, err = whisper.EthereumAddress(); err != nil {
		return err
	}
	out.WhisperPublicKey = common.Bytes2Hex(whisper.PublicKey)
	out.WhisperPrivateKey = common.Bytes2Hex(whisper.PrivateKey)

	encryption, err := applet.ExportKey(true, false, keycard.P2ExportKeyPrivateAndPublic, derivationpath.EncryptionPath)
	if err != nil {
		return err
	}
	out.EncryptionPublicKey = common.Bytes2Hex(encryption.PublicKey)

	op.logger.Debug("account keys exported")

	return nil
}

// DeriveKey makes path the current key. Nothing is sent when the card already reports path as current.
func (s *Session) DeriveKey(ctx context.Context, path string, pin string) error {
	canonical, absolute, err := validatePath(path)
	if err != nil {
		return err
	}

	return s.run(ctx, "derive_key", func(op *operation) error {
		applet, _, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		return op.deriveIfNeeded(applet, path, canonical, absolute)
	})
}

func (op *operation) deriveIfNeeded(applet Applet, path string, canonical string, absolute bool) error {
	if absolute {
		status, err := applet.GetStatusKeyPath()
		if err != nil {
			return err
		}

		if status.Path == canonical {
			op.logger.Debug("key already current", "path", canonical)
			return nil
		}
	}

	if err := applet.DeriveKey(path); err != nil {
		return err
	}
	op.logger.Debug("key derived", "path", path)

	return nil
}

// ExportKey exports the current key, with its private key when the card allows it.
func (s *Session) ExportKey(ctx context.Context, pin string) (*ExportedKey, error) {
	var key *ExportedKey
	err := s.run(ctx, "export_key", func(op *operation) error {
		applet, _, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		kp, err := applet.ExportKey(false, false, keycard.P2ExportKeyPrivateAndPublic, "")
		if hasStatus(err, apdu.SwConditionsNotSatisfied) {
			op.logger.Debug("private export refused, exporting public key")
			kp, err = applet.ExportKey(false, false, keycard.P2ExportKeyPublicOnly, "")
		}
		if err != nil {
			return err
		}

		key, err = newExportedKey(kp)

		return err
	})

	return key, err
}

// ExportKeyWithPath returns the hex public key at path, without changing the current key.
func (s *Session) ExportKeyWithPath(ctx context.Context, pin string, path string) (string, error) {
	if _, _, err := validatePath(path); err != nil {
		return "", err
	}

	var pub string
	err := s.run(ctx, "export_key_with_path", func(op *operation) error {
		applet, _, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		kp, err := applet.ExportKey(true, false, keycard.P2ExportKeyPublicOnly, path)
		if err != nil {
			return err
		}

		pub = common.Bytes2Hex(kp.PublicKey)

		return nil
	})

	return pub, err
}

func (s *Session) GetKeys(ctx context.Context, pin string) (*Keys, error) {
	var keys *Keys
	err := s.run(ctx, "get_keys", func(op *operation) error {
		applet, info, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		whisper, err := applet.ExportKey(true, false, keycard.P2ExportKeyPrivateAndPublic, derivationpath.WhisperPath)
		if err != nil {
			return err
		}

		encryption, err := applet.ExportKey(true, false, keycard.P2ExportKeyPrivateAndPublic, derivationpath.EncryptionPath)
		if err != nil {
			return err
		}

		whisperAddress, err := whisper.EthereumAddress()
		if err != nil {
			return err
		}

		keys = &Keys{
			WhisperAddress:       whisperAddress,
			WhisperPublicKey:     common.Bytes2Hex(whisper.PublicKey),
			WhisperPrivateKey:    common.Bytes2Hex(whisper.PrivateKey),
			EncryptionPublicKey:  common.Bytes2Hex(encryption.PublicKey),
			EncryptionPrivateKey: common.Bytes2Hex(encryption.PrivateKey),
			InstanceUID:          identityKey(info.InstanceUID),
			KeyUID:               common.Bytes2Hex(info.KeyUID),
		}

		return nil
	})

	return keys, err
}

// Sign signs hash with the current key. The signature is R || S || V.
func (s *Session) Sign(ctx context.Context, pin string, hash []byte) ([]byte, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}

	var sig []byte
	err := s.run(ctx, "sign", func(op *operation) error {
		applet, _, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		signature, err := applet.Sign(hash)
		if err != nil {
			return err
		}

		sig = signedBytes(op, signature)

		return nil
	})

	return sig, err
}

// SignWithPath signs hash with the key at path, leaving the current key unchanged on applets that sign on
// an explicit path. Older applets derive path first.
func (s *Session) SignWithPath(ctx context.Context, pin string, path string, hash []byte) ([]byte, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}

	canonical, absolute, err := validatePath(path)
	if err != nil {
		return nil, err
	}

	var sig []byte
	err = s.run(ctx, "sign_with_path", func(op *operation) error {
		applet, info, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		var signature *types.Signature
		if info.AppVersion() < combinedDeriveSignVersion {
			if err := op.deriveIfNeeded(applet, path, canonical, absolute); err != nil {
				return err
			}
			signature, err = applet.Sign(hash)
		} else {
			signature, err = applet.SignWithPath(hash, path, false)
		}
		if err != nil {
			return err
		}

		sig = signedBytes(op, signature)

		return nil
	})

	return sig, err
}

// SignPinless signs hash with the cash applet, which needs neither pin nor pairing.
func (s *Session) SignPinless(ctx context.Context, hash []byte) ([]byte, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}

	var sig []byte
	err := s.run(ctx, "sign_pinless", func(op *operation) error {
		c, err := op.acquire()
		if err != nil {
			return err
		}

		cash := s.factory.CashApplet(c)
		if _, err := cash.Select(); err != nil {
			return err
		}

		signature, err := cash.Sign(hash)
		if err != nil {
			return err
		}

		sig = signedBytes(op, signature)

		return nil
	})

	return sig, err
}

func signedBytes(op *operation, signature *types.Signature) []byte {
	op.logger.Debug("signed",
		"publicKey", common.Bytes2Hex(signature.PubKey()),
		"r", common.Bytes2Hex(signature.R()),
		"s", common.Bytes2Hex(signature.S()),
		"v", signature.V())

	return signature.Bytes()
}
