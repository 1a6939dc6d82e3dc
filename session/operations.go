package session

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	keycard "github.com/status-im/keycard-session"
	"github.com/status-im/keycard-session/apdu"
	"github.com/status-im/keycard-session/types"
)

const (
	// GENERATE MNEMONIC checksum size for a 12 words phrase.
	mnemonicChecksumSize = 4
	maxPairingSlots      = 5
)

// ApplicationInfo is the card state reported by GetApplicationInfo. Identity fields are hex encoded.
type ApplicationInfo struct {
	Installed           bool
	Initialized         bool
	InstanceUID         string
	KeyUID              string
	SecureChannelPubKey string
	HasMasterKey        bool
	Authentic           bool
	Paired              bool
	NewPairing          string
	PinRetryCount       int
	PUKRetryCount       int
	AppVersion          string
	FreePairingSlots    int
	CardName            string
}

// CardIdentity is the result of VerifyCardIdentity.
type CardIdentity struct {
	CAPublicKey string
	TLVData     string
}

func (s *Session) Initialize(ctx context.Context, pin string) (*keycard.Secrets, error) {
	var secrets *keycard.Secrets
	err := s.run(ctx, "initialize", func(op *operation) error {
		applet, info, err := op.applet()
		if err != nil {
			return err
		}

		if info.Initialized {
			return ErrCardAlreadyInitialized
		}

		generated, err := keycard.GenerateSecrets(pin)
		if err != nil {
			return wrap(ErrSecretGenerationFailed, err)
		}

		if s.config.InitializeWithDefaultPairing {
			generated = keycard.NewSecrets(generated.Pin(), generated.Puk(), s.config.DefaultPairingPassword)
		}

		if err := applet.Init(generated); err != nil {
			if hasStatus(err, apdu.SwInsNotSupported) {
				return ErrCardAlreadyInitialized
			}
			return err
		}

		op.logger.Info("card initialized")
		secrets = generated

		return nil
	})

	return secrets, err
}

// Pair pairs with password, caches the pairing and returns its encoded form.
func (s *Session) Pair(ctx context.Context, password string) (string, error) {
	var token string
	err := s.run(ctx, "pair", func(op *operation) error {
		applet, info, err := op.applet()
		if err != nil {
			return err
		}

		pairing, err := applet.Pair(password)
		if err != nil {
			if isChannelLoss(err) {
				return err
			}
			return wrap(ErrPairingFailed, err)
		}

		identity := identityKey(info.InstanceUID)
		s.pairings.Store(identity, pairing)
		pairingsTotal.WithLabelValues("manual").Inc()
		op.logger.Info("card paired", "instanceUID", identity, "index", pairing.Index)

		token = pairing.Encode()

		return nil
	})

	return token, err
}

func (s *Session) GenerateMnemonic(ctx context.Context, wordlist []string) (string, error) {
	if len(wordlist) != keycard.WordlistSize {
		return "", fmt.Errorf("%w: %w", ErrInvalidArgument, keycard.ErrInvalidWordlist)
	}

	var phrase string
	err := s.run(ctx, "generate_mnemonic", func(op *operation) error {
		applet, _, err := op.secured()
		if err != nil {
			return err
		}

		indexes, err := applet.GenerateMnemonic(mnemonicChecksumSize)
		if err != nil {
			return err
		}

		phrase, err = keycard.MnemonicFromIndexes(indexes, wordlist)

		return err
	})

	return phrase, err
}

// SaveMnemonic loads the BIP39 seed of phrase, with an empty passphrase.
func (s *Session) SaveMnemonic(ctx context.Context, phrase string, pin string) error {
	return s.run(ctx, "save_mnemonic", func(op *operation) error {
		applet, _, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		if _, err := applet.LoadSeed(keycard.MnemonicToSeed(phrase, "")); err != nil {
			return err
		}
		op.logger.Info("seed loaded")

		return nil
	})
}

func (s *Session) VerifyPIN(ctx context.Context, pin string) error {
	return s.run(ctx, "verify_pin", func(op *operation) error {
		_, _, err := op.authenticated(pin)
		return err
	})
}

func (s *Session) ChangePairingPassword(ctx context.Context, pin string, password string) error {
	return s.run(ctx, "change_pairing_password", func(op *operation) error {
		applet, _, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		return applet.ChangePairingSecret(password)
	})
}

func (s *Session) ChangePUK(ctx context.Context, pin string, puk string) error {
	return s.run(ctx, "change_puk", func(op *operation) error {
		applet, _, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		return applet.ChangePUK(puk)
	})
}

func (s *Session) ChangePIN(ctx context.Context, currentPIN string, newPIN string) error {
	if err := keycard.ValidatePIN(newPIN); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return s.run(ctx, "change_pin", func(op *operation) error {
		applet, _, err := op.authenticated(currentPIN)
		if err != nil {
			return err
		}

		return applet.ChangePIN(newPIN)
	})
}

// UnblockPIN resets the pin with the puk. It needs a secure channel but no pin.
func (s *Session) UnblockPIN(ctx context.Context, puk string, newPIN string) error {
	if err := keycard.ValidatePIN(newPIN); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return s.run(ctx, "unblock_pin", func(op *operation) error {
		applet, _, err := op.secured()
		if err != nil {
			return err
		}

		return applet.UnblockPIN(puk, newPIN)
	})
}

// Unpair frees the pairing slot of this client and evicts the cached pairing.
func (s *Session) Unpair(ctx context.Context, pin string) error {
	return s.run(ctx, "unpair", func(op *operation) error {
		applet, info, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		return op.unpairSelf(applet, info)
	})
}

// RemoveKey removes the key material and evicts the cached pairing.
func (s *Session) RemoveKey(ctx context.Context, pin string) error {
	return s.run(ctx, "remove_key", func(op *operation) error {
		applet, info, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		if err := applet.RemoveKey(); err != nil {
			return err
		}
		op.logger.Info("key removed")

		s.pairings.Remove(identityKey(info.InstanceUID))

		return nil
	})
}

// RemoveKeyAndUnpair removes the key, frees every pairing slot and evicts the cached pairing. Failures to
// unpair other slots are logged and ignored.
func (s *Session) RemoveKeyAndUnpair(ctx context.Context, pin string) error {
	return s.run(ctx, "remove_key_and_unpair", func(op *operation) error {
		applet, info, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		if err := applet.RemoveKey(); err != nil {
			return err
		}
		op.logger.Info("key removed")

		if err := op.unpairOthers(applet, info); err != nil {
			return err
		}

		return op.unpairSelf(applet, info)
	})
}

func (op *operation) currentPairing(info *types.ApplicationInfo) (string, *types.PairingInfo, error) {
	identity := identityKey(info.InstanceUID)
	pairing, ok := op.s.pairings.Lookup(identity)
	if !ok {
		return identity, nil, ErrPairingNotFound
	}

	return identity, pairing, nil
}

func (op *operation) unpairSelf(applet Applet, info *types.ApplicationInfo) error {
	identity, pairing, err := op.currentPairing(info)
	if err != nil {
		return err
	}

	if err := applet.Unpair(uint8(pairing.Index)); err != nil {
		return err
	}

	op.s.pairings.Remove(identity)
	op.logger.Info("card unpaired", "instanceUID", identity, "index", pairing.Index)

	return nil
}

// unpairOthers only returns an error when the channel is lost.
func (op *operation) unpairOthers(applet Applet, info *types.ApplicationInfo) error {
	_, pairing, err := op.currentPairing(info)
	if err != nil {
		return err
	}

	for i := 0; i < maxPairingSlots; i++ {
		if i == pairing.Index {
			continue
		}

		if err := applet.Unpair(uint8(i)); err != nil {
			if isChannelLoss(err) {
				return err
			}
			op.logger.Warn("unpairing slot failed", "index", i, "error", err)
		}
	}

	return nil
}

// GetCardName returns the card name, or an empty string when the card has no valid metadata.
func (s *Session) GetCardName(ctx context.Context) (string, error) {
	var name string
	err := s.run(ctx, "get_card_name", func(op *operation) error {
		applet, _, err := op.applet()
		if err != nil {
			return err
		}

		name, err = op.cardName(applet)

		return err
	})

	return name, err
}

func (op *operation) cardName(applet Applet) (string, error) {
	data, err := applet.GetData(keycard.P1StoreDataPublic)
	if err != nil {
		if isChannelLoss(err) {
			return "", err
		}
		op.logger.Debug("card metadata unavailable", "error", err)
		return "", nil
	}

	return types.ParseCardName(data), nil
}

// SetCardName stores name in the card metadata, keeping the wallet paths already recorded there.
func (s *Session) SetCardName(ctx context.Context, pin string, name string) error {
	if len(name) > types.MaxCardNameLen {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, types.ErrCardNameTooLong)
	}

	return s.run(ctx, "set_card_name", func(op *operation) error {
		applet, _, err := op.authenticated(pin)
		if err != nil {
			return err
		}

		var metadata *types.Metadata
		if data, err := applet.GetData(keycard.P1StoreDataPublic); err == nil {
			if m, err := types.ParseMetadata(data); err == nil {
				metadata = m
			}
		} else if isChannelLoss(err) {
			return err
		}

		if metadata == nil {
			metadata, err = types.NewMetadata(name, nil)
		} else {
			err = metadata.SetName(name)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}

		return applet.StoreData(keycard.P1StoreDataPublic, metadata.Serialize())
	})
}

// VerifyCardIdentity runs the authenticity challenge without pairing, and returns the CA key that
// certified the card.
func (s *Session) VerifyCardIdentity(ctx context.Context, challenge []byte) (*CardIdentity, error) {
	if len(challenge) != challengeLength {
		return nil, fmt.Errorf("%w: challenge must be %d bytes", ErrInvalidArgument, challengeLength)
	}

	var identity *CardIdentity
	err := s.run(ctx, "verify_card_identity", func(op *operation) error {
		applet, _, err := op.applet()
		if err != nil {
			return err
		}

		data, err := applet.Identify(challenge)
		if err != nil {
			return err
		}

		caKey, err := types.VerifyIdentity(challenge, data)
		if err != nil {
			return wrap(ErrAuthenticityFailed, err)
		}

		identity = &CardIdentity{
			CAPublicKey: common.Bytes2Hex(caKey),
			TLVData:     common.Bytes2Hex(data),
		}

		return nil
	})

	return identity, err
}

// GetApplicationInfo selects the card and, when initialized, negotiates a secure channel. Authenticity and
// pairing failures are reported in the result rather than as errors.
func (s *Session) GetApplicationInfo(ctx context.Context) (*ApplicationInfo, error) {
	var result *ApplicationInfo
	err := s.run(ctx, "get_application_info", func(op *operation) error {
		applet, info, err := op.applet()
		if err != nil {
			return err
		}

		out := &ApplicationInfo{
			Installed:           info.Installed,
			Initialized:         info.Initialized,
			SecureChannelPubKey: common.Bytes2Hex(info.SecureChannelPublicKey),
		}

		if !info.Initialized {
			result = out
			return nil
		}

		out.InstanceUID = identityKey(info.InstanceUID)
		out.KeyUID = common.Bytes2Hex(info.KeyUID)
		out.HasMasterKey = info.HasMasterKey()
		out.AppVersion = info.VersionString()
		out.FreePairingSlots = info.FreePairingSlots()

		if out.CardName, err = op.cardName(applet); err != nil {
			return err
		}

		negotiated, err := s.negotiator.negotiate(applet, info, op.logger)
		if err != nil {
			return err
		}

		out.Authentic = negotiated.Authentic
		out.Paired = negotiated.Paired
		out.NewPairing = negotiated.NewPairing

		if out.Paired {
			status, err := applet.GetStatusApplication()
			if err != nil {
				return err
			}
			out.PinRetryCount = status.PinRetryCount
			out.PUKRetryCount = status.PUKRetryCount
		}

		result = out

		return nil
	})

	return result, err
}

func (s *Session) SetPairings(pairings map[string]string) error {
	return s.pairings.ReplaceAll(pairings)
}

// Pairings returns the cached pairings by identity, encoded.
func (s *Session) Pairings() map[string]string {
	return s.pairings.Export()
}

// ExportPairing returns the encoded pairing cached for identity.
func (s *Session) ExportPairing(identity string) (string, error) {
	pairing, ok := s.pairings.Lookup(identity)
	if !ok {
		return "", ErrPairingNotFound
	}

	return pairing.Encode(), nil
}

func (s *Session) SetTrustedAuthorities(keys []string) error {
	return s.pairings.SetTrustedAuthorities(keys)
}

func (s *Session) SetOneTimeVerificationSkip(identity string) {
	s.pairings.SetOneTimeVerificationSkip(identity)
}
