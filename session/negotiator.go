package session

import (
	"crypto/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/keycard-session/types"
)

const challengeLength = 32

// outcome is the result of a negotiation. pairingErr holds the cause when an authentic card could not be
// paired.
type outcome struct {
	Paired     bool
	Authentic  bool
	NewPairing string
	pairingErr error
}

// negotiator opens a secure channel with a selected card: with the cached pairing when there is one,
// otherwise with a default pairing once the card is proven authentic.
type negotiator struct {
	store           *PairingStore
	notifier        *Notifier
	pairingPassword string
}

// negotiate only returns an error when the channel is lost. Authenticity and pairing failures are reported
// in the outcome.
func (n *negotiator) negotiate(applet Applet, info *types.ApplicationInfo, logger log.Logger) (*outcome, error) {
	identity := identityKey(info.InstanceUID)

	if pairing, ok := n.store.Lookup(identity); ok {
		applet.SetPairingInfo(pairing)
		err := applet.OpenSecureChannel()
		if err == nil {
			logger.Debug("secure channel opened with cached pairing", "instanceUID", identity)
			return &outcome{Paired: true, Authentic: true}, nil
		}

		if isChannelLoss(err) {
			return nil, err
		}

		// TODO: product review of replacing a rejected cached pairing with a new default pairing.
		logger.Warn("cached pairing rejected, verifying authenticity before pairing again", "instanceUID", identity, "error", err)
	}

	authentic, err := n.verifyAuthenticity(applet, identity, logger)
	if err != nil {
		return nil, err
	}

	if !authentic {
		return &outcome{}, nil
	}

	token, err := n.defaultPairing(applet, identity, logger)
	if err != nil {
		if isChannelLoss(err) {
			return nil, err
		}

		logger.Info("default pairing failed", "instanceUID", identity, "error", err)
		return &outcome{Authentic: true, NewPairing: token, pairingErr: err}, nil
	}

	return &outcome{Paired: true, Authentic: true, NewPairing: token}, nil
}

func (n *negotiator) verifyAuthenticity(applet Applet, identity string, logger log.Logger) (bool, error) {
	if n.store.consumeSkip(identity) {
		authenticityChecksTotal.WithLabelValues("skipped").Inc()
		return true, nil
	}

	challenge := make([]byte, challengeLength)
	if _, err := rand.Read(challenge); err != nil {
		return false, err
	}

	data, err := applet.Identify(challenge)
	if err != nil {
		if isChannelLoss(err) {
			return false, err
		}

		authenticityChecksTotal.WithLabelValues("failed").Inc()
		logger.Info("identify failed", "instanceUID", identity, "error", err)
		return false, nil
	}

	caKey, err := types.VerifyIdentity(challenge, data)
	if err != nil {
		authenticityChecksTotal.WithLabelValues("failed").Inc()
		logger.Info("identity verification failed", "instanceUID", identity, "error", err)
		return false, nil
	}

	if !n.store.isTrusted(common.Bytes2Hex(caKey)) {
		authenticityChecksTotal.WithLabelValues("untrusted").Inc()
		logger.Info("card certified by an untrusted authority", "instanceUID", identity, "ca", common.Bytes2Hex(caKey))
		return false, nil
	}

	authenticityChecksTotal.WithLabelValues("trusted").Inc()

	return true, nil
}

// defaultPairing pairs with the default password, stores and announces the pairing, then opens the
// secure channel. The token is returned whenever the pairing was stored.
func (n *negotiator) defaultPairing(applet Applet, identity string, logger log.Logger) (string, error) {
	pairing, err := applet.Pair(n.pairingPassword)
	if err != nil {
		return "", err
	}

	token := pairing.Encode()
	n.store.Store(identity, pairing)
	pairingsTotal.WithLabelValues("default").Inc()
	n.notifier.Emit(Event{
		Type: EventNewPairing,
		Payload: NewPairingPayload{
			InstanceUID: identity,
			Pairing:     token,
		},
	})
	logger.Info("paired with default password", "instanceUID", identity, "index", pairing.Index)

	applet.SetPairingInfo(pairing)
	if err := applet.OpenSecureChannel(); err != nil {
		return token, err
	}

	return token, nil
}
