package globalplatform

import (
	"errors"

	"github.com/status-im/keycard-session/apdu"
)

var (
	ErrSecurityConditionNotSatisfied = errors.New("security condition not satisfied")
	ErrAuthenticationMethodBlocked   = errors.New("authentication method blocked")
	ErrInvalidInitializeUpdateLength = errors.New("initialize update response must be 28 bytes")
	ErrBadCardCryptogram             = errors.New("bad card cryptogram")
)

// Session holds the SCP02 session keys and challenges of an INITIALIZE UPDATE exchange.
type Session struct {
	keys          *SCP02Keys
	cardChallenge []byte
	hostChallenge []byte
}

// NewSession derives the session keys from the INITIALIZE UPDATE response and verifies the card cryptogram.
func NewSession(cardKeys *SCP02Keys, resp *apdu.Response, hostChallenge []byte) (*Session, error) {
	switch resp.Sw {
	case apdu.SwOK:
	case apdu.SwSecurityConditionNotSatisfied:
		return nil, ErrSecurityConditionNotSatisfied
	case apdu.SwAuthenticationMethodBlocked:
		return nil, ErrAuthenticationMethodBlocked
	default:
		return nil, apdu.NewErrBadResponse(resp.Sw, "unexpected initialize update response")
	}

	if len(resp.Data) != 28 {
		return nil, ErrInvalidInitializeUpdateLength
	}

	seq := resp.Data[12:14]
	cardChallenge := resp.Data[12:20]
	cardCryptogram := resp.Data[20:28]

	sessionEncKey, err := DeriveKey(cardKeys.Enc(), seq, DerivationPurposeEnc)
	if err != nil {
		return nil, err
	}

	sessionMacKey, err := DeriveKey(cardKeys.Mac(), seq, DerivationPurposeMac)
	if err != nil {
		return nil, err
	}

	sessionKeys := NewSCP02Keys(sessionEncKey, sessionMacKey)
	verified, err := VerifyCryptogram(sessionKeys.Enc(), hostChallenge, cardChallenge, cardCryptogram)
	if err != nil {
		return nil, err
	}

	if !verified {
		return nil, ErrBadCardCryptogram
	}

	return &Session{
		keys:          sessionKeys,
		cardChallenge: cardChallenge,
		hostChallenge: hostChallenge,
	}, nil
}

func (s *Session) Keys() *SCP02Keys {
	return s.keys
}

func (s *Session) CardChallenge() []byte {
	return s.cardChallenge
}

func (s *Session) HostChallenge() []byte {
	return s.hostChallenge
}
