package types

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/status-im/keycard-session/apdu"
)

var (
	TagSignatureTemplate = uint8(0xA0)
	TagRawSignature      = uint8(0x80)
)

var (
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrUnrecoverableSigner = errors.New("cannot recover signer public key")
)

type Signature struct {
	pubKey []byte
	r      []byte
	s      []byte
	v      byte
}

func ParseSignature(message, resp []byte) (*Signature, error) {
	// check for old template first because TagRawSignature matches the pubkey tag
	template, err := apdu.FindTag(resp, apdu.Tag{TagSignatureTemplate})
	if err == nil {
		return parseLegacySignature(message, template)
	}

	sig, err := apdu.FindTag(resp, apdu.Tag{TagRawSignature})

	if err != nil {
		return nil, err
	}

	return ParseRecoverableSignature(message, sig)
}

func ParseRecoverableSignature(message, sig []byte) (*Signature, error) {
	if len(sig) != 65 {
		return nil, ErrInvalidSignature
	}

	pubKey, err := crypto.Ecrecover(message, sig)
	if err != nil {
		return nil, err
	}

	return &Signature{
		pubKey: pubKey,
		r:      sig[0:32],
		s:      sig[32:64],
		v:      sig[64],
	}, nil
}

func DERSignatureToRS(tlv []byte) ([]byte, []byte, error) {
	r, err := apdu.FindTagN(tlv, 0, apdu.Tag{0x30}, apdu.Tag{0x02})
	if err != nil {
		return nil, nil, err
	}

	s, err := apdu.FindTagN(tlv, 1, apdu.Tag{0x30}, apdu.Tag{0x02})
	if err != nil {
		return nil, nil, err
	}

	return fixedWidth(r), fixedWidth(s), nil
}

// fixedWidth strips DER sign padding and left pads to 32 bytes.
func fixedWidth(n []byte) []byte {
	out := make([]byte, 32)
	if len(n) > 32 {
		n = n[len(n)-32:]
	}

	copy(out[32-len(n):], n)

	return out
}

func (s *Signature) PubKey() []byte {
	return s.pubKey
}

func (s *Signature) R() []byte {
	return s.r
}

func (s *Signature) S() []byte {
	return s.s
}

func (s *Signature) V() byte {
	return s.v
}

// Bytes returns R || S || V, always 65 bytes long.
func (s *Signature) Bytes() []byte {
	out := make([]byte, 0, 65)
	out = append(out, fixedWidth(s.r)...)
	out = append(out, fixedWidth(s.s)...)

	return append(out, s.v)
}

func parseLegacySignature(message, template []byte) (*Signature, error) {
	pubKey, err := apdu.FindTag(template, apdu.Tag{0x80})
	if err != nil {
		return nil, err
	}

	r, s, err := DERSignatureToRS(template)
	if err != nil {
		return nil, err
	}

	v, err := calculateV(message, pubKey, r, s)
	if err != nil {
		return nil, err
	}

	return &Signature{
		pubKey: pubKey,
		r:      r,
		s:      s,
		v:      v,
	}, nil
}

func calculateV(message, pubKey, r, s []byte) (byte, error) {
	rs := make([]byte, 0, 65)
	rs = append(rs, r...)
	rs = append(rs, s...)

	for i := 0; i < 4; i++ {
		sig := append(rs[:64:64], byte(i))
		rec, err := crypto.Ecrecover(message, sig)
		if err != nil {
			continue
		}

		if len(pubKey) == 33 {
			rec = compressPublicKey(rec)
		}

		if bytes.Equal(pubKey, rec) {
			return byte(i), nil
		}
	}

	return 0, ErrUnrecoverableSigner
}

func compressPublicKey(pubKey []byte) []byte {
	if len(pubKey) == 33 {
		return pubKey
	}

	out := make([]byte, 33)
	copy(out[1:], pubKey[1:33])
	if (pubKey[64] & 1) == 1 {
		out[0] = 3
	} else {
		out[0] = 2
	}

	return out
}
