package types

import (
	"crypto/sha256"
	"errors"

	"github.com/status-im/keycard-session/apdu"
)

type Certificate struct {
	identPub  []byte
	signature *Signature
}

var (
	TagCertificate = uint8(0x8A)
)

var ErrInvalidCertificateLength = errors.New("certificate must be 98 byte long")

func ParseCertificate(data []byte) (*Certificate, error) {
	if len(data) != 98 {
		return nil, ErrInvalidCertificateLength
	}

	identPub := data[0:33]
	sigData := data[33:98]
	msg := sha256.Sum256(identPub)

	sig, err := ParseRecoverableSignature(msg[:], sigData)
	if err != nil {
		return nil, err
	}

	return &Certificate{
		identPub:  identPub,
		signature: sig,
	}, nil
}

// IdentityPublicKey is the compressed card identity key certified by the CA.
func (c *Certificate) IdentityPublicKey() []byte {
	return c.identPub
}

// VerifyIdentity checks that the card identity key signed challenge and returns the compressed public key of
// the CA that certified it.
func VerifyIdentity(challenge []byte, tlvData []byte) ([]byte, error) {
	template, err := apdu.FindTag(tlvData, apdu.Tag{TagSignatureTemplate})
	if err != nil {
		return nil, err
	}

	certData, err := apdu.FindTag(template, apdu.Tag{TagCertificate})
	if err != nil {
		return nil, err
	}

	cert, err := ParseCertificate(certData)
	if err != nil {
		return nil, err
	}

	r, s, err := DERSignatureToRS(template)
	if err != nil {
		return nil, err
	}

	// signature verification of the challenge fails on some cards while recovery works
	if _, err = calculateV(challenge, cert.IdentityPublicKey(), r, s); err != nil {
		return nil, ErrInvalidSignature
	}

	return compressPublicKey(cert.signature.pubKey), nil
}
