package types

import (
	"encoding/hex"
	"errors"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/moov-io/bertlv"
	"github.com/status-im/keycard-session/apdu"
)

var (
	TagKeyPairTemplate  = uint8(0xA1)
	TagKeyPairPublic    = uint8(0x80)
	TagKeyPairPrivate   = uint8(0x81)
	TagKeyPairChainCode = uint8(0x82)
)

var ErrEmptyKeyPair = errors.New("key pair template contains no key")

// KeyPair is a BIP32 key pair as exported by the card. Any of its fields can be empty.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
	ChainCode  []byte
}

func ParseKeyPair(resp []byte) (*KeyPair, error) {
	tpl, err := apdu.FindTag(resp, apdu.Tag{TagKeyPairTemplate})
	if err != nil {
		return nil, err
	}

	kp := &KeyPair{}

	if pubKey, err := apdu.FindTag(tpl, apdu.Tag{TagKeyPairPublic}); err == nil {
		kp.PublicKey = pubKey
	}

	if privKey, err := apdu.FindTag(tpl, apdu.Tag{TagKeyPairPrivate}); err == nil {
		kp.PrivateKey = privKey
	}

	if chainCode, err := apdu.FindTag(tpl, apdu.Tag{TagKeyPairChainCode}); err == nil {
		kp.ChainCode = chainCode
	}

	if len(kp.PublicKey) == 0 && len(kp.PrivateKey) > 0 {
		ecdsaKey, err := ethcrypto.ToECDSA(kp.PrivateKey)
		if err != nil {
			return nil, err
		}

		kp.PublicKey = ethcrypto.FromECDSAPub(&ecdsaKey.PublicKey)
	}

	if len(kp.PublicKey) == 0 {
		return nil, ErrEmptyKeyPair
	}

	return kp, nil
}

// KeyPairFromPrivateKey builds a key pair from a raw private key and an optional chain code.
func KeyPairFromPrivateKey(privKey, chainCode []byte) (*KeyPair, error) {
	ecdsaKey, err := ethcrypto.ToECDSA(privKey)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		PublicKey:  ethcrypto.FromECDSAPub(&ecdsaKey.PublicKey),
		PrivateKey: privKey,
		ChainCode:  chainCode,
	}, nil
}

// IsExtended reports whether the key pair carries a chain code.
func (kp *KeyPair) IsExtended() bool {
	return len(kp.ChainCode) > 0
}

// EthereumAddress returns the hex encoded address of the public key, without 0x prefix.
func (kp *KeyPair) EthereumAddress() (string, error) {
	pubKey, err := ethcrypto.UnmarshalPubkey(kp.PublicKey)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(ethcrypto.PubkeyToAddress(*pubKey).Bytes()), nil
}

// TLV encodes the key pair in the template accepted by LOAD KEY.
func (kp *KeyPair) TLV() ([]byte, error) {
	tags := make([]bertlv.TLV, 0, 3)
	if len(kp.PublicKey) > 0 {
		tags = append(tags, bertlv.TLV{Tag: tagName(TagKeyPairPublic), Value: kp.PublicKey})
	}

	if len(kp.PrivateKey) > 0 {
		tags = append(tags, bertlv.TLV{Tag: tagName(TagKeyPairPrivate), Value: kp.PrivateKey})
	}

	if len(kp.ChainCode) > 0 {
		tags = append(tags, bertlv.TLV{Tag: tagName(TagKeyPairChainCode), Value: kp.ChainCode})
	}

	return bertlv.Encode([]bertlv.TLV{
		{Tag: tagName(TagKeyPairTemplate), TLVs: tags},
	})
}

func tagName(tag uint8) string {
	return strings.ToUpper(hex.EncodeToString([]byte{tag}))
}
