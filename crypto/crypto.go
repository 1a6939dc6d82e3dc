package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	pairingSalt       = "Keycard Pairing Password Salt"
	pairingIterations = 50000
	secretLength      = 32
)

var (
	ErrInvalidCardCryptogram = errors.New("invalid card cryptogram")
	ErrInvalidPadding        = errors.New("invalid padding")
	ErrInvalidCardData       = errors.New("invalid card data")
)

// GenerateECDHSharedSecret returns the x coordinate of priv * pub, left padded to 32 bytes.
func GenerateECDHSharedSecret(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) []byte {
	x, _ := crypto.S256().ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	return math.PaddedBigBytes(x, secretLength)
}

// PairingToken derives the pairing token stored on the card from a pairing password.
func PairingToken(pass string) []byte {
	return pbkdf2.Key(norm.NFKD.Bytes([]byte(pass)), norm.NFKD.Bytes([]byte(pairingSalt)), pairingIterations, secretLength, sha256.New)
}

// VerifyCryptogram checks the card answer to the first pairing step and returns the pairing token.
func VerifyCryptogram(challenge []byte, pairingPass string, cardCryptogram []byte) ([]byte, error) {
	secretHash := PairingToken(pairingPass)

	h := sha256.New()
	h.Write(secretHash)
	h.Write(challenge)
	expectedCryptogram := h.Sum(nil)

	if !bytes.Equal(expectedCryptogram, cardCryptogram) {
		return nil, ErrInvalidCardCryptogram
	}

	return secretHash, nil
}

// DeriveSessionKeys derives the secure channel keys from the ECDH secret, the pairing key and the card salt+iv.
func DeriveSessionKeys(secret, pairingKey, cardData []byte) ([]byte, []byte, []byte, error) {
	if len(cardData) != 48 {
		return nil, nil, nil, ErrInvalidCardData
	}

	salt := cardData[:32]
	iv := cardData[32:]

	h := sha512.New()
	h.Write(secret)
	h.Write(pairingKey)
	h.Write(salt)
	data := h.Sum(nil)

	encKey := data[:32]
	macKey := data[32:]

	return encKey, macKey, iv, nil
}

func OneShotEncrypt(pubKeyData, secret, data []byte) ([]byte, error) {
	data = appendPadding(16, data)

	iv := make([]byte, 16)
	_, err := rand.Read(iv)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(data))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, data)

	encrypted := append([]byte{byte(len(pubKeyData))}, pubKeyData...)
	encrypted = append(encrypted, iv...)
	encrypted = append(encrypted, ciphertext...)

	return encrypted, nil
}

func EncryptData(data []byte, encKey []byte, iv []byte) ([]byte, error) {
	data = appendPadding(16, data)

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(data))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, data)

	return ciphertext, nil
}

func DecryptData(data []byte, encKey []byte, iv []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrInvalidPadding
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(data))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, data)

	return removePadding(plaintext)
}

// CalculateMac returns the last block of the AES-CBC encryption of meta and padded data, with a zero iv.
func CalculateMac(meta []byte, data []byte, macKey []byte) ([]byte, error) {
	data = appendPadding(16, data)

	block, err := aes.NewCipher(macKey)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, 16)
	mode := cipher.NewCBCEncrypter(block, iv)

	metaEnc := make([]byte, len(meta))
	mode.CryptBlocks(metaEnc, meta)

	dataEnc := make([]byte, len(data))
	mode.CryptBlocks(dataEnc, data)

	return dataEnc[len(dataEnc)-16:], nil
}

func appendPadding(blockSize int, data []byte) []byte {
	paddingSize := blockSize - (len(data) % blockSize) - 1
	zeroes := bytes.Repeat([]byte{0x00}, paddingSize)
	padding := append([]byte{0x80}, zeroes...)

	out := make([]byte, 0, len(data)+len(padding))
	out = append(out, data...)

	return append(out, padding...)
}

func removePadding(data []byte) ([]byte, error) {
	i := len(data) - 1
	for ; i >= 0; i-- {
		if data[i] == 0x80 {
			break
		}

		if data[i] != 0x00 {
			return nil, ErrInvalidPadding
		}
	}

	if i < 0 {
		return nil, ErrInvalidPadding
	}

	return data[:i], nil
}
