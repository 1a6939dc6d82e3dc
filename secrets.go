package keycard

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/status-im/keycard-session/crypto"
)

const (
	pinLength         = 6
	pukLength         = 12
	pairingPassLength = 5

	pairingPassLetters = "abcdefghijkmnopqrstuvwxyz"
	pairingPassDigits  = "23456789"
)

var ErrInvalidPIN = errors.New("pin must be 6 digits")

// Secrets contains the secret data needed to pair a client with a card.
type Secrets struct {
	pin          string
	puk          string
	pairingPass  string
	pairingToken []byte
}

func NewSecrets(pin, puk, pairingPass string) *Secrets {
	return &Secrets{
		pin:          pin,
		puk:          puk,
		pairingPass:  pairingPass,
		pairingToken: crypto.PairingToken(pairingPass),
	}
}

// GenerateSecrets keeps pin when given and generates the rest. An empty pin is generated too.
func GenerateSecrets(pin string) (*Secrets, error) {
	if pin == "" {
		generated, err := randomDigits(pinLength)
		if err != nil {
			return nil, err
		}
		pin = generated
	} else if err := ValidatePIN(pin); err != nil {
		return nil, err
	}

	puk, err := randomDigits(pukLength)
	if err != nil {
		return nil, err
	}

	pairingPass, err := randomPairingPass()
	if err != nil {
		return nil, err
	}

	return NewSecrets(pin, puk, pairingPass), nil
}

// ValidatePIN checks the pin is exactly 6 decimal digits.
func ValidatePIN(pin string) error {
	if len(pin) != pinLength {
		return ErrInvalidPIN
	}

	for _, c := range pin {
		if c < '0' || c > '9' {
			return ErrInvalidPIN
		}
	}

	return nil
}

func (s *Secrets) Pin() string {
	return s.pin
}

func (s *Secrets) Puk() string {
	return s.puk
}

func (s *Secrets) PairingPass() string {
	return s.pairingPass
}

func (s *Secrets) PairingToken() []byte {
	return s.pairingToken
}

func randomDigits(n int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", n, v), nil
}

func randomPairingPass() (string, error) {
	pass := make([]byte, pairingPassLength)
	for i := range pass {
		alphabet := pairingPassLetters
		if i%2 == 1 {
			alphabet = pairingPassDigits
		}

		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}

		pass[i] = alphabet[n.Int64()]
	}

	return string(pass), nil
}
