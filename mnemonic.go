package keycard

import (
	"crypto/hmac"
	"crypto/sha512"
	"errors"
	"strings"

	"github.com/status-im/keycard-session/types"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	WordlistSize = 2048

	seedIterations = 2048
	seedLength     = 64
)

var (
	ErrInvalidWordlist  = errors.New("wordlist must contain 2048 words")
	ErrInvalidWordIndex = errors.New("word index out of range")
)

var masterKeySalt = []byte("Bitcoin seed")

// ParseWordlist splits a newline separated wordlist, ignoring blank lines.
func ParseWordlist(data string) []string {
	words := make([]string, 0, WordlistSize)
	for _, line := range strings.Split(data, "\n") {
		if w := strings.TrimSpace(line); w != "" {
			words = append(words, w)
		}
	}

	return words
}

// MnemonicFromIndexes maps the indexes returned by GENERATE MNEMONIC to a space separated phrase.
func MnemonicFromIndexes(indexes []int, wordlist []string) (string, error) {
	if len(wordlist) != WordlistSize {
		return "", ErrInvalidWordlist
	}

	words := make([]string, len(indexes))
	for i, idx := range indexes {
		if idx < 0 || idx >= WordlistSize {
			return "", ErrInvalidWordIndex
		}
		words[i] = wordlist[idx]
	}

	return strings.Join(words, " "), nil
}

// MnemonicToSeed is the BIP39 seed derivation.
func MnemonicToSeed(mnemonic, passphrase string) []byte {
	m := norm.NFKD.Bytes([]byte(mnemonic))
	salt := norm.NFKD.Bytes([]byte("mnemonic" + passphrase))

	return pbkdf2.Key(m, salt, seedIterations, seedLength, sha512.New)
}

// MasterKeyFromSeed derives the BIP32 master key pair.
func MasterKeyFromSeed(seed []byte) (*types.KeyPair, error) {
	mac := hmac.New(sha512.New, masterKeySalt)
	mac.Write(seed)
	sum := mac.Sum(nil)

	return types.KeyPairFromPrivateKey(sum[:32], sum[32:])
}
