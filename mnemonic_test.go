package keycard

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMnemonicToSeed(t *testing.T) {
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed := MnemonicToSeed(mnemonic, "TREZOR")

	assert.Equal(t,
		"c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04",
		hex.EncodeToString(seed))
}

func TestMasterKeyFromSeed(t *testing.T) {
	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)

	kp, err := MasterKeyFromSeed(seed)
	require.NoError(t, err)

	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)

	assert.Equal(t, sum[:32], kp.PrivateKey)
	assert.Equal(t, sum[32:], kp.ChainCode)
	assert.True(t, kp.IsExtended())

	priv, err := ethcrypto.ToECDSA(kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.FromECDSAPub(&priv.PublicKey), kp.PublicKey)
}

func testWordlist() []string {
	words := make([]string, WordlistSize)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}

	return words
}

func TestMnemonicFromIndexes(t *testing.T) {
	phrase, err := MnemonicFromIndexes([]int{0, 2047, 5}, testWordlist())
	require.NoError(t, err)
	assert.Equal(t, "w0 w2047 w5", phrase)

	_, err = MnemonicFromIndexes([]int{2048}, testWordlist())
	assert.Equal(t, ErrInvalidWordIndex, err)

	_, err = MnemonicFromIndexes([]int{1}, []string{"a", "b"})
	assert.Equal(t, ErrInvalidWordlist, err)
}

func TestParseWordlist(t *testing.T) {
	words := ParseWordlist(strings.Join(testWordlist(), "\n") + "\n\n")
	assert.Len(t, words, WordlistSize)
	assert.Equal(t, "w1", words[1])
}
