package session

import (
	"testing"

	"github.com/status-im/keycard-session/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingStoreLookupIsCaseInsensitive(t *testing.T) {
	ps := NewPairingStore()
	pairing := &types.PairingInfo{Key: []byte{1, 2, 3}, Index: 1}

	ps.Store("0xAABB", pairing)

	p, ok := ps.Lookup("aabb")
	require.True(t, ok)
	assert.Equal(t, pairing, p)

	ps.Remove("AABB")
	_, ok = ps.Lookup("aabb")
	assert.False(t, ok)
}

func TestPairingStoreReplaceAll(t *testing.T) {
	ps := NewPairingStore()
	first := &types.PairingInfo{Key: []byte{1}, Index: 0}
	second := &types.PairingInfo{Key: []byte{2}, Index: 3}
	ps.Store("01", first)

	require.NoError(t, ps.ReplaceAll(map[string]string{"02": second.Encode()}))
	_, ok := ps.Lookup("01")
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"02": second.Encode()}, ps.Export())

	err := ps.ReplaceAll(map[string]string{
		"03": first.Encode(),
		"04": "not a pairing",
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// a failed replace keeps the previous pairings
	assert.Equal(t, map[string]string{"02": second.Encode()}, ps.Export())
}

func TestPairingStoreTrustedAuthorities(t *testing.T) {
	ps := NewPairingStore()

	assert.ErrorIs(t, ps.SetTrustedAuthorities([]string{"xyz"}), ErrInvalidArgument)
	assert.ErrorIs(t, ps.SetTrustedAuthorities([]string{""}), ErrInvalidArgument)

	require.NoError(t, ps.SetTrustedAuthorities([]string{"0x02ABCD"}))
	assert.True(t, ps.isTrusted("02abcd"))
	assert.False(t, ps.isTrusted("03abcd"))
}

func TestPairingStoreConsumeSkip(t *testing.T) {
	ps := NewPairingStore()

	// no trusted authorities configured
	assert.True(t, ps.consumeSkip("aa"))

	require.NoError(t, ps.SetTrustedAuthorities([]string{"02abcd"}))
	assert.False(t, ps.consumeSkip("aa"))

	ps.SetOneTimeVerificationSkip("AA")
	assert.False(t, ps.consumeSkip("bb"))
	assert.True(t, ps.consumeSkip("aa"))
	assert.False(t, ps.consumeSkip("aa"))
}
