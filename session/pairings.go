package session

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/status-im/keycard-session/types"
)

// PairingStore caches pairing secrets by card identity and holds the authenticity trust configuration.
// Identities and CA keys are lowercase hex strings.
type PairingStore struct {
	mu       sync.RWMutex
	pairings map[string]*types.PairingInfo
	trusted  map[string]struct{}
	skip     string
}

func NewPairingStore() *PairingStore {
	return &PairingStore{
		pairings: make(map[string]*types.PairingInfo),
		trusted:  make(map[string]struct{}),
	}
}

func identityKey(instanceUID []byte) string {
	return common.Bytes2Hex(instanceUID)
}

func normalizeHex(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

func (ps *PairingStore) Lookup(identity string) (*types.PairingInfo, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	p, ok := ps.pairings[normalizeHex(identity)]
	return p, ok
}

func (ps *PairingStore) Store(identity string, pairing *types.PairingInfo) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.pairings[normalizeHex(identity)] = pairing
}

func (ps *PairingStore) Remove(identity string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.pairings, normalizeHex(identity))
}

// ReplaceAll swaps the whole cache for the given identity to token map. Nothing changes if any token is
// invalid.
func (ps *PairingStore) ReplaceAll(tokens map[string]string) error {
	pairings := make(map[string]*types.PairingInfo, len(tokens))
	for identity, token := range tokens {
		p, err := types.ParsePairingInfo(token)
		if err != nil {
			return fmt.Errorf("%w: pairing for %s: %w", ErrInvalidArgument, identity, err)
		}
		pairings[normalizeHex(identity)] = p
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.pairings = pairings

	return nil
}

// Export returns the identity to token map, for persistence.
func (ps *PairingStore) Export() map[string]string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	tokens := make(map[string]string, len(ps.pairings))
	for identity, p := range ps.pairings {
		tokens[identity] = p.Encode()
	}

	return tokens
}

// SetTrustedAuthorities replaces the set of trusted CA public keys (compressed, hex encoded).
func (ps *PairingStore) SetTrustedAuthorities(keys []string) error {
	trusted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		k = normalizeHex(k)
		if _, err := hex.DecodeString(k); err != nil || k == "" {
			return fmt.Errorf("%w: trusted authority %q is not hex", ErrInvalidArgument, k)
		}
		trusted[k] = struct{}{}
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.trusted = trusted

	return nil
}

func (ps *PairingStore) SetOneTimeVerificationSkip(identity string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.skip = normalizeHex(identity)
}

// consumeSkip reports whether authenticity of identity is accepted without a challenge: the trusted set is
// empty or identity is the one-time skip. The skip is cleared in both cases.
func (ps *PairingStore) consumeSkip(identity string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if len(ps.trusted) == 0 || (ps.skip != "" && ps.skip == normalizeHex(identity)) {
		ps.skip = ""
		return true
	}

	return false
}

func (ps *PairingStore) isTrusted(caKey string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, ok := ps.trusted[normalizeHex(caKey)]
	return ok
}
