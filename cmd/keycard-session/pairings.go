package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// pairingFile persists the pairing tokens by instance UID.
type pairingFile struct {
	mu   sync.Mutex
	path string

	Pairings map[string]string `yaml:"pairings"`
}

func loadPairingFile(path string) (*pairingFile, error) {
	f := &pairingFile{path: path, Pairings: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading pairings: %w", err)
	}

	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing pairings %s: %w", path, err)
	}
	if f.Pairings == nil {
		f.Pairings = make(map[string]string)
	}

	return f, nil
}

func (f *pairingFile) Set(instanceUID string, pairing string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Pairings[instanceUID] = pairing
}

// Replace swaps the stored pairings, so that removed pairings are dropped from the file too.
func (f *pairingFile) Replace(pairings map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Pairings = pairings
}

func (f *pairingFile) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating pairings dir: %w", err)
	}

	return os.WriteFile(f.path, data, 0o600)
}
