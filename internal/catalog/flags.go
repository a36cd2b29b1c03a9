package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// FlagStore is the storefront's feature flag file. Remediations flip single
// booleans here; before-images go through the same snapshot path as products.
type FlagStore struct {
	path string
	mu   sync.Mutex
}

func NewFlagStore(dataDir string) *FlagStore {
	return &FlagStore{path: filepath.Join(dataDir, "feature_flags.json")}
}

func (f *FlagStore) read() map[string]bool {
	flags := map[string]bool{}
	if data, err := os.ReadFile(f.path); err == nil {
		_ = json.Unmarshal(data, &flags)
	}
	return flags
}

func (f *FlagStore) Get(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()[name]
}

func (f *FlagStore) Set(name string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	flags := f.read()
	flags[name] = value
	data, err := json.MarshalIndent(flags, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o644)
}
