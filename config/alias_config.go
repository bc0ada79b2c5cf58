package config

import (
	"encoding/json"
	"os"
	"sync"
)

// DefaultAliases seeds a new alias file with the known naming override.
var DefaultAliases = map[string]string{
	"Pro6005.2": "Pro6005-2",
}

// AliasConfigManager manages the identifier alias table (registered name -> canonical name)
type AliasConfigManager struct {
	configPath string
	mu         sync.RWMutex
	aliases    map[string]string
}

// NewAliasConfigManager creates a new manager
func NewAliasConfigManager(path string) *AliasConfigManager {
	return &AliasConfigManager{
		configPath: path,
		aliases:    copyAliases(DefaultAliases),
	}
}

// Load reads the table from disk
func (m *AliasConfigManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Initialize file with defaults if not exists
			m.aliases = copyAliases(DefaultAliases)
			return m.saveInternal()
		}
		return err
	}

	if len(data) == 0 {
		m.aliases = map[string]string{}
		return nil
	}

	loaded := map[string]string{}
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	m.aliases = loaded
	return nil
}

// Save replaces the table and writes it to disk
func (m *AliasConfigManager) Save(aliases map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.aliases = copyAliases(aliases)
	return m.saveInternal()
}

// saveInternal writes to disk (must hold lock)
func (m *AliasConfigManager) saveInternal() error {
	data, err := json.MarshalIndent(m.aliases, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.configPath, data, 0644)
}

// Aliases returns a copy of the table
func (m *AliasConfigManager) Aliases() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyAliases(m.aliases)
}

func copyAliases(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
