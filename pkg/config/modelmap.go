// Package config loads the YAML configuration that drives model
// routing: which Tinfoil enclave host and Sigstore repo backs a given
// Tinfoil model ID, and which Tinfoil/NearAI model ID a given Redpill
// model resells. Keeping these mappings in YAML rather than hardcoded
// in the router means a new model or enclave rotation is a config
// change, not a code change.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// TinfoilModelEntry is one model's entry in tinfoil_config.yml.
type TinfoilModelEntry struct {
	Enclaves []string `yaml:"enclaves"`
	Repo     string   `yaml:"repo"`
}

// TinfoilConfig is the top-level shape of tinfoil_config.yml.
type TinfoilConfig struct {
	Models map[string]TinfoilModelEntry `yaml:"models"`
}

// TinfoilModelMap loads and caches tinfoil_config.yml for the lifetime
// of the process. Safe for concurrent use; loads racing before the
// first one is cached each read the file, and the last to finish is the
// one kept, which is acceptable since the file is static
// process-lifetime configuration.
type TinfoilModelMap struct {
	path string

	mu     sync.RWMutex
	config *TinfoilConfig
}

// NewTinfoilModelMap builds a TinfoilModelMap that reads path lazily on
// first use.
func NewTinfoilModelMap(path string) *TinfoilModelMap {
	return &TinfoilModelMap{path: path}
}

func (m *TinfoilModelMap) load() (*TinfoilConfig, error) {
	m.mu.RLock()
	if m.config != nil {
		defer m.mu.RUnlock()
		return m.config, nil
	}
	m.mu.RUnlock()

	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read tinfoil config %s: %w", m.path, err)
	}

	var config TinfoilConfig
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("parse tinfoil config %s: %w", m.path, err)
	}

	m.mu.Lock()
	m.config = &config
	m.mu.Unlock()

	return &config, nil
}

// Host returns the first enclave host configured for modelID, falling
// back to modelID itself when it already looks like a hostname (it
// contains a dot). Returns an error when no mapping or fallback
// applies.
func (m *TinfoilModelMap) Host(modelID string) (string, error) {
	config, err := m.load()
	if err != nil {
		return "", err
	}

	if entry, ok := config.Models[modelID]; ok && len(entry.Enclaves) > 0 {
		return entry.Enclaves[0], nil
	}

	if containsDot(modelID) {
		return modelID, nil
	}
	return "", fmt.Errorf("unknown tinfoil model: %s", modelID)
}

// Repo returns the Sigstore golden-measurements repo configured for
// modelID, or "" if none is configured.
func (m *TinfoilModelMap) Repo(modelID string) string {
	config, err := m.load()
	if err != nil {
		return ""
	}
	return config.Models[modelID].Repo
}

// ListModels returns every model ID tinfoil_config.yml names.
func (m *TinfoilModelMap) ListModels() ([]string, error) {
	config, err := m.load()
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(config.Models))
	for name := range config.Models {
		models = append(models, name)
	}
	return models, nil
}

func containsDot(s string) bool {
	for _, r := range s {
		if r == '.' {
			return true
		}
	}
	return false
}

// RedpillMappingConfig is the shape of redpill_config.yml: for each
// Redpill model ID, which downstream provider it resells through and
// the model ID it's known by there.
type RedpillMappingConfig struct {
	TinfoilModels map[string]string `yaml:"tinfoil_models"`
	NearAIModels  map[string]string `yaml:"nearai_models"`
}

// RedpillModelMap loads and caches redpill_config.yml.
type RedpillModelMap struct {
	path string

	mu     sync.RWMutex
	config *RedpillMappingConfig
}

// NewRedpillModelMap builds a RedpillModelMap that reads path lazily
// on first use.
func NewRedpillModelMap(path string) *RedpillModelMap {
	return &RedpillModelMap{path: path}
}

func (m *RedpillModelMap) load() (*RedpillMappingConfig, error) {
	m.mu.RLock()
	if m.config != nil {
		defer m.mu.RUnlock()
		return m.config, nil
	}
	m.mu.RUnlock()

	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read redpill config %s: %w", m.path, err)
	}

	var config RedpillMappingConfig
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("parse redpill config %s: %w", m.path, err)
	}

	m.mu.Lock()
	m.config = &config
	m.mu.Unlock()

	return &config, nil
}

// TinfoilModelID returns the Tinfoil-side model ID for redpillModelID,
// or "" if Redpill does not resell it through Tinfoil.
func (m *RedpillModelMap) TinfoilModelID(redpillModelID string) string {
	config, err := m.load()
	if err != nil {
		return ""
	}
	return config.TinfoilModels[redpillModelID]
}

// NearAIModelID returns the NearAI-side model ID for redpillModelID, or
// "" if Redpill does not resell it through NearAI.
func (m *RedpillModelMap) NearAIModelID(redpillModelID string) string {
	config, err := m.load()
	if err != nil {
		return ""
	}
	return config.NearAIModels[redpillModelID]
}
