package llmgateway

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tier groups a catalog entry for fallback-chain ordering.
type Tier string

const (
	TierLocal Tier = "local"
	TierFree  Tier = "free"
	TierPaid  Tier = "paid"
)

var tierOrder = map[Tier]int{TierLocal: 0, TierFree: 1, TierPaid: 2}

// CatalogEntry is one model alias's resolution target.
type CatalogEntry struct {
	Alias             string `yaml:"-"`
	Provider          string `yaml:"provider"`
	Model             string `yaml:"model"`
	MaxTokens         int    `yaml:"max_tokens"`
	SupportsTools     bool   `yaml:"supports_tools"`
	SupportsThinking  bool   `yaml:"supports_thinking"`
	Tier              Tier   `yaml:"tier"`
}

// Catalog is a YAML document keyed by model alias.
type Catalog struct {
	entries map[string]CatalogEntry
}

// LoadCatalog reads a YAML catalog file from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML catalog document already in memory.
func ParseCatalog(data []byte) (*Catalog, error) {
	raw := map[string]CatalogEntry{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	entries := make(map[string]CatalogEntry, len(raw))
	for alias, entry := range raw {
		entry.Alias = alias
		if entry.Tier == "" {
			entry.Tier = TierPaid
		}
		entries[alias] = entry
	}
	return &Catalog{entries: entries}, nil
}

// NewCatalog builds a Catalog directly from entries (tests, programmatic
// config) without going through YAML.
func NewCatalog(entries map[string]CatalogEntry) *Catalog {
	for alias, entry := range entries {
		entry.Alias = alias
		if entry.Tier == "" {
			entry.Tier = TierPaid
		}
		entries[alias] = entry
	}
	return &Catalog{entries: entries}
}

// Resolve looks up an alias.
func (c *Catalog) Resolve(alias string) (CatalogEntry, bool) {
	e, ok := c.entries[alias]
	return e, ok
}

// FallbackChain returns catalog entries in ascending tier order
// (local -> free -> paid), the "fallback chain for generic use" of
// generic use.
func (c *Catalog) FallbackChain() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	// simple insertion sort by tier order, stable on alias for determinism.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && less(out[j], out[j-1]) {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

func less(a, b CatalogEntry) bool {
	ta, tb := tierOrder[a.Tier], tierOrder[b.Tier]
	if ta != tb {
		return ta < tb
	}
	return a.Alias < b.Alias
}
