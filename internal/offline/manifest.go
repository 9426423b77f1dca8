package offline

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Manifest is the fixed list of critical URLs precached under one generation.
// Changing URLs requires a new Generation so stale generations get evicted.
type Manifest struct {
	Generation string   `toml:"generation" json:"generation"`
	URLs       []string `toml:"urls" json:"urls"`
}

// ParseManifest decodes a TOML manifest and validates it.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks the generation name and that every URL is an absolute
// path. Duplicate URLs are dropped.
func (m *Manifest) Validate() error {
	m.Generation = strings.TrimSpace(m.Generation)
	if m.Generation == "" {
		return fmt.Errorf("manifest generation is required")
	}
	if strings.ContainsAny(m.Generation, `/\ `) {
		return fmt.Errorf("manifest generation %q must not contain slashes or spaces", m.Generation)
	}
	seen := make(map[string]bool, len(m.URLs))
	urls := m.URLs[:0]
	for _, u := range m.URLs {
		u = strings.TrimSpace(u)
		if !strings.HasPrefix(u, "/") {
			return fmt.Errorf("manifest url %q must be an absolute path", u)
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	m.URLs = urls
	return nil
}
