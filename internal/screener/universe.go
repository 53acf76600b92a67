// Package screener selects the day's trading symbols from a configured
// universe by ranking pre-open movers.
package screener

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Universe is the screening candidate set, grouped by sector so
// operators can maintain the file by theme.
type Universe struct {
	Sectors map[string][]string `yaml:"sectors"`
}

// LoadUniverse reads the sector->symbols YAML file.
func LoadUniverse(path string) (*Universe, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}
	var u Universe
	if err := yaml.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("parse universe file %s: %w", path, err)
	}
	if len(u.Sectors) == 0 {
		return nil, fmt.Errorf("universe file %s has no sectors", path)
	}
	return &u, nil
}

// All returns every symbol once, sorted. Symbols may appear in several
// sectors; the flattened set dedupes them.
func (u *Universe) All() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, symbols := range u.Sectors {
		for _, s := range symbols {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Sector returns the symbols of one sector.
func (u *Universe) Sector(name string) []string {
	return u.Sectors[name]
}

// SectorNames lists the configured sectors, sorted.
func (u *Universe) SectorNames() []string {
	out := make([]string, 0, len(u.Sectors))
	for name := range u.Sectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
