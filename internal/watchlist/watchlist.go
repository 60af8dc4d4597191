package watchlist

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Watchlist is the symbol universe the engine scans each cycle.
type Watchlist struct {
	Symbols []string `yaml:"symbols"`
}

// Load reads the watchlist file. A missing file is an error: an engine with
// nothing to watch is a misconfiguration, not an empty run.
func Load(path string) (*Watchlist, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open watchlist: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var w Watchlist
	if err := yaml.NewDecoder(file).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode watchlist: %w", err)
	}
	if len(w.Symbols) == 0 {
		return nil, fmt.Errorf("watchlist %s has no symbols", path)
	}

	seen := make(map[string]bool, len(w.Symbols))
	out := w.Symbols[:0]
	for _, s := range w.Symbols {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	w.Symbols = out

	return &w, nil
}
