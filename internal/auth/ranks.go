package auth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed ranks.yaml
var defaultRanksYAML []byte

// ParseRanks decodes a YAML rank catalog and validates every entry.
func ParseRanks(data []byte) ([]Rank, error) {
	var ranks []Rank
	if err := yaml.Unmarshal(data, &ranks); err != nil {
		return nil, fmt.Errorf("decode ranks: %w", err)
	}
	seen := make(map[string]struct{}, len(ranks))
	for i := range ranks {
		r := &ranks[i]
		r.Code = strings.TrimSpace(strings.ToLower(r.Code))
		r.Title = strings.TrimSpace(r.Title)
		if r.Code == "" || r.Title == "" {
			return nil, fmt.Errorf("%w: rank %d needs code and title", ErrValidation, i)
		}
		if r.Level < 1 || r.Level > 9 {
			return nil, fmt.Errorf("%w: rank %s level %d outside 1..9", ErrValidation, r.Code, r.Level)
		}
		if _, dup := seen[r.Code]; dup {
			return nil, fmt.Errorf("%w: rank %s listed twice", ErrValidation, r.Code)
		}
		seen[r.Code] = struct{}{}
	}
	return ranks, nil
}

// DefaultRanks returns the built-in catalog.
func DefaultRanks() ([]Rank, error) {
	return ParseRanks(defaultRanksYAML)
}

// EnsureRanks upserts the built-in catalog.
func EnsureRanks(ctx context.Context, store RankStore) error {
	ranks, err := DefaultRanks()
	if err != nil {
		return err
	}
	return store.UpsertRanks(ctx, ranks)
}
