package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"despesas/internal/core"
	"despesas/internal/ledger"

	"gopkg.in/yaml.v3"
)

// Seed lists categories and budgets created at startup when missing.
//
//	categories: [Mercado, Casa]
//	budgets:
//	  - category: Mercado
//	    amount: "1300.00"
//	  - category: Casa
//	    month: 2026-03
//	    amount: "450"
type Seed struct {
	Categories []string     `yaml:"categories"`
	Budgets    []SeedBudget `yaml:"budgets"`
}

type SeedBudget struct {
	Category string `yaml:"category"`
	Month    string `yaml:"month,omitempty"`
	Amount   string `yaml:"amount"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if _, err := seed.budgets(); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return &seed, nil
}

func (s *Seed) budgets() ([]core.Budget, error) {
	out := make([]core.Budget, 0, len(s.Budgets))
	for i, b := range s.Budgets {
		cents, err := core.ParseDecimalToCents(b.Amount)
		if err != nil {
			return nil, fmt.Errorf("budget %d (%s): %w", i+1, b.Category, err)
		}
		budget := core.Budget{Category: strings.TrimSpace(b.Category), Amount: core.Money{Cents: cents}}
		if b.Month != "" {
			if budget.Scope, err = core.ParseMonth(b.Month); err != nil {
				return nil, fmt.Errorf("budget %d (%s): %w", i+1, b.Category, err)
			}
		}
		if err := budget.Validate(); err != nil {
			return nil, fmt.Errorf("budget %d: %w", i+1, err)
		}
		out = append(out, budget)
	}
	return out, nil
}

// Apply creates what is missing. Existing budgets are left untouched, so
// applying the same seed on every start is harmless.
func (s *Seed) Apply(ctx context.Context, store ledger.Store) error {
	for _, name := range s.Categories {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if err := store.EnsureCategory(ctx, strings.TrimSpace(name)); err != nil {
			return fmt.Errorf("seed category %q: %w", name, err)
		}
	}
	budgets, err := s.budgets()
	if err != nil {
		return err
	}
	created := 0
	for _, b := range budgets {
		err := store.CreateBudget(ctx, b)
		switch {
		case err == nil:
			created++
		case errors.Is(err, core.ErrConflict):
		default:
			return fmt.Errorf("seed budget %s: %w", b.Category, err)
		}
	}
	slog.InfoContext(ctx, "Seed applied", "categories", len(s.Categories), "budgets_created", created)
	return nil
}
