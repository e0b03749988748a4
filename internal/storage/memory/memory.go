// Package memory is an in-process ledger store. Transactions live in an
// append-only arena; derived rows are indexed by source key so a period can
// never be materialized twice.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"despesas/internal/core"
	"despesas/internal/ledger"
)

var _ ledger.Store = (*Store)(nil)

type (
	budgetKey struct {
		category string
		scope    core.Month
	}

	slot struct {
		tx      core.Transaction
		deleted bool
	}

	Store struct {
		mu sync.Mutex

		cats    map[string]struct{}
		budgets map[budgetKey]core.Budget

		subs    map[int64]core.Subscription
		nextSub int64

		insts    map[int64]core.Installment
		nextInst int64

		arena    []slot
		bySource map[core.SourceKey]int
		byDedup  map[string]int

		// revision counts successful writes.
		revision int64

		now func() time.Time
	}
)

func New(cats ...string) *Store {
	s := &Store{
		cats:     map[string]struct{}{},
		budgets:  map[budgetKey]core.Budget{},
		subs:     map[int64]core.Subscription{},
		insts:    map[int64]core.Installment{},
		bySource: map[core.SourceKey]int{},
		byDedup:  map[string]int{},
		now:      time.Now,
	}
	for _, c := range cats {
		s.ensure(c)
	}
	return s
}

func (s *Store) Revision(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision, nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) ensure(name string) {
	if name = strings.TrimSpace(name); name != "" {
		s.cats[name] = struct{}{}
	}
}

// Categories.

func (s *Store) EnsureCategory(_ context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return core.ErrEmptyCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(name)
	s.revision++
	return nil
}

func (s *Store) ListCategories(context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Category, 0, len(s.cats))
	for name := range s.cats {
		out = append(out, core.Category{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteCategory(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cats[name]; !ok {
		return core.NotFound("delete", "category", name)
	}
	if s.categoryInUse(name) {
		return core.Conflict("delete", "category", name, errors.New("category is referenced"))
	}
	delete(s.cats, name)
	s.revision++
	return nil
}

func (s *Store) categoryInUse(name string) bool {
	for k := range s.budgets {
		if k.category == name {
			return true
		}
	}
	for _, sub := range s.subs {
		if sub.Category == name {
			return true
		}
	}
	for _, inst := range s.insts {
		if inst.Category == name {
			return true
		}
	}
	for _, sl := range s.arena {
		if !sl.deleted && sl.tx.Category == name {
			return true
		}
	}
	return false
}

// Budgets.

func (s *Store) CreateBudget(_ context.Context, b core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := budgetKey{b.Category, b.Scope}
	if _, ok := s.budgets[k]; ok {
		return core.Conflict("create", "budget", budgetID(b), nil)
	}
	s.ensure(b.Category)
	s.budgets[k] = b
	s.revision++
	return nil
}

func (s *Store) UpdateBudget(_ context.Context, b core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := budgetKey{b.Category, b.Scope}
	if _, ok := s.budgets[k]; !ok {
		return core.NotFound("update", "budget", budgetID(b))
	}
	s.budgets[k] = b
	s.revision++
	return nil
}

func (s *Store) DeleteBudget(_ context.Context, category string, scope core.Month) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := budgetKey{category, scope}
	if _, ok := s.budgets[k]; !ok {
		return core.NotFound("delete", "budget", budgetID(core.Budget{Category: category, Scope: scope}))
	}
	delete(s.budgets, k)
	s.revision++
	return nil
}

func (s *Store) ListBudgets(context.Context) ([]core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Budget, 0, len(s.budgets))
	for _, b := range s.budgets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Scope.Before(out[j].Scope)
	})
	return out, nil
}

func budgetID(b core.Budget) string {
	if b.Global() {
		return b.Category
	}
	return b.Category + "@" + b.Scope.String()
}

// Subscriptions.

func (s *Store) CreateSubscription(_ context.Context, sub core.Subscription) (int64, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	sub.ID = s.nextSub
	s.ensure(sub.Category)
	s.subs[sub.ID] = sub
	s.revision++
	return sub.ID, nil
}

func (s *Store) GetSubscription(_ context.Context, id int64) (core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return core.Subscription{}, core.NotFound("get", "subscription", id)
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub core.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return core.NotFound("update", "subscription", sub.ID)
	}
	s.ensure(sub.Category)
	s.subs[sub.ID] = sub
	s.revision++
	return nil
}

func (s *Store) DeleteSubscription(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return core.NotFound("delete", "subscription", id)
	}
	for k := range s.bySource {
		if k.Type == core.EntrySubscription && k.ID == id {
			return core.Conflict("delete", "subscription", id,
				errors.New("subscription has linked charges, set it inactive instead"))
		}
	}
	delete(s.subs, id)
	s.revision++
	return nil
}

func (s *Store) ListSubscriptions(context.Context) ([]core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Installments.

func (s *Store) CreateInstallment(_ context.Context, inst core.Installment) (int64, error) {
	if err := inst.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextInst++
	inst.ID = s.nextInst
	s.ensure(inst.Category)
	s.insts[inst.ID] = inst
	s.revision++
	return inst.ID, nil
}

func (s *Store) GetInstallment(_ context.Context, id int64) (core.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.insts[id]
	if !ok {
		return core.Installment{}, core.NotFound("get", "installment", id)
	}
	return inst, nil
}

func (s *Store) ListInstallments(context.Context) ([]core.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Installment, 0, len(s.insts))
	for _, inst := range s.insts {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Transactions.

func (s *Store) CreateTransaction(_ context.Context, t core.Transaction) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := t.Key(); ok {
		if _, taken := s.bySource[key]; taken {
			return 0, core.Conflict("create", "transaction", key.String(), core.ErrDuplicateSource)
		}
	}
	return s.append(t), nil
}

// append stores t and indexes it. Callers hold mu.
func (s *Store) append(t core.Transaction) int64 {
	idx := len(s.arena)
	t.ID = int64(idx + 1)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	s.arena = append(s.arena, slot{tx: t})
	s.ensure(t.Category)
	if key, ok := t.Key(); ok {
		s.bySource[key] = idx
	}
	if dk := t.DedupKey(); dk != "" {
		s.byDedup[dk]++
	}
	s.revision++
	return t.ID
}

func (s *Store) lookup(id int64) (int, bool) {
	idx := int(id - 1)
	if idx < 0 || idx >= len(s.arena) || s.arena[idx].deleted {
		return 0, false
	}
	return idx, true
}

func (s *Store) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.lookup(id)
	if !ok {
		return core.Transaction{}, core.NotFound("get", "transaction", id)
	}
	return s.arena[idx].tx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.lookup(t.ID)
	if !ok {
		return core.NotFound("update", "transaction", t.ID)
	}
	old := s.arena[idx].tx
	if old.Source != t.Source {
		return core.Conflict("update", "transaction", t.ID, core.ErrImmutableSource)
	}
	s.unindexDedup(old)
	t.CreatedAt = old.CreatedAt
	s.arena[idx].tx = t
	s.ensure(t.Category)
	if dk := t.DedupKey(); dk != "" {
		s.byDedup[dk]++
	}
	s.revision++
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.lookup(id)
	if !ok {
		return core.NotFound("delete", "transaction", id)
	}
	tx := s.arena[idx].tx
	s.arena[idx].deleted = true
	s.unindexDedup(tx)
	if key, ok := tx.Key(); ok {
		delete(s.bySource, key)
	}
	s.revision++
	return nil
}

func (s *Store) unindexDedup(t core.Transaction) {
	dk := t.DedupKey()
	if dk == "" {
		return
	}
	if s.byDedup[dk] <= 1 {
		delete(s.byDedup, dk)
		return
	}
	s.byDedup[dk]--
}

func (s *Store) InsertDerived(_ context.Context, txs []core.Transaction) ([]bool, error) {
	for _, t := range txs {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, ok := t.Key(); !ok {
			return nil, core.Validationf("transaction has no source key")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := make([]bool, len(txs))
	for i, t := range txs {
		key, _ := t.Key()
		if _, taken := s.bySource[key]; taken {
			continue
		}
		s.append(t)
		inserted[i] = true
	}
	return inserted, nil
}

func (s *Store) HasDerived(_ context.Context, key core.SourceKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bySource[key]
	return ok, nil
}

func (s *Store) HasOneOffExpense(_ context.Context, dedupKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byDedup[dedupKey] > 0, nil
}

func (s *Store) ListTransactions(_ context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, sl := range s.arena {
		if sl.deleted || !matches(sl.tx, f) {
			continue
		}
		out = append(out, sl.tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(t core.Transaction, f ledger.TransactionFilter) bool {
	if f.Nature != "" && t.Nature != f.Nature {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if !f.From.IsEmpty() && t.Date.Before(f.From) {
		return false
	}
	if !f.To.IsEmpty() && t.Date.After(f.To) {
		return false
	}
	return true
}

func (s *Store) LatestTransactionDate(context.Context) (core.Date, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest core.Date
	found := false
	for _, sl := range s.arena {
		if sl.deleted {
			continue
		}
		if !found || sl.tx.Date.After(latest) {
			latest = sl.tx.Date
			found = true
		}
	}
	return latest, found, nil
}
