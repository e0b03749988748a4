package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"despesas/internal/core"
	"despesas/internal/ledger"

	_ "modernc.org/sqlite"
)

var _ ledger.Store = (*SQLiteRepository)(nil)

const timestampLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// DSN builds the modernc connection string for path with foreign keys,
// WAL and a busy timeout enabled.
func DSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Single writer: one connection keeps transactions strictly ordered.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("SQLite ledger store ready", "db_path", dbPath)

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return wrap("ping", "database", nil, r.db.PingContext(ctx))
}

func (r *SQLiteRepository) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := r.db.QueryRowContext(ctx, `SELECT value FROM ledger_revision WHERE id = 1`).Scan(&rev)
	if err != nil {
		return 0, wrap("read", "revision", nil, err)
	}
	return rev, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureCategory(ctx context.Context, ex execer, name string) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO categories (name) VALUES (?) ON CONFLICT DO NOTHING`, strings.TrimSpace(name))
	return err
}

// withTx runs fn inside a transaction, rolling back on error.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Categories.

func (r *SQLiteRepository) EnsureCategory(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return core.ErrEmptyCategory
	}
	return wrap("ensure", "category", name, ensureCategory(ctx, r.db, name))
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM categories ORDER BY name`)
	if err != nil {
		return nil, wrap("list", "category", nil, err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, wrap("list", "category", nil, rows.Err())
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, name string) error {
	var refs int
	err := r.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM budgets WHERE category = ?1)
		     + (SELECT COUNT(*) FROM subscriptions WHERE category = ?1)
		     + (SELECT COUNT(*) FROM installments WHERE category = ?1)
		     + (SELECT COUNT(*) FROM transactions WHERE category = ?1)`, name).Scan(&refs)
	if err != nil {
		return wrap("delete", "category", name, err)
	}
	if refs > 0 {
		return core.Conflict("delete", "category", name, errors.New("category is referenced"))
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE name = ?`, name)
	if err != nil {
		return wrap("delete", "category", name, err)
	}
	return expectRow(res, "delete", "category", name)
}

func expectRow(res sql.Result, op, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, entity, id, err)
	}
	if n == 0 {
		return core.NotFound(op, entity, id)
	}
	return nil
}

// Budgets.

func scopeString(m core.Month) string {
	if m.IsZero() {
		return ""
	}
	return m.String()
}

func budgetID(category string, scope core.Month) string {
	if scope.IsZero() {
		return category
	}
	return category + "@" + scope.String()
}

func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}
	id := budgetID(b.Category, b.Scope)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureCategory(ctx, tx, b.Category); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO budgets (category, month, amount_cents) VALUES (?, ?, ?)`,
			b.Category, scopeString(b.Scope), b.Amount.Cents)
		return err
	})
	return wrap("create", "budget", id, err)
}

func (r *SQLiteRepository) UpdateBudget(ctx context.Context, b core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}
	id := budgetID(b.Category, b.Scope)
	res, err := r.db.ExecContext(ctx,
		`UPDATE budgets SET amount_cents = ? WHERE category = ? AND month = ?`,
		b.Amount.Cents, b.Category, scopeString(b.Scope))
	if err != nil {
		return wrap("update", "budget", id, err)
	}
	return expectRow(res, "update", "budget", id)
}

func (r *SQLiteRepository) DeleteBudget(ctx context.Context, category string, scope core.Month) error {
	id := budgetID(category, scope)
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM budgets WHERE category = ? AND month = ?`, category, scopeString(scope))
	if err != nil {
		return wrap("delete", "budget", id, err)
	}
	return expectRow(res, "delete", "budget", id)
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, month, amount_cents FROM budgets ORDER BY category, month`)
	if err != nil {
		return nil, wrap("list", "budget", nil, err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		var (
			b     core.Budget
			month string
		)
		if err := rows.Scan(&b.Category, &month, &b.Amount.Cents); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		if month != "" {
			if b.Scope, err = core.ParseMonth(month); err != nil {
				return nil, fmt.Errorf("budget %s: %w", b.Category, err)
			}
		}
		out = append(out, b)
	}
	return out, wrap("list", "budget", nil, rows.Err())
}

// Subscriptions.

const subscriptionColumns = `id, name, amount_cents, category, frequency, start_date, end_date, active`

func scanSubscription(sc interface{ Scan(...any) error }) (core.Subscription, error) {
	var (
		s           core.Subscription
		freq, start string
		end         sql.NullString
	)
	if err := sc.Scan(&s.ID, &s.Name, &s.Amount.Cents, &s.Category, &freq, &start, &end, &s.Active); err != nil {
		return s, err
	}
	s.Frequency = core.Frequency(freq)
	var err error
	if s.StartDate, err = core.ParseDate(start); err != nil {
		return s, fmt.Errorf("subscription %d start date: %w", s.ID, err)
	}
	if end.Valid && end.String != "" {
		if s.EndDate, err = core.ParseDate(end.String); err != nil {
			return s, fmt.Errorf("subscription %d end date: %w", s.ID, err)
		}
	}
	return s, nil
}

func nullDate(d core.Date) sql.NullString {
	if d.IsEmpty() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func (r *SQLiteRepository) CreateSubscription(ctx context.Context, s core.Subscription) (int64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureCategory(ctx, tx, s.Category); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO subscriptions (name, amount_cents, category, frequency, start_date, end_date, active)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			strings.TrimSpace(s.Name), s.Amount.Cents, strings.TrimSpace(s.Category), string(s.Frequency),
			s.StartDate.String(), nullDate(s.EndDate), s.Active)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, wrap("create", "subscription", s.Name, err)
	}
	return id, nil
}

func (r *SQLiteRepository) GetSubscription(ctx context.Context, id int64) (core.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	s, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s, core.NotFound("get", "subscription", id)
	}
	return s, wrap("get", "subscription", id, err)
}

func (r *SQLiteRepository) UpdateSubscription(ctx context.Context, s core.Subscription) error {
	if err := s.Validate(); err != nil {
		return err
	}
	var res sql.Result
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureCategory(ctx, tx, s.Category); err != nil {
			return err
		}
		var err error
		res, err = tx.ExecContext(ctx, `
			UPDATE subscriptions
			SET name = ?, amount_cents = ?, category = ?, frequency = ?, start_date = ?, end_date = ?, active = ?
			WHERE id = ?`,
			strings.TrimSpace(s.Name), s.Amount.Cents, strings.TrimSpace(s.Category), string(s.Frequency),
			s.StartDate.String(), nullDate(s.EndDate), s.Active, s.ID)
		return err
	})
	if err != nil {
		return wrap("update", "subscription", s.ID, err)
	}
	return expectRow(res, "update", "subscription", s.ID)
}

func (r *SQLiteRepository) DeleteSubscription(ctx context.Context, id int64) error {
	var charges int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE source_type = 'subscription' AND source_id = ?`, id).Scan(&charges)
	if err != nil {
		return wrap("delete", "subscription", id, err)
	}
	if charges > 0 {
		return core.Conflict("delete", "subscription", id,
			errors.New("subscription has linked charges, set it inactive instead"))
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return wrap("delete", "subscription", id, err)
	}
	return expectRow(res, "delete", "subscription", id)
}

func (r *SQLiteRepository) ListSubscriptions(ctx context.Context) ([]core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, wrap("list", "subscription", nil, err)
	}
	defer rows.Close()

	var out []core.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, wrap("list", "subscription", nil, rows.Err())
}

// Installments.

const installmentColumns = `id, description, category, total_cents, installment_count, start_date`

func scanInstallment(sc interface{ Scan(...any) error }) (core.Installment, error) {
	var (
		i     core.Installment
		start string
	)
	if err := sc.Scan(&i.ID, &i.Description, &i.Category, &i.Total.Cents, &i.Count, &start); err != nil {
		return i, err
	}
	var err error
	if i.StartDate, err = core.ParseDate(start); err != nil {
		return i, fmt.Errorf("installment %d start date: %w", i.ID, err)
	}
	return i, nil
}

func (r *SQLiteRepository) CreateInstallment(ctx context.Context, i core.Installment) (int64, error) {
	if err := i.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureCategory(ctx, tx, i.Category); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO installments (description, category, total_cents, installment_count, start_date)
			VALUES (?, ?, ?, ?, ?)`,
			strings.TrimSpace(i.Description), strings.TrimSpace(i.Category), i.Total.Cents, i.Count, i.StartDate.String())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, wrap("create", "installment", i.Description, err)
	}
	return id, nil
}

func (r *SQLiteRepository) GetInstallment(ctx context.Context, id int64) (core.Installment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id)
	i, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return i, core.NotFound("get", "installment", id)
	}
	return i, wrap("get", "installment", id, err)
}

func (r *SQLiteRepository) ListInstallments(ctx context.Context) ([]core.Installment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+installmentColumns+` FROM installments ORDER BY id`)
	if err != nil {
		return nil, wrap("list", "installment", nil, err)
	}
	defer rows.Close()

	var out []core.Installment
	for rows.Next() {
		i, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		out = append(out, i)
	}
	return out, wrap("list", "installment", nil, rows.Err())
}
