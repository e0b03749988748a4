package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"despesas/internal/core"
	"despesas/internal/ledger"
)

const transactionColumns = `id, nature, source_type, source_id, period, installment_number, installment_total,
	date, amount_cents, category, description, created_at`

// sourceColumns flattens a source into its persisted back-reference.
type sourceColumns struct {
	typ    core.EntryType
	id     sql.NullInt64
	period string
	number sql.NullInt64
	total  sql.NullInt64
}

func flatten(t core.Transaction) sourceColumns {
	switch s := t.Source.(type) {
	case core.OneOff:
		return sourceColumns{typ: core.EntryOneOff, period: t.Period().String()}
	case core.SubscriptionCharge:
		return sourceColumns{
			typ:    core.EntrySubscription,
			id:     sql.NullInt64{Int64: s.SubscriptionID, Valid: true},
			period: s.Period.String(),
		}
	case core.InstallmentCharge:
		return sourceColumns{
			typ:    core.EntryInstallment,
			id:     sql.NullInt64{Int64: s.InstallmentID, Valid: true},
			period: t.Period().String(),
			number: sql.NullInt64{Int64: int64(s.Number), Valid: true},
			total:  sql.NullInt64{Int64: int64(s.Total), Valid: true},
		}
	default:
		panic(fmt.Sprintf("storage: unknown source %T", s))
	}
}

func (c sourceColumns) source() (core.Source, error) {
	switch c.typ {
	case core.EntryOneOff:
		return core.OneOff{}, nil
	case core.EntrySubscription:
		period, err := core.ParseMonth(c.period)
		if err != nil {
			return nil, err
		}
		return core.SubscriptionCharge{SubscriptionID: c.id.Int64, Period: period}, nil
	case core.EntryInstallment:
		return core.InstallmentCharge{
			InstallmentID: c.id.Int64,
			Number:        int(c.number.Int64),
			Total:         int(c.total.Int64),
		}, nil
	}
	return nil, fmt.Errorf("unknown source type %q", c.typ)
}

func scanTransaction(sc interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t                 core.Transaction
		src               sourceColumns
		nature, typ, date string
		createdAt         string
	)
	err := sc.Scan(&t.ID, &nature, &typ, &src.id, &src.period, &src.number, &src.total,
		&date, &t.Amount.Cents, &t.Category, &t.Description, &createdAt)
	if err != nil {
		return t, err
	}
	t.Nature = core.Nature(nature)
	src.typ = core.EntryType(typ)
	if t.Source, err = src.source(); err != nil {
		return t, fmt.Errorf("transaction %d: %w", t.ID, err)
	}
	if t.Date, err = core.ParseDate(date); err != nil {
		return t, fmt.Errorf("transaction %d: %w", t.ID, err)
	}
	if t.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return t, fmt.Errorf("transaction %d created_at: %w", t.ID, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *SQLiteRepository) insert(ctx context.Context, tx *sql.Tx, t core.Transaction, orIgnore bool) (int64, bool, error) {
	if err := ensureCategory(ctx, tx, t.Category); err != nil {
		return 0, false, err
	}
	src := flatten(t)
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	query := `
		INSERT INTO transactions (nature, source_type, source_id, period, installment_number, installment_total,
			date, amount_cents, category, description, dedup_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if orIgnore {
		query += ` ON CONFLICT DO NOTHING`
	}
	res, err := tx.ExecContext(ctx, query,
		string(t.Nature), string(src.typ), src.id, src.period, src.number, src.total,
		t.Date.String(), t.Amount.Cents, strings.TrimSpace(t.Category), strings.TrimSpace(t.Description),
		nullString(t.DedupKey()), createdAt.Format(timestampLayout))
	if err != nil {
		return 0, false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return 0, false, err
	}
	id, err := res.LastInsertId()
	return id, true, err
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, _, err = r.insert(ctx, tx, t, false)
		return err
	})
	if err != nil {
		if classify(err) == errUnique {
			key, _ := t.Key()
			return 0, core.Conflict("create", "transaction", key.String(), core.ErrDuplicateSource)
		}
		return 0, wrap("create", "transaction", nil, err)
	}
	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", id,
		"nature", t.Nature,
		"source", t.Source.Type(),
		"amount_cents", t.Amount.Cents,
		"date", t.Date.String())
	return id, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, core.NotFound("get", "transaction", id)
	}
	return t, wrap("get", "transaction", id, err)
}

// UpdateTransaction rewrites the user-editable fields. The source of a row never changes.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	src := flatten(t)
	var res sql.Result
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureCategory(ctx, tx, t.Category); err != nil {
			return err
		}
		var err error
		res, err = tx.ExecContext(ctx, `
			UPDATE transactions
			SET nature = ?, period = ?, date = ?, amount_cents = ?, category = ?, description = ?, dedup_key = ?
			WHERE id = ? AND source_type = ?`,
			string(t.Nature), src.period, t.Date.String(), t.Amount.Cents,
			strings.TrimSpace(t.Category), strings.TrimSpace(t.Description), nullString(t.DedupKey()),
			t.ID, string(src.typ))
		return err
	})
	if err != nil {
		return wrap("update", "transaction", t.ID, err)
	}
	return expectRow(res, "update", "transaction", t.ID)
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return wrap("delete", "transaction", id, err)
	}
	return expectRow(res, "delete", "transaction", id)
}

// InsertDerived inserts every row in one transaction. Rows whose source key
// already exists are skipped by the unique index and reported as false.
func (r *SQLiteRepository) InsertDerived(ctx context.Context, txs []core.Transaction) ([]bool, error) {
	for _, t := range txs {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, ok := t.Key(); !ok {
			return nil, core.Validationf("transaction has no source key")
		}
	}
	inserted := make([]bool, len(txs))
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for i, t := range txs {
			_, ok, err := r.insert(ctx, tx, t, true)
			if err != nil {
				key, _ := t.Key()
				return fmt.Errorf("insert %s: %w", key, err)
			}
			inserted[i] = ok
		}
		return nil
	})
	if err != nil {
		return nil, wrap("materialize", "transaction", nil, err)
	}
	return inserted, nil
}

func (r *SQLiteRepository) HasDerived(ctx context.Context, key core.SourceKey) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE source_type = ? AND source_id = ? AND period = ?`,
		string(key.Type), key.ID, key.Period.String()).Scan(&n)
	if err != nil {
		return false, wrap("lookup", "transaction", key.String(), err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) HasOneOffExpense(ctx context.Context, dedupKey string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE dedup_key = ?`, dedupKey).Scan(&n)
	if err != nil {
		return false, wrap("lookup", "transaction", nil, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.Nature != "" {
		where = append(where, "nature = ?")
		args = append(args, string(f.Nature))
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if !f.From.IsEmpty() {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsEmpty() {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list", "transaction", nil, err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, wrap("list", "transaction", nil, rows.Err())
}

func (r *SQLiteRepository) LatestTransactionDate(ctx context.Context) (core.Date, bool, error) {
	var latest sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(date) FROM transactions`).Scan(&latest); err != nil {
		return core.Date{}, false, wrap("latest", "transaction", nil, err)
	}
	if !latest.Valid {
		return core.Date{}, false, nil
	}
	d, err := core.ParseDate(latest.String)
	if err != nil {
		return core.Date{}, false, err
	}
	return d, true, nil
}
