package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lattice-dev/lattice/internal/defs"
)

// Tx is one transaction over the store. Every mutating action runs inside
// exactly one Tx; rolling back undoes all of its writes.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit; the error is
// swallowed then so it can run in a defer.
func (t *Tx) Rollback() {
	_ = t.tx.Rollback()
}

// Query executes a read inside the transaction. Callers are responsible
// for closing the returned rows.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// Exec executes a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// Insert adds one row to a model's table and returns the assigned primary
// key. Column order follows the model's field declaration order so
// statements are deterministic.
func (t *Tx) Insert(ctx context.Context, m *defs.ModelDef, values map[string]any) (int64, error) {
	var cols []string
	var ph []string
	var args []any
	for _, f := range m.Fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, fmt.Sprintf("%q", f.StoreName))
		ph = append(ph, "?")
		args = append(args, v)
	}
	if len(cols) == 0 {
		cols = append(cols, fmt.Sprintf("%q", m.PrimaryField().StoreName))
		ph = append(ph, "NULL")
	}

	res, err := t.tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
		m.StoreName, strings.Join(cols, ", "), strings.Join(ph, ", ")), args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", m.StoreName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert into %s: last insert id: %w", m.StoreName, err)
	}
	return id, nil
}

// Update rewrites the given columns of one row. Returns sql.ErrNoRows when
// the id does not exist.
func (t *Tx) Update(ctx context.Context, m *defs.ModelDef, id any, values map[string]any) error {
	var sets []string
	var args []any
	for _, f := range m.Fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%q = ?", f.StoreName))
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}
	pk := m.PrimaryField()
	args = append(args, id)

	res, err := t.tx.ExecContext(ctx, fmt.Sprintf("UPDATE %q SET %s WHERE %q = ?",
		m.StoreName, strings.Join(sets, ", "), pk.StoreName), args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", m.StoreName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: rows affected: %w", m.StoreName, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteByIDs removes the rows with the given primary keys and returns how
// many existed.
func (t *Tx) DeleteByIDs(ctx context.Context, m *defs.ModelDef, ids []any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	pk := m.PrimaryField()
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	res, err := t.tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %q WHERE %q IN (%s)",
		m.StoreName, pk.StoreName, ph), ids...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", m.StoreName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: rows affected: %w", m.StoreName, err)
	}
	return n, nil
}
