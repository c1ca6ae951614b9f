package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/graph"
)

// EnsureSchema creates the backing table of every model in the graph.
// Idempotent: existing tables are left untouched.
func (s *Store) EnsureSchema(ctx context.Context, g *graph.Graph) error {
	for _, m := range g.Models() {
		ddl, err := tableSQL(g, m)
		if err != nil {
			return fmt.Errorf("schema for model %s: %w", m.Name, err)
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", m.StoreName, err)
		}
	}
	return nil
}

// tableSQL renders one model's CREATE TABLE statement: scalar columns in
// declaration order, then foreign key clauses for every reference.
func tableSQL(g *graph.Graph, m *defs.ModelDef) (string, error) {
	var defsList []string

	for _, f := range m.Fields {
		col, err := columnSQL(m, f)
		if err != nil {
			return "", err
		}
		defsList = append(defsList, col)
	}

	for _, r := range m.References {
		fk, err := g.FieldByRef(r.FieldRef)
		if err != nil {
			return "", err
		}
		target, err := g.ReferenceTarget(r)
		if err != nil {
			return "", err
		}
		clause := fmt.Sprintf("FOREIGN KEY (%q) REFERENCES %q(%q)",
			fk.StoreName, target.StoreName, target.PrimaryField().StoreName)
		switch r.OnDelete {
		case defs.OnDeleteSetNull:
			clause += " ON DELETE SET NULL"
		case defs.OnDeleteCascade:
			clause += " ON DELETE CASCADE"
		}
		defsList = append(defsList, clause)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (%s)",
		m.StoreName, strings.Join(defsList, ", ")), nil
}

func columnSQL(m *defs.ModelDef, f *defs.FieldDef) (string, error) {
	typ, err := columnType(f.Type)
	if err != nil {
		return "", fmt.Errorf("field %s.%s: %w", m.Name, f.Name, err)
	}
	col := fmt.Sprintf("%q %s", f.StoreName, typ)
	if f.Primary {
		if f.Type == defs.TypeInteger {
			// INTEGER PRIMARY KEY is the rowid, so inserts get
			// monotonically assigned ids for free.
			return col + " PRIMARY KEY", nil
		}
		return col + " PRIMARY KEY NOT NULL", nil
	}
	if !f.Nullable {
		col += " NOT NULL"
	}
	if f.Unique {
		col += " UNIQUE"
	}
	return col, nil
}

func columnType(t defs.ScalarType) (string, error) {
	switch t {
	case defs.TypeInteger, defs.TypeBoolean:
		return "INTEGER", nil
	case defs.TypeFloat:
		return "REAL", nil
	case defs.TypeText:
		return "TEXT", nil
	default:
		return "", fmt.Errorf("unsupported scalar type %q", t)
	}
}
