package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// filter accumulates WHERE conditions with positional arguments. Every
// condition carries one %d verb for its placeholder index.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(cond, len(f.args)))
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// page appends LIMIT and OFFSET clauses. Zero means unbounded.
func (f *filter) page(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		f.args = append(f.args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(f.args))
	}
	if offset > 0 {
		f.args = append(f.args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(f.args))
	}
	return b.String()
}

// collectDocs scans single-column JSONB rows into T values.
func collectDocs[T any](rows pgx.Rows, what string) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("reportflow/postgres: scan %s row: %w", what, err)
		}
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("reportflow/postgres: decode %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reportflow/postgres: iterate %s rows: %w", what, err)
	}
	return out, nil
}

func decodeDoc[T any](raw []byte, what string) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("reportflow/postgres: decode %s: %w", what, err)
	}
	return v, nil
}

func encodeDoc(v any, what string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: encode %s: %w", what, err)
	}
	return data, nil
}
