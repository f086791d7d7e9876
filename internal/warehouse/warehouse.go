// Package warehouse adapts the analytics database that generated SQL runs
// against. It is read-only by contract: every statement is vetted by
// sqlguard before it reaches a Querier.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Querier executes a vetted read-only statement and returns rows as
// column-keyed maps, ready for JSON serialization.
type Querier interface {
	Query(ctx context.Context, query string) ([]map[string]any, error)
	Close() error
}

// Postgres implements Querier against a PostgreSQL warehouse.
type Postgres struct {
	db *sql.DB
}

var _ Querier = (*Postgres)(nil)

// NewPostgres connects to the warehouse at the given DSN.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("warehouse: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("warehouse: failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Query runs the statement and materializes every row. Values come back
// JSON-friendly: byte slices become strings, timestamps become RFC 3339
// strings, NULLs become nil.
func (p *Postgres) Query(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("warehouse: query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("warehouse: failed to read columns: %w", err)
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("warehouse: failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warehouse: error iterating rows: %w", err)
	}

	return results, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}
