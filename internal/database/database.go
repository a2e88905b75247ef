package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database that natural-language questions are
// answered from. It is the execution backend for synthesized queries and
// the source of the schema description used in prompts.
type DB struct {
	db *sql.DB
}

// Open opens the SQLite database at path. Pass ":memory:" for an
// in-memory database (used by tests).
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// NormalizeText lower-cases every TEXT/CHAR column in every table so that
// lower-cased string literals in generated queries match stored values.
// Column-level failures are logged and skipped; the pass is best-effort.
func (d *DB) NormalizeText(ctx context.Context) error {
	tables, err := d.tableNames(ctx)
	if err != nil {
		return fmt.Errorf("listing tables: %w", err)
	}

	for _, table := range tables {
		cols, err := d.tableColumns(ctx, table)
		if err != nil {
			slog.Warn("skipping table during text normalization", "table", table, "error", err)
			continue
		}
		for _, col := range cols {
			upper := strings.ToUpper(col.Type)
			if !strings.Contains(upper, "CHAR") && !strings.Contains(upper, "TEXT") {
				continue
			}
			stmt := fmt.Sprintf("UPDATE %q SET %q = LOWER(%q) WHERE %q IS NOT NULL", table, col.Name, col.Name, col.Name)
			if _, err := d.db.ExecContext(ctx, stmt); err != nil {
				slog.Warn("lower-casing column failed", "table", table, "column", col.Name, "error", err)
			}
		}
	}
	return nil
}

// ExecutionError wraps a query failure. The orchestrator surfaces it as
// result text rather than aborting the pipeline.
type ExecutionError struct {
	Query string
	Err   error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Run executes a SQL statement. Statements that return rows produce a
// tuple-literal result string like "[('alice', 95), ('bob', 88)]"; an
// empty result set and row-less statements produce "". Failures are
// returned as *ExecutionError.
func (d *DB) Run(ctx context.Context, query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", &ExecutionError{Query: query, Err: fmt.Errorf("empty query")}
	}

	if isMutating(q) {
		if _, err := d.db.ExecContext(ctx, q); err != nil {
			return "", &ExecutionError{Query: query, Err: err}
		}
		return "", nil
	}

	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return "", &ExecutionError{Query: query, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", &ExecutionError{Query: query, Err: err}
	}

	var all [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", &ExecutionError{Query: query, Err: err}
		}
		all = append(all, values)
	}
	if err := rows.Err(); err != nil {
		return "", &ExecutionError{Query: query, Err: err}
	}

	if len(all) == 0 {
		return "", nil
	}
	return FormatRows(all), nil
}

func isMutating(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "UPDATE", "INSERT", "DELETE", "CREATE", "DROP", "ALTER", "REPLACE":
		return true
	}
	return false
}

// FormatRows renders result rows as a tuple-literal string. The format is
// what the memory subsystem's entity extraction parses back.
func FormatRows(rows [][]any) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(formatValue(v))
		}
		// Single-element tuples carry a trailing comma.
		if len(row) == 1 {
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
	}
	sb.WriteByte(']')
	return sb.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case string:
		return quote(val)
	case []byte:
		return quote(string(val))
	case bool:
		if val {
			return "True"
		}
		return "False"
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", val), "0"), ".")
	default:
		return fmt.Sprintf("%v", val)
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
