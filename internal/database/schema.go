package database

import (
	"context"
	"fmt"
	"strings"
)

// Column is one column of a described table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (d *DB) tableNames(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (d *DB) tableColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			deflt      any
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &deflt, &primaryKey); err != nil {
			return nil, err
		}
		cols = append(cols, Column{Name: name, Type: typ})
	}
	return cols, rows.Err()
}

// Describe returns a prompt-ready schema listing, one block per table:
//
//	Table 'students':
//	  Columns: name, marks, grade
//	  Detailed: name (TEXT), marks (INTEGER), grade (TEXT)
func (d *DB) Describe(ctx context.Context) (string, error) {
	tables, err := d.tableNames(ctx)
	if err != nil {
		return "", fmt.Errorf("listing tables: %w", err)
	}

	var blocks []string
	for _, table := range tables {
		cols, err := d.tableColumns(ctx, table)
		if err != nil {
			return "", fmt.Errorf("describing table %s: %w", table, err)
		}
		if len(cols) == 0 {
			continue
		}

		names := make([]string, len(cols))
		detailed := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.Name
			detailed[i] = fmt.Sprintf("%s (%s)", c.Name, c.Type)
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Table '%s':\n", table)
		fmt.Fprintf(&sb, "  Columns: %s\n", strings.Join(names, ", "))
		fmt.Fprintf(&sb, "  Detailed: %s", strings.Join(detailed, ", "))
		blocks = append(blocks, sb.String())
	}

	if len(blocks) == 0 {
		return "No tables found in database", nil
	}
	return strings.Join(blocks, "\n\n"), nil
}

// ParseDescription parses a Describe listing back into structured form,
// keyed by table name. Blocks that do not match the expected shape are
// skipped rather than failing the whole parse.
func ParseDescription(text string) map[string][]Column {
	schema := make(map[string][]Column)

	for _, block := range strings.Split(text, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) == 0 {
			continue
		}

		first := lines[0]
		start := strings.Index(first, "Table '")
		end := strings.Index(first, "':")
		if start < 0 || end < 0 || end <= start+len("Table '") {
			continue
		}
		table := first[start+len("Table '") : end]

		var cols []Column
		for _, line := range lines[1:] {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "Detailed:") {
				continue
			}
			for _, entry := range strings.Split(strings.TrimPrefix(line, "Detailed:"), ", ") {
				entry = strings.TrimSpace(entry)
				open := strings.Index(entry, "(")
				closing := strings.LastIndex(entry, ")")
				if open <= 0 || closing <= open {
					continue
				}
				cols = append(cols, Column{
					Name: strings.TrimSpace(entry[:open]),
					Type: strings.TrimSpace(entry[open+1 : closing]),
				})
			}
		}

		if len(cols) > 0 {
			schema[table] = cols
		}
	}

	return schema
}
