package dbconn

import (
	"context"
	"database/sql"
	"fmt"
)

// TableInfo summarizes one table or view.
type TableInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	RowCount int64  `json:"row_count"`
}

// ColumnInfo is one column of a table.
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	Default    string `json:"default,omitempty"`
	PrimaryKey bool   `json:"primary_key"`
}

// ForeignKeyInfo is one outgoing foreign key reference.
type ForeignKeyInfo struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// IndexInfo is one index on a table.
type IndexInfo struct {
	Name   string `json:"name"`
	Unique bool   `json:"unique"`
}

// Tables lists tables and views with row counts. Views report -1 rows.
func (c *Connection) Tables(ctx context.Context) ([]TableInfo, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Name, &t.Type); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		if tables[i].Type != "table" {
			tables[i].RowCount = -1
			continue
		}
		var count int64
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %q`, tables[i].Name)
		if err := c.db.QueryRowContext(ctx, q).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", tables[i].Name, err)
		}
		tables[i].RowCount = count
	}
	return tables, nil
}

// Columns describes one table's columns via PRAGMA table_info.
func (c *Connection) Columns(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			cid     int
			col     ColumnInfo
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		col.NotNull = notNull != 0
		col.PrimaryKey = pk != 0
		if dflt != nil {
			col.Default = fmt.Sprintf("%v", dflt)
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no such table: %s", table)
	}
	return cols, rows.Err()
}

// ForeignKeys lists a table's outgoing references.
func (c *Connection) ForeignKeys(ctx context.Context, table string) ([]ForeignKeyInfo, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_list(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("foreign_key_list %s: %w", table, err)
	}
	defer rows.Close()

	var fks []ForeignKeyInfo
	for rows.Next() {
		var (
			id, seq                   int
			refTable, from            string
			to                        sql.NullString
			onUpdate, onDelete, match string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		fks = append(fks, ForeignKeyInfo{Column: from, RefTable: refTable, RefColumn: to.String})
	}
	return fks, rows.Err()
}

// Indexes lists a table's indexes.
func (c *Connection) Indexes(ctx context.Context, table string) ([]IndexInfo, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("index_list %s: %w", table, err)
	}
	defer rows.Close()

	var indexes []IndexInfo
	for rows.Next() {
		var (
			seq     int
			idx     IndexInfo
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &idx.Name, &unique, &origin, &partial); err != nil {
			return nil, err
		}
		idx.Unique = unique != 0
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}
