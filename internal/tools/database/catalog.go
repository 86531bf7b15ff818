// Package database implements the SQL-facing agent tools: execution
// with risk gating, schema discovery, table inspection, connection
// management, export, and schema search.
package database

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/ChamsBouzaiene/rowboat/internal/dbconn"
	"github.com/ChamsBouzaiene/rowboat/internal/risk"
)

// TableMeta is the catalog's record of one discovered table.
type TableMeta struct {
	Connection  string
	Name        string
	Type        string
	RowCount    int64
	Columns     []dbconn.ColumnInfo
	ForeignKeys []dbconn.ForeignKeyInfo
}

// Catalog caches discovered schema metadata. schema_discovery and
// table_details feed it; the risk evaluator reads row counts and
// foreign keys from it, and schema_search queries its full-text index.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]TableMeta
	index  bleve.Index
}

func catalogKey(connection, table string) string {
	return connection + "/" + table
}

func catalogMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	tableField := bleve.NewTextFieldMapping()
	tableField.Analyzer = keyword.Name
	tableField.Store = true
	docMapping.AddFieldMappingsAt("table", tableField)

	connField := bleve.NewTextFieldMapping()
	connField.Analyzer = keyword.Name
	connField.Store = true
	docMapping.AddFieldMappingsAt("connection", connField)

	kindField := bleve.NewTextFieldMapping()
	kindField.Analyzer = keyword.Name
	kindField.Store = true
	docMapping.AddFieldMappingsAt("kind", kindField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = true
	docMapping.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// NewCatalog builds an empty catalog with an in-memory search index.
func NewCatalog() (*Catalog, error) {
	index, err := bleve.NewMemOnly(catalogMapping())
	if err != nil {
		return nil, fmt.Errorf("create schema index: %w", err)
	}
	return &Catalog{tables: make(map[string]TableMeta), index: index}, nil
}

// UpdateTable stores one table's metadata and (re)indexes it for
// search. One document per table plus one per column.
func (c *Catalog) UpdateTable(meta TableMeta) error {
	key := catalogKey(meta.Connection, meta.Name)

	c.mu.Lock()
	old, existed := c.tables[key]
	c.tables[key] = meta
	c.mu.Unlock()

	batch := c.index.NewBatch()
	if existed {
		for _, col := range old.Columns {
			batch.Delete(key + "." + col.Name)
		}
	}

	var colNames []string
	for _, col := range meta.Columns {
		colNames = append(colNames, col.Name)
	}
	if err := batch.Index(key, map[string]any{
		"table":      meta.Name,
		"connection": meta.Connection,
		"kind":       "table",
		"text":       meta.Name + " " + strings.Join(colNames, " "),
	}); err != nil {
		return err
	}
	for _, col := range meta.Columns {
		if err := batch.Index(key+"."+col.Name, map[string]any{
			"table":      meta.Name,
			"connection": meta.Connection,
			"kind":       "column",
			"text":       col.Name + " " + col.Type + " " + meta.Name,
		}); err != nil {
			return err
		}
	}
	return c.index.Batch(batch)
}

// Table returns one table's cached metadata.
func (c *Catalog) Table(connection, name string) (TableMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.tables[catalogKey(connection, name)]
	return meta, ok
}

// RiskContext renders the cached metadata as the evaluator's context:
// row counts by table, and foreign-key relationships in both
// directions so deleting from either side of a reference is flagged.
func (c *Catalog) RiskContext() *risk.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rctx := &risk.Context{
		TableRows:   make(map[string]int64),
		ForeignKeys: make(map[string][]string),
	}
	for _, meta := range c.tables {
		if meta.RowCount >= 0 {
			rctx.TableRows[meta.Name] = meta.RowCount
		}
		for _, fk := range meta.ForeignKeys {
			rctx.ForeignKeys[fk.RefTable] = append(rctx.ForeignKeys[fk.RefTable], meta.Name)
			rctx.ForeignKeys[meta.Name] = append(rctx.ForeignKeys[meta.Name], fk.RefTable)
		}
	}
	return rctx
}

// SearchHit is one schema_search result.
type SearchHit struct {
	Table      string  `json:"table"`
	Connection string  `json:"connection"`
	Kind       string  `json:"kind"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Search runs a full-text match over indexed table and column names.
func (c *Catalog) Search(query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"table", "connection", "kind", "text"}

	res, err := c.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("schema search: %w", err)
	}

	hits := make([]SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		h := SearchHit{Score: hit.Score}
		if v, ok := hit.Fields["table"].(string); ok {
			h.Table = v
		}
		if v, ok := hit.Fields["connection"].(string); ok {
			h.Connection = v
		}
		if v, ok := hit.Fields["kind"].(string); ok {
			h.Kind = v
		}
		if v, ok := hit.Fields["text"].(string); ok {
			h.Text = v
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Close releases the search index.
func (c *Catalog) Close() error {
	return c.index.Close()
}
