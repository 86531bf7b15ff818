package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/rowboat/internal/dbconn"
)

type fixture struct {
	manager *dbconn.Manager
	catalog *Catalog
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := os.MkdirTemp("", "dbtools")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	manager := dbconn.NewManager()
	t.Cleanup(func() { manager.CloseAll() })

	conn, err := manager.Connect(context.Background(), "shop", "sqlite", dbconn.SQLiteDSN(filepath.Join(dir, "shop.db")))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	seed := `
	CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT);
	CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		customer_id INTEGER NOT NULL REFERENCES customers(id),
		amount REAL NOT NULL
	);
	INSERT INTO customers VALUES (1, 'ada', 'ada@example.com'), (2, 'grace', 'grace@example.com');
	INSERT INTO orders VALUES (1, 1, 50), (2, 1, 150), (3, 2, 75);
	`
	if _, err := conn.DB().ExecContext(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	catalog, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })

	return &fixture{manager: manager, catalog: catalog, dir: dir}
}

func TestSQLExecuteQuery(t *testing.T) {
	f := newFixture(t)
	tl := NewSQLExecute(f.manager, f.catalog)

	res, err := tl.Execute(context.Background(), map[string]any{
		"sql": "SELECT name FROM customers ORDER BY id",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError() {
		t.Fatalf("result error: %s", res.Error)
	}
	if !strings.Contains(res.LLMContent, "ada") {
		t.Errorf("LLMContent = %q", res.LLMContent)
	}
	if !strings.Contains(res.ReturnDisplay, "| name |") {
		t.Errorf("ReturnDisplay not a markdown table: %q", res.ReturnDisplay)
	}
}

func TestSQLExecuteModify(t *testing.T) {
	f := newFixture(t)
	tl := NewSQLExecute(f.manager, f.catalog)

	res, err := tl.Execute(context.Background(), map[string]any{
		"sql": "UPDATE orders SET amount = amount * 2 WHERE customer_id = 1",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.LLMContent, "2 row(s) affected") {
		t.Errorf("LLMContent = %q", res.LLMContent)
	}
}

func TestSQLExecuteDryRunRollsBack(t *testing.T) {
	f := newFixture(t)
	tl := NewSQLExecute(f.manager, f.catalog)

	res, err := tl.Execute(context.Background(), map[string]any{
		"sql":  "DELETE FROM orders",
		"mode": "dry_run",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.LLMContent, "3 row(s) would be affected") {
		t.Errorf("LLMContent = %q", res.LLMContent)
	}

	conn, _ := f.manager.Active()
	check, err := conn.Query(context.Background(), "SELECT COUNT(*) FROM orders", 0)
	if err != nil {
		t.Fatal(err)
	}
	if check.Rows[0][0].(int64) != 3 {
		t.Errorf("orders were modified by a dry run")
	}
}

func TestSQLExecuteConfirmationGate(t *testing.T) {
	f := newFixture(t)
	tl := NewSQLExecute(f.manager, f.catalog)

	details, err := tl.ShouldConfirm(context.Background(), map[string]any{
		"sql": "DROP TABLE orders",
	})
	if err != nil {
		t.Fatalf("ShouldConfirm: %v", err)
	}
	if details == nil {
		t.Fatal("DROP TABLE should require confirmation")
	}
	if details.RiskLevel != "critical" {
		t.Errorf("RiskLevel = %q, want critical", details.RiskLevel)
	}

	details, err = tl.ShouldConfirm(context.Background(), map[string]any{
		"sql": "SELECT * FROM customers WHERE id = 1",
	})
	if err != nil {
		t.Fatalf("ShouldConfirm: %v", err)
	}
	if details != nil {
		t.Errorf("plain SELECT should not require confirmation: %+v", details)
	}

	// Dry runs never prompt, even for destructive SQL.
	details, err = tl.ShouldConfirm(context.Background(), map[string]any{
		"sql":  "DELETE FROM orders",
		"mode": "dry_run",
	})
	if err != nil {
		t.Fatalf("ShouldConfirm: %v", err)
	}
	if details != nil {
		t.Errorf("dry run should not require confirmation: %+v", details)
	}
}

func TestSQLExecuteErrorRecoverable(t *testing.T) {
	f := newFixture(t)
	tl := NewSQLExecute(f.manager, f.catalog)

	res, err := tl.Execute(context.Background(), map[string]any{
		"sql": "SELECT * FROM no_such_table",
	}, nil)
	if err != nil {
		t.Fatalf("Execute should not fail hard: %v", err)
	}
	if !res.IsError() {
		t.Fatal("want error result")
	}
	if !strings.Contains(res.Error, "no_such_table") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestSchemaDiscoveryPopulatesCatalog(t *testing.T) {
	f := newFixture(t)
	tl := NewSchemaDiscovery(f.manager, f.catalog)

	res, err := tl.Execute(context.Background(), map[string]any{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError() {
		t.Fatalf("result error: %s", res.Error)
	}
	if !strings.Contains(res.LLMContent, "orders") || !strings.Contains(res.LLMContent, "customers") {
		t.Errorf("LLMContent = %q", res.LLMContent)
	}

	meta, ok := f.catalog.Table("shop", "orders")
	if !ok {
		t.Fatal("orders not in catalog")
	}
	if meta.RowCount != 3 || len(meta.Columns) != 3 {
		t.Errorf("orders meta = %+v", meta)
	}
	if len(meta.ForeignKeys) != 1 || meta.ForeignKeys[0].RefTable != "customers" {
		t.Errorf("orders fks = %+v", meta.ForeignKeys)
	}

	rctx := f.catalog.RiskContext()
	if rctx.TableRows["customers"] != 2 {
		t.Errorf("risk context rows = %+v", rctx.TableRows)
	}
	if len(rctx.ForeignKeys["customers"]) == 0 {
		t.Errorf("risk context fks = %+v", rctx.ForeignKeys)
	}
}

func TestTableDetails(t *testing.T) {
	f := newFixture(t)
	tl := NewTableDetails(f.manager, f.catalog)

	res, err := tl.Execute(context.Background(), map[string]any{"table": "orders"}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError() {
		t.Fatalf("result error: %s", res.Error)
	}
	for _, want := range []string{"customer_id", "FK → customers.id", "Sample rows"} {
		if !strings.Contains(res.LLMContent, want) {
			t.Errorf("LLMContent missing %q:\n%s", want, res.LLMContent)
		}
	}

	res, err = tl.Execute(context.Background(), map[string]any{"table": "missing"}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError() {
		t.Error("want error result for unknown table")
	}
}

func TestConnectTool(t *testing.T) {
	f := newFixture(t)
	tl := NewConnect(f.manager)

	res, err := tl.Execute(context.Background(), map[string]any{
		"action": "connect",
		"name":   "scratch",
		"driver": "sqlite",
		"path":   filepath.Join(f.dir, "scratch.db"),
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError() {
		t.Fatalf("result error: %s", res.Error)
	}

	res, _ = tl.Execute(context.Background(), map[string]any{"action": "switch", "name": "scratch"}, nil)
	if res.IsError() {
		t.Fatalf("switch error: %s", res.Error)
	}
	if f.manager.ActiveName() != "scratch" {
		t.Errorf("active = %q", f.manager.ActiveName())
	}

	res, _ = tl.Execute(context.Background(), map[string]any{"action": "list"}, nil)
	if !strings.Contains(res.LLMContent, "scratch (active)") {
		t.Errorf("list = %q", res.LLMContent)
	}

	res, _ = tl.Execute(context.Background(), map[string]any{"action": "switch", "name": "nope"}, nil)
	if !res.IsError() {
		t.Error("switch to unknown connection should error")
	}
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t)
	tl := NewExport(f.manager, f.dir)

	res, err := tl.Execute(context.Background(), map[string]any{
		"sql":  "SELECT id, name FROM customers ORDER BY id",
		"path": "out/customers.csv",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError() {
		t.Fatalf("result error: %s", res.Error)
	}

	data, err := os.ReadFile(filepath.Join(f.dir, "out", "customers.csv"))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "id,name\n") || !strings.Contains(content, "ada") {
		t.Errorf("csv = %q", content)
	}
}

func TestExportRejectsEscapingPath(t *testing.T) {
	f := newFixture(t)
	tl := NewExport(f.manager, f.dir)

	res, err := tl.Execute(context.Background(), map[string]any{
		"sql":  "SELECT 1",
		"path": "../outside.csv",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError() {
		t.Error("path escape should produce an error result")
	}
}

func TestExportOverwriteConfirmation(t *testing.T) {
	f := newFixture(t)
	tl := NewExport(f.manager, f.dir)

	if err := os.WriteFile(filepath.Join(f.dir, "existing.csv"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	details, err := tl.ShouldConfirm(context.Background(), map[string]any{
		"sql": "SELECT 1", "path": "existing.csv",
	})
	if err != nil {
		t.Fatalf("ShouldConfirm: %v", err)
	}
	if details == nil {
		t.Fatal("overwrite should require confirmation")
	}

	details, err = tl.ShouldConfirm(context.Background(), map[string]any{
		"sql": "SELECT 1", "path": "fresh.csv",
	})
	if err != nil {
		t.Fatalf("ShouldConfirm: %v", err)
	}
	if details != nil {
		t.Errorf("new file should not require confirmation: %+v", details)
	}
}

func TestSchemaSearch(t *testing.T) {
	f := newFixture(t)
	discovery := NewSchemaDiscovery(f.manager, f.catalog)
	if _, err := discovery.Execute(context.Background(), map[string]any{}, nil); err != nil {
		t.Fatalf("discovery: %v", err)
	}

	tl := NewSearch(f.catalog)
	res, err := tl.Execute(context.Background(), map[string]any{"query": "email"}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError() {
		t.Fatalf("result error: %s", res.Error)
	}
	if !strings.Contains(res.LLMContent, "customers") {
		t.Errorf("search result = %q", res.LLMContent)
	}

	res, _ = tl.Execute(context.Background(), map[string]any{"query": "zzz_nothing"}, nil)
	if !strings.Contains(res.LLMContent, "No schema objects match") {
		t.Errorf("empty search = %q", res.LLMContent)
	}
}
