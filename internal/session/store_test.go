package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/provider"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "rowboat-sessions")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return NewStore(dir)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := tempStore(t)
	sess := &Session{
		ID:      "abc",
		WorkDir: "/proj/shop",
		Title:   "Orders cleanup",
		History: []chat.Content{
			chat.NewUserText("drop stale orders"),
			chat.NewModelText("Which table?"),
		},
	}
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if sess.UpdatedAt.IsZero() || sess.CreatedAt.IsZero() {
		t.Error("Save should stamp timestamps")
	}

	got, err := store.Load("abc", "/proj/shop")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Title != "Orders cleanup" || len(got.History) != 2 {
		t.Errorf("loaded = %+v", got)
	}
	if got.History[0].Text() != "drop stale orders" {
		t.Errorf("history[0] = %+v", got.History[0])
	}
}

func TestLoadMissing(t *testing.T) {
	store := tempStore(t)
	if _, err := store.Load("nope", "/proj/shop"); err == nil {
		t.Error("want error for missing session")
	}
}

func TestListSortsNewestFirst(t *testing.T) {
	store := tempStore(t)

	old := &Session{ID: "old", WorkDir: "/proj/a", Title: "first"}
	if err := store.Save(old); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	recent := &Session{ID: "new", WorkDir: "/proj/a", Title: "second"}
	if err := store.Save(recent); err != nil {
		t.Fatal(err)
	}

	// A different working directory stays invisible.
	other := &Session{ID: "x", WorkDir: "/proj/b", Title: "other"}
	if err := store.Save(other); err != nil {
		t.Fatal(err)
	}

	metas, err := store.List("/proj/a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("len = %d", len(metas))
	}
	if metas[0].ID != "new" || metas[1].ID != "old" {
		t.Errorf("order = %s, %s", metas[0].ID, metas[1].ID)
	}
}

func TestListEmptyDir(t *testing.T) {
	store := tempStore(t)
	metas, err := store.List("/nowhere")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("metas = %+v", metas)
	}
}

func TestDelete(t *testing.T) {
	store := tempStore(t)
	if err := store.Save(&Session{ID: "gone", WorkDir: "/proj/a"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("gone", "/proj/a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load("gone", "/proj/a"); err == nil {
		t.Error("session should be gone")
	}
}

func TestWorkHashStable(t *testing.T) {
	store := tempStore(t)
	a := store.WorkHash("/proj/shop")
	b := store.WorkHash("/proj/shop/")
	if a != b {
		t.Errorf("hash should be path-clean stable: %s vs %s", a, b)
	}
	if len(a) != 12 {
		t.Errorf("hash length = %d", len(a))
	}
}

type titleProvider struct {
	reply map[string]any
	err   error
}

func (p titleProvider) Name() string  { return "fake" }
func (p titleProvider) Model() string { return "fake-1" }
func (p titleProvider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
	chunks := make(chan provider.Chunk)
	errs := make(chan error, 1)
	close(chunks)
	close(errs)
	return chunks, errs
}
func (p titleProvider) GenerateJSON(ctx context.Context, req provider.Request, schema map[string]any) (map[string]any, error) {
	return p.reply, p.err
}

func TestGenerateTitle(t *testing.T) {
	titler := NewTitler(titleProvider{reply: map[string]any{"title": "Orders Table Cleanup"}})
	title, err := titler.GenerateTitle(context.Background(), []chat.Content{
		chat.NewUserText("clean up the orders table"),
	})
	if err != nil {
		t.Fatalf("GenerateTitle: %v", err)
	}
	if title != "Orders Table Cleanup" {
		t.Errorf("title = %q", title)
	}
}

func TestGenerateTitleEmptyHistory(t *testing.T) {
	titler := NewTitler(titleProvider{})
	title, err := titler.GenerateTitle(context.Background(), nil)
	if err != nil {
		t.Fatalf("GenerateTitle: %v", err)
	}
	if title != "New Session" {
		t.Errorf("title = %q", title)
	}
}
