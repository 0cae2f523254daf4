package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()
	r, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func sampleDoc(id, filename string, pageCount int) (Document, []Page) {
	doc := Document{ID: id, Filename: filename, PageCount: pageCount}
	pages := make([]Page, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		pages = append(pages, Page{
			NodeID:      id + "-n" + string(rune('0'+i)),
			DocumentID:  id,
			PageNumber:  i,
			ImagePath:   "/images/" + id + "/page_" + string(rune('0'+i)) + ".jpg",
			TextPreview: "preview of page",
		})
	}
	return doc, pages
}

func TestAddAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := openTestRegistry(t)

	doc, pages := sampleDoc("d1", "pump-manual.pdf", 3)
	if err := r.AddDocument(ctx, doc, pages); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	got, err := r.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Filename != "pump-manual.pdf" || got.PageCount != 3 {
		t.Errorf("unexpected document: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be populated")
	}
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)

	_, err := r.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPages_Ordered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := openTestRegistry(t)

	doc, pages := sampleDoc("d1", "m.pdf", 3)
	// Insert out of order; Pages must return them sorted.
	pages[0], pages[2] = pages[2], pages[0]
	if err := r.AddDocument(ctx, doc, pages); err != nil {
		t.Fatal(err)
	}

	got, err := r.Pages(ctx, "d1")
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(got))
	}
	for i, p := range got {
		if p.PageNumber != i+1 {
			t.Errorf("page %d out of order: %+v", i, p)
		}
	}
}

func TestPages_NotFound(t *testing.T) {
	t.Parallel()
	r := openTestRegistry(t)

	if _, err := r.Pages(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddDocument_ReplacesExisting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := openTestRegistry(t)

	doc, pages := sampleDoc("d1", "old.pdf", 2)
	if err := r.AddDocument(ctx, doc, pages); err != nil {
		t.Fatal(err)
	}

	doc2 := Document{ID: "d1", Filename: "new.pdf", PageCount: 1}
	if err := r.AddDocument(ctx, doc2, []Page{{NodeID: "fresh", DocumentID: "d1", PageNumber: 1}}); err != nil {
		t.Fatalf("re-add failed: %v", err)
	}

	got, err := r.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Filename != "new.pdf" || got.PageCount != 1 {
		t.Errorf("document not replaced: %+v", got)
	}

	gotPages, err := r.Pages(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotPages) != 1 || gotPages[0].NodeID != "fresh" {
		t.Errorf("stale pages survived replacement: %+v", gotPages)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := openTestRegistry(t)

	doc, pages := sampleDoc("d1", "m.pdf", 2)
	if err := r.AddDocument(ctx, doc, pages); err != nil {
		t.Fatal(err)
	}

	deleted, err := r.Delete(ctx, "d1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("expected 2 deleted pages, got %d", len(deleted))
	}

	if _, err := r.Get(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("document should be gone, got %v", err)
	}
	if _, err := r.Delete(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete should return ErrNotFound, got %v", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := openTestRegistry(t)

	older := Document{ID: "d1", Filename: "a.pdf", PageCount: 1, CreatedAt: time.Now().Add(-time.Hour)}
	newer := Document{ID: "d2", Filename: "b.pdf", PageCount: 1, CreatedAt: time.Now()}
	if err := r.AddDocument(ctx, older, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.AddDocument(ctx, newer, nil); err != nil {
		t.Fatal(err)
	}

	docs, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].ID != "d2" {
		t.Errorf("expected newest first, got %q", docs[0].ID)
	}
}

func TestCountAndFilenameExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := openTestRegistry(t)

	n, err := r.Count(ctx)
	if err != nil || n != 0 {
		t.Fatalf("empty count: n=%d err=%v", n, err)
	}

	doc, pages := sampleDoc("d1", "m.pdf", 1)
	if err := r.AddDocument(ctx, doc, pages); err != nil {
		t.Fatal(err)
	}

	n, err = r.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count after add: n=%d err=%v", n, err)
	}

	exists, err := r.FilenameExists(ctx, "m.pdf")
	if err != nil || !exists {
		t.Errorf("m.pdf should exist: exists=%v err=%v", exists, err)
	}
	exists, err = r.FilenameExists(ctx, "other.pdf")
	if err != nil || exists {
		t.Errorf("other.pdf should not exist: exists=%v err=%v", exists, err)
	}
}
