package server

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// writePageImage stores a real JPEG screenshot for a document page and
// returns its path.
func writePageImage(t *testing.T, ts *testServer, docID string, page int, size int) string {
	t.Helper()

	dir, err := ts.imgs.DocumentDir(docID)
	if err != nil {
		t.Fatal(err)
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, fmt.Sprintf("page_%d.jpg", page))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHandlePageImage(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	writePageImage(t, ts, "d1", 1, 32)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/images/d1/1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	// The body must decode as an image.
	if _, _, err := image.Decode(bytes.NewReader(w.Body.Bytes())); err != nil {
		t.Errorf("response is not a decodable image: %v", err)
	}
}

func TestHandlePageImage_Thumbnail(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	writePageImage(t, ts, "d1", 1, 600)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/images/d1/1?thumb=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type: got %q", ct)
	}

	img, _, err := image.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("thumbnail not decodable: %v", err)
	}
	if img.Bounds().Dx() > 200 || img.Bounds().Dy() > 200 {
		t.Errorf("thumbnail too large: %v", img.Bounds())
	}
}

func TestHandlePageImage_NotFound(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/images/d1/9", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandlePageImage_BadPage(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/images/d1/zero", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleImageFile(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	writePageImage(t, ts, "d1", 2, 32)

	// Lookup by bare filename resolves through the document subdirectories.
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/images/file/page_2.jpg", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, _, err := image.Decode(bytes.NewReader(w.Body.Bytes())); err != nil {
		t.Errorf("response is not a decodable image: %v", err)
	}
}

func TestHandleImageFile_NotFound(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/images/file/page_9.jpg", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
