package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ragmag/ragmag-go/internal/engine"
)

// postQuery sends a raw JSON body to POST /api/query.
func postQuery(ts *testServer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req)
}

func TestHandleQuery_OK(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.ask.answer = &engine.Answer{
		Text: "Fill the chamber with water.",
		Sources: []engine.Source{
			{DocumentID: "d1", Filename: "pump.pdf", PageNumber: 3, TextPreview: "Priming", Score: 0.9},
		},
		Elapsed: 1200 * time.Millisecond,
	}

	w := postQuery(ts, `{"query": "how do I prime the pump"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp queryResponse
	decodeJSON(t, w, &resp)
	if resp.Answer != "Fill the chamber with water." {
		t.Errorf("answer: got %q", resp.Answer)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].PageNumber != 3 {
		t.Errorf("sources: %+v", resp.Sources)
	}
	if resp.ElapsedMS != 1200 {
		t.Errorf("elapsed_ms: got %d", resp.ElapsedMS)
	}

	if ts.ask.gotQuery.Text != "how do I prime the pump" {
		t.Errorf("engine got query %q", ts.ask.gotQuery.Text)
	}
	if !ts.ask.gotQuery.IncludeImages {
		t.Error("include_images should default to true")
	}
	if ts.ask.gotQuery.TopK != 0 {
		t.Errorf("top_k should stay 0 (engine default), got %d", ts.ask.gotQuery.TopK)
	}
}

func TestHandleQuery_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty query", `{"query": ""}`},
		{"whitespace query", `{"query": "   "}`},
		{"query too long", `{"query": "` + strings.Repeat("q", 1001) + `"}`},
		{"top_k too large", `{"query": "q", "top_k": 21}`},
		{"top_k negative", `{"query": "q", "top_k": -1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestServer(t)
			w := postQuery(ts, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d — body: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestHandleQuery_TopKAndImageFlagForwarded(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	w := postQuery(ts, `{"query": "q", "top_k": 7, "include_images": false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	if ts.ask.gotQuery.TopK != 7 {
		t.Errorf("top_k: got %d", ts.ask.gotQuery.TopK)
	}
	if ts.ask.gotQuery.IncludeImages {
		t.Error("include_images: explicit false must be honored")
	}
}

func TestHandleQuery_NoResults(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.ask.err = engine.ErrNoResults

	w := postQuery(ts, `{"query": "anything"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp errorResponse
	decodeJSON(t, w, &resp)
	if resp.Error == "" {
		t.Error("expected a JSON error body")
	}
}

func TestHandleQuery_EngineError(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.ask.err = errors.New("model overloaded")

	w := postQuery(ts, `{"query": "anything"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
