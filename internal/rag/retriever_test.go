package rag

import (
	"context"
	"errors"
	"testing"
)

// fakeEmbedder returns a fixed vector for any input.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

// fakeStore records the Search call and returns canned results.
type fakeStore struct {
	gotTopK int
	results []Document
	err     error
}

func (f *fakeStore) Upsert(context.Context, []Document, [][]float32) error { return nil }
func (f *fakeStore) Delete(context.Context, []string) error                { return nil }
func (f *fakeStore) DeleteByDocument(context.Context, string) error        { return nil }
func (f *fakeStore) Close() error                                          { return nil }

func (f *fakeStore) Search(_ context.Context, _ []float32, topK int) ([]Document, error) {
	f.gotTopK = topK
	return f.results, f.err
}

func TestNewRetriever_NilArgs(t *testing.T) {
	t.Parallel()

	if _, err := NewRetriever(nil, &fakeStore{}, 3); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewRetriever(&fakeEmbedder{}, nil, 3); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestRetrieve_UsesDefaultTopK(t *testing.T) {
	t.Parallel()

	store := &fakeStore{results: []Document{{ID: "n1"}}}
	r, err := NewRetriever(&fakeEmbedder{vec: []float32{1}}, store, 7)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Retrieve(context.Background(), "how do I reset it", 0); err != nil {
		t.Fatal(err)
	}
	if store.gotTopK != 7 {
		t.Errorf("topK: got %d, want default 7", store.gotTopK)
	}

	if _, err := r.Retrieve(context.Background(), "q", 2); err != nil {
		t.Fatal(err)
	}
	if store.gotTopK != 2 {
		t.Errorf("topK: got %d, want explicit 2", store.gotTopK)
	}
}

func TestRetrieve_EmbedderError(t *testing.T) {
	t.Parallel()

	r, err := NewRetriever(&fakeEmbedder{err: errors.New("boom")}, &fakeStore{}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Retrieve(context.Background(), "q", 3); err == nil {
		t.Fatal("expected embedder error to propagate")
	}
}

func TestRetrieve_StoreError(t *testing.T) {
	t.Parallel()

	r, err := NewRetriever(&fakeEmbedder{vec: []float32{1}}, &fakeStore{err: errors.New("down")}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Retrieve(context.Background(), "q", 3); err == nil {
		t.Fatal("expected store error to propagate")
	}
}
