// Package rag defines the interfaces for retrieval-augmented generation
// components: vector storage, page retrieval, and embedding.
// Concrete implementations (Qdrant, local JSON) satisfy these interfaces so
// the query engine never depends on a specific backend.
package rag

import (
	"context"
)

// Document represents one parsed manual page stored in the vector index.
// Each page of a source PDF becomes exactly one Document.
type Document struct {
	// ID is the unique node identifier for this page. The same ID keys the
	// vector store point and the registry page row.
	ID string

	// DocumentID identifies the source PDF this page belongs to.
	DocumentID string

	// Filename is the original name of the source PDF.
	Filename string

	// PageNumber is the 1-based page index within the source PDF.
	PageNumber int

	// Content is the parsed markdown text of the page. Page screenshots are
	// stored on disk and referenced by ImagePath — never embedded here.
	Content string

	// ImagePath is the stored page screenshot path, empty when the parse
	// produced no image for this page.
	ImagePath string

	// Score is the similarity score assigned during retrieval (0.0–1.0).
	// Zero value means the score was not computed.
	Score float32
}

// VectorStore is the interface for persisting and searching page embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of pages with their pre-computed
	// embeddings. The embeddings slice must be parallel to docs —
	// embeddings[i] is the vector for docs[i].
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search performs a semantic similarity search and returns the top-k
	// most relevant pages for the given query embedding.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error)

	// Delete removes pages by their node IDs.
	Delete(ctx context.Context, ids []string) error

	// DeleteByDocument removes every page belonging to the given source document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the high-level interface used by the query engine to fetch
// relevant pages for a given query. It combines embedding and vector search.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the top-k most relevant pages for the given query.
	Retrieve(ctx context.Context, query string, topK int) ([]Document, error)
}
