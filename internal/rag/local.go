package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// LocalStore implements VectorStore with an in-memory index persisted to a
// single JSON file. It performs brute-force cosine search, which is fine for
// the intended scale (tens of manuals, a few thousand pages). For larger
// corpora use the Qdrant backend.
type LocalStore struct {
	mu sync.RWMutex

	// path is the JSON persistence file.
	path string

	// points maps node ID to its stored record.
	points map[string]*localPoint
}

// localPoint is the persisted form of one page and its embedding.
type localPoint struct {
	Doc       Document  `json:"doc"`
	Embedding []float32 `json:"embedding"`
}

// localFile is the on-disk JSON layout.
type localFile struct {
	Points map[string]*localPoint `json:"points"`
}

// NewLocalStore opens (or creates) a local vector store persisted at path.
// The parent directory is created if missing.
func NewLocalStore(path string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("local store: create directory: %w", err)
	}

	s := &LocalStore{
		path:   path,
		points: make(map[string]*localPoint),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("local store: read %s: %w", path, err)
	}

	var file localFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("local store: parse %s: %w", path, err)
	}
	if file.Points != nil {
		s.points = file.Points
	}

	return s, nil
}

// Upsert stores or updates a batch of pages with their embeddings and
// persists the index to disk.
func (s *LocalStore) Upsert(_ context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("local store: %d documents but %d embeddings", len(docs), len(embeddings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, doc := range docs {
		doc.Score = 0
		s.points[doc.ID] = &localPoint{Doc: doc, Embedding: embeddings[i]}
	}

	return s.saveLocked()
}

// Search performs a brute-force cosine similarity scan over all stored pages.
func (s *LocalStore) Search(_ context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		doc   Document
		score float32
	}

	results := make([]scored, 0, len(s.points))
	for _, p := range s.points {
		sim, ok := cosineSimilarity(queryEmbedding, p.Embedding)
		if !ok {
			continue
		}
		results = append(results, scored{doc: p.Doc, score: sim})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })

	if topK > len(results) {
		topK = len(results)
	}
	docs := make([]Document, 0, topK)
	for i := 0; i < topK; i++ {
		doc := results[i].doc
		doc.Score = results[i].score
		docs = append(docs, doc)
	}

	return docs, nil
}

// Delete removes pages by their node IDs and persists the index.
func (s *LocalStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.points, id)
	}

	return s.saveLocked()
}

// DeleteByDocument removes every page belonging to the given source document.
func (s *LocalStore) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.points {
		if p.Doc.DocumentID == documentID {
			delete(s.points, id)
		}
	}

	return s.saveLocked()
}

// Len returns the number of stored pages.
func (s *LocalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// Close persists the index one final time.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the index atomically: temp file in the same directory,
// then rename. Callers must hold s.mu.
func (s *LocalStore) saveLocked() error {
	data, err := json.Marshal(localFile{Points: s.points})
	if err != nil {
		return fmt.Errorf("local store: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("local store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("local store: rename: %w", err)
	}

	return nil
}

// cosineSimilarity returns the cosine of the angle between a and b.
// Returns false when the vectors differ in length or either has zero norm.
func cosineSimilarity(a, b []float32) (float32, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))), true
}
