// Package ingestion orchestrates the document pipeline: parse a PDF into
// per-page markdown and screenshots, embed the page text, upsert vectors, and
// record the document in the registry. It is the single writer for all three
// stores, so vector points, registry rows, and image files stay keyed by the
// same node IDs.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/ragmag/ragmag-go/internal/images"
	"github.com/ragmag/ragmag-go/internal/parse"
	"github.com/ragmag/ragmag-go/internal/rag"
	"github.com/ragmag/ragmag-go/internal/registry"
)

// previewLen is the stored excerpt length of each page's text.
const previewLen = 200

// ErrNotFound is returned when a document ID is unknown.
var ErrNotFound = registry.ErrNotFound

// Config holds the collaborators and tuning for a Manager.
type Config struct {
	// Parser converts PDFs into per-page markdown and screenshots.
	Parser parse.Parser

	// Embedder converts page text into vectors.
	Embedder rag.Embedder

	// Store persists and searches page vectors.
	Store rag.VectorStore

	// Registry catalogs ingested documents.
	Registry registry.Registry

	// Images stores page screenshots on disk.
	Images *images.Manager

	// Logger receives pipeline progress. Defaults to slog.Default().
	Logger *slog.Logger

	// UpsertBatchSize caps how many pages are embedded and upserted per
	// request (default: 8). Page markdown runs long, so batches stay small.
	UpsertBatchSize int
}

// Manager runs the ingestion pipeline. Safe for concurrent use; concurrent
// ingests of the same document ID are not coordinated and last write wins.
type Manager struct {
	parser    parse.Parser
	embedder  rag.Embedder
	store     rag.VectorStore
	registry  registry.Registry
	images    *images.Manager
	log       *slog.Logger
	batchSize int
}

// NewManager constructs a Manager, validating that all collaborators are set.
func NewManager(cfg *Config) (*Manager, error) {
	switch {
	case cfg.Parser == nil:
		return nil, fmt.Errorf("ingestion: parser must not be nil")
	case cfg.Embedder == nil:
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	case cfg.Store == nil:
		return nil, fmt.Errorf("ingestion: store must not be nil")
	case cfg.Registry == nil:
		return nil, fmt.Errorf("ingestion: registry must not be nil")
	case cfg.Images == nil:
		return nil, fmt.Errorf("ingestion: image manager must not be nil")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	batch := cfg.UpsertBatchSize
	if batch <= 0 {
		batch = 8
	}

	return &Manager{
		parser:    cfg.Parser,
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		registry:  cfg.Registry,
		images:    cfg.Images,
		log:       log,
		batchSize: batch,
	}, nil
}

// Add ingests the PDF at path under the given document ID. An empty docID
// generates a fresh UUID. Returns the registry record of the new document.
func (m *Manager) Add(ctx context.Context, path, docID string) (registry.Document, error) {
	if docID == "" {
		docID = uuid.NewString()
	}
	filename := filepath.Base(path)
	start := time.Now()

	m.log.Info("ingestion: parsing document",
		slog.String("document_id", docID),
		slog.String("filename", filename),
	)

	result, err := m.parser.Parse(ctx, path)
	if err != nil {
		return registry.Document{}, fmt.Errorf("ingestion: parse %s: %w", filename, err)
	}
	if len(result.Pages) == 0 {
		return registry.Document{}, fmt.Errorf("ingestion: %s parsed to zero pages", filename)
	}

	docs, err := m.buildPageDocs(ctx, docID, filename, result)
	if err != nil {
		return registry.Document{}, err
	}

	if err := m.embedAndUpsert(ctx, docs); err != nil {
		return registry.Document{}, err
	}

	doc := registry.Document{
		ID:        docID,
		Filename:  filename,
		PageCount: len(docs),
		CreatedAt: time.Now(),
	}
	pages := make([]registry.Page, 0, len(docs))
	for _, d := range docs {
		pages = append(pages, registry.Page{
			NodeID:      d.ID,
			DocumentID:  docID,
			PageNumber:  d.PageNumber,
			ImagePath:   d.ImagePath,
			TextPreview: preview(d.Content),
		})
	}
	if err := m.registry.AddDocument(ctx, doc, pages); err != nil {
		return registry.Document{}, fmt.Errorf("ingestion: register %s: %w", filename, err)
	}

	m.log.Info("ingestion: document indexed",
		slog.String("document_id", docID),
		slog.String("filename", filename),
		slog.Int("pages", len(docs)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return doc, nil
}

// buildPageDocs converts parse output into page documents, downloading the
// first screenshot of each page into the image store.
func (m *Manager) buildPageDocs(ctx context.Context, docID, filename string, result *parse.Result) ([]rag.Document, error) {
	docs := make([]rag.Document, 0, len(result.Pages))
	for _, page := range result.Pages {
		doc := rag.Document{
			ID:         uuid.NewString(),
			DocumentID: docID,
			Filename:   filename,
			PageNumber: page.Number,
			Content:    page.Markdown,
		}

		// One screenshot per page is enough for prompting; the service
		// names it first.
		if len(page.Images) > 0 {
			imgPath, err := m.downloadImage(ctx, docID, result.JobID, page.Images[0], page.Number)
			if err != nil {
				// A missing screenshot degrades answers but should not fail
				// the whole ingest.
				m.log.Warn("ingestion: screenshot download failed",
					slog.String("document_id", docID),
					slog.Int("page", page.Number),
					slog.String("error", err.Error()),
				)
			} else {
				doc.ImagePath = imgPath
			}
		}

		docs = append(docs, doc)
	}
	return docs, nil
}

// downloadImage streams one page screenshot into the image store, renaming it
// to the conventional page_<n> name with the original extension.
func (m *Manager) downloadImage(ctx context.Context, docID, jobID, name string, pageNumber int) (string, error) {
	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".jpg"
	}
	stored := fmt.Sprintf("page_%d%s", pageNumber, ext)

	f, path, err := m.images.Create(docID, stored)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := m.parser.DownloadImage(ctx, jobID, name, f); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// embedAndUpsert embeds page text and writes vectors in batches. Screenshots
// never enter the embedding input.
func (m *Manager) embedAndUpsert(ctx context.Context, docs []rag.Document) error {
	for start := 0; start < len(docs); start += m.batchSize {
		end := start + m.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}

		embeddings, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("ingestion: embed pages %d-%d: %w", batch[0].PageNumber, batch[len(batch)-1].PageNumber, err)
		}

		if err := m.store.Upsert(ctx, batch, embeddings); err != nil {
			return fmt.Errorf("ingestion: upsert pages %d-%d: %w", batch[0].PageNumber, batch[len(batch)-1].PageNumber, err)
		}
	}
	return nil
}

// Delete removes a document everywhere: vector store, image directory, and
// registry. Returns ErrNotFound for unknown IDs.
//
// The registry row is removed last and vector/image cleanup failures only log
// a warning: a stray vector is harmless drift, but a registry row deleted
// before its vectors would make the orphans unfindable on retry.
func (m *Manager) Delete(ctx context.Context, docID string) error {
	pages, err := m.registry.Pages(ctx, docID)
	if err != nil {
		return err
	}

	if err := m.store.DeleteByDocument(ctx, docID); err != nil {
		nodeIDs := make([]string, len(pages))
		for i, p := range pages {
			nodeIDs[i] = p.NodeID
		}
		if fbErr := m.store.Delete(ctx, nodeIDs); fbErr != nil {
			m.log.Warn("ingestion: vector cleanup failed, continuing delete",
				slog.String("document_id", docID),
				slog.Any("error", err),
				slog.Any("fallback_error", fbErr),
			)
		}
	}

	removed, err := m.images.DeleteDocument(docID)
	if err != nil {
		m.log.Warn("ingestion: image cleanup failed, continuing delete",
			slog.String("document_id", docID),
			slog.Any("error", err),
		)
	}

	if _, err := m.registry.Delete(ctx, docID); err != nil {
		return err
	}

	m.log.Info("ingestion: document deleted",
		slog.String("document_id", docID),
		slog.Int("pages", len(pages)),
		slog.Int("images_removed", removed),
	)

	return nil
}

// Update re-ingests a document under its existing ID: delete everything, then
// add the new PDF. Returns ErrNotFound when the ID is unknown.
func (m *Manager) Update(ctx context.Context, docID, path string) (registry.Document, error) {
	if err := m.Delete(ctx, docID); err != nil {
		return registry.Document{}, err
	}
	return m.Add(ctx, path, docID)
}

// List returns all registered documents, newest first.
func (m *Manager) List(ctx context.Context) ([]registry.Document, error) {
	return m.registry.List(ctx)
}

// Info returns a document and its page records.
func (m *Manager) Info(ctx context.Context, docID string) (registry.Document, []registry.Page, error) {
	doc, err := m.registry.Get(ctx, docID)
	if err != nil {
		return registry.Document{}, nil, err
	}
	pages, err := m.registry.Pages(ctx, docID)
	if err != nil {
		return registry.Document{}, nil, err
	}
	return doc, pages, nil
}

// Count returns the number of registered documents.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.registry.Count(ctx)
}

// BatchResult reports the outcome of one file in a batch ingest.
type BatchResult struct {
	// Path is the source PDF path.
	Path string
	// DocumentID is the assigned document ID (empty when skipped or failed).
	DocumentID string
	// Pages is the number of indexed pages.
	Pages int
	// Skipped is true when the file was already ingested and skipping was requested.
	Skipped bool
	// Err is the ingest error, nil on success or skip.
	Err error
}

// BatchIngest ingests every *.pdf file in dir using a bounded worker pool.
// When skipExisting is true, files whose names already appear in the registry
// are skipped. Per-file failures are isolated: the batch continues and each
// file's outcome is reported in the returned slice, ordered by path.
func (m *Manager) BatchIngest(ctx context.Context, dir string, workers int, skipExisting bool) ([]BatchResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return nil, fmt.Errorf("ingestion: scan %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, nil
	}
	sort.Strings(paths)

	if workers <= 0 {
		workers = 2
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("ingestion: worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]BatchResult, len(paths))
	var wg sync.WaitGroup

	for i, path := range paths {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			results[i] = m.ingestOne(ctx, path, skipExisting)
		})
		if submitErr != nil {
			wg.Done()
			results[i] = BatchResult{Path: path, Err: fmt.Errorf("ingestion: submit %s: %w", path, submitErr)}
		}
	}
	wg.Wait()

	return results, nil
}

// ingestOne handles a single file of a batch, honoring the skip-existing rule.
func (m *Manager) ingestOne(ctx context.Context, path string, skipExisting bool) BatchResult {
	res := BatchResult{Path: path}

	if skipExisting {
		exists, err := m.registry.FilenameExists(ctx, filepath.Base(path))
		if err != nil {
			res.Err = err
			return res
		}
		if exists {
			res.Skipped = true
			m.log.Info("ingestion: skipping already indexed file", slog.String("filename", filepath.Base(path)))
			return res
		}
	}

	doc, err := m.Add(ctx, path, "")
	if err != nil {
		res.Err = err
		m.log.Error("ingestion: batch file failed",
			slog.String("filename", filepath.Base(path)),
			slog.String("error", err.Error()),
		)
		return res
	}

	res.DocumentID = doc.ID
	res.Pages = doc.PageCount
	return res
}

// preview returns the first previewLen characters of s with newlines
// collapsed, for registry listings.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > previewLen {
		return s[:previewLen]
	}
	return s
}

