package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragmag/ragmag-go/internal/logging"
	"github.com/ragmag/ragmag-go/internal/registry"
)

// maxUploadBytes caps PDF uploads at 100 MB.
const maxUploadBytes = 100 << 20

// pdfMagic is the required leading bytes of an uploaded file.
var pdfMagic = []byte("%PDF")

// handleUpload handles POST /api/documents. The PDF is validated and saved
// synchronously, then indexed in the background: parsing alone can take
// minutes, so the client gets 202 Accepted with the assigned document ID
// immediately and polls GET /api/documents/{id} for completion.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	tmpPath, filename, ok := s.saveUpload(w, r)
	if !ok {
		return
	}

	docID := uuid.NewString()
	s.startIngest(docID, filename, tmpPath, func(ctx context.Context, path string) (registry.Document, error) {
		return s.ingestor.Add(ctx, path, docID)
	})

	writeJSON(w, http.StatusAccepted, uploadResponse{
		DocumentID: docID,
		Filename:   filename,
		Status:     "processing",
	})
}

// handleUpdateDocument handles PUT /api/documents/{id}: re-ingest a new PDF
// under an existing document ID. Like upload, the pipeline runs in the
// background after a 202.
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")

	// Reject unknown IDs before accepting the upload.
	if _, _, err := s.ingestor.Info(r.Context(), docID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found", docID)
			return
		}
		writeError(w, http.StatusInternalServerError, "registry lookup failed", err.Error())
		return
	}

	tmpPath, filename, ok := s.saveUpload(w, r)
	if !ok {
		return
	}

	s.startIngest(docID, filename, tmpPath, func(ctx context.Context, path string) (registry.Document, error) {
		return s.ingestor.Update(ctx, docID, path)
	})

	writeJSON(w, http.StatusAccepted, uploadResponse{
		DocumentID: docID,
		Filename:   filename,
		Status:     "processing",
	})
}

// saveUpload validates the multipart "file" field and writes it to a
// temporary file. On failure it writes the error response and returns
// ok=false.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (tmpPath, filename string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large", "uploads are limited to 100 MB")
			return "", "", false
		}
		writeError(w, http.StatusBadRequest, "multipart form field 'file' is required", "")
		return "", "", false
	}
	defer file.Close()

	filename = filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "only PDF files are supported", filename)
		return "", "", false
	}

	// Sniff the magic bytes — a .pdf extension on a non-PDF still fails parsing
	// minutes later, so reject it now.
	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(file, head); err != nil || !bytes.Equal(head, pdfMagic) {
		writeError(w, http.StatusBadRequest, "file is not a valid PDF", filename)
		return "", "", false
	}

	tmp, err := os.CreateTemp("", "ragmag-upload-*.pdf")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not store upload", err.Error())
		return "", "", false
	}
	if _, err := tmp.Write(head); err == nil {
		_, err = io.Copy(tmp, file)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		writeError(w, http.StatusInternalServerError, "could not store upload", err.Error())
		return "", "", false
	}

	return tmp.Name(), filename, true
}

// startIngest runs one ingest in the background, tracked by the shutdown
// waiter and the ingest metrics. The temp file is removed when done.
func (s *Server) startIngest(docID, filename, tmpPath string, run func(ctx context.Context, path string) (registry.Document, error)) {
	log := s.log.With(
		slog.String("document_id", docID),
		slog.String("filename", filename),
	)

	s.metrics.ingestActive.Inc()
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer s.metrics.ingestActive.Dec()
		defer os.Remove(tmpPath)

		// Detached from the request context: the 202 response has already
		// been sent and the ingest must outlive the connection.
		ctx := logging.WithLogger(context.Background(), log)

		start := time.Now()
		doc, err := run(ctx, tmpPath)
		s.metrics.ingestDurationSeconds.Observe(time.Since(start).Seconds())

		if err != nil {
			s.metrics.ingestRequestsTotal.WithLabelValues(outcomeError).Inc()
			log.Error("server: background ingest failed", slog.Any("error", err))
			return
		}

		s.metrics.ingestRequestsTotal.WithLabelValues(outcomeOK).Inc()
		log.Info("server: background ingest finished", slog.Int("pages", doc.PageCount))
		s.refreshDocumentsGauge(ctx)
	}()
}

// handleListDocuments handles GET /api/documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.ingestor.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list documents", err.Error())
		return
	}

	resp := documentListResponse{
		Documents: make([]documentResponse, 0, len(docs)),
		Total:     len(docs),
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, toDocumentResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetDocument handles GET /api/documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")

	doc, pages, err := s.ingestor.Info(r.Context(), docID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found", docID)
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load document", err.Error())
		return
	}

	resp := documentDetailResponse{
		documentResponse: toDocumentResponse(doc),
		Pages:            make([]pageResponse, 0, len(pages)),
	}
	for _, p := range pages {
		resp.Pages = append(resp.Pages, pageResponse{
			PageNumber:  p.PageNumber,
			ImagePath:   p.ImagePath,
			TextPreview: p.TextPreview,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteDocument handles DELETE /api/documents/{id}. Removal covers the
// vector store, the registry, and the stored screenshots.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")

	if err := s.ingestor.Delete(r.Context(), docID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found", docID)
			return
		}
		writeError(w, http.StatusInternalServerError, "could not delete document", err.Error())
		return
	}

	s.refreshDocumentsGauge(r.Context())
	writeJSON(w, http.StatusOK, deleteResponse{DocumentID: docID, Status: "deleted"})
}

// refreshDocumentsGauge updates the documents_indexed gauge from the registry.
// Gauge freshness is best-effort; failures are only logged.
func (s *Server) refreshDocumentsGauge(ctx context.Context) {
	count, err := s.ingestor.Count(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("server: document count failed", slog.Any("error", err))
		return
	}
	s.metrics.documentsIndexed.Set(float64(count))
}

// toDocumentResponse converts a registry document to its JSON form.
func toDocumentResponse(d registry.Document) documentResponse {
	return documentResponse{
		DocumentID: d.ID,
		Filename:   d.Filename,
		PageCount:  d.PageCount,
		CreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339),
	}
}
