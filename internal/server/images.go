package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ragmag/ragmag-go/internal/logging"
)

// handlePageImage handles GET /api/images/{docID}/{page}: serve the stored
// screenshot of one document page. With ?thumb=1 a small JPEG thumbnail is
// returned instead of the full screenshot.
func (s *Server) handlePageImage(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("docID")
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be a positive integer", r.PathValue("page"))
		return
	}

	path, ok := s.images.PagePath(docID, page)
	if !ok {
		writeError(w, http.StatusNotFound, "no screenshot for this page", "")
		return
	}

	s.serveImage(w, r, path)
}

// handleImageFile handles GET /api/images/file/{filename}: serve a screenshot
// by its stored filename, located anywhere under the image directory. The UI
// uses this for image paths returned in query sources.
func (s *Server) handleImageFile(w http.ResponseWriter, r *http.Request) {
	path, ok := s.images.Resolve(r.PathValue("filename"))
	if !ok {
		writeError(w, http.StatusNotFound, "image not found", "")
		return
	}

	s.serveImage(w, r, path)
}

// serveImage writes the image file, or its thumbnail when ?thumb=1.
func (s *Server) serveImage(w http.ResponseWriter, r *http.Request, path string) {
	if r.URL.Query().Get("thumb") != "1" {
		http.ServeFile(w, r, path)
		return
	}

	data, err := s.images.Thumbnail(path)
	if err != nil {
		log := logging.FromContext(r.Context())
		log.Error("server: thumbnail failed", slog.String("path", path), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not render thumbnail", "")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data) //nolint:errcheck // client disconnects are not actionable
}
