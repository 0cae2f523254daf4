// Package images manages page screenshots on local disk. Screenshots arrive
// from the parsing service during ingestion and are stored per document; at
// query time they are resized, JPEG-encoded, and inlined into multimodal
// prompts as base64 data URIs.
package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder for screenshots served as PNG
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// Encoding limits. Prompt images are downscaled so a multi-page answer prompt
// stays within model request size limits.
const (
	// promptMaxDim is the longest edge of an image inlined into a prompt.
	promptMaxDim = 800
	// promptJPEGQuality trades size for legibility of diagrams and tables.
	promptJPEGQuality = 60

	// thumbMaxDim is the longest edge of a UI thumbnail.
	thumbMaxDim = 200
	// thumbJPEGQuality keeps thumbnails crisp at small sizes.
	thumbJPEGQuality = 85
)

// Manager stores and serves page screenshots under a single base directory,
// one subdirectory per document ID.
type Manager struct {
	// baseDir is the root image directory (IMAGE_DIR).
	baseDir string
}

// NewManager constructs a Manager rooted at baseDir, creating it if missing.
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("images: create %s: %w", baseDir, err)
	}
	return &Manager{baseDir: baseDir}, nil
}

// BaseDir returns the root image directory.
func (m *Manager) BaseDir() string { return m.baseDir }

// DocumentDir returns the screenshot directory for a document, creating it if
// missing.
func (m *Manager) DocumentDir(documentID string) (string, error) {
	dir := filepath.Join(m.baseDir, documentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("images: create %s: %w", dir, err)
	}
	return dir, nil
}

// Create opens a new screenshot file for writing inside the document's
// directory and returns the file plus its final path.
func (m *Manager) Create(documentID, name string) (*os.File, string, error) {
	dir, err := m.DocumentDir(documentID)
	if err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("images: create %s: %w", path, err)
	}
	return f, path, nil
}

// DeleteDocument removes a document's screenshot directory and returns how
// many files were deleted. A missing directory is not an error.
func (m *Manager) DeleteDocument(documentID string) (int, error) {
	dir := filepath.Join(m.baseDir, documentID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("images: read %s: %w", dir, err)
	}

	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			count++
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("images: remove %s: %w", dir, err)
	}
	return count, nil
}

// Resolve maps a stored image reference to an existing file on disk.
// Paths recorded at ingest time are tried as-is first; if the base directory
// has since moved, the file is located by name directly under the base
// directory and then inside each document subdirectory.
func (m *Manager) Resolve(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}

	if fileExists(ref) {
		return ref, true
	}

	name := filepath.Base(ref)
	direct := filepath.Join(m.baseDir, name)
	if fileExists(direct) {
		return direct, true
	}

	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(m.baseDir, e.Name(), name)
		if fileExists(candidate) {
			return candidate, true
		}
	}

	return "", false
}

// PagePath returns the stored screenshot path for a document page by scanning
// the document directory for the conventional "page_<n>" name prefix.
func (m *Manager) PagePath(documentID string, pageNumber int) (string, bool) {
	dir := filepath.Join(m.baseDir, documentID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	prefix := fmt.Sprintf("page_%d.", pageNumber)
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

// EncodeBase64 reads an image file, downscales it to promptMaxDim on the
// longest edge, and returns it as a JPEG base64 data URI suitable for
// inlining into a multimodal prompt.
func (m *Manager) EncodeBase64(path string) (string, error) {
	return encodeDataURI(path, promptMaxDim, promptJPEGQuality)
}

// Thumbnail reads an image file and returns small JPEG bytes for UI listings.
func (m *Manager) Thumbnail(path string) ([]byte, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(resize(img, thumbMaxDim), thumbJPEGQuality)
}

// encodeDataURI is the shared resize-encode-base64 path.
func encodeDataURI(path string, maxDim, quality int) (string, error) {
	img, err := decodeFile(path)
	if err != nil {
		return "", err
	}

	data, err := encodeJPEG(resize(img, maxDim), quality)
	if err != nil {
		return "", err
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// decodeFile opens and decodes an image file (JPEG or PNG).
func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("images: open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("images: decode %s: %w", path, err)
	}
	return img, nil
}

// resize scales img down so its longest edge is at most maxDim, preserving
// aspect ratio. Images already within bounds are returned unchanged.
func resize(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = h * maxDim / w
	} else {
		nh = maxDim
		nw = w * maxDim / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// encodeJPEG encodes img as JPEG at the given quality.
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("images: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fileExists reports whether path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
