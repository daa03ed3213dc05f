package asset

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dropstage/dropstage/backend-go/internal/typeid"
)

const maxUploadSize = 10 << 20 // 10MB

// Kind distinguishes the two upload sources: the product being placed and the
// scene photo it is placed into.
const (
	KindProduct = "product"
	KindScene   = "scene"
)

// UploadResponse is returned from the upload endpoint. Width and Height are
// the natural pixel dimensions the coordinate mapper needs.
type UploadResponse struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Kind   string `json:"kind"`
	Name   string `json:"name"`
}

// Handler serves asset upload and retrieval endpoints and hands payloads to
// the session layer.
type Handler struct {
	dir string // directory to store asset files

	defaultsOnce sync.Once
	defaults     *defaultsResponse
}

// NewHandler creates a new asset handler that stores files in dir.
func NewHandler(dir string) *Handler {
	// Ensure directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("create asset dir", "error", err, "dir", dir)
	}
	return &Handler{dir: dir}
}

// Upload handles POST /assets/upload (multipart form with "file" and "kind"
// fields). Images are normalized to PNG so every downstream consumer sees one
// format.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "file too large (max 10MB)", http.StatusBadRequest)
		return
	}

	kind := r.FormValue("kind")
	if kind != KindProduct && kind != KindScene {
		http.Error(w, `kind must be "product" or "scene"`, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// Validate content type
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/png") && !strings.HasPrefix(contentType, "image/jpeg") {
		http.Error(w, "only PNG and JPEG images are supported", http.StatusBadRequest)
		return
	}

	// Decode image to get natural dimensions (and to re-encode as PNG if JPEG)
	img, _, err := image.Decode(file)
	if err != nil {
		http.Error(w, "invalid image: "+err.Error(), http.StatusBadRequest)
		return
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	assetID := typeid.NewAssetID()
	if err := h.write(assetID, img); err != nil {
		slog.Error("save asset", "error", err)
		http.Error(w, "failed to save file", http.StatusInternalServerError)
		return
	}

	resp := UploadResponse{
		ID:     assetID,
		URL:    fmt.Sprintf("/assets/%s.png", assetID),
		Width:  width,
		Height: height,
		Kind:   kind,
		Name:   header.Filename,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// Serve returns an http.Handler that serves stored asset files with caching headers.
func (h *Handler) Serve() http.Handler {
	fs := http.FileServer(http.Dir(h.dir))
	return http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Asset IDs are unique, so files are immutable
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		fs.ServeHTTP(w, r)
	}))
}

// Read returns the stored PNG bytes for an asset, for handing to the
// compositing service or seeding a session history.
func (h *Handler) Read(assetID string) ([]byte, error) {
	if err := typeid.Validate(assetID, typeid.PrefixAsset); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(h.dir, assetID+".png"))
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", assetID, err)
	}
	return data, nil
}

// Delete removes an asset file from disk (for cleanup).
func (h *Handler) Delete(assetID string) error {
	path := filepath.Join(h.dir, assetID+".png")
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("asset not found: %s", assetID)
	}
	return nil
}

func (h *Handler) write(assetID string, img image.Image) error {
	filePath := filepath.Join(h.dir, assetID+".png")

	out, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create asset file: %w", err)
	}
	defer out.Close()

	if err := png.Encode(out, img); err != nil {
		os.Remove(filePath)
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}
