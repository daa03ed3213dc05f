package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dropstage/dropstage/backend-go/internal/compose"
	"github.com/dropstage/dropstage/backend-go/internal/placement"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	SceneAssetID string `json:"sceneAssetId"`
	SceneLabel   string `json:"sceneLabel"`
}

type productRequest struct {
	ProductAssetID string `json:"productAssetId"`
	ProductLabel   string `json:"productLabel"`
}

type rotationRequest struct {
	Degrees int `json:"degrees"`
}

type resetRequest struct {
	SceneAssetID string `json:"sceneAssetId"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.SceneAssetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sceneAssetId is required"})
		return
	}

	snap, err := h.service.Create(req.SceneAssetID, req.SceneLabel)
	if err != nil {
		slog.Error("create session failed", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scene asset not found"})
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	snap, err := h.service.Get(sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	if err := h.service.Delete(sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetProduct(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.ProductAssetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "productAssetId is required"})
		return
	}

	snap, err := h.service.SetProduct(sessionID, req.ProductAssetID, req.ProductLabel)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) SetRotation(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	var req rotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	snap, err := h.service.SetRotation(sessionID, req.Degrees)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	var req PlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.service.Place(r.Context(), sessionID, req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	snap, err := h.service.Undo(sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) Redo(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	snap, err := h.service.Redo(sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	var req resetRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	snap, err := h.service.ResetScene(sessionID, req.SceneAssetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) StateImage(w http.ResponseWriter, r *http.Request) {
	h.serveStatePNG(w, r, h.service.StateImage)
}

func (h *Handler) StateThumbnail(w http.ResponseWriter, r *http.Request) {
	h.serveStatePNG(w, r, h.service.StateThumbnail)
}

func (h *Handler) DebugImage(w http.ResponseWriter, r *http.Request) {
	h.serveStatePNG(w, r, h.service.DebugImage)
}

func (h *Handler) serveStatePNG(w http.ResponseWriter, r *http.Request, fetch func(string, int) ([]byte, error)) {
	vars := mux.Vars(r)
	sessionID := vars["sessionId"]

	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid state index"})
		return
	}

	data, err := fetch(sessionID, index)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	// History entries are immutable once created.
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="composite-%d.png"`, index))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *compose.APIError

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoState):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a generation is already in flight"})
	case errors.Is(err, ErrNoProduct):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no product selected"})
	case errors.Is(err, placement.ErrDegenerateGeometry):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "container has no layout yet"})
	case errors.As(err, &apiErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": apiErr.Message})
	case errors.Is(err, compose.ErrBadImage):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "compositing service returned an unusable image"})
	default:
		slog.Error("service error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
