package session

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/dropstage/dropstage/backend-go/internal/compose"
)

func newTestRouter(svc *Service) *mux.Router {
	h := NewHandler(svc)

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", h.Create).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}", h.Get).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}", h.Delete).Methods("DELETE")
	api.HandleFunc("/sessions/{sessionId}/product", h.SetProduct).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/rotation", h.SetRotation).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/place", h.Place).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/undo", h.Undo).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/redo", h.Redo).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/reset", h.Reset).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/states/{index}/image", h.StateImage).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/states/{index}/thumbnail", h.StateThumbnail).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/states/{index}/debug", h.DebugImage).Methods("GET")
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSessionLifecycle(t *testing.T) {
	composer := &fakeComposer{result: &compose.Result{
		FinalImage:  pngBytes(t, 200, 100, color.RGBA{0xff, 0, 0, 0xff}),
		FinalPrompt: "place the lamp",
	}}
	svc, _ := newTestService(t, composer)
	router := newTestRouter(svc)

	// Create a second session over HTTP.
	rec := doJSON(t, router, http.MethodPost, "/api/sessions", createRequest{SceneAssetID: "asset_scene"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	id := snap.SessionID
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("session ID = %q", id)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/product",
		productRequest{ProductAssetID: "asset_product", ProductLabel: "lamp"})
	if rec.Code != http.StatusOK {
		t.Fatalf("product status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/place", centerPlace)
	if rec.Code != http.StatusOK {
		t.Fatalf("place status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result PlaceResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Placed || result.Snapshot.StateCount != 2 {
		t.Fatalf("place result = %+v", result)
	}

	// The current composite is servable.
	rec = doJSON(t, router, http.MethodGet, "/api/sessions/"+id+"/states/1/image", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("image status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/undo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("undo status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.StateIndex != 0 || !snap.CanRedo {
		t.Errorf("after undo: %+v", snap)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestHandlerUnknownSession(t *testing.T) {
	composer := &fakeComposer{}
	svc, _ := newTestService(t, composer)
	router := newTestRouter(svc)

	rec := doJSON(t, router, http.MethodGet, "/api/sessions/sess_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerLetterboxDropReturnsNotPlaced(t *testing.T) {
	composer := &fakeComposer{}
	svc, id := newTestService(t, composer)
	router := newTestRouter(svc)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/place", PlaceRequest{
		PointerX: 150, PointerY: 10,
		ContainerWidth: 300, ContainerHeight: 300,
		NaturalWidth: 200, NaturalHeight: 100,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for silent rejection", rec.Code)
	}
	var result PlaceResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Placed {
		t.Error("letterbox drop must report placed=false")
	}
}

func TestHandlerDegenerateGeometry(t *testing.T) {
	composer := &fakeComposer{}
	svc, id := newTestService(t, composer)
	router := newTestRouter(svc)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/place", PlaceRequest{
		ContainerWidth: 0, ContainerHeight: 0,
		NaturalWidth: 200, NaturalHeight: 100,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerCollaboratorFailure(t *testing.T) {
	composer := &fakeComposer{err: &compose.APIError{StatusCode: 503, Message: "model overloaded"}}
	svc, id := newTestService(t, composer)
	router := newTestRouter(svc)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/place", centerPlace)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "model overloaded" {
		t.Errorf("error = %q, want the collaborator's message", body["error"])
	}
}

func TestHandlerBusyConflict(t *testing.T) {
	composer := &fakeComposer{
		result:  &compose.Result{FinalImage: []byte("img"), FinalPrompt: "p"},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	svc, id := newTestService(t, composer)
	router := newTestRouter(svc)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Place(context.Background(), id, centerPlace)
		done <- err
	}()
	<-composer.started

	rec := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/place", centerPlace)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}

	close(composer.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestHandlerMissingDebugArtifact(t *testing.T) {
	composer := &fakeComposer{}
	svc, id := newTestService(t, composer)
	router := newTestRouter(svc)

	// Entry 0 is the raw upload and never has a debug artifact.
	rec := doJSON(t, router, http.MethodGet, "/api/sessions/"+id+"/states/0/debug", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerCreateRequiresScene(t *testing.T) {
	composer := &fakeComposer{}
	svc, _ := newTestService(t, composer)
	router := newTestRouter(svc)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", createRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
