package compose

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropstage/dropstage/backend-go/internal/placement"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCompositeSuccess(t *testing.T) {
	final := pngBytes(t, 4, 2)
	debug := pngBytes(t, 2, 2)

	var gotFields map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotFields = map[string]string{
			"productLabel":    r.FormValue("productLabel"),
			"sceneLabel":      r.FormValue("sceneLabel"),
			"xPercent":        r.FormValue("xPercent"),
			"yPercent":        r.FormValue("yPercent"),
			"rotationDegrees": r.FormValue("rotationDegrees"),
		}
		if _, _, err := r.FormFile("product"); err != nil {
			t.Errorf("missing product part: %v", err)
		}
		if _, _, err := r.FormFile("scene"); err != nil {
			t.Errorf("missing scene part: %v", err)
		}

		json.NewEncoder(w).Encode(map[string]string{
			"finalImage":  base64.StdEncoding.EncodeToString(final),
			"debugImage":  base64.StdEncoding.EncodeToString(debug),
			"finalPrompt": "place the lamp on the table",
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key", 5*time.Second)
	result, err := client.Composite(context.Background(), Request{
		ProductImage:    pngBytes(t, 1, 1),
		ProductLabel:    "lamp",
		SceneImage:      pngBytes(t, 3, 3),
		SceneLabel:      "living room",
		Position:        placement.RelativePosition{XPercent: 50, YPercent: 25},
		RotationDegrees: 90,
	})
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(result.FinalImage, final) {
		t.Error("final image does not match service payload")
	}
	if !bytes.Equal(result.DebugImage, debug) {
		t.Error("debug image does not match service payload")
	}
	if result.FinalPrompt != "place the lamp on the table" {
		t.Errorf("finalPrompt = %q", result.FinalPrompt)
	}

	want := map[string]string{
		"productLabel":    "lamp",
		"sceneLabel":      "living room",
		"xPercent":        "50",
		"yPercent":        "25",
		"rotationDegrees": "90",
	}
	for k, v := range want {
		if gotFields[k] != v {
			t.Errorf("field %s = %q, want %q", k, gotFields[k], v)
		}
	}
}

func TestCompositeServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "scene too dark to composite"})
	}))
	defer srv.Close()

	client := New(srv.URL, "", 5*time.Second)
	_, err := client.Composite(context.Background(), Request{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d, want 422", apiErr.StatusCode)
	}
	if apiErr.Message != "scene too dark to composite" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestCompositeUnparseableImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"finalImage":  base64.StdEncoding.EncodeToString([]byte("not a png")),
			"finalPrompt": "p",
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "", 5*time.Second)
	_, err := client.Composite(context.Background(), Request{})
	if !errors.Is(err, ErrBadImage) {
		t.Fatalf("err = %v, want ErrBadImage", err)
	}
}

func TestCompositeBrokenDebugImageIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"finalImage":  base64.StdEncoding.EncodeToString(pngBytes(t, 2, 2)),
			"debugImage":  "%%% not base64 %%%",
			"finalPrompt": "p",
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "", 5*time.Second)
	result, err := client.Composite(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if result.DebugImage != nil {
		t.Error("broken debug image should be dropped, not kept")
	}
}

func TestCompositeSendsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{
			"finalImage":  base64.StdEncoding.EncodeToString(pngBytes(t, 1, 1)),
			"finalPrompt": "p",
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "secret", 5*time.Second)
	if _, err := client.Composite(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", gotAuth)
	}
}
