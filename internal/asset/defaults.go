package asset

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"net/http"

	"github.com/dropstage/dropstage/backend-go/internal/typeid"
)

// defaultsResponse pairs the two quick-start payloads.
type defaultsResponse struct {
	Product UploadResponse `json:"product"`
	Scene   UploadResponse `json:"scene"`
}

// Defaults handles GET /assets/defaults: a fixed product and scene pair for
// the quick-start path, synthesized once and stored like regular uploads so
// the rest of the pipeline cannot tell them apart.
func (h *Handler) Defaults(w http.ResponseWriter, r *http.Request) {
	h.defaultsOnce.Do(func() {
		resp, err := h.seedDefaults()
		if err == nil {
			h.defaults = resp
		}
	})

	if h.defaults == nil {
		http.Error(w, "defaults unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(h.defaults)
}

func (h *Handler) seedDefaults() (*defaultsResponse, error) {
	product := defaultProductImage()
	scene := defaultSceneImage()

	productID := typeid.NewAssetID()
	if err := h.write(productID, product); err != nil {
		return nil, fmt.Errorf("seed default product: %w", err)
	}
	sceneID := typeid.NewAssetID()
	if err := h.write(sceneID, scene); err != nil {
		return nil, fmt.Errorf("seed default scene: %w", err)
	}

	return &defaultsResponse{
		Product: UploadResponse{
			ID:     productID,
			URL:    fmt.Sprintf("/assets/%s.png", productID),
			Width:  product.Bounds().Dx(),
			Height: product.Bounds().Dy(),
			Kind:   KindProduct,
			Name:   "sample-product.png",
		},
		Scene: UploadResponse{
			ID:     sceneID,
			URL:    fmt.Sprintf("/assets/%s.png", sceneID),
			Width:  scene.Bounds().Dx(),
			Height: scene.Bounds().Dy(),
			Kind:   KindScene,
			Name:   "sample-scene.png",
		},
	}, nil
}

// defaultProductImage draws a simple vase shape on a transparent background.
func defaultProductImage() image.Image {
	const w, h = 256, 320
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	body := color.RGBA{R: 0xc2, G: 0x6b, B: 0x3c, A: 0xff}

	cx := float64(w) / 2
	for y := 0; y < h; y++ {
		t := float64(y) / float64(h)
		// Narrow neck widening into a round body.
		halfWidth := 24 + 80*t*(2-t)
		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			if dx > -halfWidth && dx < halfWidth {
				img.Set(x, y, body)
			}
		}
	}
	return img
}

// defaultSceneImage draws a wall-and-floor room gradient at 4:3.
func defaultSceneImage() image.Image {
	const w, h = 1024, 768
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	wallTop := color.RGBA{R: 0xe8, G: 0xe2, B: 0xd4, A: 0xff}
	floor := color.RGBA{R: 0x9b, G: 0x7b, B: 0x5a, A: 0xff}
	horizon := h * 2 / 3

	for y := 0; y < h; y++ {
		var c color.RGBA
		if y < horizon {
			t := float64(y) / float64(horizon)
			c = color.RGBA{
				R: uint8(float64(wallTop.R) * (1 - 0.15*t)),
				G: uint8(float64(wallTop.G) * (1 - 0.15*t)),
				B: uint8(float64(wallTop.B) * (1 - 0.15*t)),
				A: 0xff,
			}
		} else {
			c = floor
		}
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
