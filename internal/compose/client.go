package compose

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/dropstage/dropstage/backend-go/internal/placement"
)

// ErrBadImage means the service answered success but the returned composite
// could not be decoded as an image.
var ErrBadImage = errors.New("compositing service returned an unparseable image")

// APIError is a rejection from the compositing service, carrying its
// human-readable message for display to the user.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("compositing service: %s (status %d)", e.Message, e.StatusCode)
}

// Request describes a single placement to composite.
type Request struct {
	ProductImage    []byte
	ProductLabel    string
	SceneImage      []byte
	SceneLabel      string
	Position        placement.RelativePosition
	RotationDegrees int
}

// Result is a successful composite. FinalImage is validated PNG/JPEG bytes;
// DebugImage may be nil when the service omits it.
type Result struct {
	FinalImage  []byte
	DebugImage  []byte
	FinalPrompt string
}

// Client calls the external AI compositing service. Each Composite call is a
// single attempt: there is no retry or backoff, and a failure leaves the
// caller free to submit the same placement again.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the compositing service at baseURL. The timeout
// bounds the whole request including response body transfer.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type compositeResponse struct {
	FinalImage  string `json:"finalImage"`
	DebugImage  string `json:"debugImage,omitempty"`
	FinalPrompt string `json:"finalPrompt"`
	Error       string `json:"error,omitempty"`
}

// Composite submits one placement and returns the validated composite.
func (c *Client) Composite(ctx context.Context, req Request) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	productPart, err := mw.CreateFormFile("product", "product.png")
	if err != nil {
		return nil, fmt.Errorf("create product part: %w", err)
	}
	if _, err := productPart.Write(req.ProductImage); err != nil {
		return nil, fmt.Errorf("write product part: %w", err)
	}

	scenePart, err := mw.CreateFormFile("scene", "scene.png")
	if err != nil {
		return nil, fmt.Errorf("create scene part: %w", err)
	}
	if _, err := scenePart.Write(req.SceneImage); err != nil {
		return nil, fmt.Errorf("write scene part: %w", err)
	}

	fields := map[string]string{
		"productLabel":    req.ProductLabel,
		"sceneLabel":      req.SceneLabel,
		"xPercent":        strconv.FormatFloat(req.Position.XPercent, 'f', -1, 64),
		"yPercent":        strconv.FormatFloat(req.Position.YPercent, 'f', -1, 64),
		"rotationDegrees": strconv.Itoa(req.RotationDegrees),
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call compositing service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	var parsed compositeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	finalImage, err := base64.StdEncoding.DecodeString(parsed.FinalImage)
	if err != nil {
		return nil, fmt.Errorf("decode final image: %w", ErrBadImage)
	}

	// Validate before the result can reach the history.
	if _, _, err := image.Decode(bytes.NewReader(finalImage)); err != nil {
		return nil, fmt.Errorf("validate final image: %w", ErrBadImage)
	}

	result := &Result{
		FinalImage:  finalImage,
		FinalPrompt: parsed.FinalPrompt,
	}

	if parsed.DebugImage != "" {
		// The debug image is inspection-only; a broken one is dropped
		// rather than failing the whole composite.
		if debugImage, err := base64.StdEncoding.DecodeString(parsed.DebugImage); err == nil {
			result.DebugImage = debugImage
		}
	}

	return result, nil
}

// errorMessage pulls a human-readable message out of an error response body,
// falling back to the raw body.
func errorMessage(body []byte) string {
	var parsed compositeResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	msg := string(body)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if msg == "" {
		msg = "unknown error"
	}
	return msg
}
