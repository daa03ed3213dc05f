package session

import (
	"encoding/json"

	"github.com/dropstage/dropstage/backend-go/internal/placement"
)

type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

const (
	TypeWelcome     = "welcome"
	TypeStateUpdate = "state.update"
	TypeError       = "error"
)

// Snapshot is what the rendering surface needs at any moment: the current
// entry's image, marker, debug artifact, and the undo/redo affordances.
// Image payloads are referenced by URL rather than inlined; the browser
// fetches them from the state endpoints.
type Snapshot struct {
	SessionID       string           `json:"sessionId"`
	SceneAssetID    string           `json:"sceneAssetId"`
	ProductAssetID  string           `json:"productAssetId,omitempty"`
	RotationDegrees int              `json:"rotationDegrees"`
	StateIndex      int              `json:"stateIndex"`
	StateCount      int              `json:"stateCount"`
	ImageURL        string           `json:"imageUrl,omitempty"`
	ThumbnailURLs   []string         `json:"thumbnailUrls"`
	Marker          *placement.Point `json:"marker,omitempty"`
	PendingMarker   *placement.Point `json:"pendingMarker,omitempty"`
	DebugImageURL   string           `json:"debugImageUrl,omitempty"`
	DebugPrompt     string           `json:"debugPrompt,omitempty"`
	CanUndo         bool             `json:"canUndo"`
	CanRedo         bool             `json:"canRedo"`
	Busy            bool             `json:"busy"`
}
