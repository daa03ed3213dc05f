package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dropstage/dropstage/backend-go/internal/compose"
	"github.com/dropstage/dropstage/backend-go/internal/history"
	"github.com/dropstage/dropstage/backend-go/internal/placement"
	"github.com/dropstage/dropstage/backend-go/internal/thumb"
	"github.com/dropstage/dropstage/backend-go/internal/typeid"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrBusy      = errors.New("a generation is already in flight")
	ErrNoProduct = errors.New("no product selected")
	ErrNoState   = errors.New("state not found")
)

// Composer is the external AI compositing collaborator.
type Composer interface {
	Composite(ctx context.Context, req compose.Request) (*compose.Result, error)
}

// AssetReader supplies stored image payloads by asset ID.
type AssetReader interface {
	Read(assetID string) ([]byte, error)
}

// Notifier receives a snapshot after every state change, for pushing to the
// rendering surface.
type Notifier interface {
	NotifyState(sessionID string, snap Snapshot)
}

// Session is one user's placement workspace: a scene, a product, a rotation,
// and the undo/redo history of generated composites. All fields behind mu;
// the busy flag serializes generations, so at most one Append is ever in
// flight against the log.
type Session struct {
	ID string

	mu              sync.Mutex
	log             *history.Log
	sceneAssetID    string
	sceneLabel      string
	productAssetID  string
	productLabel    string
	rotationDegrees int
	busy            bool
	pendingMarker   *placement.Point
	thumbs          map[string][]byte // state ID -> cached thumbnail PNG
	lastActive      time.Time
}

type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	composer Composer
	assets   AssetReader
	notifier Notifier
	ttl      time.Duration
}

// NewService creates a session service. ttl of zero disables idle eviction.
func NewService(composer Composer, assets AssetReader, ttl time.Duration) *Service {
	return &Service{
		sessions: make(map[string]*Session),
		composer: composer,
		assets:   assets,
		ttl:      ttl,
	}
}

// SetNotifier wires the state-push surface. Must be called before the server
// starts handling requests.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Create starts a new session seeded with the raw scene as the first history
// entry.
func (s *Service) Create(sceneAssetID, sceneLabel string) (Snapshot, error) {
	sceneImage, err := s.assets.Read(sceneAssetID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read scene asset: %w", err)
	}
	if sceneLabel == "" {
		sceneLabel = "scene"
	}

	sess := &Session{
		ID:           typeid.NewSessionID(),
		log:          history.New(),
		sceneAssetID: sceneAssetID,
		sceneLabel:   sceneLabel,
		thumbs:       make(map[string][]byte),
		lastActive:   time.Now(),
	}
	// The raw upload carries no marker and no debug artifact.
	sess.log.Append(history.SceneState{
		ID:         typeid.NewStateID(),
		SceneImage: sceneImage,
	})

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	slog.Info("session created", "session", sess.ID, "scene", sceneAssetID)
	return s.snapshot(sess), nil
}

// Get returns the current snapshot.
func (s *Service) Get(id string) (Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(sess), nil
}

// Delete tears the session down and releases its image payloads.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	sess.mu.Lock()
	sess.log.Reset()
	sess.thumbs = nil
	sess.mu.Unlock()

	slog.Info("session deleted", "session", id)
	return nil
}

// SetProduct selects the product image to place.
func (s *Service) SetProduct(id, productAssetID, label string) (Snapshot, error) {
	// Validate the asset exists before accepting it.
	if _, err := s.assets.Read(productAssetID); err != nil {
		return Snapshot{}, fmt.Errorf("read product asset: %w", err)
	}
	if label == "" {
		label = "product"
	}

	sess, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	sess.mu.Lock()
	if sess.busy {
		sess.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	sess.productAssetID = productAssetID
	sess.productLabel = label
	snap := s.snapshotLocked(sess)
	sess.mu.Unlock()

	s.notify(snap)
	return snap, nil
}

// SetRotation sets the product rotation, normalized into [0, 360).
func (s *Service) SetRotation(id string, degrees int) (Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	degrees = ((degrees % 360) + 360) % 360

	sess.mu.Lock()
	if sess.busy {
		sess.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	sess.rotationDegrees = degrees
	snap := s.snapshotLocked(sess)
	sess.mu.Unlock()

	s.notify(snap)
	return snap, nil
}

// PlaceRequest is a raw pointer or touch release over the scene container,
// together with the geometry the coordinate mapping needs.
type PlaceRequest struct {
	PointerX        float64 `json:"pointerX"`
	PointerY        float64 `json:"pointerY"`
	ContainerWidth  float64 `json:"containerWidth"`
	ContainerHeight float64 `json:"containerHeight"`
	NaturalWidth    float64 `json:"naturalWidth"`
	NaturalHeight   float64 `json:"naturalHeight"`
}

// PlaceResult reports whether the drop was accepted. A drop in the letterbox
// margin yields Placed=false with no other effect.
type PlaceResult struct {
	Placed   bool                       `json:"placed"`
	Position placement.RelativePosition `json:"position"`
	Snapshot Snapshot                   `json:"snapshot"`
}

// Place maps the pointer position into the rendered image content and, if it
// lands inside, runs one compositing call and appends the result to the
// history. The history is untouched on any failure.
func (s *Service) Place(ctx context.Context, id string, req PlaceRequest) (PlaceResult, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return PlaceResult{}, err
	}

	sess.mu.Lock()

	if sess.busy {
		sess.mu.Unlock()
		return PlaceResult{}, ErrBusy
	}
	if sess.productAssetID == "" {
		sess.mu.Unlock()
		return PlaceResult{}, ErrNoProduct
	}

	pos, err := placement.MapToImage(
		req.PointerX, req.PointerY,
		req.ContainerWidth, req.ContainerHeight,
		req.NaturalWidth, req.NaturalHeight,
	)
	if errors.Is(err, placement.ErrOutsideImage) {
		// Letterbox drop: ignored, not an error.
		snap := s.snapshotLocked(sess)
		sess.mu.Unlock()
		return PlaceResult{Placed: false, Snapshot: snap}, nil
	}
	if err != nil {
		sess.mu.Unlock()
		return PlaceResult{}, err
	}

	current := sess.log.Current()
	if current == nil {
		sess.mu.Unlock()
		return PlaceResult{}, fmt.Errorf("session %s has no scene", id)
	}

	productImage, err := s.assets.Read(sess.productAssetID)
	if err != nil {
		sess.mu.Unlock()
		return PlaceResult{}, fmt.Errorf("read product asset: %w", err)
	}

	composeReq := compose.Request{
		ProductImage:    productImage,
		ProductLabel:    sess.productLabel,
		SceneImage:      current.SceneImage,
		SceneLabel:      sess.sceneLabel,
		Position:        pos,
		RotationDegrees: sess.rotationDegrees,
	}

	sess.busy = true
	sess.pendingMarker = &placement.Point{X: req.PointerX, Y: req.PointerY}
	pendingSnap := s.snapshotLocked(sess)
	sess.mu.Unlock()

	// Show the pending marker while the call is in flight.
	s.notify(pendingSnap)

	// The collaborator call runs outside the session lock; the busy flag
	// keeps a second Place from racing this one.
	result, composeErr := s.composer.Composite(ctx, composeReq)

	sess.mu.Lock()
	marker := sess.pendingMarker
	sess.busy = false
	sess.pendingMarker = nil

	if composeErr != nil {
		snap := s.snapshotLocked(sess)
		sess.mu.Unlock()
		s.notify(snap)
		return PlaceResult{}, fmt.Errorf("composite placement: %w", composeErr)
	}

	var debug *history.DebugArtifact
	if result.DebugImage != nil || result.FinalPrompt != "" {
		debug = &history.DebugArtifact{
			Image:  result.DebugImage,
			Prompt: result.FinalPrompt,
		}
	}

	sess.log.Append(history.SceneState{
		ID:              typeid.NewStateID(),
		SceneImage:      result.FinalImage,
		Marker:          marker,
		Debug:           debug,
		RotationDegrees: sess.rotationDegrees,
	})
	s.dropPrunedThumbsLocked(sess)

	snap := s.snapshotLocked(sess)
	sess.mu.Unlock()

	s.notify(snap)
	slog.Info("placement composited", "session", id, "states", snap.StateCount)

	return PlaceResult{Placed: true, Position: pos, Snapshot: snap}, nil
}

// Undo moves one entry back in the history.
func (s *Service) Undo(id string) (Snapshot, error) {
	return s.move(id, func(l *history.Log) { l.Undo() })
}

// Redo moves one entry forward.
func (s *Service) Redo(id string) (Snapshot, error) {
	return s.move(id, func(l *history.Log) { l.Redo() })
}

func (s *Service) move(id string, op func(*history.Log)) (Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	sess.mu.Lock()
	if sess.busy {
		sess.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	op(sess.log)
	snap := s.snapshotLocked(sess)
	sess.mu.Unlock()

	s.notify(snap)
	return snap, nil
}

// ResetScene discards the history and reseeds it from sceneAssetID, or from
// the session's original scene when sceneAssetID is empty.
func (s *Service) ResetScene(id, sceneAssetID string) (Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	sess.mu.Lock()
	if sess.busy {
		sess.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	if sceneAssetID == "" {
		sceneAssetID = sess.sceneAssetID
	}
	sess.mu.Unlock()

	sceneImage, err := s.assets.Read(sceneAssetID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read scene asset: %w", err)
	}

	sess.mu.Lock()
	if sess.busy {
		sess.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	sess.log.Reset()
	sess.log.Append(history.SceneState{
		ID:         typeid.NewStateID(),
		SceneImage: sceneImage,
	})
	sess.sceneAssetID = sceneAssetID
	sess.thumbs = make(map[string][]byte)
	snap := s.snapshotLocked(sess)
	sess.mu.Unlock()

	s.notify(snap)
	return snap, nil
}

// StateImage returns the composite payload of the history entry at index.
func (s *Service) StateImage(id string, index int) ([]byte, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry := sess.log.Entry(index)
	if entry == nil {
		return nil, ErrNoState
	}
	return entry.SceneImage, nil
}

// StateThumbnail returns a scaled-down version of the entry's image, cached
// per entry. Caches for pruned entries are dropped when the redo branch is
// discarded.
func (s *Service) StateThumbnail(id string, index int) ([]byte, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry := sess.log.Entry(index)
	if entry == nil {
		return nil, ErrNoState
	}

	if cached, ok := sess.thumbs[entry.ID]; ok {
		return cached, nil
	}

	scaled, err := thumb.Scale(entry.SceneImage, thumb.MaxEdge)
	if err != nil {
		return nil, fmt.Errorf("scale state image: %w", err)
	}
	sess.thumbs[entry.ID] = scaled
	return scaled, nil
}

// DebugImage returns the entry's debug artifact image, if any.
func (s *Service) DebugImage(id string, index int) ([]byte, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry := sess.log.Entry(index)
	if entry == nil || entry.Debug == nil || entry.Debug.Image == nil {
		return nil, ErrNoState
	}
	return entry.Debug.Image, nil
}

// RunJanitor evicts idle sessions until ctx is cancelled. No-op when the TTL
// is zero.
func (s *Service) RunJanitor(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle(time.Now())
		}
	}
}

func (s *Service) evictIdle(now time.Time) {
	var expired []string

	s.mu.RLock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := !sess.busy && now.Sub(sess.lastActive) > s.ttl
		sess.mu.Unlock()
		if idle {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		if err := s.Delete(id); err == nil {
			slog.Info("idle session evicted", "session", id)
		}
	}
}

func (s *Service) lookup(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	sess.mu.Lock()
	sess.lastActive = time.Now()
	sess.mu.Unlock()
	return sess, nil
}

func (s *Service) notify(snap Snapshot) {
	if s.notifier != nil {
		s.notifier.NotifyState(snap.SessionID, snap)
	}
}

func (s *Service) snapshot(sess *Session) Snapshot {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.snapshotLocked(sess)
}

// snapshotLocked builds the rendering-surface view. Caller holds sess.mu.
func (s *Service) snapshotLocked(sess *Session) Snapshot {
	snap := Snapshot{
		SessionID:       sess.ID,
		SceneAssetID:    sess.sceneAssetID,
		ProductAssetID:  sess.productAssetID,
		RotationDegrees: sess.rotationDegrees,
		StateIndex:      sess.log.Cursor(),
		StateCount:      sess.log.Len(),
		PendingMarker:   sess.pendingMarker,
		CanUndo:         sess.log.CanUndo(),
		CanRedo:         sess.log.CanRedo(),
		Busy:            sess.busy,
	}

	snap.ThumbnailURLs = make([]string, sess.log.Len())
	for i := range snap.ThumbnailURLs {
		snap.ThumbnailURLs[i] = fmt.Sprintf("/api/sessions/%s/states/%d/thumbnail", sess.ID, i)
	}

	if current := sess.log.Current(); current != nil {
		snap.ImageURL = fmt.Sprintf("/api/sessions/%s/states/%d/image", sess.ID, sess.log.Cursor())
		snap.Marker = current.Marker
		if current.Debug != nil {
			snap.DebugPrompt = current.Debug.Prompt
			if current.Debug.Image != nil {
				snap.DebugImageURL = fmt.Sprintf("/api/sessions/%s/states/%d/debug", sess.ID, sess.log.Cursor())
			}
		}
	}

	return snap
}

// dropPrunedThumbsLocked discards thumbnail caches for entries no longer in
// the log. Caller holds sess.mu.
func (s *Service) dropPrunedThumbsLocked(sess *Session) {
	live := make(map[string]bool, sess.log.Len())
	for _, entry := range sess.log.Entries() {
		live[entry.ID] = true
	}
	for stateID := range sess.thumbs {
		if !live[stateID] {
			delete(sess.thumbs, stateID)
		}
	}
}
