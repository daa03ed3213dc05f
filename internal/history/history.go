package history

import (
	"github.com/dropstage/dropstage/backend-go/internal/placement"
)

// DebugArtifact is the inspection payload an entry may carry: the intermediate
// image the compositing service produced and the prompt it resolved to.
type DebugArtifact struct {
	Image  []byte
	Prompt string
}

// SceneState is one history entry. Entries are immutable once appended; the
// image payload is owned exclusively by the entry and never shared or mutated.
type SceneState struct {
	ID              string
	SceneImage      []byte
	Marker          *placement.Point // container pixels of the last placement, nil for the raw upload
	Debug           *DebugArtifact
	RotationDegrees int
}

// Log is a linear undo/redo history over scene states: an ordered sequence
// plus an integer cursor. Appending while undone prunes the redo branch, so
// the history never branches.
//
// Log does no locking. The session service serializes all access; only one
// generation may be in flight against a log at a time.
type Log struct {
	entries []SceneState
	cursor  int
}

// New returns an empty log with the cursor at -1.
func New() *Log {
	return &Log{cursor: -1}
}

// Append truncates the entries after the cursor, appends entry, and moves the
// cursor to it. Entries pruned this way are unrecoverable: there is no undo of
// an undo-then-append.
func (l *Log) Append(entry SceneState) {
	l.entries = append(l.entries[:l.cursor+1], entry)
	l.cursor = len(l.entries) - 1
}

// Undo moves the cursor one entry back. At the first entry (or on an empty
// log) it is a no-op, so callers may invoke it speculatively.
func (l *Log) Undo() {
	if l.cursor > 0 {
		l.cursor--
	}
}

// Redo moves the cursor one entry forward. At the last entry it is a no-op.
func (l *Log) Redo() {
	if l.cursor < len(l.entries)-1 {
		l.cursor++
	}
}

// Current returns the entry at the cursor, or nil if the log is empty.
func (l *Log) Current() *SceneState {
	if l.cursor < 0 {
		return nil
	}
	return &l.entries[l.cursor]
}

// Reset clears the log back to its initial empty state.
func (l *Log) Reset() {
	l.entries = nil
	l.cursor = -1
}

// CanUndo reports whether Undo would move the cursor. Derived from the cursor
// rather than stored so it can never diverge.
func (l *Log) CanUndo() bool { return l.cursor > 0 }

// CanRedo reports whether Redo would move the cursor.
func (l *Log) CanRedo() bool { return l.cursor < len(l.entries)-1 }

// Len returns the number of entries, including undone ones still reachable
// via Redo.
func (l *Log) Len() int { return len(l.entries) }

// Cursor returns the current cursor index, or -1 when empty.
func (l *Log) Cursor() int { return l.cursor }

// Entry returns the entry at index i, or nil if out of range.
func (l *Log) Entry(i int) *SceneState {
	if i < 0 || i >= len(l.entries) {
		return nil
	}
	return &l.entries[i]
}

// Entries returns the entry sequence for the history strip. The slice is a
// copy; the states it holds are shared and must not be mutated.
func (l *Log) Entries() []SceneState {
	out := make([]SceneState, len(l.entries))
	copy(out, l.entries)
	return out
}
