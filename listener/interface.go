package listener

import (
	"context"
	"time"

	"blueberry-voice/indicator"
)

type Interface interface {
	// ListenLoop waits for the wake word and handles one command per wake
	// until ctx is done or the device runs dry.
	ListenLoop(ctx context.Context) error
	// ListenAndThink records one utterance and returns its transcription.
	ListenAndThink(ctx context.Context, opts ListenOptions) (string, error)
	State() State
}

type ListenOptions struct {
	// Color replaces the listening color of the palette.
	Color *indicator.Pixel
	// Chunk replaces the default recording chunk.
	Chunk time.Duration
}

type Note struct {
	Title string
	Text  string
	Todo  bool
}

// NoteSink stores dictated notes.
type NoteSink interface {
	SaveNote(ctx context.Context, note Note) error
	ShowNotes(ctx context.Context) error
}

// ActivityTracker tracks what the user is doing. An empty activity starts
// the one up next.
type ActivityTracker interface {
	StartActivity(ctx context.Context, activity string) error
	StopActivity(ctx context.Context) error
}

type State int32

const (
	StateStandby State = iota
	StateWakeDetected
	StateRecording
	StateThinking
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateStandby:
		return "standby"
	case StateWakeDetected:
		return "wake_detected"
	case StateRecording:
		return "recording"
	case StateThinking:
		return "thinking"
	case StateDispatching:
		return "dispatching"
	default:
		return "unknown"
	}
}
