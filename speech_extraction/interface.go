package speech_extraction

import (
	"context"
	"time"

	"blueberry-voice/audio_device"
)

// Interface records one utterance. The caller holds the audio lock for the
// whole call.
type Interface interface {
	Record(ctx context.Context, dev audio_device.Interface, level float64, chunk time.Duration) (*SpeechBuffer, error)
}

// LevelSource provides the current silence level.
type LevelSource interface {
	Level() float64
}
