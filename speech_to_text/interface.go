package speech_to_text

import (
	"context"

	"github.com/go-audio/audio"
)

type Interface interface {
	// Process transcribes a mono 16 kHz buffer. Noise annotations and
	// repeated segments are dropped; an empty string means nothing was
	// understood.
	Process(ctx context.Context, wavBuffer audio.Buffer) (string, error)
}
