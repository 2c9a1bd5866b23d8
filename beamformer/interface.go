// Package beamformer aligns the channels of a microphone array and sums them
// into one signal.
package beamformer

import (
	"blueberry-voice/speech_extraction"

	"github.com/go-audio/audio"
)

type Interface interface {
	Align(buf *speech_extraction.SpeechBuffer) (AlignedSignal, error)
}

// AlignedSignal is the mono delay-and-sum output. Lags holds the shift that
// was applied to every input channel; the reference channel is always 0.
type AlignedSignal struct {
	Samples    []int16
	SampleRate int
	Lags       []int
}

// IntBuffer converts the signal for the transcription and wav tooling.
func (s AlignedSignal) IntBuffer() *audio.IntBuffer {
	data := make([]int, len(s.Samples))
	for i, v := range s.Samples {
		data[i] = int(v)
	}

	return &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  s.SampleRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
}
