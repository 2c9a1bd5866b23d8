package speech_extraction

import (
	"errors"
	"fmt"
	"time"

	"blueberry-voice/audio_device"
)

var ErrFinalized = errors.New("speech buffer is finalized")

// SpeechBuffer accumulates a multichannel utterance, stored per channel.
// After Finalize it is read-only.
type SpeechBuffer struct {
	sampleRate int
	channels   [][]int16
	finalized  bool
}

func NewSpeechBuffer(channels, sampleRate int) *SpeechBuffer {
	return &SpeechBuffer{
		sampleRate: sampleRate,
		channels:   make([][]int16, channels),
	}
}

// NewFinalizedBuffer wraps already recorded per-channel samples. All channels
// must have the same length.
func NewFinalizedBuffer(sampleRate int, channels [][]int16) (*SpeechBuffer, error) {
	if len(channels) == 0 {
		return nil, errors.New("no channels")
	}

	for i, ch := range channels {
		if len(ch) != len(channels[0]) {
			return nil, fmt.Errorf("channel %d has %d samples, channel 0 has %d", i, len(ch), len(channels[0]))
		}
	}

	return &SpeechBuffer{sampleRate: sampleRate, channels: channels, finalized: true}, nil
}

// Append de-interleaves frame onto the end of every channel.
func (b *SpeechBuffer) Append(frame audio_device.Frame) error {
	if b.finalized {
		return ErrFinalized
	}

	if frame.Channels != len(b.channels) {
		return fmt.Errorf("frame has %d channels, buffer has %d", frame.Channels, len(b.channels))
	}

	n := frame.Len()
	for c := range b.channels {
		ch := b.channels[c]
		for i := 0; i < n; i++ {
			ch = append(ch, frame.Samples[i*frame.Channels+c])
		}
		b.channels[c] = ch
	}

	return nil
}

func (b *SpeechBuffer) Finalize() {
	b.finalized = true
}

func (b *SpeechBuffer) Finalized() bool {
	return b.finalized
}

// Len returns the number of samples per channel.
func (b *SpeechBuffer) Len() int {
	if len(b.channels) == 0 {
		return 0
	}
	return len(b.channels[0])
}

func (b *SpeechBuffer) Channels() int {
	return len(b.channels)
}

func (b *SpeechBuffer) SampleRate() int {
	return b.sampleRate
}

// Channel returns the samples of channel i. The slice must not be modified.
func (b *SpeechBuffer) Channel(i int) []int16 {
	return b.channels[i]
}

func (b *SpeechBuffer) Duration() time.Duration {
	if b.sampleRate == 0 {
		return 0
	}
	return time.Duration(b.Len()) * time.Second / time.Duration(b.sampleRate)
}
