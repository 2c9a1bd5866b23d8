// Package wake_word gates the pipeline on a hotword detected in one channel
// of the capture stream.
package wake_word

import "blueberry-voice/audio_device"

// Engine is a hotword detector that consumes fixed-length mono frames.
type Engine interface {
	Process(pcm []int16) (bool, error)
	SampleRate() int
	FrameLength() int
	Close() error
}

type Interface interface {
	// Process reports whether the hotword ends in frame.
	Process(frame audio_device.Frame) (bool, error)
	// FrameLength is the number of samples per channel Process expects.
	FrameLength() int
	Close() error
}
