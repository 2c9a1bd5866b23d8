// Package audio_device owns the multichannel capture stream and the lock that
// serializes every read from it.
package audio_device

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	// ErrNoDevice is returned when no input device matches the configuration.
	ErrNoDevice = errors.New("no matching audio input device")
	// ErrOverflow marks a read whose data was dropped by the backend. It is
	// transient; callers skip the frame and keep reading.
	ErrOverflow = errors.New("audio input overflow")
	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("audio device closed")
)

type Interface interface {
	// ReadFrame blocks until frames samples per channel are available.
	ReadFrame(frames int) (Frame, error)
	Config() Config
	Close() error
}

type Config struct {
	// DeviceName is matched as a substring of the input device name. Empty
	// selects the default input device.
	DeviceName  string
	SampleRate  int
	Channels    int
	FrameLength int
	Logger      zerolog.Logger
}

func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.FrameLength <= 0 {
		return fmt.Errorf("frame length must be positive, got %d", c.FrameLength)
	}
	return nil
}

// DeviceError is fatal: the pipeline cannot run without its input device.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Frame is a block of interleaved samples. Offset is the per-channel sample
// count of the stream at the first sample of the frame.
type Frame struct {
	Samples  []int16
	Channels int
	Offset   int64
}

// Len returns the number of samples per channel.
func (f Frame) Len() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Channel returns a de-interleaved copy of channel c.
func (f Frame) Channel(c int) []int16 {
	n := f.Len()
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = f.Samples[i*f.Channels+c]
	}
	return out
}
