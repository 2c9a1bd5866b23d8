package audio_device

import (
	"context"
	"time"

	"blueberry-voice/metrics"
)

// Lock is the audio-access lock. Every read of the device goes through it, so
// the hotword gate, the silence calibration and the segmenter never read at
// the same time.
type Lock struct {
	sem chan struct{}
	dev Interface
}

func NewLock(dev Interface) *Lock {
	return &Lock{
		sem: make(chan struct{}, 1),
		dev: dev,
	}
}

// Do runs fn while holding the lock. Waiting for the lock is abandoned when
// ctx is done; once fn runs, the lock is released on every return path.
func (l *Lock) Do(ctx context.Context, fn func(dev Interface) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	metrics.LockWait.WithLabelValues("audio").Observe(time.Since(start).Seconds())

	defer func() { <-l.sem }()

	return fn(l.dev)
}

// Read performs one locked read.
func (l *Lock) Read(ctx context.Context, frames int) (Frame, error) {
	var frame Frame

	err := l.Do(ctx, func(dev Interface) error {
		var err error
		frame, err = dev.ReadFrame(frames)
		return err
	})

	return frame, err
}

func (l *Lock) Config() Config {
	return l.dev.Config()
}

// Close waits for the in-flight read, if any, then closes the device.
func (l *Lock) Close(ctx context.Context) error {
	return l.Do(ctx, func(dev Interface) error {
		return dev.Close()
	})
}
