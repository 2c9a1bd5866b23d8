package speech_extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blueberry-voice/audio_device"
	"blueberry-voice/metrics"

	"github.com/rs/zerolog"
)

const (
	DefaultMargin      = 20
	DefaultAttackDelay = 200 * time.Millisecond
)

type segmenterImpl struct {
	margin      float64
	attackDelay time.Duration
	maxChunks   int
	sleep       func(ctx context.Context, d time.Duration) error
	logger      zerolog.Logger
}

type Config struct {
	// Margin is added to the silence level; a chunk whose median amplitude
	// stays at or below level+Margin ends the recording.
	Margin float64
	// AttackDelay is waited before the first read so the start of speech
	// right after the wake word is not cut off.
	AttackDelay time.Duration
	// MaxChunks caps the recording length. Zero records until silence.
	MaxChunks int
	Sleep     func(ctx context.Context, d time.Duration) error
	Logger    zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Margin < 0 {
		return nil, fmt.Errorf("margin must not be negative")
	}

	if cfg.MaxChunks < 0 {
		return nil, fmt.Errorf("max chunks must not be negative")
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &segmenterImpl{
		margin:      cfg.Margin,
		attackDelay: cfg.AttackDelay,
		maxChunks:   cfg.MaxChunks,
		sleep:       sleep,
		logger:      cfg.Logger,
	}, nil
}

func (s *segmenterImpl) Record(ctx context.Context, dev audio_device.Interface, level float64, chunk time.Duration) (*SpeechBuffer, error) {
	devCfg := dev.Config()

	frames := int(float64(devCfg.SampleRate) * chunk.Seconds())
	if frames <= 0 {
		return nil, fmt.Errorf("chunk %v is shorter than one sample", chunk)
	}

	if err := s.sleep(ctx, s.attackDelay); err != nil {
		return nil, err
	}

	buf := NewSpeechBuffer(devCfg.Channels, devCfg.SampleRate)
	threshold := level + s.margin
	chunks := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := dev.ReadFrame(frames)
		if errors.Is(err, audio_device.ErrOverflow) {
			metrics.ReadOverflows.Inc()
			s.logger.Debug().Msg("skipping overflowed chunk")
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := buf.Append(frame); err != nil {
			return nil, err
		}
		chunks++

		median := MedianAbs(frame.Samples)
		if median <= threshold {
			break
		}

		if s.maxChunks > 0 && chunks >= s.maxChunks {
			s.logger.Warn().
				Int("chunks", chunks).
				Float64("median", median).
				Float64("threshold", threshold).
				Msg("recording hit the chunk limit before silence")
			break
		}
	}

	buf.Finalize()

	s.logger.Debug().
		Int("chunks", chunks).
		Dur("duration", buf.Duration()).
		Msg("finished listening")

	return buf, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
