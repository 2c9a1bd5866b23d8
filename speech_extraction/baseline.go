package speech_extraction

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"blueberry-voice/audio_device"
	"blueberry-voice/metrics"

	"github.com/rs/zerolog"
)

const (
	DefaultFloor               = 60
	DefaultCalibrationDuration = 2 * time.Second
)

type BaselineConfig struct {
	Lock     *audio_device.Lock
	Floor    float64
	Duration time.Duration
	Logger   zerolog.Logger
}

// Baseline is the noise-floor estimate the segmenter compares speech against.
// Calibrate writes it, Level reads it; the value is swapped atomically.
type Baseline struct {
	lock     *audio_device.Lock
	floor    float64
	duration time.Duration
	level    atomic.Uint64
	logger   zerolog.Logger
}

func NewBaseline(cfg *BaselineConfig) (*Baseline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Lock == nil {
		return nil, fmt.Errorf("lock is nil")
	}

	floor := cfg.Floor
	if floor <= 0 {
		floor = DefaultFloor
	}

	duration := cfg.Duration
	if duration <= 0 {
		duration = DefaultCalibrationDuration
	}

	b := &Baseline{
		lock:     cfg.Lock,
		floor:    floor,
		duration: duration,
		logger:   cfg.Logger,
	}
	b.publish(floor)

	return b, nil
}

// Calibrate reads one continuous block under the audio lock and publishes
// its median absolute amplitude, clamped to the floor.
func (b *Baseline) Calibrate(ctx context.Context) (float64, error) {
	frames := int(float64(b.lock.Config().SampleRate) * b.duration.Seconds())

	frame, err := b.lock.Read(ctx, frames)
	if err != nil {
		return b.Level(), fmt.Errorf("calibration read: %w", err)
	}

	level := LevelFromSamples(frame.Samples, b.floor)
	b.publish(level)

	b.logger.Debug().Float64("level", level).Msg("silence level calibrated")

	return level, nil
}

func (b *Baseline) Level() float64 {
	return math.Float64frombits(b.level.Load())
}

func (b *Baseline) Floor() float64 {
	return b.floor
}

func (b *Baseline) publish(level float64) {
	b.level.Store(math.Float64bits(level))
	metrics.SilenceLevel.Set(level)
}

// LevelFromSamples is the calibration estimator: median absolute amplitude,
// never below floor.
func LevelFromSamples(samples []int16, floor float64) float64 {
	level := MedianAbs(samples)
	if level < floor {
		return floor
	}
	return level
}
