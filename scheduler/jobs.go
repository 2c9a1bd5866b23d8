package scheduler

import (
	"context"
	"time"

	"blueberry-voice/indicator"
	"blueberry-voice/output"

	"github.com/rs/zerolog"
)

const (
	TagSilence = "silence"
	TagLEDs    = "leds"
	TagAlerts  = "alerts"
)

type Calibrator interface {
	Calibrate(ctx context.Context) (float64, error)
}

// CalibrationJob re-measures the silence level every interval. It gives up
// on a round when the audio lock is not free within lockTimeout.
func CalibrationJob(c Calibrator, every, lockTimeout time.Duration, logger zerolog.Logger) Job {
	return Job{
		Name:  "calibrate_silence",
		Tag:   TagSilence,
		Every: every,
		Run: func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, lockTimeout)
			defer cancel()

			level, err := c.Calibrate(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("silence calibration skipped")
				return
			}
			logger.Debug().Float64("level", level).Msg("silence level updated")
		},
	}
}

type PaletteSetter interface {
	SetNightMode(night bool)
}

// PaletteJob switches the LEDs to the night or day palette at a time of day.
func PaletteJob(p PaletteSetter, at string, night bool) Job {
	name := "day_palette"
	if night {
		name = "night_palette"
	}

	return Job{
		Name: name,
		Tag:  TagLEDs,
		At:   at,
		Run: func(context.Context) {
			p.SetNightMode(night)
		},
	}
}

type Alert struct {
	At      string
	Message string
}

// AlertJob emits the alert message and spins the color wheel for flash. When
// the strip is busy the message still goes out.
func AlertJob(a Alert, out output.Emitter, leds *indicator.Controller, flash time.Duration, logger zerolog.Logger) Job {
	return Job{
		Name: a.Message,
		Tag:  TagAlerts,
		At:   a.At,
		Run: func(ctx context.Context) {
			out.Emit(output.KindAlert, a.Message)

			if leds == nil || flash <= 0 {
				return
			}

			session, err := leds.TryAcquire(time.Second)
			if err != nil {
				logger.Debug().Err(err).Str("alert", a.Message).Msg("no leds for alert")
				return
			}
			defer session.Release()

			if err := session.Animate(indicator.AnimationRequest{Kind: indicator.KindColorWheel}); err != nil {
				logger.Warn().Err(err).Msg("alert animation")
				return
			}

			t := time.NewTimer(flash)
			defer t.Stop()

			select {
			case <-t.C:
			case <-ctx.Done():
			}
		},
	}
}
