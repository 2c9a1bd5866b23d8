package wake_word

import (
	"fmt"

	"blueberry-voice/audio_device"
	"blueberry-voice/metrics"

	"github.com/rs/zerolog"
)

type gateImpl struct {
	engine  Engine
	channel int
	logger  zerolog.Logger
}

type Config struct {
	Engine Engine
	// Channel is the capture channel fed to the engine.
	Channel int
	Logger  zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}

	if cfg.Channel < 0 {
		return nil, fmt.Errorf("channel must not be negative, got %d", cfg.Channel)
	}

	return &gateImpl{
		engine:  cfg.Engine,
		channel: cfg.Channel,
		logger:  cfg.Logger,
	}, nil
}

func (g *gateImpl) Process(frame audio_device.Frame) (bool, error) {
	if g.channel >= frame.Channels {
		return false, fmt.Errorf("hotword channel %d out of range, frame has %d channels", g.channel, frame.Channels)
	}

	if frame.Len() != g.engine.FrameLength() {
		return false, fmt.Errorf("frame has %d samples per channel, engine expects %d", frame.Len(), g.engine.FrameLength())
	}

	detected, err := g.engine.Process(frame.Channel(g.channel))
	if err != nil {
		return false, fmt.Errorf("hotword engine: %w", err)
	}

	if detected {
		metrics.WakeDetections.Inc()
		g.logger.Info().Int64("offset", frame.Offset).Msg("wake word detected")
	}

	return detected, nil
}

func (g *gateImpl) FrameLength() int {
	return g.engine.FrameLength()
}

func (g *gateImpl) Close() error {
	return g.engine.Close()
}
