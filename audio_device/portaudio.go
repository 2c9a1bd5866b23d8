package audio_device

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"blueberry-voice/metrics"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

type portaudioImpl struct {
	cfg    Config
	logger zerolog.Logger
	stream *portaudio.Stream
	in     []int16
	asm    *assembler

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open initializes portaudio and starts a blocking int16 input stream on the
// configured device.
func Open(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, &DeviceError{Op: "initialize", Err: err}
	}

	dev, err := findInputDevice(cfg.DeviceName, cfg.Channels)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &DeviceError{Op: "find", Err: err}
	}

	in := make([]int16, cfg.FrameLength*cfg.Channels)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultHighInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FrameLength,
	}

	stream, err := portaudio.OpenStream(params, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &DeviceError{Op: "open", Err: err}
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, &DeviceError{Op: "start", Err: err}
	}

	cfg.Logger.Info().
		Str("device", dev.Name).
		Int("sample_rate", cfg.SampleRate).
		Int("channels", cfg.Channels).
		Int("frame_length", cfg.FrameLength).
		Msg("audio stream started")

	return &portaudioImpl{
		cfg:    *cfg,
		logger: cfg.Logger,
		stream: stream,
		in:     in,
		asm:    newAssembler(cfg.Channels),
	}, nil
}

func (p *portaudioImpl) ReadFrame(frames int) (Frame, error) {
	if frames <= 0 {
		return Frame{}, fmt.Errorf("frames must be positive, got %d", frames)
	}

	for p.asm.buffered() < frames {
		if p.closed.Load() {
			return Frame{}, ErrClosed
		}

		err := p.stream.Read()
		if err != nil {
			if !errors.Is(err, portaudio.InputOverflowed) {
				return Frame{}, &DeviceError{Op: "read", Err: err}
			}

			// the buffer still holds the newest samples; keep them
			metrics.ReadOverflows.Inc()
			p.logger.Debug().Msg("input overflowed")
		}

		p.asm.push(p.in)
	}

	return p.asm.pop(frames), nil
}

func (p *portaudioImpl) Config() Config {
	return p.cfg
}

func (p *portaudioImpl) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)

		if err := p.stream.Stop(); err != nil {
			p.logger.Warn().Err(err).Msg("error stopping stream")
		}

		p.closeErr = p.stream.Close()

		if err := portaudio.Terminate(); err != nil {
			p.logger.Warn().Err(err).Msg("error while freeing audio")
		}
	})

	return p.closeErr
}

func findInputDevice(name string, channels int) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		if dev.MaxInputChannels < channels {
			return nil, fmt.Errorf("%w: default input %q has %d channels, need %d",
				ErrNoDevice, dev.Name, dev.MaxInputChannels, channels)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	for _, dev := range devices {
		if dev.MaxInputChannels >= channels && strings.Contains(dev.Name, name) {
			return dev, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrNoDevice, name)
}

type DeviceInfo struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

// Devices lists the input-capable devices portaudio can see.
func Devices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &DeviceError{Op: "initialize", Err: err}
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for i, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}

		infos = append(infos, DeviceInfo{
			Index:             i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
		})
	}

	return infos, nil
}
