package beamformer

import (
	"errors"
	"fmt"

	"blueberry-voice/speech_extraction"

	"github.com/rs/zerolog"
)

type beamformerImpl struct {
	reference int
	maxLag    int
	logger    zerolog.Logger
}

type Config struct {
	// Reference is the channel every other channel is aligned to.
	Reference int
	// MaxLag bounds the lag search in samples. 0 searches every lag.
	MaxLag int
	Logger zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Reference < 0 {
		return nil, fmt.Errorf("reference channel must not be negative, got %d", cfg.Reference)
	}

	if cfg.MaxLag < 0 {
		return nil, fmt.Errorf("max lag must not be negative, got %d", cfg.MaxLag)
	}

	return &beamformerImpl{
		reference: cfg.Reference,
		maxLag:    cfg.MaxLag,
		logger:    cfg.Logger,
	}, nil
}

func (b *beamformerImpl) Align(buf *speech_extraction.SpeechBuffer) (AlignedSignal, error) {
	if buf == nil || buf.Channels() == 0 {
		return AlignedSignal{}, errors.New("empty speech buffer")
	}

	if b.reference >= buf.Channels() {
		return AlignedSignal{}, fmt.Errorf("reference channel %d out of range, buffer has %d channels", b.reference, buf.Channels())
	}

	n := buf.Len()
	ref := buf.Channel(b.reference)

	lags := make([]int, buf.Channels())
	sum := make([]float64, n)

	for c := 0; c < buf.Channels(); c++ {
		ch := buf.Channel(c)
		if c != b.reference {
			lags[c] = EstimateLag(ref, ch, b.maxLag)
			ch = Shift(ch, lags[c])
		}

		for i, v := range ch {
			sum[i] += float64(v)
		}
	}

	out := make([]int16, n)
	for i, v := range sum {
		out[i] = int16(v / float64(buf.Channels()))
	}

	b.logger.Debug().Ints("lags", lags).Int("samples", n).Msg("aligned channels")

	return AlignedSignal{
		Samples:    out,
		SampleRate: buf.SampleRate(),
		Lags:       lags,
	}, nil
}
