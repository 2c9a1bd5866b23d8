package wake_word

import (
	"fmt"

	porcupine "github.com/Picovoice/porcupine/binding/go/v3"
)

type porcupineImpl struct {
	handle *porcupine.Porcupine
}

type PorcupineConfig struct {
	AccessKey string
	// Keywords are built-in keyword names such as "blueberry" or "computer".
	Keywords []string
	// KeywordPaths are custom .ppn files. They take precedence over Keywords.
	KeywordPaths  []string
	Sensitivities []float32
	ModelPath     string
}

func NewPorcupine(cfg *PorcupineConfig) (Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("porcupine access key is empty")
	}

	handle := &porcupine.Porcupine{
		AccessKey: cfg.AccessKey,
		ModelPath: cfg.ModelPath,
	}

	n := len(cfg.KeywordPaths)
	if n > 0 {
		handle.KeywordPaths = cfg.KeywordPaths
	} else {
		for _, k := range cfg.Keywords {
			kw := porcupine.BuiltInKeyword(k)
			if !kw.IsValid() {
				return nil, fmt.Errorf("unknown built-in keyword %q", k)
			}
			handle.BuiltInKeywords = append(handle.BuiltInKeywords, kw)
		}
		n = len(handle.BuiltInKeywords)
	}

	if n == 0 {
		return nil, fmt.Errorf("no keywords configured")
	}

	sensitivities, err := expandSensitivities(cfg.Sensitivities, n)
	if err != nil {
		return nil, err
	}
	handle.Sensitivities = sensitivities

	if err := handle.Init(); err != nil {
		return nil, fmt.Errorf("porcupine init: %w", err)
	}

	return &porcupineImpl{handle: handle}, nil
}

// expandSensitivities applies a single sensitivity to every keyword and
// defaults to 0.5.
func expandSensitivities(s []float32, n int) ([]float32, error) {
	switch len(s) {
	case n:
	case 0, 1:
		v := float32(0.5)
		if len(s) == 1 {
			v = s[0]
		}
		s = make([]float32, n)
		for i := range s {
			s[i] = v
		}
	default:
		return nil, fmt.Errorf("%d sensitivities for %d keywords", len(s), n)
	}

	for _, v := range s {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("sensitivity %v outside [0, 1]", v)
		}
	}

	return s, nil
}

func (p *porcupineImpl) Process(pcm []int16) (bool, error) {
	idx, err := p.handle.Process(pcm)
	if err != nil {
		return false, err
	}
	return idx >= 0, nil
}

func (p *porcupineImpl) SampleRate() int {
	return porcupine.SampleRate
}

func (p *porcupineImpl) FrameLength() int {
	return porcupine.FrameLength
}

func (p *porcupineImpl) Close() error {
	return p.handle.Delete()
}
