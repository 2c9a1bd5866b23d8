package speech_to_text

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/go-audio/audio"
	"github.com/rs/zerolog"
)

// SampleRate is the only rate the whisper models accept.
const SampleRate = whisper.SampleRate

type sttImpl struct {
	model    whisper.Model
	language string
	logger   zerolog.Logger
}

type Config struct {
	Model whisper.Model
	// Language is a whisper language code. Empty keeps the model default.
	Language string
	Logger   zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Model == nil {
		return nil, fmt.Errorf("model is nil")
	}

	return &sttImpl{
		model:    cfg.Model,
		language: cfg.Language,
		logger:   cfg.Logger,
	}, nil
}

func (stt *sttImpl) Process(ctx context.Context, wavBuffer audio.Buffer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if wavBuffer == nil || wavBuffer.NumFrames() == 0 {
		return "", nil
	}

	if f := wavBuffer.PCMFormat(); f != nil && f.SampleRate != 0 && f.SampleRate != SampleRate {
		return "", fmt.Errorf("sample rate %d not supported, want %d", f.SampleRate, SampleRate)
	}

	// Create processing context
	wctx, err := stt.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("new whisper context: %w", err)
	}

	if stt.language != "" {
		if err := wctx.SetLanguage(stt.language); err != nil {
			return "", fmt.Errorf("set language %q: %w", stt.language, err)
		}
	}

	start := time.Now()

	if err := wctx.Process(normalize(wavBuffer), nil); err != nil {
		return "", fmt.Errorf("whisper process: %w", err)
	}

	texts, err := collectSegments(wctx)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(strings.Join(texts, " "))

	stt.logger.Debug().
		Dur("took", time.Since(start)).
		Int("segments", len(texts)).
		Str("text", text).
		Msg("transcribed")

	return text, nil
}

func collectSegments(wctx whisper.Context) ([]string, error) {
	texts := make([]string, 0)

	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			return filterSegments(texts), nil
		} else if err != nil {
			return nil, fmt.Errorf("next segment: %w", err)
		}

		texts = append(texts, segment.Text)
	}
}

// filterSegments drops segments wrapped in parentheses or brackets, which
// whisper uses for non-speech like "[music]", and repeated segments.
func filterSegments(texts []string) []string {
	seenText := make(map[string]bool)

	out := make([]string, 0, len(texts))

	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if text[0] == '(' || text[0] == '[' ||
			text[len(text)-1] == ')' || text[len(text)-1] == ']' {
			continue
		}

		if seenText[text] {
			continue
		}
		seenText[text] = true

		out = append(out, text)
	}

	return out
}

// normalize converts 16-bit PCM to float32 in [-1, 1].
func normalize(buf audio.Buffer) []float32 {
	ints := buf.AsIntBuffer()

	bitDepth := ints.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))

	data := make([]float32, len(ints.Data))
	for i, v := range ints.Data {
		data[i] = float32(v) / scale
	}

	return data
}
