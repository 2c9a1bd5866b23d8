package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"blueberry-voice/audio_device"
	"blueberry-voice/beamformer"
	"blueberry-voice/dispatch"
	"blueberry-voice/indicator"
	"blueberry-voice/metrics"
	"blueberry-voice/output"
	"blueberry-voice/recorder"
	"blueberry-voice/ring_buffer"
	"blueberry-voice/speech_extraction"
	"blueberry-voice/speech_to_text"
	"blueberry-voice/wake_word"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultChunk     = time.Second
	defaultNoteChunk = 5 * time.Second
)

type listenerImpl struct {
	lock       *audio_device.Lock
	gate       wake_word.Interface
	level      speech_extraction.LevelSource
	segmenter  speech_extraction.Interface
	beamformer beamformer.Interface
	sttEngine  speech_to_text.Interface
	leds       *indicator.Controller
	dispatcher *dispatch.Dispatcher
	output     output.Emitter
	notes      NoteSink
	activities ActivityTracker
	scenes     dispatch.SceneController
	recorder   recorder.Interface
	onShutdown func()

	chunk       time.Duration
	noteChunk   time.Duration
	wakeChannel int
	wakeContext *ring_buffer.Buffer

	state  atomic.Int32
	logger zerolog.Logger
}

type Config struct {
	Lock       *audio_device.Lock
	Gate       wake_word.Interface
	Level      speech_extraction.LevelSource
	Segmenter  speech_extraction.Interface
	Beamformer beamformer.Interface
	STTEngine  speech_to_text.Interface
	LEDs       *indicator.Controller
	Dispatcher *dispatch.Dispatcher
	Output     output.Emitter
	Notes      NoteSink
	Activities ActivityTracker

	// Scenes, Recorder and OnShutdown are optional.
	Scenes     dispatch.SceneController
	Recorder   recorder.Interface
	OnShutdown func()

	Chunk     time.Duration
	NoteChunk time.Duration
	// WakeChannel is the capture channel kept as wake context for the
	// recorder.
	WakeChannel int
	// WakeContext is how much audio before the wake word the recorder
	// saves.
	WakeContext time.Duration
	Logger      zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	switch {
	case cfg.Lock == nil:
		return nil, fmt.Errorf("lock is nil")
	case cfg.Gate == nil:
		return nil, fmt.Errorf("gate is nil")
	case cfg.Level == nil:
		return nil, fmt.Errorf("level is nil")
	case cfg.Segmenter == nil:
		return nil, fmt.Errorf("segmenter is nil")
	case cfg.Beamformer == nil:
		return nil, fmt.Errorf("beamformer is nil")
	case cfg.STTEngine == nil:
		return nil, fmt.Errorf("sttEngine is nil")
	case cfg.LEDs == nil:
		return nil, fmt.Errorf("leds is nil")
	case cfg.Dispatcher == nil:
		return nil, fmt.Errorf("dispatcher is nil")
	case cfg.Output == nil:
		return nil, fmt.Errorf("output is nil")
	}

	l := &listenerImpl{
		lock:        cfg.Lock,
		gate:        cfg.Gate,
		level:       cfg.Level,
		segmenter:   cfg.Segmenter,
		beamformer:  cfg.Beamformer,
		sttEngine:   cfg.STTEngine,
		leds:        cfg.LEDs,
		dispatcher:  cfg.Dispatcher,
		output:      cfg.Output,
		notes:       cfg.Notes,
		activities:  cfg.Activities,
		scenes:      cfg.Scenes,
		recorder:    cfg.Recorder,
		onShutdown:  cfg.OnShutdown,
		chunk:       cfg.Chunk,
		noteChunk:   cfg.NoteChunk,
		wakeChannel: cfg.WakeChannel,
		logger:      cfg.Logger,
	}

	if l.chunk <= 0 {
		l.chunk = defaultChunk
	}
	if l.noteChunk <= 0 {
		l.noteChunk = defaultNoteChunk
	}
	if l.notes == nil {
		l.notes = NewOutputNotes(cfg.Output)
	}
	if l.activities == nil {
		l.activities = NewOutputActivities(cfg.Output)
	}

	if cfg.Recorder != nil && cfg.WakeContext > 0 {
		l.wakeContext = ring_buffer.New(int(cfg.WakeContext.Seconds() * float64(cfg.Lock.Config().SampleRate)))
	}

	l.registerHandlers()

	return l, nil
}

func (l *listenerImpl) State() State {
	return State(l.state.Load())
}

func (l *listenerImpl) setState(s State) {
	l.state.Store(int32(s))
	l.logger.Debug().Stringer("state", s).Msg("state changed")
}

func (l *listenerImpl) ListenLoop(ctx context.Context) error {
	l.logger.Info().Msg("starting to listen")

	for {
		l.setState(StateStandby)

		if err := l.show(ctx, indicator.AnimationRequest{Kind: indicator.KindStandby}); err != nil {
			return done(ctx, err)
		}

		if err := l.waitForWake(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				l.logger.Info().Msg("audio stream ended")
				return nil
			}
			return done(ctx, err)
		}

		if err := l.handleWake(ctx); err != nil {
			return done(ctx, err)
		}
	}
}

// done hides the error of a cancelled loop.
func done(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (l *listenerImpl) waitForWake(ctx context.Context) error {
	frames := l.gate.FrameLength()

	for {
		frame, err := l.lock.Read(ctx, frames)
		if errors.Is(err, audio_device.ErrOverflow) {
			metrics.ReadOverflows.Inc()
			continue
		}
		if err != nil {
			return err
		}

		if l.wakeContext != nil && l.wakeChannel < frame.Channels {
			l.wakeContext.Add(frame.Channel(l.wakeChannel))
		}

		detected, err := l.gate.Process(frame)
		if err != nil {
			return err
		}

		if detected {
			return nil
		}
	}
}

func (l *listenerImpl) handleWake(ctx context.Context) error {
	l.setState(StateWakeDetected)

	text, err := l.ListenAndThink(ctx, ListenOptions{})
	if err != nil {
		return err
	}

	l.output.Emit(output.KindTranscript, "I understood: "+text)

	l.setState(StateDispatching)

	if text != "" {
		res := l.dispatcher.Dispatch(ctx, text)
		if deviceFailed(res.Err) {
			return res.Err
		}
		if res.Err != nil {
			l.logger.Error().Err(res.Err).Msg("dispatch failed")
		}
	}

	if err := l.show(ctx, indicator.AnimationRequest{Kind: indicator.KindClear}); err != nil {
		return err
	}

	return nil
}

// deviceFailed reports whether err means the sound card is gone.
func deviceFailed(err error) bool {
	var devErr *audio_device.DeviceError
	return errors.As(err, &devErr) || errors.Is(err, audio_device.ErrClosed)
}

// ListenAndThink holds the strip for the whole utterance and the audio lock
// only while recording.
func (l *listenerImpl) ListenAndThink(ctx context.Context, opts ListenOptions) (string, error) {
	session, err := l.leds.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer session.Release()

	chunk := opts.Chunk
	if chunk <= 0 {
		chunk = l.chunk
	}

	if err := session.Show(indicator.AnimationRequest{Kind: indicator.KindListening, Color: opts.Color}); err != nil {
		l.logger.Warn().Err(err).Msg("showing listening leds")
	}

	l.setState(StateRecording)

	var buf *speech_extraction.SpeechBuffer
	err = l.lock.Do(ctx, func(dev audio_device.Interface) error {
		var err error
		buf, err = l.segmenter.Record(ctx, dev, l.level.Level(), chunk)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("recording: %w", err)
	}

	metrics.RecordingDuration.Observe(buf.Duration().Seconds())

	l.setState(StateThinking)

	if err := session.Animate(indicator.AnimationRequest{Kind: indicator.KindThinking}); err != nil {
		l.logger.Warn().Err(err).Msg("starting thinking leds")
	}

	start := time.Now()
	text, aligned := l.think(ctx, buf)
	session.Stop()

	metrics.ThinkingDuration.Observe(time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.save(aligned, buf)

	return text, nil
}

// think beamforms and transcribes. Failures end up as an empty text.
func (l *listenerImpl) think(ctx context.Context, buf *speech_extraction.SpeechBuffer) (string, beamformer.AlignedSignal) {
	aligned, err := l.beamformer.Align(buf)
	if err != nil {
		metrics.Utterances.WithLabelValues("error").Inc()
		l.logger.Error().Err(err).Msg("beamforming failed")
		return "", aligned
	}

	text, err := l.sttEngine.Process(ctx, aligned.IntBuffer())
	if err != nil {
		metrics.Utterances.WithLabelValues("error").Inc()
		l.logger.Error().Err(err).Msg("transcription failed")
		return "", aligned
	}

	if text == "" {
		metrics.Utterances.WithLabelValues("empty").Inc()
	} else {
		metrics.Utterances.WithLabelValues("ok").Inc()
	}

	l.logger.Info().
		Str("text", text).
		Ints("lags", aligned.Lags).
		Dur("duration", buf.Duration()).
		Msg("understood")

	return text, aligned
}

func (l *listenerImpl) save(aligned beamformer.AlignedSignal, buf *speech_extraction.SpeechBuffer) {
	if l.recorder == nil {
		return
	}

	u := recorder.Utterance{
		ID:      uuid.NewString(),
		Time:    time.Now(),
		Aligned: aligned,
		Raw:     buf,
	}
	if l.wakeContext != nil {
		u.WakeContext = l.wakeContext.Read()
		l.wakeContext.Clear()
	}

	if _, err := l.recorder.Save(u); err != nil {
		l.logger.Warn().Err(err).Msg("saving utterance")
	}
}

// show writes a single frame, waiting for the strip.
func (l *listenerImpl) show(ctx context.Context, req indicator.AnimationRequest) error {
	session, err := l.leds.Acquire(ctx)
	if err != nil {
		return err
	}
	defer session.Release()

	if err := session.Show(req); err != nil {
		l.logger.Warn().Err(err).Stringer("kind", req.Kind).Msg("showing leds")
	}

	return nil
}
