package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"blueberry-voice/audio_device"
	"blueberry-voice/beamformer"
	"blueberry-voice/clients/presenter"
	"blueberry-voice/config"
	"blueberry-voice/dispatch"
	"blueberry-voice/indicator"
	"blueberry-voice/listener"
	"blueberry-voice/logging"
	"blueberry-voice/metrics"
	"blueberry-voice/output"
	"blueberry-voice/recorder"
	"blueberry-voice/scheduler"
	"blueberry-voice/speech_extraction"
	"blueberry-voice/speech_to_text"
	"blueberry-voice/wake_word"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	noSoundcardMessage = "Dang! No soundcard here"
	alertFlash         = 10 * time.Second
)

// run wires the pipeline and blocks until ctx is done, the device runs dry
// or a shut_down command arrives.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cl closers
	defer cl.close()

	out, err := newOutput(cfg, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return out.Run(gctx)
	})

	if cfg.Metrics.Address != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Address)
		})
	}

	if err := start(gctx, g, &cl, cfg, out, cancel, logger); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	return g.Wait()
}

func start(ctx context.Context, g *errgroup.Group, cl *closers, cfg *config.Config, out *output.Channel, shutdown func(), logger zerolog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	strip, err := newStrip(cfg)
	if err != nil {
		return fmt.Errorf("leds: %w", err)
	}

	leds, err := indicator.New(&indicator.Config{
		Strip:  strip,
		Night:  nightNow(time.Now().In(loc), cfg.Schedule.NightTime, cfg.Schedule.DayTime),
		Logger: logging.Component(logger, "indicator"),
	})
	if err != nil {
		return err
	}
	cl.add(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := leds.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("closing leds")
		}
	})

	// The color wheel spins until the microphones are calibrated.
	boot, err := leds.Acquire(ctx)
	if err != nil {
		return err
	}
	defer boot.Release()

	if err := boot.Animate(indicator.AnimationRequest{Kind: indicator.KindColorWheel}); err != nil {
		return err
	}

	out.Emit(output.KindStatus, fmt.Sprintf("Starting %s...", cfg.Assistant.Name))

	out.Emit(output.KindStatus, "Loading the speech model")
	if cfg.Audio.SampleRate != speech_to_text.SampleRate {
		return fmt.Errorf("audio.sample_rate %d, speech model needs %d", cfg.Audio.SampleRate, speech_to_text.SampleRate)
	}

	model, err := whisper.New(cfg.STT.ModelPath)
	if err != nil {
		return fmt.Errorf("load speech model: %w", err)
	}
	cl.add(func() { _ = model.Close() })

	sttEngine, err := speech_to_text.New(&speech_to_text.Config{
		Model:    model,
		Language: cfg.STT.Language,
		Logger:   logging.Component(logger, "speech_to_text"),
	})
	if err != nil {
		return err
	}

	out.Emit(output.KindStatus, "Loading the wake word")
	engine, err := wake_word.NewPorcupine(&wake_word.PorcupineConfig{
		AccessKey:     cfg.WakeWord.AccessKey,
		Keywords:      cfg.WakeWord.Keywords,
		KeywordPaths:  cfg.WakeWord.KeywordPaths,
		Sensitivities: cfg.WakeWord.Sensitivities,
		ModelPath:     cfg.WakeWord.ModelPath,
	})
	if err != nil {
		return fmt.Errorf("wake word: %w", err)
	}

	gate, err := wake_word.New(&wake_word.Config{
		Engine:  engine,
		Channel: cfg.WakeWord.Channel,
		Logger:  logging.Component(logger, "wake_word"),
	})
	if err != nil {
		_ = engine.Close()
		return err
	}
	cl.add(func() { _ = gate.Close() })

	if engine.SampleRate() != cfg.Audio.SampleRate {
		return fmt.Errorf("audio.sample_rate %d, wake word engine needs %d", cfg.Audio.SampleRate, engine.SampleRate())
	}

	out.Emit(output.KindStatus, "Opening the sound card")
	dev, err := openDevice(cfg, gate.FrameLength(), logger)
	if err != nil {
		var devErr *audio_device.DeviceError
		if errors.As(err, &devErr) {
			out.Emit(output.KindError, noSoundcardMessage)
		}
		return err
	}

	lock := audio_device.NewLock(dev)
	cl.add(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("closing sound card")
		}
	})

	baseline, err := speech_extraction.NewBaseline(&speech_extraction.BaselineConfig{
		Lock:     lock,
		Floor:    cfg.Silence.Floor,
		Duration: cfg.Silence.CalibrationDuration,
		Logger:   logging.Component(logger, "silence"),
	})
	if err != nil {
		return err
	}

	out.Emit(output.KindStatus, "Listening to the silence")
	level, err := baseline.Calibrate(ctx)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	logger.Info().Float64("level", level).Msg("silence calibrated")

	segmenter, err := speech_extraction.New(&speech_extraction.Config{
		Margin:      cfg.Silence.Margin,
		AttackDelay: cfg.Recording.AttackDelay,
		MaxChunks:   cfg.Recording.MaxChunks,
		Logger:      logging.Component(logger, "segmenter"),
	})
	if err != nil {
		return err
	}

	bf, err := newBeamformer(cfg, logger)
	if err != nil {
		return err
	}

	table, err := loadTable(cfg)
	if err != nil {
		return err
	}

	activities := listener.NewOutputActivities(out)

	dispatcher, err := dispatch.New(&dispatch.Config{
		Table:      table,
		Activities: cfg.Activities,
		Activity:   activities,
		Output:     out,
		Logger:     logging.Component(logger, "dispatch"),
	})
	if err != nil {
		return err
	}

	var rec recorder.Interface
	if cfg.Debug.RecordDir != "" {
		rec, err = recorder.New(&recorder.Config{
			FileSys:  afero.NewOsFs(),
			Dir:      cfg.Debug.RecordDir,
			MaxFiles: cfg.Debug.MaxFiles,
			Logger:   logging.Component(logger, "recorder"),
		})
		if err != nil {
			return err
		}
	}

	l, err := listener.New(&listener.Config{
		Lock:        lock,
		Gate:        gate,
		Level:       baseline,
		Segmenter:   segmenter,
		Beamformer:  bf,
		STTEngine:   sttEngine,
		LEDs:        leds,
		Dispatcher:  dispatcher,
		Output:      out,
		Activities:  activities,
		Recorder:    rec,
		OnShutdown:  shutdown,
		Chunk:       cfg.Recording.Chunk,
		NoteChunk:   cfg.Recording.NoteChunk,
		WakeChannel: cfg.WakeWord.Channel,
		WakeContext: cfg.Debug.WakeContext,
		Logger:      logging.Component(logger, "listener"),
	})
	if err != nil {
		return err
	}

	sched, err := newScheduler(cfg, loc, baseline, leds, out, logger)
	if err != nil {
		return err
	}

	boot.Stop()
	boot.Release()

	out.Emit(output.KindStatus, fmt.Sprintf("%s is listening", cfg.Assistant.Name))

	g.Go(func() error {
		return sched.Run(ctx)
	})
	g.Go(func() error {
		err := l.ListenLoop(ctx)
		// A drained replay file ends the run like a shutdown.
		shutdown()
		return err
	})

	return nil
}

// closers runs cleanups in reverse order of registration.
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c *closers) close() {
	for i := len(*c) - 1; i >= 0; i-- {
		(*c)[i]()
	}
	*c = nil
}

func newOutput(cfg *config.Config, logger zerolog.Logger) (*output.Channel, error) {
	sinks := []output.Sink{output.NewLogSink(logging.Component(logger, "output"))}

	if cfg.Output.PresenterURL != "" {
		client, err := presenter.NewClient(&presenter.Config{ApiHost: cfg.Output.PresenterURL})
		if err != nil {
			return nil, fmt.Errorf("presenter: %w", err)
		}
		sinks = append(sinks, client)
	}

	return output.New(&output.Config{
		Sinks:  sinks,
		Buffer: cfg.Output.Buffer,
		Logger: logging.Component(logger, "output"),
	})
}

func newStrip(cfg *config.Config) (indicator.Strip, error) {
	if cfg.LEDs.Driver == "memory" {
		return indicator.NewMemoryStrip(cfg.LEDs.Count), nil
	}

	return indicator.NewAPA102(&indicator.APA102Config{
		SPIPort:   cfg.LEDs.SPIPort,
		NumPixels: cfg.LEDs.Count,
		Intensity: cfg.LEDs.Intensity,
		PowerPin:  cfg.LEDs.PowerPin,
	})
}

func openDevice(cfg *config.Config, frameLength int, logger zerolog.Logger) (audio_device.Interface, error) {
	if frameLength != cfg.Audio.FrameLength {
		logger.Warn().
			Int("configured", cfg.Audio.FrameLength).
			Int("engine", frameLength).
			Msg("using the wake word engine frame length")
	}

	devCfg := &audio_device.Config{
		DeviceName:  cfg.Audio.DeviceName,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		FrameLength: frameLength,
		Logger:      logging.Component(logger, "audio_device"),
	}

	if cfg.Audio.ReplayFile == "" {
		return audio_device.Open(devCfg)
	}

	opts := []audio_device.WavOption{audio_device.WithRealtime()}
	if cfg.Audio.ReplayLoop {
		opts = append(opts, audio_device.WithLoop())
	}

	return audio_device.OpenWavFile(afero.NewOsFs(), cfg.Audio.ReplayFile, devCfg, opts...)
}

func newBeamformer(cfg *config.Config, logger zerolog.Logger) (beamformer.Interface, error) {
	return beamformer.New(&beamformer.Config{
		Reference: cfg.Beamformer.Reference,
		MaxLag:    cfg.Beamformer.MaxLag,
		Logger:    logging.Component(logger, "beamformer"),
	})
}

func loadTable(cfg *config.Config) (*dispatch.Table, error) {
	if cfg.CommandsFile == "" {
		return dispatch.DefaultTable()
	}
	return dispatch.LoadTable(afero.NewOsFs(), cfg.CommandsFile)
}

func newScheduler(cfg *config.Config, loc *time.Location, baseline *speech_extraction.Baseline, leds *indicator.Controller, out output.Emitter, logger zerolog.Logger) (*scheduler.Scheduler, error) {
	sched, err := scheduler.New(&scheduler.Config{
		Location:   loc,
		JobTimeout: cfg.Schedule.JobTimeout,
		Logger:     logging.Component(logger, "scheduler"),
	})
	if err != nil {
		return nil, err
	}

	if _, err := sched.Add(scheduler.CalibrationJob(baseline, cfg.Silence.RecalibrateEvery, cfg.Silence.LockTimeout, logging.Component(logger, "silence"))); err != nil {
		return nil, err
	}

	var ledJobs []scheduler.Job
	if cfg.Schedule.NightTime != "" {
		ledJobs = append(ledJobs, scheduler.PaletteJob(leds, cfg.Schedule.NightTime, true))
	}
	if cfg.Schedule.DayTime != "" {
		ledJobs = append(ledJobs, scheduler.PaletteJob(leds, cfg.Schedule.DayTime, false))
	}
	if err := sched.Replace(scheduler.TagLEDs, ledJobs); err != nil {
		return nil, err
	}

	alerts := make([]scheduler.Job, 0, len(cfg.Schedule.Alerts))
	for _, a := range cfg.Schedule.Alerts {
		alerts = append(alerts, scheduler.AlertJob(scheduler.Alert{At: a.At, Message: a.Message}, out, leds, alertFlash, logging.Component(logger, "alerts")))
	}
	if err := sched.Replace(scheduler.TagAlerts, alerts); err != nil {
		return nil, err
	}

	return sched, nil
}

// nightNow reports whether now falls between night and day ("HH:MM"). Without
// a day time the night lasts until midnight.
func nightNow(now time.Time, night, day string) bool {
	if night == "" {
		return false
	}

	n, err := minuteOfDay(night)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()

	if day == "" {
		return cur >= n
	}

	d, err := minuteOfDay(day)
	if err != nil {
		return cur >= n
	}

	if n <= d {
		return cur >= n && cur < d
	}
	return cur >= n || cur < d
}

func minuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func calibrate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (float64, error) {
	dev, err := openDevice(cfg, cfg.Audio.FrameLength, logger)
	if err != nil {
		return 0, err
	}

	lock := audio_device.NewLock(dev)
	defer lock.Close(context.Background())

	baseline, err := speech_extraction.NewBaseline(&speech_extraction.BaselineConfig{
		Lock:     lock,
		Floor:    cfg.Silence.Floor,
		Duration: cfg.Silence.CalibrationDuration,
		Logger:   logging.Component(logger, "silence"),
	})
	if err != nil {
		return 0, err
	}

	return baseline.Calibrate(ctx)
}

type transcription struct {
	Lags     []int
	Text     string
	Command  string
	Activity string
}

func transcribeFile(ctx context.Context, fs afero.Fs, path string, cfg *config.Config, logger zerolog.Logger) (transcription, error) {
	model, err := whisper.New(cfg.STT.ModelPath)
	if err != nil {
		return transcription{}, fmt.Errorf("load speech model: %w", err)
	}
	defer model.Close()

	sttEngine, err := speech_to_text.New(&speech_to_text.Config{
		Model:    model,
		Language: cfg.STT.Language,
		Logger:   logging.Component(logger, "speech_to_text"),
	})
	if err != nil {
		return transcription{}, err
	}

	bf, err := newBeamformer(cfg, logger)
	if err != nil {
		return transcription{}, err
	}

	table, err := loadTable(cfg)
	if err != nil {
		return transcription{}, err
	}

	return transcribe(ctx, fs, path, bf, sttEngine, table, cfg.Activities)
}

// transcribe runs a recorded multi-channel WAV through the beamformer and
// the speech model and reports what the command table would do with the
// text, without running any handler.
func transcribe(ctx context.Context, fs afero.Fs, path string, bf beamformer.Interface, sttEngine speech_to_text.Interface, table *dispatch.Table, activities []string) (transcription, error) {
	dev, err := audio_device.OpenWavFile(fs, path, &audio_device.Config{FrameLength: 4096})
	if err != nil {
		return transcription{}, err
	}
	defer dev.Close()

	devCfg := dev.Config()
	buf := speech_extraction.NewSpeechBuffer(devCfg.Channels, devCfg.SampleRate)

	for {
		frame, err := dev.ReadFrame(devCfg.FrameLength)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcription{}, err
		}
		if err := buf.Append(frame); err != nil {
			return transcription{}, err
		}
	}
	buf.Finalize()

	aligned, err := bf.Align(buf)
	if err != nil {
		return transcription{}, fmt.Errorf("beamform: %w", err)
	}

	text, err := sttEngine.Process(ctx, aligned.IntBuffer())
	if err != nil {
		return transcription{}, fmt.Errorf("speech to text: %w", err)
	}

	res := transcription{Lags: aligned.Lags, Text: text}

	words := dispatch.Words(text)
	if name, ok := table.Match(words); ok {
		res.Command = name
	}
	if activity, ok := dispatch.NewVocabulary(activities...).Single(words); ok {
		res.Activity = activity
	}

	return res, nil
}
