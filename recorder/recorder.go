// Package recorder dumps utterances to WAV files for debugging the
// segmenter and the beamformer.
package recorder

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"blueberry-voice/beamformer"
	"blueberry-voice/speech_extraction"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/zenwerk/go-wave"
)

type Utterance struct {
	ID   string
	Time time.Time
	// Aligned is the beamformed signal handed to transcription.
	Aligned beamformer.AlignedSignal
	// Raw is the multichannel recording. Optional.
	Raw *speech_extraction.SpeechBuffer
	// WakeContext is the hotword channel leading up to the wake word.
	// Optional.
	WakeContext []int16
}

func (u Utterance) sampleRate() int {
	if u.Aligned.SampleRate > 0 || u.Raw == nil {
		return u.Aligned.SampleRate
	}
	return u.Raw.SampleRate()
}

type Interface interface {
	// Save writes the parts of u that are present and returns the file
	// paths.
	Save(u Utterance) ([]string, error)
}

type recorderImpl struct {
	fileSys  afero.Fs
	dir      string
	maxFiles int
	logger   zerolog.Logger
}

type Config struct {
	FileSys afero.Fs
	Dir     string
	// MaxFiles keeps at most this many WAV files in Dir, deleting the
	// oldest. 0 keeps everything.
	MaxFiles int
	Logger   zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FileSys == nil {
		return nil, fmt.Errorf("file system is nil")
	}

	if cfg.Dir == "" {
		return nil, fmt.Errorf("directory is empty")
	}

	if err := cfg.FileSys.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", cfg.Dir, err)
	}

	return &recorderImpl{
		fileSys:  cfg.FileSys,
		dir:      cfg.Dir,
		maxFiles: cfg.MaxFiles,
		logger:   cfg.Logger,
	}, nil
}

func (r *recorderImpl) Save(u Utterance) ([]string, error) {
	if u.Time.IsZero() {
		u.Time = time.Now()
	}

	prefix := path.Join(r.dir, u.Time.Format("20060102-150405")+"-"+u.ID)

	var paths []string

	if len(u.Aligned.Samples) > 0 {
		p := prefix + "-aligned.wav"
		if err := r.write(p, 1, u.Aligned.SampleRate, u.Aligned.Samples); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}

	if u.Raw != nil && u.Raw.Len() > 0 {
		p := prefix + "-raw.wav"
		if err := r.write(p, u.Raw.Channels(), u.Raw.SampleRate(), interleave(u.Raw)); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}

	if len(u.WakeContext) > 0 {
		p := prefix + "-wake.wav"
		if err := r.write(p, 1, u.sampleRate(), u.WakeContext); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}

	r.logger.Debug().Strs("files", paths).Msg("saved utterance")

	if err := r.prune(); err != nil {
		r.logger.Warn().Err(err).Msg("pruning recordings")
	}

	return paths, nil
}

func (r *recorderImpl) write(name string, channels, sampleRate int, samples []int16) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%s: invalid sample rate %d", name, sampleRate)
	}

	waveFile, err := r.fileSys.Create(name)
	if err != nil {
		return err
	}

	param := wave.WriterParam{
		Out:           waveFile,
		Channel:       channels,
		SampleRate:    sampleRate,
		BitsPerSample: 16,
	}

	waveWriter, err := wave.NewWriter(param)
	if err != nil {
		_ = waveFile.Close()
		return err
	}

	if _, err := waveWriter.WriteSample16(samples); err != nil {
		_ = waveWriter.Close()
		return fmt.Errorf("%s: %w", name, err)
	}

	return waveWriter.Close()
}

func (r *recorderImpl) prune() error {
	if r.maxFiles <= 0 {
		return nil
	}

	infos, err := afero.ReadDir(r.fileSys, r.dir)
	if err != nil {
		return err
	}

	var names []string
	for _, fi := range infos {
		if !fi.IsDir() && strings.HasSuffix(fi.Name(), ".wav") {
			names = append(names, fi.Name())
		}
	}

	if len(names) <= r.maxFiles {
		return nil
	}

	// Names start with the timestamp.
	sort.Strings(names)
	for _, name := range names[:len(names)-r.maxFiles] {
		if err := r.fileSys.Remove(path.Join(r.dir, name)); err != nil {
			return err
		}
	}

	return nil
}

func interleave(buf *speech_extraction.SpeechBuffer) []int16 {
	n, ch := buf.Len(), buf.Channels()
	out := make([]int16, n*ch)
	for c := 0; c < ch; c++ {
		samples := buf.Channel(c)
		for i := 0; i < n; i++ {
			out[i*ch+c] = samples[i]
		}
	}
	return out
}
