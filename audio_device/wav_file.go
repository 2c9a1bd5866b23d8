package audio_device

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

type wavFileImpl struct {
	cfg      Config
	file     afero.File
	dec      *wav.Decoder
	loop     bool
	realtime bool
	eof      bool
	offset   int64

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    bool
}

type WavOption func(*wavFileImpl)

// WithLoop rewinds to the start of the file instead of returning io.EOF.
func WithLoop() WavOption {
	return func(w *wavFileImpl) { w.loop = true }
}

// WithRealtime paces reads to the file's sample rate, like a live device.
func WithRealtime() WavOption {
	return func(w *wavFileImpl) { w.realtime = true }
}

// OpenWavFile replays an interleaved 16-bit PCM WAV file as an input device.
// Zero SampleRate or Channels in cfg are taken from the file; non-zero values
// must match it.
func OpenWavFile(fs afero.Fs, path string, cfg *Config, opts ...WavOption) (Interface, error) {
	if fs == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	f, err := fs.Open(path)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, &DeviceError{Op: "open", Err: fmt.Errorf("%s is not a valid wav file", path)}
	}

	if dec.BitDepth != 16 {
		f.Close()
		return nil, &DeviceError{Op: "open", Err: fmt.Errorf("%s has %d bit samples, need 16", path, dec.BitDepth)}
	}

	resolved := *cfg
	if resolved.SampleRate == 0 {
		resolved.SampleRate = int(dec.SampleRate)
	}
	if resolved.Channels == 0 {
		resolved.Channels = int(dec.NumChans)
	}
	if resolved.FrameLength == 0 {
		resolved.FrameLength = 512
	}

	if resolved.SampleRate != int(dec.SampleRate) || resolved.Channels != int(dec.NumChans) {
		f.Close()
		return nil, &DeviceError{Op: "open", Err: fmt.Errorf("%s is %d Hz / %d channels, need %d Hz / %d channels",
			path, dec.SampleRate, dec.NumChans, resolved.SampleRate, resolved.Channels)}
	}

	w := &wavFileImpl{
		cfg:  resolved,
		file: f,
		dec:  dec,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

func (w *wavFileImpl) ReadFrame(frames int) (Frame, error) {
	if frames <= 0 {
		return Frame{}, fmt.Errorf("frames must be positive, got %d", frames)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return Frame{}, ErrClosed
	}

	if w.eof {
		return Frame{}, io.EOF
	}

	ch := w.cfg.Channels
	need := frames * ch
	samples := make([]int16, need)
	collected := 0

	for collected < need {
		buf := &audio.IntBuffer{
			Format: &audio.Format{NumChannels: ch, SampleRate: w.cfg.SampleRate},
			Data:   make([]int, need-collected),
		}

		n, err := w.dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, &DeviceError{Op: "read", Err: err}
		}

		for i := 0; i < n; i++ {
			samples[collected+i] = int16(buf.Data[i])
		}
		collected += n

		if n > 0 {
			continue
		}

		if !w.loop {
			if collected == 0 {
				w.eof = true
				return Frame{}, io.EOF
			}

			// pad the final partial frame with silence
			w.eof = true
			break
		}

		if err := w.rewind(); err != nil {
			return Frame{}, &DeviceError{Op: "rewind", Err: err}
		}
	}

	if w.realtime {
		time.Sleep(time.Duration(frames) * time.Second / time.Duration(w.cfg.SampleRate))
	}

	f := Frame{Samples: samples, Channels: ch, Offset: w.offset}
	w.offset += int64(frames)

	return f, nil
}

func (w *wavFileImpl) rewind() error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	w.dec = wav.NewDecoder(w.file)

	return w.dec.FwdToPCM()
}

func (w *wavFileImpl) Config() Config {
	return w.cfg
}

func (w *wavFileImpl) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		w.closed = true
		w.closeErr = w.file.Close()
	})

	return w.closeErr
}
