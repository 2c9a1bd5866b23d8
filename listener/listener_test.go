package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"blueberry-voice/audio_device"
	"blueberry-voice/beamformer"
	"blueberry-voice/dispatch"
	"blueberry-voice/indicator"
	"blueberry-voice/output"
	"blueberry-voice/recorder"
	"blueberry-voice/speech_extraction"
	"blueberry-voice/wake_word"

	"github.com/go-audio/audio"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRate        = 16000
	testFrameLength = 512
)

// wakeEngine fires on the n-th frame it sees.
type wakeEngine struct {
	mu    sync.Mutex
	calls int
	fire  map[int]bool
}

func (e *wakeEngine) Process([]int16) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	return e.fire[e.calls], nil
}

func (e *wakeEngine) SampleRate() int  { return testRate }
func (e *wakeEngine) FrameLength() int { return testFrameLength }
func (e *wakeEngine) Close() error     { return nil }

// scriptedSTT returns its texts in order, then empty strings. afterFirst runs
// once the first utterance is transcribed.
type scriptedSTT struct {
	mu         sync.Mutex
	texts      []string
	err        error
	frames     []int
	afterFirst func()
}

func (s *scriptedSTT) Process(_ context.Context, buf audio.Buffer) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames = append(s.frames, buf.NumFrames())
	if len(s.frames) == 1 && s.afterFirst != nil {
		s.afterFirst()
	}
	if s.err != nil {
		return "", s.err
	}
	if len(s.texts) == 0 {
		return "", nil
	}
	text := s.texts[0]
	s.texts = s.texts[1:]
	return text, nil
}

type fixedLevel float64

func (f fixedLevel) Level() float64 { return float64(f) }

type capturingNotes struct {
	saved chan Note
	shown int
}

func (c *capturingNotes) SaveNote(_ context.Context, note Note) error {
	c.saved <- note
	return nil
}

func (c *capturingNotes) ShowNotes(context.Context) error {
	c.shown++
	return nil
}

// loudBetween makes frames in [from, to) loud on every channel.
func loudBetween(from, to int64) func(frame int64, channel int) int16 {
	return func(frame int64, channel int) int16 {
		if frame < from || frame >= to {
			return 0
		}
		if frame%2 == 0 {
			return -1000
		}
		return 1000
	}
}

type harness struct {
	listener Interface
	device   *audio_device.Mock
	lock     *audio_device.Lock
	strip    *indicator.MemoryStrip
	out      *output.MemorySink
	stt      *scriptedSTT
	notes    *capturingNotes
}

func newHarness(t *testing.T, dev *audio_device.Mock, engine wake_word.Engine, stt *scriptedSTT, mutate func(*Config)) *harness {
	t.Helper()

	logger := zerolog.Nop()

	gate, err := wake_word.New(&wake_word.Config{Engine: engine, Logger: logger})
	require.NoError(t, err)

	segmenter, err := speech_extraction.New(&speech_extraction.Config{
		Margin: speech_extraction.DefaultMargin,
		Sleep:  func(context.Context, time.Duration) error { return nil },
		Logger: logger,
	})
	require.NoError(t, err)

	bf, err := beamformer.New(&beamformer.Config{Logger: logger})
	require.NoError(t, err)

	strip := indicator.NewMemoryStrip(12)
	leds, err := indicator.New(&indicator.Config{Strip: strip, Logger: logger})
	require.NoError(t, err)

	out := &output.MemorySink{}

	table, err := dispatch.DefaultTable()
	require.NoError(t, err)

	d, err := dispatch.New(&dispatch.Config{Table: table, Output: out, Logger: logger})
	require.NoError(t, err)

	notes := &capturingNotes{saved: make(chan Note, 1)}
	lock := audio_device.NewLock(dev)

	cfg := &Config{
		Lock:       lock,
		Gate:       gate,
		Level:      fixedLevel(60),
		Segmenter:  segmenter,
		Beamformer: bf,
		STTEngine:  stt,
		LEDs:       leds,
		Dispatcher: d,
		Output:     out,
		Notes:      notes,
		Chunk:      100 * time.Millisecond,
		NoteChunk:  200 * time.Millisecond,
		Logger:     logger,
	}
	if mutate != nil {
		mutate(cfg)
	}

	l, err := New(cfg)
	require.NoError(t, err)

	return &harness{listener: l, device: dev, lock: lock, strip: strip, out: out, stt: stt, notes: notes}
}

func newDevice(opts ...audio_device.MockOption) *audio_device.Mock {
	return audio_device.NewMock(audio_device.Config{SampleRate: testRate, Channels: 4, FrameLength: testFrameLength}, nil, opts...)
}

func hasFrame(frames [][]indicator.Pixel, want indicator.Pixel) bool {
	for _, f := range frames {
		if f[0] == want {
			return true
		}
	}
	return false
}

func TestListenLoop_WakeRecordTranscribeDispatch(t *testing.T) {
	// Three hotword frames, then one loud 100ms chunk followed by silence.
	wakeEnd := int64(3 * testFrameLength)
	dev := newDevice(audio_device.WithGenerator(loudBetween(wakeEnd, wakeEnd+1600)))
	stt := &scriptedSTT{texts: []string{"Please take a note.", "buy oat milk and coffee beans today"}}
	h := newHarness(t, dev, &wakeEngine{fire: map[int]bool{3: true}}, stt, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.listener.ListenLoop(ctx) }()

	var note Note
	select {
	case note = <-h.notes.saved:
	case <-time.After(5 * time.Second):
		t.Fatal("note was never saved")
	}

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, Note{Title: "buy oat milk and coffee", Text: "buy oat milk and coffee beans today"}, note)

	// loud chunk plus the quiet chunk that ended it, then one 200ms note chunk
	assert.Equal(t, []int{3200, 3200}, stt.frames)

	texts := h.out.Texts()
	require.GreaterOrEqual(t, len(texts), 3)
	assert.Equal(t, "I understood: Please take a note.", texts[0])
	assert.Equal(t, "I am eager to listen for your note!", texts[1])
	assert.Contains(t, texts[2], "buy oat milk")

	frames := h.strip.Frames()
	assert.True(t, hasFrame(frames, indicator.DayPalette.Listening), "listening leds")
	assert.True(t, hasFrame(frames, indicator.NoteColor), "note leds")

	assert.Zero(t, dev.Violations(), "audio reads overlapped")
}

func TestListenLoop_EndOfStream(t *testing.T) {
	dev := audio_device.NewMock(audio_device.Config{SampleRate: testRate, Channels: 4, FrameLength: testFrameLength}, make([]int16, 4*testFrameLength*3))
	h := newHarness(t, dev, &wakeEngine{}, &scriptedSTT{}, nil)

	err := h.listener.ListenLoop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStandby, h.listener.State())

	standby := indicator.DayPalette.Standby.Scale(25)
	assert.Equal(t, standby, h.strip.Last()[3])
}

func TestListenLoop_DeviceErrorIsReturned(t *testing.T) {
	dev := newDevice(audio_device.WithGenerator(loudBetween(0, 0)))
	require.NoError(t, dev.Close())
	h := newHarness(t, dev, &wakeEngine{}, &scriptedSTT{}, nil)

	err := h.listener.ListenLoop(context.Background())
	assert.ErrorIs(t, err, audio_device.ErrClosed)
}

// brokenDevice fails every read after the first n with a DeviceError.
type brokenDevice struct {
	*audio_device.Mock
	mu    sync.Mutex
	n     int
	reads int
}

func (b *brokenDevice) ReadFrame(frames int) (audio_device.Frame, error) {
	b.mu.Lock()
	b.reads++
	broken := b.reads > b.n
	b.mu.Unlock()

	if broken {
		return audio_device.Frame{}, &audio_device.DeviceError{Op: "read", Err: errors.New("unplugged")}
	}
	return b.Mock.ReadFrame(frames)
}

func TestListenLoop_DeviceLostDuringCommandEndsLoop(t *testing.T) {
	wakeEnd := int64(3 * testFrameLength)
	dev := newDevice(audio_device.WithGenerator(loudBetween(wakeEnd, wakeEnd+1600)))
	stt := &scriptedSTT{texts: []string{"Please take a note."}}
	stt.afterFirst = func() { require.NoError(t, dev.Close()) }
	h := newHarness(t, dev, &wakeEngine{fire: map[int]bool{3: true}}, stt, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.listener.ListenLoop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, audio_device.ErrClosed)
	assert.Contains(t, err.Error(), "take_note", "the failing command ends the loop")
	assert.Equal(t, []int{3200}, stt.frames)
}

func TestListenLoop_DeviceErrorDuringNoteIsFatal(t *testing.T) {
	wakeEnd := int64(3 * testFrameLength)
	mock := newDevice(audio_device.WithGenerator(loudBetween(wakeEnd, wakeEnd+1600)))
	// three wake frames and the two chunks of the command
	dev := &brokenDevice{Mock: mock, n: 5}

	h := newHarness(t, mock, &wakeEngine{fire: map[int]bool{3: true}}, &scriptedSTT{texts: []string{"new note"}}, func(c *Config) {
		c.Lock = audio_device.NewLock(dev)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.listener.ListenLoop(ctx)

	var devErr *audio_device.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "read", devErr.Op)
	assert.Contains(t, err.Error(), "take_note")

	texts := h.out.Texts()
	require.NotEmpty(t, texts)
	assert.Equal(t, "I am eager to listen for your note!", texts[len(texts)-1])
}

func TestListenLoop_SkipsOverflow(t *testing.T) {
	dev := audio_device.NewMock(audio_device.Config{SampleRate: testRate, Channels: 4, FrameLength: testFrameLength}, make([]int16, 4*testFrameLength))
	dev.InjectOverflow(3)
	engine := &wakeEngine{}
	h := newHarness(t, dev, engine, &scriptedSTT{}, nil)

	require.NoError(t, h.listener.ListenLoop(context.Background()))
	assert.Equal(t, 1, engine.calls)
}

func TestListenAndThink_TranscriptionErrorIsNotUnderstood(t *testing.T) {
	dev := newDevice(audio_device.WithGenerator(loudBetween(0, 0)))
	h := newHarness(t, dev, &wakeEngine{}, &scriptedSTT{err: errors.New("model crashed")}, nil)

	text, err := h.listener.ListenAndThink(context.Background(), ListenOptions{})
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Equal(t, StateThinking, h.listener.State())
}

func TestListenAndThink_WaitsForAudioLock(t *testing.T) {
	dev := newDevice(audio_device.WithGenerator(loudBetween(0, 0)))
	h := newHarness(t, dev, &wakeEngine{}, &scriptedSTT{texts: []string{"hello"}}, nil)

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = h.lock.Do(context.Background(), func(audio_device.Interface) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.listener.ListenAndThink(ctx, ListenOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	text, err := h.listener.ListenAndThink(context.Background(), ListenOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestListenAndThink_SavesRecording(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec, err := recorder.New(&recorder.Config{FileSys: fs, Dir: "/debug"})
	require.NoError(t, err)

	dev := newDevice(audio_device.WithGenerator(loudBetween(0, 0)))
	h := newHarness(t, dev, &wakeEngine{}, &scriptedSTT{texts: []string{"hi"}}, func(c *Config) {
		c.Recorder = rec
		c.WakeContext = time.Second
	})

	_, err = h.listener.ListenAndThink(context.Background(), ListenOptions{})
	require.NoError(t, err)

	infos, err := afero.ReadDir(fs, "/debug")
	require.NoError(t, err)
	assert.Len(t, infos, 2, "aligned and raw recordings")
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		check func(t *testing.T, h *harness, shutdowns int)
	}{
		{
			name: "brightness without lights",
			text: "make it brighter",
			check: func(t *testing.T, h *harness, _ int) {
				assert.Equal(t, []string{lightsNotConnected}, h.out.Texts())
			},
		},
		{
			name: "work out starts sport",
			text: "time to work out",
			check: func(t *testing.T, h *harness, _ int) {
				assert.Equal(t, []string{"Starting activity: sport"}, h.out.Texts())
			},
		},
		{
			name: "stop activity",
			text: "I am done",
			check: func(t *testing.T, h *harness, _ int) {
				assert.Equal(t, []string{"Stopped the current activity"}, h.out.Texts())
			},
		},
		{
			name: "show notes",
			text: "show notes",
			check: func(t *testing.T, h *harness, _ int) {
				assert.Equal(t, 1, h.notes.shown)
			},
		},
		{
			name: "shut down",
			text: "shut down please",
			check: func(t *testing.T, h *harness, shutdowns int) {
				assert.Equal(t, 1, shutdowns)
				assert.Equal(t, indicator.ShutdownColor, h.strip.Last()[0])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdowns := 0
			var d *dispatch.Dispatcher
			h := newHarness(t, newDevice(), &wakeEngine{}, &scriptedSTT{}, func(c *Config) {
				c.OnShutdown = func() { shutdowns++ }
				d = c.Dispatcher
			})

			res := d.Dispatch(context.Background(), tt.text)
			require.NoError(t, res.Err)
			tt.check(t, h, shutdowns)
		})
	}
}

func TestNoteTitle(t *testing.T) {
	assert.Equal(t, "one two three four five", noteTitle("one two three four five six seven"))
	assert.Equal(t, "short", noteTitle("  short "))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "recording", StateRecording.String())
	assert.Equal(t, "standby", StateStandby.String())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)
}
