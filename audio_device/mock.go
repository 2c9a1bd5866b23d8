package audio_device

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Mock is a deterministic in-memory device for tests and headless runs. It
// counts concurrent ReadFrame calls so tests can verify the lock discipline.
type Mock struct {
	cfg Config

	mu        sync.Mutex
	samples   []int16
	pos       int
	loop      bool
	generator func(frame int64, channel int) int16
	offset    int64
	readDelay time.Duration
	overflows int

	inFlight   atomic.Int32
	violations atomic.Int32
	reads      atomic.Int64
	closed     atomic.Bool
}

type MockOption func(*Mock)

// WithMockLoop replays samples forever.
func WithMockLoop() MockOption {
	return func(m *Mock) { m.loop = true }
}

// WithGenerator produces samples on demand instead of from a fixed slice.
func WithGenerator(fn func(frame int64, channel int) int16) MockOption {
	return func(m *Mock) { m.generator = fn }
}

// WithReadDelay makes every read block for d, like a real-time device.
func WithReadDelay(d time.Duration) MockOption {
	return func(m *Mock) { m.readDelay = d }
}

// NewMock returns a device reading the interleaved samples in order. Without
// looping or a generator, reads past the end return io.EOF.
func NewMock(cfg Config, samples []int16, opts ...MockOption) *Mock {
	m := &Mock{cfg: cfg, samples: samples}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// InjectOverflow makes the next n reads fail with ErrOverflow.
func (m *Mock) InjectOverflow(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.overflows += n
}

func (m *Mock) ReadFrame(frames int) (Frame, error) {
	if m.inFlight.Add(1) > 1 {
		m.violations.Add(1)
	}
	defer m.inFlight.Add(-1)

	if m.closed.Load() {
		return Frame{}, ErrClosed
	}

	if m.readDelay > 0 {
		time.Sleep(m.readDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads.Add(1)

	if m.overflows > 0 {
		m.overflows--
		return Frame{}, ErrOverflow
	}

	ch := m.cfg.Channels
	out := make([]int16, frames*ch)

	switch {
	case m.generator != nil:
		for i := 0; i < frames; i++ {
			for c := 0; c < ch; c++ {
				out[i*ch+c] = m.generator(m.offset+int64(i), c)
			}
		}
	case len(m.samples) == 0 || (m.pos >= len(m.samples) && !m.loop):
		return Frame{}, io.EOF
	default:
		for i := range out {
			if m.pos >= len(m.samples) {
				if !m.loop {
					break
				}
				m.pos = 0
			}
			out[i] = m.samples[m.pos]
			m.pos++
		}
	}

	f := Frame{Samples: out, Channels: ch, Offset: m.offset}
	m.offset += int64(frames)

	return f, nil
}

func (m *Mock) Config() Config {
	return m.cfg
}

func (m *Mock) Close() error {
	m.closed.Store(true)
	return nil
}

// Violations returns how many reads overlapped another read.
func (m *Mock) Violations() int {
	return int(m.violations.Load())
}

// Reads returns the number of completed read attempts.
func (m *Mock) Reads() int64 {
	return m.reads.Load()
}
