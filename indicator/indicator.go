// Package indicator drives the status LED ring. One Session at a time owns
// the strip.
package indicator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"blueberry-voice/metrics"

	"github.com/rs/zerolog"
)

var (
	ErrBusy     = errors.New("led strip busy")
	ErrReleased = errors.New("led session released")
)

type Controller struct {
	strip   Strip
	sem     chan struct{}
	writeMu sync.Mutex
	palette atomic.Pointer[Palette]
	logger  zerolog.Logger
}

type Config struct {
	Strip  Strip
	Night  bool
	Logger zerolog.Logger
}

func New(cfg *Config) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Strip == nil {
		return nil, fmt.Errorf("strip is nil")
	}

	c := &Controller{
		strip:  cfg.Strip,
		sem:    make(chan struct{}, 1),
		logger: cfg.Logger,
	}
	c.SetNightMode(cfg.Night)

	return c, nil
}

// SetNightMode swaps the palette. Running animations pick it up on their next
// frame.
func (c *Controller) SetNightMode(night bool) {
	p := DayPalette
	if night {
		p = NightPalette
	}
	c.palette.Store(&p)

	c.logger.Info().Str("palette", p.Name).Msg("palette set")
}

func (c *Controller) Palette() Palette {
	return *c.palette.Load()
}

// Acquire blocks until the strip is free or ctx is done.
func (c *Controller) Acquire(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	metrics.LockWait.WithLabelValues("strip").Observe(time.Since(start).Seconds())

	return &Session{c: c}, nil
}

// TryAcquire waits at most timeout for the strip and returns ErrBusy after.
func (c *Controller) TryAcquire(timeout time.Duration) (*Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s, err := c.Acquire(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrBusy
	}
	return s, err
}

// Close clears the strip and closes the driver. It waits for the current
// owner to release.
func (c *Controller) Close(ctx context.Context) error {
	s, err := c.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Release()

	if err := s.Show(AnimationRequest{Kind: KindClear}); err != nil {
		c.logger.Warn().Err(err).Msg("clearing strip")
	}

	return c.strip.Close()
}

func (c *Controller) write(pixels []Pixel) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.strip.Write(pixels)
}

// Session is exclusive ownership of the strip. Callers defer Release.
type Session struct {
	c *Controller

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	released bool
}

// Show stops any running routine and writes a single frame. Animated kinds
// show their first frame.
func (s *Session) Show(req AnimationRequest) error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}

	n := s.c.strip.Len()
	p := s.c.Palette()

	switch req.Kind {
	case KindThinking:
		return s.c.write(thinkingFrame(req.color(p.Thinking), thinkingLevels(req.interval())[0], n))
	case KindColorWheel:
		return s.c.write(make([]Pixel, n))
	default:
		return s.c.write(staticFrame(req, p, n))
	}
}

// Animate replaces whatever the session shows with req. Animated kinds run
// on their own goroutine until Stop, Release or the next Show or Animate.
func (s *Session) Animate(req AnimationRequest) error {
	if !req.Kind.Animated() {
		return s.Show(req)
	}

	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	go func() {
		defer close(done)

		r := &runner{c: s.c, stop: stop, interval: req.interval()}

		switch req.Kind {
		case KindThinking:
			r.thinking(req)
		case KindColorWheel:
			r.colorWheel(req)
		}
	}()

	return nil
}

// Stop ends the running routine, if any, and waits for it. The routine
// notices within one frame interval.
func (s *Session) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}

	close(stop)
	<-done
}

// Release stops the routine and gives the strip back. It is safe to call
// more than once.
func (s *Session) Release() {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}
	s.released = true

	<-s.c.sem
}

type runner struct {
	c        *Controller
	stop     <-chan struct{}
	interval time.Duration
}

// frame writes pixels and waits one interval. It returns false once the
// routine must stop.
func (r *runner) frame(pixels []Pixel) bool {
	select {
	case <-r.stop:
		return false
	default:
	}

	if err := r.c.write(pixels); err != nil {
		r.c.logger.Warn().Err(err).Msg("writing led frame")
	}

	t := time.NewTimer(r.interval)
	defer t.Stop()

	select {
	case <-r.stop:
		return false
	case <-t.C:
		return true
	}
}

func (r *runner) thinking(req AnimationRequest) {
	n := r.c.strip.Len()
	levels := thinkingLevels(r.interval)

	for {
		for _, level := range levels {
			peak := req.color(r.c.Palette().Thinking)
			if !r.frame(thinkingFrame(peak, level, n)) {
				return
			}
		}
	}
}

// colorWheel lights the ring up one pixel per step and then turns it off
// again the same way.
func (r *runner) colorWheel(req AnimationRequest) {
	n := r.c.strip.Len()
	colors := wheelColors(req, n)
	pixels := make([]Pixel, n)

	defer func() {
		if err := r.c.write(make([]Pixel, n)); err != nil {
			r.c.logger.Warn().Err(err).Msg("clearing led strip")
		}
	}()

	for {
		for i := 0; i < n; i++ {
			pixels[i] = colors[i]
			if !r.frame(append([]Pixel(nil), pixels...)) {
				return
			}
		}
		for i := 0; i < n; i++ {
			pixels[i] = Off
			if !r.frame(append([]Pixel(nil), pixels...)) {
				return
			}
		}
	}
}
