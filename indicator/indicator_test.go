package indicator

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(t *testing.T, n int) (*Controller, *MemoryStrip) {
	t.Helper()

	strip := NewMemoryStrip(n)
	c, err := New(&Config{Strip: strip, Logger: zerolog.Nop()})
	require.NoError(t, err)

	return c, strip
}

func TestSession_ShowStaticFrames(t *testing.T) {
	c, strip := newController(t, 12)

	s, err := c.Acquire(context.Background())
	require.NoError(t, err)
	defer s.Release()

	require.NoError(t, s.Show(AnimationRequest{Kind: KindListening}))
	for _, p := range strip.Last() {
		assert.Equal(t, Pixel{12, 0, 192}, p)
	}

	require.NoError(t, s.Show(AnimationRequest{Kind: KindStandby}))
	last := strip.Last()
	for i, p := range last {
		if i >= 3 && i <= 6 {
			assert.Equal(t, Pixel{2, 2, 2}, p, "pixel %d", i)
		} else {
			assert.Equal(t, Off, p, "pixel %d", i)
		}
	}

	require.NoError(t, s.Show(AnimationRequest{Kind: KindShutdown}))
	assert.Equal(t, ShutdownColor, strip.Last()[11])

	note := NoteColor
	require.NoError(t, s.Show(AnimationRequest{Kind: KindListening, Color: &note}))
	assert.Equal(t, NoteColor, strip.Last()[0])

	require.NoError(t, s.Show(AnimationRequest{Kind: KindClear}))
	assert.Equal(t, make([]Pixel, 12), strip.Last())
}

func TestController_NightMode(t *testing.T) {
	c, strip := newController(t, 12)

	c.SetNightMode(true)
	assert.Equal(t, NightPalette, c.Palette())

	s, err := c.Acquire(context.Background())
	require.NoError(t, err)
	defer s.Release()

	require.NoError(t, s.Show(AnimationRequest{Kind: KindListening}))
	assert.Equal(t, Pixel{32, 4, 0}, strip.Last()[0])

	c.SetNightMode(false)
	require.NoError(t, s.Show(AnimationRequest{Kind: KindListening}))
	assert.Equal(t, Pixel{12, 0, 192}, strip.Last()[0])
}

func TestSession_ThinkingBreathesAndStops(t *testing.T) {
	c, strip := newController(t, 12)

	s, err := c.Acquire(context.Background())
	require.NoError(t, err)

	levels := thinkingLevels(time.Millisecond)
	require.NoError(t, s.Animate(AnimationRequest{Kind: KindThinking, Interval: time.Millisecond}))

	// A third of a breath is past the top of the sine.
	require.Eventually(t, func() bool { return len(strip.Frames()) > len(levels)/3 }, 10*time.Second, time.Millisecond)

	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	written := len(strip.Frames())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, written, len(strip.Frames()), "routine kept writing after stop")

	var peak uint8
	for i, f := range strip.Frames() {
		require.Equal(t, thinkingFrame(DayPalette.Thinking, levels[i%len(levels)], 12), f, "frame %d", i)
		if f[0].B > peak {
			peak = f[0].B
		}
	}
	assert.LessOrEqual(t, peak, uint8(239))
	assert.Greater(t, peak, uint8(200))

	s.Release()
}

func TestSession_StopLatencyIsOneFrame(t *testing.T) {
	c, _ := newController(t, 12)

	s, err := c.Acquire(context.Background())
	require.NoError(t, err)
	defer s.Release()

	// The wheel steps once per second; stop must not wait for the step.
	require.NoError(t, s.Animate(AnimationRequest{Kind: KindColorWheel}))
	time.Sleep(5 * time.Millisecond)

	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSession_ColorWheelFillsThenEmpties(t *testing.T) {
	c, strip := newController(t, 4)

	s, err := c.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Animate(AnimationRequest{Kind: KindColorWheel, Interval: time.Millisecond}))
	require.Eventually(t, func() bool { return len(strip.Frames()) >= 8 }, time.Second, time.Millisecond)
	s.Release()

	frames := strip.Frames()
	assert.Equal(t, Pixel{25, 0, 0}, frames[0][0])
	assert.Equal(t, Off, frames[0][1])
	assert.Equal(t, Pixel{25, 25, 0}, frames[3][2])
	assert.Equal(t, Off, frames[4][0])
	assert.Equal(t, make([]Pixel, 4), strip.Last(), "wheel clears the strip when stopped")
}

func TestSession_ReleaseIsIdempotent(t *testing.T) {
	c, _ := newController(t, 12)

	s, err := c.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Animate(AnimationRequest{Kind: KindThinking}))

	s.Release()
	s.Release()

	assert.ErrorIs(t, s.Show(AnimationRequest{Kind: KindListening}), ErrReleased)

	s2, err := c.TryAcquire(10 * time.Millisecond)
	require.NoError(t, err)
	s2.Release()
}

func TestController_TryAcquireWhileHeld(t *testing.T) {
	c, _ := newController(t, 12)

	s, err := c.Acquire(context.Background())
	require.NoError(t, err)
	defer s.Release()

	_, err = c.TryAcquire(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrBusy)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestController_OwnershipIntervalsNeverOverlap(t *testing.T) {
	c, _ := newController(t, 12)

	type interval struct{ start, end time.Time }

	var (
		mu        sync.Mutex
		intervals []interval
		wg        sync.WaitGroup
	)

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()

			for i := 0; i < 5; i++ {
				s, err := c.Acquire(context.Background())
				if !assert.NoError(t, err) {
					return
				}

				start := time.Now()
				if g%2 == 0 {
					assert.NoError(t, s.Animate(AnimationRequest{Kind: KindThinking, Interval: time.Millisecond}))
				} else {
					assert.NoError(t, s.Show(AnimationRequest{Kind: KindListening}))
				}
				time.Sleep(2 * time.Millisecond)
				s.Stop()
				end := time.Now()
				s.Release()

				mu.Lock()
				intervals = append(intervals, interval{start, end})
				mu.Unlock()
			}
		}(g)
	}

	wg.Wait()

	require.Len(t, intervals, 20)
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].start.Before(intervals[j].start) })
	for i := 1; i < len(intervals); i++ {
		assert.False(t, intervals[i].start.Before(intervals[i-1].end), "sessions %d and %d overlap", i-1, i)
	}
}

func TestController_Close(t *testing.T) {
	c, strip := newController(t, 3)

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, make([]Pixel, 3), strip.Last())
	assert.Error(t, strip.Write(make([]Pixel, 3)))
}

func TestPixel_Scale(t *testing.T) {
	p := Pixel{200, 100, 8}

	assert.Equal(t, p, p.Scale(100))
	assert.Equal(t, Pixel{50, 25, 2}, p.Scale(25))
	assert.Equal(t, Off, p.Scale(0))
}

func TestThinkingLevels(t *testing.T) {
	levels := thinkingLevels(DefaultThinkingInterval)

	assert.Len(t, levels, 27)
	assert.InDelta(t, 0.5, levels[0], 1e-9)
	for _, l := range levels {
		assert.GreaterOrEqual(t, l, 0.0)
		assert.LessOrEqual(t, l, 1.0)
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "color_wheel", KindColorWheel.String())
	assert.True(t, KindThinking.Animated())
	assert.False(t, KindStandby.Animated())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)
}
