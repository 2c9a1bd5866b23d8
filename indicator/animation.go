package indicator

import (
	"math"
	"time"
)

type Kind int

const (
	KindClear Kind = iota
	KindStandby
	KindListening
	KindThinking
	KindColorWheel
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindClear:
		return "clear"
	case KindStandby:
		return "standby"
	case KindListening:
		return "listening"
	case KindThinking:
		return "thinking"
	case KindColorWheel:
		return "color_wheel"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Animated reports whether the kind runs as a routine rather than a single
// frame.
func (k Kind) Animated() bool {
	return k == KindThinking || k == KindColorWheel
}

const (
	DefaultThinkingInterval   = 50 * time.Millisecond
	DefaultColorWheelInterval = time.Second

	thinkingFrequency = 0.75
	standbyBrightness = 25
	wheelBrightness   = 10
)

var standbyPixels = []int{3, 4, 5, 6}

// AnimationRequest selects what the strip shows. Color overrides the palette
// color of the kind; Interval overrides the frame interval of animated kinds.
type AnimationRequest struct {
	Kind     Kind
	Color    *Pixel
	Interval time.Duration
}

func (r AnimationRequest) color(def Pixel) Pixel {
	if r.Color != nil {
		return *r.Color
	}
	return def
}

func (r AnimationRequest) interval() time.Duration {
	if r.Interval > 0 {
		return r.Interval
	}
	if r.Kind == KindColorWheel {
		return DefaultColorWheelInterval
	}
	return DefaultThinkingInterval
}

// staticFrame renders the single frame of a non-animated kind.
func staticFrame(req AnimationRequest, p Palette, n int) []Pixel {
	pixels := make([]Pixel, n)

	switch req.Kind {
	case KindStandby:
		c := req.color(p.Standby).Scale(standbyBrightness)
		for _, i := range standbyPixels {
			if i < n {
				pixels[i] = c
			}
		}
	case KindListening:
		fill(pixels, req.color(p.Listening))
	case KindShutdown:
		fill(pixels, req.color(ShutdownColor))
	}

	return pixels
}

func fill(pixels []Pixel, c Pixel) {
	for i := range pixels {
		pixels[i] = c
	}
}

// thinkingLevels samples one period of the breathing sine, 0..1.
func thinkingLevels(interval time.Duration) []float64 {
	period := 1 / thinkingFrequency
	step := interval.Seconds()

	levels := make([]float64, 0, int(math.Ceil(period/step)))
	for t := 0.0; t < period; t += step {
		levels = append(levels, 0.5*math.Sin(thinkingFrequency*2*math.Pi*t)+0.5)
	}

	return levels
}

func thinkingFrame(peak Pixel, level float64, n int) []Pixel {
	pixels := make([]Pixel, n)
	fill(pixels, Pixel{
		R: uint8(float64(peak.R) * level),
		G: uint8(float64(peak.G) * level),
		B: uint8(float64(peak.B) * level),
	})
	return pixels
}

// wheelColors is the rainbow wheel, or a single color on every position.
func wheelColors(req AnimationRequest, n int) []Pixel {
	colors := make([]Pixel, n)
	for i := range colors {
		if req.Color != nil {
			colors[i] = *req.Color
		} else {
			colors[i] = colorWheel[i%len(colorWheel)]
		}
		colors[i] = colors[i].Scale(wheelBrightness)
	}
	return colors
}
