package indicator

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/apa102"
	"periph.io/x/host/v3"
)

// Strip is an addressable LED strip. Write replaces every pixel at once.
type Strip interface {
	Len() int
	Write(pixels []Pixel) error
	Close() error
}

type apa102Impl struct {
	dev   *apa102.Dev
	port  spi.PortCloser
	power gpio.PinIO
	n     int
	buf   []byte
}

type APA102Config struct {
	// SPIPort is the periph port name, empty for the first one.
	SPIPort   string
	NumPixels int
	// Intensity is the global brightness, 0-255.
	Intensity uint8
	// PowerPin is switched high before the strip is used, e.g. "GPIO5".
	PowerPin string
}

// NewAPA102 opens an APA102 strip on SPI, as found on the ReSpeaker 4-mic
// array.
func NewAPA102(cfg *APA102Config) (Strip, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.NumPixels <= 0 {
		return nil, fmt.Errorf("pixel count must be positive, got %d", cfg.NumPixels)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	var power gpio.PinIO
	if cfg.PowerPin != "" {
		power = gpioreg.ByName(cfg.PowerPin)
		if power == nil {
			return nil, fmt.Errorf("unknown power pin %q", cfg.PowerPin)
		}
		if err := power.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("power pin %s: %w", cfg.PowerPin, err)
		}
	}

	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", cfg.SPIPort, err)
	}

	dev, err := apa102.New(port, &apa102.Opts{
		NumPixels:   cfg.NumPixels,
		Intensity:   cfg.Intensity,
		Temperature: apa102.NeutralTemp,
	})
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("apa102: %w", err)
	}

	return &apa102Impl{
		dev:   dev,
		port:  port,
		power: power,
		n:     cfg.NumPixels,
		buf:   make([]byte, 3*cfg.NumPixels),
	}, nil
}

func (a *apa102Impl) Len() int {
	return a.n
}

func (a *apa102Impl) Write(pixels []Pixel) error {
	if len(pixels) != a.n {
		return fmt.Errorf("got %d pixels, strip has %d", len(pixels), a.n)
	}

	for i, p := range pixels {
		a.buf[3*i] = p.R
		a.buf[3*i+1] = p.G
		a.buf[3*i+2] = p.B
	}

	_, err := a.dev.Write(a.buf)
	return err
}

func (a *apa102Impl) Close() error {
	err := a.dev.Halt()

	if cerr := a.port.Close(); err == nil {
		err = cerr
	}

	if a.power != nil {
		if perr := a.power.Out(gpio.Low); err == nil {
			err = perr
		}
	}

	return err
}

const memoryStripHistory = 4096

// MemoryStrip keeps the last written frames. It stands in for the hardware in
// tests and on machines without LEDs.
type MemoryStrip struct {
	mu     sync.Mutex
	n      int
	frames [][]Pixel
	closed bool
}

func NewMemoryStrip(n int) *MemoryStrip {
	return &MemoryStrip{n: n}
}

func (m *MemoryStrip) Len() int {
	return m.n
}

func (m *MemoryStrip) Write(pixels []Pixel) error {
	if len(pixels) != m.n {
		return fmt.Errorf("got %d pixels, strip has %d", len(pixels), m.n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("strip closed")
	}

	if len(m.frames) == memoryStripHistory {
		m.frames = append(m.frames[:0], m.frames[1:]...)
	}
	m.frames = append(m.frames, append([]Pixel(nil), pixels...))
	return nil
}

func (m *MemoryStrip) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Frames returns a copy of the written frames.
func (m *MemoryStrip) Frames() [][]Pixel {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([][]Pixel(nil), m.frames...)
}

// Last returns the most recent frame, nil when nothing was written.
func (m *MemoryStrip) Last() []Pixel {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.frames) == 0 {
		return nil
	}
	return m.frames[len(m.frames)-1]
}
