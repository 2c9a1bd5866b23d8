package indicator

// Pixel is one RGB LED value.
type Pixel struct {
	R, G, B uint8
}

var Off = Pixel{}

// Scale dims p to percent of its value.
func (p Pixel) Scale(percent int) Pixel {
	if percent >= 100 {
		return p
	}
	if percent <= 0 {
		return Off
	}
	return Pixel{
		R: uint8(int(p.R) * percent / 100),
		G: uint8(int(p.G) * percent / 100),
		B: uint8(int(p.B) * percent / 100),
	}
}

type Palette struct {
	Name      string
	Thinking  Pixel
	Listening Pixel
	Standby   Pixel
}

var (
	DayPalette = Palette{
		Name:      "day",
		Thinking:  Pixel{0, 0, 239},
		Listening: Pixel{12, 0, 192},
		Standby:   Pixel{8, 8, 8},
	}

	// NightPalette is dimmer and leaves out blue.
	NightPalette = Palette{
		Name:      "night",
		Thinking:  Pixel{32, 8, 0},
		Listening: Pixel{32, 4, 0},
		Standby:   Pixel{8, 8, 0},
	}

	NoteColor     = Pixel{0, 192, 16}
	ShutdownColor = Pixel{2, 1, 0}

	colorWheel = [12]Pixel{
		{255, 0, 0}, {255, 127, 0}, {255, 255, 0}, {127, 255, 0},
		{0, 255, 0}, {0, 255, 127}, {0, 255, 255}, {0, 127, 255},
		{0, 0, 255}, {127, 0, 255}, {255, 0, 255}, {255, 0, 127},
	}
)
