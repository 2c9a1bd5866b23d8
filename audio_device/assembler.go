package audio_device

// assembler turns fixed-size backend buffers into reads of any length. Surplus
// samples are carried over to the next read.
type assembler struct {
	channels int
	pending  []int16
	offset   int64
}

func newAssembler(channels int) *assembler {
	return &assembler{channels: channels}
}

func (a *assembler) push(samples []int16) {
	a.pending = append(a.pending, samples...)
}

func (a *assembler) buffered() int {
	return len(a.pending) / a.channels
}

func (a *assembler) pop(frames int) Frame {
	n := frames * a.channels
	out := make([]int16, n)
	copy(out, a.pending[:n])
	a.pending = append(a.pending[:0], a.pending[n:]...)

	f := Frame{Samples: out, Channels: a.channels, Offset: a.offset}
	a.offset += int64(frames)

	return f
}
