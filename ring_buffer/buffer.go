// Package ring_buffer keeps the most recent samples of a stream.
package ring_buffer

type Buffer struct {
	buffer []int16
	head   int
	filled int
}

func New(size int) *Buffer {
	if size < 1 {
		size = 1
	}

	return &Buffer{
		buffer: make([]int16, size),
		head:   0,
	}
}

func (r *Buffer) Add(samples []int16) {
	for _, s := range samples {
		r.buffer[r.head] = s
		r.head = (r.head + 1) % len(r.buffer)
	}

	r.filled += len(samples)
	if r.filled > len(r.buffer) {
		r.filled = len(r.buffer)
	}
}

// Read returns the buffered samples, oldest first.
func (r *Buffer) Read() []int16 {
	samples := make([]int16, r.filled)
	start := r.head - r.filled + len(r.buffer)
	for i := 0; i < r.filled; i++ {
		samples[i] = r.buffer[(start+i)%len(r.buffer)]
	}
	return samples
}

// Len is the number of buffered samples, at most Cap.
func (r *Buffer) Len() int {
	return r.filled
}

func (r *Buffer) Cap() int {
	return len(r.buffer)
}

func (r *Buffer) Clear() {
	for i := 0; i < len(r.buffer); i++ {
		r.buffer[i] = 0
	}
	r.head = 0
	r.filled = 0
}
