package speech_extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMedianAbs(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{name: "empty", samples: nil, want: 0},
		{name: "odd count", samples: []int16{-5, 1, 3}, want: 3},
		{name: "even count averages middle", samples: []int16{1, -2, 3, -10}, want: 2.5},
		{name: "outlier resistant", samples: []int16{10, -10, 10, 32000, -32000}, want: 10},
		{name: "most negative sample", samples: []int16{-32768, -32768, -32768}, want: 32768},
		{name: "all zero", samples: make([]int16, 64), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MedianAbs(tt.samples))
		})
	}
}
