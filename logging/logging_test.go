package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{in: "", want: zerolog.InfoLevel},
		{in: "debug", want: zerolog.DebugLevel},
		{in: "WARN", want: zerolog.WarnLevel},
		{in: "error", want: zerolog.ErrorLevel},
		{in: "verbose", want: zerolog.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSONComponent(t *testing.T) {
	var buf bytes.Buffer

	logger, err := New(&Config{Level: "info", Format: FormatJSON, Out: &buf})
	require.NoError(t, err)

	l := Component(logger, "segmenter")
	l.Info().Msg("hello")
	l.Debug().Msg("filtered")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "segmenter", entry["component"])
	assert.Equal(t, "hello", entry["message"])
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, err := New(&Config{Format: "xml"})
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)
}
