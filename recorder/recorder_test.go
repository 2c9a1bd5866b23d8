package recorder

import (
	"testing"
	"time"

	"blueberry-voice/beamformer"
	"blueberry-voice/speech_extraction"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readWav(t *testing.T, fs afero.Fs, name string) (channels, rate int, data []int) {
	t.Helper()

	f, err := fs.Open(name)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	return buf.Format.NumChannels, buf.Format.SampleRate, buf.Data
}

func TestRecorder_SavesEveryPart(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec, err := New(&Config{FileSys: fs, Dir: "/var/lib/blueberry/debug", Logger: zerolog.Nop()})
	require.NoError(t, err)

	raw, err := speech_extraction.NewFinalizedBuffer(16000, [][]int16{{1, 2, 3}, {-1, -2, -3}})
	require.NoError(t, err)

	paths, err := rec.Save(Utterance{
		ID:          "abc",
		Time:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Aligned:     beamformer.AlignedSignal{Samples: []int16{0, 0, 0}, SampleRate: 16000},
		Raw:         raw,
		WakeContext: []int16{5, 6},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/var/lib/blueberry/debug/20260102-030405-abc-aligned.wav",
		"/var/lib/blueberry/debug/20260102-030405-abc-raw.wav",
		"/var/lib/blueberry/debug/20260102-030405-abc-wake.wav",
	}, paths)

	channels, rate, data := readWav(t, fs, paths[1])
	assert.Equal(t, 2, channels)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, []int{1, -1, 2, -2, 3, -3}, data)

	_, _, data = readWav(t, fs, paths[2])
	assert.Equal(t, []int{5, 6}, data)
}

func TestRecorder_SkipsMissingParts(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec, err := New(&Config{FileSys: fs, Dir: "/tmp/rec"})
	require.NoError(t, err)

	paths, err := rec.Save(Utterance{ID: "x", Aligned: beamformer.AlignedSignal{Samples: []int16{1}, SampleRate: 8000}})
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestRecorder_PrunesOldest(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec, err := New(&Config{FileSys: fs, Dir: "/rec", MaxFiles: 2})
	require.NoError(t, err)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, err := rec.Save(Utterance{
			ID:      "u",
			Time:    base.Add(time.Duration(i) * time.Second),
			Aligned: beamformer.AlignedSignal{Samples: []int16{1, 2}, SampleRate: 16000},
		})
		require.NoError(t, err)
	}

	infos, err := afero.ReadDir(fs, "/rec")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "20260501-120002-u-aligned.wav", infos[0].Name())
	assert.Equal(t, "20260501-120003-u-aligned.wav", infos[1].Name())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{Dir: "/x"})
	assert.Error(t, err)

	_, err = New(&Config{FileSys: afero.NewMemMapFs()})
	assert.Error(t, err)
}
