// Package config loads the assistant configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const EnvPrefix = "BLUEBERRY"

type Config struct {
	Assistant    AssistantConfig  `mapstructure:"assistant"`
	Audio        AudioConfig      `mapstructure:"audio"`
	WakeWord     WakeWordConfig   `mapstructure:"wake_word"`
	Silence      SilenceConfig    `mapstructure:"silence"`
	Recording    RecordingConfig  `mapstructure:"recording"`
	Beamformer   BeamformerConfig `mapstructure:"beamformer"`
	STT          STTConfig        `mapstructure:"stt"`
	LEDs         LEDConfig        `mapstructure:"leds"`
	Schedule     ScheduleConfig   `mapstructure:"schedule"`
	CommandsFile string           `mapstructure:"commands_file"` // empty uses the built-in table
	Activities   []string         `mapstructure:"activities"`
	Output       OutputConfig     `mapstructure:"output"`
	Metrics      MetricsConfig    `mapstructure:"metrics"`
	Debug        DebugConfig      `mapstructure:"debug"`
	Log          LogConfig        `mapstructure:"log"`
}

type AssistantConfig struct {
	Name string `mapstructure:"name"`
}

type AudioConfig struct {
	DeviceName  string `mapstructure:"device_name"`
	SampleRate  int    `mapstructure:"sample_rate"`
	Channels    int    `mapstructure:"channels"`
	FrameLength int    `mapstructure:"frame_length"`
	// ReplayFile replaces the sound card with a WAV file.
	ReplayFile string `mapstructure:"replay_file"`
	ReplayLoop bool   `mapstructure:"replay_loop"`
}

type WakeWordConfig struct {
	AccessKey     string    `mapstructure:"access_key"`
	Keywords      []string  `mapstructure:"keywords"`
	KeywordPaths  []string  `mapstructure:"keyword_paths"`
	Sensitivities []float32 `mapstructure:"sensitivities"`
	ModelPath     string    `mapstructure:"model_path"`
	Channel       int       `mapstructure:"channel"`
}

type SilenceConfig struct {
	Floor               float64       `mapstructure:"floor"`
	Margin              float64       `mapstructure:"margin"`
	CalibrationDuration time.Duration `mapstructure:"calibration_duration"`
	RecalibrateEvery    time.Duration `mapstructure:"recalibrate_every"`
	LockTimeout         time.Duration `mapstructure:"lock_timeout"`
}

type RecordingConfig struct {
	Chunk       time.Duration `mapstructure:"chunk"`
	NoteChunk   time.Duration `mapstructure:"note_chunk"`
	AttackDelay time.Duration `mapstructure:"attack_delay"`
	// MaxChunks caps a recording; 0 records until silence.
	MaxChunks int `mapstructure:"max_chunks"`
}

type BeamformerConfig struct {
	Reference int `mapstructure:"reference"`
	MaxLag    int `mapstructure:"max_lag"`
}

type STTConfig struct {
	ModelPath string `mapstructure:"model_path"`
	Language  string `mapstructure:"language"`
}

type LEDConfig struct {
	// Driver is "apa102" or "memory".
	Driver    string `mapstructure:"driver"`
	SPIPort   string `mapstructure:"spi_port"`
	Count     int    `mapstructure:"count"`
	Intensity uint8  `mapstructure:"intensity"`
	PowerPin  string `mapstructure:"power_pin"`
}

type ScheduleConfig struct {
	NightTime  string        `mapstructure:"night_time"`
	DayTime    string        `mapstructure:"day_time"`
	Timezone   string        `mapstructure:"timezone"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
	Alerts     []AlertConfig `mapstructure:"alerts"`
}

type AlertConfig struct {
	At      string `mapstructure:"at"`
	Message string `mapstructure:"message"`
}

type OutputConfig struct {
	PresenterURL string `mapstructure:"presenter_url"`
	Buffer       int    `mapstructure:"buffer"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

type DebugConfig struct {
	// RecordDir enables WAV dumps of every utterance.
	RecordDir   string        `mapstructure:"record_dir"`
	MaxFiles    int           `mapstructure:"max_files"`
	WakeContext time.Duration `mapstructure:"wake_context"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Assistant: AssistantConfig{
			Name: "Blueberry",
		},
		Audio: AudioConfig{
			DeviceName:  "seeed-4mic-voicecard",
			SampleRate:  16000,
			Channels:    4,
			FrameLength: 512,
		},
		WakeWord: WakeWordConfig{
			Keywords: []string{"blueberry"},
			Channel:  0,
		},
		Silence: SilenceConfig{
			Floor:               60,
			Margin:              20,
			CalibrationDuration: 2 * time.Second,
			RecalibrateEvery:    time.Minute,
			LockTimeout:         5 * time.Second,
		},
		Recording: RecordingConfig{
			Chunk:       time.Second,
			NoteChunk:   5 * time.Second,
			AttackDelay: 200 * time.Millisecond,
		},
		LEDs: LEDConfig{
			Driver:    "apa102",
			Count:     12,
			Intensity: 255,
			PowerPin:  "GPIO5",
		},
		Schedule: ScheduleConfig{
			NightTime:  "20:30",
			JobTimeout: time.Minute,
		},
		Activities: []string{"sport", "reading", "coding", "socializing", "walking", "writing", "reflecting", "relaxing"},
		Output: OutputConfig{
			Buffer: 64,
		},
		Debug: DebugConfig{
			MaxFiles:    50,
			WakeContext: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("assistant.name", cfg.Assistant.Name)

	v.SetDefault("audio.device_name", cfg.Audio.DeviceName)
	v.SetDefault("audio.sample_rate", cfg.Audio.SampleRate)
	v.SetDefault("audio.channels", cfg.Audio.Channels)
	v.SetDefault("audio.frame_length", cfg.Audio.FrameLength)
	v.SetDefault("audio.replay_file", cfg.Audio.ReplayFile)
	v.SetDefault("audio.replay_loop", cfg.Audio.ReplayLoop)

	v.SetDefault("wake_word.access_key", cfg.WakeWord.AccessKey)
	v.SetDefault("wake_word.keywords", cfg.WakeWord.Keywords)
	v.SetDefault("wake_word.keyword_paths", cfg.WakeWord.KeywordPaths)
	v.SetDefault("wake_word.sensitivities", cfg.WakeWord.Sensitivities)
	v.SetDefault("wake_word.model_path", cfg.WakeWord.ModelPath)
	v.SetDefault("wake_word.channel", cfg.WakeWord.Channel)

	v.SetDefault("silence.floor", cfg.Silence.Floor)
	v.SetDefault("silence.margin", cfg.Silence.Margin)
	v.SetDefault("silence.calibration_duration", cfg.Silence.CalibrationDuration)
	v.SetDefault("silence.recalibrate_every", cfg.Silence.RecalibrateEvery)
	v.SetDefault("silence.lock_timeout", cfg.Silence.LockTimeout)

	v.SetDefault("recording.chunk", cfg.Recording.Chunk)
	v.SetDefault("recording.note_chunk", cfg.Recording.NoteChunk)
	v.SetDefault("recording.attack_delay", cfg.Recording.AttackDelay)
	v.SetDefault("recording.max_chunks", cfg.Recording.MaxChunks)

	v.SetDefault("beamformer.reference", cfg.Beamformer.Reference)
	v.SetDefault("beamformer.max_lag", cfg.Beamformer.MaxLag)

	v.SetDefault("stt.model_path", cfg.STT.ModelPath)
	v.SetDefault("stt.language", cfg.STT.Language)

	v.SetDefault("leds.driver", cfg.LEDs.Driver)
	v.SetDefault("leds.spi_port", cfg.LEDs.SPIPort)
	v.SetDefault("leds.count", cfg.LEDs.Count)
	v.SetDefault("leds.intensity", cfg.LEDs.Intensity)
	v.SetDefault("leds.power_pin", cfg.LEDs.PowerPin)

	v.SetDefault("schedule.night_time", cfg.Schedule.NightTime)
	v.SetDefault("schedule.day_time", cfg.Schedule.DayTime)
	v.SetDefault("schedule.timezone", cfg.Schedule.Timezone)
	v.SetDefault("schedule.job_timeout", cfg.Schedule.JobTimeout)

	v.SetDefault("commands_file", cfg.CommandsFile)
	v.SetDefault("activities", cfg.Activities)

	v.SetDefault("output.presenter_url", cfg.Output.PresenterURL)
	v.SetDefault("output.buffer", cfg.Output.Buffer)

	v.SetDefault("metrics.address", cfg.Metrics.Address)

	v.SetDefault("debug.record_dir", cfg.Debug.RecordDir)
	v.SetDefault("debug.max_files", cfg.Debug.MaxFiles)
	v.SetDefault("debug.wake_context", cfg.Debug.WakeContext)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// Load reads path, or blueberry.yaml from the working directory or
// /etc/blueberry when path is empty. A missing default file is not an error.
// BLUEBERRY_* environment variables override file values, e.g.
// BLUEBERRY_WAKE_WORD_ACCESS_KEY.
func Load(fs afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("blueberry")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/blueberry")
	}

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Defaults come from viper; a configured list replaces the default one.
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive"))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive"))
	}
	if c.Audio.FrameLength <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_length must be positive"))
	}
	if c.WakeWord.Channel < 0 || c.WakeWord.Channel >= c.Audio.Channels {
		errs = append(errs, fmt.Errorf("wake_word.channel %d outside the %d audio channels", c.WakeWord.Channel, c.Audio.Channels))
	}
	if c.Beamformer.Reference < 0 || c.Beamformer.Reference >= c.Audio.Channels {
		errs = append(errs, fmt.Errorf("beamformer.reference %d outside the %d audio channels", c.Beamformer.Reference, c.Audio.Channels))
	}
	if c.Silence.Floor < 0 {
		errs = append(errs, fmt.Errorf("silence.floor must not be negative"))
	}
	if c.Silence.CalibrationDuration <= 0 {
		errs = append(errs, fmt.Errorf("silence.calibration_duration must be positive"))
	}
	if c.Silence.RecalibrateEvery < time.Second {
		errs = append(errs, fmt.Errorf("silence.recalibrate_every must be at least 1s"))
	}
	if c.Recording.Chunk <= 0 || c.Recording.NoteChunk <= 0 {
		errs = append(errs, fmt.Errorf("recording chunks must be positive"))
	}
	if c.Recording.MaxChunks < 0 {
		errs = append(errs, fmt.Errorf("recording.max_chunks must not be negative"))
	}
	switch c.LEDs.Driver {
	case "apa102", "memory":
	default:
		errs = append(errs, fmt.Errorf("leds.driver %q is not apa102 or memory", c.LEDs.Driver))
	}
	if c.LEDs.Count <= 0 {
		errs = append(errs, fmt.Errorf("leds.count must be positive"))
	}
	for _, at := range []string{c.Schedule.NightTime, c.Schedule.DayTime} {
		if at == "" {
			continue
		}
		if _, err := time.Parse("15:04", at); err != nil {
			errs = append(errs, fmt.Errorf("schedule time %q is not HH:MM", at))
		}
	}
	for i, a := range c.Schedule.Alerts {
		if _, err := time.Parse("15:04", a.At); err != nil {
			errs = append(errs, fmt.Errorf("schedule.alerts[%d].at %q is not HH:MM", i, a.At))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Location resolves schedule.timezone, local time when empty.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}
