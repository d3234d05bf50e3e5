// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/notedetect/internal/audio"
	"github.com/ColonelBlimp/notedetect/internal/dsp"
	"github.com/ColonelBlimp/notedetect/internal/engine"
	"github.com/ColonelBlimp/notedetect/internal/note"
	"github.com/ColonelBlimp/notedetect/internal/sink"
)

const (
	AppName       = "notedetect"
	ConfigType    = "yaml"
	DefaultConfig = `# Note Detector Configuration

# Audio device settings
device_index: -1        # -1 for default device (see 'notedetect devices')
sample_rate: 44100      # Capture sample rate in Hz
buffer_size: 512        # Device period size in samples

# Framing
frame_size: 2048        # Samples per analysis frame (power of 2)
overlap_pct: 0          # Frame overlap percentage (0-99), higher = more estimates per second

# Pitch estimation
silence_threshold: 0.02 # RMS below this is treated as silence (0.0-1.0)
trim_threshold: 0.2     # Amplitude used to trim frame edges before correlation (0.0-1.0)
correlation: "direct"   # Autocorrelation method: direct or fft
reference_pitch: 440    # A4 tuning reference in Hz

# Note confirmation
stability_frames: 5     # Consecutive matching frames required to confirm a note
range_filter: true      # Ignore notes outside min_note..max_note
min_note: A0            # Lowest accepted note, name or MIDI number (A0 = 21)
max_note: C8            # Highest accepted note, name or MIDI number (C8 = 108)

# MIDI output
midi_out: ""            # Raw MIDI device or file to write notes to, empty to disable
midi_channel: 0         # MIDI channel (0-15)
midi_velocity: 100      # Note-on velocity (1-127)

# Output
metrics_addr: ""        # Address to serve Prometheus /metrics on, e.g. ":9090"
log_level: "info"       # debug, info, warn or error
debug: false            # Enable debug output
`

	// reloadDelay coalesces the burst of events an editor save produces
	reloadDelay = 250 * time.Millisecond
)

// Settings holds all application configuration
type Settings struct {
	// Audio device settings
	DeviceIndex int `mapstructure:"device_index"`
	SampleRate  int `mapstructure:"sample_rate"`
	BufferSize  int `mapstructure:"buffer_size"`

	// Framing
	FrameSize  int `mapstructure:"frame_size"`
	OverlapPct int `mapstructure:"overlap_pct"`

	// Pitch estimation
	SilenceThreshold float64 `mapstructure:"silence_threshold"`
	TrimThreshold    float64 `mapstructure:"trim_threshold"`
	Correlation      string  `mapstructure:"correlation"`
	ReferencePitch   float64 `mapstructure:"reference_pitch"`

	// Note confirmation
	StabilityFrames int        `mapstructure:"stability_frames"`
	RangeFilter     bool       `mapstructure:"range_filter"`
	MinNote         NoteNumber `mapstructure:"min_note"`
	MaxNote         NoteNumber `mapstructure:"max_note"`

	// MIDI output
	MIDIOut      string `mapstructure:"midi_out"`
	MIDIChannel  int    `mapstructure:"midi_channel"`
	MIDIVelocity int    `mapstructure:"midi_velocity"`

	// Output
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
	Debug       bool   `mapstructure:"debug"`
}

// NoteNumber is a MIDI note number. In the config file it may also be
// written as a note name such as "A0" or "C#4".
type NoteNumber int

var noteNumberType = reflect.TypeOf(NoteNumber(0))

// noteNameHook decodes note names into NoteNumber fields. Anything else is
// left to the default decoding.
func noteNameHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != noteNumberType {
		return data, nil
	}
	id, err := note.Parse(data.(string))
	if err != nil {
		return data, nil
	}
	return id.MIDI(), nil
}

// decodeHook keeps viper's default hooks and adds note names
var decodeHook = viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
	noteNameHook,
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
))

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/notedetect/
func Init() error {
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 44100)
	viper.SetDefault("buffer_size", 512)
	viper.SetDefault("frame_size", audio.DefaultFrameSize)
	viper.SetDefault("overlap_pct", 0)
	viper.SetDefault("silence_threshold", dsp.DefaultSilenceThreshold)
	viper.SetDefault("trim_threshold", dsp.DefaultTrimThreshold)
	viper.SetDefault("correlation", string(dsp.MethodDirect))
	viper.SetDefault("reference_pitch", note.ReferencePitch)
	viper.SetDefault("stability_frames", note.DefaultStabilityFrames)
	viper.SetDefault("range_filter", true)
	viper.SetDefault("min_note", note.PianoLowest)
	viper.SetDefault("max_note", note.PianoHighest)
	viper.SetDefault("midi_out", "")
	viper.SetDefault("midi_channel", 0)
	viper.SetDefault("midi_velocity", 100)
	viper.SetDefault("metrics_addr", "")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("read config: %w", err)
		}
		// No config found - create default in ~/.config/notedetect/
		if err = ensureConfigExists(filepath.Join(configDir, AppName)); err != nil {
			return err
		}
		if err = viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Watch reloads settings when the config file changes and passes the result
// to onChange. Bursts of file events are coalesced into one reload.
func Watch(onChange func(*Settings, error)) {
	viper.OnConfigChange(newReloader(reloadDelay, onChange))
	viper.WatchConfig()
}

func newReloader(delay time.Duration, onChange func(*Settings, error)) func(fsnotify.Event) {
	debounced := debounce.New(delay)
	return func(fsnotify.Event) {
		debounced(func() {
			onChange(Get())
		})
	}
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Audio device settings
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", s.SampleRate))
	}
	if s.BufferSize < 64 || s.BufferSize > 8192 {
		errs = append(errs, fmt.Errorf("buffer_size must be between 64 and 8192, got %d", s.BufferSize))
	}
	if s.BufferSize&(s.BufferSize-1) != 0 {
		errs = append(errs, fmt.Errorf("buffer_size should be a power of 2, got %d", s.BufferSize))
	}

	// Framing
	if s.FrameSize < 64 || s.FrameSize > 16384 {
		errs = append(errs, fmt.Errorf("frame_size must be between 64 and 16384, got %d", s.FrameSize))
	}
	if s.FrameSize&(s.FrameSize-1) != 0 {
		errs = append(errs, fmt.Errorf("frame_size should be a power of 2, got %d", s.FrameSize))
	}
	if s.OverlapPct < 0 || s.OverlapPct > 99 {
		errs = append(errs, fmt.Errorf("overlap_pct must be between 0 and 99, got %d", s.OverlapPct))
	}

	// Pitch estimation
	if s.SilenceThreshold < 0.0 || s.SilenceThreshold > 1.0 {
		errs = append(errs, fmt.Errorf("silence_threshold must be between 0.0 and 1.0, got %v", s.SilenceThreshold))
	}
	if s.TrimThreshold < 0.0 || s.TrimThreshold > 1.0 {
		errs = append(errs, fmt.Errorf("trim_threshold must be between 0.0 and 1.0, got %v", s.TrimThreshold))
	}
	if !dsp.Method(s.Correlation).Valid() {
		errs = append(errs, fmt.Errorf("correlation must be direct or fft, got %q", s.Correlation))
	}
	if s.ReferencePitch < 400 || s.ReferencePitch > 480 {
		errs = append(errs, fmt.Errorf("reference_pitch must be between 400 and 480 Hz, got %v", s.ReferencePitch))
	}

	// Note confirmation
	if s.StabilityFrames < 1 || s.StabilityFrames > 100 {
		errs = append(errs, fmt.Errorf("stability_frames must be between 1 and 100, got %d", s.StabilityFrames))
	}
	if s.MinNote < 0 || s.MinNote > 127 {
		errs = append(errs, fmt.Errorf("min_note must be between 0 and 127, got %d", s.MinNote))
	}
	if s.MaxNote < 0 || s.MaxNote > 127 {
		errs = append(errs, fmt.Errorf("max_note must be between 0 and 127, got %d", s.MaxNote))
	}
	if s.MinNote > s.MaxNote {
		errs = append(errs, fmt.Errorf("min_note (%d) must not exceed max_note (%d)", s.MinNote, s.MaxNote))
	}

	// MIDI output
	if s.MIDIChannel < 0 || s.MIDIChannel > 15 {
		errs = append(errs, fmt.Errorf("midi_channel must be between 0 and 15, got %d", s.MIDIChannel))
	}
	if s.MIDIVelocity < 1 || s.MIDIVelocity > 127 {
		errs = append(errs, fmt.Errorf("midi_velocity must be between 1 and 127, got %d", s.MIDIVelocity))
	}

	// Output
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[s.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", s.LogLevel))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Engine returns the detection tunables.
func (s *Settings) Engine() engine.Config {
	return engine.Config{
		Estimator: dsp.EstimatorConfig{
			SilenceThreshold: s.SilenceThreshold,
			TrimThreshold:    s.TrimThreshold,
			Method:           dsp.Method(s.Correlation),
		},
		ReferencePitch:  s.ReferencePitch,
		StabilityFrames: s.StabilityFrames,
		Range:           note.Range{Low: int(s.MinNote), High: int(s.MaxNote)},
		RangeFilter:     s.RangeFilter,
	}
}

// Capture returns the microphone settings.
func (s *Settings) Capture() audio.CaptureConfig {
	return audio.CaptureConfig{
		DeviceIndex: s.DeviceIndex,
		SampleRate:  uint32(s.SampleRate),
		BufferSize:  uint32(s.BufferSize),
	}
}

// MIDI returns the MIDI output settings.
func (s *Settings) MIDI() sink.MIDIConfig {
	return sink.MIDIConfig{
		Channel:  s.MIDIChannel,
		Velocity: s.MIDIVelocity,
	}
}
