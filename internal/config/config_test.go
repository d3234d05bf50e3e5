package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/notedetect/internal/dsp"
	"github.com/ColonelBlimp/notedetect/internal/note"
)

func resetViper() {
	viper.Reset()
}

// setupHome points the user config dir at a temp directory
func setupHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

// writeUserConfig writes content to ~/.config/notedetect/config.yaml
func writeUserConfig(t *testing.T, home, content string) string {
	t.Helper()
	configDir := filepath.Join(home, ".config", AppName)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	path := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// chdir switches to dir for the duration of the test
func chdir(t *testing.T, dir string) {
	t.Helper()
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(origDir); err != nil {
			t.Logf("failed to restore dir: %v", err)
		}
	})
}

func TestInit_WithDefaults(t *testing.T) {
	resetViper()
	home := setupHome(t)
	writeUserConfig(t, home, DefaultConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
	}{
		{"device_index", -1},
		{"sample_rate", 44100},
		{"buffer_size", 512},
		{"frame_size", 2048},
		{"overlap_pct", 0},
		{"silence_threshold", 0.02},
		{"trim_threshold", 0.2},
		{"correlation", "direct"},
		{"reference_pitch", 440},
		{"stability_frames", 5},
		{"range_filter", true},
		{"min_note", "A0"},
		{"max_note", "C8"},
		{"midi_out", ""},
		{"midi_channel", 0},
		{"midi_velocity", 100},
		{"metrics_addr", ""},
		{"log_level", "info"},
		{"debug", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := viper.Get(tt.key)
			if got != tt.expected {
				t.Errorf("viper.Get(%q) = %v (%T), want %v", tt.key, got, got, tt.expected)
			}
		})
	}
}

func TestInit_CreatesConfigIfMissing(t *testing.T) {
	resetViper()
	home := setupHome(t)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	configPath := filepath.Join(home, ".config", AppName, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Errorf("Init() did not create config file at %s", configPath)
	}
}

func TestInit_ReadsLocalConfigFirst(t *testing.T) {
	resetViper()
	home := setupHome(t)
	writeUserConfig(t, home, "stability_frames: 7")
	chdir(t, home)

	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("stability_frames: 9"), 0644); err != nil {
		t.Fatalf("failed to write local config: %v", err)
	}

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := viper.GetInt("stability_frames"); got != 9 {
		t.Errorf("viper.GetInt(stability_frames) = %d, want 9 (local config)", got)
	}
}

func TestInit_DotConfigTakesPrecedence(t *testing.T) {
	resetViper()
	home := setupHome(t)
	chdir(t, home)

	if err := os.WriteFile(filepath.Join(home, ".config.yaml"), []byte("frame_size: 4096"), 0644); err != nil {
		t.Fatalf("failed to write .config.yaml: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("frame_size: 1024"), 0644); err != nil {
		t.Fatalf("failed to write config.yaml: %v", err)
	}

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := viper.GetInt("frame_size"); got != 4096 {
		t.Errorf("viper.GetInt(frame_size) = %d, want 4096 (.config.yaml should take precedence)", got)
	}
}

func TestInit_InvalidConfigFile(t *testing.T) {
	resetViper()
	home := setupHome(t)
	writeUserConfig(t, home, "invalid: yaml: content: [[[")

	if err := Init(); err == nil {
		t.Error("Init() should return error for invalid YAML")
	}
}

func TestGet_ReturnsSettings(t *testing.T) {
	resetViper()
	home := setupHome(t)
	writeUserConfig(t, home, DefaultConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	settings, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if settings.DeviceIndex != -1 {
		t.Errorf("Settings.DeviceIndex = %d, want -1", settings.DeviceIndex)
	}
	if settings.SampleRate != 44100 {
		t.Errorf("Settings.SampleRate = %d, want 44100", settings.SampleRate)
	}
	if settings.ReferencePitch != 440 {
		t.Errorf("Settings.ReferencePitch = %v, want 440", settings.ReferencePitch)
	}
	if settings.Correlation != "direct" {
		t.Errorf("Settings.Correlation = %q, want direct", settings.Correlation)
	}
	if !settings.RangeFilter {
		t.Error("Settings.RangeFilter = false, want true")
	}
}

func TestGet_AllFields(t *testing.T) {
	resetViper()
	home := setupHome(t)

	customConfig := `device_index: 2
sample_rate: 48000
buffer_size: 1024
frame_size: 4096
overlap_pct: 50
silence_threshold: 0.05
trim_threshold: 0.3
correlation: fft
reference_pitch: 442
stability_frames: 3
range_filter: false
min_note: 40
max_note: 90
midi_out: /dev/snd/midiC1D0
midi_channel: 9
midi_velocity: 64
metrics_addr: ":9090"
log_level: warn
debug: true
`
	writeUserConfig(t, home, customConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	s, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	want := Settings{
		DeviceIndex:      2,
		SampleRate:       48000,
		BufferSize:       1024,
		FrameSize:        4096,
		OverlapPct:       50,
		SilenceThreshold: 0.05,
		TrimThreshold:    0.3,
		Correlation:      "fft",
		ReferencePitch:   442,
		StabilityFrames:  3,
		RangeFilter:      false,
		MinNote:          40,
		MaxNote:          90,
		MIDIOut:          "/dev/snd/midiC1D0",
		MIDIChannel:      9,
		MIDIVelocity:     64,
		MetricsAddr:      ":9090",
		LogLevel:         "warn",
		Debug:            true,
	}
	if *s != want {
		t.Errorf("Get() = %+v\nwant %+v", *s, want)
	}
}

func TestGet_NoteNames(t *testing.T) {
	testCases := []struct {
		name     string
		content  string
		min, max NoteNumber
		wantErr  bool
	}{
		{"default file", DefaultConfig, 21, 108, false},
		{"names", "min_note: C#2\nmax_note: c7\n", 37, 96, false},
		{"mixed", "min_note: 36\nmax_note: G#5\n", 36, 80, false},
		{"unknown name", "min_note: H2\n", 0, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resetViper()
			home := setupHome(t)
			writeUserConfig(t, home, tc.content)
			if err := Init(); err != nil {
				t.Fatalf("Init() error = %v", err)
			}

			s, err := Get()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Get() = %+v, want error", s)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if s.MinNote != tc.min || s.MaxNote != tc.max {
				t.Errorf("range = %d..%d, want %d..%d", s.MinNote, s.MaxNote, tc.min, tc.max)
			}
		})
	}
}

func TestGet_InvalidSettings(t *testing.T) {
	resetViper()
	home := setupHome(t)
	writeUserConfig(t, home, "frame_size: 1000\n")

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, err := Get()
	if err == nil || !strings.Contains(err.Error(), "frame_size") {
		t.Errorf("Get() error = %v, want frame_size validation error", err)
	}
}

func TestEnsureConfigExists_CreatesDirectory(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "subdir", "config")

	if err := ensureConfigExists(configPath); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(configPath, "config.yaml"))
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if string(content) != DefaultConfig {
		t.Errorf("config content does not match DefaultConfig")
	}
}

func TestEnsureConfigExists_DoesNotOverwrite(t *testing.T) {
	configPath := t.TempDir()
	configFile := filepath.Join(configPath, "config.yaml")
	existingContent := "existing: true"
	if err := os.WriteFile(configFile, []byte(existingContent), 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	if err := ensureConfigExists(configPath); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}

	content, _ := os.ReadFile(configFile)
	if string(content) != existingContent {
		t.Errorf("ensureConfigExists() overwrote existing config")
	}
}

func TestEnsureConfigExists_WriteError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("skipping test when running as root")
	}

	configPath := filepath.Join(t.TempDir(), "readonly")
	if err := os.MkdirAll(configPath, 0555); err != nil {
		t.Fatalf("failed to create readonly dir: %v", err)
	}
	defer func() {
		if err := os.Chmod(configPath, 0755); err != nil {
			t.Logf("failed to restore permissions: %v", err)
		}
	}()

	if err := ensureConfigExists(filepath.Join(configPath, "subdir")); err == nil {
		t.Error("ensureConfigExists() should return error for read-only directory")
	}
}

func TestConstants(t *testing.T) {
	if AppName != "notedetect" {
		t.Errorf("AppName = %q, want %q", AppName, "notedetect")
	}
	if ConfigType != "yaml" {
		t.Errorf("ConfigType = %q, want %q", ConfigType, "yaml")
	}
}

func TestDefaultConfig_ContainsExpectedKeys(t *testing.T) {
	expectedKeys := []string{
		"device_index", "sample_rate", "buffer_size", "frame_size", "overlap_pct",
		"silence_threshold", "trim_threshold", "correlation", "reference_pitch",
		"stability_frames", "range_filter", "min_note", "max_note",
		"midi_out", "midi_channel", "midi_velocity",
		"metrics_addr", "log_level", "debug",
	}

	for _, key := range expectedKeys {
		if !strings.Contains(DefaultConfig, key+":") {
			t.Errorf("DefaultConfig missing key: %s", key)
		}
	}
}

// Validation tests

// validSettings returns a Settings struct with all valid values
func validSettings() *Settings {
	return &Settings{
		DeviceIndex:      -1,
		SampleRate:       44100,
		BufferSize:       512,
		FrameSize:        2048,
		OverlapPct:       0,
		SilenceThreshold: 0.02,
		TrimThreshold:    0.2,
		Correlation:      "direct",
		ReferencePitch:   440,
		StabilityFrames:  5,
		RangeFilter:      true,
		MinNote:          21,
		MaxNote:          108,
		MIDIChannel:      0,
		MIDIVelocity:     100,
		LogLevel:         "info",
	}
}

func TestSettings_Validate_ValidSettings(t *testing.T) {
	if err := validSettings().Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil for valid settings", err)
	}
}

func TestSettings_Validate_Fields(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Settings)
		wantErr bool
	}{
		{"sample rate too low", func(s *Settings) { s.SampleRate = 7999 }, true},
		{"sample rate minimum", func(s *Settings) { s.SampleRate = 8000 }, false},
		{"sample rate maximum", func(s *Settings) { s.SampleRate = 192000 }, false},
		{"sample rate too high", func(s *Settings) { s.SampleRate = 192001 }, true},
		{"buffer size not power of 2", func(s *Settings) { s.BufferSize = 500 }, true},
		{"buffer size too small", func(s *Settings) { s.BufferSize = 32 }, true},
		{"frame size minimum", func(s *Settings) { s.FrameSize = 64 }, false},
		{"frame size maximum", func(s *Settings) { s.FrameSize = 16384 }, false},
		{"frame size too large", func(s *Settings) { s.FrameSize = 32768 }, true},
		{"frame size not power of 2", func(s *Settings) { s.FrameSize = 2000 }, true},
		{"overlap negative", func(s *Settings) { s.OverlapPct = -1 }, true},
		{"overlap maximum", func(s *Settings) { s.OverlapPct = 99 }, false},
		{"overlap too high", func(s *Settings) { s.OverlapPct = 100 }, true},
		{"silence zero", func(s *Settings) { s.SilenceThreshold = 0 }, false},
		{"silence too high", func(s *Settings) { s.SilenceThreshold = 1.1 }, true},
		{"trim negative", func(s *Settings) { s.TrimThreshold = -0.1 }, true},
		{"correlation fft", func(s *Settings) { s.Correlation = "fft" }, false},
		{"correlation unknown", func(s *Settings) { s.Correlation = "yin" }, true},
		{"correlation empty", func(s *Settings) { s.Correlation = "" }, true},
		{"reference low", func(s *Settings) { s.ReferencePitch = 399 }, true},
		{"reference baroque", func(s *Settings) { s.ReferencePitch = 415 }, false},
		{"reference high", func(s *Settings) { s.ReferencePitch = 481 }, true},
		{"stability zero", func(s *Settings) { s.StabilityFrames = 0 }, true},
		{"stability one", func(s *Settings) { s.StabilityFrames = 1 }, false},
		{"stability too high", func(s *Settings) { s.StabilityFrames = 101 }, true},
		{"min note negative", func(s *Settings) { s.MinNote = -1 }, true},
		{"max note above midi", func(s *Settings) { s.MaxNote = 128 }, true},
		{"inverted range", func(s *Settings) { s.MinNote, s.MaxNote = 70, 60 }, true},
		{"single note range", func(s *Settings) { s.MinNote, s.MaxNote = 60, 60 }, false},
		{"midi channel 15", func(s *Settings) { s.MIDIChannel = 15 }, false},
		{"midi channel 16", func(s *Settings) { s.MIDIChannel = 16 }, true},
		{"velocity zero", func(s *Settings) { s.MIDIVelocity = 0 }, true},
		{"velocity max", func(s *Settings) { s.MIDIVelocity = 127 }, false},
		{"log level debug", func(s *Settings) { s.LogLevel = "debug" }, false},
		{"log level unknown", func(s *Settings) { s.LogLevel = "trace" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.modify(s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_MultipleErrors(t *testing.T) {
	s := &Settings{
		SampleRate:       0,      // invalid
		BufferSize:       10,     // invalid
		FrameSize:        10,     // invalid
		OverlapPct:       -1,     // invalid
		SilenceThreshold: 2.0,    // invalid
		TrimThreshold:    2.0,    // invalid
		Correlation:      "bad",  // invalid
		ReferencePitch:   0,      // invalid
		StabilityFrames:  0,      // invalid
		MinNote:          200,    // invalid
		MaxNote:          -5,     // invalid
		MIDIChannel:      99,     // invalid
		MIDIVelocity:     0,      // invalid
		LogLevel:         "loud", // invalid
	}

	err := s.Validate()
	if err == nil {
		t.Fatal("Validate() should return error for multiple invalid fields")
	}

	errStr := err.Error()
	expectedSubstrings := []string{
		"sample_rate",
		"buffer_size",
		"frame_size",
		"overlap_pct",
		"silence_threshold",
		"trim_threshold",
		"correlation",
		"reference_pitch",
		"stability_frames",
		"min_note",
		"max_note",
		"midi_channel",
		"midi_velocity",
		"log_level",
	}

	for _, substr := range expectedSubstrings {
		if !strings.Contains(errStr, substr) {
			t.Errorf("Validate() error should mention %q, got: %v", substr, errStr)
		}
	}
}

func TestSettings_Engine(t *testing.T) {
	s := validSettings()
	s.Correlation = "fft"
	s.MinNote, s.MaxNote = 40, 90
	s.RangeFilter = false

	cfg := s.Engine()

	if cfg.Estimator.Method != dsp.MethodFFT {
		t.Errorf("Method = %q, want fft", cfg.Estimator.Method)
	}
	if cfg.Estimator.SilenceThreshold != 0.02 || cfg.Estimator.TrimThreshold != 0.2 {
		t.Errorf("thresholds = %v/%v, want 0.02/0.2", cfg.Estimator.SilenceThreshold, cfg.Estimator.TrimThreshold)
	}
	if cfg.Range != (note.Range{Low: 40, High: 90}) {
		t.Errorf("Range = %+v, want 40..90", cfg.Range)
	}
	if cfg.RangeFilter {
		t.Error("RangeFilter = true, want false")
	}
	if cfg.StabilityFrames != 5 || cfg.ReferencePitch != 440 {
		t.Errorf("stability/reference = %d/%v", cfg.StabilityFrames, cfg.ReferencePitch)
	}
}

func TestSettings_CaptureAndMIDI(t *testing.T) {
	s := validSettings()
	s.DeviceIndex = 3
	s.MIDIChannel = 9
	s.MIDIVelocity = 80

	c := s.Capture()
	if c.DeviceIndex != 3 || c.SampleRate != 44100 || c.BufferSize != 512 {
		t.Errorf("Capture() = %+v", c)
	}
	m := s.MIDI()
	if m.Channel != 9 || m.Velocity != 80 {
		t.Errorf("MIDI() = %+v", m)
	}
}

func TestNewReloader_CoalescesEvents(t *testing.T) {
	resetViper()
	home := setupHome(t)
	writeUserConfig(t, home, DefaultConfig)
	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	var calls atomic.Int32
	done := make(chan *Settings, 4)
	reload := newReloader(50*time.Millisecond, func(s *Settings, err error) {
		if err != nil {
			t.Errorf("reload error = %v", err)
		}
		calls.Add(1)
		done <- s
	})

	for i := 0; i < 5; i++ {
		reload(fsnotify.Event{Name: "config.yaml", Op: fsnotify.Write})
	}

	select {
	case s := <-done:
		if s == nil || s.StabilityFrames != 5 {
			t.Errorf("reloaded settings = %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback never ran")
	}

	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("reload ran %d times, want 1", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	resetViper()
	home := setupHome(t)
	path := writeUserConfig(t, home, DefaultConfig)
	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	reloaded := make(chan *Settings, 4)
	Watch(func(s *Settings, err error) {
		if err == nil {
			reloaded <- s
		}
	})

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("stability_frames: 8\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case s := <-reloaded:
		if s.StabilityFrames != 8 {
			t.Errorf("StabilityFrames = %d, want 8", s.StabilityFrames)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config write")
	}
}
