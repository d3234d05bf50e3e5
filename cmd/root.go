// cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/notedetect/internal/cli/detect"
	"github.com/ColonelBlimp/notedetect/internal/config"
	"github.com/ColonelBlimp/notedetect/internal/observe"
)

// version is set at build time:
//
//	go build -ldflags "-X github.com/ColonelBlimp/notedetect/cmd.version=v1.0.0"
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "notedetect",
	Version: version,
	Short:   "Musical note detector from audio input",
	Long: `A real-time pitch detector that turns microphone or WAV audio into
debounced note events, with optional live MIDI output.

Without a subcommand it listens on the configured capture device.`,
	RunE: runListen,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagBindings maps persistent flags to config keys
var flagBindings = map[string]string{
	"device":       "device_index",
	"rate":         "sample_rate",
	"stability":    "stability_frames",
	"debug":        "debug",
	"midi-out":     "midi_out",
	"metrics-addr": "metrics_addr",
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().IntP("rate", "r", 44100, "capture sample rate in Hz")
	rootCmd.PersistentFlags().IntP("stability", "s", 5, "consecutive frames required to confirm a note")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")
	rootCmd.PersistentFlags().StringP("midi-out", "m", "", "raw MIDI device or file to write notes to")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(listenCmd, fileCmd, devicesCmd)
}

// bindFlags binds persistent flags to viper keys. It runs after config.Init
// so the bindings survive a viper reset.
func bindFlags() error {
	for flag, key := range flagBindings {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if err := bindFlags(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	initLogger()
}

// initLogger installs the default logger from log_level and debug. Invalid
// levels fall back to info; Get reports them.
func initLogger() {
	logger := observe.NewLogger(os.Stderr, viper.GetString("log_level"), viper.GetBool("debug"))
	logger.Debug("config loaded", "file", viper.ConfigFileUsed())
	slog.SetDefault(logger)
}

// newSession loads validated settings and builds a session printing to cmd's output
func newSession(cmd *cobra.Command) (*detect.Session, error) {
	settings, err := config.Get()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return detect.NewSession(settings, cmd.OutOrStdout(), nil, detect.WithVersion(version))
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
