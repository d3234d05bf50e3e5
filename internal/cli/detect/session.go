// internal/cli/detect/session.go

// Package detect wires settings, audio sources, the engine and sinks into a
// runnable detection session.
package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ColonelBlimp/notedetect/internal/audio"
	"github.com/ColonelBlimp/notedetect/internal/config"
	"github.com/ColonelBlimp/notedetect/internal/engine"
	"github.com/ColonelBlimp/notedetect/internal/observe"
	"github.com/ColonelBlimp/notedetect/internal/recovery"
	"github.com/ColonelBlimp/notedetect/internal/sink"
)

// Option configures a Session.
type Option func(*Session)

// WithVersion sets the build version reported with exported metrics.
func WithVersion(v string) Option {
	return func(s *Session) { s.version = v }
}

// Session owns one engine and the outputs attached to it.
type Session struct {
	settings *config.Settings
	logger   *slog.Logger
	version  string
	engine   *engine.Engine
	midi     *sink.MIDI

	metricsServer   *observe.MetricsServer
	shutdownMetrics func(context.Context) error
}

// NewSession builds the engine and its sinks from settings. Note events are
// printed to out.
func NewSession(settings *config.Settings, out io.Writer, logger *slog.Logger, opts ...Option) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{settings: settings, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.init(out); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) init(out io.Writer) error {
	opts := []engine.Option{
		engine.WithLogger(s.logger),
		engine.WithHandler(sink.NewConsole(out).Handle),
	}

	var err error
	if s.settings.MetricsAddr != "" {
		s.shutdownMetrics, err = observe.InitProvider(context.Background(), observe.ProviderConfig{
			ServiceVersion: s.version,
		})
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		s.metricsServer, err = observe.StartMetricsServer(s.settings.MetricsAddr)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithMetrics(observe.DefaultMetrics()))
	}

	if s.settings.MIDIOut != "" {
		s.midi, err = sink.OpenMIDI(s.settings.MIDIOut, s.settings.MIDI())
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithHandler(s.midi.Handle))
	}

	s.engine, err = engine.New(s.settings.Engine(), opts...)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	return nil
}

// Engine returns the session's engine
func (s *Session) Engine() *engine.Engine {
	return s.engine
}

// Reload applies reloaded settings to the running engine. Audio settings
// only take effect on the next session.
func (s *Session) Reload(next *config.Settings, err error) {
	if err != nil {
		s.logger.Warn("config reload rejected", "error", err)
		return
	}
	if next.SampleRate != s.settings.SampleRate || next.FrameSize != s.settings.FrameSize ||
		next.OverlapPct != s.settings.OverlapPct || next.DeviceIndex != s.settings.DeviceIndex {
		s.logger.Warn("audio settings changed, restart to apply")
	}
	if err := s.engine.Reconfigure(next.Engine()); err != nil {
		s.logger.Warn("config reload rejected", "error", err)
	}
}

// RunFile detects notes in a WAV file until it ends or ctx is cancelled.
func (s *Session) RunFile(ctx context.Context, path string) (err error) {
	defer recovery.Recover(&err)

	src, err := audio.OpenWAV(path, s.settings.FrameSize, s.settings.OverlapPct)
	if err != nil {
		return err
	}
	defer src.Close()

	s.logger.Info("detecting from file", "path", path,
		"sample_rate", src.SampleRate(), "channels", src.Channels())

	if err := s.engine.Run(ctx, src); err != nil {
		return err
	}
	s.logger.Info("end of file", "path", path)
	return nil
}

// Listen detects notes from the configured capture device until ctx is
// cancelled. Cancellation is not an error.
func (s *Session) Listen(ctx context.Context) (err error) {
	defer recovery.Recover(&err)

	src, err := audio.NewMicSource(s.settings.Capture(), s.settings.FrameSize, s.settings.OverlapPct)
	if err != nil {
		return fmt.Errorf("open capture device: %w", err)
	}
	defer src.Close()

	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	s.logger.Info("listening", "device_index", s.settings.DeviceIndex,
		"sample_rate", s.settings.SampleRate, "frame_size", s.settings.FrameSize)

	err = s.engine.Run(ctx, src)
	if dropped := src.Capture().Dropped(); dropped > 0 {
		s.logger.Warn("capture buffers dropped", "count", dropped)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Info("stopped listening")
	return err
}

// Close releases the MIDI output and metrics endpoint.
func (s *Session) Close() error {
	var errs []error
	if s.midi != nil {
		errs = append(errs, s.midi.Close())
		s.midi = nil
	}
	if s.metricsServer != nil {
		errs = append(errs, s.metricsServer.Close())
		s.metricsServer = nil
	}
	if s.shutdownMetrics != nil {
		errs = append(errs, s.shutdownMetrics(context.Background()))
		s.shutdownMetrics = nil
	}
	return errors.Join(errs...)
}

// ListAudioDevices returns the available capture devices.
func ListAudioDevices() ([]audio.DeviceInfo, error) {
	capture := audio.NewCapture(audio.DefaultCaptureConfig())
	defer capture.Close()

	if err := capture.Init(); err != nil {
		return nil, err
	}
	return capture.ListDevices()
}
