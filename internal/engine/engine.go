// internal/engine/engine.go

// Package engine turns audio frames into debounced note events. One Engine
// owns the estimator, note mapper and debouncer for a detection session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/notedetect/internal/audio"
	"github.com/ColonelBlimp/notedetect/internal/dsp"
	"github.com/ColonelBlimp/notedetect/internal/note"
	"github.com/ColonelBlimp/notedetect/internal/observe"
)

// ErrInvalidRange indicates the key range is empty or outside MIDI 0..127
var ErrInvalidRange = errors.New("note range must satisfy 0 <= low <= high <= 127")

// Config holds the detection tunables.
// All values should come from the application config file.
type Config struct {
	// Estimator holds the noise gate, trim threshold and correlation method
	Estimator dsp.EstimatorConfig
	// ReferencePitch is the A4 tuning in Hz (from config: reference_pitch)
	ReferencePitch float64
	// StabilityFrames is the debounce length (from config: stability_frames)
	StabilityFrames int
	// Range limits accepted notes when RangeFilter is set (from config: min_note, max_note)
	Range note.Range
	// RangeFilter treats out-of-range notes as no pitch (from config: range_filter)
	RangeFilter bool
}

// DefaultConfig returns the stock tunables: 88-key range, A4 = 440 Hz, 5 frames.
func DefaultConfig() Config {
	return Config{
		Estimator:       dsp.DefaultEstimatorConfig(),
		ReferencePitch:  note.ReferencePitch,
		StabilityFrames: note.DefaultStabilityFrames,
		Range:           note.PianoRange,
		RangeFilter:     true,
	}
}

// pipeline is the per-configuration processing state
type pipeline struct {
	config    Config
	estimator *dsp.Estimator
	mapper    note.Mapper
	debouncer *note.Debouncer
}

func newPipeline(cfg Config) (*pipeline, error) {
	if cfg.Range.Low < 0 || cfg.Range.High > 127 || cfg.Range.Low > cfg.Range.High {
		return nil, ErrInvalidRange
	}
	est, err := dsp.NewEstimator(cfg.Estimator)
	if err != nil {
		return nil, err
	}
	deb, err := note.NewDebouncer(cfg.StabilityFrames)
	if err != nil {
		return nil, err
	}
	mapper := note.NewMapper(cfg.ReferencePitch)
	cfg.Estimator = est.Config()
	cfg.ReferencePitch = mapper.Reference()
	return &pipeline{
		config:    cfg,
		estimator: est,
		mapper:    mapper,
		debouncer: deb,
	}, nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records frame and event counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHandler registers an event handler at construction.
func WithHandler(h Handler) Option {
	return func(e *Engine) { e.OnEvent(h) }
}

// Engine drives one frame at a time through estimate, map and debounce.
//
// Process, Run and Reset must be called from a single goroutine. OnEvent and
// Reconfigure may be called from any goroutine; a new configuration takes
// effect at the next frame boundary.
type Engine struct {
	p       *pipeline
	next    atomic.Pointer[pipeline]
	metrics *observe.Metrics
	logger  *slog.Logger

	handlersMu sync.Mutex
	handlers   atomic.Pointer[[]Handler]
}

// New creates an Engine with the given configuration.
func New(cfg Config, opts ...Option) (*Engine, error) {
	p, err := newPipeline(cfg)
	if err != nil {
		return nil, err
	}
	e := &Engine{p: p, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// OnEvent adds a handler. Handlers run in registration order.
func (e *Engine) OnEvent(h Handler) {
	if h == nil {
		return
	}
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()

	var hs []Handler
	if cur := e.handlers.Load(); cur != nil {
		hs = append(hs, *cur...)
	}
	hs = append(hs, h)
	e.handlers.Store(&hs)
}

// Reconfigure validates cfg and schedules it for the next frame. Swapping
// configuration drops pending progress; a sustained note stays confirmed so
// it is not announced twice.
func (e *Engine) Reconfigure(cfg Config) error {
	p, err := newPipeline(cfg)
	if err != nil {
		return fmt.Errorf("reconfigure: %w", err)
	}
	e.next.Store(p)
	return nil
}

// Config returns the configuration currently in use.
func (e *Engine) Config() Config {
	return e.p.config
}

// State returns the debouncer phase.
func (e *Engine) State() note.State {
	return e.p.debouncer.State()
}

// Reset clears pending and confirmed notes, as when detection stops.
func (e *Engine) Reset() {
	e.p.debouncer.Reset()
}

// Process runs one detection cycle and returns the event it produced, if any.
// Registered handlers receive the same event.
func (e *Engine) Process(frame audio.Frame) (Event, bool) {
	return e.process(context.Background(), frame)
}

func (e *Engine) process(ctx context.Context, frame audio.Frame) (Event, bool) {
	if p := e.next.Swap(nil); p != nil {
		if id, held := e.p.debouncer.LastConfirmed(); held {
			p.debouncer.Hold(id)
		}
		e.p = p
		e.logger.Info("detection settings applied",
			"stability_frames", p.config.StabilityFrames,
			"reference_pitch", p.config.ReferencePitch,
			"correlation", string(p.config.Estimator.Method))
	}
	p := e.p

	start := time.Now()
	freq, ok := p.estimator.Estimate(frame.Samples, float64(frame.SampleRate))
	elapsed := time.Since(start)

	var candidate note.ID
	if ok {
		id, err := p.mapper.ToNote(freq)
		switch {
		case err != nil:
			ok = false
		case p.config.RangeFilter && !p.config.Range.Contains(id):
			ok = false
		default:
			candidate = id
		}
	}

	if e.metrics != nil {
		e.metrics.RecordFrame(ctx, elapsed, ok)
	}

	out := p.debouncer.Observe(candidate, ok)

	var ev Event
	switch out.Transition {
	case note.NoteOn:
		ev = Event{Kind: NoteDetected, Note: out.Note, Frequency: freq}
		target := out.Note.Frequency(p.mapper.Reference())
		e.logger.Debug("note detected", "note", out.Note.String(), "freq", freq,
			"target", target, "cents", math.Round(1200*math.Log2(freq/target)))
		if e.metrics != nil {
			e.metrics.RecordNote(ctx, out.Note.String())
		}
	case note.Silence:
		ev = Event{Kind: SilenceDetected}
		e.logger.Debug("silence detected")
		if e.metrics != nil {
			e.metrics.RecordSilence(ctx)
		}
	default:
		return Event{}, false
	}

	e.emit(ev)
	return ev, true
}

func (e *Engine) emit(ev Event) {
	hs := e.handlers.Load()
	if hs == nil {
		return
	}
	for _, h := range *hs {
		h(ev)
	}
}

// Run pulls frames from src until it is exhausted or ctx is done. It returns
// nil at end of stream and ctx.Err() on cancellation. Detection state is
// reset on return.
func (e *Engine) Run(ctx context.Context, src audio.Source) error {
	defer e.Reset()

	for {
		frame, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("next frame: %w", err)
		}
		e.process(ctx, frame)
	}
}
