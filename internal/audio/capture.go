// internal/audio/capture.go
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gen2brain/malgo"
)

var (
	ErrNotInitialized = errors.New("audio capture not initialized")
	ErrAlreadyRunning = errors.New("audio capture already running")
	ErrNotRunning     = errors.New("audio capture not running")
	ErrClosed         = errors.New("audio capture closed")
)

// sampleChannelSize is the number of callback buffers queued for the consumer
const sampleChannelSize = 64

// CaptureConfig holds microphone capture configuration
type CaptureConfig struct {
	DeviceIndex int    // -1 for default device
	SampleRate  uint32 // e.g., 44100
	BufferSize  uint32 // frames per callback
}

// DefaultCaptureConfig returns sensible defaults for pitch detection
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		DeviceIndex: -1,
		SampleRate:  44100,
		BufferSize:  512,
	}
}

// DeviceInfo describes a capture device
type DeviceInfo struct {
	Index     int
	Name      string
	IsDefault bool
}

// SampleCallback is called directly from the audio thread with new samples.
// Must be non-blocking and fast. The slice is only valid during the call.
type SampleCallback func(samples []float32)

// Capture reads mono float32 samples from an input device.
type Capture struct {
	config CaptureConfig
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.RWMutex
	running bool

	callbackPtr atomic.Pointer[SampleCallback]
	closed      atomic.Bool
	closeOnce   sync.Once
	dropped     atomic.Uint64

	// Samples receives a copy of every device buffer (normalized -1.0 to 1.0).
	// Closed by Close.
	Samples chan []float32
}

// NewCapture creates a new capture instance
func NewCapture(cfg CaptureConfig) *Capture {
	return &Capture{
		config:  cfg,
		Samples: make(chan []float32, sampleChannelSize),
	}
}

// SetCallback sets a callback for real-time sample processing.
// Set before calling Start().
func (c *Capture) SetCallback(cb SampleCallback) {
	if cb == nil {
		c.callbackPtr.Store(nil)
		return
	}
	c.callbackPtr.Store(&cb)
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx

	return nil
}

// ListDevices returns available capture devices
func (c *Capture) ListDevices() ([]DeviceInfo, error) {
	infos, err := c.deviceInfos()
	if err != nil {
		return nil, err
	}

	devices := make([]DeviceInfo, len(infos))
	for i, info := range infos {
		devices[i] = DeviceInfo{
			Index:     i,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		}
	}
	return devices, nil
}

func (c *Capture) deviceInfos() ([]malgo.DeviceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ctx == nil {
		return nil, ErrNotInitialized
	}

	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return infos, nil
}

// Start begins audio capture. Capture stops when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.ctx == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.mu.Unlock()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.PeriodSizeInFrames = c.config.BufferSize
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1

	if c.config.DeviceIndex >= 0 {
		infos, err := c.deviceInfos()
		if err != nil {
			return err
		}
		if c.config.DeviceIndex >= len(infos) {
			return fmt.Errorf("device index %d out of range (have %d devices)",
				c.config.DeviceIndex, len(infos))
		}
		deviceConfig.Capture.DeviceID = infos[c.config.DeviceIndex].ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.onSamples(input)
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	c.mu.Lock()
	c.device = device
	c.running = true
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// onSamples runs on the audio thread.
func (c *Capture) onSamples(input []byte) {
	if len(input) == 0 || c.closed.Load() {
		return
	}

	// The device reuses its buffer, so the view is copied before it leaves the callback.
	view := bytesAsFloat32(input)

	if cb := c.callbackPtr.Load(); cb != nil {
		(*cb)(view)
	}

	if !c.safeSend(copyFloat32Slice(view)) {
		c.dropped.Add(1)
	}
}

// safeSend does a non-blocking send and survives a concurrent Close.
func (c *Capture) safeSend(samples []float32) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	if c.closed.Load() {
		return false
	}
	select {
	case c.Samples <- samples:
		return true
	default:
		return false
	}
}

// Stop stops audio capture
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}

	c.running = false
	return nil
}

// Close releases all audio resources and closes Samples. Safe to call more than once.
func (c *Capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.running && c.device != nil {
			_ = c.device.Stop()
			c.device.Uninit()
			c.device = nil
			c.running = false
		}

		if c.ctx != nil {
			if uerr := c.ctx.Uninit(); uerr != nil {
				err = fmt.Errorf("uninit context: %w", uerr)
			}
			c.ctx.Free()
			c.ctx = nil
		}

		close(c.Samples)
	})
	return err
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Dropped returns how many device buffers were discarded because the
// consumer fell behind.
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}

// SampleRate returns the configured capture rate in Hz
func (c *Capture) SampleRate() int {
	return int(c.config.SampleRate)
}

// bytesAsFloat32 reinterprets little-endian F32 device bytes without copying.
// Trailing bytes that do not form a whole sample are ignored.
func bytesAsFloat32(data []byte) []float32 {
	n := len(data) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), n)
}

// copyFloat32Slice returns an independent copy of src
func copyFloat32Slice(src []float32) []float32 {
	if src == nil {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
