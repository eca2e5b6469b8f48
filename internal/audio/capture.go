package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/pcm"
)

// InputDevice is a source of mono float frames. Start must deliver frames to
// onFrame from the device's own goroutine until Stop returns. onFrame must
// not retain the frame.
type InputDevice interface {
	SampleRate() int
	Start(onFrame func(frame []float32)) error
	Stop() error
}

// CaptureMode names the path a Capture ended up on.
type CaptureMode string

const (
	// CaptureWorker resamples on a dedicated goroutine fed by the device.
	CaptureWorker CaptureMode = "worker"
	// CaptureInline encodes frames directly on the device callback at the
	// device rate, without resampling.
	CaptureInline CaptureMode = "inline"
)

// CaptureConfig controls chunking and the device-to-worker handoff.
type CaptureConfig struct {
	TargetRate   int
	ChunkSamples int
	// FrameQueue bounds frames waiting for the worker. Frames arriving
	// while it is full are dropped.
	FrameQueue int
	// ChunkQueue bounds chunks waiting for the consumer.
	ChunkQueue int
}

// DefaultCaptureConfig sends 2048-sample chunks at 16 kHz.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		TargetRate:   InputSampleRate,
		ChunkSamples: MicChunkSamples,
		FrameQueue:   64,
		ChunkQueue:   32,
	}
}

// Capture is a running microphone pipeline.
type Capture struct {
	mode   CaptureMode
	device InputDevice
	logger *zap.Logger

	frames chan []float32
	chunks chan Chunk
	done   chan struct{}
	wg     sync.WaitGroup

	stopped  atomic.Bool
	dropped  atomic.Int64
	stopOnce sync.Once
}

// StartCapture starts the worker pipeline on primary. If primary is nil or
// fails to start, it falls back to inline encoding on fallback. Only when
// both fail does it return an error, which wraps ErrNoCaptureDevice.
func StartCapture(primary, fallback InputDevice, cfg CaptureConfig, logger *zap.Logger) (*Capture, error) {
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = InputSampleRate
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = MicChunkSamples
	}
	if cfg.FrameQueue <= 0 {
		cfg.FrameQueue = 64
	}
	if cfg.ChunkQueue <= 0 {
		cfg.ChunkQueue = 32
	}

	var primaryErr error
	if primary != nil {
		c, err := startWorker(primary, cfg, logger)
		if err == nil {
			return c, nil
		}
		primaryErr = err
		logger.Warn("Primary capture path failed, falling back to inline capture", zap.Error(err))
	} else {
		primaryErr = errors.New("no primary input device")
	}

	if fallback == nil {
		return nil, fmt.Errorf("%w: %w", ErrNoCaptureDevice, primaryErr)
	}
	c, err := startInline(fallback, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: primary: %w; fallback: %w", ErrNoCaptureDevice, primaryErr, err)
	}
	return c, nil
}

func newCapture(mode CaptureMode, device InputDevice, cfg CaptureConfig, logger *zap.Logger) *Capture {
	return &Capture{
		mode:   mode,
		device: device,
		logger: logger,
		chunks: make(chan Chunk, cfg.ChunkQueue),
		done:   make(chan struct{}),
	}
}

func startWorker(device InputDevice, cfg CaptureConfig, logger *zap.Logger) (*Capture, error) {
	c := newCapture(CaptureWorker, device, cfg, logger)
	c.frames = make(chan []float32, cfg.FrameQueue)

	proc := NewMicProcessor(device.SampleRate(), cfg.TargetRate, cfg.ChunkSamples, c.deliver)
	c.wg.Add(1)
	go c.worker(proc)

	err := device.Start(func(frame []float32) {
		if c.stopped.Load() {
			return
		}
		cp := make([]float32, len(frame))
		copy(cp, frame)
		select {
		case c.frames <- cp:
		default:
			c.dropped.Add(1)
		}
	})
	if err != nil {
		close(c.done)
		c.wg.Wait()
		return nil, fmt.Errorf("start input device: %w", err)
	}

	logger.Info("Microphone capture started",
		zap.String("mode", string(CaptureWorker)),
		zap.Int("deviceRate", device.SampleRate()),
		zap.Int("targetRate", cfg.TargetRate))
	return c, nil
}

func (c *Capture) worker(proc *MicProcessor) {
	defer c.wg.Done()
	for {
		select {
		case frame := <-c.frames:
			proc.Process(frame)
		case <-c.done:
			for {
				select {
				case frame := <-c.frames:
					proc.Process(frame)
				default:
					proc.Flush()
					return
				}
			}
		}
	}
}

func startInline(device InputDevice, cfg CaptureConfig, logger *zap.Logger) (*Capture, error) {
	c := newCapture(CaptureInline, device, cfg, logger)
	rate := device.SampleRate()

	err := device.Start(func(frame []float32) {
		if c.stopped.Load() || len(frame) == 0 {
			return
		}
		c.deliver(Chunk{Data: pcm.FloatToPCM16(frame), SampleRate: rate})
	})
	if err != nil {
		return nil, fmt.Errorf("start fallback input device: %w", err)
	}

	logger.Info("Microphone capture started",
		zap.String("mode", string(CaptureInline)),
		zap.Int("deviceRate", rate))
	return c, nil
}

func (c *Capture) deliver(chunk Chunk) {
	select {
	case c.chunks <- chunk:
	default:
		c.dropped.Add(1)
	}
}

// Chunks delivers encoded chunks. It is never closed; watch Done to learn
// that capture stopped.
func (c *Capture) Chunks() <-chan Chunk { return c.chunks }

// Done is closed when capture stops.
func (c *Capture) Done() <-chan struct{} { return c.done }

// Mode reports which path is running.
func (c *Capture) Mode() CaptureMode { return c.mode }

// Dropped counts frames or chunks discarded because a consumer lagged.
func (c *Capture) Dropped() int64 { return c.dropped.Load() }

// Stop stops the device, flushes the partial chunk, and waits for the worker.
func (c *Capture) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		err = c.device.Stop()
		c.stopped.Store(true)
		close(c.done)
		c.wg.Wait()
		c.logger.Info("Microphone capture stopped",
			zap.String("mode", string(c.mode)),
			zap.Int64("dropped", c.dropped.Load()))
	})
	return err
}
