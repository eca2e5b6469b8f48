package audio

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeInput struct {
	rate     int
	startErr error
	onFrame  func([]float32)
	stops    int
}

func (f *fakeInput) SampleRate() int { return f.rate }

func (f *fakeInput) Start(onFrame func([]float32)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.onFrame = onFrame
	return nil
}

func (f *fakeInput) Stop() error {
	f.stops++
	f.onFrame = nil
	return nil
}

func (f *fakeInput) feed(frame []float32) { f.onFrame(frame) }

func receiveChunk(t *testing.T, c *Capture) Chunk {
	t.Helper()
	select {
	case chunk := <-c.Chunks():
		return chunk
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a chunk")
		return Chunk{}
	}
}

func TestStartCapture_WorkerPath(t *testing.T) {
	dev := &fakeInput{rate: 48000}
	cfg := DefaultCaptureConfig()
	cfg.ChunkSamples = 64
	c, err := StartCapture(dev, nil, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if c.Mode() != CaptureWorker {
		t.Fatalf("Expected worker mode, got %s", c.Mode())
	}

	dev.feed(make([]float32, 480))
	chunk := receiveChunk(t, c)
	if chunk.SampleRate != InputSampleRate {
		t.Errorf("Expected %d Hz, got %d", InputSampleRate, chunk.SampleRate)
	}
	if len(chunk.Data) != 128 {
		t.Errorf("Expected 128 bytes, got %d", len(chunk.Data))
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// 480 samples at 48 kHz resample to 160; two full chunks and a flushed
	// partial of 32 samples.
	receiveChunk(t, c)
	last := receiveChunk(t, c)
	if len(last.Data) != 64 {
		t.Errorf("Expected flushed partial of 64 bytes, got %d", len(last.Data))
	}
	if dev.stops != 1 {
		t.Errorf("Expected device stopped once, got %d", dev.stops)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Second Stop should be a no-op, got %v", err)
	}
}

func TestStartCapture_FallsBackInline(t *testing.T) {
	primary := &fakeInput{rate: 48000, startErr: errors.New("worker unavailable")}
	fallback := &fakeInput{rate: 44100}

	c, err := StartCapture(primary, fallback, DefaultCaptureConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if c.Mode() != CaptureInline {
		t.Fatalf("Expected inline mode, got %s", c.Mode())
	}

	fallback.feed(make([]float32, 256))
	chunk := receiveChunk(t, c)
	if chunk.SampleRate != 44100 {
		t.Errorf("Inline chunks are declared at the device rate, got %d", chunk.SampleRate)
	}
	if len(chunk.Data) != 512 {
		t.Errorf("Expected 512 bytes, got %d", len(chunk.Data))
	}
	c.Stop()
}

func TestStartCapture_NoDevice(t *testing.T) {
	_, err := StartCapture(nil, nil, DefaultCaptureConfig(), zap.NewNop())
	if !errors.Is(err, ErrNoCaptureDevice) {
		t.Fatalf("Expected ErrNoCaptureDevice, got %v", err)
	}

	bad := &fakeInput{startErr: errors.New("busy")}
	_, err = StartCapture(bad, bad, DefaultCaptureConfig(), zap.NewNop())
	if !errors.Is(err, ErrNoCaptureDevice) {
		t.Fatalf("Expected ErrNoCaptureDevice when both paths fail, got %v", err)
	}
}
