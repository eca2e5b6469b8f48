package audio

import "fmt"

// PlaybackConfig tunes the gapless playback buffer. Thresholds are counted
// in render frames, whatever size the output device asks for.
type PlaybackConfig struct {
	// Capacity of the ring in samples.
	Capacity int
	// Prebuffer is the number of samples that must accumulate before output
	// starts after a clear or a drain.
	Prebuffer int
	// LongDrainFrames applies while fewer than SlowStartSamples have played.
	LongDrainFrames int
	// ShortDrainFrames applies once playback is past the slow start.
	ShortDrainFrames int
	SlowStartSamples int
}

// DefaultPlaybackConfig is tuned for 24 kHz output in 128-sample frames:
// ten seconds of ring, 120 ms of prebuffer, drain after ~500 ms of silence
// during the first two seconds and ~200 ms afterwards.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		Capacity:         OutputSampleRate * 10,
		Prebuffer:        2880,
		LongDrainFrames:  94,
		ShortDrainFrames: 38,
		SlowStartSamples: 48000,
	}
}

// Validate reports configuration that could never start or drain.
func (c PlaybackConfig) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("playback capacity must be positive, got %d", c.Capacity)
	case c.Prebuffer < 0 || c.Prebuffer > c.Capacity:
		return fmt.Errorf("playback prebuffer %d outside [0, %d]", c.Prebuffer, c.Capacity)
	case c.LongDrainFrames <= 0 || c.ShortDrainFrames <= 0:
		return fmt.Errorf("drain thresholds must be positive")
	}
	return nil
}

// PlaybackBuffer is the ring buffer behind Player. It has a single owner and
// no locking; Player confines it to the render goroutine.
type PlaybackBuffer struct {
	cfg PlaybackConfig
	buf []float32

	write     int
	read      int
	available int

	prebuffering bool
	playing      bool
	emptyFrames  int
	totalPlayed  int
}

// NewPlaybackBuffer allocates a buffer that starts in the prebuffering state.
func NewPlaybackBuffer(cfg PlaybackConfig) (*PlaybackBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PlaybackBuffer{
		cfg:          cfg,
		buf:          make([]float32, cfg.Capacity),
		prebuffering: true,
	}, nil
}

// Write appends samples. When the ring overflows the oldest samples are
// overwritten and the read cursor moves to the oldest surviving sample.
func (b *PlaybackBuffer) Write(samples []float32) {
	capacity := len(b.buf)
	for _, s := range samples {
		b.buf[b.write] = s
		b.write = (b.write + 1) % capacity
	}
	b.available += len(samples)
	if b.available > capacity {
		b.available = capacity
		b.read = b.write
	}
	b.emptyFrames = 0
}

// Clear discards everything buffered and re-enters prebuffering.
func (b *PlaybackBuffer) Clear() {
	b.write = 0
	b.read = 0
	b.available = 0
	b.totalPlayed = 0
	b.emptyFrames = 0
	b.playing = false
	b.prebuffering = true
}

// Render fills out with the next frame and reports whether this frame
// completed a drain: the buffer was playing and has now been empty for the
// adaptive threshold. Drain is reported once per playback episode.
func (b *PlaybackBuffer) Render(out []float32) (drained bool) {
	if b.prebuffering {
		if b.available < b.cfg.Prebuffer || b.available == 0 {
			silence(out)
			return false
		}
		b.prebuffering = false
	}

	if b.available > 0 {
		n := len(out)
		if n > b.available {
			n = b.available
		}
		capacity := len(b.buf)
		for i := 0; i < n; i++ {
			out[i] = b.buf[b.read]
			b.read = (b.read + 1) % capacity
		}
		silence(out[n:])
		b.available -= n
		b.totalPlayed += n
		b.playing = true
		b.emptyFrames = 0
		return false
	}

	silence(out)
	b.emptyFrames++
	if b.playing && b.emptyFrames == b.drainThreshold() {
		b.playing = false
		b.prebuffering = true
		b.totalPlayed = 0
		return true
	}
	return false
}

func (b *PlaybackBuffer) drainThreshold() int {
	if b.totalPlayed < b.cfg.SlowStartSamples {
		return b.cfg.LongDrainFrames
	}
	return b.cfg.ShortDrainFrames
}

// Available returns the number of buffered samples.
func (b *PlaybackBuffer) Available() int { return b.available }

// Prebuffering reports whether output is being withheld.
func (b *PlaybackBuffer) Prebuffering() bool { return b.prebuffering }

// TotalPlayed returns samples played in the current episode.
func (b *PlaybackBuffer) TotalPlayed() int { return b.totalPlayed }

// Capacity returns the ring size in samples.
func (b *PlaybackBuffer) Capacity() int { return len(b.buf) }

func silence(out []float32) {
	for i := range out {
		out[i] = 0
	}
}
