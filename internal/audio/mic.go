package audio

import (
	"math"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/pcm"
)

// MicProcessor converts device frames to fixed-size PCM16 chunks at the
// target rate. When the device rate differs it resamples by linear
// interpolation, carrying the fractional read position and the previous
// frame's last sample so that frame boundaries are seamless.
//
// A MicProcessor is owned by one goroutine.
type MicProcessor struct {
	inputRate  int
	targetRate int
	ratio      float64

	buf []int16
	n   int

	cursor  float64
	prev    float32
	hasPrev bool

	emit func(Chunk)
}

// NewMicProcessor returns a processor that calls emit with every full chunk
// of chunkSamples samples. emit receives a fresh slice each time.
func NewMicProcessor(inputRate, targetRate, chunkSamples int, emit func(Chunk)) *MicProcessor {
	if targetRate <= 0 {
		targetRate = InputSampleRate
	}
	if inputRate <= 0 {
		inputRate = targetRate
	}
	if chunkSamples <= 0 {
		chunkSamples = MicChunkSamples
	}
	return &MicProcessor{
		inputRate:  inputRate,
		targetRate: targetRate,
		ratio:      float64(inputRate) / float64(targetRate),
		buf:        make([]int16, chunkSamples),
		emit:       emit,
	}
}

// Process consumes one device frame.
func (m *MicProcessor) Process(frame []float32) {
	if len(frame) == 0 {
		return
	}
	if m.inputRate == m.targetRate {
		for _, s := range frame {
			m.push(s)
		}
		return
	}

	last := float64(len(frame) - 1)
	pos := m.cursor
	for pos < last {
		i := int(math.Floor(pos))
		frac := float32(pos - float64(i))
		a := m.at(frame, i)
		b := frame[i+1]
		m.push(a + (b-a)*frac)
		pos += m.ratio
	}
	// Positions in [-1, 0) of the next frame interpolate from prev.
	m.cursor = pos - float64(len(frame))
	m.prev = frame[len(frame)-1]
	m.hasPrev = true
}

func (m *MicProcessor) at(frame []float32, i int) float32 {
	if i < 0 {
		if m.hasPrev {
			return m.prev
		}
		return frame[0]
	}
	return frame[i]
}

func (m *MicProcessor) push(s float32) {
	m.buf[m.n] = pcm.FloatToInt16(s)
	m.n++
	if m.n == len(m.buf) {
		m.Flush()
	}
}

// Flush emits any partially filled chunk. It does nothing when empty.
func (m *MicProcessor) Flush() {
	if m.n == 0 {
		return
	}
	chunk := Chunk{Data: pcm.Int16ToBytes(m.buf[:m.n]), SampleRate: m.targetRate}
	m.n = 0
	if m.emit != nil {
		m.emit(chunk)
	}
}

// Buffered returns the number of samples waiting for the next chunk.
func (m *MicProcessor) Buffered() int { return m.n }
