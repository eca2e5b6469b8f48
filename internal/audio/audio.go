// Package audio holds the realtime audio paths of the live client: gapless
// playback of agent speech and microphone capture with resampling.
//
// Both paths run on goroutines that own their state exclusively. Everything
// crossing into or out of them travels over channels.
package audio

import "errors"

const (
	// InputSampleRate is the rate microphone audio is sent upstream at.
	InputSampleRate = 16000
	// OutputSampleRate is the rate agent speech arrives at.
	OutputSampleRate = 24000
	// RenderFrameSize is the output callback frame length.
	RenderFrameSize = 128
	// MicChunkSamples is the number of samples per emitted mic chunk.
	MicChunkSamples = 2048
)

// ErrNoCaptureDevice is returned when neither the primary nor the fallback
// capture path could be started.
var ErrNoCaptureDevice = errors.New("no usable audio capture path")

// Chunk is a block of 16-bit little-endian PCM at a declared sample rate.
type Chunk struct {
	Data       []byte
	SampleRate int
}
