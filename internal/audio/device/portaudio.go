// Package device binds the audio pipelines to PortAudio.
package device

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/audio"
)

var (
	initMu   sync.Mutex
	initRefs int
)

// Initialize must be paired with Terminate. Calls nest.
func Initialize() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize PortAudio: %w", err)
		}
	}
	initRefs++
	return nil
}

// Terminate releases one Initialize.
func Terminate() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return nil
	}
	initRefs--
	if initRefs == 0 {
		return portaudio.Terminate()
	}
	return nil
}

// Microphone is a mono PortAudio input stream delivering frames from the
// PortAudio callback thread.
type Microphone struct {
	rate      int
	frameSize int
	stream    *portaudio.Stream
}

// NativeMicrophone opens the default input at the device's preferred rate.
// Frames are resampled by the capture worker.
func NativeMicrophone(frameSize int) (*Microphone, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("no default input device: %w", err)
	}
	return &Microphone{rate: int(dev.DefaultSampleRate), frameSize: frameSize}, nil
}

// FixedRateMicrophone asks PortAudio for the given rate directly.
func FixedRateMicrophone(rate, frameSize int) *Microphone {
	return &Microphone{rate: rate, frameSize: frameSize}
}

func (m *Microphone) SampleRate() int { return m.rate }

func (m *Microphone) Start(onFrame func([]float32)) error {
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.rate), m.frameSize, func(in []float32) {
		onFrame(in)
	})
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	m.stream = stream
	return nil
}

func (m *Microphone) Stop() error {
	if m.stream == nil {
		return nil
	}
	defer func() { m.stream = nil }()
	if err := m.stream.Stop(); err != nil {
		m.stream.Close()
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	return m.stream.Close()
}

// Speaker renders a Player on the default output device.
type Speaker struct {
	stream *portaudio.Stream
}

// OpenSpeaker starts a mono output stream at the agent's output rate that
// pulls every frame from player.
func OpenSpeaker(player *audio.Player) (*Speaker, error) {
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(audio.OutputSampleRate), audio.RenderFrameSize, func(out []float32) {
		player.Render(out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	return &Speaker{stream: stream}, nil
}

// Close stops the output stream.
func (s *Speaker) Close() error {
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return fmt.Errorf("failed to stop output stream: %w", err)
	}
	return s.stream.Close()
}

// Info describes one PortAudio device.
type Info struct {
	Name              string
	HostAPI           string
	InputChannels     int
	OutputChannels    int
	DefaultSampleRate float64
	DefaultInput      bool
	DefaultOutput     bool
}

// List enumerates devices. Initialize must have been called.
func List() ([]Info, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	out := make([]Info, 0, len(devices))
	for _, d := range devices {
		info := Info{
			Name:              d.Name,
			InputChannels:     d.MaxInputChannels,
			OutputChannels:    d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			DefaultInput:      defIn != nil && d.Name == defIn.Name,
			DefaultOutput:     defOut != nil && d.Name == defOut.Name,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

var _ audio.InputDevice = (*Microphone)(nil)
