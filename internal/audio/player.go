package audio

import "sync/atomic"

type controlKind int

const (
	controlAudio controlKind = iota
	controlClear
	controlStop
)

type controlMsg struct {
	kind    controlKind
	samples []float32
}

// Player drives a PlaybackBuffer from an output device callback. Writers on
// any goroutine post audio, clear, and stop messages; the render goroutine
// applies them at the start of every Render call and reports drains on
// Drained.
type Player struct {
	buf     *PlaybackBuffer
	control chan controlMsg
	drained chan struct{}

	// forceClear is set when a clear could not be queued. Render then drops
	// everything queued and clears the ring.
	forceClear atomic.Bool
	stopped    atomic.Bool
	// active is only touched by the render goroutine.
	active bool
}

// NewPlayer creates a player. queueLen bounds the number of control messages
// waiting for the next render call.
func NewPlayer(cfg PlaybackConfig, queueLen int) (*Player, error) {
	buf, err := NewPlaybackBuffer(cfg)
	if err != nil {
		return nil, err
	}
	if queueLen < 1 {
		queueLen = 1024
	}
	return &Player{
		buf:     buf,
		control: make(chan controlMsg, queueLen),
		drained: make(chan struct{}, 1),
		active:  true,
	}, nil
}

// Enqueue hands samples to the render goroutine. The slice must not be
// modified afterwards. It reports false when the queue is full and the
// samples were dropped.
func (p *Player) Enqueue(samples []float32) bool {
	if len(samples) == 0 || p.stopped.Load() {
		return false
	}
	select {
	case p.control <- controlMsg{kind: controlAudio, samples: samples}:
		return true
	default:
		return false
	}
}

// Clear discards buffered and queued audio.
func (p *Player) Clear() {
	select {
	case p.control <- controlMsg{kind: controlClear}:
	default:
		p.forceClear.Store(true)
	}
}

// Stop ends playback; subsequent renders emit silence and return false.
func (p *Player) Stop() {
	p.stopped.Store(true)
	select {
	case p.control <- controlMsg{kind: controlStop}:
	default:
	}
}

// Drained delivers one value each time a playback episode finishes.
func (p *Player) Drained() <-chan struct{} { return p.drained }

// Render fills out with the next frame. It must only be called from a single
// goroutine, normally the output device callback. It returns false once the
// player has been stopped.
func (p *Player) Render(out []float32) bool {
	if p.forceClear.Swap(false) {
		p.discardQueued()
		p.buf.Clear()
	}
	p.applyControl()
	if !p.active || p.stopped.Load() {
		p.active = false
		silence(out)
		return false
	}
	if p.buf.Render(out) {
		select {
		case p.drained <- struct{}{}:
		default:
		}
	}
	return true
}

func (p *Player) applyControl() {
	for {
		select {
		case msg := <-p.control:
			switch msg.kind {
			case controlAudio:
				p.buf.Write(msg.samples)
			case controlClear:
				p.buf.Clear()
			case controlStop:
				p.active = false
			}
		default:
			return
		}
	}
}

func (p *Player) discardQueued() {
	for {
		select {
		case msg := <-p.control:
			if msg.kind == controlStop {
				p.active = false
			}
		default:
			return
		}
	}
}
