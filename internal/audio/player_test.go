package audio

import "testing"

func TestPlayer_AppliesMessagesInOrder(t *testing.T) {
	cfg := DefaultPlaybackConfig()
	cfg.Prebuffer = 4
	p, err := NewPlayer(cfg, 16)
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}

	p.Enqueue(ones(100))
	p.Clear()
	p.Enqueue([]float32{0.1, 0.2, 0.3, 0.4})

	frame := make([]float32, 4)
	if !p.Render(frame) {
		t.Fatal("Render returned false on an active player")
	}
	want := []float32{0.1, 0.2, 0.3, 0.4}
	for i := range want {
		if frame[i] != want[i] {
			t.Fatalf("sample %d: expected %f, got %f", i, want[i], frame[i])
		}
	}
}

func TestPlayer_DrainedNotification(t *testing.T) {
	cfg := DefaultPlaybackConfig()
	cfg.Prebuffer = RenderFrameSize
	cfg.LongDrainFrames = 3
	p, err := NewPlayer(cfg, 16)
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}
	p.Enqueue(ones(RenderFrameSize))

	frame := make([]float32, RenderFrameSize)
	for i := 0; i < 4; i++ {
		p.Render(frame)
	}

	select {
	case <-p.Drained():
	default:
		t.Fatal("Expected a drained notification")
	}
	select {
	case <-p.Drained():
		t.Fatal("Drained delivered twice for one episode")
	default:
	}
}

func TestPlayer_StopSilences(t *testing.T) {
	cfg := DefaultPlaybackConfig()
	cfg.Prebuffer = 1
	p, err := NewPlayer(cfg, 16)
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}
	p.Enqueue(ones(500))
	p.Stop()

	frame := make([]float32, RenderFrameSize)
	if p.Render(frame) {
		t.Error("Expected Render to return false after stop")
	}
	if nonSilent(frame) {
		t.Error("Expected silence after stop")
	}
	if p.Enqueue(ones(10)) {
		t.Error("Enqueue should refuse audio after stop")
	}
}

func TestPlayer_ForcedClearWhenQueueFull(t *testing.T) {
	cfg := DefaultPlaybackConfig()
	cfg.Prebuffer = 1
	p, err := NewPlayer(cfg, 2)
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}
	p.Enqueue(ones(10))
	p.Enqueue(ones(10))
	p.Clear()

	frame := make([]float32, RenderFrameSize)
	p.Render(frame)
	if nonSilent(frame) {
		t.Error("Expected queued audio to be discarded by forced clear")
	}
}
