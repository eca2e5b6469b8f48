package backoff

import (
	"testing"
	"time"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Base: 1200 * time.Millisecond, Max: 10 * time.Second, MaxAttempts: 5}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1200 * time.Millisecond},
		{1, 1200 * time.Millisecond},
		{2, 2400 * time.Millisecond},
		{3, 4800 * time.Millisecond},
		{4, 9600 * time.Millisecond},
		{5, 10 * time.Second},
		{40, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_Exhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	if p.Exhausted(3) {
		t.Error("Attempt 3 of 3 should not be exhausted")
	}
	if !p.Exhausted(4) {
		t.Error("Attempt 4 of 3 should be exhausted")
	}
}
