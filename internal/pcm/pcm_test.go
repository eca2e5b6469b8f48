package pcm

import (
	"bytes"
	"encoding/base64"
	"math"
	"math/rand"
	"testing"
)

func TestFloatRoundTripWithinOneStep(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := make([]float32, 4096)
	for i := range samples {
		samples[i] = rng.Float32()*2 - 1
	}
	samples[0], samples[1], samples[2] = -1, 0, 1

	got := PCM16ToFloat(FloatToPCM16(samples))
	if len(got) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(got))
	}
	for i := range samples {
		if d := math.Abs(float64(got[i] - samples[i])); d > 1.0/32767 {
			t.Fatalf("sample %d: expected %f, got %f (diff %g)", i, samples[i], got[i], d)
		}
	}
}

func TestBytesRoundTripExact(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	b := make([]byte, 8192)
	rng.Read(b)

	got := FloatToPCM16(PCM16ToFloat(b))
	if !bytes.Equal(got, b) {
		t.Fatal("Expected byte buffer to survive float round trip unchanged")
	}
}

func TestCodecScaleIsMirrored(t *testing.T) {
	decoded := PCM16ToFloat([]byte{0xff, 0x7f, 0x00, 0x80, 0x01, 0x00})
	if decoded[0] != 1 {
		t.Errorf("0x7fff decoded to %.10f, want 1", decoded[0])
	}
	if decoded[1] != -1 {
		t.Errorf("0x8000 decoded to %.10f, want -1", decoded[1])
	}
	if want := float32(1) / 32767; decoded[2] != want {
		t.Errorf("1 decoded to %g, want %g", decoded[2], want)
	}

	tests := []struct {
		in   float32
		want int16
	}{
		{0.99999, 32767},
		{1.0 / 32767, 1},
		{0.6 / 32767, 1},
		{-1.0 / 32768, -1},
	}
	for _, tt := range tests {
		if got := FloatToInt16(tt.in); got != tt.want {
			t.Errorf("FloatToInt16(%g) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPCM16ToFloatOddLength(t *testing.T) {
	got := PCM16ToFloat([]byte{0x00, 0x80, 0x7f})
	if len(got) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(got))
	}
	if got[0] != -1 {
		t.Errorf("Expected -1, got %f", got[0])
	}
}

func TestFloatToInt16Clamping(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"above one", 1.7, 32767},
		{"one", 1, 32767},
		{"zero", 0, 0},
		{"minus one", -1, -32768},
		{"below minus one", -3, -32768},
		{"half", 0.5, 16384},
		{"minus half", -0.5, -16384},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FloatToInt16(tt.in); got != tt.want {
				t.Errorf("FloatToInt16(%f) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestBase64MatchesStandardEncoding(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, base64Window - 1, base64Window, base64Window + 1, 3*base64Window + 5} {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i * 31)
		}
		enc := BytesToBase64(b)
		if want := base64.StdEncoding.EncodeToString(b); enc != want {
			t.Fatalf("len %d: windowed encoding differs from standard encoding", n)
		}
		dec, err := Base64ToBytes(enc)
		if err != nil {
			t.Fatalf("len %d: unexpected error: %v", n, err)
		}
		if !bytes.Equal(dec, b) {
			t.Fatalf("len %d: decoded bytes differ", n)
		}
	}
}

func TestBase64ToBytesLenient(t *testing.T) {
	got, err := Base64ToBytes("AQID\nBA")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("Expected [1 2 3 4], got %v", got)
	}

	if _, err := Base64ToBytes("!!!"); err == nil {
		t.Error("Expected error for invalid base64")
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		mime   string
		rate   int
		wantOK bool
	}{
		{"audio/pcm;rate=16000", 16000, true},
		{"audio/pcm; rate=24000", 24000, true},
		{"AUDIO/PCM;RATE=8000", 8000, true},
		{"audio/pcm", 0, false},
		{"image/jpeg", 0, false},
		{"audio/pcm;rate=abc", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			rate, ok := ParseRate(tt.mime)
			if ok != tt.wantOK || rate != tt.rate {
				t.Errorf("ParseRate(%q) = %d, %v; want %d, %v", tt.mime, rate, ok, tt.rate, tt.wantOK)
			}
		})
	}

	if MIMEType(16000) != "audio/pcm;rate=16000" {
		t.Errorf("Unexpected MIME type %q", MIMEType(16000))
	}
}
