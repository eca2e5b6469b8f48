// Package pcm converts between 16-bit little-endian PCM, normalized float
// samples, and the base64 text used to carry audio inside JSON frames.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// base64Window is the number of input bytes encoded per step. It is a
// multiple of 3 so that window outputs concatenate without inner padding.
const base64Window = 0x8000 - 2

// PCM16ToFloat decodes little-endian signed 16-bit samples into floats in
// [-1, 1]. A trailing odd byte is ignored. Scaling mirrors FloatToPCM16 so
// that FloatToPCM16(PCM16ToFloat(b)) == b.
func PCM16ToFloat(b []byte) []float32 {
	n := len(b) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = Int16ToFloat(int16(binary.LittleEndian.Uint16(b[i*2:])))
	}
	return out
}

// Int16ToFloat converts one sample: negatives divide by 32768, the rest by
// 32767.
func Int16ToFloat(s int16) float32 {
	if s < 0 {
		return float32(s) / 32768
	}
	return float32(s) / 32767
}

// FloatToPCM16 clamps samples to [-1, 1] and encodes them as little-endian
// signed 16-bit PCM. Negative values scale by 32768, the rest by 32767.
func FloatToPCM16(f []float32) []byte {
	out := make([]byte, len(f)*2)
	for i, v := range f {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToInt16(v)))
	}
	return out
}

// FloatToInt16 converts one normalized sample using the same asymmetric
// scaling as FloatToPCM16.
func FloatToInt16(v float32) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(math.Round(float64(v) * 32768))
	}
	return int16(math.Round(float64(v) * 32767))
}

// Int16ToBytes encodes samples as little-endian PCM.
func Int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// BytesToBase64 encodes b with standard padding, one bounded window at a time.
func BytesToBase64(b []byte) string {
	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(b)))
	buf := make([]byte, base64.StdEncoding.EncodedLen(base64Window))
	for start := 0; start < len(b); start += base64Window {
		end := start + base64Window
		if end > len(b) {
			end = len(b)
		}
		n := base64.StdEncoding.EncodedLen(end - start)
		base64.StdEncoding.Encode(buf[:n], b[start:end])
		sb.Write(buf[:n])
	}
	return sb.String()
}

// Base64ToBytes decodes standard base64, tolerating embedded whitespace and
// missing padding.
func Base64ToBytes(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")
	out, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return out, nil
}

// MIMEType returns the blob type for PCM at the given sample rate.
func MIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseRate extracts the sample rate from an audio/pcm MIME type. ok is
// false when the type is not PCM or carries no rate.
func ParseRate(mime string) (rate int, ok bool) {
	base, params, _ := strings.Cut(mime, ";")
	if strings.TrimSpace(strings.ToLower(base)) != "audio/pcm" {
		return 0, false
	}
	for _, p := range strings.Split(params, ";") {
		k, v, found := strings.Cut(strings.TrimSpace(p), "=")
		if found && strings.EqualFold(k, "rate") {
			r, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || r <= 0 {
				return 0, false
			}
			return r, true
		}
	}
	return 0, false
}

// IsAudio reports whether mime names any audio payload.
func IsAudio(mime string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "audio/")
}
