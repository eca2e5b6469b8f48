package relay

import "strings"

// TranscriptAccumulator joins input-transcription fragments until a flush.
// Timing is owned by the session loop.
type TranscriptAccumulator struct {
	sb strings.Builder
}

// Append adds a fragment as received. Fragments carry their own spacing.
func (a *TranscriptAccumulator) Append(fragment string) {
	a.sb.WriteString(fragment)
}

// Pending reports whether any non-blank text is buffered.
func (a *TranscriptAccumulator) Pending() bool {
	return strings.TrimSpace(a.sb.String()) != ""
}

// Take returns the buffered utterance with whitespace collapsed and resets
// the buffer.
func (a *TranscriptAccumulator) Take() string {
	text := strings.Join(strings.Fields(a.sb.String()), " ")
	a.sb.Reset()
	return text
}
