package protocol

import (
	"time"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/pcm"
)

// NewAudioInput wraps PCM16 audio at rate in a realtimeInput message.
func NewAudioInput(data []byte, rate int) *Message {
	return &Message{RealtimeInput: &RealtimeInput{
		MediaChunks: []Blob{{MIMEType: pcm.MIMEType(rate), Data: pcm.BytesToBase64(data)}},
	}}
}

// NewAudioStreamEnd tells the upstream that microphone audio has stopped.
func NewAudioStreamEnd() *Message {
	return &Message{RealtimeInput: &RealtimeInput{AudioStreamEnd: true}}
}

// NewUserTurn builds a completed user turn from text and optional inline
// blobs, which precede the text.
func NewUserTurn(text string, blobs ...Blob) *Message {
	parts := make([]Part, 0, len(blobs)+1)
	for i := range blobs {
		b := blobs[i]
		parts = append(parts, Part{InlineData: &b})
	}
	if text != "" {
		parts = append(parts, Part{Text: text})
	}
	return &Message{ClientContent: &ClientContent{
		Turns:        []Content{{Role: "user", Parts: parts}},
		TurnComplete: true,
	}}
}

// NewToolCall wraps function calls.
func NewToolCall(calls ...FunctionCall) *Message {
	return &Message{ToolCall: &ToolCall{FunctionCalls: calls}}
}

// NewToolResponse wraps function responses.
func NewToolResponse(responses ...FunctionResponse) *Message {
	return &Message{ToolResponse: &ToolResponse{FunctionResponses: responses}}
}

// NewReconnecting reports an upstream reconnect attempt.
func NewReconnecting(attempt, maxAttempts int, delay time.Duration) *Message {
	return &Message{ServerStatus: &ServerStatus{
		State:       StateReconnecting,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		DelayMs:     delay.Milliseconds(),
	}}
}

// NewRecovered reports that the upstream session is flowing again.
func NewRecovered() *Message {
	return &Message{ServerStatus: &ServerStatus{State: StateRecovered}}
}

// NewServerError reports a terminal relay failure.
func NewServerError(message string) *Message {
	return &Message{ServerError: &ServerError{Message: message}}
}

// NewDebugTranscription mirrors a transcription delta to the client.
func NewDebugTranscription(kind, text string, finished bool) *Message {
	return &Message{DebugTranscription: &DebugTranscription{Type: kind, Text: text, Finished: finished}}
}

// NewSetupComplete marks the upstream session as ready.
func NewSetupComplete() *Message {
	return &Message{SetupComplete: &SetupComplete{}}
}
