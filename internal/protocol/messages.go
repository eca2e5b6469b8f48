// Package protocol defines the JSON messages exchanged between the live
// client, the relay, and the upstream live session.
//
// A Message carries one or more variants; Kind reports the primary one.
// Decode accepts camelCase and snake_case keys, Encode writes both, and
// everything between works on the canonical camelCase structs below.
package protocol

import (
	"strings"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/pcm"
)

// Kind discriminates Message variants.
type Kind string

const (
	KindSetup                Kind = "setup"
	KindSetupComplete        Kind = "setupComplete"
	KindClientContent        Kind = "clientContent"
	KindRealtimeInput        Kind = "realtimeInput"
	KindServerContent        Kind = "serverContent"
	KindToolCall             Kind = "toolCall"
	KindToolCallCancellation Kind = "toolCallCancellation"
	KindToolResponse         Kind = "toolResponse"
	KindUsageMetadata        Kind = "usageMetadata"
	KindGoAway               Kind = "goAway"
	KindServerStatus         Kind = "serverStatus"
	KindServerError          Kind = "serverError"
	KindDebugTranscription   Kind = "debugTranscription"
)

// Relay status states.
const (
	StateReconnecting = "gemini_reconnecting"
	StateRecovered    = "gemini_recovered"
)

// Transcription directions carried by DebugTranscription.
const (
	TranscriptionInput  = "input"
	TranscriptionOutput = "output"
)

// Message is the tagged union sent over every socket. Treat it as a value:
// never modify a Message after it has been handed to a sender.
type Message struct {
	Setup                *Setup                `json:"setup,omitempty"`
	SetupComplete        *SetupComplete        `json:"setupComplete,omitempty"`
	ClientContent        *ClientContent        `json:"clientContent,omitempty"`
	RealtimeInput        *RealtimeInput        `json:"realtimeInput,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
	ToolCall             *ToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
	ToolResponse         *ToolResponse         `json:"toolResponse,omitempty"`
	UsageMetadata        map[string]any        `json:"usageMetadata,omitempty"`
	GoAway               *GoAway               `json:"goAway,omitempty"`
	ServerStatus         *ServerStatus         `json:"serverStatus,omitempty"`
	ServerError          *ServerError          `json:"serverError,omitempty"`
	DebugTranscription   *DebugTranscription   `json:"debugTranscription,omitempty"`
}

// Kinds lists every variant present, in declaration order.
func (m *Message) Kinds() []Kind {
	if m == nil {
		return nil
	}
	var ks []Kind
	add := func(present bool, k Kind) {
		if present {
			ks = append(ks, k)
		}
	}
	add(m.Setup != nil, KindSetup)
	add(m.SetupComplete != nil, KindSetupComplete)
	add(m.ClientContent != nil, KindClientContent)
	add(m.RealtimeInput != nil, KindRealtimeInput)
	add(m.ServerContent != nil, KindServerContent)
	add(m.ToolCall != nil, KindToolCall)
	add(m.ToolCallCancellation != nil, KindToolCallCancellation)
	add(m.ToolResponse != nil, KindToolResponse)
	add(len(m.UsageMetadata) > 0, KindUsageMetadata)
	add(m.GoAway != nil, KindGoAway)
	add(m.ServerStatus != nil, KindServerStatus)
	add(m.ServerError != nil, KindServerError)
	add(m.DebugTranscription != nil, KindDebugTranscription)
	return ks
}

// Kind returns the first variant present, or "" for an empty message.
func (m *Message) Kind() Kind {
	if ks := m.Kinds(); len(ks) > 0 {
		return ks[0]
	}
	return ""
}

// Empty reports whether no variant is set.
func (m *Message) Empty() bool { return m.Kind() == "" }

// AudioOnly reports whether m is realtime input consisting solely of audio.
// Such messages are never queued across an outage.
func (m *Message) AudioOnly() bool {
	if m == nil || m.RealtimeInput == nil || len(m.Kinds()) != 1 {
		return false
	}
	return m.RealtimeInput.AudioOnly()
}

// Blob is inline binary data, base64 encoded.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is one piece of a content turn.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
	Thought    bool   `json:"thought,omitempty"`
}

// Content is a role-tagged turn.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Text concatenates the text parts of c.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// AudioParts returns the inline audio blobs of c.
func (c *Content) AudioParts() []Blob {
	if c == nil {
		return nil
	}
	var out []Blob
	for _, p := range c.Parts {
		if p.InlineData != nil && pcm.IsAudio(p.InlineData.MIMEType) {
			out = append(out, *p.InlineData)
		}
	}
	return out
}

// Setup is accepted from clients for compatibility; the relay performs the
// upstream setup itself.
type Setup struct {
	Model             string   `json:"model,omitempty"`
	SystemInstruction *Content `json:"systemInstruction,omitempty"`
}

type SetupComplete struct{}

type ClientContent struct {
	Turns        []Content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete"`
}

// RealtimeInput streams media. MediaChunks is the legacy batched form; Audio
// and Video carry a single blob.
type RealtimeInput struct {
	MediaChunks    []Blob `json:"mediaChunks,omitempty"`
	Audio          *Blob  `json:"audio,omitempty"`
	Video          *Blob  `json:"video,omitempty"`
	Text           string `json:"text,omitempty"`
	AudioStreamEnd bool   `json:"audioStreamEnd,omitempty"`
}

// Blobs returns every media blob in r.
func (r *RealtimeInput) Blobs() []Blob {
	out := append([]Blob(nil), r.MediaChunks...)
	if r.Audio != nil {
		out = append(out, *r.Audio)
	}
	if r.Video != nil {
		out = append(out, *r.Video)
	}
	return out
}

// AudioOnly reports whether r carries nothing but audio or an end-of-audio
// marker.
func (r *RealtimeInput) AudioOnly() bool {
	if r.Text != "" || r.Video != nil {
		return false
	}
	blobs := r.Blobs()
	if len(blobs) == 0 {
		return r.AudioStreamEnd
	}
	for _, b := range blobs {
		if !pcm.IsAudio(b.MIMEType) {
			return false
		}
	}
	return true
}

type Transcription struct {
	Text     string `json:"text,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

type FunctionCall struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Args Args   `json:"args,omitempty"`
}

type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// ServerStatus is emitted by the relay, never by the upstream service.
type ServerStatus struct {
	State       string `json:"state"`
	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"maxAttempts,omitempty"`
	DelayMs     int64  `json:"delayMs,omitempty"`
}

type ServerError struct {
	Message string `json:"message"`
}

type DebugTranscription struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Finished bool   `json:"finished"`
}
