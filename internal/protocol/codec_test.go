package protocol

import (
	"errors"
	"testing"

	"github.com/bytedance/sonic"
)

func TestDecode_AcceptsBothConventions(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{
			name:    "camelCase",
			message: `{"realtimeInput":{"mediaChunks":[{"mimeType":"audio/pcm;rate=16000","data":"AAA="}]}}`,
		},
		{
			name:    "snake_case",
			message: `{"realtime_input":{"media_chunks":[{"mime_type":"audio/pcm;rate=16000","data":"AAA="}]}}`,
		},
		{
			name:    "mixed",
			message: `{"realtime_input":{"mediaChunks":[{"mime_type":"audio/pcm;rate=16000","data":"AAA="}]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.message))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if msg.Kind() != KindRealtimeInput {
				t.Fatalf("Expected realtimeInput, got %q", msg.Kind())
			}
			chunks := msg.RealtimeInput.MediaChunks
			if len(chunks) != 1 || chunks[0].MIMEType != "audio/pcm;rate=16000" {
				t.Fatalf("Unexpected chunks: %+v", chunks)
			}
			if !msg.AudioOnly() {
				t.Error("Expected audio-only message")
			}
		})
	}
}

func TestDecode_CamelWinsOverSnake(t *testing.T) {
	msg, err := Decode([]byte(`{"serverError":{"message":"camel"},"server_error":{"message":"snake"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.ServerError.Message != "camel" {
		t.Errorf("Expected camel value, got %q", msg.ServerError.Message)
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    error
	}{
		{"not json", `{"setupComplete":`, ErrMalformed},
		{"array", `[1,2]`, ErrMalformed},
		{"no variant", `{"hello":"world"}`, ErrUnknownMessage},
		{"empty object", `{}`, ErrUnknownMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.message))
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecode_ToolCallArgs(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantID  float64
		wantLen int
	}{
		{
			name:    "object args",
			message: `{"toolCall":{"functionCalls":[{"id":"a","name":"update_node","args":{"id":2,"node_color":"#fff"}}]}}`,
			wantID:  2,
			wantLen: 2,
		},
		{
			name:    "string args",
			message: `{"tool_call":{"function_calls":[{"id":"a","name":"update_node","args":"{\"id\":3}"}]}}`,
			wantID:  3,
			wantLen: 1,
		},
		{
			name:    "garbage args",
			message: `{"toolCall":{"functionCalls":[{"id":"a","name":"update_node","args":"not json"}]}}`,
			wantLen: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.message))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			args := msg.ToolCall.FunctionCalls[0].Args
			if len(args) != tt.wantLen {
				t.Fatalf("Expected %d args, got %v", tt.wantLen, args)
			}
			if tt.wantLen > 0 {
				if id, _ := args.Number("id"); id != tt.wantID {
					t.Errorf("Expected id %v, got %v", tt.wantID, id)
				}
			}
			if _, ok := args["nodeColor"]; ok {
				t.Error("Argument names must not be rewritten")
			}
		})
	}
}

func TestEncode_PopulatesBothConventions(t *testing.T) {
	data, err := Encode(NewReconnecting(2, 5, 2400e6))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"serverStatus", "server_status"} {
		status, ok := raw[key].(map[string]any)
		if !ok {
			t.Fatalf("Missing %s", key)
		}
		if status["maxAttempts"] != float64(5) || status["max_attempts"] != float64(5) {
			t.Errorf("%s: expected maxAttempts in both forms, got %v", key, status)
		}
		if status["delayMs"] != float64(2400) || status["delay_ms"] != float64(2400) {
			t.Errorf("%s: expected delayMs 2400 in both forms, got %v", key, status)
		}
	}

	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode of encoded message: %v", err)
	}
	if back.ServerStatus.Attempt != 2 || back.ServerStatus.State != StateReconnecting {
		t.Errorf("Unexpected status after decode: %+v", back.ServerStatus)
	}
}

func TestEncode_LeavesResponsePayloadAlone(t *testing.T) {
	msg := NewToolResponse(FunctionResponse{ID: "1", Name: "x", Response: map[string]any{"someKey": true}})
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var raw map[string]any
	sonic.Unmarshal(data, &raw)
	tr := raw["toolResponse"].(map[string]any)
	fr := tr["functionResponses"].([]any)[0].(map[string]any)
	resp := fr["response"].(map[string]any)
	if _, ok := resp["some_key"]; ok {
		t.Error("Response payload keys must not be aliased")
	}
}

func TestCaseConversion(t *testing.T) {
	pairs := [][2]string{
		{"mimeType", "mime_type"},
		{"turnComplete", "turn_complete"},
		{"data", "data"},
		{"functionCalls", "function_calls"},
	}
	for _, p := range pairs {
		if got := SnakeCase(p[0]); got != p[1] {
			t.Errorf("SnakeCase(%q) = %q, want %q", p[0], got, p[1])
		}
		if got := CamelCase(p[1]); got != p[0] {
			t.Errorf("CamelCase(%q) = %q, want %q", p[1], got, p[0])
		}
	}
}

func TestRealtimeInput_AudioOnly(t *testing.T) {
	tests := []struct {
		name string
		in   RealtimeInput
		want bool
	}{
		{"audio chunk", RealtimeInput{MediaChunks: []Blob{{MIMEType: "audio/pcm;rate=16000"}}}, true},
		{"stream end", RealtimeInput{AudioStreamEnd: true}, true},
		{"image", RealtimeInput{MediaChunks: []Blob{{MIMEType: "image/jpeg"}}}, false},
		{"mixed", RealtimeInput{MediaChunks: []Blob{{MIMEType: "audio/pcm"}, {MIMEType: "image/jpeg"}}}, false},
		{"text", RealtimeInput{Text: "hi"}, false},
		{"empty", RealtimeInput{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.AudioOnly(); got != tt.want {
				t.Errorf("AudioOnly() = %v, want %v", got, tt.want)
			}
		})
	}
}
