package gemini

import (
	"context"
	"errors"
	"io"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
)

type fakeConn struct {
	incoming []*genai.LiveServerMessage
	content  []genai.LiveClientContentInput
	realtime []genai.LiveRealtimeInput
	tools    []genai.LiveToolResponseInput
	closed   bool
}

func (f *fakeConn) SendClientContent(in genai.LiveClientContentInput) error {
	f.content = append(f.content, in)
	return nil
}

func (f *fakeConn) SendRealtimeInput(in genai.LiveRealtimeInput) error {
	f.realtime = append(f.realtime, in)
	return nil
}

func (f *fakeConn) SendToolResponse(in genai.LiveToolResponseInput) error {
	f.tools = append(f.tools, in)
	return nil
}

func (f *fakeConn) Receive() (*genai.LiveServerMessage, error) {
	if len(f.incoming) == 0 {
		return nil, io.EOF
	}
	m := f.incoming[0]
	f.incoming = f.incoming[1:]
	return m, nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func newTestConnector(conn *fakeConn, captured **genai.LiveConnectConfig) *Connector {
	return &Connector{
		cfg:    Config{APIKey: "k", Model: "m", Voice: "Aoede"},
		logger: zap.NewNop(),
		dial: func(_ context.Context, _ string, lc *genai.LiveConnectConfig) (liveConn, error) {
			*captured = lc
			return conn, nil
		},
	}
}

func TestConnectBuildsConfig(t *testing.T) {
	var lc *genai.LiveConnectConfig
	c := newTestConnector(&fakeConn{}, &lc)

	_, err := c.Connect(context.Background(), repositories.ConnectOptions{
		SystemInstruction: "be kind",
		Tools: []repositories.ToolDeclaration{{
			Name: "update_node",
			Parameters: map[string]repositories.ToolParam{
				"id":    {Type: repositories.ParamNumber},
				"color": {Type: repositories.ParamString},
			},
			Required: []string{"id"},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(lc.ResponseModalities) != 1 || lc.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("modalities = %v", lc.ResponseModalities)
	}
	if lc.InputAudioTranscription == nil || lc.OutputAudioTranscription == nil {
		t.Error("transcription must be enabled in both directions")
	}
	if lc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Aoede" {
		t.Error("voice not set")
	}
	if lc.SystemInstruction == nil || lc.SystemInstruction.Parts[0].Text != "be kind" {
		t.Error("system instruction not set")
	}
	fd := lc.Tools[0].FunctionDeclarations[0]
	if fd.Parameters.Type != genai.TypeObject || fd.Parameters.Properties["id"].Type != genai.TypeNumber ||
		fd.Parameters.Properties["color"].Type != genai.TypeString {
		t.Errorf("unexpected schema %+v", fd.Parameters)
	}
}

func TestConnectError(t *testing.T) {
	c := &Connector{
		cfg:    Config{APIKey: "k", Model: "m"},
		logger: zap.NewNop(),
		dial: func(context.Context, string, *genai.LiveConnectConfig) (liveConn, error) {
			return nil, errors.New("refused")
		},
	}
	if _, err := c.Connect(context.Background(), repositories.ConnectOptions{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSendTranslatesMessages(t *testing.T) {
	conn := &fakeConn{}
	s := &session{conn: conn, logger: zap.NewNop()}
	ctx := context.Background()

	if err := s.Send(ctx, protocol.NewUserTurn("hi", protocol.Blob{MIMEType: "image/jpeg", Data: "AQID"})); err != nil {
		t.Fatal(err)
	}
	if len(conn.content) != 1 || !*conn.content[0].TurnComplete {
		t.Fatalf("client content = %+v", conn.content)
	}
	parts := conn.content[0].Turns[0].Parts
	if len(parts) != 2 || string(parts[0].InlineData.Data) != "\x01\x02\x03" || parts[1].Text != "hi" {
		t.Errorf("parts = %+v", parts)
	}

	if err := s.Send(ctx, protocol.NewAudioInput([]byte{1, 0, 2, 0}, 16000)); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(ctx, protocol.NewAudioStreamEnd()); err != nil {
		t.Fatal(err)
	}
	if len(conn.realtime) != 2 || conn.realtime[0].Audio == nil || conn.realtime[0].Audio.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("realtime = %+v", conn.realtime)
	}
	if !conn.realtime[1].AudioStreamEnd {
		t.Error("audio stream end not forwarded")
	}

	if err := s.Send(ctx, protocol.NewToolResponse(protocol.FunctionResponse{ID: "1", Name: "x", Response: map[string]any{"ok": true}})); err != nil {
		t.Fatal(err)
	}
	if len(conn.tools) != 1 || conn.tools[0].FunctionResponses[0].ID != "1" {
		t.Errorf("tool responses = %+v", conn.tools)
	}
}

func TestReceiveSynthesizesSetupComplete(t *testing.T) {
	conn := &fakeConn{incoming: []*genai.LiveServerMessage{
		{SessionResumptionUpdate: &genai.LiveServerSessionResumptionUpdate{}},
		{ServerContent: &genai.LiveServerContent{
			OutputTranscription: &genai.Transcription{Text: "hello"},
			ModelTurn: &genai.Content{Role: "model", Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 2}}},
			}},
		}},
		{ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "c1", Name: "update_node", Args: map[string]any{"id": 1.0}},
		}}},
	}}
	s := &session{conn: conn, logger: zap.NewNop()}
	ctx := context.Background()

	first, err := s.Receive(ctx)
	if err != nil || first.SetupComplete == nil {
		t.Fatalf("first = %+v, %v", first, err)
	}
	second, _ := s.Receive(ctx)
	sc := second.ServerContent
	if sc == nil || sc.OutputTranscription.Text != "hello" || sc.ModelTurn.AudioParts()[0].Data != "AQI=" {
		t.Fatalf("second = %+v", second)
	}
	third, _ := s.Receive(ctx)
	if third.ToolCall.FunctionCalls[0].Args["id"] != 1.0 {
		t.Errorf("tool call = %+v", third.ToolCall)
	}
	if _, err := s.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReceivePassesRealSetupComplete(t *testing.T) {
	conn := &fakeConn{incoming: []*genai.LiveServerMessage{
		{SetupComplete: &genai.LiveServerSetupComplete{}},
		{ServerContent: &genai.LiveServerContent{TurnComplete: true}},
	}}
	s := &session{conn: conn, logger: zap.NewNop()}

	first, _ := s.Receive(context.Background())
	second, _ := s.Receive(context.Background())
	if first.SetupComplete == nil || second.ServerContent == nil || !second.ServerContent.TurnComplete {
		t.Errorf("got %+v then %+v", first, second)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Model: "m"}).Validate(); err == nil {
		t.Error("missing key must fail")
	}
	if err := (Config{APIKey: "k"}).Validate(); err == nil {
		t.Error("missing model must fail")
	}
}
