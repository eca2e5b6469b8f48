// Package gemini connects relay sessions to the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/pcm"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
)

// Config selects the live model and voice
type Config struct {
	APIKey string
	Model  string
	Voice  string
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("Gemini API key is required")
	}
	if c.Model == "" {
		return errors.New("Gemini model is required")
	}
	return nil
}

// liveConn is the subset of *genai.Session the adapter drives.
type liveConn interface {
	SendClientContent(input genai.LiveClientContentInput) error
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type dialFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveConn, error)

// Connector opens Gemini Live sessions
type Connector struct {
	cfg    Config
	logger *zap.Logger
	dial   dialFunc
}

var _ repositories.LiveConnector = (*Connector)(nil)

// NewConnector creates a Gemini API client for live sessions
func NewConnector(ctx context.Context, cfg Config, logger *zap.Logger) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Connector{
		cfg:    cfg,
		logger: logger,
		dial: func(ctx context.Context, model string, lc *genai.LiveConnectConfig) (liveConn, error) {
			sess, err := client.Live.Connect(ctx, model, lc)
			if err != nil {
				return nil, err
			}
			return sess, nil
		},
	}, nil
}

// Connect implements repositories.LiveConnector
func (c *Connector) Connect(ctx context.Context, opts repositories.ConnectOptions) (repositories.LiveSession, error) {
	conn, err := c.dial(ctx, c.cfg.Model, buildConnectConfig(c.cfg, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open Gemini live session: %w", err)
	}
	c.logger.Info("Gemini live session opened",
		zap.String("sessionID", opts.SessionID),
		zap.String("model", c.cfg.Model),
		zap.Int("attempt", opts.Attempt))
	return &session{conn: conn, logger: c.logger}, nil
}

func buildConnectConfig(cfg Config, opts repositories.ConnectOptions) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if opts.SystemInstruction != "" {
		lc.SystemInstruction = genai.NewContentFromText(opts.SystemInstruction, genai.RoleUser)
	}
	if len(opts.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			decls = append(decls, toFunctionDeclaration(t))
		}
		lc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return lc
}

func toFunctionDeclaration(t repositories.ToolDeclaration) *genai.FunctionDeclaration {
	fd := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
	if len(t.Parameters) == 0 {
		return fd
	}
	props := make(map[string]*genai.Schema, len(t.Parameters))
	for name, p := range t.Parameters {
		s := &genai.Schema{Description: p.Description, Enum: p.Enum, Type: genai.TypeString}
		if p.Type == repositories.ParamNumber {
			s.Type = genai.TypeNumber
		}
		props[name] = s
	}
	fd.Parameters = &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   t.Required,
	}
	return fd
}

// session adapts one genai live session to repositories.LiveSession.
type session struct {
	conn   liveConn
	logger *zap.Logger

	mu       sync.Mutex
	started  bool
	deferred *protocol.Message
}

func (s *session) Send(ctx context.Context, msg *protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cc := msg.ClientContent; cc != nil {
		turns := make([]*genai.Content, 0, len(cc.Turns))
		for i := range cc.Turns {
			c, err := toContent(&cc.Turns[i])
			if err != nil {
				return err
			}
			turns = append(turns, c)
		}
		if err := s.conn.SendClientContent(genai.LiveClientContentInput{
			Turns:        turns,
			TurnComplete: genai.Ptr(cc.TurnComplete),
		}); err != nil {
			return fmt.Errorf("send client content: %w", err)
		}
	}
	if ri := msg.RealtimeInput; ri != nil {
		if err := s.sendRealtime(ri); err != nil {
			return err
		}
	}
	if tr := msg.ToolResponse; tr != nil && len(tr.FunctionResponses) > 0 {
		responses := make([]*genai.FunctionResponse, 0, len(tr.FunctionResponses))
		for _, fr := range tr.FunctionResponses {
			responses = append(responses, &genai.FunctionResponse{ID: fr.ID, Name: fr.Name, Response: fr.Response})
		}
		if err := s.conn.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses}); err != nil {
			return fmt.Errorf("send tool response: %w", err)
		}
	}
	return nil
}

func (s *session) sendRealtime(ri *protocol.RealtimeInput) error {
	for _, b := range ri.Blobs() {
		data, err := pcm.Base64ToBytes(b.Data)
		if err != nil {
			return fmt.Errorf("realtime input: %w", err)
		}
		blob := &genai.Blob{MIMEType: b.MIMEType, Data: data}
		in := genai.LiveRealtimeInput{Video: blob}
		if pcm.IsAudio(b.MIMEType) {
			in = genai.LiveRealtimeInput{Audio: blob}
		}
		if err := s.conn.SendRealtimeInput(in); err != nil {
			return fmt.Errorf("send realtime input: %w", err)
		}
	}
	if ri.Text != "" {
		if err := s.conn.SendRealtimeInput(genai.LiveRealtimeInput{Text: ri.Text}); err != nil {
			return fmt.Errorf("send realtime text: %w", err)
		}
	}
	if ri.AudioStreamEnd {
		if err := s.conn.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true}); err != nil {
			return fmt.Errorf("send audio stream end: %w", err)
		}
	}
	return nil
}

// Receive returns the next translatable message. Messages with nothing the
// relay understands, such as session resumption updates, are skipped.
func (s *session) Receive(ctx context.Context) (*protocol.Message, error) {
	s.mu.Lock()
	if d := s.deferred; d != nil {
		s.deferred = nil
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := s.conn.Receive()
		if err != nil {
			return nil, err
		}
		msg, err := fromServerMessage(raw)
		if err != nil {
			s.logger.Warn("Dropping untranslatable Gemini message", zap.Error(err))
			continue
		}
		if msg.Empty() {
			continue
		}

		s.mu.Lock()
		first := !s.started
		s.started = true
		if first && msg.SetupComplete == nil {
			s.deferred = msg
			s.mu.Unlock()
			return protocol.NewSetupComplete(), nil
		}
		s.mu.Unlock()
		return msg, nil
	}
}

func (s *session) Close() error {
	return s.conn.Close()
}

func toContent(c *protocol.Content) (*genai.Content, error) {
	out := &genai.Content{Role: c.Role, Parts: make([]*genai.Part, 0, len(c.Parts))}
	for _, p := range c.Parts {
		part := &genai.Part{Text: p.Text, Thought: p.Thought}
		if p.InlineData != nil {
			data, err := pcm.Base64ToBytes(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("inline data: %w", err)
			}
			part.InlineData = &genai.Blob{MIMEType: p.InlineData.MIMEType, Data: data}
		}
		out.Parts = append(out.Parts, part)
	}
	return out, nil
}

func fromContent(c *genai.Content) *protocol.Content {
	if c == nil {
		return nil
	}
	out := &protocol.Content{Role: c.Role, Parts: make([]protocol.Part, 0, len(c.Parts))}
	for _, p := range c.Parts {
		if p == nil {
			continue
		}
		part := protocol.Part{Text: p.Text, Thought: p.Thought}
		if p.InlineData != nil {
			part.InlineData = &protocol.Blob{MIMEType: p.InlineData.MIMEType, Data: pcm.BytesToBase64(p.InlineData.Data)}
		}
		out.Parts = append(out.Parts, part)
	}
	return out
}

func fromTranscription(t *genai.Transcription) *protocol.Transcription {
	if t == nil {
		return nil
	}
	return &protocol.Transcription{Text: t.Text, Finished: t.Finished}
}

func fromServerMessage(m *genai.LiveServerMessage) (*protocol.Message, error) {
	out := &protocol.Message{}
	if m == nil {
		return out, nil
	}
	if m.SetupComplete != nil {
		out.SetupComplete = &protocol.SetupComplete{}
	}
	if sc := m.ServerContent; sc != nil {
		out.ServerContent = &protocol.ServerContent{
			ModelTurn:           fromContent(sc.ModelTurn),
			TurnComplete:        sc.TurnComplete,
			GenerationComplete:  sc.GenerationComplete,
			Interrupted:         sc.Interrupted,
			InputTranscription:  fromTranscription(sc.InputTranscription),
			OutputTranscription: fromTranscription(sc.OutputTranscription),
		}
	}
	if tc := m.ToolCall; tc != nil {
		calls := make([]protocol.FunctionCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, protocol.FunctionCall{ID: fc.ID, Name: fc.Name, Args: protocol.ParseArgs(fc.Args)})
		}
		out.ToolCall = &protocol.ToolCall{FunctionCalls: calls}
	}
	if c := m.ToolCallCancellation; c != nil {
		out.ToolCallCancellation = &protocol.ToolCallCancellation{IDs: c.IDs}
	}
	if m.GoAway != nil {
		out.GoAway = &protocol.GoAway{TimeLeft: fmt.Sprint(m.GoAway.TimeLeft)}
	}
	if m.UsageMetadata != nil {
		raw, err := sonic.Marshal(m.UsageMetadata)
		if err != nil {
			return nil, fmt.Errorf("usage metadata: %w", err)
		}
		var usage map[string]any
		if err := sonic.Unmarshal(raw, &usage); err != nil {
			return nil, fmt.Errorf("usage metadata: %w", err)
		}
		out.UsageMetadata = usage
	}
	return out, nil
}
