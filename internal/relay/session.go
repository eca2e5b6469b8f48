// Package relay proxies one client connection to one upstream live session.
//
// Each Session runs a single event loop. Client frames, upstream messages,
// connection results and timers are all delivered to it as events, so the
// session state needs no locking. The loop owns the upstream handle,
// reconnects it with capped exponential backoff, queues structural client
// messages while it is gone, intercepts tool calls, and turns input
// transcription into canvas commands.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/entities"
	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/backoff"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/queue"
)

// ErrSessionClosed is returned for frames arriving after Close.
var ErrSessionClosed = errors.New("relay session closed")

// closeInternalError is the WebSocket close code sent after a terminal
// upstream failure.
const closeInternalError = 1011

// ClientSink delivers encoded frames to the client connection.
type ClientSink interface {
	// Send queues a text frame. It must not block.
	Send(data []byte) error
	// Close closes the connection after already queued frames.
	Close(code int, reason string)
}

// Config tunes a Session.
type Config struct {
	Reconnect         backoff.Policy
	ConnectTimeout    time.Duration
	MaxPending        int
	TranscriptFlush   time.Duration
	CommandDedupe     time.Duration
	SentimentQuiet    time.Duration
	SystemInstruction string
	// MemoryLines is how many recent transcript lines prime a replacement
	// upstream session.
	MemoryLines int
}

// DefaultConfig matches the relay's environment defaults.
func DefaultConfig() Config {
	return Config{
		Reconnect:         backoff.Policy{Base: 1200 * time.Millisecond, Max: 10 * time.Second, MaxAttempts: 5},
		ConnectTimeout:    15 * time.Second,
		MaxPending:        50,
		TranscriptFlush:   1200 * time.Millisecond,
		CommandDedupe:     4 * time.Second,
		SentimentQuiet:    2500 * time.Millisecond,
		SystemInstruction: DefaultSystemInstruction,
		MemoryLines:       12,
	}
}

// Deps are the collaborators of a Session. Connector, Router and Logger are
// required.
type Deps struct {
	Connector repositories.LiveConnector
	Router    *Router
	// Detector synthesizes canvas commands from user speech; nil disables it.
	Detector CommandDetector
	// Sentiment enables sentiment-driven canvas adjustments.
	Sentiment bool
	Records   repositories.SessionRepository
	Memory    repositories.ConversationMemory
	Logger    *zap.Logger
}

// Upstream states reported by Status.
const (
	StateConnecting   = "connecting"
	StateLive         = "live"
	StateReconnecting = "reconnecting"
	StateFailed       = "failed"
	StateClosed       = "closed"
)

// Status is a point-in-time view of a session for monitoring.
type Status struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`
	State      string    `json:"state"`
	Attempt    int       `json:"attempt"`
	Pending    int       `json:"pending"`
}

type (
	clientFrame struct{ data []byte }

	upstreamReady struct {
		gen  uint64
		live repositories.LiveSession
		err  error
	}
	upstreamMessage struct {
		gen uint64
		msg *protocol.Message
	}
	upstreamClosed struct {
		gen uint64
		err error
	}

	reconnectDue  struct{ gen uint64 }
	transcriptDue struct{ seq uint64 }
	sentimentDue  struct{ seq uint64 }
)

// Session relays one client connection.
type Session struct {
	id     string
	cfg    Config
	deps   Deps
	sink   ClientSink
	logger *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan any
	done    chan struct{}
	closed  atomic.Bool
	started atomic.Bool

	afterFunc func(time.Duration, func()) func() bool
	now       func() time.Time

	persistCh   chan func(context.Context)
	persistDone chan struct{}

	// Everything below is owned by the event loop.
	upstream         repositories.LiveSession
	gen              uint64
	connecting       bool
	reconnectPending bool
	reconnectStop    func() bool
	attempt          int
	awaitingRecovery bool
	terminated       bool
	failure          string
	pending          *queue.Pending[*protocol.Message]

	transcript     TranscriptAccumulator
	flushSeq       uint64
	flushStop      func() bool
	agentText      strings.Builder
	sentiment      *SentimentScorer
	sentimentSeq   uint64
	sentimentStop  func() bool
	lastCommandKey string
	lastCommandAt  time.Time

	record *entities.SessionRecord

	statusMu sync.Mutex
	status   Status
}

// NewSession prepares a session; Run starts it.
func NewSession(id, remoteAddr string, sink ClientSink, cfg Config, deps Deps) *Session {
	if cfg.MaxPending < 1 {
		cfg.MaxPending = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          id,
		cfg:         cfg,
		deps:        deps,
		sink:        sink,
		logger:      deps.Logger.With(zap.String("sessionID", id)),
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan any, 256),
		done:        make(chan struct{}),
		persistCh:   make(chan func(context.Context), 64),
		persistDone: make(chan struct{}),
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		now:     time.Now,
		pending: queue.NewPending[*protocol.Message](cfg.MaxPending),
		record:  entities.NewSessionRecord(id, remoteAddr),
	}
	if deps.Sentiment {
		s.sentiment = NewSentimentScorer()
	}
	s.status = Status{ID: id, RemoteAddr: remoteAddr, StartedAt: s.record.CreatedAt, State: StateConnecting}
	return s
}

// SetSubject tags the session record with the authenticated caller. It must
// be called before Run.
func (s *Session) SetSubject(subject string) {
	s.record.Subject = subject
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Done is closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status returns a snapshot for monitoring.
func (s *Session) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// HandleFrame delivers one client text frame to the loop.
func (s *Session) HandleFrame(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.post(clientFrame{data: data}) {
		return ErrSessionClosed
	}
	return nil
}

// Close marks the session closed, closes the upstream session, and waits for
// the loop to finish. It is safe to call more than once.
func (s *Session) Close() {
	s.closed.Store(true)
	s.cancel()
	if s.started.Load() {
		<-s.done
	}
}

// Run drives the session until Close or a terminal failure.
func (s *Session) Run() {
	if s.started.Swap(true) {
		return
	}
	defer close(s.done)
	go s.persistLoop()
	defer s.teardown()

	if s.deps.Records != nil {
		rec := s.record.Clone()
		s.persist(func(ctx context.Context) {
			if err := s.deps.Records.Create(ctx, rec); err != nil {
				s.logger.Warn("Failed to create session record", zap.Error(err))
			}
		})
	}

	s.logger.Info("Relay session started")
	s.startConnect()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ev)
			if s.terminated {
				return
			}
		}
	}
}

func (s *Session) handle(ev any) {
	switch e := ev.(type) {
	case clientFrame:
		s.handleClientFrame(e.data)
	case upstreamReady:
		s.handleUpstreamReady(e)
	case upstreamMessage:
		s.handleUpstreamMessage(e)
	case upstreamClosed:
		s.handleUpstreamClosed(e)
	case reconnectDue:
		s.handleReconnectDue(e)
	case transcriptDue:
		if e.seq == s.flushSeq {
			s.flushTranscript()
		}
	case sentimentDue:
		if e.seq == s.sentimentSeq {
			s.flushSentiment()
		}
	}
}

func (s *Session) post(ev any) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// ---- upstream lifecycle ----

func (s *Session) startConnect() {
	s.gen++
	gen := s.gen
	s.connecting = true
	attempt := s.attempt
	if attempt == 0 {
		s.setState(StateConnecting)
	}

	opts := repositories.ConnectOptions{
		SessionID: s.id,
		Attempt:   attempt,
		Tools:     s.deps.Router.Declarations(),
	}
	base := s.cfg.SystemInstruction
	var localLines []string
	if attempt > 0 && s.deps.Memory == nil {
		localLines = s.recordContext()
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
		defer cancel()

		lines := localLines
		if attempt > 0 && s.deps.Memory != nil {
			lines = s.memoryContext(ctx)
		}
		opts.SystemInstruction = withConversation(base, lines)

		live, err := s.deps.Connector.Connect(ctx, opts)
		if !s.post(upstreamReady{gen: gen, live: live, err: err}) && live != nil {
			live.Close()
		}
	}()
}

func (s *Session) handleUpstreamReady(e upstreamReady) {
	if e.gen != s.gen || s.terminated {
		if e.live != nil {
			e.live.Close()
		}
		return
	}
	s.connecting = false
	if e.err != nil {
		s.logger.Warn("Upstream connect failed", zap.Int("attempt", s.attempt), zap.Error(e.err))
		s.scheduleReconnect()
		return
	}

	s.upstream = e.live
	if s.attempt > 0 {
		s.awaitingRecovery = true
		s.record.Counters.Reconnects++
	} else {
		s.setState(StateLive)
	}
	s.logger.Info("Upstream session opened", zap.Int("attempt", s.attempt))

	go s.readUpstream(e.gen, e.live)
	s.replayPending()
}

func (s *Session) readUpstream(gen uint64, live repositories.LiveSession) {
	for {
		msg, err := live.Receive(s.ctx)
		if err != nil {
			s.post(upstreamClosed{gen: gen, err: err})
			return
		}
		if !s.post(upstreamMessage{gen: gen, msg: msg}) {
			return
		}
	}
}

func (s *Session) handleUpstreamClosed(e upstreamClosed) {
	if e.gen != s.gen || s.upstream == nil {
		return
	}
	s.logger.Info("Upstream session closed", zap.Error(e.err))
	s.upstreamLost()
}

func (s *Session) upstreamLost() {
	if s.upstream == nil {
		return
	}
	s.upstream.Close()
	s.upstream = nil
	s.gen++
	s.awaitingRecovery = false
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	if s.closed.Load() || s.terminated || s.reconnectPending || s.connecting {
		return
	}
	s.attempt++
	policy := s.cfg.Reconnect
	if policy.Exhausted(s.attempt) {
		s.fail(fmt.Sprintf("live session lost: gave up after %d reconnect attempts", policy.MaxAttempts))
		return
	}

	delay := policy.Delay(s.attempt)
	s.logger.Info("Reconnecting upstream",
		zap.Int("attempt", s.attempt),
		zap.Int("maxAttempts", policy.MaxAttempts),
		zap.Duration("delay", delay))
	s.setState(StateReconnecting)
	s.sendClient(protocol.NewReconnecting(s.attempt, policy.MaxAttempts, delay))

	s.reconnectPending = true
	gen := s.gen
	s.reconnectStop = s.afterFunc(delay, func() { s.post(reconnectDue{gen: gen}) })
}

func (s *Session) handleReconnectDue(e reconnectDue) {
	if e.gen != s.gen || !s.reconnectPending {
		return
	}
	s.reconnectPending = false
	s.reconnectStop = nil
	if s.closed.Load() {
		return
	}
	s.startConnect()
}

func (s *Session) fail(reason string) {
	s.logger.Error("Relay session failed", zap.String("reason", reason))
	s.failure = reason
	s.terminated = true
	s.setState(StateFailed)
	s.sendClient(protocol.NewServerError(reason))
	s.sink.Close(closeInternalError, "upstream unavailable")
}

// ---- client to upstream ----

func (s *Session) handleClientFrame(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Debug("Dropping client frame", zap.Error(err))
		return
	}

	if msg.Setup != nil || msg.ToolResponse != nil {
		out := *msg
		out.Setup = nil
		out.ToolResponse = FilterResponse(msg.ToolResponse)
		if out.Empty() {
			s.logger.Debug("Dropping client frame with nothing to forward", zap.String("kind", string(msg.Kind())))
			return
		}
		msg = &out
	}

	if msg.AudioOnly() {
		s.record.Counters.AudioChunks++
		if s.upstream != nil {
			s.sendUpstream(msg)
		}
		return
	}
	s.sendUpstream(msg)
}

func (s *Session) sendUpstream(msg *protocol.Message) bool {
	if s.upstream == nil {
		s.enqueue(msg)
		return false
	}
	if err := s.upstream.Send(s.ctx, msg); err != nil {
		s.logger.Warn("Upstream send failed", zap.String("kind", string(msg.Kind())), zap.Error(err))
		s.enqueue(msg)
		s.upstreamLost()
		return false
	}
	return true
}

func (s *Session) enqueue(msg *protocol.Message) {
	if msg.AudioOnly() {
		return
	}
	if s.pending.Push(msg) {
		s.logger.Debug("Pending queue full, dropped oldest message", zap.Int("limit", s.pending.Limit()))
	}
	s.updateStatus(func(st *Status) { st.Pending = s.pending.Len() })
}

func (s *Session) replayPending() {
	items := s.pending.Drain()
	for i, msg := range items {
		if !s.sendUpstream(msg) {
			for _, rest := range items[i+1:] {
				s.enqueue(rest)
			}
			break
		}
	}
	s.updateStatus(func(st *Status) { st.Pending = s.pending.Len() })
}

// ---- upstream to client ----

func (s *Session) handleUpstreamMessage(e upstreamMessage) {
	if e.gen != s.gen {
		return
	}
	msg := e.msg
	if s.awaitingRecovery {
		s.awaitingRecovery = false
		s.attempt = 0
		s.setState(StateLive)
		s.logger.Info("Upstream session recovered")
		s.sendClient(protocol.NewRecovered())
	}

	if sc := msg.ServerContent; sc != nil {
		if t := sc.InputTranscription; t != nil {
			s.onInputTranscription(t)
		}
		if t := sc.OutputTranscription; t != nil {
			s.onOutputTranscription(t)
		}
		if text := sc.ModelTurn.Text(); text != "" && sc.OutputTranscription == nil {
			s.agentText.WriteString(text)
		}
		if sc.TurnComplete || sc.Interrupted {
			s.finishAgentTurn()
		}
	}

	if msg.ToolCall != nil {
		msg = s.routeToolCall(msg)
		if msg == nil {
			return
		}
	}
	s.sendClient(msg)
}

func (s *Session) routeToolCall(msg *protocol.Message) *protocol.Message {
	calls := msg.ToolCall.FunctionCalls
	s.record.Counters.ToolCalls += len(calls)
	res := s.deps.Router.Route(s.ctx, calls, s.snapshot())
	s.logger.Debug("Routed tool calls",
		zap.Int("server", res.ServerResolved),
		zap.Int("visual", res.Visual),
		zap.Int("client", res.PassThrough))

	if len(res.Responses) > 0 {
		s.sendUpstream(protocol.NewToolResponse(res.Responses...))
	}

	out := *msg
	out.ToolCall = nil
	if len(res.ClientCalls) > 0 {
		out.ToolCall = &protocol.ToolCall{FunctionCalls: res.ClientCalls}
	}
	if out.Empty() {
		return nil
	}
	return &out
}

func (s *Session) sendClient(msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("Failed to encode client message", zap.Error(err))
		return
	}
	err = s.sink.Send(data)
	if err == nil {
		return
	}
	if s.terminated || !mustDeliver(msg) {
		s.logger.Debug("Client send failed", zap.String("kind", string(msg.Kind())), zap.Error(err))
		return
	}
	// A client that cannot take a structural frame is disconnected.
	s.logger.Warn("Client cannot keep up; closing",
		zap.String("kind", string(msg.Kind())),
		zap.Error(err),
	)
	s.failure = "client send buffer full"
	s.terminated = true
	s.setState(StateFailed)
	s.sink.Close(closeInternalError, "client too slow")
}

func mustDeliver(msg *protocol.Message) bool {
	for _, k := range msg.Kinds() {
		switch k {
		case protocol.KindSetupComplete, protocol.KindToolCall, protocol.KindToolCallCancellation,
			protocol.KindServerStatus, protocol.KindServerError, protocol.KindGoAway:
			return true
		}
	}
	return false
}

// ---- transcription ----

func (s *Session) onInputTranscription(t *protocol.Transcription) {
	if t.Text != "" || t.Finished {
		s.sendClient(protocol.NewDebugTranscription(protocol.TranscriptionInput, t.Text, t.Finished))
	}
	s.transcript.Append(t.Text)
	if t.Finished {
		s.flushTranscript()
		return
	}
	s.armTranscriptFlush()
}

func (s *Session) armTranscriptFlush() {
	if s.flushStop != nil {
		s.flushStop()
	}
	s.flushSeq++
	seq := s.flushSeq
	s.flushStop = s.afterFunc(s.cfg.TranscriptFlush, func() { s.post(transcriptDue{seq: seq}) })
}

func (s *Session) flushTranscript() {
	if s.flushStop != nil {
		s.flushStop()
		s.flushStop = nil
	}
	s.flushSeq++
	if !s.transcript.Pending() {
		s.transcript.Take()
		return
	}
	text := s.transcript.Take()
	s.remember(entities.TranscriptRoleUser, text)
	s.detectCommand(text)
}

func (s *Session) onOutputTranscription(t *protocol.Transcription) {
	if s.transcript.Pending() {
		s.flushTranscript()
	}
	if t.Text != "" || t.Finished {
		s.sendClient(protocol.NewDebugTranscription(protocol.TranscriptionOutput, t.Text, t.Finished))
	}
	s.agentText.WriteString(t.Text)
	if s.sentiment != nil && s.sentiment.Pending() {
		s.armSentiment()
	}
}

func (s *Session) finishAgentTurn() {
	text := strings.Join(strings.Fields(s.agentText.String()), " ")
	s.agentText.Reset()
	if text == "" {
		return
	}
	s.remember(entities.TranscriptRoleAgent, text)
	if s.sentiment != nil && s.sentiment.Observe(text) {
		s.armSentiment()
	}
}

func (s *Session) detectCommand(text string) {
	if s.deps.Detector == nil {
		return
	}
	cmd, ok := s.deps.Detector.Detect(text)
	if !ok {
		return
	}
	now := s.now()
	if cmd.Key == s.lastCommandKey && now.Sub(s.lastCommandAt) < s.cfg.CommandDedupe {
		s.logger.Debug("Suppressed duplicate command", zap.String("command", cmd.Key))
		return
	}
	s.lastCommandKey, s.lastCommandAt = cmd.Key, now

	call := cmd.Call
	call.ID = PrefixTranscript + uuid.NewString()
	s.record.Counters.SyntheticCommands++
	s.logger.Info("Detected spoken command", zap.String("command", cmd.Key))
	s.sendClient(protocol.NewToolCall(call))
}

func (s *Session) armSentiment() {
	if s.sentimentStop != nil {
		s.sentimentStop()
	}
	s.sentimentSeq++
	seq := s.sentimentSeq
	s.sentimentStop = s.afterFunc(s.cfg.SentimentQuiet, func() { s.post(sentimentDue{seq: seq}) })
}

func (s *Session) flushSentiment() {
	s.sentimentStop = nil
	calls := s.sentiment.Flush()
	if len(calls) == 0 {
		return
	}
	for i := range calls {
		calls[i].ID = PrefixSentiment + uuid.NewString()
	}
	s.record.Counters.SyntheticCommands += len(calls)
	s.sendClient(protocol.NewToolCall(calls...))
}

// ---- state, memory and persistence ----

func (s *Session) remember(role entities.TranscriptRole, text string) {
	s.record.AddTranscript(role, text)
	if s.deps.Memory == nil {
		return
	}
	line := s.record.Transcript[len(s.record.Transcript)-1]
	s.persist(func(ctx context.Context) {
		if err := s.deps.Memory.Append(ctx, s.id, line); err != nil {
			s.logger.Warn("Failed to append conversation memory", zap.Error(err))
		}
	})
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		SessionID:  s.id,
		StartedAt:  s.record.CreatedAt,
		UserLines:  s.record.Lines(entities.TranscriptRoleUser, 5),
		AgentLines: s.record.Lines(entities.TranscriptRoleAgent, 3),
		Counters:   s.record.Counters,
	}
}

func (s *Session) recordContext() []string {
	var out []string
	n := len(s.record.Transcript)
	start := n - s.cfg.MemoryLines
	if start < 0 {
		start = 0
	}
	for _, l := range s.record.Transcript[start:] {
		out = append(out, string(l.Role)+": "+l.Text)
	}
	return out
}

func (s *Session) memoryContext(ctx context.Context) []string {
	lines, err := s.deps.Memory.Recent(ctx, s.id, s.cfg.MemoryLines)
	if err != nil {
		s.logger.Warn("Failed to load conversation memory", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, string(l.Role)+": "+l.Text)
	}
	return out
}

func (s *Session) persist(job func(context.Context)) {
	select {
	case s.persistCh <- job:
	default:
		s.logger.Warn("Persistence queue full, dropping write")
	}
}

func (s *Session) persistLoop() {
	defer close(s.persistDone)
	for job := range s.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		job(ctx)
		cancel()
	}
}

func (s *Session) setState(state string) {
	s.updateStatus(func(st *Status) {
		st.State = state
		st.Attempt = s.attempt
	})
}

func (s *Session) updateStatus(fn func(*Status)) {
	s.statusMu.Lock()
	fn(&s.status)
	s.statusMu.Unlock()
}

func (s *Session) teardown() {
	s.closed.Store(true)
	s.cancel()
	for _, stop := range []func() bool{s.reconnectStop, s.flushStop, s.sentimentStop} {
		if stop != nil {
			stop()
		}
	}
	if s.upstream != nil {
		s.upstream.Close()
		s.upstream = nil
	}

	if s.transcript.Pending() {
		s.remember(entities.TranscriptRoleUser, s.transcript.Take())
	}
	if text := strings.Join(strings.Fields(s.agentText.String()), " "); text != "" {
		s.remember(entities.TranscriptRoleAgent, text)
	}

	if s.failure != "" {
		s.record.Fail(s.failure)
	} else {
		s.record.Close()
		s.setState(StateClosed)
	}
	rec := s.record.Clone()
	if s.deps.Records != nil {
		s.persist(func(ctx context.Context) {
			if err := s.deps.Records.Update(ctx, rec); err != nil {
				s.logger.Warn("Failed to finalize session record", zap.Error(err))
			}
		})
	}
	if s.deps.Memory != nil {
		s.persist(func(ctx context.Context) {
			if err := s.deps.Memory.Forget(ctx, s.id); err != nil {
				s.logger.Warn("Failed to clear conversation memory", zap.Error(err))
			}
		})
	}
	close(s.persistCh)
	<-s.persistDone

	s.logger.Info("Relay session ended",
		zap.String("status", string(rec.Status)),
		zap.Duration("duration", rec.Duration()),
		zap.Int("audioChunks", rec.Counters.AudioChunks),
		zap.Int("toolCalls", rec.Counters.ToolCalls),
		zap.Int("reconnects", rec.Counters.Reconnects))
}
