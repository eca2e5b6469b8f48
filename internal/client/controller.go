// Package client implements the live client session: it keeps the relay
// connection alive, feeds agent speech into the player, gates microphone
// audio while the agent speaks and answers canvas tool calls.
//
// All state is owned by the goroutine running Controller.Run. Socket reads,
// timers, microphone chunks and API calls reach it as events.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/audio"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/backoff"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/pcm"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/queue"
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrClosed           = errors.New("controller closed")
)

// State is the connection state of a Controller.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected // transport open, waiting for setupComplete
	StateLive
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// Status lines shown to the user.
const (
	StatusDisconnected = "Disconnected"
	StatusConnecting   = "Connecting..."
	StatusAwaiting     = "Connected (waiting setupComplete)"
	StatusLive         = "Live"
	StatusError        = "Error"
)

func reconnectingStatus(attempt, max int) string {
	return fmt.Sprintf("Reconnecting (%d/%d)", attempt, max)
}

// DefaultBootstrapPrompt opens the first conversation.
const DefaultBootstrapPrompt = "ابدأ بتحية قصيرة بالمصري للمستخدم، وبعدها نبهه يطلب تعديل الدواير بصوته."

// Config tunes a Controller.
type Config struct {
	URL   string
	Token string

	Reconnect        backoff.Policy
	MaxPending       int
	MicDefer         time.Duration
	RestoreWindow    time.Duration
	SpeakingDebounce time.Duration
	// ContextLines is how many recent transcript lines go into a restore
	// prompt.
	ContextLines    int
	BootstrapPrompt string
	// Snapshot is an optional JPEG sent with the bootstrap prompt.
	Snapshot []byte
}

// DefaultConfig matches the client's environment defaults.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8080/ws",
		Reconnect:        backoff.Policy{Base: time.Second, Max: 8 * time.Second, MaxAttempts: 5},
		MaxPending:       50,
		MicDefer:         2500 * time.Millisecond,
		RestoreWindow:    6 * time.Second,
		SpeakingDebounce: 1200 * time.Millisecond,
		ContextLines:     3,
		BootstrapPrompt:  DefaultBootstrapPrompt,
	}
}

// Canvas renders the circles the agent manipulates.
type Canvas interface {
	UpdateNode(id int, updates protocol.Args) error
	PulseNode(id int) error
}

// Observer receives user-facing notifications. Calls come from the
// controller loop and must not block.
type Observer interface {
	StatusChanged(status string)
	Transcript(kind, text string, finished bool)
	RelayStatus(status protocol.ServerStatus)
	Error(message string)
}

// Playback plays agent speech. *audio.Player satisfies it.
type Playback interface {
	Enqueue(samples []float32) bool
	Clear()
	Drained() <-chan struct{}
}

// Microphone produces PCM chunks. Start must not block; onChunk may be called
// from any goroutine.
type Microphone interface {
	Start(onChunk func(audio.Chunk)) error
	Stop() error
}

// Deps are the collaborators of a Controller. Dialer and Logger are
// required; everything else is optional.
type Deps struct {
	Dialer     Dialer
	Canvas     Canvas
	Observer   Observer
	Playback   Playback
	Microphone Microphone
	// PrimePlayback opens the output path ahead of the first agent audio.
	PrimePlayback func() error
	Logger        *zap.Logger
}

type (
	connectReq    struct{ reply chan error }
	disconnectReq struct{ reply chan error }
	sendReq       struct {
		msg   *protocol.Message
		reply chan error
	}

	dialResult struct {
		gen  uint64
		conn Conn
		err  error
	}
	frameIn struct {
		gen    uint64
		data   []byte
		binary bool
	}
	connLost struct {
		gen uint64
		err error
	}

	reconnectDue struct{ gen uint64 }
	micDeferDue  struct{ seq uint64 }
	speakingDue  struct{ seq uint64 }
	micChunk     struct{ chunk audio.Chunk }
)

// Controller runs one live client session.
type Controller struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan any
	done   chan struct{}

	afterFunc func(d time.Duration, f func()) func() bool
	now       func() time.Time

	// loop-owned
	state         State
	conn          Conn
	gen           uint64
	attempt       int
	manual        bool
	bootstrapSent bool
	restoreNeeded bool
	lastRestore   time.Time
	primed        bool
	noPlayback    bool
	micActive     bool
	speaking      bool
	pending       *queue.Pending[*protocol.Message]
	recent        *contextLines

	stopReconnect func() bool
	stopMicDefer  func() bool
	micDeferSeq   uint64
	stopSpeaking  func() bool
	speakingSeq   uint64

	droppedAudio int

	statusMu sync.Mutex
	status   string
}

// New prepares a controller; Run starts it.
func New(cfg Config, deps Deps) *Controller {
	if cfg.MaxPending < 1 {
		cfg.MaxPending = 1
	}
	if cfg.ContextLines < 1 {
		cfg.ContextLines = 1
	}
	if cfg.BootstrapPrompt == "" {
		cfg.BootstrapPrompt = DefaultBootstrapPrompt
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan any, 256),
		done:   make(chan struct{}),
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		now:     time.Now,
		pending: queue.NewPending[*protocol.Message](cfg.MaxPending),
		recent:  newContextLines(cfg.ContextLines),
		status:  StatusDisconnected,
	}
}

// Status returns the current status line.
func (c *Controller) Status() string {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run processes events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	defer c.cancel()

	var drained <-chan struct{}
	if c.deps.Playback != nil {
		drained = c.deps.Playback.Drained()
	}
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case <-drained:
			c.onDrained()
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// Connect opens the relay connection. It returns ErrAlreadyConnected while a
// connection is open or being established.
func (c *Controller) Connect(ctx context.Context) error {
	return c.request(ctx, func(reply chan error) any { return connectReq{reply: reply} })
}

// Disconnect closes the connection without retrying.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.request(ctx, func(reply chan error) any { return disconnectReq{reply: reply} })
}

// SendText sends a completed user turn. It is queued while the connection is
// down.
func (c *Controller) SendText(ctx context.Context, text string) error {
	msg := protocol.NewUserTurn(text)
	return c.request(ctx, func(reply chan error) any { return sendReq{msg: msg, reply: reply} })
}

// SendImage sends a JPEG frame as realtime video input.
func (c *Controller) SendImage(ctx context.Context, jpeg []byte) error {
	msg := &protocol.Message{RealtimeInput: &protocol.RealtimeInput{
		Video: &protocol.Blob{MIMEType: "image/jpeg", Data: pcm.BytesToBase64(jpeg)},
	}}
	return c.request(ctx, func(reply chan error) any { return sendReq{msg: msg, reply: reply} })
}

func (c *Controller) request(ctx context.Context, build func(chan error) any) error {
	reply := make(chan error, 1)
	if !c.postCtx(ctx, build(reply)) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) postCtx(ctx context.Context, ev any) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Controller) post(ev any) bool {
	return c.postCtx(c.ctx, ev)
}

func (c *Controller) handle(ev any) {
	switch e := ev.(type) {
	case connectReq:
		e.reply <- c.connect()
	case disconnectReq:
		c.disconnect()
		e.reply <- nil
	case sendReq:
		e.reply <- c.send(e.msg)
	case dialResult:
		c.onDialResult(e)
	case frameIn:
		if e.gen == c.gen {
			c.onFrame(e.data, e.binary)
		}
	case connLost:
		c.onConnLost(e)
	case reconnectDue:
		if e.gen == c.gen && c.state == StateReconnecting {
			c.dial()
		}
	case micDeferDue:
		if e.seq == c.micDeferSeq && c.stopMicDefer != nil {
			c.stopMicDefer = nil
			c.startMic()
		}
	case speakingDue:
		if e.seq == c.speakingSeq && c.stopSpeaking != nil {
			c.stopSpeaking = nil
			c.speaking = false
		}
	case micChunk:
		c.onMicChunk(e.chunk)
	}
}

func (c *Controller) connect() error {
	switch c.state {
	case StateConnecting, StateConnected, StateLive, StateReconnecting:
		return ErrAlreadyConnected
	}
	c.manual = false
	c.attempt = 0
	c.bootstrapSent = false
	c.restoreNeeded = false
	c.dial()
	return nil
}

func (c *Controller) dial() {
	c.gen++
	gen := c.gen
	if c.attempt == 0 {
		c.setState(StateConnecting, StatusConnecting)
	}
	go func() {
		conn, err := c.deps.Dialer.Dial(c.ctx, c.cfg.URL, c.cfg.Token)
		if !c.post(dialResult{gen: gen, conn: conn, err: err}) && conn != nil {
			conn.Close()
		}
	}()
}

func (c *Controller) onDialResult(e dialResult) {
	if e.gen != c.gen || c.manual {
		if e.conn != nil {
			e.conn.Close()
		}
		return
	}
	if e.err != nil {
		c.logger.Warn("Failed to connect to relay", zap.Int("attempt", c.attempt), zap.Error(e.err))
		if c.attempt == 0 {
			c.setState(StateError, StatusError)
			c.deps.Observer.Error("could not reach the relay: " + e.err.Error())
			return
		}
		c.scheduleReconnect()
		return
	}

	c.conn = e.conn
	if c.attempt > 0 {
		c.restoreNeeded = true
		c.logger.Info("Reconnected to relay", zap.Int("attempts", c.attempt))
	}
	c.attempt = 0
	c.setState(StateConnected, StatusAwaiting)
	go c.readLoop(e.gen, e.conn)

	items := c.pending.Drain()
	for i, msg := range items {
		if err := c.write(msg); err != nil {
			for _, rest := range items[i:] {
				c.pending.Push(rest)
			}
			c.logger.Warn("Replay write failed; requeued", zap.Int("pending", c.pending.Len()), zap.Error(err))
			c.onConnLost(connLost{gen: c.gen, err: err})
			return
		}
	}
}

func (c *Controller) readLoop(gen uint64, conn Conn) {
	for {
		data, binary, err := conn.ReadMessage()
		if err != nil {
			c.post(connLost{gen: gen, err: err})
			return
		}
		if !c.post(frameIn{gen: gen, data: data, binary: binary}) {
			return
		}
	}
}

func (c *Controller) onConnLost(e connLost) {
	if e.gen != c.gen || c.conn == nil {
		return
	}
	c.conn.Close()
	c.conn = nil
	c.stopMic()
	c.cancelMicDefer()
	c.clearSpeaking()

	if c.manual {
		c.setState(StateDisconnected, StatusDisconnected)
		return
	}
	if errors.Is(e.err, ErrClosedNormally) {
		c.logger.Info("Relay closed the connection")
		c.setState(StateDisconnected, StatusDisconnected)
		return
	}
	c.logger.Warn("Relay connection lost", zap.Error(e.err))
	c.scheduleReconnect()
}

func (c *Controller) scheduleReconnect() {
	c.attempt++
	if c.cfg.Reconnect.Exhausted(c.attempt) {
		c.setState(StateError, StatusError)
		c.deps.Observer.Error(fmt.Sprintf("connection lost: gave up after %d reconnect attempts", c.cfg.Reconnect.MaxAttempts))
		return
	}
	delay := c.cfg.Reconnect.Delay(c.attempt)
	c.setState(StateReconnecting, reconnectingStatus(c.attempt, c.cfg.Reconnect.MaxAttempts))
	c.logger.Info("Scheduling reconnect", zap.Int("attempt", c.attempt), zap.Duration("delay", delay))
	gen := c.gen
	c.stopReconnect = c.afterFunc(delay, func() { c.post(reconnectDue{gen: gen}) })
}

func (c *Controller) disconnect() {
	c.manual = true
	c.gen++
	if c.stopReconnect != nil {
		c.stopReconnect()
		c.stopReconnect = nil
	}
	c.cancelMicDefer()
	c.stopMic()
	c.clearSpeaking()
	if c.deps.Playback != nil {
		c.deps.Playback.Clear()
	}
	if c.conn != nil {
		if err := c.write(protocol.NewAudioStreamEnd()); err != nil {
			c.logger.Debug("audioStreamEnd not sent", zap.Error(err))
		}
		c.conn.Close()
		c.conn = nil
	}
	c.pending.Drain()
	c.bootstrapSent = false
	c.primed = false
	c.setState(StateDisconnected, StatusDisconnected)
}

func (c *Controller) teardown() {
	if c.state != StateDisconnected {
		c.disconnect()
	}
	if c.droppedAudio > 0 {
		c.logger.Debug("Mic chunks held back while the agent spoke", zap.Int("count", c.droppedAudio))
	}
}

// send writes msg when the transport is open. Otherwise audio is dropped and
// anything else waits for the next connection.
func (c *Controller) send(msg *protocol.Message) error {
	if c.conn == nil {
		if msg.AudioOnly() {
			return ErrNotConnected
		}
		if c.manual || c.state == StateDisconnected || c.state == StateError {
			return ErrNotConnected
		}
		c.pending.Push(msg)
		return nil
	}
	if msg.AudioOnly() && c.state != StateLive {
		return ErrNotConnected
	}
	return c.write(msg)
}

func (c *Controller) write(msg *protocol.Message) error {
	data, err := protocol.EncodeCanonical(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	if err := c.conn.WriteMessage(data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Kind(), err)
	}
	return nil
}

func (c *Controller) onFrame(data []byte, binary bool) {
	msg, err := protocol.Decode(data)
	if err != nil {
		if binary {
			c.playPCM(data)
			return
		}
		c.logger.Debug("Dropping malformed frame", zap.Error(err))
		return
	}

	if msg.SetupComplete != nil {
		c.onSetupComplete()
	}
	if msg.ServerStatus != nil {
		c.onServerStatus(*msg.ServerStatus)
	}
	if msg.ServerError != nil {
		c.logger.Warn("Relay reported an error", zap.String("message", msg.ServerError.Message))
		c.deps.Observer.Error(msg.ServerError.Message)
	}
	if msg.DebugTranscription != nil {
		d := msg.DebugTranscription
		c.recent.add(d.Type, d.Text, d.Finished)
		c.deps.Observer.Transcript(d.Type, d.Text, d.Finished)
	}
	if msg.ToolCall != nil {
		c.onToolCall(msg.ToolCall)
	}
	if msg.ServerContent != nil {
		c.onServerContent(msg.ServerContent)
	}
}

func (c *Controller) onSetupComplete() {
	if c.conn == nil {
		return
	}
	c.setState(StateLive, StatusLive)

	if !c.primed && c.deps.PrimePlayback != nil {
		err := c.deps.PrimePlayback()
		if err != nil {
			c.logger.Warn("Failed to prime playback; agent audio will not be played", zap.Error(err))
		}
		c.noPlayback = err != nil
	}
	c.primed = true

	switch {
	case !c.bootstrapSent:
		c.bootstrapSent = true
		var blobs []protocol.Blob
		if len(c.cfg.Snapshot) > 0 {
			blobs = append(blobs, protocol.Blob{MIMEType: "image/jpeg", Data: pcm.BytesToBase64(c.cfg.Snapshot)})
		}
		if err := c.write(protocol.NewUserTurn(c.cfg.BootstrapPrompt, blobs...)); err != nil {
			c.logger.Warn("Failed to send bootstrap prompt", zap.Error(err))
		}
	case c.restoreNeeded:
		c.sendRestore()
	}
	c.restoreNeeded = false

	c.scheduleMic()
}

func (c *Controller) onServerStatus(st protocol.ServerStatus) {
	c.deps.Observer.RelayStatus(st)
	switch st.State {
	case protocol.StateReconnecting:
		c.restoreNeeded = true
	case protocol.StateRecovered:
		if c.restoreNeeded && c.state == StateLive {
			c.sendRestore()
			c.restoreNeeded = false
		}
	}
}

// sendRestore reminds the agent where the conversation stopped. Restores
// closer together than RestoreWindow collapse into the first.
func (c *Controller) sendRestore() {
	now := c.now()
	if !c.lastRestore.IsZero() && now.Sub(c.lastRestore) < c.cfg.RestoreWindow {
		c.logger.Debug("Skipping restore prompt inside the restore window")
		return
	}
	c.lastRestore = now
	if err := c.write(protocol.NewUserTurn(restorePrompt(c.recent.lines()))); err != nil {
		c.logger.Warn("Failed to send restore prompt", zap.Error(err))
	}
}

func restorePrompt(lines []string) string {
	var sb strings.Builder
	sb.WriteString("The connection dropped and is back. Continue the conversation from where it stopped without greeting again.")
	if len(lines) > 0 {
		sb.WriteString("\nRecent context:")
		for _, l := range lines {
			sb.WriteString("\n- ")
			sb.WriteString(l)
		}
	}
	return sb.String()
}

func (c *Controller) scheduleMic() {
	if c.micActive || c.stopMicDefer != nil || c.deps.Microphone == nil {
		return
	}
	c.micDeferSeq++
	seq := c.micDeferSeq
	c.stopMicDefer = c.afterFunc(c.cfg.MicDefer, func() { c.post(micDeferDue{seq: seq}) })
}

func (c *Controller) cancelMicDefer() {
	if c.stopMicDefer != nil {
		c.stopMicDefer()
		c.stopMicDefer = nil
	}
}

// agentReplied starts a deferred microphone at once.
func (c *Controller) agentReplied() {
	if c.stopMicDefer != nil {
		c.cancelMicDefer()
		c.startMic()
	}
}

func (c *Controller) startMic() {
	if c.micActive || c.deps.Microphone == nil || c.state != StateLive {
		return
	}
	err := c.deps.Microphone.Start(func(chunk audio.Chunk) {
		select {
		case c.events <- micChunk{chunk: chunk}:
		default:
		}
	})
	if err != nil {
		c.logger.Error("Failed to start microphone", zap.Error(err))
		c.deps.Observer.Error("microphone unavailable: " + err.Error())
		return
	}
	c.micActive = true
	c.logger.Info("Microphone started")
}

func (c *Controller) stopMic() {
	if !c.micActive {
		return
	}
	c.micActive = false
	if err := c.deps.Microphone.Stop(); err != nil {
		c.logger.Debug("Microphone stop", zap.Error(err))
	}
}

func (c *Controller) onMicChunk(chunk audio.Chunk) {
	if !c.micActive || c.state != StateLive || c.conn == nil {
		return
	}
	if c.speaking {
		c.droppedAudio++
		return
	}
	if err := c.write(protocol.NewAudioInput(chunk.Data, chunk.SampleRate)); err != nil {
		c.logger.Debug("Mic chunk not sent", zap.Error(err))
	}
}

func (c *Controller) onServerContent(sc *protocol.ServerContent) {
	if sc.Interrupted {
		if c.deps.Playback != nil {
			c.deps.Playback.Clear()
		}
		c.clearSpeaking()
	}

	if sc.ModelTurn != nil {
		for _, blob := range sc.ModelTurn.AudioParts() {
			data, err := pcm.Base64ToBytes(blob.Data)
			if err != nil {
				c.logger.Debug("Dropping undecodable audio", zap.Error(err))
				continue
			}
			c.playPCM(data)
		}
		if strings.TrimSpace(sc.ModelTurn.Text()) != "" {
			c.markSpeakingText()
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		c.markSpeakingText()
	}
}

func (c *Controller) playPCM(data []byte) {
	if len(data) < 2 {
		return
	}
	if c.deps.Playback == nil || c.noPlayback {
		// Nothing will ever drain, so hold the mic on the debounce instead.
		c.markSpeakingText()
		return
	}
	c.agentReplied()
	// Audio keeps the agent speaking until playback drains.
	if c.stopSpeaking != nil {
		c.stopSpeaking()
		c.stopSpeaking = nil
	}
	c.speaking = true
	if !c.deps.Playback.Enqueue(pcm.PCM16ToFloat(data)) {
		c.logger.Debug("Playback queue full; audio dropped")
	}
}

func (c *Controller) markSpeakingText() {
	c.agentReplied()
	c.speaking = true
	if c.stopSpeaking != nil {
		c.stopSpeaking()
	}
	c.speakingSeq++
	seq := c.speakingSeq
	c.stopSpeaking = c.afterFunc(c.cfg.SpeakingDebounce, func() { c.post(speakingDue{seq: seq}) })
}

func (c *Controller) onDrained() {
	c.clearSpeaking()
}

func (c *Controller) clearSpeaking() {
	if c.stopSpeaking != nil {
		c.stopSpeaking()
		c.stopSpeaking = nil
	}
	c.speaking = false
}

func (c *Controller) setState(state State, status string) {
	c.state = state
	c.statusMu.Lock()
	changed := c.status != status
	c.status = status
	c.statusMu.Unlock()
	if changed {
		c.deps.Observer.StatusChanged(status)
	}
}

type nopObserver struct{}

func (nopObserver) StatusChanged(string)              {}
func (nopObserver) Transcript(string, string, bool)   {}
func (nopObserver) RelayStatus(protocol.ServerStatus) {}
func (nopObserver) Error(string)                      {}
