package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/entities"
	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
)

// Id prefixes of tool calls that did not originate upstream. Responses to
// them are never forwarded upstream.
const (
	PrefixTranscript = "transcript_"
	PrefixSentiment  = "sentiment_"
	PrefixVisual     = "gemini_visual_"
)

// Tool names.
const (
	ToolUpdateNode     = "update_node"
	ToolHighlightNode  = "highlight_node"
	ToolExpertInsight  = "get_expert_insight"
	ToolSessionSummary = "get_session_summary"
)

// IsSynthetic reports whether a tool-call id was minted by the relay.
func IsSynthetic(id string) bool {
	return strings.HasPrefix(id, PrefixTranscript) ||
		strings.HasPrefix(id, PrefixSentiment) ||
		strings.HasPrefix(id, PrefixVisual)
}

// Snapshot is the session state exposed to server-resolved tools.
type Snapshot struct {
	SessionID  string
	StartedAt  time.Time
	UserLines  []string
	AgentLines []string
	Counters   entities.SessionCounters
}

// ServerTool resolves a call locally. A returned error becomes an error
// payload in the tool response.
type ServerTool func(ctx context.Context, args protocol.Args, snap Snapshot) (map[string]any, error)

// RouteResult is the outcome of routing one batch of function calls.
type RouteResult struct {
	// ClientCalls are forwarded to the client, visual calls with their ids
	// prefixed by PrefixVisual.
	ClientCalls []protocol.FunctionCall
	// Responses go upstream immediately.
	Responses []protocol.FunctionResponse

	ServerResolved int
	Visual         int
	PassThrough    int
}

// Router classifies tool calls into server-resolved, visual, and
// pass-through calls.
type Router struct {
	serverTools map[string]ServerTool
	visual      map[string]bool
	decls       []repositories.ToolDeclaration
}

// NewRouter returns a router with the canvas tools and the built-in server
// tools registered.
func NewRouter() *Router {
	r := &Router{
		serverTools: make(map[string]ServerTool),
		visual:      make(map[string]bool),
	}
	r.RegisterVisualTool(repositories.ToolDeclaration{
		Name:        ToolUpdateNode,
		Description: "Updates the properties of a Dawayir node (circle).",
		Parameters: map[string]repositories.ToolParam{
			"id":     {Type: repositories.ParamNumber, Description: "The ID of the node to update: 1 awareness, 2 knowledge, 3 truth."},
			"radius": {Type: repositories.ParamNumber, Description: "The new radius of the node, between 30 and 100."},
			"color":  {Type: repositories.ParamString, Description: "The new color of the node as a hex string."},
			"label":  {Type: repositories.ParamString, Description: "The new label for the node."},
		},
		Required: []string{"id"},
	})
	r.RegisterVisualTool(repositories.ToolDeclaration{
		Name:        ToolHighlightNode,
		Description: "Causes a node to pulse visually to draw attention.",
		Parameters: map[string]repositories.ToolParam{
			"id": {Type: repositories.ParamNumber, Description: "The ID of the node to highlight."},
		},
		Required: []string{"id"},
	})
	r.RegisterServerTool(repositories.ToolDeclaration{
		Name:        ToolExpertInsight,
		Description: "Returns a short coaching insight about one of the three circles.",
		Parameters: map[string]repositories.ToolParam{
			"topic": {Type: repositories.ParamString, Description: "awareness, knowledge or truth."},
		},
		Required: []string{"topic"},
	}, expertInsight)
	r.RegisterServerTool(repositories.ToolDeclaration{
		Name:        ToolSessionSummary,
		Description: "Summarizes the conversation so far: duration, recent user statements and activity counters.",
	}, sessionSummary)
	return r
}

// RegisterServerTool adds a tool resolved by the relay.
func (r *Router) RegisterServerTool(decl repositories.ToolDeclaration, fn ServerTool) {
	r.serverTools[decl.Name] = fn
	r.decls = append(r.decls, decl)
}

// RegisterVisualTool adds a tool forwarded to the client and acknowledged
// upstream at once.
func (r *Router) RegisterVisualTool(decl repositories.ToolDeclaration) {
	r.visual[decl.Name] = true
	r.decls = append(r.decls, decl)
}

// Declarations lists every registered tool for the upstream setup.
func (r *Router) Declarations() []repositories.ToolDeclaration {
	return append([]repositories.ToolDeclaration(nil), r.decls...)
}

// Route classifies calls. It never returns without a response for every
// server-resolved or visual call.
func (r *Router) Route(ctx context.Context, calls []protocol.FunctionCall, snap Snapshot) RouteResult {
	var res RouteResult
	for _, call := range calls {
		switch {
		case r.serverTools[call.Name] != nil:
			res.ServerResolved++
			res.Responses = append(res.Responses, protocol.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: r.resolve(ctx, call, snap),
			})
		case r.visual[call.Name]:
			res.Visual++
			forwarded := call
			forwarded.ID = PrefixVisual + call.ID
			res.ClientCalls = append(res.ClientCalls, forwarded)
			res.Responses = append(res.Responses, protocol.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: map[string]any{"result": map[string]any{"ok": true}},
			})
		default:
			res.PassThrough++
			res.ClientCalls = append(res.ClientCalls, call)
		}
	}
	return res
}

func (r *Router) resolve(ctx context.Context, call protocol.FunctionCall, snap Snapshot) (out map[string]any) {
	defer func() {
		if p := recover(); p != nil {
			out = map[string]any{"error": fmt.Sprintf("tool %s failed: %v", call.Name, p)}
		}
	}()
	args := call.Args
	if args == nil {
		args = protocol.Args{}
	}
	result, err := r.serverTools[call.Name](ctx, args, snap)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"result": result}
}

// FilterResponse drops responses to relay-minted calls. It returns nil when
// nothing is left to forward.
func FilterResponse(tr *protocol.ToolResponse) *protocol.ToolResponse {
	if tr == nil {
		return nil
	}
	kept := make([]protocol.FunctionResponse, 0, len(tr.FunctionResponses))
	for _, fr := range tr.FunctionResponses {
		if !IsSynthetic(fr.ID) {
			kept = append(kept, fr)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &protocol.ToolResponse{FunctionResponses: kept}
}

var insights = map[int]string{
	CircleAwareness: "Awareness grows when you name what you feel before acting on it. Ask what the feeling is protecting.",
	CircleKnowledge: "Knowledge becomes useful when it is tested. Pick one belief and look for evidence against it this week.",
	CircleTruth:     "Truth is usually simpler than the story around it. Say the plain sentence you have been avoiding.",
}

func expertInsight(_ context.Context, args protocol.Args, _ Snapshot) (map[string]any, error) {
	topic, _ := args.String("topic")
	id, ok := circleFromText(topic)
	if !ok {
		if n, isNum := args.Number("topic"); isNum {
			id, ok = int(n), insights[int(n)] != ""
		}
	}
	if !ok {
		return nil, fmt.Errorf("unknown topic %q", topic)
	}
	return map[string]any{
		"circle":  id,
		"name":    circleNames[id],
		"insight": insights[id],
	}, nil
}

func sessionSummary(_ context.Context, _ protocol.Args, snap Snapshot) (map[string]any, error) {
	return map[string]any{
		"sessionId":       snap.SessionID,
		"durationSeconds": int(time.Since(snap.StartedAt).Seconds()),
		"recentUser":      snap.UserLines,
		"recentAgent":     snap.AgentLines,
		"toolCalls":       snap.Counters.ToolCalls,
		"commands":        snap.Counters.SyntheticCommands,
		"reconnects":      snap.Counters.Reconnects,
	}, nil
}
