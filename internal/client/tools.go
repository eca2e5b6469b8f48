package client

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
)

// Canvas tool names.
const (
	ToolUpdateNode    = "update_node"
	ToolHighlightNode = "highlight_node"
)

// onToolCall resolves a batch against the canvas and answers it with a
// single toolResponse. Relay-synthesized calls are answered too; the relay
// drops those responses.
func (c *Controller) onToolCall(tc *protocol.ToolCall) {
	if len(tc.FunctionCalls) == 0 {
		return
	}
	responses := make([]protocol.FunctionResponse, 0, len(tc.FunctionCalls))
	for _, call := range tc.FunctionCalls {
		result := map[string]any{"ok": true}
		if err := c.applyTool(call); err != nil {
			c.logger.Debug("Tool call failed", zap.String("name", call.Name), zap.Error(err))
			result = map[string]any{"ok": false, "error": err.Error()}
		}
		responses = append(responses, protocol.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: map[string]any{"result": result},
		})
	}
	if err := c.send(protocol.NewToolResponse(responses...)); err != nil {
		c.logger.Warn("Failed to send tool response", zap.Int("calls", len(responses)), zap.Error(err))
	}
}

func (c *Controller) applyTool(call protocol.FunctionCall) error {
	args := call.Args
	if args == nil {
		args = protocol.Args{}
	}
	switch call.Name {
	case ToolUpdateNode:
		id, err := nodeID(args, call.Name)
		if err != nil {
			return err
		}
		updates := make(protocol.Args, len(args))
		for k, v := range args {
			if k != "id" {
				updates[k] = v
			}
		}
		if c.deps.Canvas == nil {
			return nil
		}
		return c.deps.Canvas.UpdateNode(id, updates)
	case ToolHighlightNode:
		id, err := nodeID(args, call.Name)
		if err != nil {
			return err
		}
		if c.deps.Canvas == nil {
			return nil
		}
		return c.deps.Canvas.PulseNode(id)
	default:
		return fmt.Errorf("unsupported tool: %s", call.Name)
	}
}

func nodeID(args protocol.Args, tool string) (int, error) {
	f, ok := args.Number("id")
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid node id for %s", tool)
	}
	return int(f), nil
}
