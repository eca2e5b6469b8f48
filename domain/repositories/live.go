package repositories

import (
	"context"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
)

// LiveConnector opens upstream live sessions
type LiveConnector interface {
	Connect(ctx context.Context, opts ConnectOptions) (LiveSession, error)
}

// LiveSession is one bidirectional upstream session. Send and Receive may be
// called from different goroutines; neither may be called concurrently with
// itself.
type LiveSession interface {
	Send(ctx context.Context, msg *protocol.Message) error
	// Receive blocks for the next upstream message. The first message of a
	// session is always setupComplete.
	Receive(ctx context.Context) (*protocol.Message, error)
	Close() error
}

// ConnectOptions configures a new upstream session
type ConnectOptions struct {
	SessionID         string
	Attempt           int
	SystemInstruction string
	Tools             []ToolDeclaration
}

// ParamType is a JSON schema primitive type
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
)

// ToolParam describes one function parameter
type ToolParam struct {
	Type        ParamType
	Description string
	Enum        []string
}

// ToolDeclaration describes a function the upstream model may call
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]ToolParam
	Required    []string
}
