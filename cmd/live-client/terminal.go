package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
)

type node struct {
	label  string
	radius float64
	color  string
}

// terminal prints the circles and the conversation instead of drawing them.
type terminal struct {
	mu    sync.Mutex
	out   io.Writer
	nodes map[int]*node
	kind  string
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{
		out: out,
		nodes: map[int]*node{
			1: {label: "الوعي", radius: 60, color: "#FF5733"},
			2: {label: "العلم", radius: 70, color: "#33FF57"},
			3: {label: "الحقيقة", radius: 80, color: "#3357FF"},
		},
	}
}

func (t *terminal) UpdateNode(id int, updates protocol.Args) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("unknown node %d", id)
	}
	if r, ok := updates.Number("radius"); ok {
		n.radius = min(max(r, 30), 100)
	}
	if c, ok := updates.String("color"); ok && c != "" {
		n.color = c
	}
	if l, ok := updates.String("label"); ok && l != "" {
		n.label = l
	}
	t.lineBreak()
	fmt.Fprintf(t.out, "  ◯ [%d] %s  radius=%.0f  color=%s\n", id, n.label, n.radius, n.color)
	return nil
}

func (t *terminal) PulseNode(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("unknown node %d", id)
	}
	t.lineBreak()
	fmt.Fprintf(t.out, "  ✦ [%d] %s\n", id, n.label)
	return nil
}

func (t *terminal) StatusChanged(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lineBreak()
	fmt.Fprintf(t.out, "[%s]\n", status)
}

func (t *terminal) RelayStatus(st protocol.ServerStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lineBreak()
	switch st.State {
	case protocol.StateReconnecting:
		fmt.Fprintf(t.out, "[agent reconnecting %d/%d in %dms]\n", st.Attempt, st.MaxAttempts, st.DelayMs)
	case protocol.StateRecovered:
		fmt.Fprintln(t.out, "[agent back]")
	default:
		fmt.Fprintf(t.out, "[relay: %s]\n", st.State)
	}
}

func (t *terminal) Error(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lineBreak()
	fmt.Fprintf(t.out, "error: %s\n", message)
}

// Transcript joins fragments of one speaker into a single printed line.
func (t *terminal) Transcript(kind, text string, finished bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kind != kind {
		t.lineBreak()
		t.kind = kind
		who := "you"
		if kind == protocol.TranscriptionOutput {
			who = "agent"
		}
		fmt.Fprintf(t.out, "%s: ", who)
	}
	fmt.Fprint(t.out, text)
	if finished {
		t.lineBreak()
	}
}

func (t *terminal) lineBreak() {
	if t.kind == "" {
		return
	}
	fmt.Fprintln(t.out)
	t.kind = ""
}
