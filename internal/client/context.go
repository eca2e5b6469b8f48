package client

import "strings"

// contextLines keeps the last few finished transcript lines for restore
// prompts. Fragments of one speaker join into a line until it finishes or
// the other speaker starts.
type contextLines struct {
	max     int
	done    []string
	kind    string
	partial strings.Builder
}

func newContextLines(max int) *contextLines {
	return &contextLines{max: max}
}

func (c *contextLines) add(kind, text string, finished bool) {
	if c.kind != "" && c.kind != kind {
		c.commit()
	}
	c.kind = kind
	c.partial.WriteString(text)
	if finished {
		c.commit()
	}
}

func (c *contextLines) commit() {
	text := strings.Join(strings.Fields(c.partial.String()), " ")
	kind := c.kind
	c.partial.Reset()
	c.kind = ""
	if text == "" {
		return
	}
	c.done = append(c.done, speaker(kind)+": "+text)
	if len(c.done) > c.max {
		c.done = c.done[len(c.done)-c.max:]
	}
}

// lines returns finished lines plus any open fragment, newest last.
func (c *contextLines) lines() []string {
	out := append([]string(nil), c.done...)
	if text := strings.Join(strings.Fields(c.partial.String()), " "); text != "" {
		out = append(out, speaker(c.kind)+": "+text)
	}
	if len(out) > c.max {
		out = out[len(out)-c.max:]
	}
	return out
}

func speaker(kind string) string {
	if kind == "output" {
		return "agent"
	}
	return "user"
}
