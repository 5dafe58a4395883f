package ctag

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Decision is the answer to a confirmation prompt for one page.
type Decision int

const (
	DecisionNo Decision = iota
	DecisionYes
	DecisionAbort
)

func (d Decision) String() string {
	switch d {
	case DecisionYes:
		return "yes"
	case DecisionAbort:
		return "abort"
	default:
		return "no"
	}
}

// Confirmer asks whether a pending delta may be applied.
type Confirmer interface {
	Ask(ctx context.Context, delta TagDelta) Decision
}

const DefaultAbortKey = "q"

// TerminalConfirmer prompts on out and reads one line per page from in.
type TerminalConfirmer struct {
	reader   *bufio.Reader
	out      io.Writer
	abortKey string
	mu       sync.Mutex
}

func NewTerminalConfirmer(in io.Reader, out io.Writer, abortKey string) *TerminalConfirmer {
	if strings.TrimSpace(abortKey) == "" {
		abortKey = DefaultAbortKey
	}
	return &TerminalConfirmer{
		reader:   bufio.NewReader(in),
		out:      out,
		abortKey: strings.ToLower(strings.TrimSpace(abortKey)),
	}
}

// Ask shows the delta and waits for an answer. y/yes confirms, the abort key
// aborts, and anything else skips. A read failure or EOF aborts.
func (c *TerminalConfirmer) Ask(ctx context.Context, delta TagDelta) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil {
		return DecisionAbort
	}

	fmt.Fprintf(c.out, "\n%s %s\n", boldStyle.Render(delta.Page.Title), mutedStyle.Render("("+delta.Page.Space+")"))
	if len(delta.Added) > 0 {
		fmt.Fprintf(c.out, "  %s\n", formatAdded(delta.Added))
	}
	if len(delta.Removed) > 0 {
		fmt.Fprintf(c.out, "  %s\n", formatRemoved(delta.Removed))
	}
	fmt.Fprintf(c.out, "Apply? %s ", mutedStyle.Render(fmt.Sprintf("[y/N/%s]", c.abortKey)))

	line, err := c.reader.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(c.out)
		return DecisionAbort
	}

	return parseAnswer(line, c.abortKey)
}

func parseAnswer(line, abortKey string) Decision {
	answer := strings.ToLower(strings.TrimSpace(line))
	switch {
	case answer == abortKey:
		return DecisionAbort
	case answer == "y" || answer == "yes":
		return DecisionYes
	default:
		return DecisionNo
	}
}

// ScriptedConfirmer replays a fixed list of decisions, then answers Fallback.
type ScriptedConfirmer struct {
	Decisions []Decision
	Fallback  Decision

	mu    sync.Mutex
	asked []TagDelta
}

func (c *ScriptedConfirmer) Ask(_ context.Context, delta TagDelta) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.asked = append(c.asked, delta)
	if len(c.asked) <= len(c.Decisions) {
		return c.Decisions[len(c.asked)-1]
	}
	return c.Fallback
}

// Asked returns every delta the confirmer was shown, in order.
func (c *ScriptedConfirmer) Asked() []TagDelta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TagDelta(nil), c.asked...)
}
