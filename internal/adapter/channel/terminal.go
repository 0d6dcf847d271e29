package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/glamour"

	"avatarbot/internal/domain"
)

// DefaultTerminalSession is the session id used for the local REPL.
const DefaultTerminalSession = "terminal-session"

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithSessionID overrides the REPL session id.
func WithSessionID(id string) TerminalOption {
	return func(t *Terminal) {
		if id != "" {
			t.sessionID = id
		}
	}
}

// WithMarkdown renders replies as terminal markdown.
func WithMarkdown(enabled bool) TerminalOption {
	return func(t *Terminal) { t.markdown = enabled }
}

// WithTerminalLogger sets the logger.
func WithTerminalLogger(l *slog.Logger) TerminalOption {
	return func(t *Terminal) { t.logger = l }
}

// Terminal is a line-oriented REPL over a reader and writer.
type Terminal struct {
	in        io.Reader
	out       io.Writer
	sessionID string
	markdown  bool
	renderer  *glamour.TermRenderer
	logger    *slog.Logger
}

var _ domain.Platform = (*Terminal)(nil)

// NewTerminal creates a REPL reading lines from in and writing to out.
func NewTerminal(in io.Reader, out io.Writer, opts ...TerminalOption) *Terminal {
	t := &Terminal{
		in:        in,
		out:       out,
		sessionID: DefaultTerminalSession,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	if t.markdown {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			t.logger.Warn("markdown renderer unavailable", "error", err)
		} else {
			t.renderer = r
		}
	}
	return t
}

// Name implements domain.Platform.
func (t *Terminal) Name() string { return "terminal" }

// Run prints the greeting and answers one line at a time until "exit",
// "quit", end of input or ctx cancellation.
func (t *Terminal) Run(ctx context.Context, h domain.Handler) error {
	fmt.Fprintln(t.out, h.Greeting())
	fmt.Fprintln(t.out, "(Type 'exit' to quit)")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(t.in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		fmt.Fprint(t.out, "You: ")

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(t.out)
			fmt.Fprintln(t.out, "Goodbye!")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(t.out, "Goodbye!")
			// The reader stores its error before closing lines.
			select {
			case err := <-readErr:
				return err
			default:
				return nil
			}
		}

		text := strings.TrimSpace(line)
		if strings.EqualFold(text, "exit") || strings.EqualFold(text, "quit") {
			break
		}
		if text == "" {
			continue
		}

		reply, err := h.HandleMessage(ctx, t.sessionID, domain.TextInput(text), nil)
		if err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(t.out, t.render(reply))
	}

	fmt.Fprintln(t.out, "Goodbye!")
	return nil
}

func (t *Terminal) render(reply string) string {
	if t.renderer == nil {
		return reply
	}
	out, err := t.renderer.Render(reply)
	if err != nil {
		return reply
	}
	return strings.TrimRight(out, "\n")
}
