package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatarbot/internal/domain"
)

func runTerminal(t *testing.T, input string, h domain.Handler, opts ...TerminalOption) string {
	t.Helper()
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader(input), &out, opts...)
	require.NoError(t, term.Run(context.Background(), h))
	return out.String()
}

func TestTerminalSession(t *testing.T) {
	h := &fakeHandler{greeting: "Hi, I'm Alice"}
	out := runTerminal(t, "hello\n\n   \nhow are you\nexit\nnever sent\n", h)

	want := "Hi, I'm Alice\n" +
		"(Type 'exit' to quit)\n" +
		"You: echo:hello\n" +
		"You: You: You: echo:how are you\n" +
		"You: Goodbye!\n"
	assert.Equal(t, want, out)

	calls := h.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "terminal-session", calls[0].SessionID)
	assert.Nil(t, calls[0].UserID)
	assert.Equal(t, "how are you", calls[1].Input.Text())
}

func TestTerminalQuitIsCaseInsensitive(t *testing.T) {
	for _, word := range []string{"exit", "EXIT", "Quit", "  quit  "} {
		h := &fakeHandler{}
		out := runTerminal(t, word+"\nhello\n", h)
		assert.True(t, strings.HasSuffix(out, "Goodbye!\n"), word)
		assert.Empty(t, h.Calls(), word)
	}
}

func TestTerminalEOF(t *testing.T) {
	h := &fakeHandler{}
	out := runTerminal(t, "one", h)
	assert.Contains(t, out, "echo:one")
	assert.True(t, strings.HasSuffix(out, "You: Goodbye!\n"))
}

func TestTerminalPrintsErrors(t *testing.T) {
	h := &fakeHandler{reply: func(string, domain.Input) (string, error) {
		return "", errors.New("backend down")
	}}
	out := runTerminal(t, "hi\nexit\n", h)
	assert.Contains(t, out, "You: Error: backend down\n")
}

func TestTerminalSessionOverride(t *testing.T) {
	h := &fakeHandler{}
	runTerminal(t, "hi\n", h, WithSessionID("custom"), WithSessionID(""))
	assert.Equal(t, "custom", h.Calls()[0].SessionID)
}

func TestTerminalMarkdown(t *testing.T) {
	h := &fakeHandler{reply: func(string, domain.Input) (string, error) {
		return "# Title", nil
	}}
	out := runTerminal(t, "hi\n", h, WithMarkdown(true), WithTerminalLogger(newTestLogger()))
	assert.Contains(t, out, "Title")
	assert.True(t, strings.HasSuffix(out, "Goodbye!\n"))
}

func TestTerminalCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	term := NewTerminal(pr, &out)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- term.Run(ctx, &fakeHandler{}) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal did not stop on cancel")
	}
}

func TestTerminalName(t *testing.T) {
	assert.Equal(t, "terminal", NewTerminal(nil, io.Discard).Name())
}
