package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatarbot/internal/domain"
	"avatarbot/internal/usecase/eventbus"
)

func newTestBot(t *testing.T, llm domain.LLMClient, opts ...BotOption) *Bot {
	t.Helper()
	bot, err := NewBot(llm, testPersonas(), opts...)
	require.NoError(t, err)
	return bot
}

func TestNewBot_RequiresLLMAndPersonas(t *testing.T) {
	_, err := NewBot(nil, testPersonas())
	assert.ErrorIs(t, err, ErrMissingDependency)

	_, err = NewBot(&mockLLM{}, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestHandleMessage_TextWithoutMemory(t *testing.T) {
	llm := &mockLLM{reply: func([]domain.Message) (string, error) { return "the reply", nil }}
	bot := newTestBot(t, llm)

	uid := "u1"
	reply, err := bot.HandleMessage(context.Background(), "s1", domain.TextInput("hello"), &uid)
	require.NoError(t, err)
	assert.Equal(t, "the reply", reply)

	want := []domain.Message{
		domain.SystemMessage("sys prompt"),
		domain.UserMessage("hello", &uid),
	}
	assert.Equal(t, want, llm.lastContext())
}

func TestHandleMessage_EchoScenario(t *testing.T) {
	bot := newTestBot(t, echoLLM())

	reply, err := bot.HandleMessage(context.Background(), "s", domain.TextInput("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", reply)
}

func TestHandleMessage_MemoryHistoryOrder(t *testing.T) {
	mem := newMockMemory()
	llm := echoLLM()
	bot := newTestBot(t, llm, WithMemory(mem))
	ctx := context.Background()

	r1, err := bot.HandleMessage(ctx, "s", domain.TextInput("t1"), nil)
	require.NoError(t, err)
	r2, err := bot.HandleMessage(ctx, "s", domain.TextInput("t2"), nil)
	require.NoError(t, err)

	want := []domain.Message{
		domain.UserMessage("t1", nil),
		domain.AssistantMessage(r1),
		domain.UserMessage("t2", nil),
		domain.AssistantMessage(r2),
	}
	assert.Equal(t, want, mem.history("s"))
	assert.Empty(t, mem.history("other"))
}

func TestHandleMessage_ContextFromPersistedHistory(t *testing.T) {
	mem := newMockMemory()
	mem.sessions["s"] = []domain.Message{
		domain.UserMessage("a", nil),
		domain.AssistantMessage("b"),
	}
	llm := echoLLM()
	bot := newTestBot(t, llm, WithMemory(mem))

	_, err := bot.HandleMessage(context.Background(), "s", domain.TextInput("c"), nil)
	require.NoError(t, err)

	want := []domain.Message{
		domain.SystemMessage("sys prompt"),
		domain.UserMessage("a", nil),
		domain.AssistantMessage("b"),
		domain.UserMessage("c", nil),
	}
	assert.Equal(t, want, llm.lastContext())
}

func TestHandleMessage_AssistantMessageHasNoUserID(t *testing.T) {
	mem := newMockMemory()
	bot := newTestBot(t, echoLLM(), WithMemory(mem))

	uid := "42"
	_, err := bot.HandleMessage(context.Background(), "s", domain.TextInput("x"), &uid)
	require.NoError(t, err)

	h := mem.history("s")
	require.Len(t, h, 2)
	require.NotNil(t, h[0].UserID)
	assert.Equal(t, "42", *h[0].UserID)
	assert.Nil(t, h[1].UserID)
}

func TestHandleMessage_UserPersistFailureSkipsLLM(t *testing.T) {
	mem := newMockMemory()
	mem.addErr = func(domain.Message) error { return errBackend }
	llm := echoLLM()
	bot := newTestBot(t, llm, WithMemory(mem))

	_, err := bot.HandleMessage(context.Background(), "s", domain.TextInput("x"), nil)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, 0, llm.calls())
	assert.Equal(t, 0, mem.getCalled)
}

func TestHandleMessage_HistoryFailure(t *testing.T) {
	mem := newMockMemory()
	mem.getErr = errBackend
	llm := echoLLM()
	bot := newTestBot(t, llm, WithMemory(mem))

	_, err := bot.HandleMessage(context.Background(), "s", domain.TextInput("x"), nil)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, 0, llm.calls())
}

func TestHandleMessage_LLMFailurePropagates(t *testing.T) {
	mem := newMockMemory()
	llm := &mockLLM{reply: func([]domain.Message) (string, error) {
		return "", domain.ErrRateLimit
	}}
	bot := newTestBot(t, llm, WithMemory(mem))

	_, err := bot.HandleMessage(context.Background(), "s", domain.TextInput("x"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.Equal(t, 1, llm.calls(), "no retry")
	// only the user message was stored
	assert.Len(t, mem.history("s"), 1)
}

func TestHandleMessage_ReplyPersistFailureFailsTurn(t *testing.T) {
	mem := newMockMemory()
	mem.addErr = func(m domain.Message) error {
		if m.Role == domain.RoleAssistant {
			return errBackend
		}
		return nil
	}
	bot := newTestBot(t, echoLLM(), WithMemory(mem))

	reply, err := bot.HandleMessage(context.Background(), "s", domain.TextInput("x"), nil)
	assert.ErrorIs(t, err, errBackend)
	assert.Empty(t, reply)
}

func TestHandleMessage_ImageWithoutVision(t *testing.T) {
	llm := echoLLM()
	mem := newMockMemory()
	bot := newTestBot(t, llm, WithMemory(mem))

	reply, err := bot.HandleMessage(context.Background(), "s", domain.ImageInput("anything"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Vision capability not enabled.", reply)
	assert.Equal(t, 0, llm.calls())
	assert.Empty(t, mem.history("s"))
}

func TestHandleMessage_VideoWithoutVision(t *testing.T) {
	bot := newTestBot(t, echoLLM())
	reply, err := bot.HandleMessage(context.Background(), "s", domain.VideoInput("v"), nil)
	require.NoError(t, err)
	assert.Equal(t, VisionDisabledReply, reply)
}

func TestHandleMessage_AudioWithoutVoice(t *testing.T) {
	llm := echoLLM()
	bot := newTestBot(t, llm)

	reply, err := bot.HandleMessage(context.Background(), "s", domain.AudioInput([]byte{1, 2}), nil)
	require.NoError(t, err)
	assert.Equal(t, "Voice capability not enabled.", reply)
	assert.Equal(t, 0, llm.calls())
}

func TestHandleMessage_ImageWithVision(t *testing.T) {
	vision := &mockVision{reply: "a cat"}
	llm := echoLLM()
	bot := newTestBot(t, llm, WithVision(vision))

	reply, err := bot.HandleMessage(context.Background(), "s", domain.ImageInput("http://img"), nil)
	require.NoError(t, err)
	assert.Equal(t, "a cat", reply)
	assert.Equal(t, "http://img", vision.imageRef)
	assert.Equal(t, "Describe this image", vision.prompt)
	assert.Equal(t, 0, llm.calls())
}

func TestHandleMessage_VideoWithVision(t *testing.T) {
	vision := &mockVision{reply: "a dog running"}
	bot := newTestBot(t, echoLLM(), WithVision(vision))

	reply, err := bot.HandleMessage(context.Background(), "s", domain.VideoInput("vid-1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "a dog running", reply)
	assert.Equal(t, "vid-1", vision.videoRef)
	assert.Equal(t, "Describe this video", vision.prompt)
}

func TestHandleMessage_VisionErrorPropagates(t *testing.T) {
	vision := &mockVision{err: domain.NewDomainError("vision", domain.ErrUnimplemented, "video")}
	bot := newTestBot(t, echoLLM(), WithVision(vision))

	_, err := bot.HandleMessage(context.Background(), "s", domain.VideoInput("v"), nil)
	assert.ErrorIs(t, err, domain.ErrUnimplemented)
}

func TestHandleMessage_AudioRunsTextPipeline(t *testing.T) {
	voice := &mockVoice{transcript: "spoken words"}
	mem := newMockMemory()
	llm := echoLLM()
	bot := newTestBot(t, llm, WithVoice(voice), WithMemory(mem))

	uid := "u"
	reply, err := bot.HandleMessage(context.Background(), "s", domain.AudioInput([]byte{7, 8}), &uid)
	require.NoError(t, err)
	assert.Equal(t, "echo:spoken words", reply)
	assert.Equal(t, []byte{7, 8}, voice.got)

	h := mem.history("s")
	require.Len(t, h, 2)
	assert.Equal(t, domain.UserMessage("spoken words", &uid), h[0])
}

func TestHandleMessage_AudioTranscriptionFailure(t *testing.T) {
	voice := &mockVoice{err: errBackend}
	llm := echoLLM()
	bot := newTestBot(t, llm, WithVoice(voice))

	_, err := bot.HandleMessage(context.Background(), "s", domain.AudioInput([]byte{1}), nil)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, 0, llm.calls())
}

func TestHandleMessage_ZeroInputRejected(t *testing.T) {
	bot := newTestBot(t, echoLLM())
	_, err := bot.HandleMessage(context.Background(), "s", domain.Input{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHandleMessage_ConcurrentSessions(t *testing.T) {
	mem := newMockMemory()
	bot := newTestBot(t, echoLLM(), WithMemory(mem))

	var wg sync.WaitGroup
	for _, s := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bot.HandleMessage(context.Background(), s, domain.TextInput(s), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, s := range []string{"a", "b", "c", "d"} {
		h := mem.history(s)
		require.Len(t, h, 2)
		assert.Equal(t, s, h[0].Content)
		assert.Equal(t, "echo:"+s, h[1].Content)
	}
}

func TestHandleMessage_PublishesEvents(t *testing.T) {
	bus := eventbus.New(nil)
	var received, replied, failed, absent atomic.Int32
	bus.Subscribe(domain.EventMessageReceived, func(context.Context, domain.Event) { received.Add(1) })
	bus.Subscribe(domain.EventMessageReplied, func(context.Context, domain.Event) { replied.Add(1) })
	bus.Subscribe(domain.EventMessageFailed, func(context.Context, domain.Event) { failed.Add(1) })
	bus.Subscribe(domain.EventCapabilityAbsent, func(context.Context, domain.Event) { absent.Add(1) })

	llm := &mockLLM{reply: func(msgs []domain.Message) (string, error) {
		if msgs[len(msgs)-1].Content == "fail" {
			return "", errors.New("nope")
		}
		return "fine", nil
	}}
	bot := newTestBot(t, llm, WithEventBus(bus))
	ctx := context.Background()

	_, _ = bot.HandleMessage(ctx, "s", domain.TextInput("ok"), nil)
	_, _ = bot.HandleMessage(ctx, "s", domain.TextInput("fail"), nil)
	_, _ = bot.HandleMessage(ctx, "s", domain.ImageInput("x"), nil)
	bus.Close()

	assert.Equal(t, int32(3), received.Load())
	assert.Equal(t, int32(2), replied.Load())
	assert.Equal(t, int32(1), failed.Load())
	assert.Equal(t, int32(1), absent.Load())
}

func TestGreeting(t *testing.T) {
	bot := newTestBot(t, echoLLM())
	assert.Equal(t, "Hello! I am ready.", bot.Greeting())

	hi := "Hi there"
	withGreeting, err := NewBot(echoLLM(), mockPersonas{persona: domain.Persona{Name: "p", Greeting: &hi}})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", withGreeting.Greeting())
}

func TestHandleMessage_SessionLockingKeepsTurnsTogether(t *testing.T) {
	mem := newMockMemory()
	bot := newTestBot(t, echoLLM(), WithMemory(mem), WithSessionLocking())

	var wg sync.WaitGroup
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bot.HandleMessage(context.Background(), "shared", domain.TextInput(text), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	h := mem.history("shared")
	require.Len(t, h, 10)
	for i := 0; i < len(h); i += 2 {
		assert.Equal(t, domain.RoleUser, h[i].Role)
		assert.Equal(t, "echo:"+h[i].Content, h[i+1].Content)
	}
	assert.Equal(t, 0, bot.locks.ActiveCount())
}

func TestHandleMessage_SessionLockCancelled(t *testing.T) {
	bot := newTestBot(t, echoLLM(), WithSessionLocking())

	unlock, err := bot.locks.Lock(context.Background(), "busy")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bot.HandleMessage(ctx, "busy", domain.TextInput("hi"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
