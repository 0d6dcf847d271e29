package usecase

import (
	"context"
	"errors"
	"sync"

	"avatarbot/internal/domain"
)

// --- Mocks ---

type mockLLM struct {
	mu       sync.Mutex
	reply    func([]domain.Message) (string, error)
	contexts [][]domain.Message
}

func (m *mockLLM) Chat(_ context.Context, msgs []domain.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts = append(m.contexts, append([]domain.Message(nil), msgs...))
	if m.reply == nil {
		return "ok", nil
	}
	return m.reply(msgs)
}

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}

func (m *mockLLM) lastContext() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.contexts) == 0 {
		return nil
	}
	return m.contexts[len(m.contexts)-1]
}

// echoLLM replies with "echo:" + content of the last message.
func echoLLM() *mockLLM {
	return &mockLLM{reply: func(msgs []domain.Message) (string, error) {
		return "echo:" + msgs[len(msgs)-1].Content, nil
	}}
}

type mockPersonas struct {
	persona domain.Persona
}

func (m mockPersonas) Default() domain.Persona { return m.persona }
func (m mockPersonas) Lookup(name string) (domain.Persona, bool) {
	if name == m.persona.Name {
		return m.persona, true
	}
	return domain.Persona{}, false
}

func testPersonas() mockPersonas {
	return mockPersonas{persona: domain.Persona{Name: "tester", SystemPrompt: "sys prompt"}}
}

type mockMemory struct {
	mu        sync.Mutex
	sessions  map[string][]domain.Message
	addErr    func(domain.Message) error
	getErr    error
	getCalled int
}

func newMockMemory() *mockMemory {
	return &mockMemory{sessions: make(map[string][]domain.Message)}
}

func (m *mockMemory) GetHistory(_ context.Context, sessionID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalled++
	if m.getErr != nil {
		return nil, m.getErr
	}
	return append([]domain.Message(nil), m.sessions[sessionID]...), nil
}

func (m *mockMemory) AddMessage(_ context.Context, sessionID string, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		if err := m.addErr(msg); err != nil {
			return err
		}
	}
	m.sessions[sessionID] = append(m.sessions[sessionID], msg)
	return nil
}

func (m *mockMemory) history(sessionID string) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.sessions[sessionID]...)
}

type mockVision struct {
	imageRef, videoRef, prompt string
	reply                      string
	err                        error
}

func (m *mockVision) AnalyzeImage(_ context.Context, ref, prompt string) (string, error) {
	m.imageRef, m.prompt = ref, prompt
	return m.reply, m.err
}

func (m *mockVision) AnalyzeVideo(_ context.Context, ref, prompt string) (string, error) {
	m.videoRef, m.prompt = ref, prompt
	return m.reply, m.err
}

type mockVoice struct {
	transcript string
	err        error
	got        []byte
}

func (m *mockVoice) SpeechToText(_ context.Context, audio []byte) (string, error) {
	m.got = audio
	return m.transcript, m.err
}

func (m *mockVoice) TextToSpeech(_ context.Context, _ string) ([]byte, error) {
	return nil, domain.ErrUnimplemented
}

var errBackend = errors.New("backend down")
