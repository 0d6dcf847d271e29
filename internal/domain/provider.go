package domain

import "context"

// LLMClient produces a reply for an ordered conversation. The first message
// is the system prompt and the last is the newest user message.
type LLMClient interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// VisionClient turns image or video references into text. A backend that
// cannot handle one of the two returns an error wrapping ErrUnimplemented.
type VisionClient interface {
	AnalyzeImage(ctx context.Context, ref, prompt string) (string, error)
	AnalyzeVideo(ctx context.Context, ref, prompt string) (string, error)
}

// VoiceClient converts between speech and text. A backend that supports only
// one direction returns an error wrapping ErrUnimplemented for the other.
type VoiceClient interface {
	SpeechToText(ctx context.Context, audio []byte) (string, error)
	TextToSpeech(ctx context.Context, text string) ([]byte, error)
}

// Named is implemented by backends that can report an identifier for logs.
type Named interface {
	Name() string
}
