package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
	"avatarbot/internal/infra/tracer"
)

// OpenAIClient talks to any OpenAI-compatible API (DeepSeek, Grok, Doubao Ark,
// OpenAI). It implements domain.LLMClient, domain.VisionClient and
// domain.VoiceClient; operations whose model is not configured return
// domain.ErrUnimplemented.
type OpenAIClient struct {
	name        string
	model       string
	visionModel string
	video       bool
	sttModel    string
	ttsModel    string
	ttsVoice    string
	maxTokens   int
	apiKey      string
	baseURL     string
	client      *http.Client
	logger      *slog.Logger
}

var (
	_ domain.LLMClient    = (*OpenAIClient)(nil)
	_ domain.VisionClient = (*OpenAIClient)(nil)
	_ domain.VoiceClient  = (*OpenAIClient)(nil)
)

// NewOpenAIClient creates a client. Empty base URL and model fall back to the
// preset registered under cfg.Name, then to the OpenAI endpoint.
func NewOpenAIClient(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIClient {
	cfg = withPreset(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	voice := cfg.TTSVoice
	if voice == "" {
		voice = "alloy"
	}
	return &OpenAIClient{
		name:        cfg.Name,
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
		video:       cfg.Video,
		sttModel:    cfg.STTModel,
		ttsModel:    cfg.TTSModel,
		ttsVoice:    voice,
		maxTokens:   cfg.MaxTokens,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		client:      NewHTTPClient(cfg),
		logger:      logger,
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return c.name }

// HasVision reports whether a vision model is configured.
func (c *OpenAIClient) HasVision() bool { return c.visionModel != "" }

// HasVoice reports whether a speech model is configured in either direction.
func (c *OpenAIClient) HasVoice() bool { return c.sttModel != "" || c.ttsModel != "" }

// Chat implements domain.LLMClient.
func (c *OpenAIClient) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", c.model),
			tracer.IntAttr("llm.messages", len(messages)),
		),
	)
	defer span.End()

	msgs := make([]openaiMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openaiMessage{Role: m.Role, Content: m.Content}
	}

	reply, err := c.complete(ctx, span, c.model, msgs)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	tracer.SetOK(span)
	return reply, nil
}

// AnalyzeImage implements domain.VisionClient.
func (c *OpenAIClient) AnalyzeImage(ctx context.Context, ref, prompt string) (string, error) {
	return c.analyze(ctx, "image_url", ref, prompt)
}

// AnalyzeVideo implements domain.VisionClient. Only providers configured
// with video support accept video_url parts.
func (c *OpenAIClient) AnalyzeVideo(ctx context.Context, ref, prompt string) (string, error) {
	if !c.video {
		return "", domain.NewDomainError("OpenAIClient.AnalyzeVideo", domain.ErrUnimplemented, c.name+": video analysis")
	}
	return c.analyze(ctx, "video_url", ref, prompt)
}

func (c *OpenAIClient) analyze(ctx context.Context, partType, ref, prompt string) (string, error) {
	if c.visionModel == "" {
		return "", domain.NewDomainError("OpenAIClient.analyze", domain.ErrUnimplemented, c.name+": no vision model configured")
	}

	ctx, span := tracer.StartSpan(ctx, "vision.analyze",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", c.visionModel),
			tracer.StringAttr("vision.kind", partType),
		),
	)
	defer span.End()

	media := &openaiMediaURL{URL: ref}
	part := openaiContentPart{Type: partType}
	if partType == "video_url" {
		part.VideoURL = media
	} else {
		part.ImageURL = media
	}

	msgs := []openaiMessage{{
		Role: domain.RoleUser,
		Content: []openaiContentPart{
			{Type: "text", Text: prompt},
			part,
		},
	}}

	reply, err := c.complete(ctx, span, c.visionModel, msgs)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	tracer.SetOK(span)
	return reply, nil
}

// complete posts a chat completion and returns the first choice's text.
func (c *OpenAIClient) complete(ctx context.Context, span trace.Span, model string, msgs []openaiMessage) (string, error) {
	body, err := json.Marshal(openaiRequest{Model: model, Messages: msgs, MaxTokens: c.maxTokens})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+"/chat/completions", body, bearer(c.apiKey))
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.name, err)
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("%s: unmarshal response: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewDomainError("OpenAIClient.Chat", domain.ErrEmptyResponse, c.name)
	}

	setUsageAttrs(span, resp.Usage)
	logChatCompleted(c.logger, c.name, model, resp.Usage)
	return resp.Choices[0].Message.Content, nil
}

// SpeechToText implements domain.VoiceClient via /audio/transcriptions.
func (c *OpenAIClient) SpeechToText(ctx context.Context, audio []byte) (string, error) {
	if c.sttModel == "" {
		return "", domain.NewDomainError("OpenAIClient.SpeechToText", domain.ErrUnimplemented, c.name+": no speech-to-text model configured")
	}

	ctx, span := tracer.StartSpan(ctx, "voice.stt",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", c.sttModel),
			tracer.IntAttr("voice.bytes", len(audio)),
		),
	)
	defer span.End()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", c.sttModel); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}

	respBody, err := doRequest(ctx, c.client, c.baseURL+"/audio/transcriptions", mw.FormDataContentType(), &buf, bearer(c.apiKey))
	if err != nil {
		err = fmt.Errorf("%s: %w", c.name, err)
		tracer.RecordError(span, err)
		return "", err
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		err = fmt.Errorf("%s: unmarshal transcription: %w", c.name, err)
		tracer.RecordError(span, err)
		return "", err
	}

	tracer.SetOK(span)
	c.logger.Debug("speech transcribed", "provider", c.name, "chars", len(resp.Text))
	return resp.Text, nil
}

// TextToSpeech implements domain.VoiceClient via /audio/speech.
func (c *OpenAIClient) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	if c.ttsModel == "" {
		return nil, domain.NewDomainError("OpenAIClient.TextToSpeech", domain.ErrUnimplemented, c.name+": no text-to-speech model configured")
	}

	ctx, span := tracer.StartSpan(ctx, "voice.tts",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", c.ttsModel),
		),
	)
	defer span.End()

	body, err := json.Marshal(map[string]string{
		"model":           c.ttsModel,
		"input":           text,
		"voice":           c.ttsVoice,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	audio, err := doJSONRequest(ctx, c.client, c.baseURL+"/audio/speech", body, bearer(c.apiKey))
	if err != nil {
		err = fmt.Errorf("%s: %w", c.name, err)
		tracer.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(tracer.IntAttr("voice.bytes", len(audio)))
	tracer.SetOK(span)
	return audio, nil
}

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

// openaiMessage.Content is a string for chat and a []openaiContentPart for
// multimodal requests.
type openaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiMediaURL `json:"image_url,omitempty"`
	VideoURL *openaiMediaURL `json:"video_url,omitempty"`
}

type openaiMediaURL struct {
	URL string `json:"url"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
