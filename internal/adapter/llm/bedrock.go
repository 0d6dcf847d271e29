//go:build bedrock

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
	"avatarbot/internal/infra/tracer"
)

const defaultBedrockMaxTokens = 4096

// bedrockConverseAPI is the slice of the Bedrock runtime client used here.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient implements domain.LLMClient via the AWS Bedrock Converse API.
type BedrockClient struct {
	name      string
	model     string
	maxTokens int32
	client    bedrockConverseAPI
	logger    *slog.Logger
}

var _ domain.LLMClient = (*BedrockClient)(nil)

// NewBedrockClient creates a client using the default AWS credential chain.
func NewBedrockClient(cfg config.ProviderConfig, logger *slog.Logger) (*BedrockClient, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newBedrockClientWithAPI(cfg, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

func newBedrockClientWithAPI(cfg config.ProviderConfig, api bedrockConverseAPI, logger *slog.Logger) *BedrockClient {
	maxTokens := int32(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultBedrockMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BedrockClient{name: cfg.Name, model: cfg.Model, maxTokens: maxTokens, client: api, logger: logger}
}

// BedrockFactory is the Registry factory for the "bedrock" provider type.
func BedrockFactory(cfg config.ProviderConfig, logger *slog.Logger) (Capabilities, error) {
	c, err := NewBedrockClient(cfg, logger)
	if err != nil {
		return Capabilities{}, err
	}
	return Capabilities{Name: c.Name(), LLM: c}, nil
}

// Name returns the provider name.
func (c *BedrockClient) Name() string { return c.name }

// Chat implements domain.LLMClient.
func (c *BedrockClient) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", c.model),
		),
	)
	defer span.End()

	out, err := c.client.Converse(ctx, c.converseInput(messages))
	if err != nil {
		err = mapBedrockError(err)
		tracer.RecordError(span, err)
		return "", err
	}

	reply, err := bedrockText(out)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	if out.Usage != nil {
		in, outTok := aws.ToInt32(out.Usage.InputTokens), aws.ToInt32(out.Usage.OutputTokens)
		span.SetAttributes(
			tracer.IntAttr("llm.prompt_tokens", int(in)),
			tracer.IntAttr("llm.completion_tokens", int(outTok)),
		)
		c.logger.Debug("llm chat completed", "provider", c.name, "model", c.model, "tokens", in+outTok)
	}
	tracer.SetOK(span)
	return reply, nil
}

// converseInput moves system messages into the System field; Bedrock only
// accepts user and assistant turns in Messages.
func (c *BedrockClient) converseInput(messages []domain.Message) *bedrockruntime.ConverseInput {
	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(c.maxTokens),
		},
	}
	for _, m := range messages {
		text := &types.ContentBlockMemberText{Value: m.Content}
		switch m.Role {
		case domain.RoleSystem:
			in.System = append(in.System, &types.SystemContentBlockMemberText{Value: m.Content})
		case domain.RoleAssistant:
			in.Messages = append(in.Messages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{text},
			})
		default:
			in.Messages = append(in.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{text},
			})
		}
	}
	return in
}

func bedrockText(out *bedrockruntime.ConverseOutput) (string, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", domain.NewDomainError("BedrockClient.Chat", domain.ErrEmptyResponse, "no message output")
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(tb.Value)
		}
	}
	return sb.String(), nil
}

// mapBedrockError maps smithy API error codes to domain sentinels.
func mapBedrockError(err error) error {
	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); {
		case code == "ThrottlingException" || code == "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ValidationException" && strings.Contains(msg, "too long"):
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
			code == "InternalServerException":
			return fmt.Errorf("%w: %s", domain.ErrProviderError, msg)
		}
	}
	return domain.WrapOp("bedrock", err)
}
