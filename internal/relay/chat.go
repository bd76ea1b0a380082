package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-resty/resty/v2"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"mythweaver/internal/config"
	"mythweaver/internal/provider"
)

const (
	anthropicBaseURL      = "https://api.anthropic.com"
	anthropicVersion      = "2023-06-01"
	defaultAnthropicModel = "claude-3-5-haiku-20241022"
	defaultGeminiModel    = "gemini-1.5-pro"
	defaultArkModel       = "doubao-seed-1-6-250615"
)

// ErrStreamUnsupported 适配器只支持一次性生成
var ErrStreamUnsupported = errors.New("streaming is not supported by this chat model")

// NewChatModel 按llm.provider选择故事生成模型
func NewChatModel(ctx context.Context, cfg config.LLMConfig, timeout time.Duration) (model.BaseChatModel, error) {
	switch cfg.Provider {
	case "ark":
		if cfg.ArkKey == "" {
			return nil, provider.MissingCredential("Ark")
		}
		name := cfg.Model
		if name == "" {
			name = defaultArkModel
		}
		maxTokens := cfg.MaxTokens
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:    cfg.ArkKey,
			Model:     name,
			MaxTokens: &maxTokens,
			Timeout:   &timeout,
			BaseURL:   cfg.BaseURL,
		})
	case "gemini":
		return NewGeminiChatModel(ctx, cfg.GeminiKey, cfg.Model, cfg.MaxTokens)
	case "anthropic", "":
		base := cfg.BaseURL
		if base == "" {
			base = anthropicBaseURL
		}
		return NewAnthropicChatModel(base, cfg.AnthropicKey, cfg.Model, cfg.MaxTokens, timeout)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// AnthropicChatModel 通过messages接口生成
type AnthropicChatModel struct {
	http      *resty.Client
	apiKey    string
	model     string
	maxTokens int
}

func NewAnthropicChatModel(baseURL, apiKey, modelName string, maxTokens int, timeout time.Duration) (*AnthropicChatModel, error) {
	if apiKey == "" {
		return nil, provider.MissingCredential("Anthropic")
	}
	if modelName == "" {
		modelName = defaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	return &AnthropicChatModel{
		http:      provider.NewHTTPClient(baseURL, timeout),
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
	}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (m *AnthropicChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	o := model.GetCommonOptions(&model.Options{Model: &m.model, MaxTokens: &m.maxTokens}, opts...)

	body := anthropicRequest{Model: *o.Model, MaxTokens: *o.MaxTokens}
	var system []string
	for _, msg := range input {
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			body.Messages = append(body.Messages, anthropicMessage{Role: "assistant", Content: msg.Content})
		default:
			body.Messages = append(body.Messages, anthropicMessage{Role: "user", Content: msg.Content})
		}
	}
	body.System = strings.Join(system, "\n\n")

	var out anthropicResponse
	req := m.http.R().
		SetHeader("x-api-key", m.apiKey).
		SetHeader("anthropic-version", anthropicVersion).
		SetBody(body)
	if err := provider.Do(ctx, "Anthropic", req, http.MethodPost, "/v1/messages", &out, "Anthropic request failed"); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return nil, provider.Malformed("Anthropic", "Anthropic returned no text")
	}
	return schema.AssistantMessage(text.String(), nil), nil
}

func (m *AnthropicChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, ErrStreamUnsupported
}

// GeminiChatModel 基于generative-ai-go
type GeminiChatModel struct {
	client    *genai.Client
	model     string
	maxTokens int
}

func NewGeminiChatModel(ctx context.Context, apiKey, modelName string, maxTokens int) (*GeminiChatModel, error) {
	if apiKey == "" {
		return nil, provider.MissingCredential("Gemini")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiChatModel{client: client, model: modelName, maxTokens: maxTokens}, nil
}

func (m *GeminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	o := model.GetCommonOptions(&model.Options{Model: &m.model, MaxTokens: &m.maxTokens}, opts...)

	gm := m.client.GenerativeModel(*o.Model)
	if *o.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(*o.MaxTokens))
	}

	var parts []genai.Part
	for _, msg := range input {
		if msg.Role == schema.System {
			gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(msg.Content)}}
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}

	resp, err := gm.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, provider.Malformed("Gemini", "Gemini returned no candidates")
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return schema.AssistantMessage(text.String(), nil), nil
}

func (m *GeminiChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, ErrStreamUnsupported
}

func (m *GeminiChatModel) Close() error {
	return m.client.Close()
}

var (
	_ model.BaseChatModel = (*AnthropicChatModel)(nil)
	_ model.BaseChatModel = (*GeminiChatModel)(nil)
)
