package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"mythweaver/internal/model"
)

// StoryGenerator 文本生成
type StoryGenerator interface {
	GenerateStory(ctx context.Context, req model.GenerationRequest, apiKey string) (*model.StoryResult, error)
}

// ImageGenerator 图片生成
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*model.ImageResult, error)
}

// VoiceGenerator 语音合成
type VoiceGenerator interface {
	GenerateVoice(ctx context.Context, req VoiceRequest) (*model.AudioResult, error)
}

// ModelGenerator 异步3D模型生成，提交后需轮询状态
type ModelGenerator interface {
	SubmitModel(ctx context.Context, req ModelRequest) (*model.ModelTask, error)
	ModelStatus(ctx context.Context, taskID, apiKey string) (*model.ModelTask, error)
}

// ImageRequest 图片生成参数
type ImageRequest struct {
	Prompt  string `json:"prompt"`
	APIKey  string `json:"apiKey,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Samples int    `json:"samples,omitempty"`
}

// ModelRequest 3D模型提交参数
type ModelRequest struct {
	Prompt         string `json:"prompt"`
	APIKey         string `json:"apiKey,omitempty"`
	Style          string `json:"style,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

// VoiceRequest 语音合成参数
type VoiceRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
	ModelID string `json:"modelId,omitempty"`
	APIKey  string `json:"-"`
}

const (
	defaultStyle          = "realistic"
	defaultNegativePrompt = "blurry, distorted, low quality"
	shortPromptRunes      = 15
	promptEnhancement     = ", detailed illustration, epic scene, dramatic lighting, mythological style"
)

// NewHTTPClient 所有服务商共用的出站请求入口
func NewHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "mythweaver/1.0")
}

// ResolveKey 调用方传入的凭证优先
func ResolveKey(override, fallback string) string {
	if k := strings.TrimSpace(override); k != "" {
		return k
	}
	return strings.TrimSpace(fallback)
}

// MaskKey 日志里只保留凭证前5位
func MaskKey(key string) string {
	if len(key) <= 5 {
		return "***"
	}
	return key[:5] + "..."
}

// EnhancePrompt 过短的提示词补充画面描述
func EnhancePrompt(prompt string) string {
	if utf8.RuneCountInString(prompt) < shortPromptRunes {
		return prompt + promptEnhancement
	}
	return prompt
}

// Do 发送请求并把结果解析到out，错误统一转换为*Error
func Do(ctx context.Context, provider string, req *resty.Request, method, path string, out any, fallback string) error {
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return NetworkFailure(provider, err)
	}

	entry := logrus.WithFields(logrus.Fields{
		"provider": provider,
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode(),
		"elapsed":  resp.Time(),
	})
	if resp.IsError() {
		entry.Warn("服务商返回错误")
		return Rejected(provider, resp.StatusCode(), resp.Body(), fallback)
	}
	entry.Debug("服务商请求完成")

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &Error{
			Kind:       KindMalformedResponse,
			Provider:   provider,
			StatusCode: resp.StatusCode(),
			Message:    provider + " returned an unreadable response",
			Err:        err,
		}
	}
	return nil
}
