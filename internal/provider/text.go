package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"mythweaver/internal/model"
)

const (
	storyPath = "/functions/v1/generate-story"
	voicePath = "/functions/v1/generate-voice"
)

// TextClient 通过中转服务生成故事
type TextClient struct {
	http   *resty.Client
	apiKey string
}

// NewTextClient apiKey为中转服务的默认凭证
func NewTextClient(relayBaseURL, apiKey string, timeout time.Duration) *TextClient {
	return &TextClient{http: NewHTTPClient(relayBaseURL, timeout), apiKey: apiKey}
}

type storyResponse struct {
	Title     string           `json:"title"`
	Story     string           `json:"story"`
	StoryArcs []model.StoryArc `json:"storyArcs"`
}

// GenerateStory 成功时title和story必定非空
func (c *TextClient) GenerateStory(ctx context.Context, req model.GenerationRequest, apiKey string) (*model.StoryResult, error) {
	const name = "Story relay"
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, InvalidRequest(name, err)
	}
	key := ResolveKey(apiKey, c.apiKey)
	if key == "" {
		return nil, MissingCredential(name)
	}

	logrus.WithFields(logrus.Fields{
		"mythology": req.Mythology,
		"theme":     req.Theme,
		"length":    req.Length,
		"key":       MaskKey(key),
	}).Info("请求生成故事")

	var out storyResponse
	r := c.http.R().
		SetHeader("apikey", key).
		SetAuthToken(key).
		SetBody(req)
	if err := Do(ctx, name, r, http.MethodPost, storyPath, &out, "Error generating story"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Title) == "" || strings.TrimSpace(out.Story) == "" {
		return nil, Malformed(name, "Story response is missing title or story")
	}

	prompt := req
	return &model.StoryResult{
		Title:       out.Title,
		Story:       out.Story,
		StoryArcs:   out.StoryArcs,
		StoryPrompt: &prompt,
	}, nil
}

// VoiceClient 通过中转服务合成旁白
type VoiceClient struct {
	http   *resty.Client
	apiKey string
}

// NewVoiceClient apiKey为中转服务的默认凭证
func NewVoiceClient(relayBaseURL, apiKey string, timeout time.Duration) *VoiceClient {
	return &VoiceClient{http: NewHTTPClient(relayBaseURL, timeout), apiKey: apiKey}
}

// GenerateVoice 返回base64编码的mp3
func (c *VoiceClient) GenerateVoice(ctx context.Context, req VoiceRequest) (*model.AudioResult, error) {
	const name = "Voice relay"
	if strings.TrimSpace(req.Text) == "" {
		return nil, InvalidInput(name, "Text content is required")
	}
	key := ResolveKey(req.APIKey, c.apiKey)
	if key == "" {
		return nil, MissingCredential(name)
	}

	var out model.AudioResult
	r := c.http.R().
		SetHeader("apikey", key).
		SetAuthToken(key).
		SetBody(req)
	if err := Do(ctx, name, r, http.MethodPost, voicePath, &out, "Failed to generate audio"); err != nil {
		return nil, err
	}
	if out.AudioContent == "" {
		return nil, Malformed(name, "No audio returned")
	}
	if out.Format == "" {
		out.Format = "mp3"
	}
	return &out, nil
}
