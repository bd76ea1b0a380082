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
	StabilityBaseURL = "https://api.stability.ai"
	PixlrBaseURL     = "https://api.pixlr.com"

	stabilityPath = "/v1/generation/stable-diffusion-xl-1024-v1-0/text-to-image"
	pixlrPath     = "/generator/v1/text2image"

	defaultImageSize = 1024
)

// 200但没有图片
const noImageMessage = "no image returned"

func NormalizeImageRequest(name string, req ImageRequest, fallbackKey string) (ImageRequest, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return req, InvalidInput(name, "Image prompt is required")
	}
	req.APIKey = ResolveKey(req.APIKey, fallbackKey)
	if req.APIKey == "" {
		return req, MissingCredential(name)
	}
	if req.Width <= 0 {
		req.Width = defaultImageSize
	}
	if req.Height <= 0 {
		req.Height = defaultImageSize
	}
	if req.Samples <= 0 {
		req.Samples = 1
	}
	return req, nil
}

// StabilityClient Stability AI 文生图
type StabilityClient struct {
	http   *resty.Client
	apiKey string
}

func NewStabilityClient(baseURL, apiKey string, timeout time.Duration) *StabilityClient {
	if baseURL == "" {
		baseURL = StabilityBaseURL
	}
	return &StabilityClient{http: NewHTTPClient(baseURL, timeout), apiKey: apiKey}
}

func (c *StabilityClient) GenerateImage(ctx context.Context, req ImageRequest) (*model.ImageResult, error) {
	const name = "Stability"
	req, err := NormalizeImageRequest(name, req, c.apiKey)
	if err != nil {
		return nil, err
	}
	prompt := EnhancePrompt(req.Prompt)

	logrus.WithFields(logrus.Fields{
		"provider": name,
		"width":    req.Width,
		"height":   req.Height,
		"key":      MaskKey(req.APIKey),
	}).Info("请求生成图片")

	body := map[string]any{
		"text_prompts": []map[string]any{{"text": prompt, "weight": 1}},
		"cfg_scale":    7,
		"height":       req.Height,
		"width":        req.Width,
		"samples":      req.Samples,
		"steps":        30,
	}
	var resp struct {
		Artifacts []struct {
			Base64       string `json:"base64"`
			FinishReason string `json:"finishReason"`
		} `json:"artifacts"`
	}
	r := c.http.R().SetAuthToken(req.APIKey).SetBody(body)
	if err := Do(ctx, name, r, http.MethodPost, stabilityPath, &resp, "Error generating image"); err != nil {
		return nil, err
	}
	if len(resp.Artifacts) == 0 || resp.Artifacts[0].Base64 == "" {
		return nil, Malformed(name, noImageMessage)
	}
	return &model.ImageResult{
		URL:    "data:image/png;base64," + resp.Artifacts[0].Base64,
		Prompt: prompt,
	}, nil
}

// PixlrClient Pixlr 文生图
type PixlrClient struct {
	http   *resty.Client
	apiKey string
}

func NewPixlrClient(baseURL, apiKey string, timeout time.Duration) *PixlrClient {
	if baseURL == "" {
		baseURL = PixlrBaseURL
	}
	return &PixlrClient{http: NewHTTPClient(baseURL, timeout), apiKey: apiKey}
}

func (c *PixlrClient) GenerateImage(ctx context.Context, req ImageRequest) (*model.ImageResult, error) {
	const name = "Pixlr"
	req, err := NormalizeImageRequest(name, req, c.apiKey)
	if err != nil {
		return nil, err
	}
	prompt := EnhancePrompt(req.Prompt)

	body := map[string]any{
		"prompt":      prompt,
		"width":       req.Width,
		"height":      req.Height,
		"num_outputs": 1,
	}
	var resp struct {
		Results []struct {
			ImageURL string `json:"image_url"`
		} `json:"results"`
	}
	r := c.http.R().SetAuthToken(req.APIKey).SetBody(body)
	if err := Do(ctx, name, r, http.MethodPost, pixlrPath, &resp, "Error generating image"); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 || resp.Results[0].ImageURL == "" {
		return nil, Malformed(name, noImageMessage)
	}
	return &model.ImageResult{URL: resp.Results[0].ImageURL, Prompt: prompt}, nil
}
