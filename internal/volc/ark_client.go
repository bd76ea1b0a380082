package volc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"mythweaver/internal/model"
	"mythweaver/internal/provider"
)

const (
	defaultBase  = "https://ark.cn-beijing.volces.com"
	defaultModel = "doubao-seedream-4.0"

	imagesPath   = "/api/v3/images/generations"
	providerName = "Seedream"
)

// ArkClient 火山方舟Seedream文生图
type ArkClient struct {
	http   *resty.Client
	apiKey string
	Model  string
}

// NewArkClient baseURL为空时使用北京区域
func NewArkClient(baseURL, apiKey string, timeout time.Duration) *ArkClient {
	if baseURL == "" {
		baseURL = defaultBase
	}
	return &ArkClient{
		http:   provider.NewHTTPClient(baseURL, timeout),
		apiKey: apiKey,
		Model:  defaultModel,
	}
}

type imagesResponse struct {
	Data []struct {
		URL    string `json:"url"`
		B64    string `json:"b64_json"`
		Format string `json:"format"`
	} `json:"data"`
}

// GenerateImage 实现provider.ImageGenerator，只取第一张
func (c *ArkClient) GenerateImage(ctx context.Context, req provider.ImageRequest) (*model.ImageResult, error) {
	req, err := provider.NormalizeImageRequest(providerName, req, c.apiKey)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"model":  c.Model,
		"prompt": req.Prompt,
		"size":   fmt.Sprintf("%dx%d", req.Width, req.Height),
	}
	logrus.WithFields(logrus.Fields{
		"provider": providerName,
		"model":    c.Model,
		"size":     body["size"],
		"key":      provider.MaskKey(req.APIKey),
	}).Info("请求生成图片")

	var resp imagesResponse
	r := c.http.R().SetAuthToken(req.APIKey).SetBody(body)
	if err := provider.Do(ctx, providerName, r, http.MethodPost, imagesPath, &resp, "Error generating image"); err != nil {
		return nil, err
	}

	for _, d := range resp.Data {
		if d.URL != "" {
			return &model.ImageResult{URL: d.URL, Prompt: req.Prompt}, nil
		}
		if d.B64 != "" {
			format := d.Format
			if format == "" {
				format = "png"
			}
			return &model.ImageResult{URL: "data:image/" + format + ";base64," + d.B64, Prompt: req.Prompt}, nil
		}
	}
	return nil, provider.Malformed(providerName, "no image returned")
}

var _ provider.ImageGenerator = (*ArkClient)(nil)
