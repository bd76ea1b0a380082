package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"mythweaver/internal/model"
)

const (
	MeshyBaseURL       = "https://api.meshy.ai"
	MasterpieceBaseURL = "https://api.masterpiecex.com"

	meshyPath       = "/v2/text-to-3d"
	masterpiecePath = "/v1/image"
	masterpieceID   = "masterpiece-3d-v1.0"
)

// taskOutput 两家的结果字段名不同，按优先级取第一个非空值
type taskOutput map[string]any

func (o taskOutput) first(keys ...string) string {
	for _, k := range keys {
		if s := stringField(o, k); s != "" {
			return s
		}
	}
	return ""
}

type fieldNames struct {
	viewer    []string
	glb       []string
	thumbnail []string
}

var (
	meshyFields = fieldNames{
		viewer:    []string{"viewer_url"},
		glb:       []string{"glb"},
		thumbnail: []string{"thumbnail"},
	}
	masterpieceFields = fieldNames{
		viewer:    []string{"viewer_url", "html_url"},
		glb:       []string{"glb_url", "download_url"},
		thumbnail: []string{"thumbnail", "image_url"},
	}
)

// taskClient Meshy和MasterpieceX的提交/查询协议一致，只有路径、请求体和字段名不同
type taskClient struct {
	name   string
	http   *resty.Client
	apiKey string
	path   string
	fields fieldNames
	body   func(req ModelRequest) map[string]any
}

func (c *taskClient) SubmitModel(ctx context.Context, req ModelRequest) (*model.ModelTask, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, InvalidInput(c.name, "Character prompt is required")
	}
	key := ResolveKey(req.APIKey, c.apiKey)
	if key == "" {
		return nil, MissingCredential(c.name)
	}
	if req.Style == "" {
		req.Style = defaultStyle
	}
	if req.NegativePrompt == "" {
		req.NegativePrompt = defaultNegativePrompt
	}

	logrus.WithFields(logrus.Fields{
		"provider": c.name,
		"style":    req.Style,
		"key":      MaskKey(key),
	}).Info("提交3D模型任务")

	var resp map[string]any
	r := c.http.R().SetAuthToken(key).SetBody(c.body(req))
	if err := Do(ctx, c.name, r, http.MethodPost, c.path, &resp, "Error generating 3D model"); err != nil {
		return nil, err
	}
	id := stringField(resp, "id")
	if id == "" {
		id = stringField(resp, "result")
	}
	if id == "" {
		return nil, Malformed(c.name, "No task ID was returned from "+c.name+" API")
	}
	return &model.ModelTask{TaskID: id, Status: model.TaskProcessing}, nil
}

// ModelStatus 只读查询，处理中时原样返回任务ID
func (c *taskClient) ModelStatus(ctx context.Context, taskID, apiKey string) (*model.ModelTask, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, InvalidInput(c.name, "Task ID is required")
	}
	key := ResolveKey(apiKey, c.apiKey)
	if key == "" {
		return nil, MissingCredential(c.name)
	}

	var resp map[string]any
	r := c.http.R().SetAuthToken(key)
	if err := Do(ctx, c.name, r, http.MethodGet, c.path+"/"+url.PathEscape(taskID), &resp, "Error checking 3D model status"); err != nil {
		return nil, err
	}

	status := strings.ToLower(stringField(resp, "status"))
	switch status {
	case "completed", "succeeded":
		out := taskOutput(resp)
		if nested, ok := resp["output"].(map[string]any); ok {
			out = nested
		}
		task := &model.ModelTask{
			TaskID:       taskID,
			Status:       model.TaskCompleted,
			ViewerURL:    out.first(c.fields.viewer...),
			GlbURL:       out.first(c.fields.glb...),
			ThumbnailURL: out.first(c.fields.thumbnail...),
		}
		if task.ViewerURL == "" && task.GlbURL == "" {
			return nil, Malformed(c.name, "No model returned")
		}
		return task, nil
	case "failed":
		return nil, TaskFailed(c.name, "Model generation failed: "+failureReason(resp))
	case "expired", "canceled", "cancelled":
		return nil, TaskFailed(c.name, "Model generation "+status)
	default:
		return &model.ModelTask{TaskID: taskID, Status: model.TaskProcessing}, nil
	}
}

func failureReason(resp map[string]any) string {
	switch v := resp["error"].(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return v
		}
	case map[string]any:
		if s := stringField(v, "message"); s != "" {
			return s
		}
	}
	if te, ok := resp["task_error"].(map[string]any); ok {
		if s := stringField(te, "message"); s != "" {
			return s
		}
	}
	return "Model generation failed without specific error"
}

// MeshyClient Meshy text-to-3d
type MeshyClient struct {
	taskClient
}

func NewMeshyClient(baseURL, apiKey string, timeout time.Duration) *MeshyClient {
	if baseURL == "" {
		baseURL = MeshyBaseURL
	}
	return &MeshyClient{taskClient{
		name:   "Meshy",
		http:   NewHTTPClient(baseURL, timeout),
		apiKey: apiKey,
		path:   meshyPath,
		fields: meshyFields,
		body: func(req ModelRequest) map[string]any {
			return map[string]any{
				"prompt":          req.Prompt,
				"style":           req.Style,
				"negative_prompt": req.NegativePrompt,
			}
		},
	}}
}

// MasterpieceXClient MasterpieceX 3D生成
type MasterpieceXClient struct {
	taskClient
}

func NewMasterpieceXClient(baseURL, apiKey string, timeout time.Duration) *MasterpieceXClient {
	if baseURL == "" {
		baseURL = MasterpieceBaseURL
	}
	return &MasterpieceXClient{taskClient{
		name:   "MasterpieceX",
		http:   NewHTTPClient(baseURL, timeout),
		apiKey: apiKey,
		path:   masterpiecePath,
		fields: masterpieceFields,
		body: func(req ModelRequest) map[string]any {
			return map[string]any{
				"prompt":          req.Prompt,
				"negative_prompt": req.NegativePrompt,
				"model":           masterpieceID,
			}
		},
	}}
}
