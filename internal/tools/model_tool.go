package tools

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"mythweaver/internal/model"
	"mythweaver/internal/poller"
	"mythweaver/internal/provider"
)

// ModelTool 提交3D模型任务并轮询到结束
type ModelTool struct {
	gen    provider.ModelGenerator
	poller *poller.Poller
}

func NewModelTool(gen provider.ModelGenerator, p *poller.Poller) *ModelTool {
	return &ModelTool{gen: gen, poller: p}
}

// Info 获取3D模型生成工具信息
func (t *ModelTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt":          {Type: schema.String, Required: true, Desc: "角色或场景描述"},
		"style":           {Type: schema.String, Required: false, Desc: "风格，默认realistic"},
		"negative_prompt": {Type: schema.String, Required: false, Desc: "不希望出现的内容"},
		"apiKey":          {Type: schema.String, Required: false, Desc: "覆盖默认凭证"},
	}
	return &schema.ToolInfo{
		Name:        "model_generate",
		Desc:        "生成故事角色的3D模型，完成后返回预览和GLB下载地址",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun 阻塞直到任务完成、失败或超时
func (t *ModelTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args provider.ModelRequest
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", provider.InvalidInput("model_generate", "Invalid arguments: "+err.Error())
	}

	task, err := t.gen.SubmitModel(ctx, args)
	if err != nil {
		return "", err
	}

	// 轮询获取模型生成结果
	final, err := t.poller.Run(ctx, task.TaskID, func(ctx context.Context) (*model.ModelTask, error) {
		return t.gen.ModelStatus(ctx, task.TaskID, args.APIKey)
	})
	if err != nil {
		return "", err
	}
	return marshal(final)
}

var _ einotool.InvokableTool = (*ModelTool)(nil)
