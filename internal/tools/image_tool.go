package tools

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"mythweaver/internal/provider"
)

type ImageTool struct {
	gen provider.ImageGenerator
}

func NewImageTool(gen provider.ImageGenerator) *ImageTool {
	return &ImageTool{gen: gen}
}

func (t *ImageTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt": {Type: schema.String, Required: true, Desc: "图片提示词"},
		"width":  {Type: schema.Integer, Required: false, Desc: "宽度，默认1024"},
		"height": {Type: schema.Integer, Required: false, Desc: "高度，默认1024"},
		"apiKey": {Type: schema.String, Required: false, Desc: "覆盖默认凭证"},
	}
	return &schema.ToolInfo{
		Name:        "image_generate",
		Desc:        "为故事生成一张神话风格的插图",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *ImageTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args provider.ImageRequest
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", provider.InvalidInput("image_generate", "Invalid arguments: "+err.Error())
	}
	res, err := t.gen.GenerateImage(ctx, args)
	if err != nil {
		return "", err
	}
	return marshal(res)
}

var _ einotool.InvokableTool = (*ImageTool)(nil)
