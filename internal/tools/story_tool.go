package tools

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"mythweaver/internal/model"
	"mythweaver/internal/provider"
)

// StoryTool 实现eino框架的故事生成工具
type StoryTool struct {
	gen provider.StoryGenerator
}

// StoryToolArgs 故事生成请求参数
type StoryToolArgs struct {
	model.GenerationRequest
	APIKey string `json:"apiKey"` // 可选，覆盖默认凭证
}

func NewStoryTool(gen provider.StoryGenerator) *StoryTool {
	return &StoryTool{gen: gen}
}

// Info 获取故事生成工具信息
func (t *StoryTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"mythology": {Type: schema.String, Required: true, Desc: "神话体系，如Greek、Norse"},
		"character": {Type: schema.String, Required: false, Desc: "主角名"},
		"theme":     {Type: schema.String, Required: false, Desc: "故事主题"},
		"length": {
			Type: schema.String, Required: false, Desc: "篇幅",
			Enum: []string{string(model.LengthShort), string(model.LengthMedium), string(model.LengthLong)},
		},
	}
	return &schema.ToolInfo{
		Name:        "story_generate",
		Desc:        "根据神话体系、主角和主题创作一个分成3-5段的神话故事",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun 执行故事生成任务，返回StoryResult的JSON
func (t *StoryTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args StoryToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", provider.InvalidInput("story_generate", "Invalid arguments: "+err.Error())
	}

	story, err := t.gen.GenerateStory(ctx, args.GenerationRequest, args.APIKey)
	if err != nil {
		return "", err
	}
	return marshal(story)
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*StoryTool)(nil)
