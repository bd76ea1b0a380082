package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	mw "mythweaver/internal/model"
)

const (
	untitledStory = "Untitled Story"
	fallbackTitle = "Mythological Tale"
)

const storyInstruction = `You are a master storyteller steeped in the world's mythologies.
Respond with a single JSON object of the form {{"title": "...", "story": "...", "storyArcs": [{{"title": "...", "content": "..."}}]}}.
Split the story into 3-5 arcs. "story" holds the complete text. Do not wrap the JSON in markdown.`

const storyRequest = "Create a {length} mythological story from {mythology} mythology{character_clause}{theme_clause}."

// StoryWriter 模板 -> 模型 组成的故事生成图，只编译一次
type StoryWriter struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

// NewStoryWriter 编译故事生成图
func NewStoryWriter(ctx context.Context, cm model.BaseChatModel) (*StoryWriter, error) {
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(storyInstruction),
		&schema.Message{
			Role:    schema.User,
			Content: storyRequest,
		})

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("template", tpl); err != nil {
		return nil, fmt.Errorf("failed to add template node: %w", err)
	}
	if err := graph.AddChatModelNode("model", cm); err != nil {
		return nil, fmt.Errorf("failed to add model node: %w", err)
	}
	_ = graph.AddEdge(compose.START, "template")
	_ = graph.AddEdge("template", "model")
	_ = graph.AddEdge("model", compose.END)

	runner, err := graph.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph: %w", err)
	}
	return &StoryWriter{runner: runner}, nil
}

// PromptVariables 模板变量，主角和主题为空时对应子句为空
func PromptVariables(req mw.GenerationRequest) map[string]any {
	req = req.Normalize()
	vars := map[string]any{
		"length":           string(req.Length),
		"mythology":        req.Mythology,
		"character_clause": "",
		"theme_clause":     "",
	}
	if req.Character != "" {
		vars["character_clause"] = " featuring " + req.Character
	}
	if req.Theme != "" {
		vars["theme_clause"] = " with a theme of " + req.Theme
	}
	return vars
}

// Write 生成故事，模型输出不规范时按ExtractStory降级
func (w *StoryWriter) Write(ctx context.Context, req mw.GenerationRequest) (mw.StoryResult, error) {
	msg, err := w.runner.Invoke(ctx, PromptVariables(req))
	if err != nil {
		return mw.StoryResult{}, err
	}
	return ExtractStory(msg.Content), nil
}

type storyPayload struct {
	Title     *string       `json:"title"`
	Story     *string       `json:"story"`
	StoryArcs []mw.StoryArc `json:"storyArcs"`
}

// ExtractStory 取第一个'{'到最后一个'}'之间的JSON
func ExtractStory(raw string) mw.StoryResult {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return mw.StoryResult{Title: fallbackTitle, Story: raw, StoryArcs: []mw.StoryArc{}}
	}

	var p storyPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &p); err != nil {
		logrus.WithError(err).Warn("模型返回的JSON无法解析，使用原文")
		return mw.StoryResult{Title: fallbackTitle, Story: raw, StoryArcs: []mw.StoryArc{}}
	}

	out := mw.StoryResult{Title: untitledStory, Story: raw, StoryArcs: p.StoryArcs}
	if p.Title != nil && strings.TrimSpace(*p.Title) != "" {
		out.Title = *p.Title
	}
	if p.Story != nil && strings.TrimSpace(*p.Story) != "" {
		out.Story = *p.Story
	}
	if out.StoryArcs == nil {
		out.StoryArcs = []mw.StoryArc{}
	}
	return out
}
