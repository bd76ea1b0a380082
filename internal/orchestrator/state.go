package orchestrator

import (
	"errors"

	"mythweaver/internal/model"
	"mythweaver/internal/narration"
)

var (
	ErrNoStory       = errors.New("generate a story first")
	ErrStoryInFlight = errors.New("a story is already being generated")
	ErrFlowBusy      = errors.New("this step is already running")
	ErrDisposed      = errors.New("session has been closed")
	ErrNoAudio       = errors.New("generate narration audio first")
	ErrSuperseded    = errors.New("story was replaced while this step was running")
	ErrNoNarration   = errors.New("narration playback is not available")
	ErrNoCollection  = errors.New("saved stories are not available")
)

// StoryStage 故事生成阶段
type StoryStage string

const (
	StoryIdle       StoryStage = "idle"
	StoryGenerating StoryStage = "generating"
	StoryReady      StoryStage = "ready"
	StoryFailed     StoryStage = "failed"
)

// FlowStage 子流程（配图/旁白/3D模型）阶段
type FlowStage string

const (
	FlowIdle    FlowStage = "idle"
	FlowRunning FlowStage = "running"
	FlowReady   FlowStage = "ready"
	FlowFailed  FlowStage = "failed"
)

// Flow 子流程状态，各自独立
type Flow struct {
	Stage  FlowStage `json:"stage"`
	Error  string    `json:"error,omitempty"`
	Prompt string    `json:"prompt,omitempty"` // 实际使用的提示词
}

// State 会话状态快照
type State struct {
	SessionID string                   `json:"sessionId"`
	Cycle     uint64                   `json:"cycle"`             // 已落定的故事轮次
	Stage     StoryStage               `json:"stage"`             // 故事阶段
	Request   *model.GenerationRequest `json:"request,omitempty"` // 最近一次提交的请求
	Story     *model.StoryResult       `json:"story,omitempty"`   // 当前故事，含配图/音频/模型
	Error     string                   `json:"error,omitempty"`   // 故事生成失败原因
	Image     Flow                     `json:"image"`
	Voice     Flow                     `json:"voice"`
	Model     Flow                     `json:"model"`
	Task      *model.ModelTask         `json:"task,omitempty"` // 轮询中的3D任务，结束后清空
	Narration narration.State          `json:"narration"`
	Selected  int                      `json:"selected"` // 正在查看的收藏下标，-1为无
	Disposed  bool                     `json:"disposed,omitempty"`
}

func (s State) clone() State {
	out := s
	if s.Request != nil {
		r := *s.Request
		out.Request = &r
	}
	out.Story = s.Story.Clone()
	out.Task = s.Task.Clone()
	return out
}

// StoryOptions 故事生成的单次调用参数
type StoryOptions struct {
	APIKey string
}

// CallOption 覆盖单次调用参数
type CallOption func(*StoryOptions)

// WithAPIKey 使用调用方自己的凭证
func WithAPIKey(key string) CallOption {
	return func(o *StoryOptions) { o.APIKey = key }
}

// ImageOptions Prompt为空时根据故事生成
type ImageOptions struct {
	Prompt string `json:"prompt"`
	APIKey string `json:"apiKey"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// VoiceOptions ArcsView为true且有段落时按段落朗读
type VoiceOptions struct {
	VoiceID  string `json:"voiceId"`
	ModelID  string `json:"modelId"`
	ArcsView bool   `json:"arcs"`
	APIKey   string `json:"apiKey"`
}

// ModelOptions Prompt为空时根据主角或标题生成
type ModelOptions struct {
	Prompt string `json:"prompt"`
	APIKey string `json:"apiKey"`
}
