package model

import (
	"errors"
	"strings"
	"time"
)

// Length 故事篇幅
type Length string

const (
	LengthShort  Length = "short"
	LengthMedium Length = "medium"
	LengthLong   Length = "long"
)

// ErrEmptyMythology 神话体系为空
var ErrEmptyMythology = errors.New("mythology is required")

// ErrInvalidLength 篇幅取值非法
var ErrInvalidLength = errors.New("length must be short, medium or long")

// GenerationRequest 用户提交的故事生成参数，提交后不再修改
type GenerationRequest struct {
	Mythology string `json:"mythology"`           // 神话体系
	Character string `json:"character,omitempty"` // 主角名，可选
	Theme     string `json:"theme,omitempty"`     // 主题，可选
	Length    Length `json:"length,omitempty"`    // 篇幅，默认medium
}

// Normalize 去掉首尾空白并补齐默认篇幅
func (r GenerationRequest) Normalize() GenerationRequest {
	r.Mythology = strings.TrimSpace(r.Mythology)
	r.Character = strings.TrimSpace(r.Character)
	r.Theme = strings.TrimSpace(r.Theme)
	if r.Length == "" {
		r.Length = LengthMedium
	}
	return r
}

// Validate 在发起任何网络请求之前校验
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Mythology) == "" {
		return ErrEmptyMythology
	}
	switch r.Length {
	case "", LengthShort, LengthMedium, LengthLong:
		return nil
	default:
		return ErrInvalidLength
	}
}

// StoryArc 故事段落
type StoryArc struct {
	Title   string `json:"title"`   // 段落标题
	Content string `json:"content"` // 段落内容
}

// StoryResult 文本生成结果，保存时存为快照
type StoryResult struct {
	Title       string             `json:"title"`                 // 标题
	Story       string             `json:"story"`                 // 正文
	StoryArcs   []StoryArc         `json:"storyArcs,omitempty"`   // 故事段落
	Error       string             `json:"error,omitempty"`       // 错误信息
	StoryPrompt *GenerationRequest `json:"storyPrompt,omitempty"` // 原始请求
	SavedAt     *time.Time         `json:"savedAt,omitempty"`     // 保存时间
	ImageURL    string             `json:"imageUrl,omitempty"`    // 配图
	Audio       *AudioResult       `json:"audio,omitempty"`       // 旁白音频
	Model       *ModelTask         `json:"model,omitempty"`       // 3D模型
}

// Clone 深拷贝，快照与实时状态互不影响
func (s *StoryResult) Clone() *StoryResult {
	if s == nil {
		return nil
	}
	out := *s
	if s.StoryArcs != nil {
		out.StoryArcs = append([]StoryArc(nil), s.StoryArcs...)
	}
	if s.StoryPrompt != nil {
		p := *s.StoryPrompt
		out.StoryPrompt = &p
	}
	if s.SavedAt != nil {
		t := *s.SavedAt
		out.SavedAt = &t
	}
	if s.Audio != nil {
		a := *s.Audio
		out.Audio = &a
	}
	out.Model = s.Model.Clone()
	return &out
}

// Mythology 返回原始请求中的神话体系
func (s *StoryResult) Mythology() string {
	if s == nil || s.StoryPrompt == nil {
		return ""
	}
	return s.StoryPrompt.Mythology
}

// NarrationText 生成朗读文本：有段落时按"标题. 内容"拼接，否则使用全文
func (s *StoryResult) NarrationText(arcsView bool) string {
	if s == nil {
		return ""
	}
	if arcsView && len(s.StoryArcs) > 0 {
		parts := make([]string, 0, len(s.StoryArcs))
		for _, arc := range s.StoryArcs {
			parts = append(parts, arc.Title+". "+arc.Content)
		}
		return strings.Join(parts, " ")
	}
	return s.Story
}

// ImageResult 单张配图，重新生成即整体替换
type ImageResult struct {
	URL    string `json:"url"`    // 图片地址或data URI
	Prompt string `json:"prompt"` // 实际使用的提示词
}

// AudioResult 合成的旁白音频
type AudioResult struct {
	AudioContent string `json:"audioContent"` // base64编码
	Format       string `json:"format"`       // 目前只有mp3
}

// TaskStatus 异步任务状态
type TaskStatus string

const (
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal 是否已结束
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ModelTask 3D模型生成任务，状态只由轮询推进
type ModelTask struct {
	TaskID       string     `json:"taskId"`                 // 服务商任务ID
	Status       TaskStatus `json:"status"`                 // 当前状态
	ViewerURL    string     `json:"modelUrl,omitempty"`     // 在线预览
	GlbURL       string     `json:"glbUrl,omitempty"`       // 模型下载
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"` // 缩略图
	Error        string     `json:"error,omitempty"`        // 失败原因
}

// Clone 拷贝任务
func (t *ModelTask) Clone() *ModelTask {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
