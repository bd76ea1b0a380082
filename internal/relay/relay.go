package relay

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mythweaver/internal/model"
	"mythweaver/internal/provider"
)

// Options 中转服务的访问控制
type Options struct {
	AnonKey   string
	RateLimit float64
	Burst     int
}

// Relay 故事和旁白的中转服务，服务商凭证只保存在服务端
type Relay struct {
	writer *StoryWriter
	synth  Synthesizer
}

func New(writer *StoryWriter, synth Synthesizer) *Relay {
	return &Relay{writer: writer, synth: synth}
}

// Register 挂载到 /functions/v1
func (r *Relay) Register(engine gin.IRouter, opts Options) {
	g := engine.Group("/functions/v1",
		CORS(),
		RequestID(),
		AnonKey(opts.AnonKey),
		RateLimit(opts.RateLimit, opts.Burst),
	)
	preflight := func(c *gin.Context) {}
	g.OPTIONS("/generate-story", preflight)
	g.OPTIONS("/generate-voice", preflight)
	g.POST("/generate-story", r.GenerateStory)
	g.POST("/generate-voice", r.GenerateVoice)
}

type storyReply struct {
	Title     string           `json:"title"`
	Story     string           `json:"story"`
	StoryArcs []model.StoryArc `json:"storyArcs"`
}

// GenerateStory POST /functions/v1/generate-story
func (r *Relay) GenerateStory(c *gin.Context) {
	log := requestLogger(c)

	var req model.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "title": "", "story": ""})
		return
	}
	req = req.Normalize()
	if req.Mythology == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Mythology is required", "title": "", "story": ""})
		return
	}
	if !model.KnownMythology(req.Mythology) {
		log.WithField("mythology", req.Mythology).Info("非预置神话体系")
	}

	story, err := r.writer.Write(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if rateLimited(err) {
			status = http.StatusTooManyRequests
		}
		log.WithError(err).Error("故事生成失败")
		c.JSON(status, gin.H{"error": err.Error(), "title": "", "story": ""})
		return
	}

	log.WithFields(logrus.Fields{"title": story.Title, "arcs": len(story.StoryArcs)}).Info("故事生成完成")
	c.JSON(http.StatusOK, storyReply{Title: story.Title, Story: story.Story, StoryArcs: story.StoryArcs})
}

type voiceBody struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
	ModelID string `json:"modelId"`
}

// GenerateVoice POST /functions/v1/generate-voice
func (r *Relay) GenerateVoice(c *gin.Context) {
	log := requestLogger(c)

	var body voiceBody
	_ = c.ShouldBindJSON(&body)
	if strings.TrimSpace(body.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Text content is required"})
		return
	}
	if body.VoiceID == "" {
		body.VoiceID = DefaultVoiceID
	}
	if body.ModelID == "" {
		body.ModelID = DefaultVoiceModel
	}

	audio, err := r.synth.Synthesize(c.Request.Context(), body.Text, body.VoiceID, body.ModelID)
	if err != nil {
		log.WithError(err).Error("语音合成失败")
		status, details := http.StatusInternalServerError, err.Error()
		var se *SynthesisError
		if errors.As(err, &se) {
			status, details = se.Status, se.Details
		}
		c.JSON(status, gin.H{"error": "Failed to generate audio", "details": details})
		return
	}

	c.JSON(http.StatusOK, model.AudioResult{
		AudioContent: base64.StdEncoding.EncodeToString(audio),
		Format:       "mp3",
	})
}

// rateLimited 上游限流：429或者错误信息里带配额字样
func rateLimited(err error) bool {
	if provider.IsQuotaExceeded(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "resource_exhausted")
}
