package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"mythweaver/internal/collection"
	"mythweaver/internal/document"
	"mythweaver/internal/model"
	"mythweaver/internal/narration"
	"mythweaver/internal/orchestrator"
	"mythweaver/internal/provider"
)

// Handler 会话、收藏和选项接口
type Handler struct {
	sessions *Registry
	saved    *collection.Collection
	upgrader websocket.Upgrader
}

func NewHandler(sessions *Registry, saved *collection.Collection) *Handler {
	return &Handler{
		sessions: sessions,
		saved:    saved,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register 挂载到 /api
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api")
	g.GET("/options", h.Options)

	s := g.Group("/sessions")
	s.POST("", h.CreateSession)
	s.GET("/:id", h.withSession(h.GetSession))
	s.DELETE("/:id", h.DeleteSession)
	s.POST("/:id/story", h.withSession(h.GenerateStory))
	s.POST("/:id/image", h.withSession(h.GenerateImage))
	s.POST("/:id/voice", h.withSession(h.GenerateVoice))
	s.POST("/:id/model", h.withSession(h.GenerateModel))
	s.POST("/:id/narration/:action", h.withSession(h.Narration))
	s.POST("/:id/save", h.withSession(h.Save))
	s.POST("/:id/saved/:index/select", h.withSession(h.SelectSaved))
	s.DELETE("/:id/saved/:index", h.withSession(h.DeleteSavedInSession))
	s.GET("/:id/events", h.withSession(h.Events))

	g.GET("/saved", h.ListSaved)
	g.GET("/saved/:index", h.GetSaved)
	g.DELETE("/saved/:index", h.DeleteSaved)
}

type sessionHandler func(c *gin.Context, o *orchestrator.Orchestrator)

func (h *Handler) withSession(next sessionHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, ok := h.sessions.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		next(c, o)
	}
}

// Options GET /api/options
func (h *Handler) Options(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mythologies": model.Mythologies,
		"themes":      model.Themes,
		"lengths":     model.Lengths,
	})
}

// CreateSession POST /api/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	o := h.sessions.Create()
	c.JSON(http.StatusCreated, o.Snapshot())
}

func (h *Handler) GetSession(c *gin.Context, o *orchestrator.Orchestrator) {
	c.JSON(http.StatusOK, o.Snapshot())
}

// DeleteSession 会话被移除时自动关闭
func (h *Handler) DeleteSession(c *gin.Context) {
	if !h.sessions.Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

type storyBody struct {
	model.GenerationRequest
	APIKey string `json:"apiKey"`
}

func (h *Handler) GenerateStory(c *gin.Context, o *orchestrator.Orchestrator) {
	var body storyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var opts []orchestrator.CallOption
	if body.APIKey != "" {
		opts = append(opts, orchestrator.WithAPIKey(body.APIKey))
	}
	if _, err := o.GenerateStory(c.Request.Context(), body.GenerationRequest, opts...); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

func (h *Handler) GenerateImage(c *gin.Context, o *orchestrator.Orchestrator) {
	var opts orchestrator.ImageOptions
	if !bindOptional(c, &opts) {
		return
	}
	if _, err := o.GenerateImage(c.Request.Context(), opts); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

func (h *Handler) GenerateVoice(c *gin.Context, o *orchestrator.Orchestrator) {
	var opts orchestrator.VoiceOptions
	if !bindOptional(c, &opts) {
		return
	}
	if _, err := o.GenerateVoice(c.Request.Context(), opts); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

// GenerateModel 提交后立即返回202，进度通过状态或事件流获取
func (h *Handler) GenerateModel(c *gin.Context, o *orchestrator.Orchestrator) {
	var opts orchestrator.ModelOptions
	if !bindOptional(c, &opts) {
		return
	}
	task, err := o.GenerateModel(c.Request.Context(), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (h *Handler) Narration(c *gin.Context, o *orchestrator.Orchestrator) {
	var err error
	switch c.Param("action") {
	case "start":
		err = o.StartNarration()
	case "pause":
		err = o.PauseNarration()
	case "resume":
		err = o.ResumeNarration()
	case "stop":
		err = o.StopNarration()
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown narration action"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

func (h *Handler) Save(c *gin.Context, o *orchestrator.Orchestrator) {
	saved, err := o.SaveCurrent(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (h *Handler) SelectSaved(c *gin.Context, o *orchestrator.Orchestrator) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	story, err := o.SelectSaved(c.Request.Context(), i)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *Handler) DeleteSavedInSession(c *gin.Context, o *orchestrator.Orchestrator) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	if err := o.DeleteSaved(c.Request.Context(), i); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

// Events GET /api/sessions/:id/events，每次状态变化推送一份快照
func (h *Handler) Events(c *gin.Context, o *orchestrator.Orchestrator) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket升级失败")
		return
	}
	defer conn.Close()

	states, cancel := o.Subscribe()
	defer cancel()

	// 读循环只用来感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.WithError(err).Debug("WebSocket读取失败")
				}
				return
			}
		}
	}()

	for {
		select {
		case s, ok := <-states:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteJSON(s); err != nil {
				logrus.WithError(err).Debug("WebSocket写入失败")
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *Handler) ListSaved(c *gin.Context) {
	stories, err := h.saved.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stories)
}

// GetSaved ?format=markdown 时返回markdown文本，否则返回快照和文档块
func (h *Handler) GetSaved(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	story, err := h.saved.Get(c.Request.Context(), i)
	if err != nil {
		writeError(c, err)
		return
	}
	doc := document.FromStory(story)
	if c.Query("format") == "markdown" {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(document.Markdown(doc)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"story": story, "document": doc})
}

func (h *Handler) DeleteSaved(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	if err := h.saved.Delete(c.Request.Context(), i); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindOptional 允许空请求体
func bindOptional(c *gin.Context, out any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

func indexParam(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return 0, false
	}
	return i, true
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}
	if kind := provider.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("请求失败")
	}
	c.JSON(status, body)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, collection.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrDisposed):
		return http.StatusGone
	case errors.Is(err, orchestrator.ErrNoNarration), errors.Is(err, orchestrator.ErrNoCollection):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrNoStory),
		errors.Is(err, orchestrator.ErrNoAudio),
		errors.Is(err, orchestrator.ErrStoryInFlight),
		errors.Is(err, orchestrator.ErrFlowBusy),
		errors.Is(err, orchestrator.ErrSuperseded),
		errors.Is(err, narration.ErrNotPlaying),
		errors.Is(err, narration.ErrNotPaused),
		errors.Is(err, narration.ErrNotOwner):
		return http.StatusConflict
	}
	return provider.HTTPStatus(err)
}
