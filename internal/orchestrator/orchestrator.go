package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mythweaver/internal/collection"
	"mythweaver/internal/model"
	"mythweaver/internal/narration"
	"mythweaver/internal/poller"
	"mythweaver/internal/provider"
)

// Deps 编排器依赖，Player和Saved可以为空
type Deps struct {
	Story  provider.StoryGenerator
	Image  provider.ImageGenerator
	Voice  provider.VoiceGenerator
	Model  provider.ModelGenerator
	Poller *poller.Poller
	Player *narration.Player
	Saved  *collection.Collection
}

// Settings 子流程默认参数
type Settings struct {
	VoiceID     string
	VoiceModel  string
	ImageWidth  int
	ImageHeight int
}

const subscriberBuffer = 16

// Orchestrator 一个会话的生成流程：故事 -> 配图/旁白/3D模型
type Orchestrator struct {
	id       string
	deps     Deps
	settings Settings
	log      *logrus.Entry

	// 根context，Dispose时取消，所有外部调用和轮询都挂在它下面
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	pollCancel context.CancelFunc
	pollDone   chan struct{}
	narration  narration.Token
	subs       map[int]chan State
	nextSub    int
}

func New(deps Deps, settings Settings) *Orchestrator {
	if deps.Poller == nil {
		deps.Poller = poller.New(10*time.Second, 60)
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		id:       id,
		deps:     deps,
		settings: settings,
		log:      logrus.WithField("session_id", id),
		ctx:      ctx,
		cancel:   cancel,
		state: State{
			SessionID: id,
			Stage:     StoryIdle,
			Image:     Flow{Stage: FlowIdle},
			Voice:     Flow{Stage: FlowIdle},
			Model:     Flow{Stage: FlowIdle},
			Narration: narration.StateIdle,
			Selected:  -1,
		},
		subs: make(map[int]chan State),
	}
}

// ID 会话ID
func (o *Orchestrator) ID() string {
	return o.id
}

// ==================== 故事 ====================

// GenerateStory 同一时间只允许一个故事请求；结果返回后清空上一轮的配图/旁白/模型
func (o *Orchestrator) GenerateStory(ctx context.Context, req model.GenerationRequest, opts ...CallOption) (*model.StoryResult, error) {
	var call StoryOptions
	for _, opt := range opts {
		opt(&call)
	}
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, provider.InvalidRequest("Story", err)
	}
	if !model.KnownMythology(req.Mythology) {
		o.log.WithField("mythology", req.Mythology).Info("使用了列表之外的神话体系")
	}

	o.mu.Lock()
	if o.state.Disposed {
		o.mu.Unlock()
		return nil, ErrDisposed
	}
	if o.state.Stage == StoryGenerating {
		o.mu.Unlock()
		return nil, ErrStoryInFlight
	}
	cycle := o.state.Cycle + 1
	o.state.Stage = StoryGenerating
	o.state.Error = ""
	o.state.Request = &req
	o.publishLocked()
	o.mu.Unlock()

	o.log.WithFields(logrus.Fields{
		"stage":     StoryGenerating,
		"cycle":     cycle,
		"mythology": req.Mythology,
	}).Info("开始生成故事")

	cctx, done := o.callContext(ctx)
	story, err := o.deps.Story.GenerateStory(cctx, req, call.APIKey)
	done()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Disposed {
		return nil, ErrDisposed
	}

	// 新故事落定后上一轮的子流程结果才作废，无论成败都不和上一轮混用
	o.state.Cycle = cycle
	o.resetFlowsLocked()
	if err != nil {
		o.state.Story = nil
		o.state.Stage = StoryFailed
		o.state.Error = err.Error()
		o.log.WithError(err).WithField("stage", StoryFailed).Warn("故事生成失败")
		o.publishLocked()
		return nil, err
	}
	o.state.Story = story.Clone()
	o.state.Stage = StoryReady
	o.log.WithFields(logrus.Fields{
		"stage": StoryReady,
		"title": story.Title,
		"arcs":  len(story.StoryArcs),
	}).Info("故事生成完成")
	o.publishLocked()
	return story.Clone(), nil
}

// resetFlowsLocked 取消轮询、停止朗读、子流程回到idle
func (o *Orchestrator) resetFlowsLocked() {
	if o.pollCancel != nil {
		o.pollCancel()
		o.pollCancel = nil
	}
	o.stopNarrationLocked()
	o.state.Image = Flow{Stage: FlowIdle}
	o.state.Voice = Flow{Stage: FlowIdle}
	o.state.Model = Flow{Stage: FlowIdle}
	o.state.Task = nil
}

// ==================== 子流程 ====================

// beginFlowLocked 检查故事已就绪且该子流程空闲
func (o *Orchestrator) beginFlowLocked(flow *Flow) error {
	if o.state.Disposed {
		return ErrDisposed
	}
	if o.state.Stage != StoryReady || o.state.Story == nil {
		return ErrNoStory
	}
	if flow.Stage == FlowRunning {
		return ErrFlowBusy
	}
	return nil
}

// endFlowLocked 丢弃Dispose之后或者上一轮故事的结果
func (o *Orchestrator) endFlowLocked(cycle uint64) error {
	if o.state.Disposed {
		return ErrDisposed
	}
	if cycle != o.state.Cycle {
		return ErrSuperseded
	}
	return nil
}

// GenerateImage 为当前故事生成配图，成功后替换旧图
func (o *Orchestrator) GenerateImage(ctx context.Context, opts ImageOptions) (*model.ImageResult, error) {
	o.mu.Lock()
	if err := o.beginFlowLocked(&o.state.Image); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	prompt := strings.TrimSpace(opts.Prompt)
	if prompt == "" {
		prompt = DefaultImagePrompt(o.state.Story)
	}
	if opts.Width <= 0 {
		opts.Width = o.settings.ImageWidth
	}
	if opts.Height <= 0 {
		opts.Height = o.settings.ImageHeight
	}
	cycle := o.state.Cycle
	o.state.Image = Flow{Stage: FlowRunning, Prompt: prompt}
	o.publishLocked()
	o.mu.Unlock()

	cctx, done := o.callContext(ctx)
	img, err := o.deps.Image.GenerateImage(cctx, provider.ImageRequest{
		Prompt: prompt,
		APIKey: opts.APIKey,
		Width:  opts.Width,
		Height: opts.Height,
	})
	done()

	o.mu.Lock()
	defer o.mu.Unlock()
	if serr := o.endFlowLocked(cycle); serr != nil {
		return nil, serr
	}
	if err != nil {
		o.state.Image = Flow{Stage: FlowFailed, Error: err.Error(), Prompt: prompt}
		o.log.WithError(err).WithField("stage", "image").Warn("配图生成失败")
		o.publishLocked()
		return nil, err
	}
	o.state.Story.ImageURL = img.URL
	o.state.Image = Flow{Stage: FlowReady, Prompt: prompt}
	o.log.WithField("stage", "image").Info("配图生成完成")
	o.publishLocked()
	out := *img
	return &out, nil
}

// GenerateVoice 合成旁白；新音频会停掉正在播放的旧音频
func (o *Orchestrator) GenerateVoice(ctx context.Context, opts VoiceOptions) (*model.AudioResult, error) {
	o.mu.Lock()
	if err := o.beginFlowLocked(&o.state.Voice); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	text := o.state.Story.NarrationText(opts.ArcsView)
	if opts.VoiceID == "" {
		opts.VoiceID = o.settings.VoiceID
	}
	if opts.ModelID == "" {
		opts.ModelID = o.settings.VoiceModel
	}
	cycle := o.state.Cycle
	o.state.Voice = Flow{Stage: FlowRunning}
	o.publishLocked()
	o.mu.Unlock()

	cctx, done := o.callContext(ctx)
	audio, err := o.deps.Voice.GenerateVoice(cctx, provider.VoiceRequest{
		Text:    text,
		VoiceID: opts.VoiceID,
		ModelID: opts.ModelID,
		APIKey:  opts.APIKey,
	})
	done()

	o.mu.Lock()
	defer o.mu.Unlock()
	if serr := o.endFlowLocked(cycle); serr != nil {
		return nil, serr
	}
	if err != nil {
		o.state.Voice = Flow{Stage: FlowFailed, Error: err.Error()}
		o.log.WithError(err).WithField("stage", "voice").Warn("旁白合成失败")
		o.publishLocked()
		return nil, err
	}
	o.stopNarrationLocked()
	a := *audio
	o.state.Story.Audio = &a
	o.state.Voice = Flow{Stage: FlowReady}
	o.log.WithField("stage", "voice").Info("旁白合成完成")
	o.publishLocked()
	out := *audio
	return &out, nil
}

// GenerateModel 提交3D任务后立即返回，后台轮询直到完成、失败或会话关闭
func (o *Orchestrator) GenerateModel(ctx context.Context, opts ModelOptions) (*model.ModelTask, error) {
	o.mu.Lock()
	if err := o.beginFlowLocked(&o.state.Model); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	prompt := strings.TrimSpace(opts.Prompt)
	if prompt == "" {
		prompt = DefaultModelPrompt(o.state.Story)
	}
	cycle := o.state.Cycle
	o.state.Model = Flow{Stage: FlowRunning, Prompt: prompt}
	o.publishLocked()
	o.mu.Unlock()

	cctx, done := o.callContext(ctx)
	task, err := o.deps.Model.SubmitModel(cctx, provider.ModelRequest{Prompt: prompt, APIKey: opts.APIKey})
	done()

	o.mu.Lock()
	defer o.mu.Unlock()
	if serr := o.endFlowLocked(cycle); serr != nil {
		return nil, serr
	}
	if err != nil {
		o.state.Model = Flow{Stage: FlowFailed, Error: err.Error(), Prompt: prompt}
		o.log.WithError(err).WithField("stage", "model").Warn("3D任务提交失败")
		o.publishLocked()
		return nil, err
	}

	o.state.Task = task.Clone()
	pctx, pcancel := context.WithCancel(o.ctx)
	pdone := make(chan struct{})
	o.pollCancel = pcancel
	o.pollDone = pdone
	o.log.WithFields(logrus.Fields{
		"stage":   "model",
		"task_id": task.TaskID,
	}).Info("3D任务已提交，开始轮询")
	o.publishLocked()

	taskID, apiKey := task.TaskID, opts.APIKey
	go func() {
		defer close(pdone)
		defer pcancel()
		final, perr := o.deps.Poller.Run(pctx, taskID, func(ctx context.Context) (*model.ModelTask, error) {
			return o.deps.Model.ModelStatus(ctx, taskID, apiKey)
		})
		o.finishModel(pctx, cycle, prompt, final, perr)
	}()

	return task.Clone(), nil
}

func (o *Orchestrator) finishModel(pctx context.Context, cycle uint64, prompt string, final *model.ModelTask, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	// 被取消的轮询不再更新任何状态
	if pctx.Err() != nil || o.endFlowLocked(cycle) != nil {
		return
	}
	o.pollCancel = nil
	o.state.Task = nil
	log := o.log.WithField("stage", "model")
	if err != nil {
		o.state.Model = Flow{Stage: FlowFailed, Error: err.Error(), Prompt: prompt}
		log.WithError(err).Warn("3D模型生成失败")
		o.publishLocked()
		return
	}
	o.state.Story.Model = final.Clone()
	o.state.Model = Flow{Stage: FlowReady, Prompt: prompt}
	log.WithField("task_id", final.TaskID).Info("3D模型生成完成")
	o.publishLocked()
}

// WaitModel 等待当前的轮询结束
func (o *Orchestrator) WaitModel(ctx context.Context) error {
	o.mu.Lock()
	done := o.pollDone
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ==================== 朗读 ====================

// StartNarration 播放当前故事的旁白，会先停掉进程内正在播放的其他旁白
func (o *Orchestrator) StartNarration() error {
	o.mu.Lock()
	if o.state.Disposed {
		o.mu.Unlock()
		return ErrDisposed
	}
	if o.deps.Player == nil {
		o.mu.Unlock()
		return ErrNoNarration
	}
	if o.state.Story == nil || o.state.Story.Audio == nil {
		o.mu.Unlock()
		return ErrNoAudio
	}
	audio := *o.state.Story.Audio
	o.mu.Unlock()

	// 被抢占或自然结束时推送一次状态
	tok, err := o.deps.Player.Start(&audio, o.publish)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Disposed {
		_ = o.deps.Player.Stop(tok)
		return ErrDisposed
	}
	o.narration = tok
	o.publishLocked()
	return nil
}

func (o *Orchestrator) PauseNarration() error {
	return o.narrationControl(func(p *narration.Player, tok narration.Token) error { return p.Pause(tok) })
}

func (o *Orchestrator) ResumeNarration() error {
	return o.narrationControl(func(p *narration.Player, tok narration.Token) error { return p.Resume(tok) })
}

// StopNarration 没有在播放时直接返回
func (o *Orchestrator) StopNarration() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deps.Player == nil {
		return ErrNoNarration
	}
	o.stopNarrationLocked()
	o.publishLocked()
	return nil
}

func (o *Orchestrator) narrationControl(fn func(*narration.Player, narration.Token) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Disposed {
		return ErrDisposed
	}
	if o.deps.Player == nil {
		return ErrNoNarration
	}
	if err := fn(o.deps.Player, o.narration); err != nil {
		return err
	}
	o.publishLocked()
	return nil
}

func (o *Orchestrator) stopNarrationLocked() {
	if o.deps.Player == nil || o.narration == 0 {
		return
	}
	if o.deps.Player.StateOf(o.narration) != narration.StateIdle {
		if err := o.deps.Player.Stop(o.narration); err != nil {
			o.log.WithError(err).Warn("停止朗读失败")
		}
	}
	o.narration = 0
}

// ==================== 收藏 ====================

// SaveCurrent 保存当前故事的快照，不改变生成状态
func (o *Orchestrator) SaveCurrent(ctx context.Context) (*model.StoryResult, error) {
	if o.deps.Saved == nil {
		return nil, ErrNoCollection
	}
	o.mu.Lock()
	if o.state.Disposed {
		o.mu.Unlock()
		return nil, ErrDisposed
	}
	if o.state.Story == nil {
		o.mu.Unlock()
		return nil, ErrNoStory
	}
	snapshot := o.state.Story.Clone()
	o.mu.Unlock()

	return o.deps.Saved.Save(ctx, snapshot)
}

// SelectSaved 查看某条收藏
func (o *Orchestrator) SelectSaved(ctx context.Context, i int) (*model.StoryResult, error) {
	if o.deps.Saved == nil {
		return nil, ErrNoCollection
	}
	story, err := o.deps.Saved.Get(ctx, i)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.state.Selected = i
	o.publishLocked()
	o.mu.Unlock()
	return story, nil
}

// DeleteSaved 删除收藏，正在查看的条目被删时清空选中
func (o *Orchestrator) DeleteSaved(ctx context.Context, i int) error {
	if o.deps.Saved == nil {
		return ErrNoCollection
	}
	if err := o.deps.Saved.Delete(ctx, i); err != nil {
		return err
	}
	o.mu.Lock()
	o.state.Selected = collection.AfterDelete(o.state.Selected, i)
	o.publishLocked()
	o.mu.Unlock()
	return nil
}

// ==================== 快照与订阅 ====================

// Snapshot 当前状态的深拷贝
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() State {
	s := o.state.clone()
	s.Narration = narration.StateIdle
	if o.deps.Player != nil {
		s.Narration = o.deps.Player.StateOf(o.narration)
	}
	return s
}

// Subscribe 每次状态变化推送一份快照；消费太慢时丢弃
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan State, subscriberBuffer)
	if o.state.Disposed {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	ch <- o.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if c, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(c)
			}
		})
	}
}

func (o *Orchestrator) publish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.publishLocked()
}

func (o *Orchestrator) publishLocked() {
	if len(o.subs) == 0 {
		return
	}
	s := o.snapshotLocked()
	for _, ch := range o.subs {
		select {
		case ch <- s.clone():
		default:
		}
	}
}

// Dispose 关闭会话：取消进行中的调用和轮询，之后的结果一律丢弃
func (o *Orchestrator) Dispose() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Disposed {
		return
	}
	o.cancel()
	if o.pollCancel != nil {
		o.pollCancel()
		o.pollCancel = nil
	}
	o.stopNarrationLocked()
	o.state.Disposed = true
	o.state.Task = nil

	s := o.snapshotLocked()
	for id, ch := range o.subs {
		select {
		case ch <- s.clone():
		default:
		}
		close(ch)
		delete(o.subs, id)
	}
	o.log.Info("会话已关闭")
}

// callContext 调用方取消或会话关闭都会取消外部调用
func (o *Orchestrator) callContext(ctx context.Context) (context.Context, func()) {
	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.ctx, cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}

// ==================== 默认提示词 ====================

// DefaultImagePrompt 用标题和神话体系拼出配图提示词
func DefaultImagePrompt(s *model.StoryResult) string {
	return fmt.Sprintf("%s, %s mythology, epic scene, dramatic lighting, detailed illustration", s.Title, s.Mythology())
}

// DefaultModelPrompt 有主角时用主角，否则用标题
func DefaultModelPrompt(s *model.StoryResult) string {
	subject := s.Title
	if s.StoryPrompt != nil && s.StoryPrompt.Character != "" {
		subject = s.StoryPrompt.Character
	}
	return fmt.Sprintf("%s, character from %s mythology, detailed 3D figure", subject, s.Mythology())
}
