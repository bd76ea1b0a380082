package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mythweaver/internal/model"
	"mythweaver/internal/orchestrator"
)

// BundleOptions 故事生成后要附带的内容
type BundleOptions struct {
	Image       bool
	Voice       bool
	Model       bool
	ImagePrompt string
	ModelPrompt string
	ArcsView    bool   // 旁白按段落朗读
	APIKey      string // 可选，覆盖故事生成的默认凭证
	Save        bool   // 完成后存入收藏
}

// BundleResult 最终快照和各子流程的错误，子流程失败不影响故事本身
type BundleResult struct {
	State    orchestrator.State
	Story    *model.StoryResult
	Saved    *model.StoryResult
	ImageErr error
	VoiceErr error
	ModelErr error
}

// Failed 是否有子流程失败
func (r *BundleResult) Failed() bool {
	return r.ImageErr != nil || r.VoiceErr != nil || r.ModelErr != nil
}

// StoryBundleService 一次性生成故事及其配图、旁白、3D模型
type StoryBundleService struct {
	newSession func() *orchestrator.Orchestrator
}

func NewStoryBundleService(newSession func() *orchestrator.Orchestrator) *StoryBundleService {
	return &StoryBundleService{newSession: newSession}
}

// Run 先生成故事，再并发执行选中的子流程并等待3D轮询结束
func (s *StoryBundleService) Run(ctx context.Context, req model.GenerationRequest, opts BundleOptions) (*BundleResult, error) {
	o := s.newSession()
	defer o.Dispose()
	log := logrus.WithField("session_id", o.ID())

	var callOpts []orchestrator.CallOption
	if opts.APIKey != "" {
		callOpts = append(callOpts, orchestrator.WithAPIKey(opts.APIKey))
	}
	story, err := o.GenerateStory(ctx, req, callOpts...)
	if err != nil {
		return nil, fmt.Errorf("generate story: %w", err)
	}

	res := &BundleResult{}
	// 不用WithContext，一个子流程失败不取消其他子流程
	var g errgroup.Group
	if opts.Image {
		g.Go(func() error {
			_, res.ImageErr = o.GenerateImage(ctx, orchestrator.ImageOptions{Prompt: opts.ImagePrompt})
			return res.ImageErr
		})
	}
	if opts.Voice {
		g.Go(func() error {
			_, res.VoiceErr = o.GenerateVoice(ctx, orchestrator.VoiceOptions{ArcsView: opts.ArcsView})
			return res.VoiceErr
		})
	}
	if opts.Model {
		g.Go(func() error {
			if _, err := o.GenerateModel(ctx, orchestrator.ModelOptions{Prompt: opts.ModelPrompt}); err != nil {
				res.ModelErr = err
				return err
			}
			if err := o.WaitModel(ctx); err != nil {
				res.ModelErr = err
				return err
			}
			if flow := o.Snapshot().Model; flow.Stage == orchestrator.FlowFailed {
				res.ModelErr = errors.New(flow.Error)
			}
			return res.ModelErr
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("部分内容生成失败")
	}

	if opts.Save {
		saved, err := o.SaveCurrent(ctx)
		if err != nil {
			return nil, fmt.Errorf("save story: %w", err)
		}
		res.Saved = saved
	}

	res.State = o.Snapshot()
	res.Story = res.State.Story
	if res.Story == nil {
		res.Story = story
	}
	return res, nil
}
