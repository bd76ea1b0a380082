package poller

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"mythweaver/internal/model"
	"mythweaver/internal/provider"
)

// TimeoutMessage 超过最大轮询次数后的失败信息
const TimeoutMessage = "Model generation timed out"

var errStillProcessing = errors.New("task still processing")

// CheckFunc 查询一次任务状态，必须是只读的
type CheckFunc func(ctx context.Context) (*model.ModelTask, error)

// Poller 按固定间隔轮询异步任务直到结束
type Poller struct {
	Interval    time.Duration
	MaxAttempts int // <=0 不限次数
}

func New(interval time.Duration, maxAttempts int) *Poller {
	return &Poller{Interval: interval, MaxAttempts: maxAttempts}
}

// Run 先等待一个间隔再查询；完成时返回最终任务，失败/超时返回错误，ctx取消时返回ctx.Err()
func (p *Poller) Run(ctx context.Context, taskID string, check CheckFunc) (*model.ModelTask, error) {
	log := logrus.WithField("task_id", taskID)

	timer := time.NewTimer(p.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	attempt := 0
	var result *model.ModelTask
	op := func() error {
		attempt++
		task, err := check(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch task.Status {
		case model.TaskCompleted:
			result = task
			return nil
		case model.TaskFailed:
			msg := task.Error
			if msg == "" {
				msg = "Model generation failed"
			}
			return backoff.Permanent(provider.TaskFailed("3D model", msg))
		default:
			return errStillProcessing
		}
	}
	notify := func(_ error, next time.Duration) {
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"next":    next,
		}).Debug("任务处理中")
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), notify)
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if errors.Is(err, errStillProcessing) {
		log.WithField("attempts", attempt).Warn("轮询次数用尽")
		return nil, provider.TaskFailed("3D model", TimeoutMessage)
	}
	if err != nil {
		return nil, err
	}
	log.WithField("attempts", attempt).Info("任务完成")
	return result, nil
}

func (p *Poller) backOff(ctx context.Context) backoff.BackOffContext {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Interval)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}
