package narration

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"mythweaver/internal/model"
)

var (
	ErrNotPlaying = errors.New("narration is not playing")
	ErrNotPaused  = errors.New("narration is not paused")
	ErrNotOwner   = errors.New("narration is owned by another session")
)

// State 播放状态
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Output 实际的音频设备，进程内只有一个
type Output interface {
	// Play 开始播放，自然结束时调用done
	Play(audio []byte, done func()) error
	Pause() error
	Resume() error
	// Stop 立即停止，之后不再调用done
	Stop() error
}

// Token 标识一次播放，持有者才能暂停/继续/停止
type Token uint64

// Player 独占Output：开始新的朗读前先释放上一次
type Player struct {
	mu    sync.Mutex
	out   Output
	seq   uint64
	owner Token
	state State
	onEnd func()
}

func NewPlayer(out Output) *Player {
	return &Player{out: out, state: StateIdle}
}

// Start 播放base64编码的音频；onEnd在自然播放结束或者被别人抢占时调用
func (p *Player) Start(audio *model.AudioResult, onEnd func()) (Token, error) {
	if audio == nil || audio.AudioContent == "" {
		return 0, errors.New("no audio to play")
	}
	data, err := base64.StdEncoding.DecodeString(audio.AudioContent)
	if err != nil {
		return 0, fmt.Errorf("decode audio: %w", err)
	}

	p.mu.Lock()
	prevEnd := p.releaseLocked()

	p.seq++
	tok := Token(p.seq)
	if err := p.out.Play(data, func() { go p.finished(tok) }); err != nil {
		p.mu.Unlock()
		if prevEnd != nil {
			prevEnd()
		}
		return 0, fmt.Errorf("play audio: %w", err)
	}
	p.owner = tok
	p.state = StatePlaying
	p.onEnd = onEnd
	p.mu.Unlock()

	if prevEnd != nil {
		prevEnd()
	}
	logrus.WithField("token", tok).Info("开始朗读")
	return tok, nil
}

func (p *Player) Pause(tok Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOwner(tok); err != nil {
		return err
	}
	if p.state != StatePlaying {
		return ErrNotPlaying
	}
	if err := p.out.Pause(); err != nil {
		return err
	}
	p.state = StatePaused
	return nil
}

func (p *Player) Resume(tok Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOwner(tok); err != nil {
		return err
	}
	if p.state != StatePaused {
		return ErrNotPaused
	}
	if err := p.out.Resume(); err != nil {
		return err
	}
	p.state = StatePlaying
	return nil
}

// Stop 立即停止，不会触发onEnd
func (p *Player) Stop(tok Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOwner(tok); err != nil {
		return err
	}
	p.owner = 0
	p.state = StateIdle
	p.onEnd = nil
	return p.out.Stop()
}

// StateOf 某次播放的当前状态，已结束或被抢占时为idle
func (p *Player) StateOf(tok Token) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok == 0 || tok != p.owner {
		return StateIdle
	}
	return p.state
}

func (p *Player) checkOwner(tok Token) error {
	if p.owner == 0 {
		return ErrNotPlaying
	}
	if tok != p.owner {
		return ErrNotOwner
	}
	return nil
}

// releaseLocked 停掉当前播放，返回上一个持有者的onEnd
func (p *Player) releaseLocked() func() {
	if p.owner == 0 {
		return nil
	}
	if err := p.out.Stop(); err != nil {
		logrus.WithError(err).Warn("停止上一段朗读失败")
	}
	end := p.onEnd
	p.owner = 0
	p.state = StateIdle
	p.onEnd = nil
	return end
}

func (p *Player) finished(tok Token) {
	p.mu.Lock()
	if tok != p.owner {
		// 已被停止或抢占
		p.mu.Unlock()
		return
	}
	end := p.onEnd
	p.owner = 0
	p.state = StateIdle
	p.onEnd = nil
	p.mu.Unlock()

	logrus.WithField("token", tok).Info("朗读结束")
	if end != nil {
		end()
	}
}
