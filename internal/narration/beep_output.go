package narration

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// SpeakerOutput 用beep解码mp3并输出到本机扬声器
type SpeakerOutput struct {
	mu         sync.Mutex
	sampleRate beep.SampleRate
	ctrl       *beep.Ctrl
	streamer   beep.StreamSeekCloser
}

func NewSpeakerOutput() *SpeakerOutput {
	return &SpeakerOutput{}
}

func (o *SpeakerOutput) Play(audio []byte, done func()) error {
	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(audio)))
	if err != nil {
		return fmt.Errorf("failed to decode MP3: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// speaker只能初始化一次
	if o.sampleRate == 0 {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			streamer.Close()
			return err
		}
		o.sampleRate = format.SampleRate
	}

	var s beep.Streamer = streamer
	if format.SampleRate != o.sampleRate {
		s = beep.Resample(4, format.SampleRate, o.sampleRate, streamer)
	}
	o.streamer = streamer
	o.ctrl = &beep.Ctrl{Streamer: s, Paused: false}
	speaker.Play(beep.Seq(o.ctrl, beep.Callback(done)))
	return nil
}

func (o *SpeakerOutput) Pause() error {
	o.setPaused(true)
	return nil
}

func (o *SpeakerOutput) Resume() error {
	o.setPaused(false)
	return nil
}

func (o *SpeakerOutput) setPaused(paused bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctrl != nil {
		speaker.Lock()
		o.ctrl.Paused = paused
		speaker.Unlock()
	}
}

func (o *SpeakerOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sampleRate != 0 {
		speaker.Clear()
	}
	o.ctrl = nil
	if o.streamer != nil {
		err := o.streamer.Close()
		o.streamer = nil
		return err
	}
	return nil
}

// SilentOutput 没有声卡的环境（服务端、测试）只记录状态，不会自然结束
type SilentOutput struct{}

func (SilentOutput) Play(audio []byte, done func()) error { return nil }
func (SilentOutput) Pause() error                         { return nil }
func (SilentOutput) Resume() error                        { return nil }
func (SilentOutput) Stop() error                          { return nil }
