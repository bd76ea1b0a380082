package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"

	"mythweaver/internal/config"
	"mythweaver/internal/provider"
)

const (
	DefaultVoiceID    = "EXAVITQu4vr4xnSDxMaL"
	DefaultVoiceModel = "eleven_turbo_v2"
	elevenLabsBaseURL = "https://api.elevenlabs.io"
)

// Synthesizer 文本转mp3
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, modelID string) ([]byte, error)
}

// SynthesisError 上游返回非2xx，Status原样透传给调用方
type SynthesisError struct {
	Status  int
	Details string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech synthesis failed with status %d: %s", e.Status, e.Details)
}

// NewSynthesizer 按voice.provider选择语音后端
func NewSynthesizer(ctx context.Context, cfg config.VoiceConfig, timeout time.Duration) (Synthesizer, error) {
	switch cfg.Provider {
	case "google":
		return NewGoogleSynthesizer(ctx, cfg.Language)
	case "elevenlabs", "":
		if cfg.ElevenLabsKey == "" {
			return nil, provider.MissingCredential("ElevenLabs")
		}
		return NewElevenLabs(elevenLabsBaseURL, cfg.ElevenLabsKey, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported voice provider %q", cfg.Provider)
	}
}

// ElevenLabs 语音合成
type ElevenLabs struct {
	http   *resty.Client
	apiKey string
}

func NewElevenLabs(baseURL, apiKey string, timeout time.Duration) *ElevenLabs {
	return &ElevenLabs{
		http:   provider.NewHTTPClient(baseURL, timeout).SetHeader("Accept", "audio/mpeg"),
		apiKey: apiKey,
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, voiceID, modelID string) ([]byte, error) {
	resp, err := e.http.R().
		SetContext(ctx).
		SetHeader("xi-api-key", e.apiKey).
		SetPathParam("voice", voiceID).
		SetBody(elevenLabsRequest{
			Text:          text,
			ModelID:       modelID,
			VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		}).
		Post("/v1/text-to-speech/{voice}")
	if err != nil {
		return nil, provider.NetworkFailure("ElevenLabs", err)
	}
	if resp.IsError() {
		logrus.WithField("status", resp.StatusCode()).Warn("ElevenLabs返回错误")
		return nil, &SynthesisError{Status: resp.StatusCode(), Details: resp.String()}
	}
	return resp.Body(), nil
}

// GoogleSynthesizer 使用Cloud Text-to-Speech，凭证取自应用默认凭证
type GoogleSynthesizer struct {
	client   *texttospeech.Client
	language string
}

func NewGoogleSynthesizer(ctx context.Context, language string) (*GoogleSynthesizer, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}
	if language == "" {
		language = "en-US"
	}
	return &GoogleSynthesizer{client: client, language: language}, nil
}

// Synthesize voiceID为Google音色名，不是ElevenLabs的默认音色时才使用
func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text, voiceID, _ string) ([]byte, error) {
	voice := &texttospeechpb.VoiceSelectionParams{LanguageCode: g.language}
	if voiceID != "" && voiceID != DefaultVoiceID {
		voice.Name = voiceID
	}
	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: voice,
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	})
	if err != nil {
		return nil, &SynthesisError{Status: http.StatusBadGateway, Details: err.Error()}
	}
	return resp.AudioContent, nil
}

func (g *GoogleSynthesizer) Close() error {
	return g.client.Close()
}
