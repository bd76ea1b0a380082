package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults 默认配置
func SetDefaults() {
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.shutdown_timeout", 5*time.Second)

	viper.SetDefault("relay.base_url", "http://localhost:8080")
	viper.SetDefault("relay.anon_key", "")
	viper.SetDefault("relay.rate_limit", 2.0)
	viper.SetDefault("relay.burst", 5)

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.model", "")
	viper.SetDefault("llm.max_tokens", 4000)
	viper.SetDefault("llm.base_url", "")

	viper.SetDefault("voice.provider", "elevenlabs")
	viper.SetDefault("voice.voice_id", "EXAVITQu4vr4xnSDxMaL")
	viper.SetDefault("voice.model_id", "eleven_turbo_v2")
	viper.SetDefault("voice.language", "en-US")

	viper.SetDefault("image.provider", "stability")
	viper.SetDefault("image.width", 1024)
	viper.SetDefault("image.height", 1024)

	viper.SetDefault("model3d.provider", "meshy")
	viper.SetDefault("model3d.poll_interval", 10*time.Second)
	viper.SetDefault("model3d.max_attempts", 60)

	viper.SetDefault("http.timeout", 60*time.Second)

	home, _ := os.UserHomeDir()
	viper.SetDefault("storage.driver", "file")
	viper.SetDefault("storage.path", filepath.Join(home, ".mythweaver"))
	viper.SetDefault("storage.key", "savedStories")

	viper.SetDefault("session.ttl", 30*time.Minute)

	viper.SetDefault("narration.output", "speaker")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "app.log")
}

// ServerConfig HTTP服务
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// RelayConfig 中转服务
type RelayConfig struct {
	BaseURL   string
	AnonKey   string
	RateLimit float64
	Burst     int
}

// LLMConfig 故事生成模型
type LLMConfig struct {
	Provider     string
	Model        string
	MaxTokens    int
	BaseURL      string // 为空时使用服务商默认地址
	AnthropicKey string
	ArkKey       string
	GeminiKey    string
}

// VoiceConfig 语音合成
type VoiceConfig struct {
	Provider      string
	VoiceID       string
	ModelID       string
	Language      string
	ElevenLabsKey string
}

// ImageConfig 图片生成
type ImageConfig struct {
	Provider     string
	Width        int
	Height       int
	StabilityKey string
	PixlrKey     string
	SeedreamKey  string
}

// Model3DConfig 3D模型生成
type Model3DConfig struct {
	Provider       string
	PollInterval   time.Duration
	MaxAttempts    int
	MeshyKey       string
	MasterpieceKey string
}

// StorageConfig 收藏持久化
type StorageConfig struct {
	Driver    string
	Path      string
	DSN       string
	RedisAddr string
	Key       string
}

// Config 启动时构造一次，显式传给各组件
type Config struct {
	Server      ServerConfig
	Relay       RelayConfig
	LLM         LLMConfig
	Voice       VoiceConfig
	Image       ImageConfig
	Model3D     Model3DConfig
	HTTPTimeout time.Duration
	Storage     StorageConfig
	SessionTTL  time.Duration
	Narration   NarrationConfig
}

// NarrationConfig 朗读输出，speaker为本机扬声器，silent只记录状态
type NarrationConfig struct {
	Output string
}

// Load 从viper读取配置
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            viper.GetString("server.addr"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
		},
		Relay: RelayConfig{
			BaseURL:   viper.GetString("relay.base_url"),
			AnonKey:   viper.GetString("relay.anon_key"),
			RateLimit: viper.GetFloat64("relay.rate_limit"),
			Burst:     viper.GetInt("relay.burst"),
		},
		LLM: LLMConfig{
			Provider:     viper.GetString("llm.provider"),
			Model:        viper.GetString("llm.model"),
			MaxTokens:    viper.GetInt("llm.max_tokens"),
			BaseURL:      viper.GetString("llm.base_url"),
			AnthropicKey: viper.GetString("llm.anthropic_key"),
			ArkKey:       viper.GetString("llm.ark_key"),
			GeminiKey:    viper.GetString("llm.gemini_key"),
		},
		Voice: VoiceConfig{
			Provider:      viper.GetString("voice.provider"),
			VoiceID:       viper.GetString("voice.voice_id"),
			ModelID:       viper.GetString("voice.model_id"),
			Language:      viper.GetString("voice.language"),
			ElevenLabsKey: viper.GetString("voice.elevenlabs_key"),
		},
		Image: ImageConfig{
			Provider:     viper.GetString("image.provider"),
			Width:        viper.GetInt("image.width"),
			Height:       viper.GetInt("image.height"),
			StabilityKey: viper.GetString("image.stability_key"),
			PixlrKey:     viper.GetString("image.pixlr_key"),
			SeedreamKey:  viper.GetString("image.seedream_key"),
		},
		Model3D: Model3DConfig{
			Provider:       viper.GetString("model3d.provider"),
			PollInterval:   viper.GetDuration("model3d.poll_interval"),
			MaxAttempts:    viper.GetInt("model3d.max_attempts"),
			MeshyKey:       viper.GetString("model3d.meshy_key"),
			MasterpieceKey: viper.GetString("model3d.masterpiece_key"),
		},
		HTTPTimeout: viper.GetDuration("http.timeout"),
		Storage: StorageConfig{
			Driver:    viper.GetString("storage.driver"),
			Path:      viper.GetString("storage.path"),
			DSN:       viper.GetString("storage.dsn"),
			RedisAddr: viper.GetString("storage.redis_addr"),
			Key:       viper.GetString("storage.key"),
		},
		SessionTTL: viper.GetDuration("session.ttl"),
		Narration: NarrationConfig{
			Output: viper.GetString("narration.output"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查枚举项和时长
func (c *Config) Validate() error {
	if err := oneOf("llm.provider", c.LLM.Provider, "anthropic", "ark", "gemini"); err != nil {
		return err
	}
	if err := oneOf("voice.provider", c.Voice.Provider, "elevenlabs", "google"); err != nil {
		return err
	}
	if err := oneOf("image.provider", c.Image.Provider, "stability", "pixlr", "seedream"); err != nil {
		return err
	}
	if err := oneOf("model3d.provider", c.Model3D.Provider, "meshy", "masterpiecex"); err != nil {
		return err
	}
	if err := oneOf("storage.driver", c.Storage.Driver, "file", "sqlite", "postgres", "redis"); err != nil {
		return err
	}
	if err := oneOf("narration.output", c.Narration.Output, "speaker", "silent"); err != nil {
		return err
	}
	if c.Model3D.PollInterval <= 0 {
		return fmt.Errorf("model3d.poll_interval must be positive")
	}
	if c.Model3D.MaxAttempts <= 0 {
		return fmt.Errorf("model3d.max_attempts must be positive")
	}
	if c.Storage.Key == "" {
		return fmt.Errorf("storage.key is required")
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported value %q", key, value)
}
