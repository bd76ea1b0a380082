package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mythweaver/internal/api"
	"mythweaver/internal/collection"
	"mythweaver/internal/config"
	"mythweaver/internal/narration"
	"mythweaver/internal/orchestrator"
	"mythweaver/internal/poller"
	"mythweaver/internal/provider"
	"mythweaver/internal/relay"
	"mythweaver/internal/router"
	"mythweaver/internal/service"
	"mythweaver/internal/tools"
	"mythweaver/internal/volc"
)

// localRelayKey 未配置relay.anon_key时客户端携带的占位凭证，中转服务此时不校验
const localRelayKey = "mythweaver-local"

// App 按配置构造好的全部依赖，进程内只创建一次
type App struct {
	Config *config.Config
	Saved  *collection.Collection
	Player *narration.Player
	Poller *poller.Poller
	Story  provider.StoryGenerator
	Image  provider.ImageGenerator
	Voice  provider.VoiceGenerator
	Model  provider.ModelGenerator

	// relayKey 故事/旁白客户端访问中转服务的凭证
	relayKey string
	closers  []func() error
}

// New 打开收藏存储并创建各服务商客户端
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, closeStore, err := collection.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &App{
		Config:  cfg,
		Saved:   collection.New(store),
		Player:  narration.NewPlayer(newOutput(cfg.Narration.Output)),
		Poller:  poller.New(cfg.Model3D.PollInterval, cfg.Model3D.MaxAttempts),
		closers: []func() error{closeStore},

		relayKey: cfg.Relay.AnonKey,
	}
	if a.relayKey == "" {
		a.relayKey = localRelayKey
		logrus.Info("未配置relay.anon_key，中转服务不校验凭证")
	}
	a.useRelay(cfg.Relay.BaseURL)

	switch cfg.Image.Provider {
	case "pixlr":
		a.Image = provider.NewPixlrClient(provider.PixlrBaseURL, cfg.Image.PixlrKey, cfg.HTTPTimeout)
	case "seedream":
		a.Image = volc.NewArkClient("", cfg.Image.SeedreamKey, cfg.HTTPTimeout)
	default:
		a.Image = provider.NewStabilityClient(provider.StabilityBaseURL, cfg.Image.StabilityKey, cfg.HTTPTimeout)
	}

	switch cfg.Model3D.Provider {
	case "masterpiecex":
		a.Model = provider.NewMasterpieceXClient(provider.MasterpieceBaseURL, cfg.Model3D.MasterpieceKey, cfg.HTTPTimeout)
	default:
		a.Model = provider.NewMeshyClient(provider.MeshyBaseURL, cfg.Model3D.MeshyKey, cfg.HTTPTimeout)
	}

	logrus.WithFields(logrus.Fields{
		"llm":     cfg.LLM.Provider,
		"voice":   cfg.Voice.Provider,
		"image":   cfg.Image.Provider,
		"model3d": cfg.Model3D.Provider,
		"storage": cfg.Storage.Driver,
	}).Info("服务初始化完成")
	return a, nil
}

func newOutput(kind string) narration.Output {
	if kind == "silent" {
		return narration.SilentOutput{}
	}
	return narration.NewSpeakerOutput()
}

// useRelay 故事和旁白都经由中转服务
func (a *App) useRelay(baseURL string) {
	a.Story = provider.NewTextClient(baseURL, a.relayKey, a.Config.HTTPTimeout)
	a.Voice = provider.NewVoiceClient(baseURL, a.relayKey, a.Config.HTTPTimeout)
}

// NewSession 新建一个编排器
func (a *App) NewSession() *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Deps{
		Story:  a.Story,
		Image:  a.Image,
		Voice:  a.Voice,
		Model:  a.Model,
		Poller: a.Poller,
		Player: a.Player,
		Saved:  a.Saved,
	}, orchestrator.Settings{
		VoiceID:     a.Config.Voice.VoiceID,
		VoiceModel:  a.Config.Voice.ModelID,
		ImageWidth:  a.Config.Image.Width,
		ImageHeight: a.Config.Image.Height,
	})
}

// Bundle 命令行一次性生成
func (a *App) Bundle() *service.StoryBundleService {
	return service.NewStoryBundleService(a.NewSession)
}

// Tools 以路径名为key
func (a *App) Tools() map[string]einotool.InvokableTool {
	return map[string]einotool.InvokableTool{
		"story-generate": tools.NewStoryTool(a.Story),
		"image-generate": tools.NewImageTool(a.Image),
		"model-generate": tools.NewModelTool(a.Model, a.Poller),
	}
}

// NewRelay 创建故事模型和语音后端
func (a *App) NewRelay(ctx context.Context) (*relay.Relay, error) {
	cm, err := relay.NewChatModel(ctx, a.Config.LLM, a.Config.HTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	if c, ok := cm.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	writer, err := relay.NewStoryWriter(ctx, cm)
	if err != nil {
		return nil, err
	}
	synth, err := relay.NewSynthesizer(ctx, a.Config.Voice, a.Config.HTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer: %w", err)
	}
	if c, ok := synth.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	return relay.New(writer, synth), nil
}

func (a *App) relayOptions() relay.Options {
	return relay.Options{
		AnonKey:   a.Config.Relay.AnonKey,
		RateLimit: a.Config.Relay.RateLimit,
		Burst:     a.Config.Relay.Burst,
	}
}

// Handler serve使用的完整路由
func (a *App) Handler(ctx context.Context) (http.Handler, error) {
	rl, err := a.NewRelay(ctx)
	if err != nil {
		return nil, err
	}
	sessions := api.NewRegistry(a.Config.SessionTTL, a.NewSession)
	a.closers = append(a.closers, func() error { sessions.Close(); return nil })

	engine := router.New(router.Deps{
		Relay:        rl,
		RelayOptions: a.relayOptions(),
		API:          api.NewHandler(sessions, a.Saved),
		Tools:        a.Tools(),
	})
	return engine, nil
}

// StartLocalRelay 在本机随机端口启动中转服务，并让故事/旁白客户端改用它
func (a *App) StartLocalRelay(ctx context.Context) error {
	rl, err := a.NewRelay(ctx)
	if err != nil {
		return err
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	rl.Register(engine, relay.Options{AnonKey: a.Config.Relay.AnonKey})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: engine}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("本地中转服务异常退出")
		}
	}()
	a.closers = append(a.closers, func() error { return srv.Shutdown(context.Background()) })

	base := "http://" + ln.Addr().String()
	a.useRelay(base)
	logrus.WithField("addr", base).Info("本地中转服务已启动")
	return nil
}

// Close 逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
