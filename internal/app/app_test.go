package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mythweaver/internal/config"
	"mythweaver/internal/model"
	"mythweaver/internal/provider"
	"mythweaver/internal/volc"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Addr: ":0", ShutdownTimeout: time.Second},
		Relay:  config.RelayConfig{BaseURL: "http://localhost:8080", RateLimit: 10, Burst: 10},
		LLM:    config.LLMConfig{Provider: "anthropic", AnthropicKey: "sk-ant-test", MaxTokens: 1000},
		Voice: config.VoiceConfig{
			Provider: "elevenlabs", VoiceID: "EXAVITQu4vr4xnSDxMaL", ModelID: "eleven_turbo_v2", ElevenLabsKey: "xi-test",
		},
		Image:       config.ImageConfig{Provider: "stability", Width: 1024, Height: 1024},
		Model3D:     config.Model3DConfig{Provider: "meshy", PollInterval: time.Second, MaxAttempts: 3},
		HTTPTimeout: 5 * time.Second,
		Storage:     config.StorageConfig{Driver: "file", Path: t.TempDir(), Key: "savedStories"},
		SessionTTL:  time.Minute,
		Narration:   config.NarrationConfig{Output: "silent"},
	}
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Empty(t, cfg.Relay.AnonKey)
	assert.Equal(t, localRelayKey, a.relayKey)
	assert.IsType(t, &provider.StabilityClient{}, a.Image)
	assert.IsType(t, &provider.MeshyClient{}, a.Model)

	o := a.NewSession()
	defer o.Dispose()
	assert.NotEmpty(t, o.ID())
	assert.Len(t, a.Tools(), 3)

	stories, err := a.Saved.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stories)
}

func TestNew_ProviderSelection(t *testing.T) {
	cfg := testConfig(t)
	cfg.Relay.AnonKey = "fixed"
	cfg.Image.Provider = "seedream"
	cfg.Model3D.Provider = "masterpiecex"
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "fixed", a.relayKey)
	assert.IsType(t, &volc.ArkClient{}, a.Image)
	assert.IsType(t, &provider.MasterpieceXClient{}, a.Model)
}

func TestHandler(t *testing.T) {
	cfg := testConfig(t)
	cfg.Relay.AnonKey = "anon"
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	h, err := a.Handler(context.Background())
	require.NoError(t, err)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/options", "").Code)
	assert.Equal(t, http.StatusCreated, do(http.MethodPost, "/api/sessions", "").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodOptions, "/functions/v1/generate-story", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodPost, "/functions/v1/generate-story", `{"mythology":"Greek"}`).Code)
}

// 默认配置下，另一个进程的客户端也能访问serve的中转服务
func TestHandler_DefaultRelayAcceptsOtherProcess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"title\":\"Prometheus\",\"story\":\"He stole fire.\",\"storyArcs\":[]}"}]}`))
	}))
	defer upstream.Close()

	serveCfg := testConfig(t)
	serveCfg.LLM.BaseURL = upstream.URL
	server, err := New(context.Background(), serveCfg)
	require.NoError(t, err)
	defer server.Close()

	h, err := server.Handler(context.Background())
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	req := httptest.NewRequest(http.MethodPost, "/functions/v1/generate-story", strings.NewReader(`{"mythology":"Greek"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	clientCfg := testConfig(t)
	clientCfg.Relay.BaseURL = srv.URL
	client, err := New(context.Background(), clientCfg)
	require.NoError(t, err)
	defer client.Close()

	story, err := client.Story.GenerateStory(context.Background(), model.GenerationRequest{Mythology: "Greek"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Prometheus", story.Title)
	assert.Equal(t, "He stole fire.", story.Story)
}

func TestHandler_MissingLLMKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.AnthropicKey = ""
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Handler(context.Background())
	assert.Equal(t, provider.KindMissingCredential, provider.KindOf(err))
}

func TestStartLocalRelay(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	before := a.Story
	require.NoError(t, a.StartLocalRelay(context.Background()))
	assert.NotSame(t, before, a.Story)
	assert.NoError(t, a.Close())
}
