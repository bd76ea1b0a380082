package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "mythweaver/internal/model"
	"mythweaver/internal/provider"
)

type fakeChatModel struct {
	mu    sync.Mutex
	reply string
	err   error
	seen  []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, ErrStreamUnsupported
}

type fakeSynth struct {
	audio        []byte
	err          error
	voice, model string
}

func (f *fakeSynth) Synthesize(_ context.Context, _ string, voiceID, modelID string) ([]byte, error) {
	f.voice, f.model = voiceID, modelID
	return f.audio, f.err
}

func newTestRelay(t *testing.T, cm *fakeChatModel, synth Synthesizer, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	writer, err := NewStoryWriter(context.Background(), cm)
	require.NoError(t, err)
	engine := gin.New()
	New(writer, synth).Register(engine, opts)
	return engine
}

func doJSON(engine http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestExtractStory(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want mw.StoryResult
	}{
		{
			name: "完整JSON",
			raw:  `{"title":"Thor's Hammer","story":"Thunder rolls.","storyArcs":[{"title":"Theft","content":"Thrym steals it."}]}`,
			want: mw.StoryResult{Title: "Thor's Hammer", Story: "Thunder rolls.", StoryArcs: []mw.StoryArc{{Title: "Theft", Content: "Thrym steals it."}}},
		},
		{
			name: "前后有多余文字",
			raw:  "Here you go:\n```json\n{\"title\":\"Isis\",\"story\":\"She searched the Nile.\"}\n```",
			want: mw.StoryResult{Title: "Isis", Story: "She searched the Nile.", StoryArcs: []mw.StoryArc{}},
		},
		{
			name: "缺少标题和正文",
			raw:  `{"storyArcs":[]}`,
			want: mw.StoryResult{Title: "Untitled Story", Story: `{"storyArcs":[]}`, StoryArcs: []mw.StoryArc{}},
		},
		{
			name: "没有JSON",
			raw:  "Once upon a time Maui fished up islands.",
			want: mw.StoryResult{Title: "Mythological Tale", Story: "Once upon a time Maui fished up islands.", StoryArcs: []mw.StoryArc{}},
		},
		{
			name: "JSON不合法",
			raw:  `{"title": "Broken", "story": }`,
			want: mw.StoryResult{Title: "Mythological Tale", Story: `{"title": "Broken", "story": }`, StoryArcs: []mw.StoryArc{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractStory(tt.raw))
		})
	}
}

func TestPromptVariables(t *testing.T) {
	vars := PromptVariables(mw.GenerationRequest{Mythology: " Norse ", Character: "Thor", Theme: "Fate"})
	assert.Equal(t, map[string]any{
		"length":           "medium",
		"mythology":        "Norse",
		"character_clause": " featuring Thor",
		"theme_clause":     " with a theme of Fate",
	}, vars)

	bare := PromptVariables(mw.GenerationRequest{Mythology: "Greek", Length: mw.LengthLong})
	assert.Equal(t, "", bare["character_clause"])
	assert.Equal(t, "", bare["theme_clause"])
	assert.Equal(t, "long", bare["length"])
}

func TestGenerateStory_Success(t *testing.T) {
	cm := &fakeChatModel{reply: `{"title":"The Binding of Fenrir","story":"The gods forged Gleipnir.","storyArcs":[{"title":"The Wolf","content":"Fenrir grew."}]}`}
	engine := newTestRelay(t, cm, &fakeSynth{}, Options{})

	w := doJSON(engine, http.MethodPost, "/functions/v1/generate-story",
		`{"mythology":"Norse","character":"Tyr","theme":"Sacrifice","length":"short"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var got storyReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "The Binding of Fenrir", got.Title)
	assert.Len(t, got.StoryArcs, 1)

	require.Len(t, cm.seen, 2)
	assert.Equal(t, schema.System, cm.seen[0].Role)
	assert.Contains(t, cm.seen[0].Content, `{"title": "..."`)
	assert.Equal(t, "Create a short mythological story from Norse mythology featuring Tyr with a theme of Sacrifice.", cm.seen[1].Content)
}

func TestGenerateStory_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		upstream error
		status   int
	}{
		{"缺少神话体系", `{"theme":"Love"}`, nil, http.StatusBadRequest},
		{"请求体不合法", `{"mythology":`, nil, http.StatusBadRequest},
		{"上游失败", `{"mythology":"Greek"}`, errors.New("connection reset"), http.StatusInternalServerError},
		{"上游限流", `{"mythology":"Greek"}`, provider.Rejected("Anthropic", http.StatusTooManyRequests, nil, ""), http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestRelay(t, &fakeChatModel{err: tt.upstream}, &fakeSynth{}, Options{})
			w := doJSON(engine, http.MethodPost, "/functions/v1/generate-story", tt.body, nil)
			assert.Equal(t, tt.status, w.Code)

			var got map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.NotEmpty(t, got["error"])
			assert.Equal(t, "", got["title"])
			assert.Equal(t, "", got["story"])
		})
	}
}

func TestPreflight(t *testing.T) {
	engine := newTestRelay(t, &fakeChatModel{}, &fakeSynth{}, Options{AnonKey: "anon"})
	w := doJSON(engine, http.MethodOptions, "/functions/v1/generate-voice", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "authorization, x-client-info, apikey, content-type", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestAnonKey(t *testing.T) {
	engine := newTestRelay(t, &fakeChatModel{reply: `{"title":"a","story":"b"}`}, &fakeSynth{}, Options{AnonKey: "anon"})
	body := `{"mythology":"Celtic"}`

	assert.Equal(t, http.StatusUnauthorized, doJSON(engine, http.MethodPost, "/functions/v1/generate-story", body, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(engine, http.MethodPost, "/functions/v1/generate-story", body,
		map[string]string{"apikey": "wrong"}).Code)
	assert.Equal(t, http.StatusOK, doJSON(engine, http.MethodPost, "/functions/v1/generate-story", body,
		map[string]string{"apikey": "anon"}).Code)
	assert.Equal(t, http.StatusOK, doJSON(engine, http.MethodPost, "/functions/v1/generate-story", body,
		map[string]string{"Authorization": "Bearer anon"}).Code)
}

func TestRateLimit(t *testing.T) {
	engine := newTestRelay(t, &fakeChatModel{reply: `{"title":"a","story":"b"}`}, &fakeSynth{}, Options{RateLimit: 0.001, Burst: 1})
	body := `{"mythology":"Aztec"}`

	assert.Equal(t, http.StatusOK, doJSON(engine, http.MethodPost, "/functions/v1/generate-story", body, nil).Code)
	w := doJSON(engine, http.MethodPost, "/functions/v1/generate-story", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "quota exceeded")
}

func TestGenerateVoice(t *testing.T) {
	synth := &fakeSynth{audio: []byte("ID3-mp3")}
	engine := newTestRelay(t, &fakeChatModel{}, synth, Options{})

	w := doJSON(engine, http.MethodPost, "/functions/v1/generate-voice", `{"text":"Odin hung on the tree."}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got mw.AudioResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("ID3-mp3")), got.AudioContent)
	assert.Equal(t, "mp3", got.Format)
	assert.Equal(t, DefaultVoiceID, synth.voice)
	assert.Equal(t, DefaultVoiceModel, synth.model)

	doJSON(engine, http.MethodPost, "/functions/v1/generate-voice", `{"text":"x","voiceId":"v1","modelId":"m1"}`, nil)
	assert.Equal(t, "v1", synth.voice)
	assert.Equal(t, "m1", synth.model)
}

func TestGenerateVoice_Errors(t *testing.T) {
	engine := newTestRelay(t, &fakeChatModel{}, &fakeSynth{}, Options{})
	w := doJSON(engine, http.MethodPost, "/functions/v1/generate-voice", `{"text":"   "}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Text content is required")

	failing := &fakeSynth{err: &SynthesisError{Status: http.StatusPaymentRequired, Details: "quota_exceeded"}}
	engine = newTestRelay(t, &fakeChatModel{}, failing, Options{})
	w = doJSON(engine, http.MethodPost, "/functions/v1/generate-voice", `{"text":"hello"}`, nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Failed to generate audio", got["error"])
	assert.Equal(t, "quota_exceeded", got["details"])
}

func TestElevenLabs(t *testing.T) {
	var gotPath, gotKey string
	var gotBody elevenLabsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		if gotBody.Text == "fail" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"invalid key"}`))
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	el := NewElevenLabs(srv.URL, "xi-key", 5*time.Second)
	audio, err := el.Synthesize(context.Background(), "Ra sails the sun", DefaultVoiceID, DefaultVoiceModel)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), audio)
	assert.Equal(t, "/v1/text-to-speech/"+DefaultVoiceID, gotPath)
	assert.Equal(t, "xi-key", gotKey)
	assert.Equal(t, elevenLabsRequest{
		Text:          "Ra sails the sun",
		ModelID:       DefaultVoiceModel,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}, gotBody)

	_, err = el.Synthesize(context.Background(), "fail", DefaultVoiceID, DefaultVoiceModel)
	var se *SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Status)
	assert.Contains(t, se.Details, "invalid key")
}

func TestAnthropicChatModel(t *testing.T) {
	var got anthropicRequest
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"title\":\"x\"}"}]}`))
	}))
	defer srv.Close()

	cm, err := NewAnthropicChatModel(srv.URL, "sk-ant", "", 0, 5*time.Second)
	require.NoError(t, err)

	msg, err := cm.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("be mythic"),
		schema.UserMessage("tell me of Loki"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"x"}`, msg.Content)
	assert.Equal(t, "sk-ant", header.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, header.Get("anthropic-version"))
	assert.Equal(t, defaultAnthropicModel, got.Model)
	assert.Equal(t, 4000, got.MaxTokens)
	assert.Equal(t, "be mythic", got.System)
	assert.Equal(t, []anthropicMessage{{Role: "user", Content: "tell me of Loki"}}, got.Messages)

	_, err = cm.Stream(context.Background(), nil)
	assert.ErrorIs(t, err, ErrStreamUnsupported)

	_, err = NewAnthropicChatModel(srv.URL, "", "", 0, time.Second)
	assert.Equal(t, provider.KindMissingCredential, provider.KindOf(err))
}

func TestAnthropicChatModel_Quota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	cm, err := NewAnthropicChatModel(srv.URL, "sk-ant", "", 0, 5*time.Second)
	require.NoError(t, err)
	_, err = cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.True(t, rateLimited(err))
}
