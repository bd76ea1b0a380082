package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mythweaver/internal/model"
)

// ==================== 测试辅助 ====================

type recorded struct {
	hits   atomic.Int32
	body   map[string]any
	header http.Header
	path   string
}

func newTestServer(t *testing.T, status int, reply string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.hits.Add(1)
		rec.header = r.Header.Clone()
		rec.path = r.URL.Path
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), "错误: %v", err)
}

// ==================== 图片 ====================

func TestStabilityClient_GenerateImage(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{"artifacts":[{"base64":"iVBORw0KGgo","finishReason":"SUCCESS"}]}`)
	c := NewStabilityClient(srv.URL, "sk-default", time.Second)

	img, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "Zeus"})
	require.NoError(t, err)

	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo", img.URL)
	assert.Equal(t, "/v1/generation/stable-diffusion-xl-1024-v1-0/text-to-image", rec.path)
	assert.Equal(t, "Bearer sk-default", rec.header.Get("Authorization"))

	prompts := rec.body["text_prompts"].([]any)
	first := prompts[0].(map[string]any)
	assert.Equal(t, "Zeus"+promptEnhancement, first["text"])
	assert.Equal(t, float64(1), first["weight"])
	assert.Equal(t, float64(7), rec.body["cfg_scale"])
	assert.Equal(t, float64(30), rec.body["steps"])
	assert.Equal(t, float64(1024), rec.body["width"])
}

func TestStabilityClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		reply    string
		req      ImageRequest
		wantKind Kind
		wantMsg  string
		wantHits int32
	}{
		{"空提示词", 200, `{}`, ImageRequest{Prompt: "  "}, KindInvalidInput, "Image prompt is required", 0},
		{"没有图片", 200, `{"artifacts":[]}`, ImageRequest{Prompt: "Thor and the serpent"}, KindMalformedResponse, "no image returned", 1},
		{"上游拒绝", 400, `{"message":"invalid_prompts"}`, ImageRequest{Prompt: "Thor and the serpent"}, KindUpstreamRejected, "invalid_prompts", 1},
		{"非JSON错误体", 500, `oops`, ImageRequest{Prompt: "Thor and the serpent"}, KindUpstreamRejected, "Error generating image", 1},
		{"配额用尽", 429, `{"message":"rate"}`, ImageRequest{Prompt: "Thor and the serpent"}, KindUpstreamRejected, "Stability quota exceeded, please try again later", 1},
		{"响应损坏", 200, `{"artifacts":`, ImageRequest{Prompt: "Thor and the serpent"}, KindMalformedResponse, "Stability returned an unreadable response", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newTestServer(t, tt.status, tt.reply)
			c := NewStabilityClient(srv.URL, "sk-default", time.Second)

			_, err := c.GenerateImage(context.Background(), tt.req)
			assertKind(t, err, tt.wantKind)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.wantHits, rec.hits.Load())
		})
	}
}

func TestImageClients_MissingCredentialMakesNoCall(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{}`)

	_, err := NewStabilityClient(srv.URL, "", time.Second).GenerateImage(context.Background(), ImageRequest{Prompt: "Anubis"})
	assertKind(t, err, KindMissingCredential)
	_, err = NewPixlrClient(srv.URL, "", time.Second).GenerateImage(context.Background(), ImageRequest{Prompt: "Anubis"})
	assertKind(t, err, KindMissingCredential)

	assert.Equal(t, int32(0), rec.hits.Load())
}

func TestStabilityClient_OverrideKey(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{"artifacts":[{"base64":"abc"}]}`)
	c := NewStabilityClient(srv.URL, "sk-default", time.Second)

	_, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "Ra crossing the sky", APIKey: "sk-user"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-user", rec.header.Get("Authorization"))
}

func TestPixlrClient_GenerateImage(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{"results":[{"image_url":"https://cdn.example/odin.png"}]}`)
	c := NewPixlrClient(srv.URL, "px-key", time.Second)

	img, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "Odin on Sleipnir above Midgard", Width: 512, Height: 768})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example/odin.png", img.URL)
	assert.Equal(t, "/generator/v1/text2image", rec.path)
	assert.Equal(t, "Odin on Sleipnir above Midgard", rec.body["prompt"])
	assert.Equal(t, float64(512), rec.body["width"])
	assert.Equal(t, float64(768), rec.body["height"])
	assert.Equal(t, float64(1), rec.body["num_outputs"])
}

// ==================== 3D模型 ====================

func TestMeshyClient_Submit(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{"id":"abc123","status":"processing"}`)
	c := NewMeshyClient(srv.URL, "msy-key", time.Second)

	task, err := c.SubmitModel(context.Background(), ModelRequest{Prompt: "Medusa"})
	require.NoError(t, err)

	assert.Equal(t, &model.ModelTask{TaskID: "abc123", Status: model.TaskProcessing}, task)
	assert.Equal(t, "/v2/text-to-3d", rec.path)
	assert.Equal(t, "realistic", rec.body["style"])
	assert.Equal(t, "blurry, distorted, low quality", rec.body["negative_prompt"])
}

func TestMeshyClient_SubmitWithoutID(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"status":"processing"}`)
	_, err := NewMeshyClient(srv.URL, "msy-key", time.Second).SubmitModel(context.Background(), ModelRequest{Prompt: "Medusa"})
	assertKind(t, err, KindMalformedResponse)
}

func TestMeshyClient_StatusProcessingIsIdempotent(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{"id":"abc123","status":"IN_PROGRESS","progress":40}`)
	c := NewMeshyClient(srv.URL, "msy-key", time.Second)

	for i := 0; i < 3; i++ {
		task, err := c.ModelStatus(context.Background(), "abc123", "")
		require.NoError(t, err)
		assert.Equal(t, "abc123", task.TaskID)
		assert.Equal(t, model.TaskProcessing, task.Status)
	}
	assert.Equal(t, "/v2/text-to-3d/abc123", rec.path)
	assert.Equal(t, int32(3), rec.hits.Load())
}

func TestMeshyClient_StatusTerminal(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  *model.ModelTask
		kind  Kind
		msg   string
	}{
		{
			name:  "嵌套output",
			reply: `{"status":"succeeded","output":{"viewer_url":"https://v/1","glb":"https://g/1.glb","thumbnail":"https://t/1.png"}}`,
			want:  &model.ModelTask{TaskID: "abc123", Status: model.TaskCompleted, ViewerURL: "https://v/1", GlbURL: "https://g/1.glb", ThumbnailURL: "https://t/1.png"},
		},
		{
			name:  "顶层字段",
			reply: `{"status":"completed","viewer_url":"https://v/2","glb":"https://g/2.glb","thumbnail":"https://t/2.png"}`,
			want:  &model.ModelTask{TaskID: "abc123", Status: model.TaskCompleted, ViewerURL: "https://v/2", GlbURL: "https://g/2.glb", ThumbnailURL: "https://t/2.png"},
		},
		{
			name:  "失败带原因",
			reply: `{"status":"failed","error":"content policy"}`,
			kind:  KindTaskFailed,
			msg:   "Model generation failed: content policy",
		},
		{
			name:  "失败无原因",
			reply: `{"status":"failed"}`,
			kind:  KindTaskFailed,
			msg:   "Model generation failed: Model generation failed without specific error",
		},
		{
			name:  "完成但无模型",
			reply: `{"id":"abc123","status":"SUCCEEDED"}`,
			kind:  KindMalformedResponse,
			msg:   "No model returned",
		},
		{
			name:  "只有缩略图",
			reply: `{"status":"succeeded","output":{"thumbnail":"https://t/3.png"}}`,
			kind:  KindMalformedResponse,
			msg:   "No model returned",
		},
		{
			name:  "过期",
			reply: `{"status":"EXPIRED"}`,
			kind:  KindTaskFailed,
			msg:   "Model generation expired",
		},
		{
			name:  "已取消",
			reply: `{"status":"CANCELED"}`,
			kind:  KindTaskFailed,
			msg:   "Model generation canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, http.StatusOK, tt.reply)
			task, err := NewMeshyClient(srv.URL, "msy-key", time.Second).ModelStatus(context.Background(), "abc123", "")
			if tt.kind != "" {
				assertKind(t, err, tt.kind)
				assert.Equal(t, tt.msg, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, task)
		})
	}
}

func TestMasterpieceXClient(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{"id":"mpx-1"}`)
	c := NewMasterpieceXClient(srv.URL, "zpka", time.Second)

	task, err := c.SubmitModel(context.Background(), ModelRequest{Prompt: "Quetzalcoatl"})
	require.NoError(t, err)
	assert.Equal(t, "mpx-1", task.TaskID)
	assert.Equal(t, "masterpiece-3d-v1.0", rec.body["model"])
	assert.Equal(t, "/v1/image", rec.path)

	done, _ := newTestServer(t, http.StatusOK, `{"status":"completed","output":{"html_url":"https://h","download_url":"https://d.glb","image_url":"https://i.png"}}`)
	status, err := NewMasterpieceXClient(done.URL, "zpka", time.Second).ModelStatus(context.Background(), "mpx-1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://h", status.ViewerURL)
	assert.Equal(t, "https://d.glb", status.GlbURL)
	assert.Equal(t, "https://i.png", status.ThumbnailURL)
}

func TestModelStatus_NetworkFailure(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{}`)
	srv.Close()

	_, err := NewMeshyClient(srv.URL, "msy-key", time.Second).ModelStatus(context.Background(), "abc123", "")
	assertKind(t, err, KindNetworkFailure)
}

// ==================== 文本/语音（中转） ====================

func TestTextClient_GenerateStory(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{"title":"The Trials of Odysseus","story":"Long ago...","storyArcs":[{"title":"Troy","content":"The war ends."}]}`)
	c := NewTextClient(srv.URL, "anon", time.Second)

	req := model.GenerationRequest{Mythology: "Greek", Theme: "Heroism", Length: model.LengthShort}
	story, err := c.GenerateStory(context.Background(), req, "")
	require.NoError(t, err)

	assert.Equal(t, "The Trials of Odysseus", story.Title)
	assert.Len(t, story.StoryArcs, 1)
	assert.Equal(t, req, *story.StoryPrompt)
	assert.Equal(t, "/functions/v1/generate-story", rec.path)
	assert.Equal(t, "anon", rec.header.Get("apikey"))
	assert.Equal(t, "Greek", rec.body["mythology"])
	assert.Equal(t, "short", rec.body["length"])
}

func TestTextClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		reply    string
		req      model.GenerationRequest
		key      string
		wantKind Kind
		wantHits int32
	}{
		{"神话为空", 200, `{}`, model.GenerationRequest{}, "anon", KindInvalidInput, 0},
		{"没有凭证", 200, `{}`, model.GenerationRequest{Mythology: "Greek"}, "", KindMissingCredential, 0},
		{"缺少标题", 200, `{"title":"","story":"x"}`, model.GenerationRequest{Mythology: "Greek"}, "anon", KindMalformedResponse, 1},
		{"配额用尽", 429, `{"error":"rate limited"}`, model.GenerationRequest{Mythology: "Greek"}, "anon", KindUpstreamRejected, 1},
		{"中转失败", 500, `{"error":"upstream down","title":"","story":""}`, model.GenerationRequest{Mythology: "Greek"}, "anon", KindUpstreamRejected, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newTestServer(t, tt.status, tt.reply)
			c := NewTextClient(srv.URL, tt.key, time.Second)

			story, err := c.GenerateStory(context.Background(), tt.req, "")
			assert.Nil(t, story)
			assertKind(t, err, tt.wantKind)
			assert.Equal(t, tt.wantHits, rec.hits.Load())
		})
	}
}

func TestTextClient_QuotaMessage(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusTooManyRequests, `{"error":"rate limited"}`)
	_, err := NewTextClient(srv.URL, "anon", time.Second).GenerateStory(context.Background(), model.GenerationRequest{Mythology: "Greek"}, "")

	assert.True(t, IsQuotaExceeded(err))
	assert.Contains(t, err.Error(), "try again later")
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(err))
}

func TestVoiceClient_GenerateVoice(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{"audioContent":"SUQz","format":"mp3"}`)
	c := NewVoiceClient(srv.URL, "anon", time.Second)

	audio, err := c.GenerateVoice(context.Background(), VoiceRequest{Text: "Sing, O Muse", VoiceID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, &model.AudioResult{AudioContent: "SUQz", Format: "mp3"}, audio)
	assert.Equal(t, "/functions/v1/generate-voice", rec.path)
	assert.Equal(t, "v1", rec.body["voiceId"])

	_, err = c.GenerateVoice(context.Background(), VoiceRequest{Text: " "})
	assertKind(t, err, KindInvalidInput)
	assert.Equal(t, "Text content is required", err.Error())
}

func TestUpstreamMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"message":"bad prompt"}`, "bad prompt"},
		{`{"error":"nope"}`, "nope"},
		{`{"error":{"message":"nested"}}`, "nested"},
		{`{"detail":"details here"}`, "details here"},
		{`{"other":1}`, "fallback"},
		{`<html>`, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, upstreamMessage([]byte(tt.body), "fallback"))
		})
	}
}

func TestErrorUnwrapAndStatus(t *testing.T) {
	err := NetworkFailure("Meshy", context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(err))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidInput("x", "y")))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(MissingCredential("x")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
	assert.True(t, strings.HasPrefix(MaskKey("sk-abcdefgh"), "sk-ab"))
}
