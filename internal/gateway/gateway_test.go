package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ksred/skyline-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

func apiError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"invalid_request_error","code":"x"}}`, msg)
}

func newClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOpenAIClient(config.AIConfig{
		APIKey:         "sk-test",
		BaseURL:        srv.URL + "/v1",
		ChatModel:      "chat-test",
		RoadmapModel:   "roadmap-test",
		SpeechModel:    "tts-test",
		Voice:          "alloy",
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

const roadmapJSON = `{"title":"Backend in fintech","domain":"fintech","role":"backend engineer","summary":"From zero to shipping services",
"steps":[{"title":"Learn Go","description":"Syntax and tooling","skills":["go"],"resources":["tour.golang.org"],"duration_weeks":4},
{"title":"Payments basics","description":"Ledgers and settlement","skills":["double entry"],"resources":["docs"],"duration_weeks":3}]}`

func TestGenerateRoadmap(t *testing.T) {
	var captured map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completion(roadmapJSON))
	})

	doc, err := c.GenerateRoadmap(context.Background(), "fintech", "backend engineer")
	require.NoError(t, err)
	assert.Equal(t, "Backend in fintech", doc.Title)
	require.Len(t, doc.Steps, 2)
	assert.Equal(t, 4, doc.Steps[0].DurationWeeks)

	assert.Equal(t, "roadmap-test", captured["model"])
	format, ok := captured["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
}

func TestGenerateRoadmapRejectsMalformedDocument(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "here is your roadmap!"},
		{"missing steps field", `{"title":"x","domain":"d","role":"r","summary":"s"}`},
		{"empty steps", `{"title":"x","domain":"d","role":"r","summary":"s","steps":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, completion(tt.content))
			})
			_, err := c.GenerateRoadmap(context.Background(), "d", "r")
			assert.ErrorIs(t, err, ErrBadResponse)
			assert.True(t, Retryable(err))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
		text   string
	}{
		{"unauthorized", http.StatusUnauthorized, ErrInvalidKey, "Invalid Key"},
		{"forbidden", http.StatusForbidden, ErrInvalidKey, "Invalid Key"},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited, "Rate Limited"},
		{"server error", http.StatusBadGateway, ErrUnavailable, "Connection Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				apiError(w, tt.status, "nope")
			})
			_, err := c.Chat(context.Background(), "", nil, "hello")
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.text, Status(err))
		})
	}
}

func TestUnreachableProviderIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewOpenAIClient(config.AIConfig{APIKey: "k", BaseURL: base + "/v1", RequestTimeout: time.Second})
	require.NoError(t, err)
	_, err = c.GenerateQuiz(context.Background(), "settlement", "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "Connection Error", Status(err))
}

func TestChatSendsHistoryInOrder(t *testing.T) {
	var req struct {
		Messages []Message `json:"messages"`
	}
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completion("T+2 for most equities"))
	})

	reply, err := c.Chat(context.Background(), "be brief", []Message{
		{Role: RoleUser, Content: "what is settlement?"},
		{Role: RoleAssistant, Content: "the exchange of cash and securities"},
	}, "and the cycle?")
	require.NoError(t, err)
	assert.Equal(t, "T+2 for most equities", reply)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, Role("system"), req.Messages[0].Role)
	assert.Equal(t, "and the cycle?", req.Messages[3].Content)
}

func TestQuizRoundTrip(t *testing.T) {
	calls := 0
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			io.WriteString(w, completion(`{"question":"Why net trades before settlement?","context":"clearing"}`))
			return
		}
		io.WriteString(w, completion(`{"score":11,"feedback":"too generous"}`))
	})

	q, err := c.GenerateQuiz(context.Background(), "clearing", "junior ops")
	require.NoError(t, err)
	assert.Equal(t, "clearing", q.Context)

	_, err = c.EvaluateQuiz(context.Background(), q.Question, "to reduce transfers")
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestSpeechStreamsAudio(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-audio"))
	})

	audio, err := c.Speech(context.Background(), "hello")
	require.NoError(t, err)
	defer audio.Close()
	data, err := io.ReadAll(audio)
	require.NoError(t, err)
	assert.Equal(t, "ID3-audio", string(data))
}

func TestVideoClient(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/videos":
			io.WriteString(w, `{"id":"op-1","done":false}`)
		case r.Method == http.MethodGet && r.URL.Path == "/videos/op-1":
			polls++
			if polls < 2 {
				io.WriteString(w, `{"id":"op-1","done":false}`)
				return
			}
			io.WriteString(w, `{"id":"op-1","done":true,"uri":"https://cdn/video.mp4"}`)
		case r.URL.Path == "/videos/denied":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewVideoClient(config.AIConfig{APIKey: "k", VideoURL: srv.URL + "/", RequestTimeout: time.Second})
	op, err := c.StartVideo(context.Background(), "a trading floor at dusk")
	require.NoError(t, err)
	assert.Equal(t, "op-1", op.ID)

	op, err = c.PollVideo(context.Background(), op.ID)
	require.NoError(t, err)
	assert.False(t, op.Done)
	op, err = c.PollVideo(context.Background(), op.ID)
	require.NoError(t, err)
	assert.True(t, op.Done)
	assert.Equal(t, "https://cdn/video.mp4", op.URI)

	_, err = c.PollVideo(context.Background(), "denied")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestStatusAndUnconfigured(t *testing.T) {
	assert.Equal(t, "OK", Status(nil))
	assert.Equal(t, "Error", Status(errors.New("boom")))
	assert.Equal(t, "Cancelled", Status(fmt.Errorf("x: %w", context.Canceled)))

	var g Gateway = Unconfigured{}
	_, err := g.Chat(context.Background(), "", nil, "hi")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.False(t, Retryable(err))
}
