package assistant

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/skyline-api/internal/gateway"
	"github.com/ksred/skyline-api/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu          sync.Mutex
	chatErr     error
	lastHistory []gateway.Message
	quizErrs    []error
	quizCalls   int
	evalErr     error
	evalCalls   int
	polls       map[string][]pollResult
}

type pollResult struct {
	op  gateway.VideoOperation
	err error
}

func (f *fakeGateway) GenerateRoadmap(context.Context, string, string) (gateway.RoadmapDocument, error) {
	return gateway.RoadmapDocument{}, nil
}

func (f *fakeGateway) Chat(_ context.Context, _ string, history []gateway.Message, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHistory = history
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return "re: " + message, nil
}

func (f *fakeGateway) GenerateQuiz(_ context.Context, topic, _ string) (gateway.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quizCalls++
	if len(f.quizErrs) > 0 {
		err := f.quizErrs[0]
		f.quizErrs = f.quizErrs[1:]
		return gateway.Quiz{}, err
	}
	return gateway.Quiz{Question: "What is " + topic + "?", Context: topic}, nil
}

func (f *fakeGateway) EvaluateQuiz(context.Context, string, string) (gateway.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalCalls++
	if f.evalErr != nil {
		return gateway.Evaluation{}, f.evalErr
	}
	return gateway.Evaluation{Score: 7, Feedback: "solid"}, nil
}

func (f *fakeGateway) Speech(_ context.Context, text string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("mp3:" + text)), nil
}

func (f *fakeGateway) StartVideo(_ context.Context, prompt string) (gateway.VideoOperation, error) {
	return gateway.VideoOperation{ID: "op-" + prompt}, nil
}

func (f *fakeGateway) PollVideo(_ context.Context, id string) (gateway.VideoOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := f.polls[id]
	if len(results) == 0 {
		return gateway.VideoOperation{ID: id}, nil
	}
	f.polls[id] = results[1:]
	return results[0].op, results[0].err
}

func newTestService(gw *fakeGateway, historyLimit int) *Service {
	return NewService(gw, gw, retry.Config{
		MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1,
	}, historyLimit)
}

func TestChatKeepsBoundedHistory(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestService(gw, 4)
	conv := s.OpenConversation("alice", "clearing")

	for i := 1; i <= 3; i++ {
		reply, err := s.Send(context.Background(), "alice", conv.ID, fmt.Sprintf("q%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("re: q%d", i), reply.Reply)
	}

	got, err := s.Conversation("alice", conv.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 4)
	assert.Equal(t, "q2", got.History[0].Content)
	assert.Equal(t, gateway.RoleAssistant, got.History[3].Role)
	assert.Len(t, gw.lastHistory, 4, "the third exchange saw the first two")
}

func TestFailedExchangeLeavesHistory(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestService(gw, 0)
	conv := s.OpenConversation("alice", "")

	_, err := s.Send(context.Background(), "alice", conv.ID, "hello")
	require.NoError(t, err)

	gw.chatErr = fmt.Errorf("chat: %w", gateway.ErrUnavailable)
	_, err = s.Send(context.Background(), "alice", conv.ID, "still there?")
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	got, _ := s.Conversation("alice", conv.ID)
	assert.Len(t, got.History, 2)
}

func TestConversationOwnership(t *testing.T) {
	s := newTestService(&fakeGateway{}, 0)
	conv := s.OpenConversation("alice", "")

	_, err := s.Send(context.Background(), "bob", conv.ID, "hi")
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, s.CloseConversation("bob", conv.ID), ErrConversationNotFound)
	_, err = s.Send(context.Background(), "alice", conv.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	require.NoError(t, s.CloseConversation("alice", conv.ID))
	_, err = s.Conversation("alice", conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestQuizGenerationRetriesButEvaluationDoesNot(t *testing.T) {
	gw := &fakeGateway{
		quizErrs: []error{fmt.Errorf("quiz: %w", gateway.ErrRateLimited)},
		evalErr:  fmt.Errorf("evaluate: %w", gateway.ErrUnavailable),
	}
	s := newTestService(gw, 0)

	q, err := s.GenerateQuiz(context.Background(), "netting", "")
	require.NoError(t, err)
	assert.Equal(t, "What is netting?", q.Question)
	assert.Equal(t, 2, gw.quizCalls)

	_, err = s.EvaluateQuiz(context.Background(), q.Question, "offsetting obligations")
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Equal(t, 1, gw.evalCalls)
}

func TestPollerDrivesVideoJobs(t *testing.T) {
	gw := &fakeGateway{polls: map[string][]pollResult{
		"op-done": {
			{op: gateway.VideoOperation{ID: "op-done"}},
			{err: fmt.Errorf("poll: %w", gateway.ErrUnavailable)},
			{op: gateway.VideoOperation{ID: "op-done", Done: true, URI: "https://cdn/v.mp4"}},
		},
		"op-key": {
			{err: fmt.Errorf("poll: %w", gateway.ErrInvalidKey)},
		},
	}}
	s := newTestService(gw, 0)
	p := NewPoller(s, time.Hour, time.Hour, 0)

	done, err := s.StartVideo(context.Background(), "alice", "done")
	require.NoError(t, err)
	key, err := s.StartVideo(context.Background(), "alice", "key")
	require.NoError(t, err)
	assert.Equal(t, VideoRunning, done.State)

	assert.Equal(t, 1, p.PollOnce(context.Background()))
	got, _ := s.Video("alice", key.ID)
	assert.Equal(t, VideoFailed, got.State)
	assert.Equal(t, "Invalid Key", got.Status)

	assert.Equal(t, 1, p.PollOnce(context.Background()))
	got, _ = s.Video("alice", done.ID)
	assert.Equal(t, "Connection Error", got.Status)
	assert.Equal(t, VideoRunning, got.State)

	assert.Equal(t, 0, p.PollOnce(context.Background()))
	got, _ = s.Video("alice", done.ID)
	assert.Equal(t, VideoDone, got.State)
	assert.Equal(t, "https://cdn/v.mp4", got.URI)
	assert.Equal(t, 3, got.Polls)

	_, err = s.Video("bob", done.ID)
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestPollerTimesOutJobs(t *testing.T) {
	gw := &fakeGateway{polls: map[string][]pollResult{}}
	s := newTestService(gw, 0)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }

	job, err := s.StartVideo(context.Background(), "alice", "slow")
	require.NoError(t, err)

	p := NewPoller(s, time.Second, time.Minute, 0)
	assert.Equal(t, 1, p.PollOnce(context.Background()))

	s.now = func() time.Time { return start.Add(2 * time.Minute) }
	assert.Equal(t, 0, p.PollOnce(context.Background()))
	got, _ := s.Video("alice", job.ID)
	assert.Equal(t, VideoFailed, got.State)
	assert.Contains(t, got.Error, "timed out")
}

func TestPollerEvictsStaleState(t *testing.T) {
	gw := &fakeGateway{polls: map[string][]pollResult{
		"op-old": {{op: gateway.VideoOperation{ID: "op-old", Done: true, URI: "https://cdn/old.mp4"}}},
	}}
	s := newTestService(gw, 0)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	ctx := context.Background()

	conv := s.OpenConversation("alice", "sql")
	old, err := s.StartVideo(ctx, "alice", "old")
	require.NoError(t, err)
	running, err := s.StartVideo(ctx, "alice", "running")
	require.NoError(t, err)

	p := NewPoller(s, time.Second, 0, time.Hour)
	assert.Equal(t, 1, p.PollOnce(ctx))

	chats, jobs := p.Sweep()
	assert.Zero(t, chats)
	assert.Zero(t, jobs)

	s.now = func() time.Time { return start.Add(2 * time.Hour) }
	chats, jobs = p.Sweep()
	assert.Equal(t, 1, chats)
	assert.Equal(t, 1, jobs)

	_, err = s.Video("alice", old.ID)
	assert.ErrorIs(t, err, ErrVideoNotFound)
	_, err = s.Video("alice", running.ID)
	assert.NoError(t, err)
	_, err = s.Conversation("alice", conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	chats, jobs = NewPoller(s, time.Second, 0, 0).Sweep()
	assert.Zero(t, chats+jobs)
}

func TestPollerStopsOnCancel(t *testing.T) {
	s := newTestService(&fakeGateway{}, 0)
	p := NewPoller(s, time.Millisecond, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestService(&fakeGateway{}, 0)
	r := gin.New()
	group := r.Group("/assistant", func(c *gin.Context) {
		c.Set("claims", jwt.MapClaims{"client_id": "alice"})
	})
	NewGinHandlers(s).RegisterRoutes(group)

	post := func(path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := post("/assistant/speech", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "mp3:hello", w.Body.String())

	assert.Equal(t, http.StatusBadRequest, post("/assistant/speech", `{}`).Code)
	assert.Equal(t, http.StatusCreated, post("/assistant/quiz", `{"topic":"dv01"}`).Code)
	assert.Equal(t, http.StatusCreated, post("/assistant/chat/sessions", ``).Code)
	assert.Equal(t, http.StatusNotFound, post("/assistant/chat/sessions/CHT_x/messages", `{"message":"hi"}`).Code)
}
