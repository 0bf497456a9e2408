// Package assistant serves the career assistant features: chat, quizzes,
// speech and video generation.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/skyline-api/internal/gateway"
	"github.com/ksred/skyline-api/pkg/response"
	"github.com/ksred/skyline-api/pkg/retry"
	"github.com/rs/zerolog/log"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrVideoNotFound        = errors.New("video job not found")
	ErrEmptyInput           = errors.New("input must not be empty")
)

func init() {
	response.Register(ErrConversationNotFound, http.StatusNotFound, response.ErrCodeNotFound)
	response.Register(ErrVideoNotFound, http.StatusNotFound, response.ErrCodeNotFound)
	response.Register(ErrEmptyInput, http.StatusBadRequest, response.ErrCodeValidationFailed)
}

const chatSystemPrompt = "You are a friendly career mentor for people moving into technology roles. Keep answers short and concrete."

type chat struct {
	// held for the whole exchange so messages are answered in order
	mu   sync.Mutex
	conv Conversation
}

// Service holds conversations and video jobs in memory
type Service struct {
	gateway      gateway.Gateway
	video        gateway.VideoGateway
	retry        retry.Config
	historyLimit int
	now          func() time.Time

	mu    sync.RWMutex
	chats map[string]*chat
	jobs  map[string]*VideoJob
}

// NewService creates the assistant. historyLimit bounds the messages kept per
// conversation; zero keeps everything.
func NewService(gw gateway.Gateway, video gateway.VideoGateway, cfg retry.Config, historyLimit int) *Service {
	cfg.Retryable = gateway.Retryable
	return &Service{
		gateway:      gw,
		video:        video,
		retry:        cfg,
		historyLimit: historyLimit,
		now:          time.Now,
		chats:        make(map[string]*chat),
		jobs:         make(map[string]*VideoJob),
	}
}

// OpenConversation creates an empty conversation for owner
func (s *Service) OpenConversation(owner, topic string) Conversation {
	now := s.now()
	conv := Conversation{
		ID:        "CHT_" + uuid.New().String(),
		Owner:     owner,
		Topic:     strings.TrimSpace(topic),
		History:   []gateway.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.chats[conv.ID] = &chat{conv: conv}
	s.mu.Unlock()
	return conv
}

func (s *Service) chat(owner, id string) (*chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.chats[id]
	if !ok || ch.conv.Owner != owner {
		return nil, ErrConversationNotFound
	}
	return ch, nil
}

// Conversation returns a copy of a conversation
func (s *Service) Conversation(owner, id string) (Conversation, error) {
	ch, err := s.chat(owner, id)
	if err != nil {
		return Conversation{}, err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	conv := ch.conv
	conv.History = slices.Clone(ch.conv.History)
	return conv, nil
}

// CloseConversation forgets a conversation
func (s *Service) CloseConversation(owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chats[id]
	if !ok || ch.conv.Owner != owner {
		return ErrConversationNotFound
	}
	delete(s.chats, id)
	return nil
}

// Send performs one exchange. The history is only extended when the
// provider answers, so a failed call can simply be repeated.
func (s *Service) Send(ctx context.Context, owner, id, message string) (ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatReply{}, ErrEmptyInput
	}
	ch, err := s.chat(owner, id)
	if err != nil {
		return ChatReply{}, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	system := chatSystemPrompt
	if ch.conv.Topic != "" {
		system += " The conversation is about " + ch.conv.Topic + "."
	}

	reply, err := s.gateway.Chat(ctx, system, slices.Clone(ch.conv.History), message)
	if err != nil {
		log.Warn().
			Str("service", "assistant").
			Str("conversation_id", id).
			Str("status", gateway.Status(err)).
			Err(err).
			Msg("chat exchange failed")
		return ChatReply{}, err
	}

	history := append(ch.conv.History,
		gateway.Message{Role: gateway.RoleUser, Content: message},
		gateway.Message{Role: gateway.RoleAssistant, Content: reply},
	)
	if s.historyLimit > 0 && len(history) > s.historyLimit {
		history = slices.Clone(history[len(history)-s.historyLimit:])
	}
	ch.conv.History = history
	ch.conv.UpdatedAt = s.now()

	return ChatReply{ConversationID: id, Reply: reply}, nil
}

// GenerateQuiz asks for a question, retrying transient failures
func (s *Service) GenerateQuiz(ctx context.Context, topic, background string) (gateway.Quiz, error) {
	if strings.TrimSpace(topic) == "" {
		return gateway.Quiz{}, ErrEmptyInput
	}
	return retry.DoWithResult(ctx, s.retry, func(ctx context.Context) (gateway.Quiz, error) {
		return s.gateway.GenerateQuiz(ctx, topic, background)
	})
}

// EvaluateQuiz grades an answer. It is not retried: a second grading of the
// same answer may differ from the first.
func (s *Service) EvaluateQuiz(ctx context.Context, question, answer string) (gateway.Evaluation, error) {
	if strings.TrimSpace(question) == "" || strings.TrimSpace(answer) == "" {
		return gateway.Evaluation{}, ErrEmptyInput
	}
	return s.gateway.EvaluateQuiz(ctx, question, answer)
}

// Speech returns synthesized audio for text
func (s *Service) Speech(ctx context.Context, text string) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	return s.gateway.Speech(ctx, text)
}

// StartVideo submits a generation and tracks it as a job
func (s *Service) StartVideo(ctx context.Context, owner, prompt string) (VideoJob, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return VideoJob{}, ErrEmptyInput
	}

	op, err := s.video.StartVideo(ctx, prompt)
	if err != nil {
		return VideoJob{}, err
	}

	now := s.now()
	job := &VideoJob{
		ID:          "VID_" + uuid.New().String(),
		Owner:       owner,
		Prompt:      prompt,
		OperationID: op.ID,
		State:       VideoRunning,
		Status:      gateway.Status(nil),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	applyOperation(job, op)

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	log.Info().
		Str("service", "assistant").
		Str("video_id", job.ID).
		Str("operation_id", op.ID).
		Msg("video generation started")
	return *job, nil
}

// Video returns a job owned by owner
func (s *Service) Video(owner, id string) (VideoJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok || job.Owner != owner {
		return VideoJob{}, ErrVideoNotFound
	}
	return *job, nil
}

// Evict forgets finished video jobs and conversations last updated before
// cutoff. A conversation in the middle of an exchange is kept.
func (s *Service) Evict(cutoff time.Time) (chats, jobs int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if job.Finished() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			jobs++
		}
	}
	for id, ch := range s.chats {
		if !ch.mu.TryLock() {
			continue
		}
		stale := ch.conv.UpdatedAt.Before(cutoff)
		ch.mu.Unlock()
		if stale {
			delete(s.chats, id)
			chats++
		}
	}
	return chats, jobs
}

// pendingVideos snapshots the unfinished jobs
func (s *Service) pendingVideos() []VideoJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []VideoJob
	for _, job := range s.jobs {
		if !job.Finished() {
			pending = append(pending, *job)
		}
	}
	return pending
}

// updateVideo applies fn to the stored job unless it already finished
func (s *Service) updateVideo(id string, fn func(*VideoJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && !job.Finished() {
		fn(job)
		job.UpdatedAt = s.now()
	}
}

func applyOperation(job *VideoJob, op gateway.VideoOperation) {
	switch {
	case op.Error != "":
		job.State = VideoFailed
		job.Error = op.Error
	case op.Done:
		job.State = VideoDone
		job.URI = op.URI
	}
}

// failVideo marks a job failed with a message
func failVideo(job *VideoJob, format string, args ...any) {
	job.State = VideoFailed
	job.Error = fmt.Sprintf(format, args...)
}
