// Package gateway adapts the hosted AI provider behind the operations the
// dashboard needs: roadmaps, chat, quizzes, speech and video generation.
package gateway

import (
	"context"
	"fmt"
	"io"

	"github.com/ksred/skyline-api/internal/metrics"
)

// Role of a chat message author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RoadmapStep is one stage of a learning roadmap
type RoadmapStep struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Skills        []string `json:"skills"`
	Resources     []string `json:"resources"`
	DurationWeeks int      `json:"duration_weeks"`
}

// RoadmapDocument is the structured roadmap the provider must return
type RoadmapDocument struct {
	Title   string        `json:"title"`
	Domain  string        `json:"domain"`
	Role    string        `json:"role"`
	Summary string        `json:"summary"`
	Steps   []RoadmapStep `json:"steps"`
}

// Validate enforces the invariants the schema cannot express
func (d RoadmapDocument) Validate() error {
	if d.Title == "" {
		return fmt.Errorf("%w: roadmap has no title", ErrBadResponse)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: roadmap has no steps", ErrBadResponse)
	}
	for i, s := range d.Steps {
		if s.Title == "" {
			return fmt.Errorf("%w: step %d has no title", ErrBadResponse, i+1)
		}
		if s.DurationWeeks < 0 {
			return fmt.Errorf("%w: step %d has negative duration", ErrBadResponse, i+1)
		}
	}
	return nil
}

// Quiz is a generated question with the scenario it refers to
type Quiz struct {
	Question string `json:"question"`
	Context  string `json:"context"`
}

// Evaluation grades an answer from 0 to 10
type Evaluation struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// Gateway is the set of request/response operations the API consumes
type Gateway interface {
	GenerateRoadmap(ctx context.Context, domain, role string) (RoadmapDocument, error)
	Chat(ctx context.Context, systemPrompt string, history []Message, message string) (string, error)
	GenerateQuiz(ctx context.Context, topic, context string) (Quiz, error)
	EvaluateQuiz(ctx context.Context, question, answer string) (Evaluation, error)
	// Speech returns the synthesized audio stream; callers must close it.
	Speech(ctx context.Context, text string) (io.ReadCloser, error)
}

// VideoOperation is the polling handle of a long-running video generation
type VideoOperation struct {
	ID    string `json:"id"`
	Done  bool   `json:"done"`
	URI   string `json:"uri,omitempty"`
	Error string `json:"error,omitempty"`
}

// VideoGateway starts and polls video generations
type VideoGateway interface {
	StartVideo(ctx context.Context, prompt string) (VideoOperation, error)
	PollVideo(ctx context.Context, id string) (VideoOperation, error)
}

// observe records the outcome of one provider call
func observe(operation string, err error) {
	metrics.GatewayRequests.WithLabelValues(operation, Status(err)).Inc()
}

// Unconfigured fails every call with ErrInvalidKey. It stands in when no API
// key is configured so the rest of the API keeps working.
type Unconfigured struct{}

var errNoKey = fmt.Errorf("%w: no API key configured", ErrInvalidKey)

func (Unconfigured) GenerateRoadmap(context.Context, string, string) (RoadmapDocument, error) {
	return RoadmapDocument{}, errNoKey
}

func (Unconfigured) Chat(context.Context, string, []Message, string) (string, error) {
	return "", errNoKey
}

func (Unconfigured) GenerateQuiz(context.Context, string, string) (Quiz, error) {
	return Quiz{}, errNoKey
}

func (Unconfigured) EvaluateQuiz(context.Context, string, string) (Evaluation, error) {
	return Evaluation{}, errNoKey
}

func (Unconfigured) Speech(context.Context, string) (io.ReadCloser, error) {
	return nil, errNoKey
}

func (Unconfigured) StartVideo(context.Context, string) (VideoOperation, error) {
	return VideoOperation{}, errNoKey
}

func (Unconfigured) PollVideo(context.Context, string) (VideoOperation, error) {
	return VideoOperation{}, errNoKey
}
