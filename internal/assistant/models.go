package assistant

import (
	"time"

	"github.com/ksred/skyline-api/internal/gateway"
)

// Video job states
const (
	VideoRunning = "RUNNING"
	VideoDone    = "DONE"
	VideoFailed  = "FAILED"
)

// Conversation is a chat handle owned by one client
type Conversation struct {
	ID        string            `json:"id"`
	Owner     string            `json:"-"`
	Topic     string            `json:"topic,omitempty"`
	History   []gateway.Message `json:"history"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// VideoJob tracks one long-running video generation. Status is the
// user-visible gateway status of the last poll.
type VideoJob struct {
	ID          string    `json:"id"`
	Owner       string    `json:"-"`
	Prompt      string    `json:"prompt"`
	OperationID string    `json:"operation_id,omitempty"`
	State       string    `json:"state"`
	Status      string    `json:"status"`
	URI         string    `json:"uri,omitempty"`
	Error       string    `json:"error,omitempty"`
	Polls       int       `json:"polls"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Finished reports whether the job reached a terminal state
func (j VideoJob) Finished() bool {
	return j.State == VideoDone || j.State == VideoFailed
}

// ChatRequest is one user message
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// ConversationRequest opens a conversation
type ConversationRequest struct {
	Topic string `json:"topic"`
}

// ChatReply is the assistant's answer to one message
type ChatReply struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
}

// QuizRequest asks for a question on topic
type QuizRequest struct {
	Topic   string `json:"topic" binding:"required"`
	Context string `json:"context"`
}

// EvaluateRequest grades an answer
type EvaluateRequest struct {
	Question string `json:"question" binding:"required"`
	Answer   string `json:"answer" binding:"required"`
}

// SpeechRequest synthesizes text
type SpeechRequest struct {
	Text string `json:"text" binding:"required"`
}

// VideoRequest starts a video generation
type VideoRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}
