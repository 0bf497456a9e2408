package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ksred/skyline-api/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

const (
	roadmapSystemPrompt = "You design practical learning roadmaps for people entering technology careers. " +
		"Answer only with the requested JSON document."
	quizSystemPrompt = "You write one short scenario-based interview question for the given topic. " +
		"Answer only with the requested JSON document."
	evaluateSystemPrompt = "You grade a candidate's answer from 0 to 10 and explain the grade in two or three sentences. " +
		"Answer only with the requested JSON document."
)

// OpenAIClient implements Gateway using the OpenAI API
type OpenAIClient struct {
	client       *openai.Client
	chatModel    string
	roadmapModel string
	speechModel  string
	voice        string

	roadmapSchema    *jsonschema.Definition
	quizSchema       *jsonschema.Definition
	evaluationSchema *jsonschema.Definition
}

// NewOpenAIClient creates a client from the ai config section
func NewOpenAIClient(cfg config.AIConfig) (*OpenAIClient, error) {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	c := &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		chatModel:    cfg.ChatModel,
		roadmapModel: cfg.RoadmapModel,
		speechModel:  cfg.SpeechModel,
		voice:        cfg.Voice,
	}

	var err error
	if c.roadmapSchema, err = jsonschema.GenerateSchemaForType(RoadmapDocument{}); err != nil {
		return nil, fmt.Errorf("roadmap schema: %w", err)
	}
	if c.quizSchema, err = jsonschema.GenerateSchemaForType(Quiz{}); err != nil {
		return nil, fmt.Errorf("quiz schema: %w", err)
	}
	if c.evaluationSchema, err = jsonschema.GenerateSchemaForType(Evaluation{}); err != nil {
		return nil, fmt.Errorf("evaluation schema: %w", err)
	}
	return c, nil
}

// structured asks for a JSON document matching schema and decodes it into target
func (c *OpenAIClient) structured(ctx context.Context, op, model string, schema *jsonschema.Definition, system, user string, target any) error {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   op,
				Schema: schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return classify(op, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%s: %w: no choices", op, ErrBadResponse)
	}
	if err := schema.Unmarshal(resp.Choices[0].Message.Content, target); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrBadResponse, err)
	}
	return nil
}

// GenerateRoadmap requests a roadmap document for a domain and role
func (c *OpenAIClient) GenerateRoadmap(ctx context.Context, domain, role string) (doc RoadmapDocument, err error) {
	defer func() { observe("roadmap", err) }()

	user := fmt.Sprintf("Domain: %s\nTarget role: %s\nProduce a roadmap of 4 to 8 ordered steps.", domain, role)
	if err = c.structured(ctx, "roadmap", c.roadmapModel, c.roadmapSchema, roadmapSystemPrompt, user, &doc); err != nil {
		return RoadmapDocument{}, err
	}
	if err = doc.Validate(); err != nil {
		return RoadmapDocument{}, fmt.Errorf("roadmap: %w", err)
	}
	return doc, nil
}

// Chat sends one user message with the prior history and returns the reply
func (c *OpenAIClient) Chat(ctx context.Context, systemPrompt string, history []Message, message string) (reply string, err error) {
	defer func() { observe("chat", err) }()

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: messages,
	})
	if err != nil {
		return "", classify("chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat: %w: no choices", ErrBadResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateQuiz asks for one question about topic
func (c *OpenAIClient) GenerateQuiz(ctx context.Context, topic, background string) (q Quiz, err error) {
	defer func() { observe("quiz_generate", err) }()

	user := fmt.Sprintf("Topic: %s\nBackground: %s", topic, background)
	if err = c.structured(ctx, "quiz", c.chatModel, c.quizSchema, quizSystemPrompt, user, &q); err != nil {
		return Quiz{}, err
	}
	if q.Question == "" {
		return Quiz{}, fmt.Errorf("quiz: %w: empty question", ErrBadResponse)
	}
	return q, nil
}

// EvaluateQuiz grades an answer
func (c *OpenAIClient) EvaluateQuiz(ctx context.Context, question, answer string) (ev Evaluation, err error) {
	defer func() { observe("quiz_evaluate", err) }()

	user := fmt.Sprintf("Question: %s\nAnswer: %s", question, answer)
	if err = c.structured(ctx, "evaluation", c.chatModel, c.evaluationSchema, evaluateSystemPrompt, user, &ev); err != nil {
		return Evaluation{}, err
	}
	if ev.Score < 0 || ev.Score > 10 {
		return Evaluation{}, fmt.Errorf("evaluation: %w: score %d out of range", ErrBadResponse, ev.Score)
	}
	return ev, nil
}

// Speech synthesizes text as mp3
func (c *OpenAIClient) Speech(ctx context.Context, text string) (audio io.ReadCloser, err error) {
	defer func() { observe("speech", err) }()

	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.speechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, classify("speech", err)
	}

	log.Debug().
		Str("service", "gateway").
		Int("chars", len(text)).
		Msg("speech stream opened")
	return resp, nil
}
