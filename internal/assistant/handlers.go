package assistant

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/skyline-api/internal/auth"
	"github.com/ksred/skyline-api/pkg/response"
	"github.com/rs/zerolog/log"
)

// GinHandlers contains HTTP handlers for assistant endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// OpenConversationHandler handles POST requests creating a chat handle
func (h *GinHandlers) OpenConversationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := auth.RequireClient(c)
		if !ok {
			return
		}
		var req ConversationRequest
		// the body is optional
		_ = c.ShouldBindJSON(&req)
		response.Success(c, h.service.OpenConversation(owner, req.Topic))
	}
}

func (h *GinHandlers) GetConversationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := auth.RequireClient(c)
		if !ok {
			return
		}
		conv, err := h.service.Conversation(owner, c.Param("conversation_id"))
		response.Handle(c, conv, err)
	}
}

func (h *GinHandlers) CloseConversationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := auth.RequireClient(c)
		if !ok {
			return
		}
		id := c.Param("conversation_id")
		err := h.service.CloseConversation(owner, id)
		response.Handle(c, gin.H{"closed": id}, err)
	}
}

// SendMessageHandler handles POST requests with one chat message
func (h *GinHandlers) SendMessageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := auth.RequireClient(c)
		if !ok {
			return
		}
		var req ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "message is required")
			return
		}
		reply, err := h.service.Send(c.Request.Context(), owner, c.Param("conversation_id"), req.Message)
		response.Handle(c, reply, err)
	}
}

func (h *GinHandlers) GenerateQuizHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.RequireClient(c); !ok {
			return
		}
		var req QuizRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "topic is required")
			return
		}
		quiz, err := h.service.GenerateQuiz(c.Request.Context(), req.Topic, req.Context)
		response.Handle(c, quiz, err)
	}
}

func (h *GinHandlers) EvaluateQuizHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.RequireClient(c); !ok {
			return
		}
		var req EvaluateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "question and answer are required")
			return
		}
		ev, err := h.service.EvaluateQuiz(c.Request.Context(), req.Question, req.Answer)
		response.Handle(c, ev, err)
	}
}

// SpeechHandler streams synthesized mp3 audio
func (h *GinHandlers) SpeechHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.RequireClient(c); !ok {
			return
		}
		var req SpeechRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "text is required")
			return
		}
		audio, err := h.service.Speech(c.Request.Context(), req.Text)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		defer audio.Close()

		c.Header("Content-Type", "audio/mpeg")
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, audio); err != nil {
			log.Warn().Str("service", "assistant").Err(err).Msg("speech stream interrupted")
		}
	}
}

func (h *GinHandlers) StartVideoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := auth.RequireClient(c)
		if !ok {
			return
		}
		var req VideoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "prompt is required")
			return
		}
		job, err := h.service.StartVideo(c.Request.Context(), owner, req.Prompt)
		response.Handle(c, job, err)
	}
}

func (h *GinHandlers) GetVideoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := auth.RequireClient(c)
		if !ok {
			return
		}
		job, err := h.service.Video(owner, c.Param("video_id"))
		response.Handle(c, job, err)
	}
}

// RegisterRoutes mounts the assistant endpoints on group
func (h *GinHandlers) RegisterRoutes(group *gin.RouterGroup) {
	chat := group.Group("/chat/sessions")
	{
		chat.POST("", h.OpenConversationHandler())
		chat.GET("/:conversation_id", h.GetConversationHandler())
		chat.DELETE("/:conversation_id", h.CloseConversationHandler())
		chat.POST("/:conversation_id/messages", h.SendMessageHandler())
	}

	group.POST("/quiz", h.GenerateQuizHandler())
	group.POST("/quiz/evaluate", h.EvaluateQuizHandler())
	group.POST("/speech", h.SpeechHandler())
	group.POST("/videos", h.StartVideoHandler())
	group.GET("/videos/:video_id", h.GetVideoHandler())
}
