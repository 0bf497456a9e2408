package mentor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ksred/skyline-api/internal/auth"
	"github.com/ksred/skyline-api/internal/gateway"
	"github.com/ksred/skyline-api/internal/metrics"
	"github.com/rs/zerolog/log"
)

const defaultPrompt = "You are a calm, encouraging mentor helping someone prepare for a technology career. " +
	"Speak in short turns and ask one question at a time."

// DialFunc opens the upstream realtime socket
type DialFunc func(ctx context.Context) (Conn, error)

// NewDialer returns a DialFunc for the provider realtime endpoint. A rejected
// handshake maps to gateway.ErrInvalidKey, any other failure to
// gateway.ErrUnavailable.
func NewDialer(url, apiKey string, timeout time.Duration) DialFunc {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	return func(ctx context.Context) (conn Conn, err error) {
		defer func() { metrics.GatewayRequests.WithLabelValues("live_audio", gateway.Status(err)).Inc() }()

		header := http.Header{}
		header.Set("Authorization", "Bearer "+apiKey)
		header.Set("OpenAI-Beta", "realtime=v1")

		ws, resp, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, fmt.Errorf("realtime dial: %w: %s", gateway.ErrInvalidKey, resp.Status)
			}
			return nil, fmt.Errorf("realtime dial: %w: %v", gateway.ErrUnavailable, err)
		}
		return ws, nil
	}
}

// GinHandlers serves the mentor websocket
type GinHandlers struct {
	dial     DialFunc
	upgrader websocket.Upgrader
	prompt   string
}

// NewGinHandlers creates the mentor handlers. Browser origins outside
// allowedOrigins are refused; an empty list allows any origin.
func NewGinHandlers(dial DialFunc, allowedOrigins []string) *GinHandlers {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &GinHandlers{
		dial:   dial,
		prompt: defaultPrompt,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// LiveHandler upgrades the request and runs a live session until either side hangs up
func (h *GinHandlers) LiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := auth.RequireClient(c)
		if !ok {
			return
		}

		browser, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Str("component", "mentor").Err(err).Msg("websocket upgrade failed")
			return
		}

		id := "MNT_" + uuid.New().String()
		logger := log.With().Str("component", "mentor").Str("session_id", id).Str("owner", owner).Logger()

		upstream, err := h.dial(c.Request.Context())
		if err != nil {
			logger.Error().Err(err).Str("status", gateway.Status(err)).Msg("failed to open realtime session")
			reportAndClose(browser, err)
			return
		}

		session := NewSession(id, browser, upstream)
		if err := session.Configure(h.prompt); err != nil {
			logger.Error().Err(err).Msg("failed to configure realtime session")
			reportAndClose(browser, err)
			upstream.Close()
			return
		}

		metrics.MentorSessionsActive.Inc()
		defer metrics.MentorSessionsActive.Dec()

		logger.Info().Msg("mentor session started")
		if err := session.Run(c.Request.Context()); err != nil {
			logger.Warn().Err(err).Str("status", gateway.Status(err)).Msg("mentor session closed with error")
		}
	}
}

// reportAndClose tells the browser why the session could not start
func reportAndClose(browser *websocket.Conn, err error) {
	data, _ := json.Marshal(control{Type: "error", Status: gateway.Status(err)})
	_ = browser.WriteMessage(websocket.TextMessage, data)
	_ = browser.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	browser.Close()
}

// RegisterRoutes mounts the mentor endpoints on group
func (h *GinHandlers) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/live", h.LiveHandler())
}
