package lab

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/skyline-api/internal/auth"
	"github.com/ksred/skyline-api/internal/batch"
	"github.com/ksred/skyline-api/internal/events"
	"github.com/ksred/skyline-api/internal/market"
	"github.com/ksred/skyline-api/internal/trading"
	"github.com/ksred/skyline-api/pkg/response"
	"github.com/shopspring/decimal"
)

func init() {
	response.Register(trading.ErrInvalidBooking, http.StatusBadRequest, response.ErrCodeValidationFailed)
	response.Register(trading.ErrUnknownProduct, http.StatusBadRequest, response.ErrCodeValidationFailed)
	response.Register(trading.ErrUnknownAsset, http.StatusBadRequest, response.ErrCodeValidationFailed)
	response.Register(trading.ErrIDExhausted, http.StatusConflict, response.ErrCodeConflict)
	response.Register(market.ErrQuoteNotFound, http.StatusNotFound, response.ErrCodeNotFound)
	response.Register(batch.ErrNoTrades, http.StatusConflict, response.ErrCodeConflict)
	response.Register(batch.ErrBatchRunning, http.StatusConflict, response.ErrCodeConflict)
	response.Register(batch.ErrInvalidTransition, http.StatusConflict, response.ErrCodeConflict)
	response.Register(ErrSessionNotFound, http.StatusNotFound, response.ErrCodeNotFound)
	response.Register(ErrSessionClosed, http.StatusNotFound, response.ErrCodeNotFound)
	response.Register(ErrReportNotFound, http.StatusNotFound, response.ErrCodeNotFound)
	response.Register(ErrTooManySessions, http.StatusTooManyRequests, response.ErrCodeRateLimited)
}

// EventHistory reads back the stored events of a session
type EventHistory interface {
	History(sessionID, owner string, limit int) ([]events.Event, error)
}

// SessionInfo describes an open session
type SessionInfo struct {
	ID        string      `json:"id"`
	Owner     string      `json:"owner"`
	CreatedAt time.Time   `json:"created_at"`
	LastUsed  time.Time   `json:"last_used"`
	Batch     batch.Stage `json:"batch_stage"`
}

func infoOf(s *Session) SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:        s.id,
		Owner:     s.owner,
		CreatedAt: s.createdAt,
		LastUsed:  s.lastUsed,
		Batch:     s.state.Batch.Stage,
	}
}

// QuoteRequest sets one quote
type QuoteRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

// CommandRequest is one terminal line
type CommandRequest struct {
	Line string `json:"line"`
}

// GinHandlers contains HTTP handlers for lab endpoints
type GinHandlers struct {
	manager *Manager
	reports *Database
	history EventHistory
}

// NewGinHandlers creates lab handlers. reports and history may be nil when
// persistence is disabled.
func NewGinHandlers(manager *Manager, reports *Database, history EventHistory) *GinHandlers {
	return &GinHandlers{
		manager: manager,
		reports: reports,
		history: history,
	}
}

// owner returns the authenticated client or aborts with 401
func owner(c *gin.Context) (string, bool) {
	return auth.RequireClient(c)
}

// session resolves the :session_id parameter for the caller
func (h *GinHandlers) session(c *gin.Context) (*Session, bool) {
	clientID, ok := owner(c)
	if !ok {
		return nil, false
	}
	s, err := h.manager.Get(c.Param("session_id"), clientID)
	if err != nil {
		response.Handle(c, nil, err)
		return nil, false
	}
	return s, true
}

// OpenSessionHandler handles POST requests to open a lab session
func (h *GinHandlers) OpenSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := owner(c)
		if !ok {
			return
		}
		s, err := h.manager.Open(clientID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, infoOf(s))
	}
}

// ListSessionsHandler handles GET requests listing the caller's sessions
func (h *GinHandlers) ListSessionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := owner(c)
		if !ok {
			return
		}
		sessions := h.manager.List(clientID)
		infos := make([]SessionInfo, 0, len(sessions))
		for _, s := range sessions {
			infos = append(infos, infoOf(s))
		}
		response.Success(c, infos)
	}
}

// CloseSessionHandler handles DELETE requests ending a session
func (h *GinHandlers) CloseSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := owner(c)
		if !ok {
			return
		}
		err := h.manager.Close(c.Param("session_id"), clientID)
		response.Handle(c, gin.H{"closed": c.Param("session_id")}, err)
	}
}

// ListTradesHandler handles GET requests for the session book
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}
		trades, err := s.Trades()
		response.Handle(c, trades, err)
	}
}

// BookTradeHandler handles POST requests booking a trade
// Request body: product_type, asset, trade_rate, notional
func (h *GinHandlers) BookTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}

		var req trading.BookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		trade, err := s.Book(req)
		response.Handle(c, trade, err)
	}
}

// ListQuotesHandler handles GET requests for current quotes
func (h *GinHandlers) ListQuotesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}
		quotes, err := s.Quotes()
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, quotes.List())
	}
}

// SetQuoteHandler handles PUT requests overriding a quote
// URL parameter: symbol
func (h *GinHandlers) SetQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}

		var req QuoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		symbol := strings.ToUpper(c.Param("symbol"))
		err := s.SetQuote(symbol, req.Rate)
		response.Handle(c, market.Quote{Symbol: symbol, Rate: req.Rate}, err)
	}
}

// RemoveQuoteHandler handles DELETE requests dropping a quote
func (h *GinHandlers) RemoveQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}
		symbol := strings.ToUpper(c.Param("symbol"))
		err := s.RemoveQuote(symbol)
		response.Handle(c, gin.H{"removed": symbol}, err)
	}
}

// RefreshQuotesHandler handles POST requests resetting quotes to seeds
func (h *GinHandlers) RefreshQuotesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}
		quotes, err := s.RefreshQuotes()
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, quotes.List())
	}
}

// StartBatchHandler handles POST requests starting the EOD batch
func (h *GinHandlers) StartBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}
		run, err := s.StartBatch()
		response.Handle(c, run, err)
	}
}

// GetBatchHandler handles GET requests for batch progress
func (h *GinHandlers) GetBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}
		run, err := s.Batch()
		response.Handle(c, run, err)
	}
}

// SummaryHandler handles GET requests for aggregate P&L and DV01
func (h *GinHandlers) SummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}
		summary, err := s.Summary()
		response.Handle(c, summary, err)
	}
}

// CommandHandler handles POST requests carrying one terminal line
func (h *GinHandlers) CommandHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}

		var req CommandRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		// terminal errors are part of the output, not HTTP failures
		c.JSON(http.StatusOK, response.Response{Success: true, Data: s.Exec(req.Line)})
	}
}

// EventsHandler handles GET requests for a session's audit trail
// Query parameter: limit
func (h *GinHandlers) EventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.session(c)
		if !ok {
			return
		}
		if h.history == nil {
			response.Success(c, []events.Event{})
			return
		}

		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil || limit < 0 {
			response.BadRequest(c, "limit must be a non-negative integer")
			return
		}

		evs, err := h.history.History(s.ID(), s.Owner(), limit)
		response.Handle(c, evs, err)
	}
}

// ListReportsHandler handles GET requests for the caller's EOD reports
func (h *GinHandlers) ListReportsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := owner(c)
		if !ok {
			return
		}
		if h.reports == nil {
			response.Success(c, []Report{})
			return
		}
		reports, err := h.reports.ListReports(clientID)
		response.Handle(c, reports, err)
	}
}

// GetReportHandler handles GET requests for one EOD report
// URL parameter: run_id
func (h *GinHandlers) GetReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := owner(c)
		if !ok {
			return
		}
		if h.reports == nil {
			response.Handle(c, nil, ErrReportNotFound)
			return
		}
		report, err := h.reports.GetReport(clientID, c.Param("run_id"))
		response.Handle(c, report, err)
	}
}

// RegisterRoutes mounts the lab endpoints on group
func (h *GinHandlers) RegisterRoutes(group *gin.RouterGroup) {
	sessions := group.Group("/sessions")
	{
		sessions.POST("", h.OpenSessionHandler())
		sessions.GET("", h.ListSessionsHandler())
		sessions.DELETE("/:session_id", h.CloseSessionHandler())
		sessions.GET("/:session_id/trades", h.ListTradesHandler())
		sessions.POST("/:session_id/trades", h.BookTradeHandler())
		sessions.GET("/:session_id/quotes", h.ListQuotesHandler())
		sessions.POST("/:session_id/quotes/refresh", h.RefreshQuotesHandler())
		sessions.PUT("/:session_id/quotes/:symbol", h.SetQuoteHandler())
		sessions.DELETE("/:session_id/quotes/:symbol", h.RemoveQuoteHandler())
		sessions.POST("/:session_id/batch", h.StartBatchHandler())
		sessions.GET("/:session_id/batch", h.GetBatchHandler())
		sessions.GET("/:session_id/summary", h.SummaryHandler())
		sessions.POST("/:session_id/commands", h.CommandHandler())
		sessions.GET("/:session_id/events", h.EventsHandler())
	}

	reports := group.Group("/reports")
	{
		reports.GET("", h.ListReportsHandler())
		reports.GET("/:run_id", h.GetReportHandler())
	}
}
