// Package roadmap generates learning roadmaps through the AI gateway and
// keeps the ones clients choose to save.
package roadmap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/skyline-api/internal/auth"
	"github.com/ksred/skyline-api/internal/gateway"
	"github.com/ksred/skyline-api/pkg/response"
	"github.com/ksred/skyline-api/pkg/retry"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	ErrRoadmapNotFound = errors.New("roadmap not found")
	ErrInvalidRoadmap  = errors.New("invalid roadmap")
)

func init() {
	response.Register(ErrRoadmapNotFound, http.StatusNotFound, response.ErrCodeNotFound)
	response.Register(ErrInvalidRoadmap, http.StatusBadRequest, response.ErrCodeValidationFailed)
}

// Service generates and stores roadmaps
type Service struct {
	db      *Database
	gateway gateway.Gateway
	cache   *Cache
	retry   retry.Config
	group   singleflight.Group
}

// NewService wires the roadmap service. Generation is retried with cfg on
// transient gateway failures only.
func NewService(db *Database, gw gateway.Gateway, cache *Cache, cfg retry.Config) *Service {
	cfg.Retryable = gateway.Retryable
	return &Service{
		db:      db,
		gateway: gw,
		cache:   cache,
		retry:   cfg,
	}
}

// Generate returns a roadmap for domain and role, from cache when possible.
// Concurrent requests for the same pair share one provider call.
func (s *Service) Generate(ctx context.Context, domain, role string) (gateway.RoadmapDocument, error) {
	domain, role = strings.TrimSpace(domain), strings.TrimSpace(role)
	if domain == "" || role == "" {
		return gateway.RoadmapDocument{}, fmt.Errorf("%w: domain and role are required", ErrInvalidRoadmap)
	}

	logger := log.With().
		Str("service", "roadmap").
		Str("domain", domain).
		Str("role", role).
		Logger()

	if doc, ok := s.cache.Get(domain, role); ok {
		logger.Debug().Msg("roadmap served from cache")
		return doc, nil
	}

	v, err, shared := s.group.Do(cacheKey(domain, role), func() (interface{}, error) {
		doc, err := retry.DoWithResult(ctx, s.retry, func(ctx context.Context) (gateway.RoadmapDocument, error) {
			return s.gateway.GenerateRoadmap(ctx, domain, role)
		})
		if err != nil {
			return nil, err
		}
		s.cache.Set(domain, role, doc)
		return doc, nil
	})
	if err != nil {
		logger.Error().Err(err).Str("status", gateway.Status(err)).Msg("roadmap generation failed")
		return gateway.RoadmapDocument{}, err
	}

	logger.Info().Bool("shared", shared).Msg("roadmap generated")
	return v.(gateway.RoadmapDocument), nil
}

// Save stores a roadmap document for owner
func (s *Service) Save(owner string, req SaveRequest) (*Roadmap, error) {
	if strings.TrimSpace(req.Document.Title) == "" || len(req.Document.Steps) == 0 {
		return nil, fmt.Errorf("%w: document needs a title and at least one step", ErrInvalidRoadmap)
	}

	r := &Roadmap{
		ID:       "RMP_" + uuid.New().String(),
		Owner:    owner,
		Domain:   strings.TrimSpace(req.Domain),
		Role:     strings.TrimSpace(req.Role),
		Title:    req.Document.Title,
		Document: req.Document,
	}
	if err := s.db.CreateRoadmap(r); err != nil {
		return nil, fmt.Errorf("failed to save roadmap: %w", err)
	}

	log.Info().
		Str("service", "roadmap").
		Str("roadmap_id", r.ID).
		Str("owner", owner).
		Msg("roadmap saved")
	return r, nil
}

func (s *Service) List(owner string) ([]Roadmap, error) {
	return s.db.ListRoadmaps(owner)
}

func (s *Service) Get(owner, id string) (*Roadmap, error) {
	return s.db.GetRoadmap(owner, id)
}

func (s *Service) Delete(owner, id string) error {
	return s.db.DeleteRoadmap(owner, id)
}

// GinHandlers contains HTTP handlers for roadmap endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GenerateHandler handles POST requests to generate a roadmap
func (h *GinHandlers) GenerateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.RequireClient(c); !ok {
			return
		}
		var req GenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "domain and role are required")
			return
		}
		doc, err := h.service.Generate(c.Request.Context(), req.Domain, req.Role)
		response.Handle(c, doc, err)
	}
}

// SaveHandler handles POST requests storing a roadmap
func (h *GinHandlers) SaveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := auth.RequireClient(c)
		if !ok {
			return
		}
		var req SaveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		r, err := h.service.Save(owner, req)
		response.Handle(c, r, err)
	}
}

func (h *GinHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := auth.RequireClient(c)
		if !ok {
			return
		}
		roadmaps, err := h.service.List(owner)
		response.Handle(c, roadmaps, err)
	}
}

func (h *GinHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := auth.RequireClient(c)
		if !ok {
			return
		}
		r, err := h.service.Get(owner, c.Param("roadmap_id"))
		response.Handle(c, r, err)
	}
}

func (h *GinHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := auth.RequireClient(c)
		if !ok {
			return
		}
		id := c.Param("roadmap_id")
		err := h.service.Delete(owner, id)
		response.Handle(c, gin.H{"deleted": id}, err)
	}
}

// RegisterRoutes mounts the roadmap endpoints on group
func (h *GinHandlers) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/generate", h.GenerateHandler())
	group.POST("", h.SaveHandler())
	group.GET("", h.ListHandler())
	group.GET("/:roadmap_id", h.GetHandler())
	group.DELETE("/:roadmap_id", h.DeleteHandler())
}
