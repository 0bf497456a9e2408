package roadmap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/skyline-api/internal/gateway"
	"github.com/ksred/skyline-api/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeGateway struct {
	gateway.Unconfigured

	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *fakeGateway) GenerateRoadmap(_ context.Context, domain, role string) (gateway.RoadmapDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return gateway.RoadmapDocument{}, err
	}
	return gateway.RoadmapDocument{
		Title:  "Into " + domain,
		Domain: domain,
		Role:   role,
		Steps:  []gateway.RoadmapStep{{Title: "Fundamentals", DurationWeeks: 2}},
	}, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestService(t *testing.T, gw gateway.Gateway) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Roadmap{}))

	cache, err := NewCache(1000, 100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	return NewService(NewDatabase(db), gw, cache, retry.Config{
		MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1,
	})
}

func TestGenerateUsesCache(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestService(t, gw)

	doc, err := s.Generate(context.Background(), "Fintech", "Backend Engineer")
	require.NoError(t, err)
	assert.Equal(t, "Into Fintech", doc.Title)

	again, err := s.Generate(context.Background(), "  fintech ", "backend   engineer")
	require.NoError(t, err)
	assert.Equal(t, doc, again)
	assert.Equal(t, 1, gw.callCount())
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	gw := &fakeGateway{errs: []error{
		fmt.Errorf("roadmap: %w", gateway.ErrUnavailable),
		fmt.Errorf("roadmap: %w", gateway.ErrBadResponse),
	}}
	s := newTestService(t, gw)

	_, err := s.Generate(context.Background(), "data", "analyst")
	require.NoError(t, err)
	assert.Equal(t, 3, gw.callCount())
}

func TestGenerateDoesNotRetryInvalidKey(t *testing.T) {
	gw := &fakeGateway{errs: []error{fmt.Errorf("roadmap: %w", gateway.ErrInvalidKey)}}
	s := newTestService(t, gw)

	_, err := s.Generate(context.Background(), "data", "analyst")
	assert.ErrorIs(t, err, gateway.ErrInvalidKey)
	assert.Equal(t, 1, gw.callCount())
}

func TestGenerateValidatesInput(t *testing.T) {
	s := newTestService(t, &fakeGateway{})
	_, err := s.Generate(context.Background(), " ", "analyst")
	assert.ErrorIs(t, err, ErrInvalidRoadmap)
}

func TestSaveListGetDelete(t *testing.T) {
	s := newTestService(t, &fakeGateway{})
	doc, err := s.Generate(context.Background(), "cloud", "sre")
	require.NoError(t, err)

	_, err = s.Save("alice", SaveRequest{Domain: "cloud", Role: "sre"})
	assert.ErrorIs(t, err, ErrInvalidRoadmap)

	saved, err := s.Save("alice", SaveRequest{Domain: "cloud", Role: "sre", Document: doc})
	require.NoError(t, err)
	assert.Contains(t, saved.ID, "RMP_")

	list, err := s.List("alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, doc, list[0].Document)

	_, err = s.Get("bob", saved.ID)
	assert.ErrorIs(t, err, ErrRoadmapNotFound)
	assert.ErrorIs(t, s.Delete("bob", saved.ID), ErrRoadmapNotFound)

	require.NoError(t, s.Delete("alice", saved.ID))
	_, err = s.Get("alice", saved.ID)
	assert.ErrorIs(t, err, ErrRoadmapNotFound)
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gw := &fakeGateway{errs: []error{fmt.Errorf("roadmap: %w", gateway.ErrInvalidKey)}}
	s := newTestService(t, gw)

	r := gin.New()
	group := r.Group("/roadmaps", func(c *gin.Context) {
		c.Set("claims", jwt.MapClaims{"client_id": "alice"})
	})
	NewGinHandlers(s).RegisterRoutes(group)

	do := func(method, path string, body any) (int, []byte) {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		data, _ := io.ReadAll(w.Body)
		return w.Code, data
	}

	code, body := do(http.MethodPost, "/roadmaps/generate", GenerateRequest{Domain: "ai", Role: "ml engineer"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, string(body), "INVALID_KEY")

	code, body = do(http.MethodPost, "/roadmaps/generate", GenerateRequest{Domain: "ai", Role: "ml engineer"})
	require.Equal(t, http.StatusCreated, code, string(body))
	var generated struct {
		Data gateway.RoadmapDocument `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &generated))

	code, body = do(http.MethodPost, "/roadmaps", SaveRequest{Domain: "ai", Role: "ml engineer", Document: generated.Data})
	require.Equal(t, http.StatusCreated, code)
	var saved struct {
		Data Roadmap `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &saved))

	code, _ = do(http.MethodGet, "/roadmaps/"+saved.Data.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(http.MethodDelete, "/roadmaps/"+saved.Data.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(http.MethodGet, "/roadmaps/"+saved.Data.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
