package utils

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"slotkeeper/apperrors"
	"slotkeeper/config"
	"slotkeeper/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	clock := NewFixedClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	c := NewMemoryCache(clock)

	type entry struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.Set(ctx, "availability:p1:-:-", entry{"a"}, time.Minute))
	require.NoError(t, c.Set(ctx, "availability:p1:2025-03-10:-", entry{"b"}, 0))
	require.NoError(t, c.Set(ctx, "availability:p2:-:-", entry{"c"}, time.Minute))

	var got entry
	hit, err := c.Get(ctx, "availability:p1:-:-", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "a", got.Name)

	ok, err := c.SetNX(ctx, "availability:p1:-:-", entry{"x"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live key is kept")

	clock.Advance(time.Minute)
	hit, err = c.Get(ctx, "availability:p1:-:-", &got)
	require.NoError(t, err)
	assert.False(t, hit, "expired at exactly the ttl")
	hit, err = c.Get(ctx, "availability:p1:2025-03-10:-", &got)
	require.NoError(t, err)
	assert.True(t, hit, "zero ttl never expires")

	ok, err = c.SetNX(ctx, "availability:p1:-:-", entry{"x"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired key can be claimed")

	n, err := c.DelPrefix(ctx, "availability:p1:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	hit, err = c.Get(ctx, "availability:p2:-:-", &got)
	require.NoError(t, err)
	assert.True(t, hit)

	require.NoError(t, c.Del(ctx, "availability:p2:-:-", "missing"))
	hit, err = c.Get(ctx, "availability:p2:-:-", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryCacheDecodeError(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(SystemClock{})
	require.NoError(t, c.Set(ctx, "k", "text", 0))

	var n int
	_, err := c.Get(ctx, "k", &n)
	assert.Error(t, err)
}

func TestStartOfWeek(t *testing.T) {
	nairobi, err := time.LoadLocation("Africa/Nairobi")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   time.Time
		loc  *time.Location
		want string
	}{
		{"monday", time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), time.UTC, "2025-03-10"},
		{"sunday", time.Date(2025, 3, 16, 23, 0, 0, 0, time.UTC), time.UTC, "2025-03-10"},
		{"sunday night utc is monday in nairobi", time.Date(2025, 3, 16, 22, 0, 0, 0, time.UTC), nairobi, "2025-03-17"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StartOfWeek(tt.in, tt.loc)
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
			assert.Equal(t, 0, got.Hour())
			assert.Equal(t, time.Monday, got.Weekday())
		})
	}
}

func TestTokens(t *testing.T) {
	prev := config.AppConfig.JWTSecret
	t.Cleanup(func() { config.AppConfig.JWTSecret = prev })

	config.AppConfig.JWTSecret = ""
	_, err := ExtractIDFromToken("anything")
	assert.Error(t, err, "an unset secret rejects every token")

	config.AppConfig.JWTSecret = "secret"
	token := testutil.ProviderToken(t, "p1", "p1@example.com", time.Hour)
	id, err := ExtractIDFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "p1", id)

	empty := testutil.ProviderToken(t, "", "", time.Hour)
	_, err = ExtractIDFromToken(empty)
	assert.Error(t, err)

	assert.Len(t, HashToken(token), 64)
	assert.NotEqual(t, HashToken(token), HashToken(empty))
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	prev := Logger
	Logger = zaptest.NewLogger(t)
	t.Cleanup(func() { Logger = prev })

	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   apperrors.Kind
		wantDetail string
	}{
		{"not found", apperrors.NotFound("slot s1 not found"), http.StatusNotFound, apperrors.KindNotFound, "slot s1 not found"},
		{"bad request", apperrors.BadRequest("bad date"), http.StatusBadRequest, apperrors.KindBadRequest, "bad date"},
		{"unavailable", apperrors.Unavailable("store down"), http.StatusServiceUnavailable, apperrors.KindUnavailable, "store down"},
		{"conflict", apperrors.Conflict("overlap", apperrors.ConflictDetail{Entity: "booking", ID: "b1", SerialKey: "BK-1", Start: start, End: start.Add(time.Hour)}),
			http.StatusConflict, apperrors.KindConflict, "overlap"},
		{"internal hides cause", errors.New("mongo: connection refused"), http.StatusInternalServerError, apperrors.KindInternal,
			"An unexpected error occurred. Please try again later."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			RespondError(c, "Request failed", tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "Request failed", body.Message)
			assert.Equal(t, tt.wantKind, body.Kind)
			assert.Equal(t, tt.wantDetail, body.Details)
			if tt.wantKind == apperrors.KindConflict {
				require.Len(t, body.Conflicts, 1)
				assert.Equal(t, "BK-1", body.Conflicts[0].SerialKey)
			}
		})
	}
}

func TestHealthStatusHealthy(t *testing.T) {
	assert.True(t, HealthStatus{Mongo: true, Redis: []bool{true, true}}.Healthy())
	assert.False(t, HealthStatus{Mongo: false, Redis: []bool{true}}.Healthy())
	assert.False(t, HealthStatus{Mongo: true, Redis: []bool{true, false}}.Healthy())
}
