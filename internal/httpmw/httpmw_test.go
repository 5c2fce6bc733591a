package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/metahub/integrationhub/internal/errors"
	"github.com/metahub/integrationhub/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeChecker struct {
	callers map[string]tenant.Caller
}

func (f *fakeChecker) Resolve(ctx context.Context, token string) (tenant.Caller, error) {
	c, ok := f.callers[token]
	if !ok {
		return tenant.Caller{}, apperrors.NewUnauthenticatedError("unknown token")
	}
	return c, nil
}

func TestErrorHandler_WritesAppErrorStatusAndBody(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/boom", func(c *gin.Context) {
		Fail(c, apperrors.NewNotFoundError("destination"))
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestErrorHandler_WrapsUnknownErrorAsInternal(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/boom", func(c *gin.Context) {
		Fail(c, assert.AnError)
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRecovery_CatchesPanicAndReturns500(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuth_NoAuthorizationHeaderPassesThroughUnauthenticated(t *testing.T) {
	checker := &fakeChecker{callers: map[string]tenant.Caller{}}
	r := gin.New()
	r.Use(Auth(checker))
	r.GET("/whoami", func(c *gin.Context) {
		_, ok := tenant.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authenticated":false`)
}

func TestAuth_ValidTokenAttachesCaller(t *testing.T) {
	checker := &fakeChecker{callers: map[string]tenant.Caller{
		"tok-1": {UserID: "u1", Memberships: map[string]bool{"t1": true}},
	}}
	r := gin.New()
	r.Use(Auth(checker))
	r.GET("/whoami", func(c *gin.Context) {
		caller, ok := tenant.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"authenticated": ok, "user_id": caller.UserID})
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"u1"`)
}

func TestAuth_InvalidTokenIsRejected(t *testing.T) {
	checker := &fakeChecker{callers: map[string]tenant.Caller{}}
	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(Auth(checker))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireTenant_ForbidsNonMember(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := tenant.WithCaller(c.Request.Context(), tenant.Caller{UserID: "u1", Memberships: map[string]bool{"t2": true}})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.Use(ErrorHandler())
	r.GET("/tenants/:tenant_id/routes", RequireTenant("tenant_id"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/tenants/t1/routes", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireTenant_AllowsMember(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := tenant.WithCaller(c.Request.Context(), tenant.Caller{UserID: "u1", Memberships: map[string]bool{"t1": true}})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.GET("/tenants/:tenant_id/routes", RequireTenant("tenant_id"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/tenants/t1/routes", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_BlocksAfterBucketExhausted(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(2, time.Hour))
	r.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestLogging_SkipsConfiguredPaths(t *testing.T) {
	r := gin.New()
	r.Use(Logging(&LoggingConfig{SkipPaths: []string{"/health"}}))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
