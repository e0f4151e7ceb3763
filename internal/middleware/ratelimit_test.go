package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/aiusage/pkg/response"
	"go.uber.org/goleak"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimitedRouter(t *testing.T, rps float64, burst int) *gin.Engine {
	t.Helper()
	rl := NewRateLimiter(rps, burst)
	t.Cleanup(rl.Stop)

	router := gin.New()
	router.Use(rl.Middleware())
	router.POST("/api/responses", func(c *gin.Context) {
		response.Created(c, gin.H{"id": 1})
	})
	return router
}

func submit(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/responses", nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AllowsNormalRequests(t *testing.T) {
	router := newLimitedRouter(t, 10, 10)

	w := submit(router, "192.168.1.1:12345")
	if w.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, w.Code)
	}
}

func TestRateLimit_BlocksExcessiveRequests(t *testing.T) {
	router := newLimitedRouter(t, 1, 2)

	// Send more than the burst rapidly, the last one should be blocked
	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = submit(router, "10.0.0.1:12345")
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d after burst exceeded, got %d", http.StatusTooManyRequests, last.Code)
	}
	var resp response.Response
	if err := json.Unmarshal(last.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Code != 429 {
		t.Errorf("expected code 429, got %d", resp.Code)
	}
}

func TestRateLimit_IndependentPerIP(t *testing.T) {
	router := newLimitedRouter(t, 1, 1)

	if w := submit(router, "10.0.0.1:12345"); w.Code != http.StatusCreated {
		t.Errorf("IP1 first request: expected %d, got %d", http.StatusCreated, w.Code)
	}
	if w := submit(router, "10.0.0.2:12345"); w.Code != http.StatusCreated {
		t.Errorf("IP2 first request: expected %d, got %d", http.StatusCreated, w.Code)
	}
}

func TestRateLimit_CleanupDropsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	rl.getLimiter("10.0.0.1")
	rl.getLimiter("10.0.0.2")
	rl.mu.Lock()
	rl.limiters["10.0.0.1"].lastSeen = time.Now().Add(-2 * idleTimeout)
	rl.mu.Unlock()

	rl.cleanup(time.Now())

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.limiters["10.0.0.1"]; ok {
		t.Error("idle client should have been dropped")
	}
	if _, ok := rl.limiters["10.0.0.2"]; !ok {
		t.Error("active client should have been kept")
	}
}

func TestRateLimit_StopEndsCleanup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rl := NewRateLimiter(1, 1)
	rl.Stop()
	rl.Stop()
}
