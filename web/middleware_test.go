package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

func limitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(rl))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func hit(router http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w
}

func TestGetLimiter(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)

	limiter1 := rl.getLimiter("192.168.1.1")
	if limiter1 == nil {
		t.Fatal("getLimiter returned nil")
	}
	if limiter2 := rl.getLimiter("192.168.1.1"); limiter1 != limiter2 {
		t.Error("getLimiter should return the same limiter for the same IP")
	}
	if limiter3 := rl.getLimiter("192.168.1.2"); limiter1 == limiter3 {
		t.Error("getLimiter should return different limiters for different IPs")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		requestCount   int
		rateLimit      rate.Limit
		burst          int
		expectedStatus int
	}{
		{"under limit", 5, rate.Limit(10), 10, http.StatusOK},
		{"at burst limit", 10, rate.Limit(1), 10, http.StatusOK},
		{"over limit", 15, rate.Limit(1), 10, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := limitedRouter(NewRateLimiter(tt.rateLimit, tt.burst))
			var lastStatus int
			for i := 0; i < tt.requestCount; i++ {
				lastStatus = hit(router, "192.168.1.100:12345").Code
			}
			if lastStatus != tt.expectedStatus {
				t.Errorf("Expected final status %d, got %d", tt.expectedStatus, lastStatus)
			}
		})
	}
}

func TestRateLimitMiddlewareErrorResponse(t *testing.T) {
	router := limitedRouter(NewRateLimiter(rate.Limit(1), 1))

	if w := hit(router, "192.168.1.100:12345"); w.Code != http.StatusOK {
		t.Errorf("First request should succeed, got status %d", w.Code)
	}
	w := hit(router, "192.168.1.100:12345")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Second request should be rate limited, got status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Rate limit exceeded") {
		t.Errorf("Expected rate limit error message, got: %s", w.Body.String())
	}

	if w := hit(router, "192.168.1.2:12345"); w.Code != http.StatusOK {
		t.Errorf("Other IP should succeed, got status %d", w.Code)
	}
}

func TestSweepDropsIdleLimiters(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.getLimiter("10.0.0.1")
	now = now.Add(limiterSweep)
	rl.getLimiter("10.0.0.2")
	if got := rl.size(); got != 2 {
		t.Fatalf("Expected 2 limiters, got %d", got)
	}

	now = now.Add(limiterIdle)
	rl.getLimiter("10.0.0.2")
	if got := rl.size(); got != 1 {
		t.Errorf("Expected idle limiter to be dropped, got %d limiters", got)
	}
}

func TestMaxBytesMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		maxBytes       int64
		bodySize       int
		expectedStatus int
	}{
		{"under limit", 1024, 512, http.StatusOK},
		{"at limit", 1024, 1024, http.StatusOK},
		{"over limit by content-length", 1024, 2048, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(MaxBytesMiddleware(tt.maxBytes))
			router.POST("/test", func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("POST", "/test", strings.NewReader(strings.Repeat("x", tt.bodySize)))
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus == http.StatusRequestEntityTooLarge && !strings.Contains(w.Body.String(), "Request body too large") {
				t.Errorf("Expected error message about body size, got: %s", w.Body.String())
			}
		})
	}
}

func TestRequestIdMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIdMiddleware(), AccessLogMiddleware(log.New(io.Discard)))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(requestIdKey))
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	router.ServeHTTP(w, req)
	generated := w.Header().Get(RequestIdHeader)
	if _, err := uuid.Parse(generated); err != nil {
		t.Fatalf("Expected a generated uuid, got %q", generated)
	}
	if w.Body.String() != generated {
		t.Errorf("Handler saw %q, header says %q", w.Body.String(), generated)
	}

	incoming := uuid.NewString()
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIdHeader, incoming)
	router.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIdHeader); got != incoming {
		t.Errorf("Expected incoming id %q to be kept, got %q", incoming, got)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIdHeader, "not-a-uuid")
	router.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIdHeader); got == "not-a-uuid" {
		t.Error("Malformed request id should be replaced")
	}
}
