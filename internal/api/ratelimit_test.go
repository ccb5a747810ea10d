package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := &RateLimiter{rate: 1.0, burst: 3, perMinute: 60, buckets: make(map[string]*callerBucket)}

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("key-a")
		if !ok {
			t.Fatalf("request %d within burst must be allowed", i+1)
		}
	}
	ok, wait := rl.Allow("key-a")
	if ok {
		t.Error("request past the burst must be refused")
	}
	if wait <= 0 {
		t.Errorf("refusal must carry a positive retry delay, got %s", wait)
	}
}

func TestRateLimiterIsolatesCallers(t *testing.T) {
	rl := &RateLimiter{rate: 1.0, burst: 1, perMinute: 60, buckets: make(map[string]*callerBucket)}

	if ok, _ := rl.Allow("key-a"); !ok {
		t.Fatal("first caller's first request must be allowed")
	}
	if ok, _ := rl.Allow("key-a"); ok {
		t.Error("first caller's second request must be refused")
	}
	if ok, _ := rl.Allow("key-b"); !ok {
		t.Error("a different caller must not inherit the exhausted bucket")
	}
}

func TestRateLimitMiddlewareKeysOnAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := &RateLimiter{rate: 1.0, burst: 1, perMinute: 60, buckets: make(map[string]*callerBucket)}

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := get("key-one"); code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", code)
	}
	if code := get("key-one"); code != http.StatusTooManyRequests {
		t.Errorf("same key over burst expected 429, got %d", code)
	}
	// Same source address, different key: separate bucket.
	if code := get("key-two"); code != http.StatusOK {
		t.Errorf("distinct key from the same address expected 200, got %d", code)
	}
}
