package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"github.com/nextscript/emr-tools/config"
	"github.com/nextscript/emr-tools/logging"
	"github.com/nextscript/emr-tools/metrics"
)

const (
	bucketRate     = 3
	bucketCapacity = 1000
)

// RequestSizeMiddleware limits the size of request headers and body
func RequestSizeMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > cfg.MaxRequestBody {
				logging.Warn("Request body too large",
					"content_length", r.ContentLength,
					"max_allowed", cfg.MaxRequestBody,
					"remote_addr", r.RemoteAddr,
					"user_agent", r.UserAgent())

				respondWithJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
					"error": fmt.Sprintf("Request body too large. Maximum allowed size is %d bytes", cfg.MaxRequestBody),
				})
				return
			}

			// Rough estimate, net/http enforces the hard limit
			headerSize := int64(0)
			for key, values := range r.Header {
				headerSize += int64(len(key))
				for _, value := range values {
					headerSize += int64(len(value))
				}
			}

			if headerSize > cfg.MaxHeaderSize {
				logging.Warn("Request headers too large",
					"header_size", headerSize,
					"max_allowed", cfg.MaxHeaderSize,
					"remote_addr", r.RemoteAddr,
					"user_agent", r.UserAgent())

				respondWithJSON(w, http.StatusRequestHeaderFieldsTooLarge, map[string]string{
					"error": fmt.Sprintf("Request headers too large. Maximum allowed size is %d bytes", cfg.MaxHeaderSize),
				})
				return
			}

			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxRequestBody)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter manages per-client token buckets
type RateLimiter struct {
	clients map[string]*ratelimit.Bucket
	mu      sync.RWMutex

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*ratelimit.Bucket),
		stop:    make(chan struct{}),
	}
}

func (rl *RateLimiter) getBucket(clientIP string) *ratelimit.Bucket {
	rl.mu.RLock()
	bucket, exists := rl.clients[clientIP]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		if bucket, exists = rl.clients[clientIP]; !exists {
			bucket = ratelimit.NewBucketWithRate(bucketRate, bucketCapacity)
			rl.clients[clientIP] = bucket
			metrics.RateLimiterBucketsTotal.Set(float64(len(rl.clients)))
		}
		rl.mu.Unlock()
	}

	return bucket
}

// cleanup removes clients whose bucket refilled completely
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, bucket := range rl.clients {
		if bucket.Available() == bucket.Capacity() {
			delete(rl.clients, ip)
		}
	}
	metrics.RateLimiterBucketsTotal.Set(float64(len(rl.clients)))
}

// StartCleanup prunes idle clients every interval until Stop
func (rl *RateLimiter) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-rl.stop:
				return
			case <-ticker.C:
				rl.cleanup()
			}
		}
	}()
}

// Stop ends the cleanup loop
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func getTokenCost(r *http.Request) int64 {
	path := r.URL.Path

	switch path {
	case "/metrics":
		return 0
	case "/health":
		return 5
	case "/drugs":
		return 20
	case "/drugs/search":
		return 50
	case "/drugs/export.xlsx":
		return 200
	}

	switch {
	case strings.HasPrefix(path, "/compiled_"):
		return 100 // Full dataset download
	case strings.HasPrefix(path, "/drugs/"):
		return 10
	}

	return 20 // Default cost for other endpoints
}

// Handler implements rate limiting using token bucket
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket := rl.getBucket(clientIP(r))
		tokenCost := getTokenCost(r)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(bucketCapacity))
		w.Header().Set("X-RateLimit-Rate", strconv.Itoa(bucketRate))

		if bucket.TakeAvailable(tokenCost) < tokenCost {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "60")
			respondWithJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(bucket.Available(), 10))
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port so one client keeps one bucket across connections
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// respondWithJSON writes a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logging.Error("Failed to encode JSON response", "error", err)
		}
	}
}
