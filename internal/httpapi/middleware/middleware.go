package middleware

import (
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/llm-playground/internal/auth"
	"github.com/suPer8Hu/llm-playground/internal/common"
	"golang.org/x/time/rate"
)

const (
	RequestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
	SubjectKey      = "subject"
)

// RequestID propagates X-Request-ID or assigns a new ULID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 64 {
			if nid, err := common.NewULID(); err == nil {
				id = nid
			}
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Recovery turns panics into the standard error envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[http] panic path=%s request_id=%s err=%v\n%s",
					c.Request.URL.Path, c.GetString(RequestIDKey), r, debug.Stack())
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
			}
		}()
		c.Next()
	}
}

// AuthRequired checks a bearer JWT. An empty secret disables the check.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		h := c.GetHeader("Authorization")
		tok, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(tok) == "" {
			// EventSource cannot set headers
			tok = c.Query("access_token")
		}
		if tok == "" {
			common.Fail(c, http.StatusUnauthorized, 40100, "missing token")
			return
		}
		sub, err := auth.ParseJWT(strings.TrimSpace(tok), secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid token")
			return
		}
		c.Set(SubjectKey, sub)
		c.Next()
	}
}

type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = l
	return l
}

// RateLimit applies a token bucket per subject (or client IP when unauthenticated).
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 3
	}
	pool := &limiterPool{rps: rps, burst: burst}
	return func(c *gin.Context) {
		key := c.GetString(SubjectKey)
		if key == "" {
			key = c.ClientIP()
		}
		if !pool.get(key).Allow() {
			common.Fail(c, http.StatusTooManyRequests, 42900, "rate limit exceeded")
			return
		}
		c.Next()
	}
}
