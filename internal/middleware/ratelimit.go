package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apimw "github.com/sylvia-iot/controlplane/internal/api/middleware"
	"github.com/sylvia-iot/controlplane/internal/metrics"
	"github.com/sylvia-iot/controlplane/internal/models"
)

// RateLimiter is implemented by every per-key limiting strategy below.
type RateLimiter interface {
	Allow(key string) bool
	Limit() rate.Limit
	Burst() int
}

// IPRateLimiter implements per-client-IP rate limiting, used as the
// fallback for requests that arrive before RequireAuth has bound a
// principal (the OAuth2 endpoints themselves).
type IPRateLimiter struct {
	ips    map[string]*rate.Limiter
	mu     sync.RWMutex
	limit  rate.Limit
	burst  int
	ttl    time.Duration
	lastGC time.Time
}

func NewIPRateLimiter(rps float64, burst int, ttl time.Duration) *IPRateLimiter {
	rl := &IPRateLimiter{
		ips:    make(map[string]*rate.Limiter),
		limit:  rate.Limit(rps),
		burst:  burst,
		ttl:    ttl,
		lastGC: time.Now(),
	}
	go rl.gcLoop()
	return rl
}

func (rl *IPRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, exists := rl.ips[key]
	if !exists {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.ips[key] = limiter
	}
	return limiter.Allow()
}

func (rl *IPRateLimiter) Limit() rate.Limit { return rl.limit }
func (rl *IPRateLimiter) Burst() int        { return rl.burst }

func (rl *IPRateLimiter) gcLoop() {
	ticker := time.NewTicker(rl.ttl)
	defer ticker.Stop()
	for range ticker.C {
		rl.gc()
	}
}

func (rl *IPRateLimiter) gc() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if time.Since(rl.lastGC) > rl.ttl {
		rl.ips = make(map[string]*rate.Limiter)
		rl.lastGC = time.Now()
	}
}

// RoleRateLimiter implements per-principal rate limiting with distinct
// budgets per point on the role lattice of spec §4.8 — service
// (client-credentials) callers get the highest budget, since a single
// gateway integration fans out many devices behind one token.
type RoleRateLimiter struct {
	keyed  map[string]*rate.Limiter
	mu     sync.RWMutex
	limits map[models.Role]rate.Limit
	burst  int
}

func NewRoleRateLimiter(defaultLimit float64, burst int) *RoleRateLimiter {
	return &RoleRateLimiter{
		keyed: make(map[string]*rate.Limiter),
		limits: map[models.Role]rate.Limit{
			models.RoleAdmin:   rate.Limit(1000),
			models.RoleManager: rate.Limit(500),
			models.RoleService: rate.Limit(2000),
			models.RoleDev:     rate.Limit(defaultLimit),
		},
		burst: burst,
	}
}

func (rl *RoleRateLimiter) limitFor(roles []models.Role) rate.Limit {
	var best rate.Limit
	for _, r := range roles {
		if l, ok := rl.limits[r]; ok && l > best {
			best = l
		}
	}
	if best == 0 {
		return rl.limits[models.RoleDev]
	}
	return best
}

func (rl *RoleRateLimiter) Allow(key string, roles []models.Role) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, exists := rl.keyed[key]
	if !exists {
		limiter = rate.NewLimiter(rl.limitFor(roles), rl.burst)
		rl.keyed[key] = limiter
	}
	return limiter.Allow()
}

func (rl *RoleRateLimiter) Limit() rate.Limit { return rl.limits[models.RoleDev] }
func (rl *RoleRateLimiter) Burst() int        { return rl.burst }

// RateLimitConfig holds rate limiting configuration, sourced from
// config.SecurityConfig.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	TTL               time.Duration
}

// RateLimit applies IP-based limiting before authentication and
// principal-based limiting after RequireAuth has bound one, so a
// single misbehaving client or service integration cannot starve the
// shared budget.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	ipLimiter := NewIPRateLimiter(cfg.RequestsPerSecond, cfg.Burst, cfg.TTL)
	roleLimiter := NewRoleRateLimiter(cfg.RequestsPerSecond, cfg.Burst)

	return func(c *gin.Context) {
		var allowed bool
		var limiter RateLimiter
		var key string

		if p, ok := apimw.GetPrincipal(c); ok {
			key = "client:" + p.ClientID
			allowed = roleLimiter.Allow(key, p.Roles)
			limiter = roleLimiter
		} else {
			key = "ip:" + c.ClientIP()
			allowed = ipLimiter.Allow(c.ClientIP())
			limiter = ipLimiter
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(int(limiter.Limit())))
		c.Header("X-RateLimit-Burst", strconv.Itoa(limiter.Burst()))

		if !allowed {
			metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), "429").Inc()
			c.Header("X-RateLimit-Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    "err_rate_limited",
				"message": fmt.Sprintf("too many requests from %s", key),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
