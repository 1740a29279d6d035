package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/sirupsen/logrus"
)

// Limiter names
const (
	LimiterAPI   = "api"
	LimiterModel = "model"
	LimiterAuth  = "auth"
)

// DefaultCleanupInterval is how often expired windows are swept
const DefaultCleanupInterval = time.Minute

// Decision is the outcome of a rate-limit check
type Decision struct {
	Allowed   bool          `json:"allowed"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"resetIn"`
}

type rateWindow struct {
	count     int
	resetTime time.Time
}

// FixedWindowLimiter counts requests per key in windows that start at the
// first request and reset hard when they end. A client may therefore send
// up to twice maxRequests around a window boundary.
type FixedWindowLimiter struct {
	name        string
	enabled     bool
	maxRequests int
	window      time.Duration
	mu          sync.Mutex
	windows     map[string]*rateWindow
	logger      *logrus.Logger
	now         func() time.Time
}

// NewFixedWindowLimiter creates a limiter allowing maxRequests per window
func NewFixedWindowLimiter(name string, maxRequests int, window time.Duration, logger *logrus.Logger) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		name:        name,
		enabled:     true,
		maxRequests: maxRequests,
		window:      window,
		windows:     make(map[string]*rateWindow),
		logger:      logger,
		now:         time.Now,
	}
}

// Name returns the limiter name
func (l *FixedWindowLimiter) Name() string {
	return l.name
}

// IsAllowed records a request for key and reports whether it may proceed
func (l *FixedWindowLimiter) IsAllowed(key string) Decision {
	if !l.enabled {
		return Decision{Allowed: true, Remaining: l.maxRequests, ResetIn: l.window}
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[key]
	if !exists || now.After(w.resetTime) {
		l.windows[key] = &rateWindow{count: 1, resetTime: now.Add(l.window)}
		return Decision{Allowed: true, Remaining: l.maxRequests - 1, ResetIn: l.window}
	}

	if w.count >= l.maxRequests {
		resetIn := w.resetTime.Sub(now)
		rateLimitExceeded.WithLabelValues(l.name).Inc()
		l.logger.WithFields(logrus.Fields{
			"limiter":  l.name,
			"key":      key,
			"reset_in": resetIn,
		}).Warn("Rate limit exceeded")
		return Decision{Allowed: false, Remaining: 0, ResetIn: resetIn}
	}

	w.count++
	return Decision{Allowed: true, Remaining: l.maxRequests - w.count, ResetIn: w.resetTime.Sub(now)}
}

// Reset forgets the window for key
func (l *FixedWindowLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// Len returns the number of tracked windows
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Sweep removes windows whose reset time has passed and returns how many
func (l *FixedWindowLimiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if now.After(w.resetTime) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired windows every interval until ctx is done
func (l *FixedWindowLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				l.logger.WithFields(logrus.Fields{
					"limiter": l.name,
					"removed": removed,
				}).Debug("Swept expired rate windows")
			}
		}
	}
}

// Limiters holds one limiter per concern, each with independent state
type Limiters struct {
	API             *FixedWindowLimiter
	Model           *FixedWindowLimiter
	Auth            *FixedWindowLimiter
	cleanupInterval time.Duration
}

// NewLimiters creates the api, model and auth limiters. When rate limiting
// is disabled every check is allowed.
func NewLimiters(cfg *config.RateLimitConfig, logger *logrus.Logger) *Limiters {
	l := &Limiters{
		API:             NewFixedWindowLimiter(LimiterAPI, cfg.API.MaxRequests, cfg.API.Window, logger),
		Model:           NewFixedWindowLimiter(LimiterModel, cfg.Model.MaxRequests, cfg.Model.Window, logger),
		Auth:            NewFixedWindowLimiter(LimiterAuth, cfg.Auth.MaxRequests, cfg.Auth.Window, logger),
		cleanupInterval: cfg.CleanupInterval,
	}
	if !cfg.Enabled {
		for _, limiter := range l.all() {
			limiter.enabled = false
		}
	}
	return l
}

// Get returns the limiter registered under name
func (l *Limiters) Get(name string) (*FixedWindowLimiter, error) {
	switch name {
	case LimiterAPI:
		return l.API, nil
	case LimiterModel:
		return l.Model, nil
	case LimiterAuth:
		return l.Auth, nil
	default:
		return nil, fmt.Errorf("unknown rate limiter: %s", name)
	}
}

// IsAllowed checks key against the named limiter
func (l *Limiters) IsAllowed(name, key string) (Decision, error) {
	limiter, err := l.Get(name)
	if err != nil {
		return Decision{}, err
	}
	return limiter.IsAllowed(key), nil
}

// Run starts the periodic sweep of every limiter and blocks until ctx is done
func (l *Limiters) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, limiter := range l.all() {
		wg.Add(1)
		go func(limiter *FixedWindowLimiter) {
			defer wg.Done()
			limiter.Run(ctx, l.cleanupInterval)
		}(limiter)
	}
	wg.Wait()
}

func (l *Limiters) all() []*FixedWindowLimiter {
	return []*FixedWindowLimiter{l.API, l.Model, l.Auth}
}

// RateLimitKey prefers the authenticated user and falls back to the
// client address
func RateLimitKey(userID int64, ip string) string {
	if userID != 0 {
		return fmt.Sprintf("user:%d", userID)
	}
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
