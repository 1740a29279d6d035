package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/cf-ai-aether-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ResponseCache remembers structured answers for identical prompts
type ResponseCache struct {
	enabled bool
	entries *Expiring[*models.StructuredResponse]
	logger  *logrus.Logger
}

// NewResponseCache creates a response cache. When disabled every lookup
// misses and Set is a no-op.
func NewResponseCache(cfg *config.ResponseCacheConfig, logger *logrus.Logger) *ResponseCache {
	if !cfg.Enabled {
		return &ResponseCache{enabled: false}
	}

	return &ResponseCache{
		enabled: true,
		entries: NewExpiring[*models.StructuredResponse](cfg.MaxSize, cfg.TTL),
		logger:  logger,
	}
}

// Get retrieves a cached response
func (c *ResponseCache) Get(model, prompt string, params models.SamplingParams) (*models.StructuredResponse, bool) {
	if !c.enabled {
		return nil, false
	}

	resp, found := c.entries.Get(c.generateKey(model, prompt, params))
	if found {
		c.logger.WithField("model", model).Debug("Response cache hit")
	}
	return resp, found
}

// Set stores a response in cache
func (c *ResponseCache) Set(model, prompt string, params models.SamplingParams, resp *models.StructuredResponse) {
	if !c.enabled {
		return
	}

	c.entries.Set(c.generateKey(model, prompt, params), resp)
	c.logger.WithFields(logrus.Fields{
		"model":   model,
		"entries": c.entries.Len(),
	}).Debug("Response cached")
}

// Clear removes all cached entries
func (c *ResponseCache) Clear() {
	if !c.enabled {
		return
	}

	c.entries.Clear()
	c.logger.Info("Response cache cleared")
}

// generateKey creates a unique cache key
func (c *ResponseCache) generateKey(model, prompt string, params models.SamplingParams) string {
	data := fmt.Sprintf("%s:%.2f:%.2f:%d:%d:%s", model, params.Temperature, params.TopP, params.TopK, params.MaxTokens, prompt)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
