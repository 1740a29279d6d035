package middleware

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// SecurityMiddleware provides input checks
type SecurityMiddleware struct {
	maxBytes int
	logger   *logrus.Logger
}

// NewSecurityMiddleware creates security middleware rejecting prompts
// longer than maxBytes
func NewSecurityMiddleware(maxBytes int, logger *logrus.Logger) *SecurityMiddleware {
	return &SecurityMiddleware{
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// bodyOverhead leaves room for the JSON envelope around a prompt
const bodyOverhead = 4096

// BodyLimit is the largest request body accepted, or 0 for no limit.
// JSON escaping can grow a prompt up to six bytes per input byte.
func (s *SecurityMiddleware) BodyLimit() int64 {
	if s.maxBytes <= 0 {
		return 0
	}
	return int64(s.maxBytes)*6 + bodyOverhead
}

// ValidateInput performs input validation
func (s *SecurityMiddleware) ValidateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message is empty")
	}
	if s.maxBytes > 0 && len(text) > s.maxBytes {
		s.logger.WithField("bytes", len(text)).Warn("Rejected oversized input")
		return fmt.Errorf("message too long: %d bytes", len(text))
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	return nil
}
