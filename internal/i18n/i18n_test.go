package i18n

import (
	"testing"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalizer(t *testing.T) *Localizer {
	t.Helper()
	l, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"en", "zh"}})
	require.NoError(t, err)
	return l
}

func TestLocalizer_Get(t *testing.T) {
	l := newTestLocalizer(t)

	assert.Equal(t, "Thinking...", l.Get("en", MsgProcessing, nil))
	assert.Equal(t, "思考中...", l.Get("zh", MsgProcessing, nil))
	assert.Equal(t, "Thinking...", l.Get("fr", MsgProcessing, nil))
	assert.Equal(t, "Too many requests. Please try again in 12 seconds.",
		l.Get("en", MsgRateLimitExceeded, map[string]interface{}{"Seconds": 12}))
	assert.Equal(t, "no_such_message", l.Get("en", "no_such_message", nil))
}

func TestLocalizer_Match(t *testing.T) {
	l := newTestLocalizer(t)

	assert.Equal(t, "zh", l.Match("zh-CN,zh;q=0.9,en;q=0.8"))
	assert.Equal(t, "en", l.Match("en-US"))
	assert.Equal(t, "en", l.Match(""))
	assert.Equal(t, "en", l.Match("de"))
}

func TestLocalizer_SectionTitles(t *testing.T) {
	l := newTestLocalizer(t)

	assert.Equal(t, "Goals", l.SectionTitles("en").Goals)
	assert.Equal(t, "过程", l.SectionTitles("zh").Process)
}

func TestNewLocalizer_UnknownLanguage(t *testing.T) {
	_, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"xx"}})
	assert.Error(t, err)
}
