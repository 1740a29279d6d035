package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
	matcher         language.Matcher
	tags            []string
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	defaultTag, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", cfg.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{cfg.DefaultLanguage}
	}

	tags := make([]language.Tag, 0, len(languages))
	for _, lang := range languages {
		path := fmt.Sprintf("locales/%s.json", lang)
		data, err := locales.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, path); err != nil {
			return nil, fmt.Errorf("failed to parse language file %s: %w", lang, err)
		}
		tags = append(tags, language.Make(lang))
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang, cfg.DefaultLanguage)
	}
	if _, ok := localizers[cfg.DefaultLanguage]; !ok {
		localizers[cfg.DefaultLanguage] = i18n.NewLocalizer(bundle, cfg.DefaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
		matcher:         language.NewMatcher(tags),
		tags:            languages,
	}, nil
}

// Match picks the supported language closest to an Accept-Language header
// or a Telegram language code
func (l *Localizer) Match(preferred string) string {
	if preferred == "" {
		return l.defaultLanguage
	}
	requested, _, err := language.ParseAcceptLanguage(preferred)
	if err != nil || len(requested) == 0 {
		return l.defaultLanguage
	}
	_, index, confidence := l.matcher.Match(requested...)
	if confidence == language.No {
		return l.defaultLanguage
	}
	return l.tags[index]
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgWelcome             = "welcome"
	MsgHelp                = "help"
	MsgProcessing          = "processing"
	MsgRateLimitExceeded   = "rate_limit_exceeded"
	MsgUnauthenticated     = "unauthenticated"
	MsgAIUnavailable       = "ai_unavailable"
	MsgConversationMissing = "conversation_missing"
	MsgInvalidSettings     = "invalid_settings"
	MsgInvalidInput        = "invalid_input"
	MsgError               = "error"
	MsgNewConversation     = "new_conversation"
	MsgConversationStarted = "conversation_started"
	MsgUnknownCommand      = "unknown_command"
	MsgSectionGoals        = "section_goals"
	MsgSectionConstraints  = "section_constraints"
	MsgSectionOutput       = "section_output"
	MsgSectionFormula      = "section_formula"
	MsgSectionProcess      = "section_process"
)
