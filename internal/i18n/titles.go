package i18n

import "github.com/cf-ai-aether-go/pkg/markdown"

// SectionTitles returns the response section headings in lang
func (l *Localizer) SectionTitles(lang string) markdown.Titles {
	return markdown.Titles{
		Goals:       l.Get(lang, MsgSectionGoals, nil),
		Constraints: l.Get(lang, MsgSectionConstraints, nil),
		Output:      l.Get(lang, MsgSectionOutput, nil),
		Formula:     l.Get(lang, MsgSectionFormula, nil),
		Process:     l.Get(lang, MsgSectionProcess, nil),
	}
}
