package reasoning

import (
	"strings"
	"unicode/utf8"

	"github.com/cf-ai-aether-go/internal/models"
)

type sectionKind int

const (
	seekingHeader sectionKind = iota
	sectionGoals
	sectionConstraints
	sectionOutput
	sectionFormula
	sectionProcess
)

// Longer names first so GOALS wins over GOAL.
var sectionHeaders = []struct {
	kind  sectionKind
	names []string
}{
	{sectionGoals, []string{"GOALS", "GOAL"}},
	{sectionConstraints, []string{"CONSTRAINTS", "CONSTRAINT"}},
	{sectionOutput, []string{"OUTPUT"}},
	{sectionFormula, []string{"FORMULA"}},
	{sectionProcess, []string{"PROCESS"}},
}

var bulletMarkers = map[rune]bool{
	'-': true,
	'*': true,
	'•': true,
	'‣': true,
	'◦': true,
	'▪': true,
	'●': true,
	'∙': true,
	'–': true,
}

// ParseResponse extracts the five labeled sections from raw model output.
// It never fails: a missing section yields its fallback value and FullText
// is always raw.
func ParseResponse(raw string) *models.StructuredResponse {
	bodies := splitSections(raw)

	resp := &models.StructuredResponse{
		Goals:       listItems(bodies[sectionGoals]),
		Constraints: listItems(bodies[sectionConstraints]),
		Output:      scalarText(bodies[sectionOutput]),
		Formula:     scalarText(bodies[sectionFormula]),
		Process:     listItems(bodies[sectionProcess]),
		FullText:    raw,
	}
	models.ApplyFallbacks(resp)
	return resp
}

// splitSections scans raw line by line. Text before the first header is
// dropped; text after a header belongs to it until the next header.
func splitSections(raw string) map[sectionKind][]string {
	bodies := make(map[sectionKind][]string)
	state := seekingHeader

	raw = strings.TrimPrefix(raw, "\uFEFF")
	for _, line := range strings.Split(raw, "\n") {
		if kind, ok := matchHeader(line); ok {
			state = kind
			continue
		}
		if state != seekingHeader {
			bodies[state] = append(bodies[state], line)
		}
	}
	return bodies
}

// matchHeader recognizes "GOALS:", "## Goals:", "**Goals:**" and
// "1. GOALS:" in any letter case. The colon must end the line; only
// emphasis markers may follow it, so "Output: the summary" is prose.
func matchHeader(line string) (sectionKind, bool) {
	s := strings.TrimSpace(line)
	s = strings.TrimSpace(strings.TrimLeft(s, "#"))
	if strings.HasPrefix(s, "**") || strings.HasPrefix(s, "__") {
		s = strings.TrimLeft(s, "*_")
	}
	if n := numberPrefix(s); n > 0 {
		s = strings.TrimLeft(s[n:], " \t*_")
	}

	for _, h := range sectionHeaders {
		for _, name := range h.names {
			if len(s) < len(name) || !strings.EqualFold(s[:len(name)], name) {
				continue
			}
			rest := strings.TrimLeft(s[len(name):], "*_ \t")
			if !strings.HasPrefix(rest, ":") {
				continue
			}
			if strings.Trim(rest[1:], "*_ \t") != "" {
				return seekingHeader, false
			}
			return h.kind, true
		}
	}
	return seekingHeader, false
}

// numberPrefix returns the length of a leading "12." or "3)" marker.
func numberPrefix(s string) int {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) || (s[i] != '.' && s[i] != ')') {
		return 0
	}
	return i + 1
}

func listItems(lines []string) []string {
	var items []string
	for _, line := range lines {
		item := strings.TrimSpace(stripBullet(strings.TrimSpace(line)))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// stripBullet removes one leading bullet glyph. A leading "**" is bold
// text, not a bullet.
func stripBullet(s string) string {
	if strings.HasPrefix(s, "**") {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	if bulletMarkers[r] {
		return s[size:]
	}
	return s
}

func scalarText(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
