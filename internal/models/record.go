package models

import (
	"encoding/json"
	"time"
)

// Fallback values substituted when a section is missing
const (
	FallbackGoal       = "Analysis in progress"
	FallbackConstraint = "Standard constraints apply"
	FallbackFormula    = "Logical reasoning applied"
	FallbackOutput     = "No output provided"
	OutputPreviewRunes = 200
)

// FallbackProcess returns a fresh copy of the placeholder process steps
func FallbackProcess() []string {
	return []string{"Step 1: Analyze", "Step 2: Process", "Step 3: Conclude"}
}

// MessageRecord is a message as persisted. Structured columns are nullable:
// user messages never carry them and older rows may lack some.
type MessageRecord struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	UserID         int64     `json:"userId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Goals          *string   `json:"goals,omitempty"`
	Constraints    *string   `json:"constraints,omitempty"`
	Output         *string   `json:"output,omitempty"`
	Formula        *string   `json:"formula,omitempty"`
	Process        *string   `json:"process,omitempty"`
	ThinkingStatus string    `json:"thinkingStatus,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EncodeStructured fills the structured columns of rec from resp.
// List fields are stored as JSON arrays of strings.
func (rec *MessageRecord) EncodeStructured(resp *StructuredResponse) error {
	goals, err := encodeList(resp.Goals)
	if err != nil {
		return err
	}
	constraints, err := encodeList(resp.Constraints)
	if err != nil {
		return err
	}
	process, err := encodeList(resp.Process)
	if err != nil {
		return err
	}
	output, formula := resp.Output, resp.Formula

	rec.Content = resp.FullText
	rec.Goals = &goals
	rec.Constraints = &constraints
	rec.Output = &output
	rec.Formula = &formula
	rec.Process = &process
	return nil
}

// HasStructure reports whether any structured column is set
func (rec *MessageRecord) HasStructure() bool {
	return rec.Goals != nil || rec.Constraints != nil || rec.Output != nil ||
		rec.Formula != nil || rec.Process != nil
}

// Structured converts the nullable columns into a StructuredResponse.
// This is the only place boundary nulls are mapped to fallback values.
func (rec *MessageRecord) Structured() *StructuredResponse {
	resp := &StructuredResponse{
		Goals:       decodeList(rec.Goals),
		Constraints: decodeList(rec.Constraints),
		Process:     decodeList(rec.Process),
		FullText:    rec.Content,
	}
	if rec.Output != nil {
		resp.Output = *rec.Output
	}
	if rec.Formula != nil {
		resp.Formula = *rec.Formula
	}
	ApplyFallbacks(resp)
	return resp
}

// ApplyFallbacks replaces empty fields of resp with their placeholders
func ApplyFallbacks(resp *StructuredResponse) {
	if len(resp.Goals) == 0 {
		resp.Goals = []string{FallbackGoal}
	}
	if len(resp.Constraints) == 0 {
		resp.Constraints = []string{FallbackConstraint}
	}
	if resp.Output == "" {
		resp.Output = Preview(resp.FullText, OutputPreviewRunes)
	}
	if resp.Output == "" {
		resp.Output = FallbackOutput
	}
	if resp.Formula == "" {
		resp.Formula = FallbackFormula
	}
	if len(resp.Process) == 0 {
		resp.Process = FallbackProcess()
	}
}

// Preview returns at most n runes of s
func Preview(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(col *string) []string {
	if col == nil || *col == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(*col), &items); err != nil {
		return nil
	}
	return items
}
