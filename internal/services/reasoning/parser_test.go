package reasoning

import (
	"strings"
	"testing"

	"github.com/cf-ai-aether-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullResponse = `
GOALS:
- Understand web development fundamentals
- Learn modern frameworks
- Build practical applications

CONSTRAINTS:
- Limited time for learning
- Need practical experience
- Must use current technologies

OUTPUT:
A comprehensive guide with examples

FORMULA:
Theory + Practice = Mastery

PROCESS:
1. Learn HTML/CSS basics
2. Study JavaScript
3. Choose a framework
4. Build projects
5. Deploy applications
`

// =============================================================================
// Well-formed input
// =============================================================================

func TestParseResponse_AllSections(t *testing.T) {
	resp := ParseResponse(fullResponse)

	assert.Equal(t, []string{
		"Understand web development fundamentals",
		"Learn modern frameworks",
		"Build practical applications",
	}, resp.Goals)
	assert.Equal(t, []string{
		"Limited time for learning",
		"Need practical experience",
		"Must use current technologies",
	}, resp.Constraints)
	assert.Equal(t, "A comprehensive guide with examples", resp.Output)
	assert.Equal(t, "Theory + Practice = Mastery", resp.Formula)
	require.Len(t, resp.Process, 5)
	assert.Equal(t, "1. Learn HTML/CSS basics", resp.Process[0])
	assert.Equal(t, "5. Deploy applications", resp.Process[4])
	assert.Equal(t, fullResponse, resp.FullText)
}

func TestParseResponse_CaseInsensitiveHeaders(t *testing.T) {
	for _, header := range []string{"goals", "Goals", "GOALS", "gOaLs"} {
		t.Run(header, func(t *testing.T) {
			resp := ParseResponse(header + ":\n- Test goal\n\nconstraints:\n- Test constraint\n")

			assert.Equal(t, []string{"Test goal"}, resp.Goals)
			assert.Equal(t, []string{"Test constraint"}, resp.Constraints)
		})
	}
}

func TestParseResponse_LowercaseDocument(t *testing.T) {
	content := `
goals:
- Test goal

constraints:
- Test constraint

output:
Test output

formula:
Test formula

process:
- Test process
`
	resp := ParseResponse(content)

	assert.Equal(t, []string{"Test goal"}, resp.Goals)
	assert.Equal(t, []string{"Test constraint"}, resp.Constraints)
	assert.Equal(t, "Test output", resp.Output)
	assert.Equal(t, "Test formula", resp.Formula)
	assert.Equal(t, []string{"Test process"}, resp.Process)
}

func TestParseResponse_MixedBullets(t *testing.T) {
	resp := ParseResponse("GOALS:\n- First goal\n• Second goal\n* Third goal\n◦ Fourth goal\n")

	assert.Equal(t, []string{"First goal", "Second goal", "Third goal", "Fourth goal"}, resp.Goals)
}

func TestParseResponse_KeepsNumbering(t *testing.T) {
	resp := ParseResponse("PROCESS:\n1. Initialize the system\n2) Process the input\n")

	assert.Equal(t, []string{"1. Initialize the system", "2) Process the input"}, resp.Process)
}

func TestParseResponse_ScalarKeepsLineBreaks(t *testing.T) {
	resp := ParseResponse("OUTPUT:\n  first line\nsecond line  \n\nFORMULA:\nx = y\n")

	assert.Equal(t, "first line\nsecond line", resp.Output)
	assert.Equal(t, "x = y", resp.Formula)
}

func TestParseResponse_ProseBelongsToPrecedingSection(t *testing.T) {
	content := "GOALS:\n- Ship it\nSome extra commentary here.\nCONSTRAINTS:\n- Budget\n"
	resp := ParseResponse(content)

	assert.Equal(t, []string{"Ship it", "Some extra commentary here."}, resp.Goals)
	assert.Equal(t, []string{"Budget"}, resp.Constraints)
}

func TestParseResponse_OutOfOrderSections(t *testing.T) {
	content := "PROCESS:\n- Step A\nGOALS:\n- Goal A\nOUTPUT:\nDone\n"
	resp := ParseResponse(content)

	assert.Equal(t, []string{"Step A"}, resp.Process)
	assert.Equal(t, []string{"Goal A"}, resp.Goals)
	assert.Equal(t, "Done", resp.Output)
}

func TestParseResponse_MarkdownHeaders(t *testing.T) {
	content := "## Goals:\n- Goal\n**Formula:**\nE = mc^2\n1. PROCESS:\n- Measure\n"
	resp := ParseResponse(content)

	assert.Equal(t, []string{"Goal"}, resp.Goals)
	assert.Equal(t, "E = mc^2", resp.Formula)
	assert.Equal(t, []string{"Measure"}, resp.Process)
}

func TestParseResponse_NumberedLineWithTextIsNotHeader(t *testing.T) {
	resp := ParseResponse("PROCESS:\n1. Output: write the report\n2. Review\n")

	assert.Equal(t, []string{"1. Output: write the report", "2. Review"}, resp.Process)
	assert.Equal(t, models.FallbackFormula, resp.Formula)
}

func TestParseResponse_BulletedHeaderWordIsNotHeader(t *testing.T) {
	resp := ParseResponse("GOALS:\n- Output: a report\n")

	assert.Equal(t, []string{"Output: a report"}, resp.Goals)
}

func TestParseResponse_HeaderWordInProseStaysInSection(t *testing.T) {
	resp := ParseResponse("GOALS:\n- a\nOutput: the final summary is ready\n- b\nPROCESS:\n1. x")

	assert.Equal(t, []string{"a", "Output: the final summary is ready", "b"}, resp.Goals)
	assert.Equal(t, []string{"1. x"}, resp.Process)
	assert.Equal(t, models.FallbackFormula, resp.Formula)
	assert.Equal(t, "GOALS:\n- a\nOutput: the final summary is ready\n- b\nPROCESS:\n1. x", resp.Output)
}

func TestParseResponse_InlineLabelsAreNotHeaders(t *testing.T) {
	content := "Goals: reduce cost\nConstraints: budget"
	resp := ParseResponse(content)

	assert.Equal(t, []string{models.FallbackGoal}, resp.Goals)
	assert.Equal(t, []string{models.FallbackConstraint}, resp.Constraints)
	assert.Equal(t, content, resp.Output)
}

func TestParseResponse_TrailingEmphasisAfterColon(t *testing.T) {
	resp := ParseResponse("**GOALS:** \n- One\n__Output:__\nDone\n")

	assert.Equal(t, []string{"One"}, resp.Goals)
	assert.Equal(t, "Done", resp.Output)
}

func TestParseResponse_LeadingByteOrderMark(t *testing.T) {
	content := "\uFEFFGOALS:\n- First\nFORMULA:\nA + B\n"
	resp := ParseResponse(content)

	assert.Equal(t, []string{"First"}, resp.Goals)
	assert.Equal(t, "A + B", resp.Formula)
	assert.Equal(t, content, resp.FullText)
}

func TestParseResponse_CRLF(t *testing.T) {
	resp := ParseResponse("GOALS:\r\n- One\r\n- Two\r\nFORMULA:\r\nA + B\r\n")

	assert.Equal(t, []string{"One", "Two"}, resp.Goals)
	assert.Equal(t, "A + B", resp.Formula)
}

// =============================================================================
// Degradation
// =============================================================================

func TestParseResponse_MissingSections(t *testing.T) {
	content := "Just some regular text without structured sections"
	resp := ParseResponse(content)

	assert.Equal(t, []string{"Analysis in progress"}, resp.Goals)
	assert.Equal(t, []string{"Standard constraints apply"}, resp.Constraints)
	assert.Equal(t, content, resp.Output)
	assert.Equal(t, "Logical reasoning applied", resp.Formula)
	assert.Equal(t, []string{"Step 1: Analyze", "Step 2: Process", "Step 3: Conclude"}, resp.Process)
	assert.Equal(t, content, resp.FullText)
}

func TestParseResponse_OutputFallbackTruncates(t *testing.T) {
	content := strings.Repeat("é", 250)
	resp := ParseResponse(content)

	assert.Equal(t, strings.Repeat("é", 200), resp.Output)
	assert.Equal(t, content, resp.FullText)
}

func TestParseResponse_Totality(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"\n\n\n",
		"PROCESS:",
		"PROCESS:\n",
		"GOALS:\nCONSTRAINTS:\nOUTPUT:\nFORMULA:\nPROCESS:\n",
		"goals:goals:goals:",
		"1.",
		"**",
		"\xff\xfe invalid utf8",
	}

	for _, input := range inputs {
		resp := ParseResponse(input)

		assert.NotEmpty(t, resp.Goals, "goals for %q", input)
		assert.NotEmpty(t, resp.Constraints, "constraints for %q", input)
		assert.NotEmpty(t, resp.Output, "output for %q", input)
		assert.NotEmpty(t, resp.Formula, "formula for %q", input)
		assert.NotEmpty(t, resp.Process, "process for %q", input)
		assert.Equal(t, input, resp.FullText)
	}
}

func TestParseResponse_OnlyProcessHeader(t *testing.T) {
	resp := ParseResponse("PROCESS:\n- Only step")

	assert.Equal(t, []string{"Only step"}, resp.Process)
	assert.Equal(t, []string{models.FallbackGoal}, resp.Goals)
	assert.Equal(t, "PROCESS:\n- Only step", resp.Output)
}
