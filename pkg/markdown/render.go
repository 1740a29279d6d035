package markdown

import (
	"fmt"
	"strings"
	"time"

	"github.com/cf-ai-aether-go/internal/models"
)

// Titles are the headings used when rendering a structured response
type Titles struct {
	Goals       string
	Constraints string
	Output      string
	Formula     string
	Process     string
}

// DefaultTitles are the English section headings
var DefaultTitles = Titles{
	Goals:       "Goals",
	Constraints: "Constraints",
	Output:      "Output",
	Formula:     "Formula",
	Process:     "Process",
}

// RenderResponse writes resp as markdown with one heading per section.
// Output comes first since it is the answer.
func RenderResponse(resp *models.StructuredResponse, titles Titles, level int) string {
	heading := strings.Repeat("#", level) + " "

	var b strings.Builder
	b.WriteString(heading + titles.Output + "\n\n")
	b.WriteString(resp.Output + "\n\n")

	writeList(&b, heading+titles.Goals, resp.Goals, "- ")
	writeList(&b, heading+titles.Constraints, resp.Constraints, "- ")

	b.WriteString(heading + titles.Formula + "\n\n")
	b.WriteString("```\n" + resp.Formula + "\n```\n\n")

	writeList(&b, heading+titles.Process, resp.Process, "")

	return strings.TrimSpace(b.String()) + "\n"
}

func writeList(b *strings.Builder, heading string, items []string, prefix string) {
	b.WriteString(heading + "\n\n")
	for _, item := range items {
		if prefix == "" {
			// Process steps keep their own numbering; a hard break keeps one per line
			b.WriteString(item + "  \n")
			continue
		}
		b.WriteString(prefix + item + "\n")
	}
	b.WriteString("\n")
}

// RenderConversation writes a whole conversation as markdown. Assistant
// messages with structure are expanded into their sections.
func RenderConversation(conv *models.Conversation, messages []models.MessageRecord, titles Titles) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Title)
	fmt.Fprintf(&b, "_Exported %s_\n\n", time.Now().UTC().Format(time.RFC1123))

	for _, msg := range messages {
		b.WriteString("---\n\n")
		switch {
		case msg.Role == models.RoleAssistant && msg.HasStructure():
			b.WriteString("## Assistant\n\n")
			b.WriteString(RenderResponse(msg.Structured(), titles, 3))
			b.WriteString("\n")
		case msg.Role == models.RoleAssistant:
			b.WriteString("## Assistant\n\n" + msg.Content + "\n\n")
		default:
			b.WriteString("## User\n\n" + msg.Content + "\n\n")
		}
	}

	return b.String()
}
