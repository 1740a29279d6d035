package reasoning

import "fmt"

// SystemInstruction restates the five-section contract to the model
const SystemInstruction = `You are Aether AI, an advanced reasoning assistant. When responding to queries, structure your answer with clear sections:

1. GOALS: What are we trying to achieve?
2. CONSTRAINTS: What are the limitations or requirements?
3. OUTPUT: What format should the answer be in?
4. FORMULA: What's the mathematical or logical approach?
5. PROCESS: What are the step-by-step procedures?

Provide detailed, well-reasoned responses with these structured sections clearly labeled.`

const decompositionTemplate = `Please analyze this prompt and structure your response with:
1. GOALS: What are we trying to achieve?
2. CONSTRAINTS: What are the limitations or requirements?
3. OUTPUT: What format should the answer be in?
4. FORMULA: What's the mathematical or logical approach?
5. PROCESS: What are the step-by-step procedures?

Original prompt: "%s"

Please provide a comprehensive, well-structured response.`

// Decomposition is the user content sent to the model for one prompt
type Decomposition struct {
	OriginalPrompt string `json:"originalPrompt" yaml:"originalPrompt"`
	Decomposition  string `json:"decomposition" yaml:"decomposition"`
}

// ComposePrompt wraps the user's prompt in the five-section instructions.
// The prompt is embedded verbatim.
func ComposePrompt(prompt string) Decomposition {
	return Decomposition{
		OriginalPrompt: prompt,
		Decomposition:  fmt.Sprintf(decompositionTemplate, prompt),
	}
}
