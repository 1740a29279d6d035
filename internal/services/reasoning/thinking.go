package reasoning

// Thinking stages shown to the client while a response is produced
const (
	StageOrganizing   = "organizing"
	StageFormulating  = "formulating"
	StageThinking     = "thinking"
	StageProcessing   = "processing"
	StageReorganizing = "re-organizing"
	StageComplete     = "complete"
)

// ThinkingStatus is one step of the progress indicator
type ThinkingStatus struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
}

// ThinkingStages returns the ordered progress steps ending with complete
func ThinkingStages() []ThinkingStatus {
	stages := []string{StageOrganizing, StageFormulating, StageThinking, StageProcessing, StageReorganizing}
	statuses := make([]ThinkingStatus, 0, len(stages)+1)
	for i, stage := range stages {
		statuses = append(statuses, ThinkingStatus{
			Stage:    stage,
			Progress: (i + 1) * 100 / len(stages),
		})
	}
	return append(statuses, ThinkingStatus{Stage: StageComplete, Progress: 100})
}
