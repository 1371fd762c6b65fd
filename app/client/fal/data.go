package fal

const (
	statusCompleted = "COMPLETED"
	statusFailed    = "FAILED"
)

type submitRequest struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt"`
	Model        string `json:"model"`
	Reasoning    bool   `json:"reasoning"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type resultResponse struct {
	Output string `json:"output"`
	Error  any    `json:"error"`
}
