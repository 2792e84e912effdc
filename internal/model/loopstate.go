package model

// LoopState mirrors the state file the loop driver maintains while a
// structured job runs (.ralph/ralph-loop.state.json). The driver owns this
// file exclusively; foreman only ever reads it. Unknown fields are
// tolerated by encoding/json and must stay tolerated; the driver adds
// fields between releases.
type LoopState struct {
	Active    bool   `json:"active"`
	Iteration int    `json:"iteration"`
	TasksFile string `json:"tasks_file,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}
