package entity

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// SubtaskStatus is the lifecycle state of a Subtask.
type SubtaskStatus string

const (
	SubtaskPending     SubtaskStatus = "pending"
	SubtaskRunning     SubtaskStatus = "running"
	SubtaskDone        SubtaskStatus = "done"
	SubtaskFailed      SubtaskStatus = "failed"
	SubtaskReDelegated SubtaskStatus = "re_delegated"
)

// ModelTier selects which model a subtask should run against.
type ModelTier string

const (
	ModelTierFlash  ModelTier = "flash"
	ModelTierSonnet ModelTier = "sonnet"
)

// Subtask is one ordered step of a decomposed Task.
type Subtask struct {
	Description          string        `json:"description"`
	ToolHints             []string      `json:"tool_hints"`
	ModelTier             ModelTier     `json:"model_tier"`
	VerificationCriteria  string        `json:"verification_criteria"`
	Reversible            bool          `json:"reversible"`
	Status                SubtaskStatus `json:"status"`
	Result                string        `json:"result,omitempty"`
	Error                 string        `json:"error,omitempty"`
	ReDelegated           bool          `json:"re_delegated"`
	Attempts              int           `json:"attempts"`
}

// Task is a user-initiated goal decomposed into an ordered subtask list
// and run autonomously by the task runner (C13).
type Task struct {
	ID                string     `json:"id"`
	Goal              string     `json:"goal"`
	Status            TaskStatus `json:"status"`
	UserID            string     `json:"user_id"`
	Channel           string     `json:"channel"`
	NotifyOnComplete  bool       `json:"notify_on_complete"`
	Subtasks          []*Subtask `json:"subtasks"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CriticScore       float64    `json:"critic_score,omitempty"`
	ReportPath        string     `json:"report_path,omitempty"`
}

// CurrentSubtask returns the first subtask that has not yet terminated,
// or nil if the task has completed every step.
func (t *Task) CurrentSubtask() *Subtask {
	for _, s := range t.Subtasks {
		if s.Status == SubtaskPending || s.Status == SubtaskRunning {
			return s
		}
	}
	return nil
}

// IsCancelled reports whether the task was externally marked failed
// before completion — the runner checks this before starting each subtask.
func (t *Task) IsCancelled() bool {
	return t.Status == TaskFailed
}

// Episode records the outcome of one executed subtask; consumed by the
// pattern detector and by the decomposer's tool-success priors.
type Episode struct {
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Success   bool      `json:"success"`
	ToolUsed  string    `json:"tool_used"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PatternFrequency classifies how often a detected Pattern recurs.
type PatternFrequency string

const (
	FrequencyDaily     PatternFrequency = "daily"
	FrequencyWeekly    PatternFrequency = "weekly"
	FrequencyIrregular PatternFrequency = "irregular"
)

// Pattern is a recurring behavior mined from episodes by the pattern
// detector (C15), cached to disk.
type Pattern struct {
	Description string           `json:"description"`
	Frequency   PatternFrequency `json:"frequency"`
	Tool        string           `json:"tool"`
	DayOfWeek   string           `json:"day_of_week,omitempty"`
	Confidence  float64          `json:"confidence"`
	DetectedAt  time.Time        `json:"detected_at"`
}
