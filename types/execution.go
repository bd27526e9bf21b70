package types

import "time"

// Status is the completion status of an ExecutionLog.
type Status string

const (
	StatusRunning     Status = "running"
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
	// StatusIncomplete 达到最大迭代次数，最终回复只是最后一次思考
	StatusIncomplete Status = "incomplete"
)

// TerminationReason explains why a reasoning loop stopped.
type TerminationReason string

const (
	ReasonModelConcluded    TerminationReason = "model_concluded"
	ReasonMaxIterations     TerminationReason = "max_iterations"
	ReasonError             TerminationReason = "error"
	ReasonStoppedExternally TerminationReason = "stopped_externally"
)

// ExecutedAction is the tool call an ExecutionStep issued.
type ExecutedAction struct {
	ToolID    string         `json:"tool_id"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ExecutionStep records one iteration of a reasoning loop.
type ExecutionStep struct {
	StepNumber  int             `json:"step_number"`
	AgentID     string          `json:"agent_id"`
	AgentName   string          `json:"agent_name"`
	Thought     string          `json:"thought"`
	Action      *ExecutedAction `json:"action,omitempty"`
	Observation *ToolCallResult `json:"observation,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ExecutionLog is the append-only record of one invocation.
type ExecutionLog struct {
	RunID          string            `json:"run_id"`
	SessionID      string            `json:"session_id,omitempty"`
	AgentID        string            `json:"agent_id"`
	AgentName      string            `json:"agent_name"`
	Task           string            `json:"task"`
	Depth          int               `json:"depth"`
	Steps          []ExecutionStep   `json:"steps"`
	FinalResponse  string            `json:"final_response"`
	ToolCallsCount int               `json:"tool_calls_count"`
	Status         Status            `json:"status"`
	Reason         TerminationReason `json:"termination_reason,omitempty"`
	Error          string            `json:"error,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	Elapsed        time.Duration     `json:"elapsed"`

	finalized bool
}

// NewExecutionLog starts a log for one invocation.
func NewExecutionLog(runID string, agent *AgentDefinition, task string) *ExecutionLog {
	return &ExecutionLog{
		RunID:     runID,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Task:      task,
		Steps:     make([]ExecutionStep, 0, agent.MaxIterations),
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
}

// Append adds a step. Appending after Finalize is a no-op.
func (l *ExecutionLog) Append(step ExecutionStep) {
	if l.finalized {
		return
	}
	l.Steps = append(l.Steps, step)
	if step.Action != nil {
		l.ToolCallsCount++
	}
}

// Finalize sets the terminal fields. Only the first call has any effect.
func (l *ExecutionLog) Finalize(status Status, reason TerminationReason, final string, err error) bool {
	if l.finalized {
		return false
	}
	l.finalized = true
	l.Status = status
	l.Reason = reason
	l.FinalResponse = final
	if err != nil {
		l.Error = err.Error()
	}
	l.Elapsed = time.Since(l.StartedAt)
	return true
}

// Finalized reports whether Finalize has run.
func (l *ExecutionLog) Finalized() bool {
	return l.finalized
}

// LastThought returns the most recent non-empty thought.
func (l *ExecutionLog) LastThought() string {
	for i := len(l.Steps) - 1; i >= 0; i-- {
		if l.Steps[i].Thought != "" {
			return l.Steps[i].Thought
		}
	}
	return ""
}
