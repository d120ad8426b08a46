package agentmodel

// TeamStrategy selects how a team's agents are scheduled.
type TeamStrategy string

const (
	StrategyParallel   TeamStrategy = "parallel"
	StrategySequential TeamStrategy = "sequential"
)

// ToolDescriptor is the narrow shape of tool metadata a TeamConfig
// carries; the actual executable Tool lives behind the consumed tool
// interface (see llm.go) and is not part of the persisted config.
type ToolDescriptor struct {
	Name        string
	Description string
}

// MergeDescriptor selects a merge strategy by name and, optionally,
// the preset used for a strategy's internal merge-agent fan-out.
type MergeDescriptor struct {
	Strategy   string
	MergeAgent *AgentPreset
}

// TeamConfig is the immutable definition of a named team.
type TeamConfig struct {
	Name            string
	Agents          []AgentPreset
	Tools           []ToolDescriptor
	Strategy        TeamStrategy
	Merge           MergeDescriptor
	MaxRetries      int
	// StopOnError inverts the spec's continueOnError knob so its
	// zero value matches the spec default (continueOnError=true ==
	// StopOnError=false) without needing a tri-state field.
	StopOnError bool
	Tracing     TracingConfig
}

// TracingConfig controls whether a team's runs emit spans.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
}

// ContinueOnError reports the spec-facing sense of StopOnError.
func (c TeamConfig) ContinueOnError() bool { return !c.StopOnError }

// WithDefaults fills zero-valued optional fields with their spec
// default (maxRetries=1) and returns a copy.
func (c TeamConfig) WithDefaults() TeamConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 1
	}
	return c
}

// ExecutionStatus is the lifecycle state of a TeamExecution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionMerging   ExecutionStatus = "merging"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionAborted   ExecutionStatus = "aborted"
)

// TeamExecution is the persisted top-level record of one team run.
type TeamExecution struct {
	ID          int64
	SessionID   string
	TeamName    string
	Task        string
	Status      ExecutionStatus
	AgentCount  int
	StartedAt   int64
	CompletedAt *int64
	Error       string
}

// AgentResultStatus is the lifecycle state of a StoredAgentResult.
type AgentResultStatus string

const (
	AgentResultPending  AgentResultStatus = "pending"
	AgentResultRunning  AgentResultStatus = "running"
	AgentResultDone     AgentResultStatus = "completed"
	AgentResultFailed   AgentResultStatus = "failed"
	AgentResultRetrying AgentResultStatus = "retrying"
)

// StoredAgentResult is the persisted per-agent child row of a
// TeamExecution.
type StoredAgentResult struct {
	ID          int64
	ExecutionID int64
	AgentName   string
	Status      AgentResultStatus
	Findings    []Finding
	Messages    []AgentMessage
	Usage       TokenUsage
	DurationMs  int64
	Error       string
	CreatedAt   int64
	UpdatedAt   int64
}

// MergePhase is a step of the Merge Executor's pipeline.
type MergePhase string

const (
	PhaseParsing      MergePhase = "parsing"
	PhaseClustering   MergePhase = "clustering"
	PhaseVerifying    MergePhase = "verifying"
	PhaseRanking      MergePhase = "ranking"
	PhaseSynthesizing MergePhase = "synthesizing"
	PhaseCompleted    MergePhase = "completed"
)

// MergeSnapshot is a persisted record of one merge phase transition,
// used to reconstruct an in-flight merge after a crash.
type MergeSnapshot struct {
	ID          int64
	ExecutionID int64
	Phase       MergePhase
	InputData   []byte // opaque, phase-specific
	OutputData  []byte // opaque except for the final `completed` phase
	CreatedAt   int64
}

// TeamResult is the terminal value a Team Engine run resolves to.
type TeamResult struct {
	Success   bool
	Error     string
	Findings  []Finding
	Clusters  []FindingCluster
	Summary   string
	AgentRuns []AgentResult
	Usage     TokenUsage
}

// FindingCluster groups related findings as produced by a merge
// strategy's clustering phase.
type FindingCluster struct {
	ID         string
	FindingIDs []string
	Label      string
}
