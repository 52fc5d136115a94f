// Package agent implements the deterministic planner/executor state
// machine that turns a user message into tool calls and a reply.
//
// A run walks plan → validate-args → check-policy → execute → reflect →
// verify → respond, updating State.Status at every transition. The budget
// is checked at each node boundary; an exhausted budget terminates the run
// with a budget diagnostic but never affects other runs.
package agent

import (
	"time"

	"github.com/kirahq/kira/internal/kira/config"
	"github.com/kirahq/kira/internal/kira/kerrors"
	"github.com/kirahq/kira/internal/kira/llm"
)

// Status values a run moves through.
const (
	StatusPending    = "pending"
	StatusPlanning   = "planning"
	StatusValidated  = "validated"
	StatusExecuting  = "executing"
	StatusVerified   = "verified"
	StatusResponding = "responding"
	StatusResponded  = "responded"
	StatusError      = "error"
)

// PlanStep is one planned tool call.
type PlanStep struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	DryRun bool           `json:"dry_run,omitempty"`
}

// ToolResult records the outcome of one executed step.
type ToolResult struct {
	Tool   string `json:"tool"`
	Status string `json:"status"` // ok | error | skipped
	Data   string `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	Step   int    `json:"step"`
}

// Flags toggle optional run behaviour.
type Flags struct {
	DryRun              bool
	RequireConfirmation bool
	EnableReflection    bool
	EnableVerification  bool
	HaltOnError         bool
}

// Budget bounds one run. Used counters only grow.
type Budget struct {
	MaxSteps    int
	MaxTokens   int
	MaxWallTime time.Duration

	StepsUsed  int
	TokensUsed int
	startedAt  time.Time
}

// NewBudget builds a running budget from configuration.
func NewBudget(cfg config.BudgetConfig, now time.Time) Budget {
	return Budget{
		MaxSteps:    cfg.MaxSteps,
		MaxTokens:   cfg.MaxTokens,
		MaxWallTime: cfg.MaxWallTime(),
		startedAt:   now,
	}
}

// WallTimeUsed reports elapsed wall time since the run started.
func (b *Budget) WallTimeUsed(now time.Time) time.Duration {
	return now.Sub(b.startedAt)
}

// IsExceeded reports whether any budget dimension is exhausted.
func (b *Budget) IsExceeded(now time.Time) bool {
	return b.StepsUsed >= b.MaxSteps ||
		b.TokensUsed >= b.MaxTokens ||
		b.WallTimeUsed(now) >= b.MaxWallTime
}

// Diagnostic names the exhausted dimensions.
func (b *Budget) Diagnostic(now time.Time) error {
	switch {
	case b.StepsUsed >= b.MaxSteps:
		return kerrors.Budget("steps_used %d reached max_steps %d", b.StepsUsed, b.MaxSteps)
	case b.TokensUsed >= b.MaxTokens:
		return kerrors.Budget("tokens_used %d reached max_tokens %d", b.TokensUsed, b.MaxTokens)
	default:
		return kerrors.Budget("wall_time_used %s reached max_wall_time %s",
			b.WallTimeUsed(now).Round(time.Millisecond), b.MaxWallTime)
	}
}

// State is the per-run agent state.
type State struct {
	TraceID     string        `json:"trace_id"`
	User        string        `json:"user"`
	Messages    []llm.Message `json:"messages"`
	Plan        []PlanStep    `json:"plan"`
	CurrentStep int           `json:"current_step"`
	ToolResults []ToolResult  `json:"tool_results"`
	Status      string        `json:"status"`
	Budget      Budget        `json:"budget"`
	Flags       Flags         `json:"flags"`
	Response    string        `json:"response,omitempty"`
	Err         error         `json:"-"`
	RetryCount  int           `json:"retry_count"`
}

// fail moves the run to its terminal error status.
func (s *State) fail(err error) {
	s.Status = StatusError
	s.Err = err
}
