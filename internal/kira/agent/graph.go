package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirahq/kira/common/clock"
	"github.com/kirahq/kira/common/retry"
	"github.com/kirahq/kira/common/trace"
	"github.com/kirahq/kira/internal/kira/audit"
	"github.com/kirahq/kira/internal/kira/config"
	"github.com/kirahq/kira/internal/kira/kerrors"
	"github.com/kirahq/kira/internal/kira/llm"
	"github.com/kirahq/kira/internal/kira/memory"
	"github.com/kirahq/kira/internal/kira/observability"
	"github.com/kirahq/kira/internal/kira/policy"
	"github.com/kirahq/kira/internal/kira/tools"
)

const (
	// maxRetriesPerTool bounds execute-node retries for one step.
	maxRetriesPerTool = 2
	// fallbackResponse is returned when the respond node's LLM call fails;
	// the run never crashes at the boundary.
	fallbackResponse = "done."
	// respondTemperature keeps the user-facing reply conversational; the
	// plan and reflect calls stay at the provider default.
	respondTemperature = 0.8
)

const plannerSystemPrompt = `You are a planner for a personal task and note vault.
Given the user's message and the available tools, respond with ONLY a JSON object:
{"plan": [{"tool": "<tool name>", "args": {...}}, ...]}
Use an empty plan when no tool is needed. No prose, no markdown fences.`

// Graph wires the run dependencies.
type Graph struct {
	router   *llm.Router
	registry *tools.Registry
	enforcer *policy.Enforcer
	conv     *memory.Conversation
	rag      *memory.RAG
	audit    *audit.Logger
	clock    clock.Clock

	budgetCfg config.BudgetConfig
	flags     Flags
	maxCalls  int
}

// NewGraph builds an agent graph.
func NewGraph(
	router *llm.Router,
	registry *tools.Registry,
	enforcer *policy.Enforcer,
	conv *memory.Conversation,
	rag *memory.RAG,
	auditLog *audit.Logger,
	ck clock.Clock,
	agentCfg config.AgentConfig,
	policyCfg config.PolicyConfig,
) *Graph {
	return &Graph{
		router:   router,
		registry: registry,
		enforcer: enforcer,
		conv:     conv,
		rag:      rag,
		audit:    auditLog,
		clock:    ck,
		budgetCfg: agentCfg.Budget,
		flags: Flags{
			DryRun:              agentCfg.Flags.DryRun,
			RequireConfirmation: agentCfg.Flags.RequireConfirmation,
			EnableReflection:    agentCfg.Flags.EnableReflection,
			EnableVerification:  agentCfg.Flags.EnableVerification,
			HaltOnError:         agentCfg.Flags.HaltOnError,
		},
		maxCalls: policyCfg.MaxToolCallsPerRequest,
	}
}

// Run executes one agent run for the user's message. confirmed marks that
// the user explicitly approved destructive operations in this request.
// The returned State is terminal: StatusResponded on success, StatusError
// with State.Err set otherwise.
func (g *Graph) Run(ctx context.Context, user, message string, confirmed bool) *State {
	ctx, traceID := trace.EnsureID(ctx, "")
	log := observability.WithTrace(ctx)

	s := &State{
		TraceID: traceID,
		User:    user,
		Status:  StatusPending,
		Budget:  NewBudget(g.budgetCfg, g.clock.Now()),
		Flags:   g.flags,
	}
	defer g.auditRun(ctx, s, message)

	// Node transitions are strictly sequential; the budget gate runs at
	// every boundary.
	nodes := []func(context.Context, *State, string, bool) bool{
		g.nodePlan,
		g.nodeValidate,
		g.nodePolicy,
		g.nodeExecute,
		g.nodeReflect,
		g.nodeVerify,
	}
	for _, node := range nodes {
		if !g.checkBudget(s) {
			return s
		}
		if !node(ctx, s, message, confirmed) {
			log.Warn("agent: run failed", "status", s.Status, "err", s.Err)
			return s
		}
	}

	if !g.checkBudget(s) {
		return s
	}
	g.nodeRespond(ctx, s, message)
	return s
}

// checkBudget fails the run when the budget is exhausted.
func (g *Graph) checkBudget(s *State) bool {
	now := g.clock.Now()
	if s.Budget.IsExceeded(now) {
		s.fail(s.Budget.Diagnostic(now))
		return false
	}
	return true
}

// nodePlan asks the planning provider for a JSON plan. A malformed reply
// gets exactly one re-prompt before the run fails.
func (g *Graph) nodePlan(ctx context.Context, s *State, message string, _ bool) bool {
	s.Status = StatusPlanning

	history := g.conv.History(s.TraceID)
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: g.plannerPrompt()}}
	for _, ex := range history {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: ex.User},
			llm.Message{Role: llm.RoleAssistant, Content: ex.Assistant})
	}
	if ctxMsg := g.retrievalContext(message); ctxMsg != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: ctxMsg})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})
	s.Messages = msgs

	for attempt := 0; attempt < 2; attempt++ {
		resp, err := g.router.Complete(ctx, llm.TaskPlanning, llm.CompletionRequest{
			Messages:  msgs,
			MaxTokens: s.Budget.MaxTokens - s.Budget.TokensUsed,
		})
		if err != nil {
			s.fail(fmt.Errorf("plan: %w", err))
			return false
		}
		s.Budget.StepsUsed++
		s.Budget.TokensUsed += resp.Usage.TotalTokens

		plan, perr := parsePlan(resp.Message.Content)
		if perr == nil {
			s.Plan = plan
			return true
		}
		// Re-prompt once with the parse failure.
		msgs = append(msgs,
			resp.Message,
			llm.Message{Role: llm.RoleUser, Content: "Invalid plan JSON: " + perr.Error() +
				". Reply with only the JSON object."})
	}
	s.fail(kerrors.Validation("planner produced no valid plan"))
	return false
}

// retrievalContext looks the user message up in the RAG store and renders
// the top hits as planning context. Empty when no store is wired or
// nothing overlaps.
func (g *Graph) retrievalContext(message string) string {
	if g.rag == nil {
		return ""
	}
	hits := g.rag.Search(message, 3)
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Possibly related vault entries:\n")
	for _, h := range hits {
		content := h.Document.Content
		if len(content) > 200 {
			content = content[:200]
		}
		fmt.Fprintf(&b, "- %s: %s\n", h.Document.ID, content)
	}
	return b.String()
}

func (g *Graph) plannerPrompt() string {
	defs, err := json.Marshal(g.registry.Definitions())
	if err != nil {
		defs = []byte("[]")
	}
	return plannerSystemPrompt + "\n\nAvailable tools:\n" + string(defs)
}

// parsePlan decodes the strict {"plan":[...]} contract.
func parsePlan(content string) ([]PlanStep, error) {
	content = strings.TrimSpace(content)
	// Tolerate a fenced block despite the contract; models add them.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var doc struct {
		Plan []PlanStep `json:"plan"`
	}
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	for i, step := range doc.Plan {
		if step.Tool == "" {
			return nil, fmt.Errorf("step %d has no tool", i)
		}
	}
	return doc.Plan, nil
}

// nodeValidate runs every planned step through the tool registry's schema
// validation before anything executes.
func (g *Graph) nodeValidate(_ context.Context, s *State, _ string, _ bool) bool {
	if len(s.Plan) > g.maxCalls {
		s.fail(kerrors.Policy("plan has %d steps, limit is %d", len(s.Plan), g.maxCalls))
		return false
	}
	for i, step := range s.Plan {
		validated, err := g.registry.ValidateArgs(step.Tool, step.Args)
		if err != nil {
			s.fail(fmt.Errorf("step %d: %w", i, err))
			return false
		}
		s.Plan[i].Args = validated
	}
	s.Status = StatusValidated
	return true
}

// nodePolicy checks every step against the capability enforcer.
func (g *Graph) nodePolicy(_ context.Context, s *State, _ string, confirmed bool) bool {
	for i, step := range s.Plan {
		if v := g.enforcer.Check(step.Tool, step.Args, confirmed); v != nil {
			s.fail(fmt.Errorf("step %d: %w", i, v.Err()))
			return false
		}
	}
	return true
}

// nodeExecute runs the plan steps in order. Retryable failures back off up
// to maxRetriesPerTool; terminal failures either halt the run or mark the
// step failed and continue, per the halt-on-error flag. Dry runs record
// the intended action without side effects.
func (g *Graph) nodeExecute(ctx context.Context, s *State, _ string, _ bool) bool {
	s.Status = StatusExecuting
	for ; s.CurrentStep < len(s.Plan); s.CurrentStep++ {
		if !g.checkBudget(s) {
			return false
		}
		step := s.Plan[s.CurrentStep]

		if s.Flags.DryRun || step.DryRun {
			intended, _ := json.Marshal(step.Args)
			s.ToolResults = append(s.ToolResults, ToolResult{
				Tool:   step.Tool,
				Status: "skipped",
				Data:   fmt.Sprintf("dry run: would call %s with %s", step.Tool, intended),
				Step:   s.CurrentStep,
			})
			continue
		}

		tool := g.registry.Get(step.Tool)
		var data string
		err := retry.Do(ctx, retry.Config{
			MaxAttempts:  maxRetriesPerTool + 1,
			InitialDelay: 200 * time.Millisecond,
			ShouldRetry: func(err error) bool {
				if kerrors.IsRetryable(err) {
					s.RetryCount++
					return true
				}
				return false
			},
		}, func() error {
			var execErr error
			data, execErr = tool.Execute(ctx, step.Args)
			return execErr
		})
		s.Budget.StepsUsed++

		if err != nil {
			s.ToolResults = append(s.ToolResults, ToolResult{
				Tool:   step.Tool,
				Status: "error",
				Error:  err.Error(),
				Step:   s.CurrentStep,
			})
			if s.Flags.HaltOnError {
				s.fail(fmt.Errorf("step %d (%s): %w", s.CurrentStep, step.Tool, err))
				return false
			}
			continue
		}
		s.ToolResults = append(s.ToolResults, ToolResult{
			Tool:   step.Tool,
			Status: "ok",
			Data:   data,
			Step:   s.CurrentStep,
		})
	}
	return true
}

// nodeReflect optionally asks the structuring provider whether the tool
// results call for corrective steps; appended steps are validated, policy
// checked, and executed within the remaining budget.
func (g *Graph) nodeReflect(ctx context.Context, s *State, message string, confirmed bool) bool {
	if !s.Flags.EnableReflection || len(s.ToolResults) == 0 {
		return true
	}
	if !g.checkBudget(s) {
		return false
	}

	results, _ := json.Marshal(s.ToolResults)
	resp, err := g.router.Complete(ctx, llm.TaskStructuring, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: g.plannerPrompt()},
			{Role: llm.RoleUser, Content: fmt.Sprintf(
				"Original request: %s\nTool results so far: %s\n"+
					"If a corrective step is needed, reply with a plan JSON; otherwise reply {\"plan\": []}.",
				message, results)},
		},
		MaxTokens: s.Budget.MaxTokens - s.Budget.TokensUsed,
	})
	if err != nil {
		// Reflection is advisory; a failed reflection never fails the run.
		observability.WithTrace(ctx).Warn("agent: reflection failed", "err", err)
		return true
	}
	s.Budget.StepsUsed++
	s.Budget.TokensUsed += resp.Usage.TotalTokens

	extra, perr := parsePlan(resp.Message.Content)
	if perr != nil || len(extra) == 0 {
		return true
	}
	if len(s.Plan)+len(extra) > g.maxCalls {
		extra = extra[:g.maxCalls-len(s.Plan)]
	}
	base := len(s.Plan)
	for i, step := range extra {
		validated, err := g.registry.ValidateArgs(step.Tool, step.Args)
		if err != nil {
			observability.WithTrace(ctx).Warn("agent: corrective step rejected",
				"step", base+i, "err", err)
			return true
		}
		if v := g.enforcer.Check(step.Tool, validated, confirmed); v != nil {
			observability.WithTrace(ctx).Warn("agent: corrective step rejected",
				"step", base+i, "err", v.Err())
			return true
		}
		extra[i].Args = validated
	}
	s.Plan = append(s.Plan, extra...)
	return g.nodeExecute(ctx, s, message, confirmed)
}

// nodeVerify optionally checks that create-class steps produced entities.
func (g *Graph) nodeVerify(_ context.Context, s *State, _ string, _ bool) bool {
	if !s.Flags.EnableVerification {
		return true
	}
	for _, r := range s.ToolResults {
		if r.Status != "ok" || !strings.HasSuffix(r.Tool, "_create") {
			continue
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(r.Data), &out); err != nil || out.ID == "" {
			s.fail(kerrors.Validation("step %d (%s) reported success but produced no entity id",
				r.Step, r.Tool))
			return false
		}
	}
	s.Status = StatusVerified
	return true
}

// nodeRespond produces the user-facing reply. An LLM failure here falls
// back to a deterministic acknowledgement; the run still succeeds.
func (g *Graph) nodeRespond(ctx context.Context, s *State, message string) {
	s.Status = StatusResponding

	results, _ := json.Marshal(s.ToolResults)
	resp, err := g.router.Complete(ctx, llm.TaskDefault, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Summarize what was done for the user in one or two sentences."},
			{Role: llm.RoleUser, Content: fmt.Sprintf(
				"User asked: %s\nTool results: %s", message, results)},
		},
		MaxTokens:   s.Budget.MaxTokens - s.Budget.TokensUsed,
		Temperature: respondTemperature,
	})
	if err != nil || strings.TrimSpace(resp.Message.Content) == "" {
		s.Response = fallbackResponse
	} else {
		s.Budget.TokensUsed += resp.Usage.TotalTokens
		s.Response = resp.Message.Content
	}
	s.Status = StatusResponded
	g.conv.Add(s.TraceID, message, s.Response)
}

// auditRun writes the run's terminal line.
func (g *Graph) auditRun(ctx context.Context, s *State, message string) {
	if g.audit == nil {
		return
	}
	result := s.Status
	if s.Err != nil {
		result = fmt.Sprintf("%s: %s", string(kerrors.KindOf(s.Err)), s.Err.Error())
	}
	_ = g.audit.Log(ctx, "agent.run", map[string]any{
		"user":       s.User,
		"message":    message,
		"steps":      len(s.Plan),
		"steps_used": s.Budget.StepsUsed,
	}, result)
}
