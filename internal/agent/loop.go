package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// broadDiscoveryTools are removed from the advertised tool set under the
// cost-aware restriction.
var broadDiscoveryTools = []string{"glob_search", "grep_search", "fs_list", "find_definition", "code_stats"}

// Agent is the iteration loop orchestrator: it owns every piece of run
// state and composes the trackers, memory tiers, budget, tier selection,
// and quality gate into the authoritative control flow.
type Agent struct {
	run      models.Run
	opts     Options
	provider Provider
	registry ToolRegistry
	store    SessionStore
	metrics  *Metrics
	emitter  *emitter
	logger   *slog.Logger

	stopRequested atomic.Bool

	// isMainAgent gates spawn_agent exposure and scope narrowing.
	isMainAgent bool

	// parentStuckCallback, when set, receives auto-stuck notifications
	// instead of triggering tier escalation.
	parentStuckCallback func(ctx context.Context, reason string)

	// memoryDir is where the fact sheet and archive persist at teardown.
	memoryDir string

	// longTerm, when set, contributes cross-session context to the system
	// prompt and receives the final summary.
	longTerm LongTermMemory
}

// New constructs an agent for one run. A zero AgentID is filled in.
func New(run models.Run, provider Provider, registry ToolRegistry, store SessionStore, metrics *Metrics, sink EventSink, tracer Tracer, analytics Analytics, opts Options) *Agent {
	if run.AgentID == "" {
		run.AgentID = uuid.NewString()
	}
	opts = sanitizeOptions(opts)
	return &Agent{
		run:         run,
		opts:        opts,
		provider:    provider,
		registry:    registry,
		store:       store,
		metrics:     metrics,
		emitter:     newEmitter(run.AgentID, run.ParentAgentID, run.AgentID, sink, tracer, analytics),
		logger:      opts.Logger.With("agent_id", run.AgentID),
		isMainAgent: run.ParentAgentID == "",
		memoryDir:   filepath.Join(run.WorkingDir, ".kb", "memory", run.SessionID),
	}
}

// SetLongTermMemory wires the optional pluggable memory.
func (a *Agent) SetLongTermMemory(m LongTermMemory) { a.longTerm = m }

// SetParentStuckCallback wires the parent notification path used instead
// of tier escalation for sub-agents.
func (a *Agent) SetParentStuckCallback(fn func(ctx context.Context, reason string)) {
	a.parentStuckCallback = fn
}

// RequestStop cooperatively aborts the run. Idempotent; checked between
// iterations only; a running tool call is never interrupted.
func (a *Agent) RequestStop() {
	a.stopRequested.Store(true)
}

// Execute runs the task to completion, escalating tiers on stall until the
// largest tier is reached.
func (a *Agent) Execute(ctx context.Context) *models.TaskResult {
	tier := a.run.Tier
	if tier == "" {
		tier = models.TierSmall
	}

	a.emitter.emit(ctx, models.Event{Type: models.EventAgentStart, StartedAt: time.Now()})
	a.emitter.trace(ctx, models.TraceTaskStart, map[string]any{"task": preview(a.run.Task, 200), "tier": string(tier)})

	classification := NewClassifier(a.provider, a.opts.MaxIterations, a.logger).Classify(ctx, a.run.Task)

	if a.isMainAgent && a.provider != nil {
		// Scope is applied exactly once, before the system prompt and
		// before the loop.
		a.run.WorkingDir = NarrowScope(ctx, a.provider, a.run.WorkingDir, a.run.Task, a.logger)
	}

	for {
		result, esc := a.runLoop(ctx, tier, classification)
		if esc == nil {
			a.emitter.trace(ctx, models.TraceTaskEnd, map[string]any{
				"success": result.Success, "iterations": result.Iterations, "tokens": result.TokensUsed,
			})
			a.emitter.emit(ctx, models.Event{Type: models.EventAgentEnd, Stopped: a.stopRequested.Load()})
			return result
		}
		next, ok := tier.Next()
		if !ok {
			// Escalation from the largest tier cannot happen by
			// construction; treat defensively as a terminal result.
			return result
		}
		a.logger.Info("escalating tier", "from", string(tier), "to", string(next), "reason", esc.Reason, "iteration", esc.Iteration)
		if a.metrics != nil {
			a.metrics.RecordEscalation(tier, next)
		}
		a.emitter.track(ctx, "tier_escalated", map[string]any{
			"fromTier": string(tier), "toTier": string(next), "reason": esc.Reason, "iteration": esc.Iteration,
		})
		tier = next
	}
}

// runState bundles the per-attempt mutable state so a tier escalation
// restarts cleanly.
type runState struct {
	tier        models.Tier
	intent      models.Intent
	budget      *BudgetController
	progress    *ProgressTracker
	signal      *SearchSignalTracker
	loopDet     *LoopDetector
	stats       *RunStats
	ledger      *Ledger
	sheet       *FactSheet
	archive     *Archive
	builder     *ContextBuilder
	summarizer  *Summarizer
	reflection  *ReflectionEngine
	todos       *TodoCoordinator
	normalizer  *Normalizer
	guard       *Guard
	tiers       *TierSelector
	quality     QualityGate
	phases      *StateMachine
	validator   *Validator
	fullHistory []models.Message
	tokensUsed  int
}

// runLoop is one attempt at one tier. A non-nil *tierEscalation return is
// the internal control signal consumed by Execute; it is never user
// visible.
func (a *Agent) runLoop(ctx context.Context, tier models.Tier, classification Classification) (*models.TaskResult, *tierEscalation) {
	st := a.newRunState(ctx, tier, classification)

	iteration := 0
	var finalText string

	defer func() {
		st.summarizer.Wait()
		a.persistMemory(st)
	}()

	_ = st.phases.Transition(models.PhasePlanningLite)
	_ = st.phases.Transition(models.PhaseExecuting)

	for iteration = 1; iteration <= st.budget.IterationBudget(); iteration++ {
		if a.run.AbortSignal != nil {
			select {
			case <-a.run.AbortSignal:
				a.stopRequested.Store(true)
			default:
			}
		}
		if a.stopRequested.Load() {
			return a.stoppedResult(ctx, st, iteration-1), nil
		}
		if err := ctx.Err(); err != nil {
			return a.failureResult(ctx, st, iteration-1, ErrContextCancelled.Error(),
				fmt.Sprintf("Run aborted: %v", err)), nil
		}

		iterStart := time.Now()
		a.emitter.emit(ctx, models.Event{Type: models.EventIterationStart, Iteration: iteration, StartedAt: iterStart})

		msgs := st.builder.Build(st.fullHistory, iteration, func(t models.TraceEventType, d map[string]any) {
			a.emitter.trace(ctx, t, d)
		})

		tools := a.advertisedTools(ctx, st, iteration)

		llmStart := time.Now()
		a.emitter.emit(ctx, models.Event{Type: models.EventLLMStart, Iteration: iteration, StartedAt: llmStart})
		result, err := a.provider.ChatWithTools(ctx, tier, msgs, ChatOptions{
			Tools:       tools,
			Temperature: a.opts.Temperature,
			ToolChoice:  ToolChoiceAuto,
			MaxTokens:   a.opts.MaxTokens,
		})
		a.emitter.emit(ctx, models.Event{Type: models.EventLLMEnd, Iteration: iteration, StartedAt: llmStart})
		if err != nil {
			if isTransientProviderError(err) && tier != models.TierLarge {
				a.logger.Warn("transient provider error, escalating", "error", err, "tier", string(tier))
				return nil, &tierEscalation{Reason: "transient provider error: " + err.Error(), Iteration: iteration}
			}
			return a.failureResult(ctx, st, iteration, "llm_error",
				fmt.Sprintf("LLM call failed: %v", err)), nil
		}
		st.tokensUsed += result.Usage.Total()
		a.emitter.trace(ctx, models.TraceLLMCall, map[string]any{
			"iteration": iteration, "model": result.Model,
			"input_tokens": result.Usage.InputTokens, "output_tokens": result.Usage.OutputTokens,
			"tool_calls": len(result.ToolCalls),
		})

		// Terminal: the model produced a final answer.
		if len(result.ToolCalls) == 0 {
			finalText = result.Content
			st.fullHistory = append(st.fullHistory, models.Message{Role: models.RoleAssistant, Content: finalText})
			if iteration >= st.budget.IterationBudget() && strings.TrimSpace(finalText) == "" {
				summary, serr := a.forcedSynthesis(ctx, st, iteration, "max_iterations")
				if serr != nil {
					return a.failureResult(ctx, st, iteration, "synthesis_failed", serr.Error()), nil
				}
				return a.finishRun(ctx, st, iteration, true, summary), nil
			}
			_ = st.phases.Transition(models.PhaseVerifying)
			return a.validateAndFinish(ctx, st, iteration, finalText), nil
		}

		// Execute tool calls sequentially in the model's order.
		assistantMsg := models.Message{Role: models.RoleAssistant, Content: result.Content, ToolCalls: result.ToolCalls}
		st.fullHistory = append(st.fullHistory, assistantMsg)

		iterOutcome := a.executeToolCalls(ctx, st, iteration, result.ToolCalls)
		if iterOutcome.reportSummary != "" {
			_ = st.phases.Transition(models.PhaseVerifying)
			return a.finishRun(ctx, st, iteration, true, iterOutcome.reportSummary), nil
		}

		a.updateTrackers(ctx, st, iteration, iterOutcome)

		// Loop detection.
		if st.loopDet.Record(result.ToolCalls) {
			a.emitter.trace(ctx, models.TraceStoppingAnalysis, map[string]any{"iteration": iteration, "reason": "loop_detected"})
			return a.failureResult(ctx, st, iteration, "loop_detected",
				"Stopped: the agent kept repeating the same actions without making progress."), nil
		}

		// No-result convergence.
		maxNoSignal := a.opts.MaxNoSignalPerTier[tier]
		if st.signal.ShouldConcludeNoResult(st.intent, a.run.Task, iteration,
			a.opts.MinIterationsBeforeConclusion, maxNoSignal, st.stats.EvidenceCount()) {
			a.maybeReflect(ctx, st, iteration, TriggerBeforeNoResult, true, iterOutcome.failed)
			a.emitter.trace(ctx, models.TraceStoppingAnalysis, map[string]any{"iteration": iteration, "reason": "no_result_convergence"})
			_ = st.phases.Transition(models.PhaseConverging)
			_ = st.phases.Transition(models.PhaseVerifying)
			return a.finishRun(ctx, st, iteration, true, st.signal.NoResultSummary()), nil
		}

		// Budget extension.
		if st.budget.MaybeExtend(iteration, st.progress, st.signal.LastSignalIteration()) {
			a.emitter.emit(ctx, models.Event{Type: models.EventStatusChange, Iteration: iteration,
				Reason: fmt.Sprintf("iteration budget extended to %d", st.budget.IterationBudget())})
		}

		// Tier escalation.
		if esc := st.tiers.EvaluateEscalationNeed(EscalationContext{
			Tier:                  tier,
			Iteration:             iteration,
			Budget:                st.budget.IterationBudget(),
			Stalled:               st.progress.IsStuck(),
			RepeatedSingleTool:    st.progress.RepeatedSingleTool(),
			LastSignalIteration:   st.signal.LastSignalIteration(),
			LastProgressIteration: st.progress.LastProgressIteration(),
			EvidenceCount:         st.stats.EvidenceCount(),
			HasParentCallback:     a.parentStuckCallback != nil,
		}); esc != nil {
			a.maybeReflect(ctx, st, iteration, TriggerBeforeEscalation, true, iterOutcome.failed)
			return nil, esc
		}

		// Auto-stuck notification to the parent, if one is listening.
		if a.parentStuckCallback != nil && st.progress.IsStuck() {
			a.parentStuckCallback(ctx, fmt.Sprintf("stalled at iteration %d of %d", iteration, st.budget.IterationBudget()))
		}

		a.maybeReflect(ctx, st, iteration, TriggerPostTools, false, iterOutcome.failed)

		// Background summarization.
		if iteration%a.opts.SummarizationInterval == 0 {
			st.summarizer.Fire(ctx, iteration, st.fullHistory)
		}

		if nudge := st.todos.Nudge(a.run.Task, iteration); nudge != "" {
			st.builder.InjectFeedback(nudge)
		}

		a.emitter.emit(ctx, models.Event{Type: models.EventIterationEnd, Iteration: iteration, StartedAt: iterStart})
		a.emitter.trace(ctx, models.TraceIterationDetail, map[string]any{
			"iteration": iteration, "tool_calls": len(result.ToolCalls),
			"failed_tools": iterOutcome.failed, "tokens_used": st.tokensUsed,
			"stalled": st.progress.IsStuck(),
		})
	}

	// Iteration budget exhausted with the model still wanting tools.
	summary, err := a.forcedSynthesis(ctx, st, st.budget.IterationBudget(), "max_iterations")
	if err != nil {
		return a.failureResult(ctx, st, st.budget.IterationBudget(), "synthesis_failed", err.Error()), nil
	}
	return a.finishRun(ctx, st, st.budget.IterationBudget(), true, summary), nil
}

func (a *Agent) newRunState(ctx context.Context, tier models.Tier, classification Classification) *runState {
	var baseline *models.KPIBaseline
	if a.store != nil {
		baseline, _ = a.store.GetKPIBaseline(ctx, a.run.SessionID)
	}

	st := &runState{
		tier:    tier,
		intent:  classification.Intent,
		budget:  NewBudgetController(classification.Budget, a.opts.MaxIterations, baseline, a.opts.MaxLoggedBudgetExtensions, a.logger),
		loopDet: NewLoopDetector(),
		stats:   NewRunStats(),
		ledger:  NewLedger(),
		sheet: NewFactSheet(a.opts.FactSheetMaxTokens, a.opts.FactSheetMaxEntries,
			a.opts.FactSheetMaxPerCategory, a.opts.FactSimilarityThreshold),
		archive:    NewArchive(a.opts.ArchiveMaxEntries, a.opts.ArchiveMaxTotalChars),
		todos:      NewTodoCoordinator(),
		normalizer: NewNormalizer(a.run.WorkingDir),
		tiers:      NewTierSelector(a.opts.EnableEscalation, a.opts.MaxIterationsWithoutProgressForMediumSearch),
		phases:     NewStateMachine(),
		reflection: NewReflectionEngine(a.provider, a.logger),
		validator: NewValidator(a.provider, a.opts.MinInformationalResponseChars,
			a.opts.MinFilesReadForEvidence, a.opts.MinEvidenceDensity, a.logger),
	}
	st.progress = NewProgressTracker(a.opts.StuckThreshold)
	st.signal = NewSearchSignalTracker(a.provider, func() models.Tier {
		return st.tiers.ChooseSmartTier(NodeSearchAssessment, TierContext{
			Task:                    a.run.Task,
			Intent:                  st.intent,
			IterationsSinceProgress: st.progress.IterationsSinceProgress(),
			ArtifactCount:           st.stats.EvidenceCount(),
		})
	})

	workspaceMap := DiscoverWorkspace(a.run.WorkingDir)
	systemPrompt := a.buildSystemPrompt(st)
	st.builder = NewContextBuilder(systemPrompt, workspaceMap, a.run.Task, st.sheet, st.archive, a.opts.SlidingWindowSize)
	st.summarizer = NewSummarizer(a.provider, st.sheet, st.builder, func(t models.TraceEventType, d map[string]any) {
		a.emitter.trace(ctx, t, d)
	}, a.logger)

	// Seed prior-session conversation history: recent full, mid-term
	// summarized, old ultra-brief, consumed in order oldest first.
	if a.store != nil {
		if hist, err := a.store.GetConversationHistory(ctx, a.run.SessionID); err == nil {
			st.fullHistory = append(st.fullHistory, hist.Old...)
			st.fullHistory = append(st.fullHistory, hist.MidTerm...)
			st.fullHistory = append(st.fullHistory, hist.Recent...)
		}
	}

	st.guard = NewGuard(a.run.Task, a.opts.MinReadWindowLines,
		a.opts.MaxConsecutiveSmallWindowReadsPerFile, a.registry.GetDefinitions())

	// The tool context gets capability back-references for this attempt:
	// archive_recall reads the archive, the file-change module receives
	// this agent's identity.
	if tc := a.registry.GetContext(); tc != nil {
		tc.Archive = st.archive
		tc.AgentID = a.run.AgentID
		tc.SessionID = a.run.SessionID
		tc.WorkingDir = a.run.WorkingDir
	}
	return st
}

func (a *Agent) buildSystemPrompt(st *runState) string {
	var b strings.Builder
	b.WriteString("You are an autonomous coding agent. Complete the user's task by calling tools, then answer with a final summary.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Cite file paths and line numbers as evidence.\n")
	b.WriteString("- When you are done, respond without tool calls, or call report with your summary.\n")
	b.WriteString("- Call reflect_on_progress if you are unsure your approach is working.\n")
	fmt.Fprintf(&b, "Task intent: %s. Iteration budget: %d.\n", st.intent, st.budget.IterationBudget())
	if a.longTerm != nil {
		if mem, err := a.longTerm.GetContext(context.Background(), a.run.Task); err == nil && mem != "" {
			b.WriteString("\n## Long-term memory\n")
			b.WriteString(mem)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// advertisedTools applies the cost-aware restriction to the tool set for
// one LLM call.
func (a *Agent) advertisedTools(ctx context.Context, st *runState, iteration int) []ToolDefinition {
	defs := a.registry.GetDefinitions()
	tokenBudget := st.budget.TokenBudget()
	if tokenBudget <= 0 {
		return defs
	}
	minIteration := 4
	if scaled := int(0.4 * float64(st.budget.IterationBudget())); scaled > minIteration {
		minIteration = scaled
	}
	if float64(st.tokensUsed) < 0.9*float64(tokenBudget) ||
		iteration < minIteration ||
		st.intent == models.IntentAction ||
		!st.quality.HasStrongEvidenceSignal(st.stats, iteration) {
		return defs
	}

	excluded := make(map[string]bool, len(broadDiscoveryTools))
	for _, name := range broadDiscoveryTools {
		excluded[name] = true
	}
	var kept []ToolDefinition
	var filtered []string
	for _, def := range defs {
		if excluded[def.Name] {
			filtered = append(filtered, def.Name)
			continue
		}
		kept = append(kept, def)
	}
	if len(filtered) > 0 {
		a.emitter.trace(ctx, models.TraceToolFilter, map[string]any{
			"iteration": iteration, "filtered": filtered, "reason": "custom",
		})
	}
	return kept
}

// iterationOutcome aggregates what one iteration's tool calls produced.
type iterationOutcome struct {
	failed        int
	evidenceDelta int
	lastToolName  string
	lastOutputLen int
	searchResults map[string]string
	reportSummary string
}

// executeToolCalls dispatches the iteration's tool calls in order,
// updating the ledger, archive, fact sheet, and stats as it goes.
func (a *Agent) executeToolCalls(ctx context.Context, st *runState, iteration int, calls []models.ToolCall) iterationOutcome {
	outcome := iterationOutcome{searchResults: make(map[string]string)}
	evidenceBefore := st.stats.EvidenceCount()

	for _, call := range calls {
		if call.ID == "" {
			call.ID = uuid.NewString()
		}

		// Internal coordination tools never reach the registry.
		if handled, result := a.handleInternalTool(ctx, st, iteration, call, &outcome); handled {
			st.fullHistory = append(st.fullHistory, models.Message{Role: models.RoleTool, Content: result.Content(), ToolResults: []models.ToolResult{*result}})
			if outcome.reportSummary != "" {
				return outcome
			}
			continue
		}

		result := a.dispatchOne(ctx, st, iteration, call)
		content := result.Content()
		truncated := content
		if len(truncated) > a.opts.MaxToolOutputChars {
			truncated = truncated[:a.opts.MaxToolOutputChars] +
				fmt.Sprintf("\n[... truncated, %d of %d chars shown; full output in archive]", a.opts.MaxToolOutputChars, len(content))
		}
		msgResult := *result
		msgResult.Output = truncated
		st.fullHistory = append(st.fullHistory, models.Message{Role: models.RoleTool, Content: truncated, ToolResults: []models.ToolResult{msgResult}})

		if !result.Success {
			outcome.failed++
		}
		if IsSearchTool(call.Name) && result.Success {
			outcome.searchResults[call.Name] = content
		}
		outcome.lastToolName = call.Name
		outcome.lastOutputLen = len(content)
	}

	outcome.evidenceDelta = st.stats.EvidenceCount() - evidenceBefore
	return outcome
}

// handleInternalTool intercepts report, reflect_on_progress, ask_parent,
// and todo_* calls.
func (a *Agent) handleInternalTool(ctx context.Context, st *runState, iteration int, call models.ToolCall, outcome *iterationOutcome) (bool, *models.ToolResult) {
	var args map[string]any
	_ = json.Unmarshal(call.Input, &args)

	switch call.Name {
	case "report":
		summary, _ := args["summary"].(string)
		if summary == "" {
			summary, _ = args["content"].(string)
		}
		outcome.reportSummary = summary
		return true, &models.ToolResult{ToolCallID: call.ID, Success: true, Output: "report received"}
	case "reflect_on_progress":
		summary, err := st.reflection.Reflect(ctx, models.TierSmall, a.run.Task, iteration, "model-requested reflection", nil)
		if err != nil {
			return true, &models.ToolResult{ToolCallID: call.ID, Success: false, Error: err.Error()}
		}
		st.fullHistory = append(st.fullHistory, models.Message{Role: models.RoleAssistant, Content: summary})
		return true, &models.ToolResult{ToolCallID: call.ID, Success: true, Output: summary}
	case "ask_parent":
		question, _ := args["question"].(string)
		if a.parentStuckCallback != nil {
			a.parentStuckCallback(ctx, "question: "+question)
			return true, &models.ToolResult{ToolCallID: call.ID, Success: true, Output: "question forwarded to parent"}
		}
		return true, &models.ToolResult{ToolCallID: call.ID, Success: false, Error: "no parent agent to ask"}
	case "todo_add":
		text, _ := args["text"].(string)
		id := st.todos.Add(text, string(st.phases.Current()))
		st.stats.TodoToolCalls++
		return true, &models.ToolResult{ToolCallID: call.ID, Success: true, Output: fmt.Sprintf("added todo #%d", id)}
	case "todo_complete":
		id := intField(args, "id")
		ok := st.todos.Complete(id)
		st.stats.TodoToolCalls++
		if !ok {
			return true, &models.ToolResult{ToolCallID: call.ID, Success: false, Error: fmt.Sprintf("no todo #%d", id)}
		}
		return true, &models.ToolResult{ToolCallID: call.ID, Success: true, Output: fmt.Sprintf("completed todo #%d", id)}
	}
	return false, nil
}

// dispatchOne runs a single registry tool call through normalize, guard,
// ledger, execute, archive, and fact extraction.
func (a *Agent) dispatchOne(ctx context.Context, st *runState, iteration int, call models.ToolCall) *models.ToolResult {
	startedAt := time.Now()
	a.emitter.emit(ctx, models.Event{Type: models.EventToolStart, Iteration: iteration,
		ToolCallID: call.ID, ToolName: call.Name, StartedAt: startedAt})

	normalized, err := st.normalizer.Normalize(call, st.tier)
	if err != nil {
		st.stats.ToolCallsTotal++
		st.stats.ToolErrorCount++
		result := &models.ToolResult{ToolCallID: call.ID, Success: false, Error: err.Error(),
			ErrorDetails: &models.ErrorDetails{Code: string(ToolErrorInvalidInput)}}
		a.emitter.emit(ctx, models.Event{Type: models.EventToolError, Iteration: iteration,
			ToolCallID: call.ID, ToolName: call.Name, StartedAt: startedAt, Error: err.Error()})
		return result
	}
	call.Input = normalized

	stepID := st.ledger.Start("execute "+call.Name, capabilityOf(call.Name), call.Name)

	if rej := st.guard.Check(call); rej != nil {
		// Guard rejections are not tool errors: the step closes completed
		// with a note and the model gets a hint.
		st.ledger.Close(stepID, models.LedgerCompleted, "guard: "+rej.Reason)
		result := &models.ToolResult{ToolCallID: call.ID, Success: false, Error: rej.Error(),
			ErrorDetails: &models.ErrorDetails{Code: "guard_rejected", Hint: rej.Hint}}
		a.emitter.emit(ctx, models.Event{Type: models.EventToolEnd, Iteration: iteration,
			ToolCallID: call.ID, ToolName: call.Name, StartedAt: startedAt, Reason: "guard_rejected"})
		return result
	}

	st.stats.ToolCallsTotal++
	execStart := time.Now()
	result, err := a.registry.Execute(ctx, call.Name, call.Input)
	duration := time.Since(execStart)
	if err != nil {
		result = &models.ToolResult{Success: false, Error: err.Error(),
			ErrorDetails: &models.ErrorDetails{Code: string(classifyToolError(err)), Retryable: classifyToolError(err).IsRetryable()}}
	}
	if result == nil {
		result = &models.ToolResult{Success: false, Error: "tool returned no result"}
	}
	result.ToolCallID = call.ID

	filePath := FilePathFromInput(call.Input)
	if filePath != "" {
		st.stats.TouchDomain(filePath)
	}

	if result.Success {
		st.ledger.Close(stepID, models.LedgerCompleted, "")
		a.recordFileTouch(st, call.Name, filePath)

		entry, evicted := st.archive.Store(iteration, call.Name, string(call.Input), result.Output, filePath, nil)
		a.emitter.trace(ctx, models.TraceArchiveStore, map[string]any{
			"id": entry.ID, "tool": call.Name, "chars": entry.OutputLen, "evicted": evicted,
		})
		for _, f := range ExtractHeuristicFacts(call.Name, call.Input, result.Output) {
			if f.Confidence < a.opts.AutoFactMinConfidence {
				continue
			}
			res := st.sheet.AddFact(f.Category, f.Fact, f.Confidence, call.Name, iteration)
			a.emitter.trace(ctx, models.TraceFactAdded, map[string]any{
				"category": f.Category, "fact": preview(f.Fact, 120), "merged": res.Merged, "source": call.Name,
			})
		}
		if call.Name == "fs_read" && filePath != "" {
			st.normalizer.RecordLineCount(filePath, strings.Count(result.Output, "\n")+1)
		}
		a.emitter.emit(ctx, models.Event{Type: models.EventToolEnd, Iteration: iteration,
			ToolCallID: call.ID, ToolName: call.Name, StartedAt: startedAt})
	} else {
		st.stats.ToolErrorCount++
		st.ledger.Close(stepID, models.LedgerFailed, result.Error)
		a.emitter.emit(ctx, models.Event{Type: models.EventToolError, Iteration: iteration,
			ToolCallID: call.ID, ToolName: call.Name, StartedAt: startedAt, Error: result.Error})
	}

	a.emitter.trace(ctx, models.TraceToolExecution, map[string]any{
		"iteration": iteration, "tool": call.Name, "success": result.Success,
		"duration_ms": duration.Milliseconds(), "output_chars": len(result.Output),
	})
	return result
}

func (a *Agent) recordFileTouch(st *runState, toolName, filePath string) {
	if filePath == "" {
		return
	}
	switch toolName {
	case "fs_read":
		st.stats.AddFile(&st.stats.FilesRead, filePath)
	case "fs_write":
		// Created vs modified is decided by whether this run saw the file
		// before the write.
		if containsString(st.stats.FilesRead, filePath) || containsString(st.stats.FilesModified, filePath) {
			st.stats.AddFile(&st.stats.FilesModified, filePath)
		} else {
			st.stats.AddFile(&st.stats.FilesCreated, filePath)
		}
	case "fs_edit", "fs_append":
		st.stats.AddFile(&st.stats.FilesModified, filePath)
	}
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func capabilityOf(toolName string) string {
	switch {
	case strings.HasPrefix(toolName, "fs_"):
		return "filesystem"
	case IsSearchTool(toolName) || toolName == "code_stats":
		return "search"
	case toolName == "shell_exec":
		return "shell"
	case toolName == "spawn_agent":
		return "delegation"
	case toolName == "archive_recall":
		return "memory"
	default:
		return "other"
	}
}

// updateTrackers runs the per-iteration tracker updates: search signal
// assessment first (its hit count feeds the progress score), then
// progress.
func (a *Agent) updateTrackers(ctx context.Context, st *runState, iteration int, outcome iterationOutcome) {
	if len(outcome.searchResults) > 0 {
		st.signal.Assess(ctx, iteration, outcome.searchResults)
	}
	st.stats.SearchSignalHits = st.signal.Hits()
	st.progress.UpdateProgress(outcome.lastToolName, outcome.lastOutputLen, ProgressUpdate{
		Iteration:                iteration,
		EvidenceDelta:            outcome.evidenceDelta,
		FailedToolsThisIteration: outcome.failed,
		SearchSignalHits:         st.signal.Hits(),
	})
}

func (a *Agent) maybeReflect(ctx context.Context, st *runState, iteration int, trigger ReflectionTrigger, force bool, failures int) {
	nearStuck := st.progress.IterationsSinceProgress() >= a.opts.StuckThreshold-1
	if !st.reflection.ShouldReflect(trigger, force, iteration, failures, st.progress.RepeatedSingleTool(), nearStuck) {
		return
	}
	trouble := fmt.Sprintf("%d failed tools this iteration; %d iterations since progress",
		failures, st.progress.IterationsSinceProgress())
	summary, err := st.reflection.Reflect(ctx, models.TierSmall, a.run.Task, iteration, trouble,
		slidingWindow(st.fullHistory, a.opts.SlidingWindowSize))
	if err != nil {
		a.logger.Warn("reflection failed", "error", err, "trigger", string(trigger))
		return
	}
	st.fullHistory = append(st.fullHistory, models.Message{Role: models.RoleAssistant, Content: summary})
}

// forcedSynthesis makes the terminal tools=[] call that must produce an
// answer from evidence already gathered.
func (a *Agent) forcedSynthesis(ctx context.Context, st *runState, iteration int, reason string) (string, error) {
	a.emitter.emit(ctx, models.Event{Type: models.EventSynthesisForced, Iteration: iteration, Reason: reason})
	a.emitter.trace(ctx, models.TraceSynthesisForced, map[string]any{"iteration": iteration, "reason": reason})
	a.emitter.emit(ctx, models.Event{Type: models.EventSynthesisStart, Iteration: iteration})

	msgs := st.builder.Build(st.fullHistory, iteration, func(t models.TraceEventType, d map[string]any) {
		a.emitter.trace(ctx, t, d)
	})
	msgs = append(msgs, models.Message{
		Role: models.RoleUser,
		Content: "The iteration budget is exhausted. Produce your final answer now from the evidence already " +
			"gathered. Do not request more tools. State clearly what was established and what remains uncertain.",
	})
	result, err := a.provider.ChatWithTools(ctx, st.tier, msgs, ChatOptions{
		Tools:       nil,
		Temperature: a.opts.Temperature,
		ToolChoice:  ToolChoiceNone,
		MaxTokens:   a.opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	st.tokensUsed += result.Usage.Total()
	a.emitter.emit(ctx, models.Event{Type: models.EventSynthesisComplete, Iteration: iteration})
	return result.Content, nil
}

// validateAndFinish runs the completion validator over the model's final
// text and closes the run.
func (a *Agent) validateAndFinish(ctx context.Context, st *runState, iteration int, finalText string) *models.TaskResult {
	validationTier := st.tiers.ChooseSmartTier(NodeTaskValidation, TierContext{
		Task:            a.run.Task,
		Intent:          st.intent,
		Iteration:       iteration,
		Budget:          st.budget.IterationBudget(),
		EvidenceDensity: st.stats.EvidenceDensity(iteration),
	})
	excerpts := make(map[string]string, 3)
	for _, path := range st.stats.FilesRead {
		if len(excerpts) >= 3 {
			break
		}
		if entry, ok := st.archive.RecallByFilePath(path); ok {
			excerpts[path] = entry.FullOutput
		}
	}
	success, summary := st.validator.Validate(ctx, ValidationInput{
		Task:           a.run.Task,
		Intent:         st.intent,
		FinalText:      finalText,
		Stats:          st.stats,
		IterationsUsed: iteration,
		Tier:           validationTier,
		FileExcerpts:   excerpts,
	})
	a.emitter.trace(ctx, models.TraceLLMValidation, map[string]any{
		"iteration": iteration, "success": success, "tier": string(validationTier),
	})
	return a.finishRun(ctx, st, iteration, success, summary)
}

// finishRun applies the quality gate, persists KPIs, and shapes the final
// TaskResult.
func (a *Agent) finishRun(ctx context.Context, st *runState, iterations int, success bool, summary string) *models.TaskResult {
	_ = st.phases.Transition(models.PhaseVerifying)
	_ = st.phases.Transition(models.PhaseReporting)
	quality := st.quality.Evaluate(st.stats, st.ledger, a.run.Task, iterations)
	if quality.Status == models.QualityPartial {
		var b strings.Builder
		b.WriteString(summary)
		b.WriteString("\n\n[Needs Clarification]")
		for _, r := range quality.Reasons {
			b.WriteString("\n- ")
			b.WriteString(r)
		}
		if len(quality.NextChecks) > 0 {
			b.WriteString("\nSuggested next checks:")
			for _, c := range quality.NextChecks {
				b.WriteString("\n- ")
				b.WriteString(c)
			}
		}
		summary = b.String()
	}
	_ = st.phases.Transition(models.PhaseCompleted)

	a.emitRunKPIs(ctx, st, iterations, success, quality)
	a.appendSessionHistory(ctx, st, summary)
	if a.longTerm != nil && success {
		if err := a.longTerm.Add(ctx, summary, map[string]any{"task": a.run.Task, "agent_id": a.run.AgentID}); err != nil {
			a.logger.Warn("failed to write long-term memory", "error", err)
		}
	}

	return &models.TaskResult{
		Success:       success,
		Summary:       summary,
		FilesCreated:  st.stats.FilesCreated,
		FilesModified: st.stats.FilesModified,
		FilesRead:     st.stats.FilesRead,
		Iterations:    iterations,
		TokensUsed:    st.tokensUsed,
		Quality:       &quality,
	}
}

func (a *Agent) stoppedResult(ctx context.Context, st *runState, iterations int) *models.TaskResult {
	quality := st.quality.Evaluate(st.stats, st.ledger, a.run.Task, maxInt(iterations, 1))
	a.emitRunKPIs(ctx, st, iterations, false, quality)
	return &models.TaskResult{
		Success:    false,
		Summary:    fmt.Sprintf("Stopped by user after %d iteration(s)", iterations),
		FilesRead:  st.stats.FilesRead,
		Iterations: iterations,
		TokensUsed: st.tokensUsed,
		Error:      "stopped",
	}
}

func (a *Agent) failureResult(ctx context.Context, st *runState, iterations int, errCode, summary string) *models.TaskResult {
	_ = st.phases.Transition(models.PhaseFailed)
	a.emitter.trace(ctx, models.TraceErrorCaptured, map[string]any{"error": errCode, "iteration": iterations})
	a.emitter.emit(ctx, models.Event{Type: models.EventAgentError, Error: errCode})
	quality := st.quality.Evaluate(st.stats, st.ledger, a.run.Task, maxInt(iterations, 1))
	a.emitRunKPIs(ctx, st, iterations, false, quality)
	return &models.TaskResult{
		Success:       false,
		Summary:       summary,
		FilesCreated:  st.stats.FilesCreated,
		FilesModified: st.stats.FilesModified,
		FilesRead:     st.stats.FilesRead,
		Iterations:    iterations,
		TokensUsed:    st.tokensUsed,
		Quality:       &quality,
		Error:         errCode,
	}
}

func (a *Agent) emitRunKPIs(ctx context.Context, st *runState, iterations int, success bool, quality models.QualityResult) {
	if a.metrics == nil {
		return
	}
	a.metrics.EmitRun(ctx, RunSample{
		SessionID:          a.run.SessionID,
		Success:            success,
		IterationsUsed:     iterations,
		Budget:             st.budget.IterationBudget(),
		TokensUsed:         st.tokensUsed,
		QualityScore:       quality.Score,
		DriftRate:          st.stats.DriftRate(),
		EvidenceDensity:    st.stats.EvidenceDensity(maxInt(iterations, 1)),
		ToolErrorRate:      st.stats.ToolErrorRate(),
		ToolErrors:         st.stats.ToolErrorCount,
		BudgetExtensions:   st.budget.Extensions(),
		HypothesisSwitches: st.reflection.HypothesisSwitches(),
	})
}

func (a *Agent) appendSessionHistory(ctx context.Context, st *runState, summary string) {
	if a.store == nil {
		return
	}
	msgs := append([]models.Message{}, st.fullHistory...)
	msgs = append(msgs, models.Message{Role: models.RoleAssistant, Content: summary, SessionID: a.run.SessionID})
	if err := a.store.AppendMessages(ctx, a.run.SessionID, msgs); err != nil {
		a.logger.Warn("failed to append session history", "error", err)
	}
}

// persistMemory writes the archive under .kb/memory/{sessionId}/, best
// effort. The fact sheet is not persisted.
func (a *Agent) persistMemory(st *runState) {
	path := filepath.Join(a.memoryDir, a.run.AgentID+".archive.json")
	if err := st.archive.Persist(path); err != nil {
		a.logger.Warn("failed to persist archive", "error", err, "path", path)
	}
}

// SpawnChild runs a sub-agent for a subtask: fresh registry without
// spawn_agent, derived working directory, the parent's abort flag, its own
// budget.
func (a *Agent) SpawnChild(ctx context.Context, task, subDir string) (*models.TaskResult, error) {
	if !a.isMainAgent {
		return nil, fmt.Errorf("agent: sub-agents cannot spawn agents")
	}
	subtaskID := uuid.NewString()
	a.emitter.emit(ctx, models.Event{Type: models.EventSubtaskStart, SubtaskID: subtaskID})
	defer a.emitter.emit(ctx, models.Event{Type: models.EventSubtaskEnd, SubtaskID: subtaskID})

	workingDir := a.run.WorkingDir
	if subDir != "" {
		workingDir = filepath.Join(workingDir, subDir)
	}
	child := New(models.Run{
		ParentAgentID: a.run.AgentID,
		SessionID:     a.run.SessionID,
		WorkingDir:    workingDir,
		Task:          task,
		Tier:          a.run.Tier,
		AbortSignal:   a.run.AbortSignal,
	}, a.provider, a.registry.WithoutSpawn(), a.store, a.metrics,
		a.emitter.sink, a.emitter.tracer, a.emitter.analytics, a.opts)
	child.SetParentStuckCallback(func(ctx context.Context, reason string) {
		a.logger.Info("sub-agent reported stuck", "subtask_id", subtaskID, "reason", reason)
	})

	// Propagate the parent's cooperative stop.
	if a.stopRequested.Load() {
		child.RequestStop()
	}
	return child.Execute(ctx), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
