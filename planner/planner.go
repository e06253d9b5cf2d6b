// Package planner implements the LLM planner (C8): a bounded loop that
// repeatedly asks an LLM for the next step and executes it against the
// action registry, terminating on an is_final signal or on safety limits.
//
// Grounded on original src/ai/autobot.py's Autobot (execute_task's
// timeout/max_steps bookkeeping, execute_step's command-dispatch and
// job-sentinel handling, ExecutionStep audit trail), with the Go-idiomatic
// interface split modeled on runtime/agent/planner/planner.go's
// Planner/PlanStart contract.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/muellerberndt/legion-core/action"
	"github.com/muellerberndt/legion-core/command"
	"github.com/muellerberndt/legion-core/job"
	"github.com/muellerberndt/legion-core/llm"
	"github.com/muellerberndt/legion-core/telemetry"
)

const (
	defaultMaxSteps = 10
	defaultTimeout  = 300 * time.Second
	// defaultJobWait bounds how long a step that launched a background job
	// blocks on its completion before surfacing a timeout failure.
	defaultJobWait = 300 * time.Second
)

// ExecutionStep is one recorded step of a planner run, kept for audit;
// in-memory only unless the surrounding job persists it via JobResult.Data
// (spec §3).
type ExecutionStep struct {
	StepNumber int
	Action     string
	InputData  map[string]any
	OutputData map[string]any
	Reasoning  string
	NextAction string
	Timestamp  time.Time
}

// Status is the planner run's coarse state machine: started -> in_progress
// -> {completed | failed}.
type Status string

const (
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// State is the full mutable state threaded through one planner run.
type State struct {
	Message        string
	Status         Status
	LastResult     string
	CommandHistory []string
	IsFinal        bool
	StepCount      int
	StartTime      time.Time
	Steps          []ExecutionStep
}

// Clock supplies the current time, injected so tests can produce
// deterministic ExecutionStep timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Dispatch is the narrow action-execution interface the planner needs.
type Dispatch interface {
	Dispatch(ctx context.Context, name string, args action.Args) (action.Result, error)
}

// Waiter is the narrow job-completion interface the planner needs to
// transparently await a launched job's result.
type Waiter interface {
	WaitForResult(ctx context.Context, jobID string, timeout time.Duration) (job.Result, error)
}

// Planner runs the bounded plan-then-execute loop.
type Planner struct {
	llmClient    llm.Client
	registry     Dispatch
	jobs         Waiter
	commands     map[string]action.Command
	systemPrompt string
	maxSteps     int
	timeout      time.Duration
	jobWait      time.Duration
	clock        Clock
	logger       telemetry.Logger
}

// Option configures optional aspects of a Planner.
type Option func(*Planner)

// WithMaxSteps overrides the default max_steps (10).
func WithMaxSteps(n int) Option { return func(p *Planner) { p.maxSteps = n } }

// WithTimeout overrides the default timeout (300s).
func WithTimeout(d time.Duration) Option { return func(p *Planner) { p.timeout = d } }

// WithClock overrides the planner's time source; primarily for tests.
func WithClock(c Clock) Option { return func(p *Planner) { p.clock = c } }

// New constructs a Planner. commands is the catalog surfaced to the LLM in
// its prompt, typically action.Registry.Commands(nil).
func New(llmClient llm.Client, registry Dispatch, jobs Waiter, commands map[string]action.Command, systemPrompt string, logger telemetry.Logger, opts ...Option) *Planner {
	p := &Planner{
		llmClient:    llmClient,
		registry:     registry,
		jobs:         jobs,
		commands:     commands,
		systemPrompt: systemPrompt,
		maxSteps:     defaultMaxSteps,
		timeout:      defaultTimeout,
		jobWait:      defaultJobWait,
		clock:        systemClock{},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the bounded loop for message, returning a final
// human-readable string (spec §4.8). The returned State reflects the
// terminal run.
func (p *Planner) Run(ctx context.Context, message string) (string, *State, error) {
	state := &State{
		Message:   message,
		Status:    StatusStarted,
		StartTime: p.clock.Now(),
	}

	for {
		if p.clock.Now().Sub(state.StartTime) > p.timeout {
			state.Status = StatusFailed
			return "", state, fmt.Errorf("planner: task timed out after %s", p.timeout)
		}

		state.Status = StatusInProgress
		output, done, err := p.step(ctx, state)
		if err != nil {
			state.Status = StatusFailed
			return "", state, err
		}
		state.StepCount++

		if done {
			state.Status = StatusCompleted
			return output, state, nil
		}

		if state.StepCount >= p.maxSteps {
			state.Status = StatusFailed
			return "", state, fmt.Errorf("planner: task exceeded maximum steps (%d)", p.maxSteps)
		}
	}
}

// step performs exactly one plan-then-execute cycle. It returns (output,
// true, nil) when the run should terminate with output as the final
// response.
func (p *Planner) step(ctx context.Context, state *State) (string, bool, error) {
	raw, err := p.askLLM(ctx, state)
	if err != nil {
		return "", false, err
	}

	plan, err := parsePlan(raw)
	if err != nil {
		return "", false, err
	}

	if strings.TrimSpace(plan.Command) == "" {
		p.recordStep(state, "response", nil, map[string]any{"result": plan.Output}, plan.Thought, "complete")
		if plan.IsFinal {
			state.IsFinal = true
			return plan.Output, true, nil
		}
		return "", false, nil
	}

	name, _ := command.ParseMessage(strings.TrimSpace(plan.Command))

	if p.isLoopDetected(state, name) {
		p.logger.Warn("planner: loop-breaker triggered", telemetry.F("action", name))
		p.recordStep(state, name, nil, map[string]any{"result": state.LastResult}, plan.Thought, "forced_final")
		state.IsFinal = true
		return state.LastResult, true, nil
	}

	result, err := p.execute(ctx, plan.Command)
	if err != nil {
		return "", false, fmt.Errorf("planner: command %q failed: %w", plan.Command, err)
	}

	state.CommandHistory = append(state.CommandHistory, name)
	state.LastResult = result
	p.recordStep(state, name, nil, map[string]any{"result": result}, plan.Thought, "continue")

	if plan.IsFinal {
		state.IsFinal = true
		return plan.Output, true, nil
	}
	return "", false, nil
}

// isLoopDetected reports the loop-breaker condition: name matches each of
// the two most recently executed commands, with a non-empty last result
// (spec §4.8 step 4, invariant 5). Requiring two consecutive repeats
// rather than one tolerates a single retry of the same command before
// forcing termination on the third; see DESIGN.md's Open Questions for why
// this reading was chosen over a literal one-repeat trigger.
func (p *Planner) isLoopDetected(state *State, name string) bool {
	h := state.CommandHistory
	if len(h) < 2 || state.LastResult == "" {
		return false
	}
	return h[len(h)-1] == name && h[len(h)-2] == name
}

// execute dispatches cmd through the command parser and action registry,
// and transparently awaits a launched job's result when the handler
// returns the "Started job with ID: <uuid>" sentinel form (spec §4.1
// Extension rule, §4.8 step 5).
func (p *Planner) execute(ctx context.Context, cmd string) (string, error) {
	name, tail := command.ParseMessage(cmd)
	parsed := command.ParseArguments(tail)

	var args action.Args
	if parsed.Named != nil {
		args = action.Args{Named: parsed.Named}
	} else {
		args = action.Args{Positional: parsed.Positional}
	}

	result, err := p.registry.Dispatch(ctx, name, args)
	if err != nil {
		return "", err
	}

	if jobID, ok := job.ExtractID(result.Text); ok && p.jobs != nil {
		p.logger.Info("planner: detected job ID, awaiting completion", telemetry.F("job_id", jobID))
		jobResult, err := p.jobs.WaitForResult(ctx, jobID, p.jobWait)
		if err != nil {
			return "", fmt.Errorf("planner: error waiting for job %s: %w", jobID, err)
		}
		if !jobResult.Success {
			return "", fmt.Errorf("planner: job %s failed: %s", jobID, jobResult.Message)
		}
		return jobResult.Report(), nil
	}

	return result.Text, nil
}

func (p *Planner) recordStep(state *State, actionName string, input, output map[string]any, reasoning, next string) {
	state.Steps = append(state.Steps, ExecutionStep{
		StepNumber: state.StepCount,
		Action:     actionName,
		InputData:  input,
		OutputData: output,
		Reasoning:  reasoning,
		NextAction: next,
		Timestamp:  p.clock.Now(),
	})
}

func (p *Planner) askLLM(ctx context.Context, state *State) (string, error) {
	req := llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: p.systemPrompt},
			{Role: "system", Content: p.instructionPrompt()},
			{Role: "user", Content: p.statePrompt(state)},
		},
	}
	resp, err := p.llmClient.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("planner: LLM completion failed: %w", err)
	}
	return resp.Text, nil
}

func (p *Planner) instructionPrompt() string {
	var b strings.Builder
	b.WriteString("Your response MUST be a valid JSON object with fields: thought, command, output, is_final.\n")
	b.WriteString("command is empty to just respond, or \"name arg1 arg2\" to invoke a command.\n")
	b.WriteString("Available commands and their parameters:\n")
	for name, cmd := range p.commands {
		b.WriteString(fmt.Sprintf("- %s: %s\n  Required: %v, Optional: %v\n", name, cmd.Description, cmd.RequiredParams, cmd.OptionalParams))
	}
	return b.String()
}

func (p *Planner) statePrompt(state *State) string {
	return fmt.Sprintf("Current state: message=%q status=%s last_result=%q step_count=%d", state.Message, state.Status, state.LastResult, state.StepCount)
}
