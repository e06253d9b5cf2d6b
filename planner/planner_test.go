package planner_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muellerberndt/legion-core/action"
	"github.com/muellerberndt/legion-core/job"
	"github.com/muellerberndt/legion-core/llm"
	"github.com/muellerberndt/legion-core/planner"
	"github.com/muellerberndt/legion-core/telemetry"
)

// scriptedLLM replays a fixed sequence of raw plan responses, one per
// Complete call, so tests can drive the loop deterministically.
type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if s.calls >= len(s.responses) {
		return llm.Response{}, fmt.Errorf("scriptedLLM: ran out of responses after %d calls", s.calls)
	}
	resp := s.responses[s.calls]
	s.calls++
	return llm.Response{Text: resp}, nil
}

func planJSON(t *testing.T, thought, command, output string, isFinal bool) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"thought":  thought,
		"command":  command,
		"output":   output,
		"is_final": isFinal,
	})
	require.NoError(t, err)
	return string(b)
}

// fakeDispatch echoes back the command name as the result text and counts
// invocations per action name.
type fakeDispatch struct {
	calls map[string]int
}

func newFakeDispatch() *fakeDispatch { return &fakeDispatch{calls: map[string]int{}} }

func (f *fakeDispatch) Dispatch(ctx context.Context, name string, args action.Args) (action.Result, error) {
	f.calls[name]++
	return action.Result{Text: "result-of-" + name}, nil
}

type stoppedClock struct{ t time.Time }

func (c stoppedClock) Now() time.Time { return c.t }

func testCommands() map[string]action.Command {
	return map[string]action.Command{
		"search": {Name: "search", Description: "search things", RequiredParams: []string{"query"}},
	}
}

func TestRun_CompletesOnFirstFinalPlan(t *testing.T) {
	scripted := &scriptedLLM{responses: []string{
		planJSON(t, "just answer", "", "the answer", true),
	}}
	disp := newFakeDispatch()
	p := planner.New(scripted, disp, nil, testCommands(), "you are an agent", telemetry.NewNoopLogger())

	out, state, err := p.Run(context.Background(), "what is it?")
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)
	assert.Equal(t, planner.StatusCompleted, state.Status)
	assert.Equal(t, 1, state.StepCount)
}

func TestRun_ExecutesCommandThenFinalizes(t *testing.T) {
	scripted := &scriptedLLM{responses: []string{
		planJSON(t, "let's search", "search query=foo", "", false),
		planJSON(t, "done", "", "found it", true),
	}}
	disp := newFakeDispatch()
	p := planner.New(scripted, disp, nil, testCommands(), "you are an agent", telemetry.NewNoopLogger())

	out, state, err := p.Run(context.Background(), "find foo")
	require.NoError(t, err)
	assert.Equal(t, "found it", out)
	assert.Equal(t, 1, disp.calls["search"])
	assert.Equal(t, []string{"search"}, state.CommandHistory)
	assert.Equal(t, "result-of-search", state.LastResult)
}

// TestRun_LoopBreakerForcesTermination exercises scenario S4: the same
// action repeated across three plans in sequence must force the third step
// into a final response surfacing last_result, without a fourth LLM call
// or a third dispatch.
func TestRun_LoopBreakerForcesTermination(t *testing.T) {
	scripted := &scriptedLLM{responses: []string{
		planJSON(t, "try search", "search query=foo", "", false),
		planJSON(t, "try again", "search query=foo", "", false),
		planJSON(t, "try a third time", "search query=foo", "", false),
	}}
	disp := newFakeDispatch()
	p := planner.New(scripted, disp, nil, testCommands(), "you are an agent", telemetry.NewNoopLogger())

	out, state, err := p.Run(context.Background(), "find foo")
	require.NoError(t, err)
	assert.Equal(t, "result-of-search", out)
	assert.Equal(t, 2, disp.calls["search"], "loop-breaker must prevent a third dispatch")
	assert.Equal(t, 3, state.StepCount)
	assert.Equal(t, 3, scripted.calls, "loop-breaker must not trigger another LLM call")
	assert.True(t, state.IsFinal)
}

func TestRun_MaxStepsExceededReturnsError(t *testing.T) {
	scripted := &scriptedLLM{responses: []string{
		planJSON(t, "a", "search query=1", "", false),
		planJSON(t, "b", "search query=2", "", false),
		planJSON(t, "c", "search query=1", "", false),
	}}
	disp := newFakeDispatch()
	p := planner.New(scripted, disp, nil, testCommands(), "you are an agent", telemetry.NewNoopLogger(), planner.WithMaxSteps(2))

	_, state, err := p.Run(context.Background(), "loop forever")
	require.Error(t, err)
	assert.Equal(t, planner.StatusFailed, state.Status)
}

func TestRun_TimeoutElapsedReturnsError(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &advancingClock{t: start, step: time.Hour}
	scripted := &scriptedLLM{responses: []string{
		planJSON(t, "a", "", "", false),
	}}
	disp := newFakeDispatch()
	p := planner.New(scripted, disp, nil, testCommands(), "you are an agent", telemetry.NewNoopLogger(),
		planner.WithTimeout(time.Minute), planner.WithClock(clock))

	_, state, err := p.Run(context.Background(), "slow task")
	require.Error(t, err)
	assert.Equal(t, planner.StatusFailed, state.Status)
}

// advancingClock returns a later time on each call, simulating wall-clock
// progress across loop iterations without a real sleep.
type advancingClock struct {
	t    time.Time
	step time.Duration
}

func (c *advancingClock) Now() time.Time {
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

type fakeWaiter struct {
	result job.Result
	err    error
}

func (f *fakeWaiter) WaitForResult(ctx context.Context, jobID string, timeout time.Duration) (job.Result, error) {
	return f.result, f.err
}

type jobLaunchingDispatch struct{}

func (jobLaunchingDispatch) Dispatch(ctx context.Context, name string, args action.Args) (action.Result, error) {
	return action.Result{Text: "Started job with ID: 1b4e28ba-2fa1-11d2-883f-0016d3cca427"}, nil
}

func TestRun_AwaitsJobSentinelAndSubstitutesOutput(t *testing.T) {
	scripted := &scriptedLLM{responses: []string{
		planJSON(t, "launch scan", "search query=foo", "", false),
		planJSON(t, "done", "", "scan finished", true),
	}}
	waiter := &fakeWaiter{result: job.Result{Success: true, Outputs: []string{"scan complete: 0 issues"}}}
	p := planner.New(scripted, jobLaunchingDispatch{}, waiter, testCommands(), "you are an agent", telemetry.NewNoopLogger())

	out, state, err := p.Run(context.Background(), "scan it")
	require.NoError(t, err)
	assert.Equal(t, "scan finished", out)
	assert.Equal(t, "scan complete: 0 issues", state.LastResult)
}

func TestRun_MalformedPlanJSONReturnsError(t *testing.T) {
	scripted := &scriptedLLM{responses: []string{"not json at all"}}
	disp := newFakeDispatch()
	p := planner.New(scripted, disp, nil, testCommands(), "you are an agent", telemetry.NewNoopLogger())

	_, state, err := p.Run(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, planner.StatusFailed, state.Status)
}
