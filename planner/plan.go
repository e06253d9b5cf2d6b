package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Plan is the structured response the LLM must produce for each step (spec
// §4.8): thought is internal reasoning, command is either empty ("just
// respond") or a "/name args"-shaped string, output is shown to the user
// when is_final is true, and is_final signals loop termination.
type Plan struct {
	Thought string `json:"thought"`
	Command string `json:"command"`
	Output  string `json:"output"`
	IsFinal bool   `json:"is_final"`
}

var requiredPlanFields = []string{"thought", "command", "output", "is_final"}

// parsePlan strips markdown code fences and language tags from raw, then
// strictly parses the remainder as a Plan, rejecting any schema deviation:
// a missing required field, a field of the wrong type, or trailing
// malformed JSON (spec §4.8 step 2).
func parsePlan(raw string) (Plan, error) {
	cleaned := stripCodeFence(raw)

	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return Plan{}, fmt.Errorf("planner: failed to parse LLM response as JSON: %w", err)
	}

	var missing []string
	for _, field := range requiredPlanFields {
		if _, ok := generic[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return Plan{}, fmt.Errorf("planner: missing required fields in plan: %s", strings.Join(missing, ", "))
	}

	var plan Plan
	if err := json.Unmarshal(generic["thought"], &plan.Thought); err != nil {
		return Plan{}, fmt.Errorf("planner: field 'thought' must be a string: %w", err)
	}
	if err := json.Unmarshal(generic["command"], &plan.Command); err != nil {
		return Plan{}, fmt.Errorf("planner: field 'command' must be a string: %w", err)
	}
	if err := json.Unmarshal(generic["output"], &plan.Output); err != nil {
		return Plan{}, fmt.Errorf("planner: field 'output' must be a string: %w", err)
	}
	if err := json.Unmarshal(generic["is_final"], &plan.IsFinal); err != nil {
		return Plan{}, fmt.Errorf("planner: field 'is_final' must be a boolean: %w", err)
	}

	return plan, nil
}

// stripCodeFence removes a surrounding markdown code fence (```...```),
// and a leading "json" language tag, returning the innermost JSON-looking
// segment. A response with no fences is returned trimmed and unchanged.
func stripCodeFence(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.Contains(cleaned, "```") {
		parts := strings.Split(cleaned, "```")
		for _, part := range parts {
			if strings.Contains(part, "{") && strings.Contains(part, "}") {
				cleaned = strings.TrimSpace(part)
				break
			}
		}
	}
	cleaned = strings.TrimPrefix(cleaned, "json")
	return strings.TrimSpace(cleaned)
}
