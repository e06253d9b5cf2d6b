// Package action implements the action registry (C1): a uniform catalog of
// callable operations, each with a declared argument schema, usable by both
// human operators (a chat interface) and automated planners.
package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrAlreadyRegistered is returned by Register when an action with the
	// same name already exists in the registry.
	ErrAlreadyRegistered = errors.New("action: already registered")
	// ErrInvalidSpec is returned by Register when spec.Name does not match
	// the name the caller is registering under.
	ErrInvalidSpec = errors.New("action: spec name mismatch")
	// ErrNotFound is returned when an action name has no registration.
	ErrNotFound = errors.New("action: not found")
)

type (
	// ArgSpec describes a single argument accepted by an action. Order
	// within ActionSpec.Arguments defines positional interpretation when a
	// caller supplies positional arguments instead of a name-keyed map.
	ArgSpec struct {
		Name        string
		Description string
		Required    bool
	}

	// Spec is the immutable, declared shape of an action. Handlers are
	// registered alongside exactly one Spec and the registry never mutates
	// it after Register returns.
	Spec struct {
		Name        string
		Description string
		HelpText    string
		// AgentHint is free-form guidance surfaced to the planner, e.g.
		// "First argument should be the search query".
		AgentHint string
		Arguments []ArgSpec
	}

	// Command is the planner-facing projection of a Spec: required and
	// optional parameter names split out, plus any parameter AgentHint
	// marks as positional.
	Command struct {
		Name             string
		Description      string
		Help             string
		Hint             string
		RequiredParams   []string
		OptionalParams   []string
		PositionalParams []string
	}

	// Args is what a Handler receives: either a positional list or a
	// name-keyed map, mirroring however the caller's input was parsed.
	// Exactly one of Positional or Named is non-nil.
	Args struct {
		Positional []string
		Named      map[string]string
	}

	// Result is what a Handler returns on success. A Handler that fails
	// returns an error instead, which Dispatch wraps with the action's name
	// and hands back to its caller alongside an empty Result.
	Result struct {
		// Text is the human-readable rendering of the result, shown to chat
		// users and fed back into the planner's last_result.
		Text string
		// Data carries a structured payload for callers that want more than
		// text (e.g. a job listing).
		Data any
	}

	// Handler is a registered action's implementation. It must accept
	// whichever Args shape the caller parsed and return a Result or an
	// error. Long-running work must be submitted as a job and the handler
	// must return promptly with a "Started job with ID: <uuid>"-shaped
	// Result.Text (see package job's ExtractID).
	Handler func(ctx context.Context, args Args) (Result, error)

	registration struct {
		handler Handler
		spec    Spec
	}

	// Registry is the authoritative mapping from action name to
	// (Handler, Spec). It is read-mostly after startup: Register is only
	// called during composition and extension loading; Get/List/Commands/
	// Dispatch require no locking beyond a read lock.
	Registry struct {
		mu  sync.RWMutex
		reg map[string]registration
	}
)

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{reg: make(map[string]registration)}
}

// Register adds name -> (handler, spec) to the registry. It fails with
// ErrAlreadyRegistered if name is already registered, and with
// ErrInvalidSpec if spec.Name does not equal name.
func (r *Registry) Register(name string, spec Spec, handler Handler) error {
	if spec.Name != name {
		return fmt.Errorf("%w: action %q declares spec name %q", ErrInvalidSpec, name, spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.reg[name]; dup {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	r.reg[name] = registration{handler: handler, spec: spec}
	return nil
}

// Get returns the handler and spec registered under name, or ok=false if no
// such action exists.
func (r *Registry) Get(name string) (Handler, Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.reg[name]
	if !ok {
		return nil, Spec{}, false
	}
	return reg.handler, reg.spec, true
}

// List returns every registered action's Spec, keyed by name.
func (r *Registry) List() map[string]Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Spec, len(r.reg))
	for name, reg := range r.reg {
		out[name] = reg.spec
	}
	return out
}

// Names returns every registered action name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.reg))
	for name := range r.reg {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Commands derives the planner-facing Command projection for the named
// actions. When filter is nil, every registered action is included.
func (r *Registry) Commands(filter map[string]struct{}) map[string]Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Command)
	for name, reg := range r.reg {
		if filter != nil {
			if _, ok := filter[name]; !ok {
				continue
			}
		}
		out[name] = toCommand(reg.spec)
	}
	return out
}

func toCommand(spec Spec) Command {
	cmd := Command{
		Name:        spec.Name,
		Description: spec.Description,
		Help:        spec.HelpText,
		Hint:        spec.AgentHint,
	}
	for _, arg := range spec.Arguments {
		if arg.Required {
			cmd.RequiredParams = append(cmd.RequiredParams, arg.Name)
		} else {
			cmd.OptionalParams = append(cmd.OptionalParams, arg.Name)
		}
	}
	if hintMarksFirstArgPositional(spec.AgentHint) && len(cmd.RequiredParams) > 0 {
		cmd.PositionalParams = append(cmd.PositionalParams, cmd.RequiredParams[0])
	}
	return cmd
}

func hintMarksFirstArgPositional(hint string) bool {
	lower := strings.ToLower(hint)
	return strings.Contains(lower, "first argument") || strings.Contains(lower, "first parameter")
}

// Dispatch looks up name and invokes its handler with args. Both an unknown
// name and a handler error yield an empty Result and a non-nil error;
// callers tell "not found" from "handler failed" by the returned error's
// identity (errors.Is(err, ErrNotFound)).
func (r *Registry) Dispatch(ctx context.Context, name string, args Args) (Result, error) {
	handler, _, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	res, err := handler(ctx, args)
	if err != nil {
		return Result{}, fmt.Errorf("action %q failed: %w", name, err)
	}
	return res, nil
}
