// Package builtin provides the actions, watchers, and handlers that ship
// with legion-core itself, registered at startup alongside anything the
// extension loader (C9) discovers. Every component here is an ordinary
// consumer of C1/C3/C5's public interfaces — nothing in this package
// reaches into another component's internals.
//
// Grounded on original src/actions/job.py (ListJobsAction,
// GetJobResultAction, StopJobAction), src/actions/help.py (HelpAction),
// and src/actions/status.py (StatusAction), with the database-backed
// project/asset inventory StatusAction reported on in the original
// dropped: ownership of that relational schema is a boundary concern
// (spec §1 Non-goals), so Status reports on what this module itself
// tracks — jobs, watchers, extensions.
package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/muellerberndt/legion-core/action"
	"github.com/muellerberndt/legion-core/extension"
	"github.com/muellerberndt/legion-core/job"
	"github.com/muellerberndt/legion-core/watcher"
)

// RegisterActions installs the job, help, and status built-in actions
// into reg.
func RegisterActions(reg *action.Registry, jobs *job.Manager, watchers *watcher.Manager) error {
	if err := reg.Register("list_jobs", action.Spec{
		Name:        "list_jobs",
		Description: "List all jobs",
		HelpText:    "List all jobs in the system, finished ones included, with their status.\n\nUsage:\n/list_jobs",
		AgentHint:   "Use this command to see what jobs are currently running in the system and monitor their status.",
	}, listJobsHandler(jobs)); err != nil {
		return err
	}

	if err := reg.Register("job", action.Spec{
		Name:        "job",
		Description: "Get results of a job by ID",
		HelpText:    "Get the results or status of a background job.\n\nUsage:\n/job <job_id>",
		AgentHint:   "Use this command to check the status and results of background jobs like scans, searches, or analysis tasks.",
		Arguments: []action.ArgSpec{
			{Name: "job_id", Description: "ID of the job to check", Required: true},
		},
	}, jobResultHandler(jobs)); err != nil {
		return err
	}

	if err := reg.Register("stop", action.Spec{
		Name:        "stop",
		Description: "Stop a running job",
		HelpText:    "Stop a currently running job.\n\nUsage:\n/stop <job_id>",
		AgentHint:   "Use this command when you need to stop a long-running job that is no longer needed or is taking too long.",
		Arguments: []action.ArgSpec{
			{Name: "job_id", Description: "ID of the job to stop", Required: true},
		},
	}, stopJobHandler(jobs)); err != nil {
		return err
	}

	if err := reg.Register("status", action.Spec{
		Name:        "status",
		Description: "Show system status information",
		HelpText:    "Show current system status information.\n\nUsage:\n/status",
		AgentHint:   "Use this command to check the current status of the system, including active jobs, watchers, and extensions.",
	}, statusHandler(jobs, watchers)); err != nil {
		return err
	}

	if err := reg.Register("help", action.Spec{
		Name:        "help",
		Description: "Show help information about commands",
		HelpText:    "Get help information about available commands.\n\nUsage:\n/help [command]",
		AgentHint:   "Use this command to learn about available commands and their usage. Without arguments it shows all commands, with an argument it shows detailed help for that command.",
		Arguments: []action.ArgSpec{
			{Name: "command", Description: "Optional command name to get detailed help for", Required: false},
		},
	}, helpHandler(reg)); err != nil {
		return err
	}

	return nil
}

func firstArg(args action.Args, name string) (string, bool) {
	if args.Named != nil {
		v, ok := args.Named[name]
		return v, ok
	}
	if len(args.Positional) > 0 {
		return args.Positional[0], true
	}
	return "", false
}

func listJobsHandler(jobs *job.Manager) action.Handler {
	return func(ctx context.Context, args action.Args) (action.Result, error) {
		handles := jobs.List(nil)
		if len(handles) == 0 {
			return action.Result{Text: "No jobs found."}, nil
		}
		lines := []string{"Jobs:"}
		for _, h := range handles {
			lines = append(lines, fmt.Sprintf("- Job %s (%s): %s", h.ID, h.Type, h.Status))
		}
		return action.Result{Text: strings.Join(lines, "\n")}, nil
	}
}

func jobResultHandler(jobs *job.Manager) action.Handler {
	return func(ctx context.Context, args action.Args) (action.Result, error) {
		id, ok := firstArg(args, "job_id")
		if !ok {
			return action.Result{}, fmt.Errorf("builtin: job action requires job_id")
		}
		h, err := jobs.Get(id)
		if err != nil {
			return action.Result{Text: fmt.Sprintf("Job %s not found", id)}, nil
		}

		lines := []string{fmt.Sprintf("Job %s", h.ID), fmt.Sprintf("Type: %s", h.Type), fmt.Sprintf("Status: %s", h.Status)}
		if h.StartedAt != nil {
			lines = append(lines, fmt.Sprintf("Started: %s", h.StartedAt))
		}
		if h.CompletedAt != nil {
			lines = append(lines, fmt.Sprintf("Completed: %s", h.CompletedAt))
		}
		if h.Result != nil {
			if h.Result.Message != "" {
				lines = append(lines, "", "Result:", h.Result.Message)
			}
			if len(h.Result.Outputs) > 0 {
				lines = append(lines, "", "Outputs:")
				for _, out := range h.Result.Outputs {
					for _, l := range strings.Split(out, "\n") {
						lines = append(lines, "  "+l)
					}
				}
			}
		}
		return action.Result{Text: strings.Join(lines, "\n"), Data: h}, nil
	}
}

func stopJobHandler(jobs *job.Manager) action.Handler {
	return func(ctx context.Context, args action.Args) (action.Result, error) {
		id, ok := firstArg(args, "job_id")
		if !ok {
			return action.Result{}, fmt.Errorf("builtin: stop action requires job_id")
		}
		stopped, err := jobs.Stop(ctx, id)
		if err != nil {
			return action.Result{Text: fmt.Sprintf("Error stopping job: %s", err.Error())}, nil
		}
		if !stopped {
			return action.Result{Text: fmt.Sprintf("Job %s was not running", id)}, nil
		}
		return action.Result{Text: fmt.Sprintf("Requested stop for job %s", id)}, nil
	}
}

func statusHandler(jobs *job.Manager, watchers *watcher.Manager) action.Handler {
	return func(ctx context.Context, args action.Args) (action.Result, error) {
		running := jobs.List(func(s job.Status) bool { return !s.IsTerminal() })
		runningWatchers := watchers.Names()

		lines := []string{
			fmt.Sprintf("Active jobs: %d", len(running)),
			fmt.Sprintf("Running watchers: %s", strings.Join(runningWatchers, ", ")),
			fmt.Sprintf("Loaded extensions: %s", strings.Join(extension.Names(), ", ")),
		}
		return action.Result{Text: strings.Join(lines, "\n")}, nil
	}
}

func helpHandler(reg *action.Registry) action.Handler {
	return func(ctx context.Context, args action.Args) (action.Result, error) {
		if name, ok := firstArg(args, "command"); ok && name != "" {
			_, spec, found := reg.Get(name)
			if !found {
				return action.Result{Text: fmt.Sprintf("Command %q not found", name)}, nil
			}
			lines := []string{
				fmt.Sprintf("Command: %s", spec.Name),
				fmt.Sprintf("Description: %s", spec.Description),
				"",
				spec.HelpText,
				"",
				"Arguments:",
			}
			for _, arg := range spec.Arguments {
				req := "(optional)"
				if arg.Required {
					req = "(required)"
				}
				lines = append(lines, fmt.Sprintf("  - %s: %s %s", arg.Name, arg.Description, req))
			}
			return action.Result{Text: strings.Join(lines, "\n")}, nil
		}

		specs := reg.List()
		names := make([]string, 0, len(specs))
		for name := range specs {
			names = append(names, name)
		}
		sort.Strings(names)

		lines := []string{"Available Commands:"}
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("  /%s: %s", name, specs[name].Description))
		}
		lines = append(lines, "", "Use /help <command> for detailed information about a specific command.")
		return action.Result{Text: strings.Join(lines, "\n")}, nil
	}
}
