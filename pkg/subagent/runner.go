// Package subagent implements the Subagent Runner (C6): spawning one
// agent preset as an isolated child process, streaming its NDJSON
// event protocol, and composing single/parallel/chain execution
// modes on top of that primitive.
package subagent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

const (
	defaultMaxConcurrency = 4
	hardMaxConcurrency    = 8
)

// Runner owns the binary a subagent child is spawned from and the
// credential resolver every task's provider is checked against before
// any subprocess starts.
type Runner struct {
	BinaryPath string
	Resolve    CredentialResolver
	OnEvent    func(agentName string, event agentmodel.AgentEvent)
	OnUpdate   func(agentName string, progress Progress)
}

// Single runs exactly one task and returns its AgentResult.
func (r *Runner) Single(ctx context.Context, task Task, cancel <-chan struct{}) (*agentmodel.AgentResult, error) {
	creds, err := r.resolveFor(task.Provider)
	if err != nil {
		return nil, fmt.Errorf("subagent: resolving credentials for %s: %w", task.Provider, err)
	}
	return Spawn(ctx, r.spawnOptions(task.Agent.Name, creds, cancel), task)
}

// Parallel runs every task concurrently, bounded by maxConcurrency
// (0 or negative selects the default of 4; the runner never exceeds a
// hard cap of 8 regardless of what's requested). Results are returned
// in input order regardless of completion order (spec.md §4.6).
func (r *Runner) Parallel(ctx context.Context, tasks []Task, maxConcurrency int, cancel <-chan struct{}) ([]*agentmodel.AgentResult, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	// Resolve every task's credentials before spawning any subprocess:
	// a late resolve failure must never orphan an already-running
	// sibling child.
	credsByIndex := make([]map[string]string, len(tasks))
	for i, t := range tasks {
		creds, err := r.resolveFor(t.Provider)
		if err != nil {
			return nil, fmt.Errorf("subagent: resolving credentials for %s: %w", t.Provider, err)
		}
		credsByIndex[i] = creds
	}

	workers := maxConcurrency
	if workers <= 0 {
		workers = defaultMaxConcurrency
	}
	if workers > hardMaxConcurrency {
		workers = hardMaxConcurrency
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	results := make([]*agentmodel.AgentResult, len(tasks))
	errs := make([]error, len(tasks))

	var next int
	var mu sync.Mutex
	nextIndex := func() (int, bool) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(tasks) {
			return 0, false
		}
		i := next
		next++
		return i, true
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i, ok := nextIndex()
				if !ok {
					return
				}
				res, err := Spawn(ctx, r.spawnOptions(tasks[i].Agent.Name, credsByIndex[i], cancel), tasks[i])
				results[i] = res
				errs[i] = err
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Chain runs tasks sequentially. Each task's Task string may contain
// the literal placeholder "{previous}", substituted with the final
// assistant message text produced by the prior step. Execution stops
// at the first failed or errored step; results produced before the
// stop are still returned.
func (r *Runner) Chain(ctx context.Context, tasks []Task, cancel <-chan struct{}) ([]*agentmodel.AgentResult, error) {
	results := make([]*agentmodel.AgentResult, 0, len(tasks))
	previous := ""

	for _, t := range tasks {
		t.Task = strings.ReplaceAll(t.Task, "{previous}", previous)

		creds, err := r.resolveFor(t.Provider)
		if err != nil {
			return results, fmt.Errorf("subagent: resolving credentials for %s: %w", t.Provider, err)
		}

		res, err := Spawn(ctx, r.spawnOptions(t.Agent.Name, creds, cancel), t)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if !res.Success {
			return results, nil
		}
		previous = lastAssistantText(res.Messages)
	}
	return results, nil
}

func (r *Runner) resolveFor(provider string) (map[string]string, error) {
	if r.Resolve == nil {
		return nil, nil
	}
	return r.Resolve(provider)
}

func (r *Runner) spawnOptions(agentName string, creds map[string]string, cancel <-chan struct{}) SpawnOptions {
	return SpawnOptions{
		BinaryPath:  r.BinaryPath,
		Credentials: creds,
		Cancel:      cancel,
		OnEvent: func(e agentmodel.AgentEvent) {
			if r.OnEvent != nil {
				r.OnEvent(agentName, e)
			}
		},
		OnUpdate: func(p Progress) {
			if r.OnUpdate != nil {
				r.OnUpdate(agentName, p)
			}
		},
	}
}

func lastAssistantText(messages []agentmodel.AgentMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == agentmodel.RoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}
