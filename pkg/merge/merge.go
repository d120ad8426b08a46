// Package merge implements the Merge Executor (C5): a pluggable,
// name-dispatched strategy that turns a flat list of Findings into
// clusters, verified/ranked findings, and an optional synthesized
// summary.
package merge

import (
	"context"
	"sort"
	"sync"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// Options carries everything a Strategy needs beyond the raw findings:
// the optional merge-agent descriptor and LLM client for strategies
// that fan out one more agent call, the tool set, a cancellation
// channel, a provider credential resolver, and the two event/progress
// callbacks the Team Engine uses to persist snapshots.
type Options struct {
	MergeAgent        *agentmodel.AgentPreset
	Client            agentmodel.LLMClient
	Tools             []agentmodel.ToolDescriptor
	Cancel            <-chan struct{}
	ResolveCredential func(provider string) (string, error)
	OnEvent           func(agentmodel.AgentEvent)
	OnProgress        func(agentmodel.MergePhase)
}

func (o Options) emit(phase agentmodel.MergePhase) {
	if o.OnProgress != nil {
		o.OnProgress(phase)
	}
}

func (o Options) cancelled() bool {
	if o.Cancel == nil {
		return false
	}
	select {
	case <-o.Cancel:
		return true
	default:
		return false
	}
}

// Result is the terminal payload a Strategy's Execute call resolves
// to — the same shape persisted as a merge snapshot's final outputData
// (spec.md §9 open question #3).
type Result struct {
	Findings []agentmodel.Finding
	Clusters []agentmodel.FindingCluster
	Summary  string
}

// Strategy is the narrow interface every merge strategy implements.
// Implementations must call opts.OnProgress at every phase transition
// so the Team Engine can persist a snapshot per phase.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, findings []agentmodel.Finding, opts Options) (*Result, error)
}

// Registry dispatches merge strategies by name. Strategies register
// themselves at construction time (via NewRegistry's defaults or
// explicit Register calls), avoiding an import cycle between the
// engine and individual strategy implementations.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns a Registry pre-populated with the strategies
// this build ships: noop, cluster, dedup (spec.md §9 open question #2
// leaves the strategy set open-ended).
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(&NoopStrategy{})
	r.Register(&DedupStrategy{})
	r.Register(&ClusterStrategy{})
	return r
}

// Register adds or replaces a strategy by its own Name().
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Execute dispatches to the named strategy. If no strategy with that
// name is registered, merge is bypassed: the raw findings are
// returned unmodified and no progress events are emitted.
func (r *Registry) Execute(ctx context.Context, name string, findings []agentmodel.Finding, opts Options) (*Result, error) {
	r.mu.RLock()
	strat, ok := r.strategies[name]
	r.mu.RUnlock()
	if !ok {
		return &Result{Findings: findings}, nil
	}
	return strat.Execute(ctx, findings, opts)
}

// sortedCopy returns a defensive, stably-ordered copy of findings so
// strategies never mutate the caller's slice and always produce
// deterministic output ordering (by file, then line, then id).
func sortedCopy(findings []agentmodel.Finding) []agentmodel.Finding {
	out := make([]agentmodel.Finding, len(findings))
	copy(out, findings)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		li, lj := lineStart(out[i]), lineStart(out[j])
		if li != lj {
			return li < lj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func lineStart(f agentmodel.Finding) int {
	if f.Line == nil {
		return -1
	}
	return f.Line.Start
}
