package merge

import (
	"context"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// NoopStrategy passes findings through unchanged, still honoring the
// phase-transition contract so the engine persists a consistent
// snapshot trail regardless of which strategy ran.
type NoopStrategy struct{}

func (s *NoopStrategy) Name() string { return "noop" }

func (s *NoopStrategy) Execute(ctx context.Context, findings []agentmodel.Finding, opts Options) (*Result, error) {
	for _, phase := range []agentmodel.MergePhase{
		agentmodel.PhaseParsing,
		agentmodel.PhaseClustering,
		agentmodel.PhaseVerifying,
		agentmodel.PhaseRanking,
		agentmodel.PhaseSynthesizing,
	} {
		if opts.cancelled() {
			return nil, &agentmodel.Cancelled{Reason: "merge aborted during " + string(phase)}
		}
		opts.emit(phase)
	}
	return &Result{Findings: sortedCopy(findings)}, nil
}
