package merge

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// DedupStrategy removes near-duplicate findings using a deterministic
// key over (file, category, normalized title) — the same
// hash-of-identity approach the teacher's spawn/announce dedup cache
// uses for idempotency keys, applied here to finding identity instead
// of request identity. The first finding seen for a key wins; later
// ones are dropped but do not affect ranking of the survivor.
type DedupStrategy struct{}

func (s *DedupStrategy) Name() string { return "dedup" }

func (s *DedupStrategy) Execute(ctx context.Context, findings []agentmodel.Finding, opts Options) (*Result, error) {
	if opts.cancelled() {
		return nil, &agentmodel.Cancelled{Reason: "merge aborted before parsing"}
	}
	opts.emit(agentmodel.PhaseParsing)

	if opts.cancelled() {
		return nil, &agentmodel.Cancelled{Reason: "merge aborted during clustering"}
	}
	seen := make(map[string]bool, len(findings))
	deduped := make([]agentmodel.Finding, 0, len(findings))
	for _, f := range sortedCopy(findings) {
		key := dedupKey(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, f)
	}
	opts.emit(agentmodel.PhaseClustering)

	if opts.cancelled() {
		return nil, &agentmodel.Cancelled{Reason: "merge aborted during verifying"}
	}
	opts.emit(agentmodel.PhaseVerifying)

	if opts.cancelled() {
		return nil, &agentmodel.Cancelled{Reason: "merge aborted during ranking"}
	}
	rankFindings(deduped)
	opts.emit(agentmodel.PhaseRanking)

	if opts.cancelled() {
		return nil, &agentmodel.Cancelled{Reason: "merge aborted during synthesizing"}
	}
	opts.emit(agentmodel.PhaseSynthesizing)

	return &Result{Findings: deduped}, nil
}

// dedupKey builds a deterministic identity key for a finding from its
// file path, category, and a normalized title, mirroring the
// sha256-of-identity key construction the teacher uses for spawn/
// announce dedup keys.
func dedupKey(f agentmodel.Finding) string {
	normalizedTitle := strings.ToLower(strings.TrimSpace(f.Title))
	h := sha256.Sum256([]byte(strings.Join([]string{f.File, string(f.Category), normalizedTitle}, "\x1f")))
	return fmt.Sprintf("finding:v1:%x", h[:8])
}

var severityRank = map[agentmodel.Severity]int{
	agentmodel.SeverityCritical: 0,
	agentmodel.SeverityHigh:     1,
	agentmodel.SeverityMedium:   2,
	agentmodel.SeverityLow:      3,
	agentmodel.SeverityInfo:     4,
}

// rankFindings sorts in place by severity (most severe first), then
// by file/line/id for determinism within a severity tier.
func rankFindings(findings []agentmodel.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		si, sj := severityRank[findings[i].Severity], severityRank[findings[j].Severity]
		if si != sj {
			return si < sj
		}
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		return findings[i].ID < findings[j].ID
	})
}
