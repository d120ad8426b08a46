package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// ClusterStrategy groups findings sharing a (file, category) pair
// into FindingClusters, ranks the result, and — when a merge-agent
// preset and LLM client are supplied — fans out one extra agent call
// during the synthesizing phase to produce a prose summary. Per
// spec.md §4.5's fan-out note, that call uses the ordinary agent-loop
// machinery but is a single-agent run; its failure degrades to a
// generated fallback summary rather than failing the merge.
type ClusterStrategy struct{}

func (s *ClusterStrategy) Name() string { return "cluster" }

func (s *ClusterStrategy) Execute(ctx context.Context, findings []agentmodel.Finding, opts Options) (*Result, error) {
	if opts.cancelled() {
		return nil, &agentmodel.Cancelled{Reason: "merge aborted before parsing"}
	}
	ordered := sortedCopy(findings)
	opts.emit(agentmodel.PhaseParsing)

	if opts.cancelled() {
		return nil, &agentmodel.Cancelled{Reason: "merge aborted during clustering"}
	}
	clusters := buildClusters(ordered)
	opts.emit(agentmodel.PhaseClustering)

	if opts.cancelled() {
		return nil, &agentmodel.Cancelled{Reason: "merge aborted during verifying"}
	}
	opts.emit(agentmodel.PhaseVerifying)

	if opts.cancelled() {
		return nil, &agentmodel.Cancelled{Reason: "merge aborted during ranking"}
	}
	rankFindings(ordered)
	opts.emit(agentmodel.PhaseRanking)

	if opts.cancelled() {
		return nil, &agentmodel.Cancelled{Reason: "merge aborted during synthesizing"}
	}
	summary := s.synthesize(ctx, ordered, clusters, opts)
	opts.emit(agentmodel.PhaseSynthesizing)

	return &Result{Findings: ordered, Clusters: clusters, Summary: summary}, nil
}

func buildClusters(findings []agentmodel.Finding) []agentmodel.FindingCluster {
	type key struct {
		file     string
		category agentmodel.Category
	}
	groups := make(map[key][]string)
	var order []key
	for _, f := range findings {
		k := key{file: f.File, category: f.Category}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], f.ID)
	}

	clusters := make([]agentmodel.FindingCluster, 0, len(order))
	for i, k := range order {
		label := string(k.category)
		if k.file != "" {
			label = fmt.Sprintf("%s in %s", k.category, k.file)
		}
		clusters = append(clusters, agentmodel.FindingCluster{
			ID:         fmt.Sprintf("cluster-%d", i+1),
			FindingIDs: groups[k],
			Label:      label,
		})
	}
	return clusters
}

func (s *ClusterStrategy) synthesize(ctx context.Context, findings []agentmodel.Finding, clusters []agentmodel.FindingCluster, opts Options) string {
	if opts.MergeAgent == nil || opts.Client == nil {
		return fallbackSummary(findings, clusters)
	}

	prompt := buildSynthesisPrompt(findings, clusters)
	messages := []agentmodel.Message{
		{Role: "system", Content: opts.MergeAgent.SystemPrompt},
		{Role: "user", Content: prompt},
	}
	resp, err := opts.Client.Chat(ctx, messages, nil, opts.MergeAgent.Model, nil)
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		return fallbackSummary(findings, clusters)
	}
	return resp.Content
}

func buildSynthesisPrompt(findings []agentmodel.Finding, clusters []agentmodel.FindingCluster) string {
	var b strings.Builder
	b.WriteString("Summarize the following findings, grouped by cluster:\n\n")
	for _, c := range clusters {
		b.WriteString(fmt.Sprintf("- %s (%d findings)\n", c.Label, len(c.FindingIDs)))
	}
	b.WriteString(fmt.Sprintf("\nTotal findings: %d\n", len(findings)))
	return b.String()
}

func fallbackSummary(findings []agentmodel.Finding, clusters []agentmodel.FindingCluster) string {
	counts := make(map[agentmodel.Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	order := []agentmodel.Severity{
		agentmodel.SeverityCritical, agentmodel.SeverityHigh,
		agentmodel.SeverityMedium, agentmodel.SeverityLow, agentmodel.SeverityInfo,
	}
	parts := make([]string, 0, len(order))
	for _, sev := range order {
		if counts[sev] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[sev], sev))
		}
	}
	return fmt.Sprintf("%d finding(s) across %d cluster(s): %s", len(findings), len(clusters), strings.Join(parts, ", "))
}
