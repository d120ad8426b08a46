package finding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

func assistantMsg(content string) agentmodel.AgentMessage {
	return agentmodel.AgentMessage{Role: agentmodel.RoleAssistant, Content: content}
}

func TestParse_SingleWellFormedFinding(t *testing.T) {
	content := `Here is my analysis.

### Finding: SQL injection in query builder
Severity: High
Category: security
File: pkg/db/query.go
Line: 42
Confidence: 0.9
Description: User input is concatenated directly into the SQL string
without parameterization.
Suggestion: Use a parameterized query instead.
` + "```go\nquery := \"SELECT * FROM users WHERE id = \" + userID\n```" + `
References CWE-89 here.
`
	findings := Parse("security-agent", []agentmodel.AgentMessage{assistantMsg(content)})
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "security-agent-1", f.ID)
	assert.Equal(t, agentmodel.SeverityHigh, f.Severity)
	assert.Equal(t, agentmodel.CategorySecurity, f.Category)
	assert.Equal(t, "pkg/db/query.go", f.File)
	require.NotNil(t, f.Line)
	assert.Equal(t, 42, f.Line.Start)
	assert.Equal(t, 42, f.Line.End)
	require.NotNil(t, f.Confidence)
	assert.InDelta(t, 0.9, *f.Confidence, 0.0001)
	assert.Contains(t, f.Description, "concatenated directly")
	assert.Contains(t, f.Suggestion, "parameterized query")
	assert.Contains(t, f.CodeSnippet, "SELECT * FROM users")
	assert.Equal(t, []string{"CWE-89"}, f.References)
	assert.Equal(t, "SQL injection in query builder", f.Title)
}

func TestParse_MultipleFindingsInOneMessage(t *testing.T) {
	content := `### Finding: first issue
Severity: low
Category: style
Description: minor naming nit

### Finding: second issue
Severity: critical
Category: bug
Description: nil pointer dereference on empty input
`
	findings := Parse("agentA", []agentmodel.AgentMessage{assistantMsg(content)})
	require.Len(t, findings, 2)
	assert.Equal(t, "agentA-1", findings[0].ID)
	assert.Equal(t, agentmodel.SeverityLow, findings[0].Severity)
	assert.Equal(t, "agentA-2", findings[1].ID)
	assert.Equal(t, agentmodel.SeverityCritical, findings[1].Severity)
}

func TestParse_IgnoresNonAssistantMessages(t *testing.T) {
	messages := []agentmodel.AgentMessage{
		{Role: agentmodel.RoleUser, Content: "### Finding: should not be parsed\nSeverity: high\n"},
		{Role: agentmodel.RoleToolResult, Content: "### Finding: also ignored\nSeverity: high\n"},
	}
	findings := Parse("agentA", messages)
	assert.Empty(t, findings)
}

func TestParse_UnparseableBlockStillEmitsFinding(t *testing.T) {
	content := "### Finding:\njust some unlabeled prose with no recognized fields at all"
	findings := Parse("agentA", []agentmodel.AgentMessage{assistantMsg(content)})
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "agentA-1", f.ID)
	assert.Equal(t, agentmodel.SeverityMedium, f.Severity) // default
	assert.Equal(t, agentmodel.CategoryOther, f.Category)  // default
	assert.Contains(t, f.Description, "unlabeled prose")
}

func TestParse_DescriptionFallsBackToTruncatedBlock(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "lorem ipsum dolor sit amet "
	}
	content := "### Finding: no description label\n" + long
	findings := Parse("agentA", []agentmodel.AgentMessage{assistantMsg(content)})
	require.Len(t, findings, 1)
	assert.LessOrEqual(t, len([]rune(findings[0].Description)), 200)
}

func TestParse_CaseInsensitiveDelimiterAndLabels(t *testing.T) {
	content := "### FINDING: weird casing\nSEVERITY: High\ncategory: Security\n"
	findings := Parse("agentA", []agentmodel.AgentMessage{assistantMsg(content)})
	require.Len(t, findings, 1)
	assert.Equal(t, agentmodel.SeverityHigh, findings[0].Severity)
	assert.Equal(t, agentmodel.CategorySecurity, findings[0].Category)
}

func TestParse_LinesRangeField(t *testing.T) {
	content := "### Finding: ranged\nLines: 10-20\n"
	findings := Parse("agentA", []agentmodel.AgentMessage{assistantMsg(content)})
	require.Len(t, findings, 1)
	require.NotNil(t, findings[0].Line)
	assert.Equal(t, 10, findings[0].Line.Start)
	assert.Equal(t, 20, findings[0].Line.End)
}

func TestParse_DedupesReferences(t *testing.T) {
	content := "### Finding: dup refs\nDescription: see cwe-89 and CWE-89 and CWE-79\n"
	findings := Parse("agentA", []agentmodel.AgentMessage{assistantMsg(content)})
	require.Len(t, findings, 1)
	assert.Equal(t, []string{"CWE-89", "CWE-79"}, findings[0].References)
}

func TestParse_NoDelimiterYieldsNoFindings(t *testing.T) {
	findings := Parse("agentA", []agentmodel.AgentMessage{assistantMsg("just a normal response with no findings at all")})
	assert.Empty(t, findings)
}

func TestParse_ConfidenceClampedToUnitInterval(t *testing.T) {
	content := "### Finding: overconfident\nConfidence: 1.5\n"
	findings := Parse("agentA", []agentmodel.AgentMessage{assistantMsg(content)})
	require.Len(t, findings, 1)
	require.NotNil(t, findings[0].Confidence)
	assert.Equal(t, 1.0, *findings[0].Confidence)
}

func TestParse_FixAndRecommendationAliasToSuggestion(t *testing.T) {
	content := "### Finding: aliasing\nFix: do the thing\n"
	findings := Parse("agentA", []agentmodel.AgentMessage{assistantMsg(content)})
	require.Len(t, findings, 1)
	assert.Equal(t, "do the thing", findings[0].Suggestion)
}
