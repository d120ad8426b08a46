// Package finding implements the Finding Parser (C1): it scans an
// agent's assistant messages for "### Finding:"-delimited blocks and
// extracts structured Finding values from each one via a small,
// linear-time state machine. No regular expression ever crosses a
// newline here — per spec.md §4.1/§9, a hostile or malformed block
// must not be able to trigger catastrophic backtracking.
package finding

import (
	"strconv"
	"strings"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

const delimiter = "### finding:"

// Parse scans messages in order and returns every Finding found in
// assistant-authored text content.
func Parse(agentName string, messages []agentmodel.AgentMessage) []agentmodel.Finding {
	var findings []agentmodel.Finding
	counter := 0

	for _, msg := range messages {
		if msg.Role != agentmodel.RoleAssistant {
			continue
		}
		for _, block := range splitBlocks(msg.Content) {
			counter++
			findings = append(findings, parseBlock(agentName, counter, block))
		}
	}
	return findings
}

// splitBlocks splits content on a case-insensitive "### Finding:"
// delimiter and returns the text following each occurrence. Text
// before the first occurrence (if any) is discarded preamble.
func splitBlocks(content string) []string {
	lower := strings.ToLower(content)
	var blocks []string
	start := 0
	for {
		idx := strings.Index(lower[start:], delimiter)
		if idx < 0 {
			break
		}
		absIdx := start + idx
		blockStart := absIdx + len(delimiter)
		// Find the next occurrence to bound this block.
		nextRel := strings.Index(lower[blockStart:], delimiter)
		var blockEnd int
		if nextRel < 0 {
			blockEnd = len(content)
		} else {
			blockEnd = blockStart + nextRel
		}
		blocks = append(blocks, content[blockStart:blockEnd])
		start = blockStart
	}
	return blocks
}

type scanState int

const (
	stateOutside scanState = iota
	stateLabeledSection
	stateCodeFence
)

// recognized single-value label keys, matched case-insensitively
// after stripping markdown emphasis markers.
var singleValueKeys = map[string]bool{
	"severity":   true,
	"category":   true,
	"file":       true,
	"line":       true,
	"lines":      true,
	"confidence": true,
	"title":      true,
}

// multiValueKeys map raw label keys to the canonical section they
// accumulate into ("suggestion" covers fix/recommendation aliases).
var multiValueKeys = map[string]string{
	"description":    "description",
	"suggestion":     "suggestion",
	"fix":            "suggestion",
	"recommendation": "suggestion",
}

func parseBlock(agentName string, index int, block string) agentmodel.Finding {
	f := agentmodel.Finding{
		ID:        agentmodel.FindingID(agentName, index),
		AgentName: agentName,
		Severity:  agentmodel.SeverityMedium,
		Category:  agentmodel.CategoryOther,
	}

	single := map[string]string{}
	sections := map[string][]string{}
	var codeSnippet strings.Builder
	haveCodeSnippet := false
	var firstNonLabelLine string

	state := stateOutside
	currentSection := ""

	lines := strings.Split(block, "\n")
	for _, raw := range lines {
		trimmed := strings.TrimSpace(raw)

		if state == stateCodeFence {
			if strings.HasPrefix(trimmed, "```") {
				state = stateOutside
				continue
			}
			if !haveCodeSnippet {
				if codeSnippet.Len() > 0 {
					codeSnippet.WriteByte('\n')
				}
				codeSnippet.WriteString(raw)
			}
			continue
		}

		if strings.HasPrefix(trimmed, "```") {
			// Only the first fenced block is kept; later ones still
			// terminate any in-progress labeled section but their
			// content is discarded.
			if codeSnippet.Len() > 0 {
				haveCodeSnippet = true
			}
			state = stateCodeFence
			currentSection = ""
			continue
		}

		if key, value, ok := parseLabel(trimmed); ok {
			lowerKey := strings.ToLower(key)
			if singleValueKeys[lowerKey] {
				single[lowerKey] = value
				state = stateOutside
				currentSection = ""
				continue
			}
			if canonical, ok := multiValueKeys[lowerKey]; ok {
				state = stateLabeledSection
				currentSection = canonical
				if value != "" {
					sections[canonical] = append(sections[canonical], value)
				}
				continue
			}
		}

		if state == stateLabeledSection && currentSection != "" {
			if trimmed == "" {
				continue
			}
			sections[currentSection] = append(sections[currentSection], trimmed)
			continue
		}

		if firstNonLabelLine == "" && trimmed != "" {
			firstNonLabelLine = trimmed
		}
	}
	if codeSnippet.Len() > 0 {
		haveCodeSnippet = true
	}

	applySeverity(&f, single["severity"])
	applyCategory(&f, single["category"])
	f.File = strings.TrimSpace(single["file"])
	f.Line = parseLineRange(single["line"], single["lines"])
	f.Confidence = parseConfidence(single["confidence"])

	f.Title = strings.TrimSpace(single["title"])
	if f.Title == "" {
		f.Title = stripEmphasis(firstNonLabelLine)
	}

	if desc := strings.TrimSpace(strings.Join(sections["description"], "\n")); desc != "" {
		f.Description = desc
	} else {
		f.Description = truncate(strings.TrimSpace(block), 200)
	}
	f.Suggestion = strings.TrimSpace(strings.Join(sections["suggestion"], "\n"))
	if haveCodeSnippet {
		f.CodeSnippet = codeSnippet.String()
	}
	f.References = extractReferences(block)

	return f
}

// parseLabel splits "Key: value" (tolerating leading "- ", "* " bullet
// markers and "**bold**" emphasis around the key) and reports whether
// trimmed looks like a recognized label line at all (it must contain a
// colon with a non-empty key on its left).
func parseLabel(trimmed string) (key, value string, ok bool) {
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return "", "", false
	}
	rawKey := trimmed[:idx]
	rawKey = strings.TrimLeft(rawKey, "-*# ")
	rawKey = strings.Trim(rawKey, "* ")
	if rawKey == "" {
		return "", "", false
	}
	// A label key must be a short, identifier-like token: reject lines
	// where the "key" contains spaces (those are prose, not a label).
	if strings.ContainsAny(rawKey, " \t") {
		return "", "", false
	}
	value = strings.TrimSpace(trimmed[idx+1:])
	return rawKey, value, true
}

func stripEmphasis(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_# ")
	return s
}

func applySeverity(f *agentmodel.Finding, raw string) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		f.Severity = agentmodel.SeverityCritical
	case "high":
		f.Severity = agentmodel.SeverityHigh
	case "medium":
		f.Severity = agentmodel.SeverityMedium
	case "low":
		f.Severity = agentmodel.SeverityLow
	case "info", "informational", "information":
		f.Severity = agentmodel.SeverityInfo
	}
}

func applyCategory(f *agentmodel.Finding, raw string) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "security":
		f.Category = agentmodel.CategorySecurity
	case "bug":
		f.Category = agentmodel.CategoryBug
	case "performance", "perf":
		f.Category = agentmodel.CategoryPerformance
	case "style":
		f.Category = agentmodel.CategoryStyle
	case "maintainability":
		f.Category = agentmodel.CategoryMaintainability
	}
}

// parseLineRange parses either a "line" field (single int) or a
// "lines" field ("start-end" or a single int).
func parseLineRange(line, lines string) *agentmodel.LineRange {
	if v := strings.TrimSpace(lines); v != "" {
		if idx := strings.Index(v, "-"); idx > 0 {
			start, err1 := strconv.Atoi(strings.TrimSpace(v[:idx]))
			end, err2 := strconv.Atoi(strings.TrimSpace(v[idx+1:]))
			if err1 == nil && err2 == nil {
				return &agentmodel.LineRange{Start: start, End: end}
			}
		}
		if n, err := strconv.Atoi(v); err == nil {
			return &agentmodel.LineRange{Start: n, End: n}
		}
	}
	if v := strings.TrimSpace(line); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return &agentmodel.LineRange{Start: n, End: n}
		}
	}
	return nil
}

func parseConfidence(raw string) *float64 {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return &f
}

// extractReferences scans block for "CWE-<digits>" tokens, returning
// deduplicated, uppercased entries in first-seen order.
func extractReferences(block string) []string {
	upper := strings.ToUpper(block)
	var refs []string
	seen := map[string]bool{}
	i := 0
	for {
		idx := strings.Index(upper[i:], "CWE-")
		if idx < 0 {
			break
		}
		start := i + idx
		j := start + len("CWE-")
		end := j
		for end < len(upper) && upper[end] >= '0' && upper[end] <= '9' {
			end++
		}
		if end > j {
			token := upper[start:end]
			if !seen[token] {
				seen[token] = true
				refs = append(refs, token)
			}
			i = end
		} else {
			i = start + len("CWE-")
		}
	}
	return refs
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
