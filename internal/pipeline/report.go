package pipeline

import (
	"fmt"
	"strings"

	t "perflens/internal/types"
)

// renderReport composes the final Markdown report. Section numbers are
// fixed; the profiling section is omitted entirely when no data was
// collected.
func renderReport(in t.AdviseIn, suggestions []t.Suggestion) string {
	var b strings.Builder
	b.WriteString("# Performance Analysis Report\n\n")

	b.WriteString("## 1. Project Overview\n\n")
	fmt.Fprintf(&b, "- Project path: `%s`\n", in.Project)
	fmt.Fprintf(&b, "- Language: %s\n", in.Language)
	fmt.Fprintf(&b, "- Functions analyzed: %d\n", len(in.Extract.Functions))
	fmt.Fprintf(&b, "- Dynamic profiling: %s\n\n", enabledDisabled(in.Profiling != nil))

	if in.Profiling != nil {
		writeProfilingSection(&b, in.Profiling)
	}
	if len(in.Hotspots) > 0 {
		writeHotspotSection(&b, in)
	}
	if len(in.Issues) > 0 {
		writeMemorySection(&b, in.Issues, in.PatternSummary)
	}
	if len(suggestions) > 0 {
		writeSuggestionSection(&b, in.Language, suggestions)
	}

	b.WriteString("## 6. Summary\n\n")
	highPriority := 0
	for _, s := range suggestions {
		if s.Priority == t.SeverityHigh {
			highPriority++
		}
	}
	fmt.Fprintf(&b, "- **%d** performance hotspots found\n", len(in.Hotspots))
	fmt.Fprintf(&b, "- **%d** memory issues found\n", len(in.Issues))
	fmt.Fprintf(&b, "- **%d** optimization suggestions generated\n", len(suggestions))
	fmt.Fprintf(&b, "- **%d** of them high priority\n", highPriority)
	return b.String()
}

func writeProfilingSection(b *strings.Builder, p *t.ProfilingData) {
	b.WriteString("## 2. Dynamic Profiling Interpretation\n\n")
	fmt.Fprintf(b, "- Total time: %s\n", orNA(p.ElapsedTime))
	fmt.Fprintf(b, "- Memory peak: %s\n", orNA(p.MemoryPeak))

	if v, ok := p.Counters["cpu_percent"]; ok {
		fmt.Fprintf(b, "- CPU usage: %s\n", v)
	}
	if hasAny(p.Counters, "user_time_s", "system_time_s") {
		fmt.Fprintf(b, "- CPU time: user=%ss, sys=%ss\n",
			counterOr(p, "user_time_s"), counterOr(p, "system_time_s"))
	}
	if hasAny(p.Counters, "major_page_faults", "minor_page_faults") {
		fmt.Fprintf(b, "- Page faults: major=%s, minor=%s\n",
			counterOr(p, "major_page_faults"), counterOr(p, "minor_page_faults"))
	}
	if hasAny(p.Counters, "voluntary_ctx_switches", "involuntary_ctx_switches") {
		fmt.Fprintf(b, "- Context switches: voluntary=%s, involuntary=%s\n",
			counterOr(p, "voluntary_ctx_switches"), counterOr(p, "involuntary_ctx_switches"))
	}
	if hasAny(p.Counters, "fs_inputs", "fs_outputs") {
		fmt.Fprintf(b, "- Filesystem I/O: in=%s, out=%s\n",
			counterOr(p, "fs_inputs"), counterOr(p, "fs_outputs"))
	}

	if cpu, ok := p.CPUPercent(); ok {
		if cpu >= 90 {
			b.WriteString("\n**First take**: clearly CPU bound; prioritize the hotspot functions and algorithm or data-structure level work.\n")
		} else if cpu <= 40 {
			b.WriteString("\n**First take**: possibly I/O bound or waiting (CPU utilization is low); check disk access, system calls and lock contention first.\n")
		}
	}
	b.WriteString("\n")
}

func writeHotspotSection(b *strings.Builder, in t.AdviseIn) {
	b.WriteString("## 3. Performance Hotspots\n\n")
	for i, h := range in.Hotspots {
		if i == 5 {
			break
		}
		fmt.Fprintf(b, "### 🔥 #%d %s [%s]\n\n", h.Rank, h.Function, strings.ToUpper(h.Severity))
		fmt.Fprintf(b, "- **Location**: `%s:%d`\n", h.File, h.Line)
		if c, ok := complexityFor(in.Complexities, h.Function); ok {
			fmt.Fprintf(b, "- **Estimated complexity**: %s\n", c)
		}
		fmt.Fprintf(b, "- **Root cause**: %s\n\n", h.RootCause)
	}
}

func writeMemorySection(b *strings.Builder, issues []t.MemoryIssue, patternSummary string) {
	b.WriteString("## 4. Memory Issues\n\n")
	high := 0
	for _, i := range issues {
		if i.Severity == t.SeverityHigh {
			high++
		}
	}
	if high > 0 {
		fmt.Fprintf(b, "⚠️ **%d** high-severity memory issues found\n\n", high)
	}
	for i, issue := range issues {
		if i == 5 {
			break
		}
		fmt.Fprintf(b, "%s **%s** (%s:%d)\n", severityIcon(issue.Severity), issue.Kind, issue.File, issue.Line)
		fmt.Fprintf(b, "   %s\n\n", issue.Description)
	}
	if patternSummary != "" {
		fmt.Fprintf(b, "%s\n\n", patternSummary)
	}
}

func writeSuggestionSection(b *strings.Builder, language string, suggestions []t.Suggestion) {
	b.WriteString("## 5. Optimization Suggestions\n\n")
	for i, s := range suggestions {
		if i == maxSuggestionsShown {
			break
		}
		fmt.Fprintf(b, "### %s Suggestion %d: %s\n\n", severityIcon(s.Priority), i+1, s.Target)
		fmt.Fprintf(b, "**Category**: %s | **Priority**: %s\n\n", s.Category, s.Priority)
		fmt.Fprintf(b, "**Problem**: %s\n\n", s.Problem)
		fmt.Fprintf(b, "**Solution**: %s\n\n", s.Solution)
		if s.CodeBefore != "" && s.CodeAfter != "" {
			b.WriteString("**Code example**:\n\n")
			fmt.Fprintf(b, "Before:\n```%s\n%s\n```\n\n", language, s.CodeBefore)
			fmt.Fprintf(b, "After:\n```%s\n%s\n```\n\n", language, s.CodeAfter)
		}
		if s.ExpectedImprovement != "" {
			fmt.Fprintf(b, "**Expected improvement**: %s\n\n", s.ExpectedImprovement)
		}
		b.WriteString("---\n\n")
	}
}

func complexityFor(results []t.ComplexityResult, function string) (string, bool) {
	for _, c := range results {
		if c.Function == function && c.Time.Worst != "" {
			return c.Time.Worst, true
		}
	}
	return "", false
}

func severityIcon(severity string) string {
	switch severity {
	case t.SeverityHigh, t.SeverityCritical:
		return "🔴"
	case t.SeverityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}

func enabledDisabled(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

func orNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}

func counterOr(p *t.ProfilingData, key string) string {
	if v, ok := p.Counters[key]; ok {
		return v
	}
	return "N/A"
}

func hasAny(counters map[string]string, keys ...string) bool {
	for _, k := range keys {
		if _, ok := counters[k]; ok {
			return true
		}
	}
	return false
}
