package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"perflens/internal/enrich"
	t "perflens/internal/types"
)

const promptAdvise = `You are a senior performance-optimization expert. Based on the analysis
below, give concrete optimization advice for each hotspot function.

For every hotspot provide:
1. A specific optimization (not generic advice)
2. Example code before the optimization
3. Example code after the optimization
4. The expected improvement

Do not restate algorithm names or complexity derivations. Focus on
actionable wins: fewer CPU instructions, fewer memory accesses and
allocations, better I/O, parallelization, caching.

Return STRICT JSON:
[
  {
    "target": "function name",
    "priority": "high/medium/low",
    "category": "algorithm/data_structure/memory/parallelization/cache",
    "problem": "what is slow",
    "solution": "detailed fix",
    "code_before": "code before",
    "code_after": "code after",
    "expected_improvement": "expected gain"
  }
]`

const (
	// adviseHotspots caps the rule-based pass over ranked hotspots.
	adviseHotspots = 5
	// adviseMemoryIssues caps the rule-based pass over memory issues.
	adviseMemoryIssues = 5
	// adviseCandidates caps the hotspots sent for enrichment advice.
	adviseCandidates = 3
	// maxSuggestionsShown bounds the report's suggestion section.
	maxSuggestionsShown = 10
)

var nullCheckBefore = "ptr = malloc(size);\nuse(ptr);"
var nullCheckAfter = "ptr = malloc(size);\nif (ptr == NULL) { /* handle error */ }\nuse(ptr);"

// Advise turns hotspots and memory issues into ranked optimization
// suggestions and composes the final report.
type Advise struct {
	Enrich *enrich.Service
}

func (s *Advise) Run(ctx context.Context, in t.AdviseIn) (t.AdviseOut, error) {
	log.Printf("[advise] generating suggestions for %d hotspots", len(in.Hotspots))

	var suggestions []t.Suggestion
	for i, h := range in.Hotspots {
		if i == adviseHotspots {
			break
		}
		suggestions = append(suggestions, hotspotSuggestions(h, in.Extract)...)
	}
	suggestions = append(suggestions, memorySuggestions(in.Issues)...)
	if s.Enrich.Enabled() && len(in.Hotspots) > 0 {
		suggestions = append(suggestions, s.enrichedSuggestions(ctx, in)...)
	}

	suggestions = dedupeSuggestions(suggestions)
	out := t.AdviseOut{
		Suggestions: suggestions,
		Report:      renderReport(in, suggestions),
	}
	log.Printf("[advise] done: %d suggestions", len(suggestions))
	return out, nil
}

// hotspotSuggestions derives loop- and fan-out suggestions from one ranked
// hotspot.
func hotspotSuggestions(h t.Hotspot, extract t.ExtractOut) []t.Suggestion {
	fn, ok := extract.FuncByName(h.Function)
	if !ok {
		return nil
	}
	var suggestions []t.Suggestion
	if len(fn.Loops) >= 2 {
		suggestions = append(suggestions, t.Suggestion{
			Target:              fn.Name,
			Priority:            t.SeverityMedium,
			Category:            "loop",
			Problem:             fmt.Sprintf("function contains %d loops with likely optimization headroom", len(fn.Loops)),
			Solution:            "check whether the loops can be fused and whether invariant computations can move out of the loop",
			ExpectedImprovement: "less loop overhead and fewer memory accesses",
		})
	}
	if len(fn.Callees) >= 8 {
		suggestions = append(suggestions, t.Suggestion{
			Target:              fn.Name,
			Priority:            t.SeverityMedium,
			Category:            "cache",
			Problem:             fmt.Sprintf("function calls out to %d other functions; frequent small calls and repeated work are likely", len(fn.Callees)),
			Solution:            "cache intermediate results where possible, batch fine-grained calls, drop redundant bounds checks and logging",
			ExpectedImprovement: "lower call overhead and less repeated computation",
		})
	}
	return suggestions
}

func memorySuggestions(issues []t.MemoryIssue) []t.Suggestion {
	var suggestions []t.Suggestion
	for i, issue := range issues {
		if i == adviseMemoryIssues {
			break
		}
		target := t.Location(issue.File, issue.Line)
		switch issue.Kind {
		case t.IssuePotentialLeak:
			suggestions = append(suggestions, t.Suggestion{
				Target:              target,
				Priority:            t.SeverityHigh,
				Category:            "memory",
				Problem:             issue.Description,
				Solution:            issue.Suggestion,
				ExpectedImprovement: "eliminates the memory leak",
			})
		case t.IssueMissingNullCheck:
			suggestions = append(suggestions, t.Suggestion{
				Target:              target,
				Priority:            t.SeverityMedium,
				Category:            "memory",
				Problem:             issue.Description,
				Solution:            issue.Suggestion,
				CodeBefore:          nullCheckBefore,
				CodeAfter:           nullCheckAfter,
				ExpectedImprovement: "more robust error handling",
			})
		}
	}
	return suggestions
}

func (s *Advise) enrichedSuggestions(ctx context.Context, in t.AdviseIn) []t.Suggestion {
	var b strings.Builder
	b.WriteString("## Hotspot functions\n")
	for i, h := range in.Hotspots {
		if i == adviseCandidates {
			break
		}
		fn, ok := in.Extract.FuncByName(h.Function)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n### %s [%s]\n", h.Function, strings.ToUpper(h.Severity))
		fmt.Fprintf(&b, "Location: %s:%d\n", h.File, h.Line)
		fmt.Fprintf(&b, "Root cause: %s\n", h.RootCause)
		fmt.Fprintf(&b, "```%s\n%s\n```\n", in.Language, truncate(fn.Snippet, 1000))
	}
	if in.Profiling != nil && len(in.Profiling.Samples) > 0 {
		b.WriteString("\n## Profiling summary\n")
		fmt.Fprintf(&b, "- Total time: %s\n", in.Profiling.ElapsedTime)
		for i, sample := range in.Profiling.Samples {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "- %s: %.1f%%\n", sample.Function, sample.Percent)
		}
	}

	type response struct {
		Target              string `json:"target"`
		Priority            string `json:"priority"`
		Category            string `json:"category"`
		Problem             string `json:"problem"`
		Solution            string `json:"solution"`
		CodeBefore          string `json:"code_before"`
		CodeAfter           string `json:"code_after"`
		ExpectedImprovement string `json:"expected_improvement"`
	}
	found, ok := enrich.Call[[]response](ctx, s.Enrich, "advise", promptAdvise, map[string]any{
		"context": b.String(),
	})
	if !ok {
		return nil
	}

	var suggestions []t.Suggestion
	for _, r := range found {
		if r.Target == "" {
			continue
		}
		category := r.Category
		if category == "" {
			category = "other"
		}
		suggestions = append(suggestions, t.Suggestion{
			Target:              r.Target,
			Priority:            normalizeSeverity(r.Priority, t.SeverityMedium),
			Category:            category,
			Problem:             r.Problem,
			Solution:            r.Solution,
			CodeBefore:          r.CodeBefore,
			CodeAfter:           r.CodeAfter,
			ExpectedImprovement: r.ExpectedImprovement,
		})
	}
	log.Printf("[advise] enrichment contributed %d suggestions", len(suggestions))
	return suggestions
}

// dedupeSuggestions keeps the first entry per (target, category) and sorts
// by priority tier, stable within each tier.
func dedupeSuggestions(suggestions []t.Suggestion) []t.Suggestion {
	type sugKey struct {
		target   string
		category string
	}
	seen := map[sugKey]bool{}
	var out []t.Suggestion
	for _, s := range suggestions {
		k := sugKey{s.Target, s.Category}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	tier := map[string]int{t.SeverityHigh: 0, t.SeverityMedium: 1, t.SeverityLow: 2}
	sort.SliceStable(out, func(i, j int) bool {
		ti, ok := tier[out[i].Priority]
		if !ok {
			ti = 3
		}
		tj, ok := tier[out[j].Priority]
		if !ok {
			tj = 3
		}
		return ti < tj
	})
	return out
}
