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

const promptHotspots = `You are a performance-optimization expert. Based on the analysis data
below, determine the performance hotspots in this code.

For each hotspot give:
1. A severity (critical/high/medium/low)
2. A root-cause analysis
3. The exact function

Return STRICT JSON:
[
  {
    "rank": 1,
    "function": "function name",
    "severity": "critical/high/medium/low",
    "root_cause": "detailed root-cause analysis"
  }
]`

const (
	// maxHotspots is the size of the final ranked list.
	maxHotspots = 10
	// hotspotCandidates is how many top-scored functions go to enrichment.
	hotspotCandidates = 5
	// bigFunctionLen is the excerpt length above which a function scores
	// as oversized.
	bigFunctionLen = 1000
)

// scored is one function's fused rating; static keeps the pre-fusion
// component for the report.
type scored struct {
	name   string
	score  float64
	static float64
}

// Hotspots fuses static scores with dynamic profiling samples and ranks the
// likely costly functions.
type Hotspots struct {
	Enrich *enrich.Service
}

func (s *Hotspots) Run(ctx context.Context, in t.HotspotIn) (t.HotspotOut, error) {
	log.Printf("[hotspots] scoring %d functions", len(in.Extract.Functions))

	top := topScored(in, hotspotCandidates)
	if len(top) == 0 {
		return t.HotspotOut{}, nil
	}

	hotspots, enriched := s.enrichedHotspots(ctx, in, top)
	if !enriched {
		hotspots = bandedHotspots(in, top)
	}

	sort.SliceStable(hotspots, func(i, j int) bool { return hotspots[i].Rank < hotspots[j].Rank })
	if len(hotspots) > maxHotspots {
		hotspots = hotspots[:maxHotspots]
	}
	for i := range hotspots {
		hotspots[i].Rank = i + 1
	}
	log.Printf("[hotspots] done: %d hotspots", len(hotspots))
	return t.HotspotOut{Hotspots: hotspots}, nil
}

// staticScores rates every function on loops, recursion, fan-out, size and
// high-severity memory issues in the same file.
func staticScores(fns []t.Function, issues []t.MemoryIssue) map[string]float64 {
	highSeverityFiles := map[string]bool{}
	for _, i := range issues {
		if i.Severity == t.SeverityHigh {
			highSeverityFiles[i.File] = true
		}
	}

	scores := make(map[string]float64, len(fns))
	for _, fn := range fns {
		score := min(float64(len(fn.Loops))*0.2, 1.0)
		if fn.Recursive {
			score += 0.3
		}
		if len(fn.Callees) > 5 {
			score += 0.2
		}
		if len(fn.Snippet) > bigFunctionLen {
			score += 0.2
		}
		if highSeverityFiles[fn.File] {
			score += 0.15
		}
		scores[fn.Name] = score
	}
	return scores
}

func dynamicScores(p *t.ProfilingData) map[string]float64 {
	scores := make(map[string]float64, len(p.Samples))
	for _, s := range p.Samples {
		scores[s.Function] = s.Percent / 100 * 2
	}
	return scores
}

// topScored fuses the static and dynamic signals over the union of
// functions (dynamic weighted higher, missing side zero) and returns the
// strongest n, ties broken by name.
func topScored(in t.HotspotIn, n int) []scored {
	static := staticScores(in.Extract.Functions, in.Issues)
	merged := make(map[string]float64, len(static))
	for name, s := range static {
		merged[name] = s
	}
	if in.Profiling != nil && len(in.Profiling.Samples) > 0 {
		dynamic := dynamicScores(in.Profiling)
		for name := range merged {
			merged[name] = static[name] * 0.4
		}
		for name, d := range dynamic {
			merged[name] += d * 0.6
		}
	}

	ranked := make([]scored, 0, len(merged))
	for _, name := range sortedKeys(merged) {
		ranked = append(ranked, scored{name: name, score: merged[name], static: static[name]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func (s *Hotspots) enrichedHotspots(ctx context.Context, in t.HotspotIn, top []scored) ([]t.Hotspot, bool) {
	if !s.Enrich.Enabled() {
		return nil, false
	}

	var b strings.Builder
	for _, sc := range top {
		fn, ok := in.Extract.FuncByName(sc.name)
		if !ok {
			continue // dynamic-only sample with no extracted body
		}
		fmt.Fprintf(&b, "\n### %s (score: %.2f)\n", fn.Name, sc.score)
		fmt.Fprintf(&b, "Location: %s:%d-%d\n", fn.File, fn.StartLine, fn.EndLine)
		fmt.Fprintf(&b, "Loops: %d, recursive: %v, callees: %d\n", len(fn.Loops), fn.Recursive, len(fn.Callees))
		fmt.Fprintf(&b, "Code:\n```\n%s\n```\n", truncate(fn.Snippet, 800))
	}
	if len(in.Issues) > 0 {
		b.WriteString("\n### Memory issues\n")
		for i, issue := range in.Issues {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "- %s: %s (%s:%d)\n", issue.Kind, issue.Description, issue.File, issue.Line)
		}
	}

	type response struct {
		Rank      int    `json:"rank"`
		Function  string `json:"function"`
		Severity  string `json:"severity"`
		RootCause string `json:"root_cause"`
	}
	found, ok := enrich.Call[[]response](ctx, s.Enrich, "hotspots", promptHotspots, map[string]any{
		"analysis": b.String(),
	})
	if !ok {
		return nil, false
	}

	byName := map[string]scored{}
	for _, sc := range top {
		byName[sc.name] = sc
	}
	var hotspots []t.Hotspot
	for i, r := range found {
		fn, known := in.Extract.FuncByName(r.Function)
		if !known {
			log.Printf("[hotspots] enrichment named unknown function %q, dropped", r.Function)
			continue
		}
		rank := r.Rank
		if rank <= 0 {
			rank = i + 1
		}
		sc := byName[fn.Name]
		h := t.Hotspot{
			Rank:        rank,
			Function:    fn.Name,
			File:        fn.File,
			Line:        fn.StartLine,
			Severity:    normalizeSeverity(r.Severity, bandSeverity(sc.score)),
			Score:       sc.score,
			StaticScore: sc.static,
			RootCause:   r.RootCause,
		}
		attachDynamic(&h, in.Profiling)
		hotspots = append(hotspots, h)
	}
	if len(hotspots) == 0 {
		return nil, false
	}
	log.Printf("[hotspots] enrichment classified %d hotspots", len(hotspots))
	return hotspots, true
}

// bandedHotspots is the deterministic fallback: severity from score bands,
// rank from score order.
func bandedHotspots(in t.HotspotIn, top []scored) []t.Hotspot {
	var hotspots []t.Hotspot
	for _, sc := range top {
		fn, ok := in.Extract.FuncByName(sc.name)
		if !ok {
			continue
		}
		h := t.Hotspot{
			Rank:        len(hotspots) + 1,
			Function:    fn.Name,
			File:        fn.File,
			Line:        fn.StartLine,
			Severity:    bandSeverity(sc.score),
			Score:       sc.score,
			StaticScore: sc.static,
			RootCause:   fmt.Sprintf("score %.2f from static signals (loops, recursion, fan-out, size)", sc.score),
		}
		attachDynamic(&h, in.Profiling)
		hotspots = append(hotspots, h)
	}
	return hotspots
}

func bandSeverity(score float64) string {
	switch {
	case score > 1.5:
		return t.SeverityHigh
	case score > 0.8:
		return t.SeverityMedium
	default:
		return t.SeverityLow
	}
}

func attachDynamic(h *t.Hotspot, p *t.ProfilingData) {
	if p == nil {
		return
	}
	for _, s := range p.Samples {
		if s.Function == h.Function {
			pct := s.Percent
			h.DynamicPercent = &pct
			return
		}
	}
}
