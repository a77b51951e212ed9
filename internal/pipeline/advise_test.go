package pipeline

import (
	"context"
	"strings"
	"testing"

	"perflens/internal/enrich"
	"perflens/internal/llm"
	"perflens/internal/tester"
	types "perflens/internal/types"
)

func runAdvise(t *testing.T, svc *enrich.Service, in types.AdviseIn) types.AdviseOut {
	t.Helper()
	adv := &Advise{Enrich: svc}
	out, err := adv.Run(context.Background(), in)
	tester.NoErr(t, err)
	return out
}

func adviseFixture() types.AdviseIn {
	fn := loopedFunc("churn", 2)
	fn.Callees = []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	return types.AdviseIn{
		Project:  "/tmp/proj",
		Language: "c",
		Extract:  types.ExtractOut{Functions: []types.Function{fn}},
		Hotspots: []types.Hotspot{{Rank: 1, Function: "churn", File: "hot.c", Line: 1, Severity: types.SeverityHigh, RootCause: "nested scan"}},
	}
}

func TestAdviseLoopAndCacheRules(t *testing.T) {
	out := runAdvise(t, nil, adviseFixture())

	byCategory := map[string]types.Suggestion{}
	for _, s := range out.Suggestions {
		byCategory[s.Category] = s
	}
	loop, ok := byCategory["loop"]
	tester.True(t, ok, "two loops must yield a loop suggestion")
	tester.Eq(t, loop.Priority, types.SeverityMedium)
	tester.Eq(t, loop.Target, "churn")

	cache, ok := byCategory["cache"]
	tester.True(t, ok, "eight callees must yield a cache suggestion")
	tester.Eq(t, cache.Priority, types.SeverityMedium)
}

func TestAdviseMemoryRules(t *testing.T) {
	in := types.AdviseIn{
		Project:  "/tmp/proj",
		Language: "c",
		Issues: []types.MemoryIssue{
			{Kind: types.IssuePotentialLeak, Severity: types.SeverityHigh, File: "io.c", Line: 11, Description: "buf leaks", Suggestion: "free buf"},
			{Kind: types.IssueMissingNullCheck, Severity: types.SeverityMedium, File: "io.c", Line: 14, Description: "no check", Suggestion: "check buf"},
		},
	}
	out := runAdvise(t, nil, in)

	tester.Eq(t, len(out.Suggestions), 2)
	// High priority sorts first.
	tester.Eq(t, out.Suggestions[0].Priority, types.SeverityHigh)
	tester.Eq(t, out.Suggestions[0].Category, "memory")
	tester.Eq(t, out.Suggestions[0].Target, "io.c:11")
	tester.Eq(t, out.Suggestions[1].Target, "io.c:14")

	nullFix := out.Suggestions[1]
	tester.True(t, strings.Contains(nullFix.CodeAfter, "NULL"), "null-check fix ships a before/after snippet")
	tester.True(t, nullFix.CodeBefore != "")
}

func TestAdviseDedupeByTargetAndCategory(t *testing.T) {
	in := adviseFixture()
	// A duplicate hotspot for the same function must not double the
	// rule-based suggestions.
	in.Hotspots = append(in.Hotspots, in.Hotspots[0])
	out := runAdvise(t, nil, in)

	seen := map[string]int{}
	for _, s := range out.Suggestions {
		seen[s.Target+"|"+s.Category]++
	}
	for key, n := range seen {
		tester.Eq(t, n, 1, key)
	}
}

func TestAdviseEnrichmentMerge(t *testing.T) {
	fake := llm.NewFakeClient().Set("advise", []map[string]any{
		{
			"target":               "churn",
			"priority":             "high",
			"category":             "parallelization",
			"problem":              "independent row scans run serially",
			"solution":             "split rows across a worker pool",
			"expected_improvement": "near-linear on cores",
		},
		{
			"target": "", // dropped: no target
		},
	})
	out := runAdvise(t, enrich.NewService(fake), adviseFixture())

	var par *types.Suggestion
	for i := range out.Suggestions {
		if out.Suggestions[i].Category == "parallelization" {
			par = &out.Suggestions[i]
		}
	}
	tester.True(t, par != nil, "enriched suggestion must survive the merge")
	tester.Eq(t, par.Priority, types.SeverityHigh)
	tester.Eq(t, out.Suggestions[0].Category, "parallelization") // high tier first
}

func TestReportOmitsProfilingSectionWhenAbsent(t *testing.T) {
	out := runAdvise(t, nil, adviseFixture())
	tester.True(t, strings.Contains(out.Report, "## 1. Project Overview"))
	tester.False(t, strings.Contains(out.Report, "Dynamic Profiling Interpretation"))
	tester.True(t, strings.Contains(out.Report, "Dynamic profiling: disabled"))
	tester.True(t, strings.Contains(out.Report, "## 3. Performance Hotspots"))
	tester.True(t, strings.Contains(out.Report, "## 5. Optimization Suggestions"))
	tester.True(t, strings.Contains(out.Report, "## 6. Summary"))
}

func TestReportCPUBoundVerdict(t *testing.T) {
	in := adviseFixture()
	in.Profiling = &types.ProfilingData{
		ElapsedTime: "1.20s",
		MemoryPeak:  "64 MB",
		Counters:    map[string]string{"cpu_percent": "97%"},
	}
	out := runAdvise(t, nil, in)
	tester.True(t, strings.Contains(out.Report, "## 2. Dynamic Profiling Interpretation"))
	tester.True(t, strings.Contains(out.Report, "clearly CPU bound"))

	in.Profiling.Counters["cpu_percent"] = "25%"
	out = runAdvise(t, nil, in)
	tester.True(t, strings.Contains(out.Report, "possibly I/O bound"))
}

func TestReportSummaryCounts(t *testing.T) {
	in := adviseFixture()
	in.Issues = []types.MemoryIssue{
		{Kind: types.IssuePotentialLeak, Severity: types.SeverityHigh, File: "io.c", Line: 3, Description: "leak"},
	}
	out := runAdvise(t, nil, in)

	tester.True(t, strings.Contains(out.Report, "**1** performance hotspots found"))
	tester.True(t, strings.Contains(out.Report, "**1** memory issues found"))
	tester.True(t, strings.Contains(out.Report, "**1** high-severity memory issues found"))
}
