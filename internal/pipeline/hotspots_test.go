package pipeline

import (
	"context"
	"math"
	"strings"
	"testing"

	"perflens/internal/enrich"
	"perflens/internal/llm"
	"perflens/internal/tester"
	types "perflens/internal/types"
)

func loopedFunc(name string, loops int) types.Function {
	fn := synthFunc(name, "hot.c", 1, "")
	for i := 0; i < loops; i++ {
		fn.Loops = append(fn.Loops, types.Loop{Kind: "for", Line: i + 2})
	}
	return fn
}

func runHotspots(t *testing.T, svc *enrich.Service, in types.HotspotIn) []types.Hotspot {
	t.Helper()
	hs := &Hotspots{Enrich: svc}
	out, err := hs.Run(context.Background(), in)
	tester.NoErr(t, err)
	return out.Hotspots
}

func TestHotspotStaticScoreComponents(t *testing.T) {
	fn := loopedFunc("churn", 2) // 0.4
	fn.Recursive = true          // +0.3
	fn.Callees = []string{"a", "b", "c", "d", "e", "f"} // +0.2
	fn.Snippet = strings.Repeat("x", bigFunctionLen+1)  // +0.2
	issues := []types.MemoryIssue{{Kind: types.IssuePotentialLeak, Severity: types.SeverityHigh, File: "hot.c", Line: 3}} // +0.15

	scores := staticScores([]types.Function{fn}, issues)
	tester.True(t, math.Abs(scores["churn"]-1.25) < 1e-9)
}

func TestHotspotLoopScoreCaps(t *testing.T) {
	scores := staticScores([]types.Function{loopedFunc("spin", 9)}, nil)
	tester.Eq(t, scores["spin"], 1.0)
}

func TestHotspotRankingMonotonic(t *testing.T) {
	base := runHotspots(t, nil, types.HotspotIn{
		Extract: types.ExtractOut{Functions: []types.Function{loopedFunc("a", 1), loopedFunc("b", 3)}},
	})
	tester.Eq(t, base[0].Function, "b")
	tester.Eq(t, base[0].Rank, 1)
	tester.Eq(t, base[1].Rank, 2)

	// Raising a's loop count (all else fixed) must not worsen its rank.
	more := runHotspots(t, nil, types.HotspotIn{
		Extract: types.ExtractOut{Functions: []types.Function{loopedFunc("a", 4), loopedFunc("b", 3)}},
	})
	tester.Eq(t, more[0].Function, "a")
	tester.True(t, more[0].Score >= base[1].Score)
}

func TestHotspotFusionWeights(t *testing.T) {
	fn := loopedFunc("mix", 2) // static 0.4
	profiling := &types.ProfilingData{
		Samples: []types.HotspotSample{{Function: "mix", Percent: 50}}, // dynamic 1.0
	}
	got := runHotspots(t, nil, types.HotspotIn{
		Extract:   types.ExtractOut{Functions: []types.Function{fn}},
		Profiling: profiling,
	})

	tester.Eq(t, len(got), 1)
	// 0.4x0.4 + 1.0x0.6
	tester.True(t, math.Abs(got[0].Score-0.76) < 1e-9)
	tester.True(t, got[0].DynamicPercent != nil)
	tester.Eq(t, *got[0].DynamicPercent, 50.0)
}

func TestHotspotSeverityBanding(t *testing.T) {
	heavy := loopedFunc("heavy", 6) // capped 1.0
	heavy.Recursive = true
	heavy.Callees = []string{"a", "b", "c", "d", "e", "f"}
	heavy.Snippet = strings.Repeat("y", bigFunctionLen+1) // 1.7
	mid := loopedFunc("mid", 5)                           // 1.0
	light := loopedFunc("light", 1)                       // 0.2

	got := runHotspots(t, nil, types.HotspotIn{
		Extract: types.ExtractOut{Functions: []types.Function{heavy, mid, light}},
	})
	tester.Eq(t, len(got), 3)
	tester.Eq(t, got[0].Severity, types.SeverityHigh)
	tester.Eq(t, got[1].Severity, types.SeverityMedium)
	tester.Eq(t, got[2].Severity, types.SeverityLow)
	tester.True(t, got[0].RootCause != "", "fallback root cause cites the score")
}

func TestHotspotEnrichmentDropsUnknownAndReranks(t *testing.T) {
	fake := llm.NewFakeClient().Set("hotspots", []map[string]any{
		{"rank": 1, "function": "phantom", "severity": "critical", "root_cause": "n/a"},
		{"rank": 2, "function": "b", "severity": "high", "root_cause": "tight nested scan"},
		{"rank": 3, "function": "a", "severity": "bogus", "root_cause": "minor"},
	})
	got := runHotspots(t, enrich.NewService(fake), types.HotspotIn{
		Extract: types.ExtractOut{Functions: []types.Function{loopedFunc("a", 1), loopedFunc("b", 3)}},
	})

	tester.Eq(t, len(got), 2)
	tester.Eq(t, got[0].Function, "b")
	tester.Eq(t, got[0].Rank, 1) // re-indexed after the unknown entry drops
	tester.Eq(t, got[0].Severity, types.SeverityHigh)
	tester.Eq(t, got[0].RootCause, "tight nested scan")
	// Unknown severity labels fall back to the static banding.
	tester.Eq(t, got[1].Severity, bandSeverity(got[1].Score))
}

func TestHotspotEnrichmentFailureFallsBack(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.Err = context.DeadlineExceeded
	got := runHotspots(t, enrich.NewService(fake), types.HotspotIn{
		Extract: types.ExtractOut{Functions: []types.Function{loopedFunc("a", 2)}},
	})
	tester.Eq(t, len(got), 1)
	tester.Eq(t, got[0].Rank, 1)
}

func TestHotspotEmptyInventory(t *testing.T) {
	got := runHotspots(t, nil, types.HotspotIn{})
	tester.Eq(t, len(got), 0)
}
