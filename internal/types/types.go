package types

import (
	"strconv"
	"strings"
)

// Source inventory ---------------------------------------------------------------

// Loop is a single loop occurrence inside a function body.
type Loop struct {
	Kind string `json:"kind"` // "for" or "while"
	Line int    `json:"line"`
	Code string `json:"code,omitempty"` // matched text, truncated
}

// Function is one extracted function definition. Immutable after extraction;
// identity is (File, StartLine, Name).
type Function struct {
	Name       string   `json:"name"`
	File       string   `json:"file"`
	StartLine  int      `json:"start_line"`
	EndLine    int      `json:"end_line"`
	Params     []string `json:"params,omitempty"`
	ReturnType string   `json:"return_type,omitempty"`
	Callees    []string `json:"callees,omitempty"` // sorted, deduplicated
	Loops      []Loop   `json:"loops,omitempty"`
	Recursive  bool     `json:"recursive"`
	Snippet    string   `json:"snippet,omitempty"` // truncated code excerpt
}

// Key returns the identity tuple used by cross-stage index maps.
func (f Function) Key() FuncKey {
	return FuncKey{File: f.File, Line: f.StartLine, Name: f.Name}
}

// Location renders the "file:line" form used in match/suggestion targets.
func (f Function) Location() string {
	return Location(f.File, f.StartLine)
}

type FuncKey struct {
	File string
	Line int
	Name string
}

// DataStructureDecl is an extracted aggregate or array declaration.
// Identity is (File, Line, Name).
type DataStructureDecl struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"` // language aggregate kind ("struct", "class") or "array"
	File       string   `json:"file"`
	Line       int      `json:"line"`
	Size       string   `json:"size,omitempty"` // "static", "static:<n>", "dynamic" or "unknown"
	Operations []string `json:"operations,omitempty"`
}

// Analysis results ---------------------------------------------------------------

// AlgorithmMatch is one recognized algorithmic pattern. Deduplicated by
// (lowercased Name, Location) keeping the higher confidence.
type AlgorithmMatch struct {
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"` // [0,1]
	Function   string   `json:"function"`
	Location   string   `json:"location"` // "file:line"
	Evidence   []string `json:"evidence,omitempty"`
	Complexity string   `json:"complexity,omitempty"` // reference complexity
}

type TimeComplexity struct {
	Best    string `json:"best"`
	Average string `json:"average"`
	Worst   string `json:"worst"`
}

type SpaceComplexity struct {
	Auxiliary string `json:"auxiliary"`
	Total     string `json:"total"`
}

// ComplexityResult is the per-function complexity estimate. Refinement
// replaces the whole record, never patches fields.
type ComplexityResult struct {
	Function   string          `json:"function"`
	File       string          `json:"file"`
	Line       int             `json:"line"`
	Time       TimeComplexity  `json:"time_complexity"`
	Space      SpaceComplexity `json:"space_complexity"`
	Derivation []string        `json:"derivation,omitempty"`
	Bottleneck string          `json:"bottleneck,omitempty"`
}

// Memory issue kinds.
const (
	IssueMissingNullCheck    = "missing_null_check"
	IssuePotentialLeak       = "potential_leak"
	IssuePotentialDoubleFree = "potential_double_free"
	IssueLargeIndex          = "large_index"
	IssueLargeAllocation     = "large_allocation"
	IssueOther               = "other"
)

// Severity labels shared by memory issues and hotspots.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// MemoryIssue is one detected memory-safety risk.
// Deduplicated by (Kind, File, Line).
type MemoryIssue struct {
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Function    string `json:"function,omitempty"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

func (i MemoryIssue) Key() IssueKey {
	return IssueKey{Kind: i.Kind, File: i.File, Line: i.Line}
}

type IssueKey struct {
	Kind string
	File string
	Line int
}

// Profiling ----------------------------------------------------------------------

// HotspotSample is one dynamic sample: a function and its share of runtime.
type HotspotSample struct {
	Function string  `json:"function"`
	Percent  float64 `json:"percent"`
}

// ProfilingData is the parsed output of one profiled run. Absent (nil)
// when profiling is disabled or no executable could be resolved.
type ProfilingData struct {
	Tool        string            `json:"tool"`
	ElapsedTime string            `json:"elapsed_time"`
	MemoryPeak  string            `json:"memory_peak"`
	Counters    map[string]string `json:"counters,omitempty"`
	Samples     []HotspotSample   `json:"samples,omitempty"`
}

// CPUPercent parses the cpu_percent counter if present; ok is false otherwise.
func (p *ProfilingData) CPUPercent() (float64, bool) {
	if p == nil || p.Counters == nil {
		return 0, false
	}
	v, ok := p.Counters["cpu_percent"]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Hotspot is one ranked likely-costly function. Rank 1 is the worst.
type Hotspot struct {
	Rank           int      `json:"rank"`
	Function       string   `json:"function"`
	File           string   `json:"file"`
	Line           int      `json:"line"`
	Severity       string   `json:"severity"`
	Score          float64  `json:"score"`        // merged static/dynamic
	StaticScore    float64  `json:"static_score"` // static component
	DynamicPercent *float64 `json:"dynamic_percent,omitempty"`
	RootCause      string   `json:"root_cause,omitempty"`
}

// Suggestion is one optimization recommendation.
// Deduplicated by (Target, Category); sorted by priority tier.
type Suggestion struct {
	Target              string `json:"target"` // function name or "file:line"
	Priority            string `json:"priority"`
	Category            string `json:"category"`
	Problem             string `json:"problem"`
	Solution            string `json:"solution"`
	CodeBefore          string `json:"code_before,omitempty"`
	CodeAfter           string `json:"code_after,omitempty"`
	ExpectedImprovement string `json:"expected_improvement,omitempty"`
}
