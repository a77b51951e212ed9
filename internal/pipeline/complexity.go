package pipeline

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"perflens/internal/enrich"
	"perflens/internal/rules"
	t "perflens/internal/types"
)

const promptComplexity = `You are a complexity-analysis expert. Derive the precise time and space
complexity of each function below.

For every function give:
1. Time complexity (best, average and worst case)
2. Space complexity (auxiliary and total)
3. The derivation, step by step
4. The performance bottleneck

Return STRICT JSON:
[
  {
    "function_index": 0,
    "time_complexity": {"best": "O(...)", "average": "O(...)", "worst": "O(...)"},
    "space_complexity": {"auxiliary": "O(...)", "total": "O(...)"},
    "derivation": ["step 1", "step 2"],
    "bottleneck": "description"
  }
]

function_index refers to the 0-based order of the functions in the input.`

// complexityCandidates is the cap on functions sent for refinement.
const complexityCandidates = 3

var binarySearchREs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)mid\s*=.*\(.*\+.*\).*[/2]`),
	regexp.MustCompile(`(?i)left.*<.*right`),
	regexp.MustCompile(`(?i)low.*<.*high`),
	regexp.MustCompile(`(?i)>>.*1`),
}

var (
	dynAllocRE   = regexp.MustCompile(`malloc|calloc|new\s+\w+\[`)
	linearSizeRE = regexp.MustCompile(`malloc\s*\(\s*\w+\s*\*`)
	bigLocalRE   = regexp.MustCompile(`\w+\s+\w+\s*\[\s*\d{3,}\s*\]`)
)

// Complexity derives per-function big-O estimates from loop nesting and
// recursion, then optionally refines the richest candidates through the
// enrichment service. A well-formed refinement replaces the static record
// wholesale.
type Complexity struct {
	Rules  *rules.Compiled
	Enrich *enrich.Service
}

func (s *Complexity) Run(ctx context.Context, in t.ComplexityIn) (t.ComplexityOut, error) {
	rs := s.Rules
	if rs == nil {
		var err error
		if rs, err = rules.Default(); err != nil {
			return t.ComplexityOut{}, err
		}
	}
	lang, _ := rs.Language(in.Language)
	log.Printf("[complexity] analyzing %d functions", len(in.Extract.Functions))

	results := make([]t.ComplexityResult, 0, len(in.Extract.Functions))
	for _, fn := range in.Extract.Functions {
		results = append(results, staticComplexity(lang, fn, in.Algorithms))
	}
	if s.Enrich.Enabled() {
		s.refine(ctx, in, results)
	}
	return t.ComplexityOut{Complexities: results}, nil
}

func staticComplexity(lang *rules.CompiledLanguage, fn t.Function, algos []t.AlgorithmMatch) t.ComplexityResult {
	depth := loopDepth(lang, fn.Snippet)

	var timeC string
	switch {
	case depth == 0 && !fn.Recursive:
		timeC = "O(1)"
	case depth == 1:
		timeC = "O(n)"
	case depth == 2:
		timeC = "O(n²)"
	case depth == 3:
		timeC = "O(n³)"
	default:
		timeC = fmt.Sprintf("O(n^%d)", depth)
	}
	if fn.Recursive {
		if halvingPattern(fn.Snippet) {
			timeC = "O(n log n) or O(log n)"
		} else {
			// Conservative flag: unverifiable recursion is assumed
			// worst case.
			timeC = "O(2^n) or O(n!)"
		}
	}
	if matchesAny(binarySearchREs, fn.Snippet) {
		timeC = "O(log n)"
	}

	spaceC := staticSpace(fn)

	derivation := []string{
		fmt.Sprintf("Loop nesting depth: %d", depth),
		fmt.Sprintf("Recursion: %s", yesNo(fn.Recursive)),
		fmt.Sprintf("Loop count: %d", len(fn.Loops)),
	}
	if ref := algorithmReference(fn, algos); ref != "" {
		derivation = append(derivation, ref)
	}

	return t.ComplexityResult{
		Function:   fn.Name,
		File:       fn.File,
		Line:       fn.StartLine,
		Time:       t.TimeComplexity{Best: timeC, Average: timeC, Worst: timeC},
		Space:      t.SpaceComplexity{Auxiliary: spaceC, Total: spaceC},
		Derivation: derivation,
		Bottleneck: bottleneck(fn.Loops),
	}
}

// loopDepth counts the maximum loop nesting in a code excerpt. Brace
// languages balance loop openings against closing braces; indent languages
// track a stack of loop indentation widths.
func loopDepth(lang *rules.CompiledLanguage, code string) int {
	if lang == nil {
		return 0
	}
	opensLoop := func(line string) bool {
		return matchesAt(lang.LoopForRE, line) || matchesAt(lang.LoopWhileRE, line)
	}
	maxDepth := 0
	if lang.Block == "indent" {
		var stack []int
		for _, line := range strings.Split(code, "\n") {
			stripped := strings.TrimSpace(line)
			if stripped == "" {
				continue
			}
			w := indentWidth(line, 0)
			for len(stack) > 0 && stack[len(stack)-1] >= w {
				stack = stack[:len(stack)-1]
			}
			if opensLoop(stripped) {
				stack = append(stack, w)
				maxDepth = max(maxDepth, len(stack))
			}
		}
		return maxDepth
	}
	depth := 0
	for _, line := range strings.Split(code, "\n") {
		stripped := strings.TrimSpace(line)
		switch {
		case opensLoop(stripped):
			depth++
			maxDepth = max(maxDepth, depth)
		case stripped == "}":
			depth = max(0, depth-1)
		}
	}
	return maxDepth
}

// matchesAny reports whether any of the patterns matches code.
func matchesAny(res []*regexp.Regexp, code string) bool {
	for _, re := range res {
		if re.MatchString(code) {
			return true
		}
	}
	return false
}

// matchesAt reports whether re matches at the start of line.
func matchesAt(re *regexp.Regexp, line string) bool {
	if re == nil {
		return false
	}
	loc := re.FindStringIndex(line)
	return loc != nil && loc[0] == 0
}

func halvingPattern(code string) bool {
	lower := strings.ToLower(code)
	return strings.Contains(lower, "mid") || strings.Contains(code, "/2") || strings.Contains(code, ">>1")
}

func staticSpace(fn t.Function) string {
	switch {
	case dynAllocRE.MatchString(fn.Snippet):
		if linearSizeRE.MatchString(fn.Snippet) {
			return "O(n)"
		}
		return "O(1) or O(n)"
	case fn.Recursive:
		return "O(n) (recursion stack)"
	case bigLocalRE.MatchString(fn.Snippet):
		return "O(n)"
	default:
		return "O(1)"
	}
}

func bottleneck(loops []t.Loop) string {
	if len(loops) == 0 {
		return "no obvious bottleneck"
	}
	innermost := loops[0]
	for _, l := range loops[1:] {
		if l.Line > innermost.Line {
			innermost = l
		}
	}
	return fmt.Sprintf("innermost loop (line %d)", innermost.Line)
}

// algorithmReference records the standard complexity of a recognized
// algorithm at this function's location as a derivation step.
func algorithmReference(fn t.Function, algos []t.AlgorithmMatch) string {
	loc := fn.Location()
	for _, a := range algos {
		if a.Location == loc && a.Complexity != "" {
			return fmt.Sprintf("Recognized as %s, typically %s", a.Name, a.Complexity)
		}
	}
	return ""
}

func (s *Complexity) refine(ctx context.Context, in t.ComplexityIn, results []t.ComplexityResult) {
	// Rich-signal candidates in inventory order: recursive or multi-loop.
	type candidate struct {
		idx int
		fn  t.Function
	}
	var cands []candidate
	for i, fn := range in.Extract.Functions {
		if fn.Recursive || len(fn.Loops) > 1 {
			cands = append(cands, candidate{i, fn})
		}
		if len(cands) == complexityCandidates {
			break
		}
	}
	if len(cands) == 0 {
		return
	}

	var b strings.Builder
	for n, c := range cands {
		fmt.Fprintf(&b, "\n### Function %d: %s\n", n+1, c.fn.Name)
		fmt.Fprintf(&b, "Location: %s:%d-%d\n", c.fn.File, c.fn.StartLine, c.fn.EndLine)
		fmt.Fprintf(&b, "Static estimate: time %s, space %s\n",
			results[c.idx].Time.Average, results[c.idx].Space.Auxiliary)
		fmt.Fprintf(&b, "```%s\n%s\n```\n", in.Language, truncate(c.fn.Snippet, 1200))
	}

	type response struct {
		FunctionIndex int               `json:"function_index"`
		Time          t.TimeComplexity  `json:"time_complexity"`
		Space         t.SpaceComplexity `json:"space_complexity"`
		Derivation    []string          `json:"derivation"`
		Bottleneck    string            `json:"bottleneck"`
	}
	refined, ok := enrich.Call[[]response](ctx, s.Enrich, "complexity", promptComplexity, map[string]any{
		"language":  in.Language,
		"functions": b.String(),
	})
	if !ok {
		return
	}

	replaced := 0
	for _, r := range refined {
		if r.FunctionIndex < 0 || r.FunctionIndex >= len(cands) {
			continue
		}
		if !wellFormedComplexity(r.Time, r.Space) {
			log.Printf("[complexity] refinement for index %d incomplete, keeping static result", r.FunctionIndex)
			continue
		}
		c := cands[r.FunctionIndex]
		results[c.idx] = t.ComplexityResult{
			Function:   c.fn.Name,
			File:       c.fn.File,
			Line:       c.fn.StartLine,
			Time:       r.Time,
			Space:      r.Space,
			Derivation: r.Derivation,
			Bottleneck: r.Bottleneck,
		}
		replaced++
	}
	if replaced > 0 {
		log.Printf("[complexity] refinement replaced %d results", replaced)
	}
}

// wellFormedComplexity requires every big-O field; a partial record leaves
// the static result untouched.
func wellFormedComplexity(tc t.TimeComplexity, sc t.SpaceComplexity) bool {
	return tc.Best != "" && tc.Average != "" && tc.Worst != "" &&
		sc.Auxiliary != "" && sc.Total != ""
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
