package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"perflens/internal/enrich"
	"perflens/internal/rules"
	t "perflens/internal/types"
)

const promptMemory = `You are a memory-safety expert. Analyze the memory behavior of the code
below.

Look for:
1. Allocation patterns (static vs dynamic, sizes)
2. Memory problems: leaks, double frees, use after free, buffer overflows,
   uninitialized use
3. Allocation efficiency
4. Cache friendliness

Return STRICT JSON with two parts:
{
  "issues": [
    {
      "kind": "problem kind",
      "severity": "high/medium/low",
      "function": "function name",
      "description": "what is wrong",
      "suggestion": "how to fix it"
    }
  ],
  "pattern_summary": "short prose on the overall memory-usage pattern"
}`

// largeIndexThreshold flags literal array indexes beyond this value.
const largeIndexThreshold = 1000

// memoryCandidates caps the functions sent for a deeper enrichment pass.
const memoryCandidates = 5

// allocVocabulary marks functions worth a deeper look.
var allocVocabulary = []string{"malloc", "free", "alloc", "new", "delete", "buffer"}

var knownIssueKinds = map[string]bool{
	t.IssueMissingNullCheck:    true,
	t.IssuePotentialLeak:       true,
	t.IssuePotentialDoubleFree: true,
	t.IssueLargeIndex:          true,
	t.IssueLargeAllocation:     true,
}

// Memory runs the static memory checks per function, correlates allocation
// and deallocation sites across the whole function set, and optionally asks
// the enrichment service for a deeper pass.
type Memory struct {
	Rules  *rules.Compiled
	Enrich *enrich.Service
}

func (s *Memory) Run(ctx context.Context, in t.MemoryIn) (t.MemoryOut, error) {
	rs := s.Rules
	if rs == nil {
		var err error
		if rs, err = rules.Default(); err != nil {
			return t.MemoryOut{}, err
		}
	}
	lang, ok := rs.Language(in.Language)
	if !ok {
		log.Printf("[memory] unsupported language %q, nothing to do", in.Language)
		return t.MemoryOut{}, nil
	}
	log.Printf("[memory] analyzing %d functions", len(in.Extract.Functions))

	var issues []t.MemoryIssue
	for _, fn := range in.Extract.Functions {
		issues = append(issues, staticMemoryCheck(rs, lang, fn)...)
	}
	if lang.PointerModel {
		issues = append(issues, correlateAllocFree(lang, in.Extract.Functions)...)
	}

	var summary string
	if s.Enrich.Enabled() && len(in.Extract.Functions) > 0 {
		var enriched []t.MemoryIssue
		enriched, summary = s.enrichedIssues(ctx, in)
		issues = append(issues, enriched...)
	}

	out := t.MemoryOut{Issues: dedupeIssues(issues), PatternSummary: summary}
	log.Printf("[memory] done: %d issues", len(out.Issues))
	return out, nil
}

func staticMemoryCheck(rs *rules.Compiled, lang *rules.CompiledLanguage, fn t.Function) []t.MemoryIssue {
	var issues []t.MemoryIssue
	code := fn.Snippet

	if lang.PointerModel {
		for _, v := range allocSites(lang, fn) {
			if !lang.HasNullCheck(code, v.name) {
				issues = append(issues, t.MemoryIssue{
					Kind:        t.IssueMissingNullCheck,
					Severity:    t.SeverityMedium,
					File:        fn.File,
					Line:        v.line,
					Function:    fn.Name,
					Description: fmt.Sprintf("allocation result %q is used without a NULL check", v.name),
					Suggestion:  fmt.Sprintf("check %s for NULL before use", v.name),
				})
			}
			if !lang.HasDealloc(code, v.name) {
				issues = append(issues, t.MemoryIssue{
					Kind:        t.IssuePotentialLeak,
					Severity:    t.SeverityHigh,
					File:        fn.File,
					Line:        v.line,
					Function:    fn.Name,
					Description: fmt.Sprintf("%q is allocated but not freed inside the function", v.name),
					Suggestion:  fmt.Sprintf("free %s on every path, or confirm the caller owns it", v.name),
				})
			}
		}
		issues = append(issues, largeIndexCheck(rs, fn)...)
	}

	if lang.LargeAllocRE != nil {
		for _, m := range lang.LargeAllocRE.FindAllStringIndex(code, -1) {
			issues = append(issues, t.MemoryIssue{
				Kind:        t.IssueLargeAllocation,
				Severity:    t.SeverityMedium,
				File:        fn.File,
				Line:        fn.StartLine + strings.Count(code[:m[0]], "\n"),
				Function:    fn.Name,
				Description: "large collection built eagerly may hold excessive memory",
				Suggestion:  "consider a generator, iterator or streaming construction",
			})
		}
	}
	return issues
}

type allocSite struct {
	name string
	line int
}

// allocSites lists the variables assigned from an allocation primitive, in
// order of first appearance. Snippet-relative offsets are translated to file
// lines via the function's start line.
func allocSites(lang *rules.CompiledLanguage, fn t.Function) []allocSite {
	seen := map[string]bool{}
	var sites []allocSite
	for _, re := range lang.AllocREs {
		if re == nil {
			continue
		}
		for _, m := range re.FindAllStringSubmatchIndex(fn.Snippet, -1) {
			name := group(fn.Snippet, m, 1)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			sites = append(sites, allocSite{
				name: name,
				line: fn.StartLine + strings.Count(fn.Snippet[:m[0]], "\n"),
			})
		}
	}
	sort.SliceStable(sites, func(i, j int) bool { return sites[i].line < sites[j].line })
	return sites
}

func largeIndexCheck(rs *rules.Compiled, fn t.Function) []t.MemoryIssue {
	if rs.ArrayAccess == nil {
		return nil
	}
	var issues []t.MemoryIssue
	for _, m := range rs.ArrayAccess.FindAllStringSubmatchIndex(fn.Snippet, -1) {
		idx := strings.TrimSpace(group(fn.Snippet, m, 2))
		n, err := strconv.Atoi(idx)
		if err != nil || n <= largeIndexThreshold {
			continue
		}
		issues = append(issues, t.MemoryIssue{
			Kind:        t.IssueLargeIndex,
			Severity:    t.SeverityLow,
			File:        fn.File,
			Line:        fn.StartLine + strings.Count(fn.Snippet[:m[0]], "\n"),
			Function:    fn.Name,
			Description: fmt.Sprintf("array %q indexed with large literal %d", group(fn.Snippet, m, 1), n),
			Suggestion:  "confirm the array is at least that large",
		})
	}
	return issues
}

type siteRef struct {
	file     string
	line     int
	function string
}

// correlateAllocFree pairs allocation and deallocation sites project-wide by
// variable name. A variable allocated but never freed anywhere is a leak
// candidate at each allocation site; one freed at more than one site is a
// double-free candidate at every site after the first.
func correlateAllocFree(lang *rules.CompiledLanguage, fns []t.Function) []t.MemoryIssue {
	allocs := map[string][]siteRef{}
	frees := map[string][]siteRef{}

	for _, fn := range fns {
		for _, re := range lang.AllocREs {
			if re == nil {
				continue
			}
			for _, m := range re.FindAllStringSubmatchIndex(fn.Snippet, -1) {
				v := group(fn.Snippet, m, 1)
				allocs[v] = append(allocs[v], siteRef{
					file:     fn.File,
					line:     fn.StartLine + strings.Count(fn.Snippet[:m[0]], "\n"),
					function: fn.Name,
				})
			}
		}
		for _, re := range lang.DeallocREs {
			if re == nil {
				continue
			}
			for _, m := range re.FindAllStringSubmatchIndex(fn.Snippet, -1) {
				v := group(fn.Snippet, m, 1)
				frees[v] = append(frees[v], siteRef{
					file:     fn.File,
					line:     fn.StartLine + strings.Count(fn.Snippet[:m[0]], "\n"),
					function: fn.Name,
				})
			}
		}
	}

	var issues []t.MemoryIssue
	for _, v := range sortedKeys(allocs) {
		if len(frees[v]) > 0 {
			continue
		}
		for _, site := range allocs[v] {
			issues = append(issues, t.MemoryIssue{
				Kind:        t.IssuePotentialLeak,
				Severity:    t.SeverityHigh,
				File:        site.file,
				Line:        site.line,
				Function:    site.function,
				Description: fmt.Sprintf("%q allocated in %s but never freed in the analyzed set", v, site.function),
				Suggestion:  "confirm the memory is released elsewhere",
			})
		}
	}
	for _, v := range sortedKeys(frees) {
		sites := frees[v]
		if len(sites) < 2 {
			continue
		}
		for _, site := range sites[1:] {
			issues = append(issues, t.MemoryIssue{
				Kind:        t.IssuePotentialDoubleFree,
				Severity:    t.SeverityHigh,
				File:        site.file,
				Line:        site.line,
				Function:    site.function,
				Description: fmt.Sprintf("%q may be freed more than once", v),
				Suggestion:  "make sure each pointer is freed exactly once",
			})
		}
	}
	return issues
}

func (s *Memory) enrichedIssues(ctx context.Context, in t.MemoryIn) ([]t.MemoryIssue, string) {
	var cands []t.Function
	for _, fn := range in.Extract.Functions {
		lower := strings.ToLower(fn.Snippet)
		for _, kw := range allocVocabulary {
			if strings.Contains(lower, kw) {
				cands = append(cands, fn)
				break
			}
		}
		if len(cands) == memoryCandidates {
			break
		}
	}
	if len(cands) == 0 {
		cands = in.Extract.Functions
		if len(cands) > 3 {
			cands = cands[:3]
		}
	}

	var b strings.Builder
	for _, fn := range cands {
		fmt.Fprintf(&b, "\n### %s (%s:%d)\n", fn.Name, fn.File, fn.StartLine)
		fmt.Fprintf(&b, "```%s\n%s\n```\n", in.Language, truncate(fn.Snippet, 1000))
	}

	type response struct {
		Issues []struct {
			Kind        string `json:"kind"`
			Severity    string `json:"severity"`
			Function    string `json:"function"`
			Description string `json:"description"`
			Suggestion  string `json:"suggestion"`
		} `json:"issues"`
		PatternSummary string `json:"pattern_summary"`
	}
	resp, ok := enrich.Call[response](ctx, s.Enrich, "memory", promptMemory, map[string]any{
		"language": in.Language,
		"code":     b.String(),
	})
	if !ok {
		return nil, ""
	}

	var issues []t.MemoryIssue
	for _, r := range resp.Issues {
		fn, known := in.Extract.FuncByName(r.Function)
		if !known {
			log.Printf("[memory] enrichment named unknown function %q, dropped", r.Function)
			continue
		}
		issues = append(issues, t.MemoryIssue{
			Kind:        normalizeKind(r.Kind),
			Severity:    normalizeSeverity(r.Severity, t.SeverityMedium),
			File:        fn.File,
			Line:        fn.StartLine,
			Function:    fn.Name,
			Description: r.Description,
			Suggestion:  r.Suggestion,
		})
	}
	log.Printf("[memory] enrichment contributed %d issues", len(issues))
	return issues, strings.TrimSpace(resp.PatternSummary)
}

// normalizeKind maps a free-form kind label onto the known set, falling back
// to "other".
func normalizeKind(kind string) string {
	k := strings.ReplaceAll(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(kind)), "-", "_"), " ", "_")
	if knownIssueKinds[k] {
		return k
	}
	return t.IssueOther
}

func normalizeSeverity(severity, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case t.SeverityCritical:
		return t.SeverityCritical
	case t.SeverityHigh:
		return t.SeverityHigh
	case t.SeverityMedium:
		return t.SeverityMedium
	case t.SeverityLow:
		return t.SeverityLow
	default:
		return fallback
	}
}

// dedupeIssues keeps the first issue per (kind, file, line), preserving
// input order.
func dedupeIssues(issues []t.MemoryIssue) []t.MemoryIssue {
	seen := map[t.IssueKey]bool{}
	var out []t.MemoryIssue
	for _, i := range issues {
		k := i.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, i)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
