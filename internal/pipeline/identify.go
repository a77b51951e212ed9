package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"perflens/internal/enrich"
	"perflens/internal/rules"
	t "perflens/internal/types"
)

const promptIdentify = `You are an algorithms expert. Analyze the code below and identify the
algorithms and data-structure patterns it uses.

Look for:
1. Sorting (bubble, quick, merge, heap, ...)
2. Searching (linear, binary, hash, ...)
3. Graph algorithms (BFS, DFS, Dijkstra, ...)
4. Dynamic programming
5. Cache policies (LRU, LFU, FIFO, ...)
6. Flash-translation-layer logic (garbage collection, wear leveling, address mapping)
7. Other classic algorithms

For every algorithm found, give its name, category, a confidence in [0,1],
the containing function, the evidence, and the standard complexity.

Return STRICT JSON:
[
  {
    "name": "algorithm name",
    "category": "category",
    "confidence": 0.85,
    "function": "function name",
    "evidence": ["evidence 1", "evidence 2"],
    "complexity": "O(...)"
  }
]

Return an empty array [] when no clear algorithm is present.`

// identifyCandidates is the cap on functions sent for a second opinion.
const identifyCandidates = 5

// Identify matches extracted functions against the algorithm knowledge base
// and optionally asks the enrichment service for a second opinion.
type Identify struct {
	Rules  *rules.Compiled
	Enrich *enrich.Service
}

func (s *Identify) Run(ctx context.Context, in t.IdentifyIn) (t.IdentifyOut, error) {
	rs := s.Rules
	if rs == nil {
		var err error
		if rs, err = rules.Default(); err != nil {
			return t.IdentifyOut{}, err
		}
	}
	log.Printf("[identify] matching %d functions against %d known algorithms",
		len(in.Extract.Functions), len(rs.Algorithms))

	var matches []t.AlgorithmMatch
	for _, fn := range in.Extract.Functions {
		matches = append(matches, patternMatch(rs, fn)...)
	}
	if s.Enrich.Enabled() && len(in.Extract.Functions) > 0 {
		matches = append(matches, s.enrichedMatches(ctx, in)...)
	}

	out := t.IdentifyOut{Algorithms: dedupeMatches(matches)}
	log.Printf("[identify] done: %d algorithm matches", len(out.Algorithms))
	return out, nil
}

// patternMatch scores one function against every knowledge-base entry.
func patternMatch(rs *rules.Compiled, fn t.Function) []t.AlgorithmMatch {
	var matches []t.AlgorithmMatch
	code := strings.ToLower(fn.Snippet)
	name := strings.ToLower(fn.Name)

	for _, algo := range rs.Algorithms {
		confidence := 0.0
		var evidence []string

		for _, ind := range algo.Indicators {
			if strings.Contains(name, strings.ToLower(ind)) {
				confidence += 0.3
				evidence = append(evidence, "function name contains keyword")
				break
			}
		}
		for i, re := range algo.PatternREs {
			if re.MatchString(code) {
				confidence += 0.2
				evidence = append(evidence, "matched pattern: "+truncate(algo.Patterns[i], 30))
			}
		}
		hits := 0
		for _, ind := range algo.Indicators {
			if strings.Contains(code, strings.ToLower(ind)) {
				hits++
			}
		}
		if hits > 0 {
			confidence += 0.1 * float64(min(hits, 3))
			evidence = append(evidence, fmt.Sprintf("found %d indicator words", hits))
		}

		if confidence >= 0.3 {
			matches = append(matches, t.AlgorithmMatch{
				Name:       titleCase(algo.Name),
				Category:   algo.Category,
				Confidence: min(confidence, 1.0),
				Function:   fn.Name,
				Location:   fn.Location(),
				Evidence:   evidence,
				Complexity: algo.Complexity,
			})
		}
	}
	return matches
}

func (s *Identify) enrichedMatches(ctx context.Context, in t.IdentifyIn) []t.AlgorithmMatch {
	cands := rankBySignal(in.Extract.Functions, identifyCandidates)

	var b strings.Builder
	for _, fn := range cands {
		fmt.Fprintf(&b, "\n### Function: %s\n", fn.Name)
		fmt.Fprintf(&b, "Location: %s:%d-%d\n", fn.File, fn.StartLine, fn.EndLine)
		fmt.Fprintf(&b, "Loops: %d, recursive: %v\n", len(fn.Loops), fn.Recursive)
		fmt.Fprintf(&b, "```%s\n%s\n```\n", in.Language, truncate(fn.Snippet, 1000))
	}

	type response struct {
		Name       string   `json:"name"`
		Category   string   `json:"category"`
		Confidence float64  `json:"confidence"`
		Function   string   `json:"function"`
		Evidence   []string `json:"evidence"`
		Complexity string   `json:"complexity"`
	}
	found, ok := enrich.Call[[]response](ctx, s.Enrich, "identify", promptIdentify, map[string]any{
		"language": in.Language,
		"code":     b.String(),
	})
	if !ok {
		return nil
	}

	var matches []t.AlgorithmMatch
	for _, r := range found {
		fn, known := in.Extract.FuncByName(r.Function)
		if !known {
			log.Printf("[identify] enrichment named unknown function %q, dropped", r.Function)
			continue
		}
		name := r.Name
		if name == "" {
			name = "Unknown"
		}
		category := r.Category
		if category == "" {
			category = "other"
		}
		matches = append(matches, t.AlgorithmMatch{
			Name:       name,
			Category:   category,
			Confidence: clamp01(r.Confidence),
			Function:   fn.Name,
			Location:   fn.Location(),
			Evidence:   r.Evidence,
			Complexity: r.Complexity,
		})
	}
	log.Printf("[identify] enrichment contributed %d matches", len(matches))
	return matches
}

// rankBySignal orders functions by loop count x2 + recursion x3 and returns
// the strongest n.
func rankBySignal(fns []t.Function, n int) []t.Function {
	ranked := make([]t.Function, len(fns))
	copy(ranked, fns)
	signal := func(f t.Function) int {
		s := len(f.Loops) * 2
		if f.Recursive {
			s += 3
		}
		return s
	}
	sort.SliceStable(ranked, func(i, j int) bool { return signal(ranked[i]) > signal(ranked[j]) })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// dedupeMatches keeps the higher-confidence entry per (lowercased name,
// location) and orders the result by confidence, name, location.
func dedupeMatches(matches []t.AlgorithmMatch) []t.AlgorithmMatch {
	type matchKey struct {
		name string
		loc  string
	}
	best := map[matchKey]t.AlgorithmMatch{}
	for _, m := range matches {
		k := matchKey{strings.ToLower(m.Name), m.Location}
		if prev, ok := best[k]; !ok || m.Confidence > prev.Confidence {
			best[k] = m
		}
	}
	if len(best) == 0 {
		return nil
	}
	out := make([]t.AlgorithmMatch, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Location < out[j].Location
	})
	return out
}

// titleCase renders a knowledge-base key like "bubble_sort" as "Bubble Sort".
func titleCase(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
