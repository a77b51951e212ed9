// Package pipeline implements the analysis stages: structural extraction,
// algorithm identification, complexity estimation, memory checks, optional
// profiling, hotspot fusion and optimization advice. Each stage is a small
// struct with a Run method over typed in/out records; Run wires them into a
// DAG. Stage-internal trouble (unreadable file, pattern mismatch, enrichment
// failure) is logged and absorbed, never fatal.
package pipeline

import (
	"context"
	"log"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"perflens/internal/cache"
	"perflens/internal/rules"
	"perflens/internal/safeio"
	t "perflens/internal/types"
)

const (
	// maxFilesPerRun bounds one extraction pass; extra files are skipped
	// with a log line, not an error.
	maxFilesPerRun = 10
	// maxSnippetLen bounds the stored code excerpt per function.
	maxSnippetLen = 1500
	// maxBodyScanLines bounds the block-terminator scan for one function
	// body. A body still open after this many lines is treated like an
	// unterminated block: best-effort span, warning logged.
	maxBodyScanLines = 5000
	// maxLoopCodeLen bounds the matched text stored per loop occurrence.
	maxLoopCodeLen = 100
)

// Extract scans source files with the per-language structural patterns and
// builds the function/data-structure inventories and the call graph.
type Extract struct {
	FS    *safeio.SafeFS
	Rules *rules.Compiled
	Cache cache.Store // optional; nil disables caching
}

func (s *Extract) Run(ctx context.Context, in t.ExtractIn) (t.ExtractOut, error) {
	rs := s.Rules
	if rs == nil {
		var err error
		if rs, err = rules.Default(); err != nil {
			return t.ExtractOut{}, err
		}
	}
	lang, ok := rs.Language(in.Language)
	if !ok {
		log.Printf("[extract] unsupported language %q, nothing to do", in.Language)
		return t.ExtractOut{}, nil
	}

	files := in.Files
	if len(files) > maxFilesPerRun {
		log.Printf("[extract] %d files given, scanning the first %d", len(files), maxFilesPerRun)
		files = files[:maxFilesPerRun]
	}

	var keyed []cache.KeyedFile
	contents := make(map[string][]byte, len(files))
	for _, path := range files {
		data, err := s.FS.SafeReadFile(path)
		if err != nil {
			log.Printf("[extract] skip %s: %v", path, err)
			continue
		}
		contents[path] = data
		keyed = append(keyed, cache.KeyedFile{Path: path, Content: data})
	}

	var key string
	if s.Cache != nil && len(keyed) > 0 {
		key = cache.Key(in.Language, keyed)
		if hit, ok, err := cache.GetJSON[t.ExtractOut](ctx, s.Cache, key); err != nil {
			log.Printf("[extract] cache read failed: %v", err)
		} else if ok {
			log.Printf("[extract] cache hit (%d functions)", len(hit.Functions))
			return hit, nil
		}
	}

	out := t.ExtractOut{CallGraph: map[string][]string{}}
	for _, path := range files {
		data, ok := contents[path]
		if !ok {
			continue
		}
		s.scanFile(&out, rs, lang, path, string(data))
	}
	if len(out.CallGraph) == 0 {
		out.CallGraph = nil
	}
	log.Printf("[extract] done: %d functions, %d data structures", len(out.Functions), len(out.DataStructures))

	if s.Cache != nil && key != "" {
		if err := cache.PutJSON(ctx, s.Cache, key, out); err != nil {
			log.Printf("[extract] cache write failed: %v", err)
		}
	}
	return out, nil
}

func (s *Extract) scanFile(out *t.ExtractOut, rs *rules.Compiled, lang *rules.CompiledLanguage, path, content string) {
	for _, m := range lang.FunctionRE.FindAllStringSubmatchIndex(content, -1) {
		name := group(content, m, lang.NameGroup)
		if name == "" || rs.Keywords[name] {
			// A control keyword in name position means the pattern
			// caught an `else if (...)` style construct, not a
			// definition.
			continue
		}
		startLine := lineAt(content, m[0])
		body, bodyEnd, terminated := functionBody(lang, content, m[0], m[1])
		if !terminated {
			log.Printf("[extract] %s:%d: unterminated block for %q, using best-effort span", path, startLine, name)
		}
		endLine := startLine
		if bodyEnd > m[0] {
			endLine = lineAt(content, bodyEnd-1)
		}

		callees := findCallees(rs, body)
		bodyBase := lineAt(content, m[1])
		loops := findLoops(lang, body, bodyBase)

		fn := t.Function{
			Name:       name,
			File:       path,
			StartLine:  startLine,
			EndLine:    endLine,
			Params:     splitParams(group(content, m, lang.ParamsGroup)),
			ReturnType: strings.Trim(group(content, m, lang.ReturnGroup), "() \t"),
			Callees:    callees,
			Loops:      loops,
			Recursive:  contains(callees, name),
			Snippet:    truncate(content[m[0]:bodyEnd], maxSnippetLen),
		}
		out.Functions = append(out.Functions, fn)
		out.CallGraph[name] = callees
	}

	if lang.AggregateRE != nil {
		for _, m := range lang.AggregateRE.FindAllStringSubmatchIndex(content, -1) {
			name := "anonymous"
			for _, g := range lang.AggregateNameGroups {
				if v := group(content, m, g); v != "" {
					name = v
					break
				}
			}
			out.DataStructures = append(out.DataStructures, t.DataStructureDecl{
				Name: name,
				Kind: lang.AggregateKind,
				File: path,
				Line: lineAt(content, m[0]),
				Size: "static",
			})
		}
	}

	if rs.ArrayDecl != nil {
		for _, m := range rs.ArrayDecl.FindAllStringSubmatchIndex(content, -1) {
			typ := group(content, m, 1)
			if rs.Keywords[typ] {
				continue // `in arr[i]` and friends, not a declaration
			}
			out.DataStructures = append(out.DataStructures, t.DataStructureDecl{
				Name: group(content, m, 2),
				Kind: "array",
				File: path,
				Line: lineAt(content, m[0]),
				Size: arraySize(group(content, m, 3)),
			})
		}
	}
}

// functionBody returns the body text after the matched signature, the offset
// just past the body, and whether a terminator was found before EOF or the
// scan cap.
func functionBody(lang *rules.CompiledLanguage, content string, matchStart, matchEnd int) (string, int, bool) {
	if lang.Block == "indent" {
		end, ok := indentBodyEnd(content, matchStart, matchEnd)
		return content[matchEnd:end], end, ok
	}
	end, ok := braceBodyEnd(content, matchEnd)
	return content[matchEnd:end], end, ok
}

// braceBodyEnd balances braces from just past the opening one (the function
// pattern consumes it) until depth returns to zero.
func braceBodyEnd(content string, from int) (int, bool) {
	depth, lines := 1, 0
	for i := from; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		case '\n':
			lines++
			if lines >= maxBodyScanLines {
				return i, false
			}
		}
	}
	return len(content), false
}

// indentBodyEnd walks lines after the definition until one appears at the
// definition's indent level or shallower. Running off the end of file is the
// normal termination for an indented block, not a parse failure.
func indentBodyEnd(content string, matchStart, matchEnd int) (int, bool) {
	defIndent := indentWidth(content, lineStart(content, matchStart))
	// Start at the line following the signature.
	pos := matchEnd
	if nl := strings.IndexByte(content[pos:], '\n'); nl >= 0 {
		pos += nl + 1
	} else {
		return len(content), true
	}
	end := pos
	for lines := 0; pos < len(content); lines++ {
		if lines >= maxBodyScanLines {
			return end, false
		}
		lineEnd := len(content)
		if nl := strings.IndexByte(content[pos:], '\n'); nl >= 0 {
			lineEnd = pos + nl
		}
		line := content[pos:lineEnd]
		if strings.TrimSpace(line) != "" {
			if indentWidth(content, pos) <= defIndent {
				return end, true
			}
			end = lineEnd
		}
		if lineEnd == len(content) {
			break
		}
		pos = lineEnd + 1
	}
	return end, true
}

func lineStart(content string, pos int) int {
	if nl := strings.LastIndexByte(content[:pos], '\n'); nl >= 0 {
		return nl + 1
	}
	return 0
}

func indentWidth(content string, lineStart int) int {
	w := 0
	for i := lineStart; i < len(content); i++ {
		switch content[i] {
		case ' ':
			w++
		case '\t':
			w += 8
		default:
			return w
		}
	}
	return w
}

// lineAt is the 1-based line number of the byte at pos.
func lineAt(content string, pos int) int {
	if pos > len(content) {
		pos = len(content)
	}
	return 1 + strings.Count(content[:pos], "\n")
}

// group extracts capture group g from a FindAllStringSubmatchIndex match.
func group(content string, m []int, g int) string {
	if g <= 0 || 2*g+1 >= len(m) || m[2*g] < 0 {
		return ""
	}
	return content[m[2*g]:m[2*g+1]]
}

func findCallees(rs *rules.Compiled, body string) []string {
	if rs.Call == nil {
		return nil
	}
	seen := map[string]bool{}
	for _, m := range rs.Call.FindAllStringSubmatch(body, -1) {
		name := m[1]
		if name == "" || rs.Keywords[name] || seen[name] {
			continue
		}
		seen[name] = true
	}
	if len(seen) == 0 {
		return nil
	}
	callees := make([]string, 0, len(seen))
	for name := range seen {
		callees = append(callees, name)
	}
	sort.Strings(callees)
	return callees
}

func findLoops(lang *rules.CompiledLanguage, body string, bodyBase int) []t.Loop {
	var loops []t.Loop
	collect := func(kind string, re *regexp.Regexp) {
		if re == nil {
			return
		}
		for _, m := range re.FindAllStringIndex(body, -1) {
			loops = append(loops, t.Loop{
				Kind: kind,
				Line: bodyBase + strings.Count(body[:m[0]], "\n"),
				Code: truncate(body[m[0]:m[1]], maxLoopCodeLen),
			})
		}
	}
	collect("for", lang.LoopForRE)
	collect("while", lang.LoopWhileRE)
	sort.SliceStable(loops, func(i, j int) bool { return loops[i].Line < loops[j].Line })
	return loops
}

func splitParams(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "void" {
		return nil
	}
	var params []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			params = append(params, p)
		}
	}
	return params
}

func arraySize(lit string) string {
	switch {
	case lit == "":
		return "dynamic"
	case isDigits(lit):
		return "static:" + lit
	default:
		return "unknown"
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func contains(sorted []string, v string) bool {
	i := sort.SearchStrings(sorted, v)
	return i < len(sorted) && sorted[i] == v
}

// truncate cuts s to at most max bytes, backing off so a multibyte
// rune is never split.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
