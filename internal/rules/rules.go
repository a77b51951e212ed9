// Package rules holds the extraction patterns and the algorithm knowledge
// base, loaded from an embedded TOML table set. Entry order in the TOML is
// the iteration order everywhere, which keeps runs reproducible.
package rules

import (
	_ "embed"
	"fmt"
	"regexp"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed default_rules.toml
var embeddedRules []byte

// Set is the raw decoded rule file.
type Set struct {
	Extract    Extract     `toml:"extract"`
	Languages  []Language  `toml:"language"`
	Algorithms []Algorithm `toml:"algorithm"`
}

// Extract holds language-independent extraction patterns.
type Extract struct {
	Call        string   `toml:"call"`
	Keywords    []string `toml:"keywords"`
	ArrayDecl   string   `toml:"array_decl"`
	ArrayAccess string   `toml:"array_access"`
}

// Language holds the structural patterns for one source language.
type Language struct {
	Name                string   `toml:"name"`
	Extensions          []string `toml:"extensions"`
	Block               string   `toml:"block"` // "brace" or "indent"
	Function            string   `toml:"function"`
	NameGroup           int      `toml:"name_group"`
	ParamsGroup         int      `toml:"params_group"`
	ReturnGroup         int      `toml:"return_group"`
	Aggregate           string   `toml:"aggregate"`
	AggregateNameGroups []int    `toml:"aggregate_name_groups"`
	AggregateKind       string   `toml:"aggregate_kind"`
	LoopFor             string   `toml:"loop_for"`
	LoopWhile           string   `toml:"loop_while"`
	PointerModel        bool     `toml:"pointer_model"`
	Alloc               []string `toml:"alloc"`
	Dealloc             []string `toml:"dealloc"`
	DeallocCheck        []string `toml:"dealloc_check"` // %s = variable
	NullCheck           string   `toml:"null_check"`    // %s = variable
	LargeAlloc          string   `toml:"large_alloc"`
}

// Algorithm is one knowledge-base entry. Indicators and patterns match
// against lowercased names and code.
type Algorithm struct {
	Name       string   `toml:"name"`
	Category   string   `toml:"category"`
	Indicators []string `toml:"indicators"`
	Complexity string   `toml:"complexity"`
	Patterns   []string `toml:"patterns"`
}

// Compiled is a rule set with every pattern compiled.
type Compiled struct {
	Call        *regexp.Regexp
	Keywords    map[string]bool
	ArrayDecl   *regexp.Regexp
	ArrayAccess *regexp.Regexp
	Algorithms  []CompiledAlgorithm

	langs []*CompiledLanguage
	index map[string]*CompiledLanguage
}

type CompiledLanguage struct {
	Language

	FunctionRE   *regexp.Regexp
	AggregateRE  *regexp.Regexp // nil when the language has none
	LoopForRE    *regexp.Regexp
	LoopWhileRE  *regexp.Regexp
	AllocREs     []*regexp.Regexp
	DeallocREs   []*regexp.Regexp
	LargeAllocRE *regexp.Regexp
}

type CompiledAlgorithm struct {
	Algorithm

	PatternREs []*regexp.Regexp
}

// Load decodes and compiles a rule file.
func Load(data []byte) (*Compiled, error) {
	var set Set
	if err := toml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("rules: decode: %w", err)
	}
	c := &Compiled{
		Keywords: make(map[string]bool, len(set.Extract.Keywords)),
		index:    make(map[string]*CompiledLanguage, len(set.Languages)),
	}
	var err error
	if c.Call, err = regexp.Compile(set.Extract.Call); err != nil {
		return nil, fmt.Errorf("rules: call pattern: %w", err)
	}
	if c.ArrayDecl, err = regexp.Compile(set.Extract.ArrayDecl); err != nil {
		return nil, fmt.Errorf("rules: array_decl pattern: %w", err)
	}
	if c.ArrayAccess, err = regexp.Compile(set.Extract.ArrayAccess); err != nil {
		return nil, fmt.Errorf("rules: array_access pattern: %w", err)
	}
	for _, kw := range set.Extract.Keywords {
		c.Keywords[kw] = true
	}
	for _, lang := range set.Languages {
		cl, err := compileLanguage(lang)
		if err != nil {
			return nil, err
		}
		c.langs = append(c.langs, cl)
		c.index[lang.Name] = cl
	}
	for _, alg := range set.Algorithms {
		ca := CompiledAlgorithm{Algorithm: alg}
		for _, p := range alg.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("rules: algorithm %q pattern %q: %w", alg.Name, p, err)
			}
			ca.PatternREs = append(ca.PatternREs, re)
		}
		c.Algorithms = append(c.Algorithms, ca)
	}
	return c, nil
}

func compileLanguage(lang Language) (*CompiledLanguage, error) {
	cl := &CompiledLanguage{Language: lang}
	compile := func(expr, what string) (*regexp.Regexp, error) {
		if expr == "" {
			return nil, nil
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("rules: language %q %s pattern: %w", lang.Name, what, err)
		}
		return re, nil
	}
	var err error
	if cl.FunctionRE, err = compile(lang.Function, "function"); err != nil {
		return nil, err
	}
	if cl.FunctionRE == nil {
		return nil, fmt.Errorf("rules: language %q has no function pattern", lang.Name)
	}
	if cl.AggregateRE, err = compile(lang.Aggregate, "aggregate"); err != nil {
		return nil, err
	}
	if cl.LoopForRE, err = compile(lang.LoopFor, "loop_for"); err != nil {
		return nil, err
	}
	if cl.LoopWhileRE, err = compile(lang.LoopWhile, "loop_while"); err != nil {
		return nil, err
	}
	if cl.LargeAllocRE, err = compile(lang.LargeAlloc, "large_alloc"); err != nil {
		return nil, err
	}
	for _, p := range lang.Alloc {
		re, err := compile(p, "alloc")
		if err != nil {
			return nil, err
		}
		cl.AllocREs = append(cl.AllocREs, re)
	}
	for _, p := range lang.Dealloc {
		re, err := compile(p, "dealloc")
		if err != nil {
			return nil, err
		}
		cl.DeallocREs = append(cl.DeallocREs, re)
	}
	// Validate the %s templates up front so a bad rule file fails at load,
	// not in the middle of an analysis.
	sample := regexp.QuoteMeta("v")
	if lang.NullCheck != "" {
		if _, err := regexp.Compile(fmt.Sprintf(lang.NullCheck, sample)); err != nil {
			return nil, fmt.Errorf("rules: language %q null_check template: %w", lang.Name, err)
		}
	}
	for _, t := range lang.DeallocCheck {
		if _, err := regexp.Compile(fmt.Sprintf(t, sample)); err != nil {
			return nil, fmt.Errorf("rules: language %q dealloc_check template: %w", lang.Name, err)
		}
	}
	return cl, nil
}

var (
	defaultOnce sync.Once
	defaultSet  *Compiled
	defaultErr  error
)

// Default returns the embedded rule set, compiled once.
func Default() (*Compiled, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Load(embeddedRules)
	})
	return defaultSet, defaultErr
}

// Language returns the compiled rules for a language tag; ok is false for
// unsupported languages (the extractor then yields an empty result).
func (c *Compiled) Language(name string) (*CompiledLanguage, bool) {
	cl, ok := c.index[name]
	return cl, ok
}

// Languages returns every supported language in declaration order.
func (c *Compiled) Languages() []*CompiledLanguage {
	return c.langs
}

// Extensions returns the source-file extensions for a language tag, nil for
// unknown tags.
func (c *Compiled) Extensions(lang string) []string {
	if cl, ok := c.index[lang]; ok {
		return cl.Extensions
	}
	return nil
}

// HasNullCheck reports whether code checks variable against the language's
// allocation-failure sentinel anywhere.
func (l *CompiledLanguage) HasNullCheck(code, variable string) bool {
	if l.NullCheck == "" {
		return false
	}
	re, err := regexp.Compile(fmt.Sprintf(l.NullCheck, regexp.QuoteMeta(variable)))
	if err != nil {
		return false
	}
	return re.MatchString(code)
}

// HasDealloc reports whether code releases variable through any of the
// language's deallocation forms.
func (l *CompiledLanguage) HasDealloc(code, variable string) bool {
	q := regexp.QuoteMeta(variable)
	for _, t := range l.DeallocCheck {
		re, err := regexp.Compile(fmt.Sprintf(t, q))
		if err != nil {
			continue
		}
		if re.MatchString(code) {
			return true
		}
	}
	return false
}
