package types

import "fmt"

// Location renders the "file:line" identity used in match locations and
// suggestion targets.
func Location(file string, line int) string {
	return fmt.Sprintf("%s:%d", file, line)
}

// Stage inputs/outputs -----------------------------------------------------------

// ExtractIn carries the file set the extractor scans.
type ExtractIn struct {
	Root     string   `json:"root"`
	Files    []string `json:"files"` // relative to Root, input order preserved
	Language string   `json:"language"`
}

// ExtractOut is the structural inventory of the scanned files.
type ExtractOut struct {
	Functions      []Function          `json:"functions,omitempty"`
	DataStructures []DataStructureDecl `json:"data_structures,omitempty"`
	CallGraph      map[string][]string `json:"call_graph,omitempty"`
}

// FuncByName resolves a function by name; ok is false when the name is not
// in the inventory. Enrichment responses naming unknown functions are
// dropped through this lookup.
func (e ExtractOut) FuncByName(name string) (Function, bool) {
	for _, f := range e.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return Function{}, false
}

type IdentifyIn struct {
	Language string     `json:"language"`
	Extract  ExtractOut `json:"extract"`
}

type IdentifyOut struct {
	Algorithms []AlgorithmMatch `json:"algorithms,omitempty"`
}

type ComplexityIn struct {
	Language   string           `json:"language"`
	Extract    ExtractOut       `json:"extract"`
	Algorithms []AlgorithmMatch `json:"algorithms,omitempty"`
}

type ComplexityOut struct {
	Complexities []ComplexityResult `json:"complexities,omitempty"`
}

type MemoryIn struct {
	Language string     `json:"language"`
	Extract  ExtractOut `json:"extract"`
}

type MemoryOut struct {
	Issues []MemoryIssue `json:"issues,omitempty"`
	// PatternSummary is the free-text usage-pattern note from enrichment.
	PatternSummary string `json:"pattern_summary,omitempty"`
}

type ProfileIn struct {
	Root       string   `json:"root"`
	Enable     bool     `json:"enable"`
	Executable string   `json:"executable,omitempty"`
	Args       []string `json:"args,omitempty"`
	WorkDir    string   `json:"work_dir,omitempty"`
}

type ProfileOut struct {
	Data *ProfilingData `json:"data,omitempty"` // nil when not attempted or unavailable
}

type HotspotIn struct {
	Extract   ExtractOut     `json:"extract"`
	Issues    []MemoryIssue  `json:"issues,omitempty"`
	Profiling *ProfilingData `json:"profiling,omitempty"`
}

type HotspotOut struct {
	Hotspots []Hotspot `json:"hotspots,omitempty"`
}

type AdviseIn struct {
	Project        string             `json:"project"`
	Language       string             `json:"language"`
	Extract        ExtractOut         `json:"extract"`
	Hotspots       []Hotspot          `json:"hotspots,omitempty"`
	Issues         []MemoryIssue      `json:"issues,omitempty"`
	Complexities   []ComplexityResult `json:"complexities,omitempty"`
	Profiling      *ProfilingData     `json:"profiling,omitempty"`
	PatternSummary string             `json:"pattern_summary,omitempty"`
}

type AdviseOut struct {
	Suggestions []Suggestion `json:"suggestions,omitempty"`
	Report      string       `json:"report"`
}

// Result is the full populated data model for one run.
type Result struct {
	Project        string              `json:"project"`
	Language       string              `json:"language"`
	Functions      []Function          `json:"functions,omitempty"`
	DataStructures []DataStructureDecl `json:"data_structures,omitempty"`
	CallGraph      map[string][]string `json:"call_graph,omitempty"`
	Algorithms     []AlgorithmMatch    `json:"algorithms,omitempty"`
	Complexities   []ComplexityResult  `json:"complexities,omitempty"`
	Issues         []MemoryIssue       `json:"issues,omitempty"`
	PatternSummary string              `json:"pattern_summary,omitempty"`
	Profiling      *ProfilingData      `json:"profiling,omitempty"`
	Hotspots       []Hotspot           `json:"hotspots,omitempty"`
	Suggestions    []Suggestion        `json:"suggestions,omitempty"`
	Report         string              `json:"report"`
}
