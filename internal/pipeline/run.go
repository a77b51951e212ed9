package pipeline

import (
	"context"
	"time"

	"perflens/internal/cache"
	"perflens/internal/enrich"
	"perflens/internal/rules"
	"perflens/internal/safeio"
	"perflens/internal/scheduler"
	t "perflens/internal/types"
)

// Stage node IDs in the analysis DAG.
const (
	stageExtract = iota
	stageIdentify
	stageComplexity
	stageMemory
	stageProfile
	stageHotspots
	stageAdvise
	stageCount
)

// profileWeight biases the launch order: profiling shells out to an
// external tool and dominates wall-clock time when enabled.
const profileWeight = 4

// Pipeline owns the shared collaborators of one analysis configuration and
// runs the full stage DAG per request.
type Pipeline struct {
	FS     *safeio.SafeFS
	Rules  *rules.Compiled  // nil uses the embedded default set
	Enrich *enrich.Service  // nil or empty disables enrichment
	Cache  cache.Store      // nil disables extraction caching
	// ProfileTimeout overrides the profiler's subprocess deadline; zero
	// keeps the default.
	ProfileTimeout time.Duration
	// NParallel bounds concurrently running stages; zero means 3.
	NParallel int
}

// Request selects the inputs of one run.
type Request struct {
	Files    []string // relative to the project root, input order kept
	Language string

	EnableProfiling bool
	Executable      string   // optional explicit target binary
	ProfileArgs     []string // optional argument override
	ProfileWorkDir  string   // optional working directory override
}

// Run executes every stage respecting the dependency graph:
// extraction first, then identification, memory checks and profiling in
// parallel, complexity after identification, and fusion plus advice last.
// Stage failures are recorded and surviving outputs still flow downstream;
// the returned Result holds whatever was produced.
func (p *Pipeline) Run(ctx context.Context, req Request) (*t.Result, error) {
	root := p.FS.Root()

	extract := &Extract{FS: p.FS, Rules: p.Rules, Cache: p.Cache}
	identify := &Identify{Rules: p.Rules, Enrich: p.Enrich}
	complexity := &Complexity{Rules: p.Rules, Enrich: p.Enrich}
	memory := &Memory{Rules: p.Rules, Enrich: p.Enrich}
	profile := &Profile{Timeout: p.ProfileTimeout}
	hotspots := &Hotspots{Enrich: p.Enrich}
	advise := &Advise{Enrich: p.Enrich}

	// Stage outputs; each is written by exactly one node and read only by
	// nodes downstream of it, so the scheduler's completion ordering is
	// the only synchronization needed.
	var (
		extractOut    t.ExtractOut
		identifyOut   t.IdentifyOut
		complexityOut t.ComplexityOut
		memoryOut     t.MemoryOut
		profileOut    t.ProfileOut
		hotspotOut    t.HotspotOut
		adviseOut     t.AdviseOut
	)

	adj := make([][]int, stageCount)
	adj[stageExtract] = []int{stageIdentify, stageMemory, stageProfile}
	adj[stageIdentify] = []int{stageComplexity}
	adj[stageComplexity] = []int{stageAdvise}
	adj[stageMemory] = []int{stageHotspots, stageAdvise}
	adj[stageProfile] = []int{stageHotspots}
	adj[stageHotspots] = []int{stageAdvise}

	nparallel := p.NParallel
	if nparallel <= 0 {
		nparallel = 3
	}

	err := scheduler.Run(ctx, scheduler.Params{
		Adj:       adj,
		Weight:    scheduler.WeightTable(map[int]int{stageProfile: profileWeight}),
		Targets:   map[int]struct{}{stageAdvise: {}},
		NParallel: nparallel,
		Run: func(ctx context.Context, node int) error {
			var err error
			switch node {
			case stageExtract:
				extractOut, err = extract.Run(ctx, t.ExtractIn{
					Root:     root,
					Files:    req.Files,
					Language: req.Language,
				})
			case stageIdentify:
				identifyOut, err = identify.Run(ctx, t.IdentifyIn{
					Language: req.Language,
					Extract:  extractOut,
				})
			case stageComplexity:
				complexityOut, err = complexity.Run(ctx, t.ComplexityIn{
					Language:   req.Language,
					Extract:    extractOut,
					Algorithms: identifyOut.Algorithms,
				})
			case stageMemory:
				memoryOut, err = memory.Run(ctx, t.MemoryIn{
					Language: req.Language,
					Extract:  extractOut,
				})
			case stageProfile:
				profileOut, err = profile.Run(ctx, t.ProfileIn{
					Root:       root,
					Enable:     req.EnableProfiling,
					Executable: req.Executable,
					Args:       req.ProfileArgs,
					WorkDir:    req.ProfileWorkDir,
				})
			case stageHotspots:
				hotspotOut, err = hotspots.Run(ctx, t.HotspotIn{
					Extract:   extractOut,
					Issues:    memoryOut.Issues,
					Profiling: profileOut.Data,
				})
			case stageAdvise:
				adviseOut, err = advise.Run(ctx, t.AdviseIn{
					Project:        root,
					Language:       req.Language,
					Extract:        extractOut,
					Hotspots:       hotspotOut.Hotspots,
					Issues:         memoryOut.Issues,
					Complexities:   complexityOut.Complexities,
					Profiling:      profileOut.Data,
					PatternSummary: memoryOut.PatternSummary,
				})
			}
			return err
		},
	})

	result := &t.Result{
		Project:        root,
		Language:       req.Language,
		Functions:      extractOut.Functions,
		DataStructures: extractOut.DataStructures,
		CallGraph:      extractOut.CallGraph,
		Algorithms:     identifyOut.Algorithms,
		Complexities:   complexityOut.Complexities,
		Issues:         memoryOut.Issues,
		PatternSummary: memoryOut.PatternSummary,
		Profiling:      profileOut.Data,
		Hotspots:       hotspotOut.Hotspots,
		Suggestions:    adviseOut.Suggestions,
		Report:         adviseOut.Report,
	}
	return result, err
}
