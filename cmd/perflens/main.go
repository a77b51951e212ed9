// Command perflens runs the performance-analysis pipeline over a source
// project, saves the Markdown report, and can serve the reports directory
// afterwards.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"perflens/internal/cache"
	"perflens/internal/enrich"
	"perflens/internal/llm"
	"perflens/internal/pipeline"
	"perflens/internal/report"
	"perflens/internal/rules"
	"perflens/internal/safeio"
	"perflens/internal/scan"
	"perflens/internal/viewer"
)

// stringList collects a repeatable flag value.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var execArgs, includes, excludes stringList
	repo := flag.String("repo", "", "path to the project root")
	lang := flag.String("lang", "c", "language tag: c, cpp, python, go")
	flag.Var(&includes, "include", "glob of files to keep, repeatable")
	flag.Var(&excludes, "exclude", "glob of files to drop, repeatable")
	profile := flag.Bool("profile", false, "run the target under a system profiler")
	execPath := flag.String("exec", "", "explicit executable to profile")
	flag.Var(&execArgs, "exec-arg", "argument for the profiled executable, repeatable")
	execCwd := flag.String("exec-cwd", "", "working directory for the profiled executable")
	outDir := flag.String("out", "reports", "reports directory")
	model := flag.String("model", "gemini-2.5-flash", "Gemini model id")
	fakeLLM := flag.Bool("fake-llm", false, "use the deterministic fake enrichment client")
	noLLM := flag.Bool("no-llm", false, "disable enrichment entirely")
	serve := flag.Bool("serve", false, "serve the reports directory after the run")
	port := flag.Int("port", 8080, "viewer port")
	cacheDir := flag.String("cache-dir", "", "extraction cache directory, empty disables caching")
	flag.Parse()

	if *repo == "" {
		log.Fatal("--repo is required")
	}
	_ = godotenv.Load()

	// The only fatal input condition: the project root must exist.
	if info, err := os.Stat(*repo); err != nil || !info.IsDir() {
		log.Fatalf("project root %s does not exist or is not a directory", *repo)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ruleset, err := rules.Default()
	if err != nil {
		log.Fatal(err)
	}
	fs, err := safeio.NewSafeFS(*repo)
	if err != nil {
		log.Fatal(err)
	}
	files, err := scan.Collect(*repo, *lang, ruleset, scan.Options{Include: includes, Exclude: excludes})
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("collected %d %s files in %s", len(files), *lang, *repo)

	client := buildClient(ctx, *noLLM, *fakeLLM, *model)
	if client != nil {
		defer client.Close()
	}

	p := &pipeline.Pipeline{
		FS:     fs,
		Rules:  ruleset,
		Enrich: enrich.NewService(client),
		Cache:  buildCache(*cacheDir),
	}
	result, err := p.Run(ctx, pipeline.Request{
		Files:           files,
		Language:        *lang,
		EnableProfiling: *profile,
		Executable:      *execPath,
		ProfileArgs:     execArgs,
		ProfileWorkDir:  *execCwd,
	})
	if err != nil {
		// Stage errors are non-fatal; report whatever was produced.
		log.Printf("pipeline finished with errors: %v", err)
	}
	log.Printf("analysis done: %d hotspots, %d issues, %d suggestions",
		len(result.Hotspots), len(result.Issues), len(result.Suggestions))

	store := report.NewStore(*outDir)
	entry, err := store.Save(result)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("report saved to %s/%s", *outDir, entry.Name)
	archive(ctx, entry.Name, []byte(result.Report))

	if *serve {
		if err := viewer.New(store).Serve(ctx, *port); err != nil {
			log.Fatal(err)
		}
	}
}

// buildClient picks the enrichment backend. nil disables enrichment.
func buildClient(ctx context.Context, noLLM, fake bool, model string) llm.Client {
	if noLLM {
		return nil
	}
	if fake {
		return llm.NewFakeClient()
	}
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Print("GEMINI_API_KEY is not set, running without enrichment")
		return nil
	}
	cli, err := llm.NewGeminiClient(ctx, apiKey, model)
	if err != nil {
		log.Printf("enrichment client unavailable: %v", err)
		return nil
	}
	client := llm.Wrap(cli,
		llm.WithLogging(nil),
		llm.Retry(3, 2*time.Second),
		llm.RateLimitFromEnv("PERFLENS", "GEMINI"),
	)
	if os.Getenv("PERFLENS_DEBUG_PROMPTS") != "" {
		client = llm.WithHook(client, promptTrace{})
	}
	return client
}

// promptTrace dumps full prompts and raw model output to the standard
// logger. Enabled with PERFLENS_DEBUG_PROMPTS=1.
type promptTrace struct{}

func (promptTrace) Before(_ context.Context, phase, prompt string, input any) {
	in, _ := json.MarshalIndent(input, "", "  ")
	log.Printf("llm: prompt (%s):\n%s\n[input]\n%s", phase, prompt, in)
}

func (promptTrace) After(_ context.Context, phase string, raw json.RawMessage, err error) {
	if err != nil {
		log.Printf("llm: response (%s): %v", phase, err)
		return
	}
	log.Printf("llm: response (%s): %s", phase, raw)
}

// buildCache layers an in-memory LRU over the on-disk snapshot store when a
// cache directory is configured.
func buildCache(dir string) cache.Store {
	if dir == "" {
		return nil
	}
	return cache.NewCachedStore(cache.NewDiskStore(dir), cache.DefaultCacheConfig())
}

// archive mirrors the saved report to S3 when PERFLENS_S3_ENDPOINT is set.
func archive(ctx context.Context, name string, body []byte) {
	cfg, ok := report.S3ConfigFromEnv()
	if !ok {
		return
	}
	s3, err := report.NewS3Archive(cfg)
	if err != nil {
		log.Printf("report archive disabled: %v", err)
		return
	}
	if err := s3.Put(ctx, name, body); err != nil {
		log.Printf("report archive upload failed: %v", err)
		return
	}
	log.Printf("report archived to s3 bucket")
}
