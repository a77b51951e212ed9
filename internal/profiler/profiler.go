// Package profiler runs the project binary under a system instrumentation
// tool and turns the tool's text output into structured profiling data.
// Everything here degrades: a missing binary, a missing tool, a timeout, or
// unparseable output all yield absent data, never a pipeline failure.
package profiler

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"perflens/internal/types"
)

// DefaultTimeout bounds the profiled run; the process is killed on expiry.
const DefaultTimeout = 60 * time.Second

const (
	toolPerf = "perf"
	toolTime = "time"
)

type Options struct {
	Root       string   // project root, used for executable discovery
	Executable string   // explicit target; relative paths resolve against WorkDir
	Args       []string // run arguments; empty triggers dataset auto-fill
	WorkDir    string   // defaults to Root
	Timeout    time.Duration
}

var (
	lookPath = exec.LookPath
	timePath = "/usr/bin/time"
)

// runProfiled is injectable in tests.
var runProfiled = func(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Run profiles the project's binary with the best available tool and returns
// the parsed data plus the raw combined output. A nil result with a nil
// error means profiling was skipped or produced nothing usable.
func Run(ctx context.Context, opts Options) (*types.ProfilingData, string, error) {
	runCwd := strings.TrimSpace(opts.WorkDir)
	if runCwd == "" {
		runCwd = opts.Root
	}

	exe := strings.TrimSpace(opts.Executable)
	if exe != "" {
		if !filepath.IsAbs(exe) {
			exe = filepath.Clean(filepath.Join(runCwd, exe))
		}
		if !isExecutable(exe) {
			log.Printf("profile: specified executable is not runnable: %s", exe)
			return nil, "", nil
		}
	} else {
		exe = findExecutable(opts.Root)
		if exe == "" {
			log.Printf("profile: no executable found under %s, skipping", opts.Root)
			return nil, "", nil
		}
	}

	tool := detectTool()
	if tool == "" {
		log.Printf("profile: no instrumentation tool available, skipping")
		return nil, "", nil
	}

	args := append([]string(nil), opts.Args...)
	if len(args) == 0 {
		if input := findTestInput(runCwd); input != "" {
			args = append(args, "-i", input, "-o", filepath.Join(os.TempDir(), "perflens_run_out.txt"))
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var name string
	var full []string
	switch tool {
	case toolPerf:
		name = "perf"
		full = append([]string{"stat", "-e", "cycles,instructions,cache-misses,cache-references", exe}, args...)
	case toolTime:
		name = timePath
		full = append([]string{"-v", exe}, args...)
	}

	log.Printf("profile: running %s %s (cwd=%s)", name, strings.Join(full, " "), runCwd)
	stdout, stderr, err := runProfiled(runCtx, runCwd, name, full...)
	output := strings.TrimSpace(strings.TrimSpace(stdout) + "\n" + strings.TrimSpace(stderr))

	if ctx.Err() != nil {
		// Host shutdown: the subprocess is already killed, just surface it.
		return nil, "", ctx.Err()
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			log.Printf("profile: %s timed out after %s, process killed", tool, timeout)
			return nil, output, nil
		}
		// Both tools print their statistics even when the target exits
		// non-zero, so keep parsing.
		log.Printf("profile: %s exited abnormally: %v", tool, err)
	}

	var data *types.ProfilingData
	switch tool {
	case toolPerf:
		data = parsePerfStat(stderr)
	case toolTime:
		data = parseTimeV(stderr)
	}
	return data, output, nil
}

func detectTool() string {
	if _, err := lookPath("perf"); err == nil {
		return toolPerf
	}
	if isExecutable(timePath) {
		return toolTime
	}
	return ""
}

// findExecutable checks the conventional build outputs first, then falls
// back to the first runnable non-build-script file in build/ (name order,
// so discovery is deterministic).
func findExecutable(root string) string {
	candidates := []string{
		filepath.Join(root, "build", "project_hw"),
		filepath.Join(root, "build", "main"),
		filepath.Join(root, "a.out"),
		filepath.Join(root, "main"),
	}
	for _, p := range candidates {
		if isExecutable(p) {
			return p
		}
	}

	buildDir := filepath.Join(root, "build")
	entries, err := os.ReadDir(buildDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".cmake") || strings.HasSuffix(name, ".txt") || strings.HasSuffix(name, ".sh") {
			continue
		}
		if p := filepath.Join(buildDir, name); isExecutable(p) {
			return p
		}
	}
	return ""
}

// findTestInput looks for a dataset/input*.txt file to feed the binary when
// the caller gave no arguments.
func findTestInput(dir string) string {
	datasetDir := filepath.Join(dir, "dataset")
	entries, err := os.ReadDir(datasetDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "input") && strings.HasSuffix(name, ".txt") {
			return filepath.Join(datasetDir, name)
		}
	}
	return ""
}

func isExecutable(path string) bool {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return false
	}
	return st.Mode()&0o111 != 0
}
