package profiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExec(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
}

func TestFindExecutablePrefersConventionalLocations(t *testing.T) {
	root := t.TempDir()
	writeExec(t, filepath.Join(root, "build", "zz_other"))
	writeExec(t, filepath.Join(root, "build", "project_hw"))

	got := findExecutable(root)
	assert.Equal(t, filepath.Join(root, "build", "project_hw"), got)
}

func TestFindExecutableFallsBackToBuildScan(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0o755))
	// non-runnable and build-system files must be skipped
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "CMakeCache.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "install.sh"), []byte("x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "link.cmake"), []byte("x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "notes"), []byte("x"), 0o644))
	writeExec(t, filepath.Join(root, "build", "bench"))

	got := findExecutable(root)
	assert.Equal(t, filepath.Join(root, "build", "bench"), got)
}

func TestFindExecutableNothingThere(t *testing.T) {
	assert.Equal(t, "", findExecutable(t.TempDir()))
}

func TestFindTestInput(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dataset"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dataset", "readme.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dataset", "input2.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dataset", "input1.txt"), []byte("x"), 0o644))

	got := findTestInput(root)
	assert.Equal(t, filepath.Join(root, "dataset", "input1.txt"), got, "name order keeps discovery deterministic")

	assert.Equal(t, "", findTestInput(t.TempDir()))
}

// stubTool routes detectTool to perf and captures the launched command.
func stubTool(t *testing.T, stderr string, runErr error) *struct {
	dir  string
	name string
	args []string
} {
	t.Helper()
	captured := &struct {
		dir  string
		name string
		args []string
	}{}

	origLook, origRun := lookPath, runProfiled
	lookPath = func(name string) (string, error) {
		if name == "perf" {
			return "/usr/bin/perf", nil
		}
		return "", errors.New("not found")
	}
	runProfiled = func(ctx context.Context, dir, name string, args ...string) (string, string, error) {
		captured.dir = dir
		captured.name = name
		captured.args = args
		return "program output", stderr, runErr
	}
	t.Cleanup(func() {
		lookPath = origLook
		runProfiled = origRun
	})
	return captured
}

func TestRunProfilesResolvedExecutable(t *testing.T) {
	root := t.TempDir()
	writeExec(t, filepath.Join(root, "build", "main"))
	captured := stubTool(t, perfStatOutput, nil)

	data, output, err := Run(context.Background(), Options{Root: root})
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "perf", data.Tool)
	assert.Equal(t, "1.236774001s", data.ElapsedTime)
	assert.Contains(t, output, "program output")
	assert.Contains(t, output, "seconds time elapsed")

	assert.Equal(t, root, captured.dir)
	assert.Equal(t, "perf", captured.name)
	require.GreaterOrEqual(t, len(captured.args), 4)
	assert.Equal(t, []string{"stat", "-e", "cycles,instructions,cache-misses,cache-references"}, captured.args[:3])
	assert.Equal(t, filepath.Join(root, "build", "main"), captured.args[3])
}

func TestRunAddsDatasetArgs(t *testing.T) {
	root := t.TempDir()
	writeExec(t, filepath.Join(root, "build", "main"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dataset"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dataset", "input1.txt"), []byte("x"), 0o644))
	captured := stubTool(t, perfStatOutput, nil)

	_, _, err := Run(context.Background(), Options{Root: root})
	require.NoError(t, err)
	assert.Contains(t, captured.args, "-i")
	assert.Contains(t, captured.args, filepath.Join(root, "dataset", "input1.txt"))
	assert.Contains(t, captured.args, "-o")
}

func TestRunKeepsUserArgsVerbatim(t *testing.T) {
	root := t.TempDir()
	writeExec(t, filepath.Join(root, "build", "main"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dataset"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dataset", "input1.txt"), []byte("x"), 0o644))
	captured := stubTool(t, perfStatOutput, nil)

	_, _, err := Run(context.Background(), Options{Root: root, Args: []string{"--bench", "3"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"--bench", "3"}, captured.args[4:], "user args must not gain dataset defaults")
}

func TestRunMissingExecutableIsNotAnError(t *testing.T) {
	stubTool(t, "", nil)
	data, output, err := Run(context.Background(), Options{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Empty(t, output)
}

func TestRunRejectsNonRunnableExplicitPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "tool"), []byte("x"), 0o644))
	stubTool(t, "", nil)

	data, _, err := Run(context.Background(), Options{Root: root, Executable: "tool"})
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRunResolvesRelativeExecAgainstWorkDir(t *testing.T) {
	root := t.TempDir()
	work := t.TempDir()
	writeExec(t, filepath.Join(work, "bin", "app"))
	captured := stubTool(t, perfStatOutput, nil)

	data, _, err := Run(context.Background(), Options{Root: root, Executable: filepath.Join("bin", "app"), WorkDir: work})
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, work, captured.dir)
	assert.Equal(t, filepath.Join(work, "bin", "app"), captured.args[3])
}

func TestRunParsesDespiteNonZeroExit(t *testing.T) {
	root := t.TempDir()
	writeExec(t, filepath.Join(root, "build", "main"))
	stubTool(t, perfStatOutput, errors.New("exit status 1"))

	data, _, err := Run(context.Background(), Options{Root: root})
	require.NoError(t, err)
	require.NotNil(t, data, "tool statistics still parse when the target exits non-zero")
	assert.Equal(t, "1.236774001s", data.ElapsedTime)
}

func TestRunPropagatesParentCancellation(t *testing.T) {
	root := t.TempDir()
	writeExec(t, filepath.Join(root, "build", "main"))
	stubTool(t, "", errors.New("signal: killed"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data, _, err := Run(ctx, Options{Root: root})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, data)
}
