package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"unicode/utf8"

	"perflens/internal/cache"
	"perflens/internal/safeio"
	"perflens/internal/tester"
	types "perflens/internal/types"
)

// writeProject materializes source files under a temp root and returns a
// bounded FS over it.
func writeProject(t *testing.T, files map[string]string) *safeio.SafeFS {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	fs, err := safeio.NewSafeFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

func runExtract(t *testing.T, fs *safeio.SafeFS, language string, files ...string) types.ExtractOut {
	t.Helper()
	ex := &Extract{FS: fs}
	out, err := ex.Run(context.Background(), types.ExtractIn{Root: fs.Root(), Files: files, Language: language})
	tester.NoErr(t, err)
	return out
}

const cFixture = `#include <stdlib.h>

static int helper(int x) {
    return x + 1;
}

int sum_matrix(int **m, int rows, int cols) {
    int total = 0;
    for (int i = 0; i < rows; i++) {
        for (int j = 0; j < cols; j++) {
            total += helper(m[i][j]);
        }
    }
    return total;
}
`

func TestExtractCFunctions(t *testing.T) {
	fs := writeProject(t, map[string]string{"sum.c": cFixture})
	out := runExtract(t, fs, "c", "sum.c")

	tester.Eq(t, len(out.Functions), 2)

	helper := out.Functions[0]
	tester.Eq(t, helper.Name, "helper")
	tester.Eq(t, helper.StartLine, 3)
	tester.Eq(t, helper.EndLine, 5)
	tester.Eq(t, helper.ReturnType, "int")
	tester.Eq(t, helper.Params, []string{"int x"})
	tester.False(t, helper.Recursive)

	sum := out.Functions[1]
	tester.Eq(t, sum.Name, "sum_matrix")
	tester.Eq(t, sum.StartLine, 7)
	tester.Eq(t, sum.EndLine, 15)
	tester.Eq(t, sum.Params, []string{"int **m", "int rows", "int cols"})
	tester.Eq(t, sum.Callees, []string{"helper"})
	tester.Eq(t, len(sum.Loops), 2)
	tester.Eq(t, sum.Loops[0].Line, 9)
	tester.Eq(t, sum.Loops[1].Line, 10)
	tester.Eq(t, sum.Loops[0].Kind, "for")

	tester.Eq(t, out.CallGraph["sum_matrix"], []string{"helper"})

	for _, fn := range out.Functions {
		tester.True(t, fn.StartLine <= fn.EndLine, fn.Name)
		for _, l := range fn.Loops {
			tester.True(t, l.Line >= fn.StartLine && l.Line <= fn.EndLine, fn.Name)
		}
	}
}

func TestExtractRecursionFlag(t *testing.T) {
	fs := writeProject(t, map[string]string{"fact.c": `
int fact(int n) {
    if (n <= 1) return 1;
    return n * fact(n - 1);
}

int plain(int n) {
    return fact(n);
}
`})
	out := runExtract(t, fs, "c", "fact.c")

	tester.Eq(t, len(out.Functions), 2)
	fact, plain := out.Functions[0], out.Functions[1]
	tester.True(t, fact.Recursive, "self-call must set the flag")
	tester.Eq(t, fact.Callees, []string{"fact"})
	tester.False(t, plain.Recursive, "calling another function is not recursion")
}

func TestExtractKeywordNamesAreNotFunctions(t *testing.T) {
	fs := writeProject(t, map[string]string{"branch.c": `
void run(int x) {
    if (x) {
        fire(x);
    } else if (x > 1) {
        cool(x);
    }
}
`})
	out := runExtract(t, fs, "c", "branch.c")

	tester.Eq(t, len(out.Functions), 1)
	tester.Eq(t, out.Functions[0].Name, "run")
	tester.Eq(t, out.Functions[0].Callees, []string{"cool", "fire"})
}

func TestExtractPythonIndentBodies(t *testing.T) {
	fs := writeProject(t, map[string]string{"walk.py": `import os

def walk(tree):
    for node in tree:
        visit(node)

def leaf(x):
    return x

class Node:
    pass
`})
	out := runExtract(t, fs, "python", "walk.py")

	tester.Eq(t, len(out.Functions), 2)
	walk := out.Functions[0]
	tester.Eq(t, walk.Name, "walk")
	tester.Eq(t, walk.StartLine, 3)
	tester.Eq(t, walk.EndLine, 5)
	tester.Eq(t, walk.Callees, []string{"visit"})
	tester.Eq(t, len(walk.Loops), 1)
	tester.Eq(t, walk.Loops[0].Line, 4)

	leaf := out.Functions[1]
	tester.Eq(t, leaf.StartLine, 7)
	tester.Eq(t, leaf.EndLine, 8)

	tester.Eq(t, len(out.DataStructures), 1)
	tester.Eq(t, out.DataStructures[0].Name, "Node")
	tester.Eq(t, out.DataStructures[0].Kind, "class")
	tester.Eq(t, out.DataStructures[0].Line, 10)
}

func TestExtractUnterminatedBlock(t *testing.T) {
	fs := writeProject(t, map[string]string{"broken.c": `int broken(int n) {
    int x = 0;
    for (int i = 0; i < n; i++) {
        x += i;`})
	out := runExtract(t, fs, "c", "broken.c")

	tester.Eq(t, len(out.Functions), 1)
	fn := out.Functions[0]
	tester.Eq(t, fn.StartLine, 1)
	tester.Eq(t, fn.EndLine, 4, "best-effort span runs to end of file")
}

func TestExtractUnsupportedLanguage(t *testing.T) {
	fs := writeProject(t, map[string]string{"x.rs": "fn main() {}"})
	out := runExtract(t, fs, "rust", "x.rs")
	tester.Eq(t, len(out.Functions), 0)
	tester.Eq(t, len(out.DataStructures), 0)
}

func TestExtractMissingFileIsSkipped(t *testing.T) {
	fs := writeProject(t, map[string]string{"ok.c": "int one(void) { return 1; }\n"})
	out := runExtract(t, fs, "c", "gone.c", "ok.c")
	tester.Eq(t, len(out.Functions), 1)
	tester.Eq(t, out.Functions[0].Name, "one")
}

func TestExtractFileCap(t *testing.T) {
	files := map[string]string{}
	var names []string
	for i := 0; i < maxFilesPerRun+2; i++ {
		name := fmt.Sprintf("f%02d.c", i)
		files[name] = fmt.Sprintf("int fn%02d(void) { return %d; }\n", i, i)
		names = append(names, name)
	}
	fs := writeProject(t, files)
	out := runExtract(t, fs, "c", names...)
	tester.Eq(t, len(out.Functions), maxFilesPerRun)
}

func TestExtractDataStructures(t *testing.T) {
	fs := writeProject(t, map[string]string{"data.c": `typedef struct Pair { int a; int b; } pair_t;

int grab(void) {
    int fixed[100];
    int open[];
    int sized[n];
    return 0;
}
`})
	out := runExtract(t, fs, "c", "data.c")

	byName := map[string]types.DataStructureDecl{}
	for _, d := range out.DataStructures {
		byName[d.Name] = d
	}
	tester.Eq(t, byName["Pair"].Kind, "struct")
	tester.Eq(t, byName["Pair"].Size, "static")
	tester.Eq(t, byName["fixed"].Kind, "array")
	tester.Eq(t, byName["fixed"].Size, "static:100")
	tester.Eq(t, byName["open"].Size, "dynamic")
	tester.Eq(t, byName["sized"].Size, "unknown")
}

func TestExtractCacheRoundTrip(t *testing.T) {
	fs := writeProject(t, map[string]string{"sum.c": cFixture})
	store := cache.NewDiskStore(t.TempDir())
	ex := &Extract{FS: fs, Cache: store}
	in := types.ExtractIn{Root: fs.Root(), Files: []string{"sum.c"}, Language: "c"}

	first, err := ex.Run(context.Background(), in)
	tester.NoErr(t, err)
	second, err := ex.Run(context.Background(), in)
	tester.NoErr(t, err)
	tester.True(t, reflect.DeepEqual(first, second), "cache hit must equal fresh extraction")

	// Changing the content changes the key, so the stale entry is not
	// served.
	if err := os.WriteFile(filepath.Join(fs.Root(), "sum.c"), []byte("int other(void) { return 2; }\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	third, err := ex.Run(context.Background(), in)
	tester.NoErr(t, err)
	tester.Eq(t, len(third.Functions), 1)
	tester.Eq(t, third.Functions[0].Name, "other")
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	tester.Eq(t, truncate("short", 10), "short")
	tester.Eq(t, truncate("abcdef", 4), "abcd")

	// A two-byte rune straddling the limit is dropped whole rather than
	// split into invalid UTF-8.
	s := "aaaébbb" // é is two bytes, occupying s[3:5]
	cut := truncate(s, 4)
	tester.Eq(t, cut, "aaa")
	tester.True(t, utf8.ValidString(cut), "truncated snippet must stay valid UTF-8")

	cut = truncate(s, 5)
	tester.Eq(t, cut, "aaaé")
}
