package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCompiles(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.NotEmpty(t, c.Algorithms)
	assert.NotNil(t, c.Call)
	assert.NotNil(t, c.ArrayDecl)
	assert.True(t, c.Keywords["sizeof"])

	for _, name := range []string{"c", "cpp", "python", "go"} {
		_, ok := c.Language(name)
		assert.True(t, ok, "language %s missing", name)
	}
	_, ok := c.Language("rust")
	assert.False(t, ok)
}

func TestFunctionPatterns(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	tests := []struct {
		lang   string
		src    string
		name   string
		params string
	}{
		{"c", "static int find_page(int lpn) {", "find_page", "int lpn"},
		{"c", "void *alloc_block(size_t n) {", "alloc_block", "size_t n"},
		{"python", "def merge_sort(items):", "merge_sort", "items"},
		{"go", "func Lookup(key string) (int, error) {", "Lookup", "key string"},
	}
	for _, tt := range tests {
		lang, ok := c.Language(tt.lang)
		require.True(t, ok, tt.lang)
		m := lang.FunctionRE.FindStringSubmatch(tt.src)
		require.NotNil(t, m, "%s: %q", tt.lang, tt.src)
		assert.Equal(t, tt.name, m[lang.NameGroup], tt.src)
		assert.Equal(t, tt.params, m[lang.ParamsGroup], tt.src)
	}
}

func TestNullCheckAndDealloc(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	cl, _ := c.Language("c")
	code := "p = malloc(10);\nif (p == NULL) return;\nfree(p);\n"
	assert.True(t, cl.HasNullCheck(code, "p"))
	assert.False(t, cl.HasNullCheck(code, "q"))
	assert.True(t, cl.HasDealloc(code, "p"))
	assert.False(t, cl.HasDealloc(code, "q"))

	cpp, _ := c.Language("cpp")
	assert.True(t, cpp.HasDealloc("delete[] arr;", "arr"))
	assert.True(t, cpp.HasDealloc("delete node;", "node"))
	assert.True(t, cpp.HasNullCheck("if (buf == nullptr) {", "buf"))
}

func TestLargeAllocPatterns(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	py, _ := c.Language("python")
	require.NotNil(t, py.LargeAllocRE)
	assert.True(t, py.LargeAllocRE.MatchString("data = [0] * 1000000"))
	assert.False(t, py.LargeAllocRE.MatchString("data = [x for x in xs]"))

	g, _ := c.Language("go")
	require.NotNil(t, g.LargeAllocRE)
	assert.True(t, g.LargeAllocRE.MatchString("buf := make([]byte, 100000)"))
	assert.False(t, g.LargeAllocRE.MatchString("buf := make([]byte, 64)"))
}

func TestAlgorithmOrderIsDeclarationOrder(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	require.NotEmpty(t, c.Algorithms)
	assert.Equal(t, "bubble_sort", c.Algorithms[0].Name)
	assert.Equal(t, "address_mapping", c.Algorithms[len(c.Algorithms)-1].Name)

	// A second load sees the same order.
	again, err := Load(embeddedRules)
	require.NoError(t, err)
	require.Len(t, again.Algorithms, len(c.Algorithms))
	for i := range again.Algorithms {
		assert.Equal(t, c.Algorithms[i].Name, again.Algorithms[i].Name)
	}
}

func TestExtensions(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{".c", ".h"}, c.Extensions("c"))
	assert.ElementsMatch(t, []string{".py"}, c.Extensions("python"))
	assert.Nil(t, c.Extensions("fortran"))
}
