package variables

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobflow/jobflow/pkg/models"
)

func TestNewGraph_UndefinedReference(t *testing.T) {
	_, err := NewGraph([]*models.VariableDefinition{
		{Name: "a", Value: "x/<<missing>>/{:s}", Data: []string{"1"}},
	})
	assert.ErrorIs(t, err, ErrUndefinedVariable)
}

func TestNewGraph_Cycle(t *testing.T) {
	_, err := NewGraph([]*models.VariableDefinition{
		{Name: "a", Value: "<<b>>"},
		{Name: "b", Value: "<<c>>"},
		{Name: "c", Value: "<<a>>"},
	})
	assert.ErrorIs(t, err, ErrCyclicReference)
}

func TestResolveMatrix_SingleBaseVariable(t *testing.T) {
	// One group, one data variable with five values: five rows, values
	// formatted verbatim.
	graph, err := NewGraph([]*models.VariableDefinition{
		{Name: "f", Value: "{:s}", Data: []string{"a", "b", "c", "d", "e"}},
	})
	require.NoError(t, err)

	group := &models.CommandGroup{Commands: []string{"postProcess <<f>>"}}

	m, err := NewResolver(graph).ResolveMatrix(group, "/work")
	require.NoError(t, err)

	assert.Equal(t, 5, m.Length)
	assert.Equal(t, []string{"f"}, m.Names)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, m.Columns["f"])
}

func TestResolveMatrix_CompoundVariableBoundProduct(t *testing.T) {
	graph, err := NewGraph([]*models.VariableDefinition{
		{Name: "base", Value: "{:s}", Data: []string{"x", "y"}},
		{Name: "file", Value: "out/<<base>>_inc{:03d}.txt", Data: []string{"20", "40"}},
	})
	require.NoError(t, err)

	group := &models.CommandGroup{Commands: []string{"run <<file>> <<base>>"}}

	m, err := NewResolver(graph).ResolveMatrix(group, "/work")
	require.NoError(t, err)

	assert.Equal(t, 4, m.Length)
	assert.Equal(t, []string{
		"out/x_inc020.txt",
		"out/x_inc040.txt",
		"out/y_inc020.txt",
		"out/y_inc040.txt",
	}, m.Columns["file"])

	// The companion column is bound row-wise to the same product.
	assert.Equal(t, []string{"x", "x", "y", "y"}, m.Columns["base"])
}

func TestResolveMatrix_RepeatedReferenceIsBound(t *testing.T) {
	graph, err := NewGraph([]*models.VariableDefinition{
		{Name: "n", Value: "{:s}", Data: []string{"1", "2", "3"}},
		{Name: "pair", Value: "<<n>>_<<n>>"},
	})
	require.NoError(t, err)

	group := &models.CommandGroup{Commands: []string{"go <<pair>>"}}

	m, err := NewResolver(graph).ResolveMatrix(group, "/work")
	require.NoError(t, err)

	// Repeated references share a column: the length equals the single
	// reference's, not its square.
	assert.Equal(t, 3, m.Length)
	assert.Equal(t, []string{"1_1", "2_2", "3_3"}, m.Columns["pair"])
}

func TestResolveMatrix_ZeroLengthBaseIsFatal(t *testing.T) {
	graph, err := NewGraph([]*models.VariableDefinition{
		{Name: "empty", Value: "{:s}", Data: []string{}},
		{Name: "ref", Value: "use/<<empty>>"},
	})
	require.NoError(t, err)

	group := &models.CommandGroup{Commands: []string{"go <<ref>>"}}

	_, err = NewResolver(graph).ResolveMatrix(group, "/work")
	assert.ErrorIs(t, err, ErrZeroLengthValues)
}

func TestScanFileRegex(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"out_10.dat", "out_2.dat", "skip.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	values, err := ScanFileRegex(&models.FileRegex{
		Pattern: `out_([0-9]+)\.dat`,
		Group:   0,
		Type:    models.ValueTypeInt,
	}, dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"10", "2"}, values)
}

func TestScanFileRegex_MissingDirectoryDefers(t *testing.T) {
	values, err := ScanFileRegex(&models.FileRegex{Pattern: `x(.)`}, "/does/not/exist")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestScanFileRegex_MatchDirs(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "run_2", "nested"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "run_1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run_3"), nil, 0o644))

	values, err := ScanFileRegex(&models.FileRegex{
		Pattern:   `^run_([0-9]+)$`,
		Group:     0,
		MatchDirs: true,
	}, dir)
	require.NoError(t, err)

	// run_3 is a plain file and the nested path does not match the
	// anchored pattern.
	assert.Equal(t, []string{"1", "2"}, values)
}

func TestScanFileRegex_Subset(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"r_a.out", "r_b.out", "r_c.out"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	values, err := ScanFileRegex(&models.FileRegex{
		Pattern: `r_(.)\.out`,
		Group:   0,
		Subset:  []string{"a", "c"},
	}, dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c"}, values)
}

func TestDeferred_PropagatesTransitively(t *testing.T) {
	graph, err := NewGraph([]*models.VariableDefinition{
		{Name: "scan", Value: "{:s}", FileRegex: &models.FileRegex{Pattern: `out_(.+)\.dat`}},
		{Name: "dep", Value: "post/<<scan>>"},
	})
	require.NoError(t, err)

	resolver := NewResolver(graph)

	deferred, err := resolver.Deferred([]string{"dep"}, t.TempDir())
	require.NoError(t, err)
	assert.True(t, deferred)
}

func TestDeferred_ResolvesOnceFilesExist(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out_a.dat"), nil, 0o644))

	graph, err := NewGraph([]*models.VariableDefinition{
		{Name: "scan", Value: "{:s}", FileRegex: &models.FileRegex{Pattern: `out_(.+)\.dat`}},
	})
	require.NoError(t, err)

	resolver := NewResolver(graph)

	deferred, err := resolver.Deferred([]string{"scan"}, dir)
	require.NoError(t, err)
	assert.False(t, deferred)

	group := &models.CommandGroup{Commands: []string{"use <<scan>>"}}

	m, err := resolver.ResolveMatrix(group, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, m.Columns["scan"])
}

func TestMultiplicity(t *testing.T) {
	graph, err := NewGraph([]*models.VariableDefinition{
		{Name: "a", Value: "{:s}", Data: []string{"1", "2"}},
		{Name: "b", Value: "x/<<a>>_{:d}", Data: []string{"3", "4", "5"}},
		{Name: "scan", Value: "{:s}", FileRegex: &models.FileRegex{Pattern: `p(.+)`}},
	})
	require.NoError(t, err)

	resolver := NewResolver(graph)

	count, known := resolver.Multiplicity(&models.CommandGroup{Commands: []string{"go <<b>>"}})
	assert.True(t, known)
	assert.Equal(t, 6, count)

	_, known = resolver.Multiplicity(&models.CommandGroup{Commands: []string{"go <<scan>>"}})
	assert.False(t, known)

	count, known = resolver.Multiplicity(&models.CommandGroup{Commands: []string{"no variables"}})
	assert.True(t, known)
	assert.Equal(t, 1, count)
}

func TestWriteValueFiles(t *testing.T) {
	dir := t.TempDir()

	m := &Matrix{
		Names:   []string{"f"},
		Columns: map[string][]string{"f": {"a", "b", "c", "d", "e"}},
		Length:  5,
	}

	require.NoError(t, WriteValueFiles(m, dir, ".txt"))

	data, err := os.ReadFile(filepath.Join(dir, "var_f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\nd\ne\n", string(data))

	// Re-writing the same matrix is byte-stable.
	require.NoError(t, WriteValueFiles(m, dir, ".txt"))

	again, err := os.ReadFile(filepath.Join(dir, "var_f.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestValidateDefinitions(t *testing.T) {
	wf := &models.Workflow{
		Directory: "/work",
		CommandGroups: []*models.CommandGroup{
			{Commands: []string{"run <<ghost>>"}},
		},
	}

	assert.ErrorIs(t, ValidateDefinitions(wf), ErrUndefinedVariable)

	wf = &models.Workflow{
		Directory: "/work",
		CommandGroups: []*models.CommandGroup{
			{Commands: []string{"run <<v>>"}},
		},
		Variables: []*models.VariableDefinition{
			{Name: "v", Value: "static", Data: []string{"1"}},
		},
	}

	assert.ErrorIs(t, ValidateDefinitions(wf), ErrFormatSpecifier)
}
