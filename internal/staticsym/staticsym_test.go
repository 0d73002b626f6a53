package staticsym

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIGadgetSignature(t *testing.T) {
	g := APIGadget{
		Name:       "widget_open",
		ReturnType: "Widget*",
		Arguments: []Argument{
			{Name: "path", Type: "const char*"},
			{Type: "int"},
		},
	}
	assert.Equal(t, "Widget* widget_open(const char* path, int)", g.Signature())
}

func TestTypeGadgetSignature(t *testing.T) {
	alias := TypeGadget{Name: "widget_id_t", Tag: TypeAlias, Qualified: "uint32_t"}
	assert.Equal(t, "alias widget_id_t = uint32_t", alias.Signature())

	plain := TypeGadget{Name: "Widget", Tag: TypeStruct}
	assert.Equal(t, "struct Widget", plain.Signature())
}

func TestCriticalPathNamesDedup(t *testing.T) {
	p := CriticalPath{
		{Name: "a"},
		{Name: "b"},
		{Name: "a"},
		{Name: "c"},
	}
	assert.Equal(t, []string{"a", "b", "c"}, p.Names())
}

func TestRetrieveTypesForGadget(t *testing.T) {
	types := []TypeGadget{
		{Name: "Widget", Tag: TypeStruct},
		{Name: "int"},
		{Name: "Unrelated", Tag: TypeStruct},
	}
	g := APIGadget{
		ReturnType: "Widget",
		Arguments:  []Argument{{Type: "int"}},
	}

	got := RetrieveTypesForGadget(g, types)
	require.Len(t, got, 2)
	assert.Equal(t, "Widget", got[0].Name)
	assert.Equal(t, "int", got[1].Name)
}

func TestRetrieveTypesForGadgetNoMatches(t *testing.T) {
	got := RetrieveTypesForGadget(APIGadget{ReturnType: "void"}, []TypeGadget{{Name: "Widget"}})
	assert.Empty(t, got)
}

func newFixtureAnalyzer() *FakeAnalyzer {
	gadgets := []APIGadget{
		{Name: "widget_open", ReturnType: "Widget*"},
		{Name: "widget_close", ReturnType: "void"},
	}
	return NewFakeAnalyzer(gadgets, nil)
}

func TestFakeAnalyzerParse(t *testing.T) {
	a := newFixtureAnalyzer()

	gadgets, err := a.ParseAPIGadget("unused source text")
	require.NoError(t, err)
	assert.Len(t, gadgets, 2)

	types, err := a.ParseTypeGadget("unused source text")
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestFakeAnalyzerExtractCriticalPathReachable(t *testing.T) {
	a := newFixtureAnalyzer()
	source := "int LLVMFuzzerTestOneInput() {\n" +
		"  Widget* w = widget_open();\n" +
		"  widget_close();\n" +
		"}\n"

	paths, err := a.ExtractCriticalPath(source, nil, "LLVMFuzzerTestOneInput")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"widget_open", "widget_close"}, paths[0].Names())
	assert.True(t, paths[0][0].HasLine)
	assert.Equal(t, 2, paths[0][0].Lineno)
}

func TestFakeAnalyzerExtractCriticalPathUnreachable(t *testing.T) {
	a := newFixtureAnalyzer()
	source := "int LLVMFuzzerTestOneInput() {\n" +
		"  if (0) {\n" +
		"    widget_open();\n" +
		"  }\n" +
		"}\n"

	paths, err := a.ExtractCriticalPath(source, nil, "LLVMFuzzerTestOneInput")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.False(t, paths[0][0].HasLine)
}

func TestFakeAnalyzerExtractCriticalPathNoMatches(t *testing.T) {
	a := newFixtureAnalyzer()
	paths, err := a.ExtractCriticalPath("int main() { return 0; }", nil, "main")
	require.NoError(t, err)
	assert.Nil(t, paths)
}

func TestFakeAnalyzerTagIndex(t *testing.T) {
	a := newFixtureAnalyzer()
	a.TagFixtures().RegisterDefinition("widget_open", "widget.c", 42)
	a.TagFixtures().RegisterReference("widget_open", "harness.c", 7)

	defs, err := a.Tags().FindDefinition("widget_open")
	require.NoError(t, err)
	assert.Equal(t, []int{42}, defs["widget.c"])

	refs, err := a.Tags().FindReferences("widget_open")
	require.NoError(t, err)
	assert.Equal(t, []int{7}, refs["harness.c"])

	missing, err := a.Tags().FindDefinition("nonexistent")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFakeAnalyzerRetrieveTypeDelegates(t *testing.T) {
	a := NewFakeAnalyzer(nil, []TypeGadget{{Name: "Widget", Tag: TypeStruct}})
	got := a.RetrieveType(APIGadget{ReturnType: "Widget"}, []TypeGadget{{Name: "Widget", Tag: TypeStruct}})
	require.Len(t, got, 1)
	assert.Equal(t, "Widget", got[0].Name)
}
