package staticsym

import (
	"regexp"
	"strings"
)

// FakeAnalyzer is a deterministic, in-memory Analyzer used by tests and by
// callers that have not wired a real clang/GNU-GLOBAL backend. Gadgets and
// types are registered up front; ExtractCriticalPath uses a small regex-based
// heuristic over call sites rather than a real CFG/IR walk, which is
// sufficient to exercise the Validator's critical-path-hit stage end to end.
type FakeAnalyzer struct {
	gadgets   []APIGadget
	types     []TypeGadget
	tags      *fakeTagIndex
	callRegex *regexp.Regexp
}

// NewFakeAnalyzer builds a FakeAnalyzer over a fixed gadget/type universe.
func NewFakeAnalyzer(gadgets []APIGadget, types []TypeGadget) *FakeAnalyzer {
	return &FakeAnalyzer{
		gadgets:   gadgets,
		types:     types,
		tags:      newFakeTagIndex(),
		callRegex: regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
	}
}

func (f *FakeAnalyzer) ParseAPIGadget(source string) ([]APIGadget, error) {
	return f.gadgets, nil
}

func (f *FakeAnalyzer) ParseTypeGadget(source string) ([]TypeGadget, error) {
	return f.types, nil
}

func (f *FakeAnalyzer) RetrieveType(api APIGadget, types []TypeGadget) []TypeGadget {
	return RetrieveTypesForGadget(api, types)
}

func (f *FakeAnalyzer) Tags() TagIndex {
	return f.tags
}

// ExtractCriticalPath scans harnessSource line by line for calls to names in
// gadgets (or to any known gadget if gadgets is empty), and returns the
// single in-source-order call sequence as the sole maximal path. Calls on
// the line after an "if (0)" / "if (false)" guard are recorded with HasLine
// false; the validator's hit check skips such elements (labelling them
// invalid-lineno), so they alone do not make a path fail.
func (f *FakeAnalyzer) ExtractCriticalPath(harnessSource string, gadgets []APIGadget, target string) ([]CriticalPath, error) {
	byName := make(map[string]APIGadget)
	for _, g := range f.gadgets {
		byName[g.Name] = g
	}

	restrict := make(map[string]struct{})
	for _, g := range gadgets {
		restrict[g.Name] = struct{}{}
	}

	lines := strings.Split(harnessSource, "\n")
	deadGuard := regexp.MustCompile(`^\s*if\s*\(\s*(0|false)\s*\)`)

	var path CriticalPath
	unreachable := false
	for i, line := range lines {
		lineno := i + 1
		if deadGuard.MatchString(line) {
			unreachable = true
			continue
		}
		for _, m := range f.callRegex.FindAllStringSubmatch(line, -1) {
			name := m[1]
			gadget, known := byName[name]
			if len(restrict) > 0 {
				if _, ok := restrict[name]; !ok {
					continue
				}
			} else if !known {
				continue
			}

			el := PathElement{Name: name}
			if known {
				gp := gadget
				el.Gadget = &gp
			}
			if !unreachable {
				el.Lineno = lineno
				el.HasLine = true
			}
			path = append(path, el)
		}
		unreachable = false
	}

	if len(path) == 0 {
		return nil, nil
	}
	return []CriticalPath{path}, nil
}

type fakeTagIndex struct {
	definitions map[string]map[string][]int
	references  map[string]map[string][]int
}

func newFakeTagIndex() *fakeTagIndex {
	return &fakeTagIndex{
		definitions: make(map[string]map[string][]int),
		references:  make(map[string]map[string][]int),
	}
}

// RegisterDefinition registers a known definition site, used by tests to
// seed the fake tag index.
func (t *fakeTagIndex) RegisterDefinition(symbol, file string, line int) {
	if _, ok := t.definitions[symbol]; !ok {
		t.definitions[symbol] = make(map[string][]int)
	}
	t.definitions[symbol][file] = append(t.definitions[symbol][file], line)
}

// RegisterReference registers a known reference site, used by tests to seed
// the fake tag index.
func (t *fakeTagIndex) RegisterReference(symbol, file string, line int) {
	if _, ok := t.references[symbol]; !ok {
		t.references[symbol] = make(map[string][]int)
	}
	t.references[symbol][file] = append(t.references[symbol][file], line)
}

func (t *fakeTagIndex) FindDefinition(symbol string) (map[string][]int, error) {
	if locs, ok := t.definitions[symbol]; ok {
		return locs, nil
	}
	return map[string][]int{}, nil
}

func (t *fakeTagIndex) FindReferences(symbol string) (map[string][]int, error) {
	if locs, ok := t.references[symbol]; ok {
		return locs, nil
	}
	return map[string][]int{}, nil
}

// TagFixtures exposes the concrete fake index's registration methods to
// tests that want to seed FindDefinition/FindReferences fixtures directly.
func (f *FakeAnalyzer) TagFixtures() interface {
	RegisterDefinition(symbol, file string, line int)
	RegisterReference(symbol, file string, line int)
} {
	return f.tags
}
