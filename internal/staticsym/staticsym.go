// Package staticsym models the out-of-core static analysis collaborator:
// a clang AST/CFG extractor and a GNU GLOBAL-style tag index. Only the
// Go-facing contract lives here; parsing clang ASTs and LLVM IR
// control-flow graphs is explicitly out of scope. FakeAnalyzer is a
// deterministic in-memory stand-in used by tests and by callers that have
// not wired a real backend.
package staticsym

import (
	"fmt"
	"sort"
	"strings"
)

// Argument is one ordered parameter of an APIGadget.
type Argument struct {
	Name string // may be empty for unnamed parameters
	Type string
}

// APIGadget is a callable surface point of the target library.
type APIGadget struct {
	Name       string
	ReturnType string
	Arguments  []Argument
	Meta       map[string]string // source path, AST node id, etc.
}

// Signature renders the canonical single-line declaration used as the
// global identity key for this gadget.
func (g APIGadget) Signature() string {
	parts := make([]string, len(g.Arguments))
	for i, a := range g.Arguments {
		if a.Name != "" {
			parts[i] = fmt.Sprintf("%s %s", a.Type, a.Name)
		} else {
			parts[i] = a.Type
		}
	}
	return fmt.Sprintf("%s %s(%s)", g.ReturnType, g.Name, strings.Join(parts, ", "))
}

// TypeTag enumerates the kinds of user-declared types a TypeGadget can name.
type TypeTag string

const (
	TypeAlias  TypeTag = "alias"
	TypeStruct TypeTag = "struct"
	TypeClass  TypeTag = "class"
)

// TypeGadget is a user-declared type referenced by some APIGadget.
type TypeGadget struct {
	Name      string
	Tag       TypeTag
	Qualified string // underlying alias target, if Tag == TypeAlias
	Meta      map[string]string
}

// Signature renders the canonical identity key for this type.
func (t TypeGadget) Signature() string {
	if t.Qualified != "" {
		return fmt.Sprintf("%s %s = %s", t.Tag, t.Name, t.Qualified)
	}
	return fmt.Sprintf("%s %s", t.Tag, t.Name)
}

// PathElement is one step of a critical path: a gadget (or a bare name, when
// the analyzer could only resolve a mangled/heuristic symbol) plus the
// optional source line at which the call occurs.
type PathElement struct {
	Gadget  *APIGadget // nil if only a raw name was resolved
	Name    string     // always populated; mirrors Gadget.Name when Gadget != nil
	Lineno  int        // 0 means "unknown"
	HasLine bool
}

// CriticalPath is an ordered call sequence through a harness's CFG,
// projected onto the target API set.
type CriticalPath []PathElement

// Names returns the deduplicated, order-preserving list of gadget/raw names
// appearing in the path.
func (p CriticalPath) Names() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, el := range p {
		if _, ok := seen[el.Name]; ok {
			continue
		}
		seen[el.Name] = struct{}{}
		out = append(out, el.Name)
	}
	return out
}

// Analyzer is the Go-facing contract over the static analysis collaborator:
// an AST/CFG parser plus a symbol-tag index.
type Analyzer interface {
	// ParseAPIGadget extracts every callable surface point declared in
	// source (a header tree root or a single header file).
	ParseAPIGadget(source string) ([]APIGadget, error)

	// ParseTypeGadget extracts every user-declared type in source.
	ParseTypeGadget(source string) ([]TypeGadget, error)

	// RetrieveType returns the subset of types whose name equals the api's
	// return type or any of its argument types.
	RetrieveType(api APIGadget, types []TypeGadget) []TypeGadget

	// ExtractCriticalPath returns all maximal-length acyclic call sequences
	// through the CFG of target (default: the libFuzzer entry function) in
	// harnessSource, restricted to gadgets if non-empty. Ties are preserved
	// (all maxima returned, deduplicated).
	ExtractCriticalPath(harnessSource string, gadgets []APIGadget, target string) ([]CriticalPath, error)

	// Tags is the symbol-tag index (GNU GLOBAL-style find-definition /
	// find-references).
	Tags() TagIndex
}

// TagIndex resolves symbol definitions and references to file/line
// locations.
type TagIndex interface {
	FindDefinition(symbol string) (map[string][]int, error)
	FindReferences(symbol string) (map[string][]int, error)
}

// RetrieveTypesForGadget is a free function implementing the default
// RetrieveType behavior, reusable by any Analyzer implementation.
func RetrieveTypesForGadget(api APIGadget, types []TypeGadget) []TypeGadget {
	wanted := make(map[string]struct{})
	wanted[api.ReturnType] = struct{}{}
	for _, a := range api.Arguments {
		wanted[a.Type] = struct{}{}
	}

	var out []TypeGadget
	for _, t := range types {
		if _, ok := wanted[t.Name]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
