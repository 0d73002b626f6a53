// Package prompt renders the per-trial prompt: a markdown template split
// on "##### {role}" headers into OpenAI-format chat messages, filled with
// the project name, a bounded API sample, the relevant type gadgets, and
// the target combination.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zjy-dev/defuzz-harness/internal/staticsym"
)

// DefaultTemplate is the built-in system/user prompt pair.
const DefaultTemplate = `##### system
You are an expert C/C++ fuzzing engineer. Given a library's API surface,
write a single self-contained libFuzzer harness.

Requirements:
- Define exactly one entry point with the fixed signature
  extern "C" int LLVMFuzzerTestOneInput(const uint8_t *data, size_t size).
- Call into {{.ProjectName}} using the target APIs listed below.
- Output only a single fenced code block; no other prose.

##### user
Project: {{.ProjectName}}

Target API combination (call these, in any order that compiles):
{{range .Combination}}- {{.Signature}}
{{end}}
Relevant type declarations:
{{range .Types}}- {{.Signature}}
{{end}}
Broader API sample for context (you do not need to call all of these):
{{range .SampleAPIs}}- {{.Signature}}
{{end}}
`

var roleHeaderRe = regexp.MustCompile(`(?m)^#####\s*(\w+)\s*$`)

type templateData struct {
	ProjectName string
	SampleAPIs  []staticsym.APIGadget
	Types       []staticsym.TypeGadget
	Combination []staticsym.APIGadget
}

// Renderer renders chat messages from a markdown template.
type Renderer struct {
	Template string
}

// New returns a Renderer using DefaultTemplate.
func New() *Renderer {
	return &Renderer{Template: DefaultTemplate}
}

// FromFile returns a Renderer whose template is read from path.
func FromFile(path string) (*Renderer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt: read template %s: %w", path, err)
	}
	return &Renderer{Template: string(data)}, nil
}

// Render fills the template and splits the result into role-tagged chat
// messages.
func (r *Renderer) Render(projectName string, sampleAPIs []staticsym.APIGadget, types []staticsym.TypeGadget, combination []staticsym.APIGadget) ([]openai.ChatCompletionMessage, error) {
	tmpl, err := template.New("prompt").Parse(r.Template)
	if err != nil {
		return nil, fmt.Errorf("prompt: parse template: %w", err)
	}

	var buf bytes.Buffer
	data := templateData{ProjectName: projectName, SampleAPIs: sampleAPIs, Types: types, Combination: combination}
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("prompt: execute template: %w", err)
	}

	return splitMessages(buf.String())
}

// splitMessages splits rendered markdown on "##### {role}" headers into
// chat messages, preserving document order.
func splitMessages(rendered string) ([]openai.ChatCompletionMessage, error) {
	locs := roleHeaderRe.FindAllStringSubmatchIndex(rendered, -1)
	if len(locs) == 0 {
		return nil, fmt.Errorf("prompt: no role headers (##### role) found in template")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(locs))
	for i, loc := range locs {
		role := rendered[loc[2]:loc[3]]
		contentStart := loc[1]
		contentEnd := len(rendered)
		if i+1 < len(locs) {
			contentEnd = locs[i+1][0]
		}
		content := strings.TrimSpace(rendered[contentStart:contentEnd])
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: content})
	}
	return messages, nil
}
