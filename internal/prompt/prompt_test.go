package prompt

import (
	"os"
	"path/filepath"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/defuzz-harness/internal/staticsym"
)

func TestRenderSplitsIntoRoleMessages(t *testing.T) {
	r := New()
	messages, err := r.Render("widgetlib",
		[]staticsym.APIGadget{{Name: "widget_init", ReturnType: "int"}},
		[]staticsym.TypeGadget{{Name: "widget_t", Tag: staticsym.TypeStruct}},
		[]staticsym.APIGadget{{Name: "widget_open", ReturnType: "int"}})

	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, messages[1].Role)
	assert.Contains(t, messages[1].Content, "widgetlib")
	assert.Contains(t, messages[1].Content, "widget_open")
}

func TestRenderNoRoleHeadersErrors(t *testing.T) {
	r := &Renderer{Template: "no headers here"}
	_, err := r.Render("x", nil, nil, nil)
	assert.Error(t, err)
}

func TestFromFileLoadsCustomTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.md")
	require.NoError(t, os.WriteFile(path, []byte("##### system\nhello {{.ProjectName}}\n"), 0o644))

	r, err := FromFile(path)
	require.NoError(t, err)

	messages, err := r.Render("widgetlib", nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello widgetlib", messages[0].Content)
}

func TestFromFileMissingFileErrors(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}
