package validator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/defuzz-harness/internal/exec"
)

func TestGCCDriverCompileWritesSourceEvenOnFailure(t *testing.T) {
	workdir := t.TempDir()
	d := &GCCDriver{CompilerPath: "defuzz-harness-nonexistent-compiler"}

	_, _, err := d.Compile(context.Background(), workdir, "int main(){return 0;}", "c")
	require.Error(t, err)

	data, readErr := os.ReadFile(filepath.Join(workdir, "source.c"))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "int main")
}

func TestGCCDriverDefaultsToClang(t *testing.T) {
	fake := &exec.FakeExecutor{}
	d := &GCCDriver{Executor: fake}
	assert.Equal(t, "", d.CompilerPath)

	_, _, err := d.Compile(context.Background(), t.TempDir(), "int main(){return 0;}", "c")
	require.NoError(t, err)
	require.Len(t, fake.Calls, 1)
	assert.Equal(t, "clang", fake.Calls[0].Command)
}

func TestGCCDriverCompileSucceedsWithFakeExecutor(t *testing.T) {
	workdir := t.TempDir()
	fake := &exec.FakeExecutor{Result: &exec.ExecutionResult{ExitCode: 0}}
	d := &GCCDriver{CompilerPath: "clang", IncludeDirs: []string{"/usr/include/widget"}, LibPath: "/usr/lib", Links: []string{"widget"}, Executor: fake}

	binaryPath, stderr, err := d.Compile(context.Background(), workdir, "int main(){return 0;}", "c")
	require.NoError(t, err)
	assert.Empty(t, stderr)
	assert.Equal(t, filepath.Join(workdir, "prog"), binaryPath)

	require.Len(t, fake.Calls, 1)
	assert.Equal(t, "clang", fake.Calls[0].Command)
	assert.Contains(t, fake.Calls[0].Args, "-I/usr/include/widget")
	assert.Contains(t, fake.Calls[0].Args, "-L/usr/lib")
	assert.Contains(t, fake.Calls[0].Args, "-lwidget")
}

func TestGCCDriverCompileReportsNonZeroExit(t *testing.T) {
	workdir := t.TempDir()
	fake := &exec.FakeExecutor{Result: &exec.ExecutionResult{ExitCode: 1, Stderr: "undefined reference to `widget_init'"}}
	d := &GCCDriver{Executor: fake}

	_, stderr, err := d.Compile(context.Background(), workdir, "int main(){return 0;}", "c")
	require.Error(t, err)
	assert.Contains(t, stderr, "undefined reference")
}
