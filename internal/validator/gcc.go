package validator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zjy-dev/defuzz-harness/internal/exec"
)

// GCCDriver compiles a harness source file against a target library using
// gcc/clang's libFuzzer sanitizer mode: write source into the given workdir, invoke
// the compiler through the injectable exec.Executor collaborator instead
// of os/exec directly, so compile failures can be exercised in tests
// without a real toolchain on PATH.
type GCCDriver struct {
	CompilerPath string
	Flags        []string
	IncludeDirs  []string
	LibPath      string
	Links        []string
	Executor     exec.Executor // defaults to exec.NewCommandExecutor()
}

func (d *GCCDriver) executor() exec.Executor {
	if d.Executor != nil {
		return d.Executor
	}
	return exec.NewCommandExecutor()
}

// Compile writes source to workdir/source.<ext> and invokes the compiler,
// producing workdir/prog.
func (d *GCCDriver) Compile(ctx context.Context, workdir, source, ext string) (string, string, error) {
	compiler := d.CompilerPath
	if compiler == "" {
		compiler = "clang"
	}

	sourcePath := filepath.Join(workdir, "source."+ext)
	if err := os.WriteFile(sourcePath, []byte(source), 0o644); err != nil {
		return "", "", fmt.Errorf("validator: write source: %w", err)
	}

	binaryPath := filepath.Join(workdir, "prog")

	args := append([]string{}, d.Flags...)
	for _, dir := range d.IncludeDirs {
		args = append(args, "-I"+dir)
	}
	args = append(args, sourcePath, "-o", binaryPath)
	if d.LibPath != "" {
		args = append(args, "-L"+d.LibPath)
	}
	for _, link := range d.Links {
		args = append(args, "-l"+link)
	}

	result, err := d.executor().Run(ctx, workdir, compiler, args...)
	if err != nil {
		return "", "", fmt.Errorf("gcc driver: invoke compiler: %w", err)
	}
	if result.ExitCode != 0 {
		return "", result.Stderr, fmt.Errorf("gcc driver: compile failed with exit code %d", result.ExitCode)
	}
	return binaryPath, "", nil
}
