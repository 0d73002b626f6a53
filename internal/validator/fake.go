package validator

import "context"

// FakeCompileDriver is a deterministic in-memory CompileDriver for tests.
type FakeCompileDriver struct {
	BinaryPath string
	Stderr     string
	Err        error
}

// Compile returns the scripted outcome, ignoring the actual source text.
func (f *FakeCompileDriver) Compile(ctx context.Context, workdir, source, ext string) (string, string, error) {
	if f.Err != nil {
		return "", f.Stderr, f.Err
	}
	path := f.BinaryPath
	if path == "" {
		path = workdir + "/prog"
	}
	return path, "", nil
}
