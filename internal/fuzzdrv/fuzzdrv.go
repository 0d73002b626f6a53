// Package fuzzdrv models the out-of-core fuzzer-process collaborator: an
// abstract contract over libFuzzer's run/poll/halt/minimize/batch_run/
// coverage lifecycle. Only the Go-facing contract lives here; FakeDriver is
// a deterministic in-memory stand-in for tests, and LibFuzzerDriver models
// the real subprocess lifecycle.
package fuzzdrv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zjy-dev/defuzz-harness/internal/covmodel"
)

// RunOptions configures a single fuzzer invocation.
type RunOptions struct {
	CorpusDir string
	Dict      string
	Wait      bool
	Timeout   time.Duration
	Runs      int // -runs=N; 0 means unbounded (fuzzing mode)
	Profile   string
	Logfile   string
}

// BatchResult is one entry of BatchRun's result stream: the corpus item's
// directory, its exit outcome (exactly one of Code/Err populated), and its
// coverage pair when requested.
type BatchResult struct {
	Dir     string
	Code    int
	Err     error
	CovLib  *covmodel.Coverage
	CovSelf *covmodel.Coverage
}

// Driver is the Go-facing contract over the fuzzer-process collaborator.
type Driver interface {
	// Minimize best-effort minimizes corpusDir (libFuzzer -merge=1 idiom)
	// into outdir, returning outdir on success or "" if minimization could
	// not be performed.
	Minimize(ctx context.Context, corpusDir, outdir string) (string, error)

	// Run launches or completes one fuzzer invocation. If opts.Wait is
	// false and the process is still running, Run returns (nil, nil) and a
	// subsequent Poll observes completion.
	Run(ctx context.Context, opts RunOptions) (*int, error)

	// Poll reports the most recently launched asynchronous run's state:
	// nil while running, a non-nil exit code on completion.
	Poll() (*int, error)

	// Halt kills the most recently launched asynchronous run, if any.
	Halt() error

	// Clear releases all resources held by the driver (file descriptors,
	// reaped children). Safe to call multiple times.
	Clear() error

	// Track returns a best-effort scalar coverage signal read from
	// logfile, used for growth-based early termination.
	Track(logfile string) (int64, error)

	// Coverage returns the finalized per-run Coverage parsed from profile.
	// itself selects harness-self coverage instead of library coverage.
	Coverage(ctx context.Context, itself bool, target, profile string) (*covmodel.Coverage, error)

	// BatchRun executes one run per entry of corpusDirs in parallel,
	// isolated by private working directory and profile file, and streams
	// results back. concurrency <= 0 means "use CPU count".
	BatchRun(ctx context.Context, corpusDirs []string, concurrency int, opts RunOptions, returnCov bool) (<-chan BatchResult, error)
}

// LibFuzzerDriver drives a real libFuzzer binary as a subprocess. It models
// the async run/poll/kill cycle: Run launches the process and returns
// immediately unless Wait is set; Poll/Halt act on the most recent launch.
type LibFuzzerDriver struct {
	binaryPath string
	workDir    string

	mu      sync.Mutex
	cmd     *exec.Cmd
	exitErr error
	done    chan struct{}
}

// NewLibFuzzerDriver returns a driver that invokes binaryPath, a libFuzzer
// harness binary, from workDir.
func NewLibFuzzerDriver(binaryPath, workDir string) *LibFuzzerDriver {
	return &LibFuzzerDriver{binaryPath: binaryPath, workDir: workDir}
}

// Rebind points the driver at a freshly compiled binary and its working
// directory. Each validation trial compiles a distinct harness program, so
// the driver owning that binary's path must be re-pointed before driving it.
func (d *LibFuzzerDriver) Rebind(binaryPath, workDir string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.binaryPath = binaryPath
	d.workDir = workDir
}

func (d *LibFuzzerDriver) Minimize(ctx context.Context, corpusDir, outdir string) (string, error) {
	if outdir == "" {
		outdir = corpusDir + ".min"
	}
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return "", fmt.Errorf("fuzzdrv: prepare minimize outdir: %w", err)
	}
	args := []string{"-merge=1", outdir, corpusDir}
	cmd := exec.CommandContext(ctx, d.binaryPath, args...)
	cmd.Dir = d.workDir
	if err := cmd.Run(); err != nil {
		// Minimization is best-effort: a failure here does not abort the
		// pipeline, it just means the caller keeps the unminimized corpus.
		return "", nil
	}
	return outdir, nil
}

func (d *LibFuzzerDriver) Run(ctx context.Context, opts RunOptions) (*int, error) {
	d.mu.Lock()
	if d.cmd != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("fuzzdrv: run already in progress")
	}

	args := []string{}
	if opts.CorpusDir != "" {
		args = append(args, opts.CorpusDir)
	}
	if opts.Dict != "" {
		args = append(args, "-dict="+opts.Dict)
	}
	if opts.Runs > 0 {
		args = append(args, fmt.Sprintf("-runs=%d", opts.Runs))
	}
	if opts.Timeout > 0 {
		args = append(args, fmt.Sprintf("-max_total_time=%d", int(opts.Timeout.Seconds())))
	}

	cmd := exec.Command(d.binaryPath, args...)
	cmd.Dir = d.workDir
	if opts.Profile != "" {
		cmd.Env = append(os.Environ(), "LLVM_PROFILE_FILE="+opts.Profile)
	}
	if opts.Logfile != "" {
		f, err := os.Create(opts.Logfile)
		if err != nil {
			d.mu.Unlock()
			return nil, fmt.Errorf("fuzzdrv: create logfile: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("fuzzdrv: start fuzzer: %w", err)
	}
	d.cmd = cmd
	d.done = make(chan struct{})
	done := d.done
	d.mu.Unlock()

	go func() {
		err := cmd.Wait()
		d.mu.Lock()
		d.exitErr = err
		d.mu.Unlock()
		close(done)
	}()

	if !opts.Wait {
		return nil, nil
	}

	select {
	case <-done:
		return d.Poll()
	case <-ctx.Done():
		_ = d.Halt()
		return nil, ctx.Err()
	}
}

func (d *LibFuzzerDriver) Poll() (*int, error) {
	d.mu.Lock()
	cmd, done := d.cmd, d.done
	d.mu.Unlock()
	if cmd == nil {
		return nil, fmt.Errorf("fuzzdrv: no run in progress")
	}

	select {
	case <-done:
		d.mu.Lock()
		code := 0
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		exitErr := d.exitErr
		d.cmd = nil
		d.mu.Unlock()
		if exitErr != nil {
			if _, ok := exitErr.(*exec.ExitError); !ok {
				return nil, fmt.Errorf("fuzzdrv: wait fuzzer: %w", exitErr)
			}
		}
		return &code, nil
	default:
		return nil, nil
	}
}

func (d *LibFuzzerDriver) Halt() error {
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGKILL); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("fuzzdrv: kill fuzzer: %w", err)
	}
	return nil
}

func (d *LibFuzzerDriver) Clear() error {
	return d.Halt()
}

func (d *LibFuzzerDriver) Track(logfile string) (int64, error) {
	data, err := os.ReadFile(logfile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("fuzzdrv: read logfile: %w", err)
	}
	return parseCovSummary(data), nil
}

func (d *LibFuzzerDriver) Coverage(ctx context.Context, itself bool, target, profile string) (*covmodel.Coverage, error) {
	data, err := os.ReadFile(profile)
	if err != nil {
		return nil, fmt.Errorf("fuzzdrv: read profile %s: %w", profile, err)
	}
	return parseLCOV(data, itself, target)
}

func (d *LibFuzzerDriver) BatchRun(ctx context.Context, corpusDirs []string, concurrency int, opts RunOptions, returnCov bool) (<-chan BatchResult, error) {
	if concurrency <= 0 {
		concurrency = runtimeNumCPU()
	}

	out := make(chan BatchResult, len(corpusDirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, dir := range corpusDirs {
		i, dir := i, dir
		g.Go(func() error {
			res := d.runOneBatchItem(gctx, i, dir, opts, returnCov)
			out <- res
			return nil // partial failures surface in BatchResult.Err, never abort the batch
		})
	}

	go func() {
		_ = g.Wait()
		close(out)
	}()

	return out, nil
}

func (d *LibFuzzerDriver) runOneBatchItem(ctx context.Context, idx int, dir string, opts RunOptions, returnCov bool) BatchResult {
	workDir, err := os.MkdirTemp("", fmt.Sprintf("fuzzdrv-batch-%d-", idx))
	if err != nil {
		return BatchResult{Dir: dir, Err: fmt.Errorf("fuzzdrv: batch workdir: %w", err)}
	}
	defer os.RemoveAll(workDir)

	worker := NewLibFuzzerDriver(d.binaryPath, workDir)
	itemOpts := opts
	itemOpts.CorpusDir = dir
	itemOpts.Runs = 1
	itemOpts.Wait = true
	itemOpts.Profile = filepath.Join(workDir, "profile.profraw")
	itemOpts.Logfile = filepath.Join(workDir, "run.log")

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	code, err := worker.Run(runCtx, itemOpts)
	if err != nil {
		return BatchResult{Dir: dir, Err: err}
	}

	res := BatchResult{Dir: dir}
	if code != nil {
		res.Code = *code
	}

	if returnCov {
		covLib, covErr := worker.Coverage(ctx, false, "", itemOpts.Profile)
		if covErr == nil {
			res.CovLib = covLib
		}
		covSelf, covErr := worker.Coverage(ctx, true, "", itemOpts.Profile)
		if covErr == nil {
			res.CovSelf = covSelf
		}
	}
	return res
}
