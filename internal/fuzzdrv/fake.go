package fuzzdrv

import (
	"context"
	"fmt"
	"sync"

	"github.com/zjy-dev/defuzz-harness/internal/covmodel"
)

// FakeDriver is a deterministic in-memory Driver for tests: Run/BatchRun
// never spawn a process. Outcomes are scripted per corpus directory so test
// scenarios (success, fuzzer crash, timeout) are reproducible without a real
// libFuzzer binary.
type FakeDriver struct {
	mu sync.Mutex

	// Outcomes maps a corpus directory to its scripted (exit code, error,
	// coverage) result. A directory absent from this map defaults to exit
	// code 0 and the DefaultCov pair.
	Outcomes map[string]FakeOutcome
	// DefaultCov is returned for BatchRun items with no scripted outcome.
	DefaultCov *covmodel.Coverage
	// TrackValue is returned verbatim by Track.
	TrackValue int64
	// MinimizeOutdir, if non-empty, is returned by Minimize; empty means
	// minimization is a no-op passthrough of corpusDir.
	MinimizeOutdir string

	running bool
	halted  int
	cleared int
}

// FakeOutcome scripts one corpus item's BatchRun/Run result.
type FakeOutcome struct {
	Code    int
	Err     error
	CovLib  *covmodel.Coverage
	CovSelf *covmodel.Coverage
}

// NewFakeDriver returns an empty FakeDriver; populate Outcomes before use.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{Outcomes: make(map[string]FakeOutcome)}
}

func (f *FakeDriver) Minimize(ctx context.Context, corpusDir, outdir string) (string, error) {
	if f.MinimizeOutdir != "" {
		return f.MinimizeOutdir, nil
	}
	return corpusDir, nil
}

func (f *FakeDriver) Run(ctx context.Context, opts RunOptions) (*int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	outcome, ok := f.Outcomes[opts.CorpusDir]
	if !ok {
		code := 0
		return &code, nil
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	code := outcome.Code
	f.running = false
	return &code, nil
}

func (f *FakeDriver) Poll() (*int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil, nil
	}
	code := 0
	return &code, nil
}

func (f *FakeDriver) Halt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halted++
	f.running = false
	return nil
}

func (f *FakeDriver) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

// HaltCount and ClearCount let tests assert lifecycle cleanup happened.
func (f *FakeDriver) HaltCount() int  { f.mu.Lock(); defer f.mu.Unlock(); return f.halted }
func (f *FakeDriver) ClearCount() int { f.mu.Lock(); defer f.mu.Unlock(); return f.cleared }

func (f *FakeDriver) Track(logfile string) (int64, error) {
	return f.TrackValue, nil
}

func (f *FakeDriver) Coverage(ctx context.Context, itself bool, target, profile string) (*covmodel.Coverage, error) {
	if f.DefaultCov != nil {
		return f.DefaultCov, nil
	}
	return covmodel.New(), nil
}

func (f *FakeDriver) BatchRun(ctx context.Context, corpusDirs []string, concurrency int, opts RunOptions, returnCov bool) (<-chan BatchResult, error) {
	out := make(chan BatchResult, len(corpusDirs))
	go func() {
		defer close(out)
		for _, dir := range corpusDirs {
			select {
			case <-ctx.Done():
				out <- BatchResult{Dir: dir, Err: fmt.Errorf("fuzzdrv: %w", ctx.Err())}
				continue
			default:
			}

			f.mu.Lock()
			outcome, ok := f.Outcomes[dir]
			f.mu.Unlock()

			if !ok {
				res := BatchResult{Dir: dir, Code: 0}
				if returnCov {
					res.CovLib = f.defaultCovOrEmpty()
					res.CovSelf = f.defaultCovOrEmpty()
				}
				out <- res
				continue
			}
			if outcome.Err != nil {
				out <- BatchResult{Dir: dir, Err: outcome.Err}
				continue
			}
			res := BatchResult{Dir: dir, Code: outcome.Code}
			if returnCov {
				res.CovLib = outcome.CovLib
				res.CovSelf = outcome.CovSelf
			}
			out <- res
		}
	}()
	return out, nil
}

func (f *FakeDriver) defaultCovOrEmpty() *covmodel.Coverage {
	if f.DefaultCov != nil {
		return f.DefaultCov
	}
	return covmodel.New()
}
