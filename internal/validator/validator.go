// Package validator implements the Harness Validator: a six-stage pipeline
// turning an agent response into a Success value or a typed failure, one
// of parse, compile, fuzzer run, coverage collection, coverage growth, or
// critical-path hit.
package validator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/zjy-dev/defuzz-harness/internal/corpus"
	"github.com/zjy-dev/defuzz-harness/internal/covmodel"
	"github.com/zjy-dev/defuzz-harness/internal/fuzzdrv"
	"github.com/zjy-dev/defuzz-harness/internal/staticsym"
)

// Kind discriminates the Validator's failure variants.
type Kind string

const (
	KindParse             Kind = "parse_error"
	KindCompile           Kind = "compile_error"
	KindFuzzer            Kind = "fuzzer_error"
	KindCoverageNotGrow   Kind = "coverage_not_grow"
	KindCriticalPathNoHit Kind = "critical_path_not_hit"
)

// Error is the common shape of every validator failure. Validator errors are
// values, never panics; stack traces are captured as plain strings for
// debugging only.
type Error interface {
	error
	Kind() Kind
}

type baseError struct {
	kind Kind
	msg  string
}

func (e *baseError) Error() string { return e.msg }
func (e *baseError) Kind() Kind    { return e.kind }

// ParseError is returned when the response has no well-formed fenced code
// block.
type ParseError struct{ *baseError }

// CompileError carries the compiler's stderr. Validate always leaves
// StackTrace empty: it does not recover from a panicking compile driver.
type CompileError struct {
	*baseError
	Stderr     string
	StackTrace string
}

// FuzzerError wraps an unhandled exception from the fuzzer run stage.
type FuzzerError struct {
	*baseError
	Cause error
}

// CoverageNotGrowError carries both coverage ratios for diagnostics.
type CoverageNotGrowError struct {
	*baseError
	LibRatio  float64
	GlobRatio float64
}

// PathLabel annotates one element of a candidate critical path for
// diagnostics in CriticalPathNotHitError.
type PathLabel string

const (
	LabelHit            PathLabel = "hit"
	LabelMiss           PathLabel = "miss"
	LabelInvalidLineno  PathLabel = "invalid-lineno"
	LabelInvalidFile    PathLabel = "invalid-filename"
)

// AnnotatedPath pairs a critical path with a per-element label.
type AnnotatedPath struct {
	Path   staticsym.CriticalPath
	Labels []PathLabel
}

// CriticalPathNotHitError carries every candidate path with its annotations.
type CriticalPathNotHitError struct {
	*baseError
	Paths []AnnotatedPath
}

func newParseError(msg string) *ParseError {
	return &ParseError{&baseError{kind: KindParse, msg: msg}}
}

func newCompileError(msg, stderr, stack string) *CompileError {
	return &CompileError{&baseError{kind: KindCompile, msg: msg}, stderr, stack}
}

func newFuzzerError(msg string, cause error) *FuzzerError {
	return &FuzzerError{&baseError{kind: KindFuzzer, msg: msg}, cause}
}

func newCoverageNotGrowError(libRatio, globRatio float64) *CoverageNotGrowError {
	return &CoverageNotGrowError{
		&baseError{kind: KindCoverageNotGrow, msg: "coverage did not grow"},
		libRatio, globRatio,
	}
}

func newCriticalPathNotHitError(paths []AnnotatedPath) *CriticalPathNotHitError {
	return &CriticalPathNotHitError{
		&baseError{kind: KindCriticalPathNoHit, msg: "no critical path fully hit"},
		paths,
	}
}

// Success is the terminal value of a validated harness.
type Success struct {
	Path           string
	CovLib         *covmodel.Coverage
	CovSelf        *covmodel.Coverage
	ValidatedPaths []staticsym.CriticalPath
}

// CompileDriver is the compile-stage collaborator: the clang+libFuzzer
// compile driver. GCCDriver below gives it a real implementation; only the
// contract is required by callers that supply their own.
type CompileDriver interface {
	// Compile writes source to workdir and produces a harness binary,
	// returning its path. A non-zero compiler exit becomes a CompileError.
	Compile(ctx context.Context, workdir, source, ext string) (binaryPath string, stderr string, err error)
}

// Options configures one Validate call.
type Options struct {
	Workdir     string
	CorpusDir   string
	Fuzzdict    string
	Ext         string
	Timeout     time.Duration
	TimeoutUnit time.Duration
	Verbose     bool
	BatchSize   int
	TargetAPIs  []staticsym.APIGadget
	TargetFunc  string // libFuzzer entry, default LLVMFuzzerTestOneInput
}

// Validator runs the six-stage pipeline.
type Validator struct {
	Compiler CompileDriver
	Driver   fuzzdrv.Driver
	Analyzer staticsym.Analyzer
}

// New returns a Validator wired to its three out-of-core collaborators.
func New(compiler CompileDriver, driver fuzzdrv.Driver, analyzer staticsym.Analyzer) *Validator {
	return &Validator{Compiler: compiler, Driver: driver, Analyzer: analyzer}
}

var codeBlockRe = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*\\n(.*?)```")

// Validate runs the pipeline against response, short-circuiting on the first
// failing stage.
func (v *Validator) Validate(ctx context.Context, response string, globalCov *covmodel.Coverage, opts Options) (*Success, error) {
	source, err := parseCodeBlock(response)
	if err != nil {
		return nil, err
	}

	if opts.Ext == "" {
		opts.Ext = "c"
	}
	if opts.TargetFunc == "" {
		opts.TargetFunc = "LLVMFuzzerTestOneInput"
	}
	if err := os.MkdirAll(opts.Workdir, 0o755); err != nil {
		return nil, fmt.Errorf("validator: prepare workdir: %w", err)
	}

	binaryPath, stderr, err := v.Compiler.Compile(ctx, opts.Workdir, source, opts.Ext)
	if err != nil {
		return nil, newCompileError(err.Error(), stderr, "")
	}

	// Each trial compiles a distinct harness binary; a driver that owns a
	// fixed binary path (LibFuzzerDriver) must be re-pointed at the new one.
	if rebinder, ok := v.Driver.(interface{ Rebind(binaryPath, workDir string) }); ok {
		rebinder.Rebind(binaryPath, opts.Workdir)
	}

	if err := v.runFuzzer(ctx, binaryPath, opts); err != nil {
		return nil, err
	}

	covLib, covSelf, err := v.collectCoverage(ctx, binaryPath, opts)
	if err != nil {
		return nil, err
	}

	knownBefore := globalCov.NonzeroBranches()
	grew := false
	for key := range covLib.NonzeroBranches() {
		if _, ok := knownBefore[key]; !ok {
			grew = true
			break
		}
	}
	if !grew {
		return nil, newCoverageNotGrowError(covLib.CoverageBranch(), globalCov.CoverageBranch())
	}

	sourcePath := filepath.Join(opts.Workdir, "source."+opts.Ext)
	validated, annotated, err := v.checkCriticalPath(sourcePath, source, covSelf, opts)
	if err != nil {
		return nil, err
	}
	if len(validated) == 0 {
		return nil, newCriticalPathNotHitError(annotated)
	}

	return &Success{
		Path:           binaryPath,
		CovLib:         covLib,
		CovSelf:        covSelf,
		ValidatedPaths: validated,
	}, nil
}

func parseCodeBlock(response string) (string, error) {
	m := codeBlockRe.FindStringSubmatch(response)
	if m == nil {
		return "", newParseError("no fenced code block found in response")
	}
	return strings.TrimRight(m[1], "\n"), nil
}

// runFuzzer launches the fuzzer non-blocking, polls at TimeoutUnit intervals
// tracking the coverage counter, and terminates early once two successive
// polls show no growth.
func (v *Validator) runFuzzer(ctx context.Context, binaryPath string, opts Options) error {
	logfile := filepath.Join(opts.Workdir, "fuzz.log")

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	_, err := v.Driver.Run(runCtx, fuzzdrv.RunOptions{
		CorpusDir: opts.CorpusDir,
		Dict:      opts.Fuzzdict,
		Wait:      false,
		Timeout:   opts.Timeout,
		Logfile:   logfile,
	})
	if err != nil {
		return newFuzzerError("failed to launch fuzzer", err)
	}

	unit := opts.TimeoutUnit
	if unit <= 0 {
		unit = time.Second
	}
	ticker := time.NewTicker(unit)
	defer ticker.Stop()

	var lastCov int64 = -1
	stale := 0
	for {
		select {
		case <-runCtx.Done():
			_ = v.Driver.Halt()
			return nil
		case <-ticker.C:
			code, err := v.Driver.Poll()
			if err != nil {
				return newFuzzerError("fuzzer exited abnormally", err)
			}
			if code != nil {
				return nil
			}
			cov, _ := v.Driver.Track(logfile)
			if cov <= lastCov {
				stale++
				if stale >= 2 {
					_ = v.Driver.Halt()
					return nil
				}
			} else {
				stale = 0
			}
			lastCov = cov
		}
	}
}

// collectCoverage minimizes the corpus and collects merged library/self
// coverage in parallel across the remaining items.
func (v *Validator) collectCoverage(ctx context.Context, binaryPath string, opts Options) (*covmodel.Coverage, *covmodel.Coverage, error) {
	working := corpus.New(opts.CorpusDir)
	snapshot := filepath.Join(opts.Workdir, "corpus.working")
	if err := working.Snapshot(snapshot); err != nil {
		return nil, nil, newFuzzerError("failed to snapshot corpus", err)
	}

	minDir, err := v.Driver.Minimize(ctx, snapshot, filepath.Join(opts.Workdir, "corpus.min"))
	if err != nil || minDir == "" {
		minDir = snapshot
	}

	items, err := corpus.New(minDir).List()
	if err != nil {
		return nil, nil, newFuzzerError("failed to read corpus directory", err)
	}

	concurrency := opts.BatchSize
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	ch, err := v.Driver.BatchRun(ctx, items, concurrency, fuzzdrv.RunOptions{Dict: opts.Fuzzdict}, true)
	if err != nil {
		return nil, nil, newFuzzerError("batch coverage collection failed to start", err)
	}

	covLib := covmodel.New()
	covSelf := covmodel.New()
	for res := range ch {
		if res.Err != nil {
			// A partial per-item failure never aborts the batch.
			continue
		}
		if res.CovLib != nil {
			covLib.Merge(res.CovLib)
		}
		if res.CovSelf != nil {
			covSelf.Merge(res.CovSelf)
		}
	}
	return covLib, covSelf, nil
}

// checkCriticalPath asks the analyzer for every maximal critical path and
// annotates + validates each against covSelf.
func (v *Validator) checkCriticalPath(sourcePath, source string, covSelf *covmodel.Coverage, opts Options) ([]staticsym.CriticalPath, []AnnotatedPath, error) {
	paths, err := v.Analyzer.ExtractCriticalPath(source, opts.TargetAPIs, opts.TargetFunc)
	if err != nil {
		return nil, nil, newFuzzerError("critical path extraction failed", err)
	}

	var validated []staticsym.CriticalPath
	var annotated []AnnotatedPath
	for _, path := range paths {
		labels := make([]PathLabel, len(path))
		ok := true
		for i, el := range path {
			if !el.HasLine {
				// No resolved source line for this element: the label is
				// diagnostic only, it does not participate in the pass/fail
				// decision below.
				labels[i] = LabelInvalidLineno
				continue
			}
			hit, known := covSelf.CoverLines(sourcePath, el.Lineno)
			if !known {
				labels[i] = LabelInvalidFile
				ok = false
			} else if hit {
				labels[i] = LabelHit
			} else {
				labels[i] = LabelMiss
				ok = false
			}
		}
		annotated = append(annotated, AnnotatedPath{Path: path, Labels: labels})
		if ok {
			validated = append(validated, path)
		}
	}
	return dedupPaths(validated), annotated, nil
}

func dedupPaths(paths []staticsym.CriticalPath) []staticsym.CriticalPath {
	seen := make(map[string]struct{})
	var out []staticsym.CriticalPath
	for _, p := range paths {
		key := strings.Join(p.Names(), ",")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
