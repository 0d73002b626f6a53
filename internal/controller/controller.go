// Package controller implements the Iteration Controller: the outer
// per-trial loop that persists state, asks the Mutator for a target API
// combination, renders a prompt, drives the Agent, dispatches the
// Validator's result, and checks convergence.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zjy-dev/defuzz-harness/internal/agent"
	"github.com/zjy-dev/defuzz-harness/internal/covmodel"
	"github.com/zjy-dev/defuzz-harness/internal/layout"
	"github.com/zjy-dev/defuzz-harness/internal/logger"
	"github.com/zjy-dev/defuzz-harness/internal/mutator"
	"github.com/zjy-dev/defuzz-harness/internal/statefile"
	"github.com/zjy-dev/defuzz-harness/internal/staticsym"
	"github.com/zjy-dev/defuzz-harness/internal/validator"
)

// Trial is the monotonically non-decreasing counter set for one run.
type Trial struct {
	Number              int     `json:"trial"`
	FailureAgent        int     `json:"failure_agent"`
	FailureParse        int     `json:"failure_parse"`
	FailureCompile      int     `json:"failure_compile"`
	FailureFuzzer       int     `json:"failure_fuzzer"`
	FailureCoverage     int     `json:"failure_coverage"`
	FailureCriticalPath int     `json:"failure_critical_path"`
	Success             int     `json:"success"`
	LLMCall             int     `json:"llm_call"`
	Converged           bool    `json:"converged"`
	Cost                float64 `json:"cost"`
}

// Covered is the triple of Coverage values owned by the controller.
type Covered struct {
	Global   *covmodel.Coverage `json:"global_"`
	Prompted *covmodel.Coverage `json:"prompted"`
	Executed *covmodel.Coverage `json:"executed"`
}

func newCovered() Covered {
	return Covered{Global: covmodel.New(), Prompted: covmodel.New(), Executed: covmodel.New()}
}

// persistedState is the JSON round-trip shape of state/latest.json.
type persistedState struct {
	Trial   Trial           `json:"trial"`
	Covered Covered         `json:"covered"`
	Mutator json.RawMessage `json:"mutator"`
}

// PromptRenderer is the out-of-core markdown prompt templating collaborator:
// it projects the library name, a bounded API sample, the relevant type
// gadgets, and the combination list into chat messages.
type PromptRenderer interface {
	Render(projectName string, sampleAPIs []staticsym.APIGadget, types []staticsym.TypeGadget, combination []staticsym.APIGadget) ([]openai.ChatCompletionMessage, error)
}

// ConvergenceFunc decides whether the controller should stop. The baseline
// is BaselineConvergence.
type ConvergenceFunc func(t Trial, quota float64) bool

// BaselineConvergence converges as soon as any trial has succeeded, or the
// accumulated cost reaches quota.
func BaselineConvergence(t Trial, quota float64) bool {
	return t.Success > 0 || t.Cost >= quota
}

// Options configures one Controller.
type Options struct {
	ProjectName   string
	Ext           string
	MaxAPIs       int
	MinLen        int
	MaxLen        int
	Model         string
	Temperature   float32
	MaxTurns      int
	Quota         float64
	LoadFromState bool
	Convergence   ConvergenceFunc
	ValidatorOpts validator.Options
	RandSource    *rand.Rand
}

// Controller wires together the Mutator, Agent, Validator, and persisted
// state into the outer trial loop.
type Controller struct {
	opts      Options
	store     *statefile.Store
	layout    *layout.Workdir
	mutator   *mutator.Mutator
	agent     *agent.Agent
	validator *validator.Validator
	renderer  PromptRenderer
	allTypes  []staticsym.TypeGadget
	rng       *rand.Rand

	trial   Trial
	covered Covered
}

// New builds a Controller. gadgets/types seed the Mutator on first run;
// on resume (Options.LoadFromState), the persisted Mutator state overrides
// the gadget universe entirely.
func New(opts Options, wd *layout.Workdir, gadgets []staticsym.APIGadget, types []staticsym.TypeGadget, a *agent.Agent, v *validator.Validator, renderer PromptRenderer) (*Controller, error) {
	if opts.Convergence == nil {
		opts.Convergence = BaselineConvergence
	}
	rng := opts.RandSource
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	c := &Controller{
		opts:      opts,
		store:     statefile.New(wd.StateFile()),
		layout:    wd,
		mutator:   mutator.New(gadgets, 1.0, rng),
		agent:     a,
		validator: v,
		renderer:  renderer,
		allTypes:  types,
		rng:       rng,
		covered:   newCovered(),
	}

	if opts.LoadFromState && c.store.Exists() {
		if err := c.resume(); err != nil {
			return nil, fmt.Errorf("controller: resume: %w", err)
		}
	}
	return c, nil
}

func (c *Controller) resume() error {
	var s persistedState
	if err := c.store.Load(&s); err != nil {
		return err
	}
	c.trial = s.Trial
	c.covered = s.Covered
	if c.covered.Global == nil {
		c.covered.Global = covmodel.New()
	}
	if c.covered.Prompted == nil {
		c.covered.Prompted = covmodel.New()
	}
	if c.covered.Executed == nil {
		c.covered.Executed = covmodel.New()
	}
	if len(s.Mutator) > 0 {
		if err := c.mutator.Load(s.Mutator); err != nil {
			return fmt.Errorf("restore mutator: %w", err)
		}
	}
	c.trial.Number++ // resume from the next trial number
	return nil
}

func (c *Controller) persist() error {
	mutDump, err := c.mutator.Dump()
	if err != nil {
		return err
	}
	return c.store.Save(persistedState{
		Trial:   c.trial,
		Covered: c.covered,
		Mutator: mutDump,
	})
}

// Run drives trials until convergence or quota exhaustion. Ordering is
// strict: trial N+1 never starts before trial N is persisted.
func (c *Controller) Run(ctx context.Context) (Trial, error) {
	for {
		if err := c.persist(); err != nil {
			return c.trial, err
		}

		if c.opts.Convergence(c.trial, c.opts.Quota) {
			c.trial.Converged = true
			if err := c.persist(); err != nil {
				return c.trial, err
			}
			return c.trial, nil
		}

		if err := c.runOneTrial(ctx); err != nil {
			// Agent failures are fatal: unlike a validator failure kind, they
			// signal a systemic problem (bad prompt, dead endpoint) rather
			// than a bad sample, so the run stops instead of trying trial N+1.
			_ = c.persist()
			return c.trial, err
		}
		t := c.trial
		logger.Info("trial %d: success=%d parse=%d compile=%d fuzzer=%d coverage=%d critical_path=%d agent=%d cost=%.4f global_cov=%.4f",
			t.Number, t.Success, t.FailureParse, t.FailureCompile, t.FailureFuzzer, t.FailureCoverage,
			t.FailureCriticalPath, t.FailureAgent, t.Cost, c.covered.Global.CoverageBranch())
		c.trial.Number++
	}
}

func (c *Controller) runOneTrial(ctx context.Context) error {
	targets := c.mutator.Select(c.covered.Global, c.opts.MinLen, c.opts.MaxLen)
	for _, g := range targets {
		c.covered.Prompted.AddBranchHit(g.Name, covmodel.BranchID(0, 0, 0), 0)
	}

	sample := boundedSample(c.rng, c.mutator.Gadgets, c.opts.MaxAPIs)
	types := relevantTypes(targets, c.allTypes)
	messages, err := c.renderer.Render(c.opts.ProjectName, sample, types, targets)
	if err != nil {
		c.trial.FailureAgent++
		return fmt.Errorf("controller: render prompt: %w", err)
	}

	resp, err := c.agent.Run(ctx, c.opts.Model, messages, nil, c.opts.Temperature, c.opts.MaxTurns, nil)
	c.trial.LLMCall++
	if resp != nil && resp.Billing != nil {
		c.trial.Cost += resp.Billing.CostUSD
	}
	if err != nil {
		c.trial.FailureAgent++
		return fmt.Errorf("controller: agent call: %w", err)
	}

	if resp.Validated != nil {
		return c.handleSuccess(resp.Validated)
	}

	vopts := c.opts.ValidatorOpts
	vopts.Workdir = c.layout.WorkDir(c.trial.Number)
	vopts.TargetAPIs = targets
	success, verr := c.validator.Validate(ctx, resp.Text, c.covered.Global, vopts)
	if verr == nil {
		return c.handleSuccess(success)
	}
	return c.handleFailure(verr)
}

func (c *Controller) handleSuccess(raw interface{}) error {
	success, ok := raw.(*validator.Success)
	if !ok {
		c.trial.FailureAgent++
		return nil
	}

	harnessPath := c.layout.HarnessPath(c.trial.Number, c.opts.Ext)
	if err := copyFile(success.Path, harnessPath); err != nil {
		return fmt.Errorf("controller: copy harness: %w", err)
	}

	c.covered.Global.Merge(success.CovLib)
	for _, path := range success.ValidatedPaths {
		for _, name := range path.Names() {
			c.covered.Executed.AddBranchHit(name, covmodel.BranchID(0, 0, 0), 1)
		}
		c.mutator.AppendSeeds(harnessPath, success.CovSelf, path)
	}
	c.trial.Success++
	return nil
}

func (c *Controller) handleFailure(err error) error {
	verr, ok := err.(validator.Error)
	if !ok {
		c.trial.FailureAgent++
		return nil
	}

	switch verr.Kind() {
	case validator.KindParse:
		c.trial.FailureParse++
	case validator.KindCompile:
		c.trial.FailureCompile++
	case validator.KindFuzzer:
		c.trial.FailureFuzzer++
	case validator.KindCoverageNotGrow:
		c.trial.FailureCoverage++
	case validator.KindCriticalPathNoHit:
		c.trial.FailureCriticalPath++
	}

	kind := string(verr.Kind())
	kindDir := c.layout.ExceptionDir(kind, c.trial.Number)
	return writeFailureFile(kindDir, kind, verr.Error())
}

// boundedSample returns up to n gadgets chosen uniformly at random from
// gadgets without replacement, preserving gadgets' relative order when
// n >= len(gadgets).
func boundedSample(rng *rand.Rand, gadgets []staticsym.APIGadget, n int) []staticsym.APIGadget {
	if n <= 0 || n >= len(gadgets) {
		return append([]staticsym.APIGadget(nil), gadgets...)
	}
	shuffled := append([]staticsym.APIGadget(nil), gadgets...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

// relevantTypes aggregates, deduplicated, the type gadgets referenced by any
// target's return or argument types.
func relevantTypes(targets []staticsym.APIGadget, all []staticsym.TypeGadget) []staticsym.TypeGadget {
	seen := make(map[string]struct{})
	var out []staticsym.TypeGadget
	for _, g := range targets {
		for _, t := range staticsym.RetrieveTypesForGadget(g, all) {
			if _, ok := seen[t.Name]; ok {
				continue
			}
			seen[t.Name] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func writeFailureFile(dir, kind, content string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "failure_"+kind+".txt"), []byte(content), 0o644)
}
