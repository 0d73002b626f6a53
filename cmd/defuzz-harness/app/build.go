package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjy-dev/defuzz-harness/internal/agent"
	"github.com/zjy-dev/defuzz-harness/internal/config"
	"github.com/zjy-dev/defuzz-harness/internal/controller"
	"github.com/zjy-dev/defuzz-harness/internal/corpus"
	"github.com/zjy-dev/defuzz-harness/internal/fuzzdrv"
	"github.com/zjy-dev/defuzz-harness/internal/layout"
	"github.com/zjy-dev/defuzz-harness/internal/prompt"
	"github.com/zjy-dev/defuzz-harness/internal/staticsym"
	"github.com/zjy-dev/defuzz-harness/internal/validator"
)

// gadgetFixture is the on-disk shape of the --gadgets file: the static
// analysis collaborator's precomputed output (a live clang/GNU-GLOBAL
// backend is deliberately out of scope), loaded as a prior "understanding"
// snapshot from disk instead of re-parsing the target on every run.
type gadgetFixture struct {
	APIs  []staticsym.APIGadget  `json:"apis"`
	Types []staticsym.TypeGadget `json:"types"`
}

func loadGadgets(path string) (gadgetFixture, error) {
	var fx gadgetFixture
	data, err := os.ReadFile(path)
	if err != nil {
		return fx, fmt.Errorf("read gadgets file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &fx); err != nil {
		return fx, fmt.Errorf("parse gadgets file %s: %w", path, err)
	}
	return fx, nil
}

// buildOptions collects the flags shared by run and resume; both commands
// assemble the same composition root and differ only in whether the
// controller resumes from persisted state.
type buildOptions struct {
	ConfigPath  string
	WorkDir     string
	GadgetsPath string
	PromptPath  string
	BaseURL     string
	Resume      bool
}

// build assembles the full collaborator graph (config, corpus, compile
// driver, fuzzer driver, static-analysis fixture, agent, prompt renderer)
// and wires it into a Controller, ready to Run.
func build(o buildOptions) (*controller.Controller, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	wd, err := layout.New(o.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("bootstrap workdir: %w", err)
	}

	cm := corpus.New(wd.CorpusDir())
	if err := cm.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize corpus: %w", err)
	}
	if cfg.CorpusDir != "" {
		if err := cm.Import(cfg.CorpusDir); err != nil {
			return nil, fmt.Errorf("import seed corpus: %w", err)
		}
	}

	fx, err := loadGadgets(o.GadgetsPath)
	if err != nil {
		return nil, err
	}
	analyzer := staticsym.NewFakeAnalyzer(fx.APIs, fx.Types)

	compiler := &validator.GCCDriver{
		CompilerPath: cfg.Compiler.CompilerPath,
		Flags:        cfg.Compiler.CompilerFlags,
		IncludeDirs:  cfg.Compiler.IncludeDir,
		LibPath:      cfg.Compiler.LibPath,
		Links:        cfg.Compiler.Links,
	}

	driver := fuzzdrv.NewLibFuzzerDriver("", "")
	v := validator.New(compiler, driver, analyzer)

	apiKey := os.Getenv("OPENAI_API_KEY")
	var completer agent.Completer
	if o.BaseURL != "" {
		completer = agent.NewOpenAIClientWithBaseURL(apiKey, o.BaseURL)
	} else {
		completer = agent.NewOpenAIClient(apiKey)
	}
	a := agent.New(completer)

	var renderer controller.PromptRenderer
	if o.PromptPath != "" {
		renderer, err = prompt.FromFile(o.PromptPath)
		if err != nil {
			return nil, fmt.Errorf("load prompt template: %w", err)
		}
	} else {
		renderer = prompt.New()
	}

	opts := controller.Options{
		ProjectName:   cfg.Name,
		Ext:           cfg.Ext,
		MaxAPIs:       cfg.MaxAPIs,
		MinLen:        cfg.MinLen(),
		MaxLen:        cfg.MaxLen(),
		Model:         cfg.LLM,
		Temperature:   0.2,
		MaxTurns:      8,
		Quota:         cfg.Quota,
		LoadFromState: o.Resume,
		ValidatorOpts: validator.Options{
			CorpusDir:   wd.CorpusDir(),
			Fuzzdict:    cfg.Fuzzdict,
			Ext:         cfg.Ext,
			Timeout:     time.Duration(cfg.Timeout * float64(time.Second)),
			TimeoutUnit: time.Duration(cfg.TimeoutUnit * float64(time.Second)),
			BatchSize:   0,
		},
	}

	c, err := controller.New(opts, wd, fx.APIs, fx.Types, a, v, renderer)
	if err != nil {
		return nil, fmt.Errorf("build controller: %w", err)
	}
	return c, nil
}

func defaultWorkDir(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "defuzz-out")
}
