// Package config loads the run configuration: project name, source root,
// header-globbing filter, corpus/dict paths, mutator and validator knobs,
// LLM model id, and the language-specific compiler block.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mattn/go-zglob"
	"github.com/spf13/viper"
)

// CompilerConfig carries the language-specific compile knobs: the library
// path, link names, include directories, and the compiler binary/flags.
type CompilerConfig struct {
	LibPath       string   `mapstructure:"libpath"`
	Links         []string `mapstructure:"links"`
	IncludeDir    []string `mapstructure:"include_dir"`
	CompilerPath  string   `mapstructure:"compiler_path"`
	CompilerFlags []string `mapstructure:"compiler_flags"`
}

// Config is the top-level run configuration.
type Config struct {
	Name        string         `mapstructure:"name"`
	SrcDir      string         `mapstructure:"srcdir"`
	Postfix     []string       `mapstructure:"postfix"`
	CorpusDir   string         `mapstructure:"corpus_dir"`
	Fuzzdict    string         `mapstructure:"fuzzdict"`
	CombLen     []int          `mapstructure:"comblen"`
	MaxAPIs     int            `mapstructure:"max_apis"`
	LLM         string         `mapstructure:"llm"`
	Ext         string         `mapstructure:"ext"`
	Timeout     float64        `mapstructure:"timeout"`
	TimeoutUnit float64        `mapstructure:"timeout_unit"`
	Quota       float64        `mapstructure:"quota"`
	Compiler    CompilerConfig `mapstructure:"compiler"`
}

// MinLen and MaxLen expose the comblen pair with a (5, 10) default applied,
// regardless of whether the config file set zero, one, or two entries.
func (c *Config) MinLen() int {
	if len(c.CombLen) > 0 && c.CombLen[0] > 0 {
		return c.CombLen[0]
	}
	return 5
}

func (c *Config) MaxLen() int {
	if len(c.CombLen) > 1 && c.CombLen[1] > 0 {
		return c.CombLen[1]
	}
	return 10
}

func applyDefaults(c *Config) {
	if c.MaxAPIs == 0 {
		c.MaxAPIs = 200
	}
	if c.LLM == "" {
		c.LLM = "gpt-4o-mini-2024-07-18"
	}
	if c.Timeout == 0 {
		c.Timeout = 600
	}
	if c.TimeoutUnit == 0 {
		c.TimeoutUnit = 60
	}
	if c.Quota == 0 {
		c.Quota = 10
	}
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME placeholders.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func resolveEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match
		if strings.HasPrefix(match, "${") && strings.HasSuffix(match, "}") {
			varName = match[2 : len(match)-1]
		} else if strings.HasPrefix(match, "$") {
			varName = match[1:]
		}
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match
	})
}

func resolveInMap(m map[string]interface{}) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if resolved := resolveEnvVars(val); resolved != val {
				m[k] = resolved
			}
		case map[string]interface{}:
			resolveInMap(val)
		case []interface{}:
			resolveInSlice(val)
		}
	}
}

func resolveInSlice(s []interface{}) {
	for i, v := range s {
		switch val := v.(type) {
		case string:
			s[i] = resolveEnvVars(val)
		case map[string]interface{}:
			resolveInMap(val)
		}
	}
}

// LoadDotEnv loads a .env file from dir, if present, via godotenv. A
// missing .env is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}

// Load reads the YAML config at path, resolves ${VAR}/$VAR placeholders
// against the environment, and applies the documented defaults.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	settings := v.AllSettings()
	resolveInMap(settings)
	resolved := viper.New()
	for key, value := range settings {
		resolved.Set(key, value)
	}

	var cfg Config
	if err := resolved.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	applyDefaults(&cfg)

	if cfg.Name == "" {
		return nil, fmt.Errorf("config: %s: missing required field 'name'", path)
	}
	if cfg.SrcDir == "" {
		return nil, fmt.Errorf("config: %s: missing required field 'srcdir'", path)
	}
	return &cfg, nil
}

// HeaderFiles globs cfg.SrcDir recursively for every file matching one of
// cfg.Postfix's extensions (header-tree discovery).
func (c *Config) HeaderFiles() ([]string, error) {
	postfix := c.Postfix
	if len(postfix) == 0 {
		postfix = []string{"h", "hpp"}
	}

	seen := make(map[string]struct{})
	var files []string
	for _, ext := range postfix {
		pattern := filepath.Join(c.SrcDir, "**", "*."+strings.TrimPrefix(ext, "."))
		matches, err := zglob.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	return files, nil
}
