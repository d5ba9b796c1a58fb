// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// The CLI flags go through the setters so they override file and env values.
type Interface interface {
	Logger() LoggerConfig
	Parser() ParserConfig
	Analysis() AnalysisConfig
	Output() OutputConfig

	SetOutputFormat(string)
	SetOutputPath(string)
	SetInterProcedural(bool)
	SetIntraPage(bool)
	SetEventGraph(bool)
	SetAliasCutoff(int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	ParserCfg   ParserConfig   `mapstructure:"parser" yaml:"parser"`
	AnalysisCfg AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	OutputCfg   OutputConfig   `mapstructure:"output" yaml:"output"`
}

var _ Interface = (*Config)(nil)

// --- Getters ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Parser() ParserConfig     { return c.ParserCfg }
func (c *Config) Analysis() AnalysisConfig { return c.AnalysisCfg }
func (c *Config) Output() OutputConfig     { return c.OutputCfg }

// --- Setters ---

func (c *Config) SetOutputFormat(f string)  { c.OutputCfg.Format = f }
func (c *Config) SetOutputPath(p string)    { c.OutputCfg.Path = p }
func (c *Config) SetInterProcedural(b bool) { c.AnalysisCfg.InterProcedural = b }
func (c *Config) SetIntraPage(b bool)       { c.AnalysisCfg.IntraPage = b }
func (c *Config) SetEventGraph(b bool)      { c.AnalysisCfg.EventGraph = b }
func (c *Config) SetAliasCutoff(n int)      { c.AnalysisCfg.AliasCutoff = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the color of each log level in console output.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ParserConfig bounds the front-end.
type ParserConfig struct {
	MaxFileBytes int `mapstructure:"max_file_bytes" yaml:"max_file_bytes"`
	// Concurrency is the number of files whose syntax trees are parsed in
	// parallel.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// AnalysisConfig holds the analysis limits and feature switches.
type AnalysisConfig struct {
	// AliasCutoff caps the alias pairs matched against the function map.
	// Zero disables alias resolution.
	AliasCutoff         int `mapstructure:"alias_cutoff" yaml:"alias_cutoff"`
	MaxCompositionDepth int `mapstructure:"max_composition_depth" yaml:"max_composition_depth"`
	MaxSplicesPerModel  int `mapstructure:"max_splices_per_model" yaml:"max_splices_per_model"`
	// MaxFixpointIterations bounds node visits per model; 0 is unbounded.
	MaxFixpointIterations int  `mapstructure:"max_fixpoint_iterations" yaml:"max_fixpoint_iterations"`
	AssertConvergence     bool `mapstructure:"assert_convergence" yaml:"assert_convergence"`
	InterProcedural       bool `mapstructure:"inter_procedural" yaml:"inter_procedural"`
	IntraPage             bool `mapstructure:"intra_page" yaml:"intra_page"`
	EventGraph            bool `mapstructure:"event_graph" yaml:"event_graph"`
}

// OutputConfig selects what the analyze command prints and where.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	// Path is the output file; empty means stdout.
	Path string `mapstructure:"path" yaml:"path"`
}

// Output formats.
const (
	FormatJSON    = "json"
	FormatSummary = "summary"
)

// NewDefaultConfig returns a validated configuration built from defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// Defaults are static, so this is a programming error.
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "jaw")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Parser --
	v.SetDefault("parser.max_file_bytes", 8<<20)
	v.SetDefault("parser.concurrency", 4)

	// -- Analysis --
	v.SetDefault("analysis.alias_cutoff", 2000)
	v.SetDefault("analysis.max_composition_depth", 8)
	v.SetDefault("analysis.max_splices_per_model", 256)
	v.SetDefault("analysis.max_fixpoint_iterations", 0)
	v.SetDefault("analysis.assert_convergence", false)
	v.SetDefault("analysis.inter_procedural", true)
	v.SetDefault("analysis.intra_page", true)
	v.SetDefault("analysis.event_graph", true)

	// -- Output --
	v.SetDefault("output.format", FormatSummary)
	v.SetDefault("output.path", "")
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.OutputCfg.Format = strings.ToLower(cfg.OutputCfg.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values no run can use.
func (c *Config) Validate() error {
	if err := c.ParserCfg.Validate(); err != nil {
		return fmt.Errorf("parser configuration invalid: %w", err)
	}
	if err := c.AnalysisCfg.Validate(); err != nil {
		return fmt.Errorf("analysis configuration invalid: %w", err)
	}
	switch c.OutputCfg.Format {
	case FormatJSON, FormatSummary:
	default:
		return fmt.Errorf("output.format must be %q or %q, got %q", FormatJSON, FormatSummary, c.OutputCfg.Format)
	}
	return nil
}

// Validate checks the parser limits.
func (p *ParserConfig) Validate() error {
	if p.MaxFileBytes <= 0 {
		return fmt.Errorf("max_file_bytes must be a positive integer")
	}
	if p.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be a positive integer")
	}
	return nil
}

// Validate checks the analysis budgets. The alias cutoff and the fixpoint
// bound may be zero.
func (a *AnalysisConfig) Validate() error {
	if a.AliasCutoff < 0 {
		return fmt.Errorf("alias_cutoff must not be negative")
	}
	if a.MaxCompositionDepth <= 0 {
		return fmt.Errorf("max_composition_depth must be a positive integer")
	}
	if a.MaxSplicesPerModel <= 0 {
		return fmt.Errorf("max_splices_per_model must be a positive integer")
	}
	if a.MaxFixpointIterations < 0 {
		return fmt.Errorf("max_fixpoint_iterations must not be negative")
	}
	return nil
}
