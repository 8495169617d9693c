package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// DefaultOutputDir is used when neither a positional output dir nor --output is given.
const DefaultOutputDir = "extracted_emails"

// ErrInvalid marks configuration errors, as opposed to errors reading the config file.
var ErrInvalid = errors.New("invalid configuration")

// Config captures all options required to run an extraction.
type Config struct {
	InputDir      string   `yaml:"input_dir"`
	OutputDir     string   `yaml:"output_dir"`
	Recursive     bool     `yaml:"recursive"`
	DryRun        bool     `yaml:"dry_run"`
	Resume        bool     `yaml:"resume"`
	StateDir      string   `yaml:"state_dir"`
	ReportPath    string   `yaml:"report"`
	LogLevel      string   `yaml:"log_level"`
	LogDir        string   `yaml:"log_dir"`
	NoProgress    bool     `yaml:"no_progress"`
	IncludeHeader []string `yaml:"include_header"`
	IncludeBody   []string `yaml:"include_body"`
	ExcludeHeader []string `yaml:"exclude_header"`
	ExcludeBody   []string `yaml:"exclude_body"`
}

// FiltersActive reports whether any include or exclude pattern is configured.
func (c Config) FiltersActive() bool {
	return len(c.IncludeHeader) > 0 || len(c.IncludeBody) > 0 ||
		len(c.ExcludeHeader) > 0 || len(c.ExcludeBody) > 0
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.StringP("output", "o", DefaultOutputDir, "Output base directory (alternative to the second positional argument)")
	flags.Bool("recursive", false, "Also extract .eml files found in subdirectories")
	flags.Bool("dry-run", false, "Parse every message and report, without writing any output")
	flags.Bool("resume", false, "Skip messages already extracted into the same output directory")
	flags.String("state-dir", "", "Directory for resume state files (default ~/.eml-extractor/state)")
	flags.String("report", "", "Write a YAML run report to this file")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.Bool("no-progress", false, "Disable the progress bar")
	flags.String("config", "", "YAML config file; explicitly set flags take precedence")
	RegisterFilterFlags(cmd)

	return nil
}

// RegisterFilterFlags attaches the regex filter flags shared by all commands.
func RegisterFilterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// LoadConfig converts the positional arguments and parsed Cobra flags into a
// validated Config. Values from --config fill in whatever flags left unset.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	var file Config
	if configPath != "" {
		file, err = loadFile(configPath)
		if err != nil {
			return Config{}, err
		}
	}

	outputDir, err := flags.GetString("output")
	if err != nil {
		return Config{}, err
	}
	recursive, err := flags.GetBool("recursive")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	resume, err := flags.GetBool("resume")
	if err != nil {
		return Config{}, err
	}
	stateDir, err := flags.GetString("state-dir")
	if err != nil {
		return Config{}, err
	}
	reportPath, err := flags.GetString("report")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}
	noProgress, err := flags.GetBool("no-progress")
	if err != nil {
		return Config{}, err
	}
	includeHeader, includeBody, excludeHeader, excludeBody, err := filterFlags(cmd)
	if err != nil {
		return Config{}, err
	}

	changed := flags.Changed
	cfg := Config{
		OutputDir:     pickString(changed("output"), outputDir, file.OutputDir),
		Recursive:     pickBool(changed("recursive"), recursive, file.Recursive),
		DryRun:        pickBool(changed("dry-run"), dryRun, file.DryRun),
		Resume:        pickBool(changed("resume"), resume, file.Resume),
		StateDir:      pickString(changed("state-dir"), stateDir, file.StateDir),
		ReportPath:    pickString(changed("report"), reportPath, file.ReportPath),
		LogLevel:      pickString(changed("log-level"), logLevel, file.LogLevel),
		LogDir:        pickString(changed("log-dir"), logDir, file.LogDir),
		NoProgress:    pickBool(changed("no-progress"), noProgress, file.NoProgress),
		IncludeHeader: pickStrings(changed("include-header"), includeHeader, file.IncludeHeader),
		IncludeBody:   pickStrings(changed("include-body"), includeBody, file.IncludeBody),
		ExcludeHeader: pickStrings(changed("exclude-header"), excludeHeader, file.ExcludeHeader),
		ExcludeBody:   pickStrings(changed("exclude-body"), excludeBody, file.ExcludeBody),
		InputDir:      file.InputDir,
	}

	if len(args) > 0 {
		cfg.InputDir = args[0]
	}
	if len(args) > 1 {
		if changed("output") && outputDir != args[1] {
			return Config{}, fmt.Errorf("%w: output directory given both as argument and --output", ErrInvalid)
		}
		cfg.OutputDir = args[1]
	}
	if len(args) > 2 {
		return Config{}, fmt.Errorf("%w: too many arguments", ErrInvalid)
	}

	// The state directory is only needed for --resume; a missing home
	// directory must not break plain extraction.
	if cfg.StateDir == "" && cfg.Resume {
		cfg.StateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, fmt.Errorf("%w: --resume needs --state-dir: %v", ErrInvalid, err)
		}
	}
	if cfg.StateDir != "" {
		cfg.StateDir = filepath.Clean(cfg.StateDir)
	}
	cfg.LogLevel = NormalizeLogLevel(cfg.LogLevel)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFilterFlags reads the flags added by RegisterFilterFlags and checks that
// include and exclude modes are not mixed.
func LoadFilterFlags(cmd *cobra.Command) (Config, error) {
	includeHeader, includeBody, excludeHeader, excludeBody, err := filterFlags(cmd)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		IncludeHeader: includeHeader,
		IncludeBody:   includeBody,
		ExcludeHeader: excludeHeader,
		ExcludeBody:   excludeBody,
	}
	if err := validateFilters(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NormalizeLogLevel lower-cases level and maps "warning" to "warn".
func NormalizeLogLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "":
		return "info"
	case "warning":
		return "warn"
	}
	return level
}

func filterFlags(cmd *cobra.Command) (includeHeader, includeBody, excludeHeader, excludeBody []string, err error) {
	flags := cmd.Flags()
	if includeHeader, err = flags.GetStringArray("include-header"); err != nil {
		return
	}
	if includeBody, err = flags.GetStringArray("include-body"); err != nil {
		return
	}
	if excludeHeader, err = flags.GetStringArray("exclude-header"); err != nil {
		return
	}
	excludeBody, err = flags.GetStringArray("exclude-body")
	return
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: parse config file %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.InputDir) == "" {
		return fmt.Errorf("%w: input directory is required", ErrInvalid)
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return fmt.Errorf("%w: output directory must not be empty", ErrInvalid)
	}
	if filepath.Clean(cfg.InputDir) == filepath.Clean(cfg.OutputDir) {
		return fmt.Errorf("%w: output directory must differ from the input directory", ErrInvalid)
	}
	if err := validateFilters(cfg); err != nil {
		return err
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: invalid --log-level: %s", ErrInvalid, cfg.LogLevel)
	}

	return nil
}

func validateFilters(cfg Config) error {
	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("%w: include and exclude flags are mutually exclusive", ErrInvalid)
	}
	return nil
}

func pickString(flagSet bool, flagValue, fileValue string) string {
	if !flagSet && fileValue != "" {
		return fileValue
	}
	return flagValue
}

func pickBool(flagSet bool, flagValue, fileValue bool) bool {
	if !flagSet {
		return flagValue || fileValue
	}
	return flagValue
}

func pickStrings(flagSet bool, flagValue, fileValue []string) []string {
	if !flagSet && len(fileValue) > 0 {
		return fileValue
	}
	return flagValue
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".eml-extractor", "state"), nil
}
