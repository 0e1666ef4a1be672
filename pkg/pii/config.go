package pii

import (
	"bytes"
	"os"
	"regexp"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidConfig = goerr.New("invalid pii config")
)

// CustomPattern adds a rule without code changes
type CustomPattern struct {
	Name    string `yaml:"name"`
	Label   string `yaml:"label"`
	Pattern string `yaml:"pattern"`
}

// Config is the privacy filter configuration, usually loaded from YAML
type Config struct {
	// EnabledPatterns selects rules by name. Empty means every built-in and custom rule.
	EnabledPatterns []string        `yaml:"enabled_patterns"`
	CustomPatterns  []CustomPattern `yaml:"custom_patterns"`
	BlockedSubjects []string        `yaml:"blocked_subjects"`
	Mode            Mode            `yaml:"mode"`
	ScrubInput      *bool           `yaml:"scrub_input"`
	RedactionToken  string          `yaml:"redaction_token"`
}

// DefaultConfig enables every built-in rule in redact mode with input scrubbing
func DefaultConfig() Config {
	return Config{Mode: ModeRedact}
}

// LoadConfig reads a YAML config file. Unknown keys are rejected so a
// misspelled option never silently disables a check.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, goerr.Wrap(err, "failed to read pii config", goerr.V("path", path))
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, goerr.Wrap(ErrInvalidConfig, "failed to parse pii config",
			goerr.V("path", path), goerr.V("error", err.Error()))
	}
	return cfg, nil
}

// Filter bundles the detector, scrubber and validator built from one Config
type Filter struct {
	Detector   *Detector
	Scrubber   *Scrubber
	Validator  *Validator
	ScrubInput bool
}

// New builds the privacy filter. Every configuration mistake is reported here.
func New(cfg Config) (*Filter, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeRedact
	}
	if err := cfg.Mode.Validate(); err != nil {
		return nil, err
	}

	available := BuiltinRules()
	index := make(map[string]int, len(available))
	for i, r := range available {
		index[r.Name] = i
	}

	for _, cp := range cfg.CustomPatterns {
		if cp.Name == "" {
			return nil, goerr.Wrap(ErrInvalidConfig, "custom pattern name is empty")
		}
		if _, dup := index[cp.Name]; dup {
			return nil, goerr.Wrap(ErrInvalidConfig, "duplicated pattern name", goerr.V("name", cp.Name))
		}
		re, err := regexp.Compile(cp.Pattern)
		if err != nil {
			return nil, goerr.Wrap(ErrInvalidConfig, "invalid custom pattern",
				goerr.V("name", cp.Name), goerr.V("error", err.Error()))
		}
		label := cp.Label
		if label == "" {
			label = cp.Name
		}
		index[cp.Name] = len(available)
		available = append(available, Rule{Name: cp.Name, Label: label, Patterns: []*regexp.Regexp{re}})
	}

	rules := available
	if len(cfg.EnabledPatterns) > 0 {
		rules = make([]Rule, 0, len(cfg.EnabledPatterns))
		seen := map[string]bool{}
		for _, name := range cfg.EnabledPatterns {
			i, ok := index[name]
			if !ok {
				return nil, goerr.Wrap(ErrInvalidConfig, "unknown pattern name in enabled_patterns", goerr.V("name", name))
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			rules = append(rules, available[i])
		}
	}

	detector := NewDetector(rules...)
	scrubber := NewScrubber(detector, cfg.RedactionToken)
	if m := detector.Detect(scrubber.Token()); len(m) > 0 {
		return nil, goerr.Wrap(ErrInvalidConfig, "redaction token is detected as PII", goerr.V("pattern", m[0].Pattern))
	}

	blocked := append(append([]string{}, DefaultBlockedSubjects...), cfg.BlockedSubjects...)

	scrubInput := true
	if cfg.ScrubInput != nil {
		scrubInput = *cfg.ScrubInput
	}

	return &Filter{
		Detector:   detector,
		Scrubber:   scrubber,
		Validator:  NewValidator(detector, scrubber, cfg.Mode, blocked),
		ScrubInput: scrubInput,
	}, nil
}

// Default builds a filter from DefaultConfig
func Default() *Filter {
	f, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return f
}
