package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultRulePriority is assigned to rules that do not set one. Higher
// priorities run first.
const DefaultRulePriority = 100

// ReviewRule is one configured review: a named prompt applied to files whose
// paths match any of the rule's patterns.
type ReviewRule struct {
	// Name identifies the rule in progress output.
	Name string `toml:"name"`

	// Description is a one-line summary shown alongside the name.
	Description string `toml:"description"`

	// FilePatterns selects the files this rule applies to. Patterns are
	// matched with the same semantics as exclude patterns.
	FilePatterns []string `toml:"file_patterns"`

	// Prompt is the review prompt. The {file_path} placeholder is
	// replaced with the path under review.
	Prompt string `toml:"prompt"`

	// Priority orders rule execution, higher first. Ties keep
	// declaration order.
	Priority int `toml:"priority"`

	// Enabled toggles the rule without deleting it.
	Enabled bool `toml:"enabled"`
}

// UnmarshalTOML decodes a rule table by hand so that omitted keys pick up
// their documented defaults: enabled defaults to true and priority to
// DefaultRulePriority, neither of which the zero value can express.
func (r *ReviewRule) UnmarshalTOML(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("review rule must be a table, got %T", v)
	}

	r.Enabled = true
	r.Priority = DefaultRulePriority

	if s, ok := m["name"].(string); ok {
		r.Name = s
	}
	if s, ok := m["description"].(string); ok {
		r.Description = s
	}
	if s, ok := m["prompt"].(string); ok {
		r.Prompt = s
	}
	if b, ok := m["enabled"].(bool); ok {
		r.Enabled = b
	}
	if n, ok := m["priority"].(int64); ok {
		r.Priority = int(n)
	}
	if pats, ok := m["file_patterns"].([]any); ok {
		for _, p := range pats {
			if s, ok := p.(string); ok {
				r.FilePatterns = append(r.FilePatterns, s)
			}
		}
	}

	if r.Name == "" {
		return fmt.Errorf("review rule is missing a name")
	}

	return nil
}

// CustomPrompt is a reusable prompt snippet referenced from rules.
type CustomPrompt struct {
	ID      string `toml:"id"`
	Content string `toml:"content"`
}

// ProjectConfig is the project-scoped settings store, loaded fresh at the
// start of each scan cycle. Simple keys are declared before the rule tables
// so the TOML encoder emits a valid document.
type ProjectConfig struct {
	// Enabled gates the whole cycle; a disabled project is scanned but
	// never reviewed.
	Enabled bool `toml:"enabled"`

	// ExcludePatterns removes files from review entirely before rule
	// matching runs.
	ExcludePatterns []string `toml:"exclude_patterns"`

	// CustomPrompts holds reusable prompt snippets.
	CustomPrompts []CustomPrompt `toml:"custom_prompts"`

	// Rules are the configured reviews, in declaration order.
	Rules []ReviewRule `toml:"rules"`
}

// DefaultProject returns the built-in project configuration: three review
// rules and the standard exclude set.
func DefaultProject() *ProjectConfig {
	return &ProjectConfig{
		Enabled: true,
		ExcludePatterns: []string{
			"target/**",
			"node_modules/**",
			".git/**",
			"*.min.js",
		},
		Rules: []ReviewRule{
			{
				Name:        "syntax-check",
				Description: "Detect syntax errors and type mismatches",
				FilePatterns: []string{
					"*.rs", "*.ts", "*.js", "*.go",
				},
				Prompt: "Analyze the following code and report " +
					"possible syntax or type errors:\n" +
					"1. Undefined variables, unbalanced brackets, missing terminators\n" +
					"2. Type mismatches\n" +
					"3. Reference each finding as `{file_path}:line`",
				Priority: 200,
				Enabled:  true,
			},
			{
				Name:        "security-scan",
				Description: "Detect vulnerabilities and hardcoded secrets",
				FilePatterns: []string{"*"},
				Prompt: "Report security risks in the following code:\n" +
					"1. Hardcoded API keys, passwords, or tokens\n" +
					"2. SQL injection or XSS vulnerabilities\n" +
					"3. Unsafe input validation",
				Priority: 150,
				Enabled:  true,
			},
			{
				Name:        "performance-check",
				Description: "Detect performance problems and optimization opportunities",
				FilePatterns: []string{"*.rs", "*.go", "*.cpp"},
				Prompt: "Analyze the following code for performance problems:\n" +
					"1. Work of O(n^2) or worse\n" +
					"2. Redundant loops or leaked resources\n" +
					"3. Suggestions for a more efficient approach",
				Priority: 100,
				Enabled:  true,
			},
		},
	}
}

// ProjectConfigPath returns the location of the project config file under
// the given working tree root.
func ProjectConfigPath(root string) string {
	return filepath.Join(root, projectConfigDir, configFileName)
}

// LoadProject reads the project config under root. A missing file yields the
// defaults; a malformed file is an error.
func LoadProject(root string) (*ProjectConfig, error) {
	path := ProjectConfigPath(root)

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return DefaultProject(), nil

	case err != nil:
		return nil, fmt.Errorf("failed to read project config %s: %w",
			path, err)
	}

	// Decode over an empty config rather than the defaults so a project
	// that declares its own rules fully replaces the built-in set.
	cfg := &ProjectConfig{
		Enabled: true,
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid project config %s: %w",
			path, err)
	}

	return cfg, nil
}

// LoadProjectOrDefault is LoadProject, degraded: any failure falls back to
// the built-in defaults so a broken project config never stalls a cycle.
func LoadProjectOrDefault(root string) *ProjectConfig {
	cfg, err := LoadProject(root)
	if err != nil {
		return DefaultProject()
	}

	return cfg
}

// WriteProject persists the project config to <root>/.driftwatch/config.toml,
// creating the directory if needed. Used by the init scaffold.
func WriteProject(root string, cfg *ProjectConfig) error {
	return writeTOML(ProjectConfigPath(root), cfg)
}
