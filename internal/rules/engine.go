// Package rules matches changed file paths against the project's configured
// review rules and orders the result by priority. The same matcher drives
// exclusion, so the fast-path patterns and the glob fallback can never
// disagree between the two.
package rules

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/roasbeef/driftwatch/internal/config"
)

// Engine evaluates one project's rule set. It holds a read-only snapshot of
// the config for the duration of a cycle and is safe to discard afterwards.
type Engine struct {
	cfg *config.ProjectConfig
}

// NewEngine creates an engine over the given project config.
func NewEngine(cfg *config.ProjectConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Match reports whether path matches pattern. Precedence, checked in order:
//
//  1. "*" matches anything.
//  2. "*.ext" matches by the ".ext" suffix.
//  3. "prefix/**" matches any path starting with "prefix/".
//  4. Anything else falls back to shell-style glob matching.
//
// A pattern that is not valid glob syntax matches nothing.
func Match(path, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if ext, ok := strings.CutPrefix(pattern, "*."); ok &&
		!strings.ContainsAny(ext, "*?[{/") {

		return strings.HasSuffix(path, "."+ext)
	}

	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok &&
		!strings.ContainsAny(prefix, "*?[{") {

		return strings.HasPrefix(path, prefix+"/")
	}

	ok, err := doublestar.Match(pattern, path)
	if err != nil {
		return false
	}

	return ok
}

// matchAny reports whether path matches any of the patterns.
func matchAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if Match(path, pattern) {
			return true
		}
	}

	return false
}

// Excluded reports whether the path matches any of the project's exclude
// patterns. Excluded paths are skipped before rule matching runs.
func (e *Engine) Excluded(path string) bool {
	return matchAny(path, e.cfg.ExcludePatterns)
}

// RulesFor returns the enabled rules whose patterns match the path, sorted
// by priority descending, with ties keeping declaration order. An empty
// result signals that the caller should apply the default review set.
func (e *Engine) RulesFor(path string) []config.ReviewRule {
	var matched []config.ReviewRule
	for _, rule := range e.cfg.Rules {
		if !rule.Enabled {
			continue
		}
		if !matchAny(path, rule.FilePatterns) {
			continue
		}

		matched = append(matched, rule)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})

	return matched
}

// RenderPrompt builds the full model prompt for one rule application:
// the rule's prompt with the {file_path} placeholder substituted, followed
// by the review input (diff or file content) behind a separator.
func RenderPrompt(rule config.ReviewRule, path, input string) string {
	prompt := strings.ReplaceAll(rule.Prompt, "{file_path}", path)

	return prompt + "\n\n---\n\n" + input
}

// DefaultReviews returns the built-in review pair applied when no enabled
// rule matches a non-excluded file: a syntax/type-error scan followed by a
// secret/security scan.
func DefaultReviews() []config.ReviewRule {
	return []config.ReviewRule{
		{
			Name:        "syntax-check",
			Description: "Default syntax and type error scan",
			Prompt: "You are a code review assistant. Analyze the diff " +
				"of `{file_path}` and report:\n\n" +
				"1. Possible syntax errors (undefined variables, " +
				"unbalanced brackets, missing terminators)\n" +
				"2. Possible type mismatches\n" +
				"3. Reference each finding as `{file_path}:line`\n\n" +
				"If there are no findings, answer that no syntax " +
				"errors were found.",
			Priority: config.DefaultRulePriority,
			Enabled:  true,
		},
		{
			Name:        "security-scan",
			Description: "Default security risk scan",
			Prompt: "You are a security expert. Analyze the diff of " +
				"`{file_path}` and report:\n\n" +
				"1. Hardcoded API keys, passwords, or tokens\n" +
				"2. SQL injection or XSS vulnerabilities\n" +
				"3. Unsafe input validation\n" +
				"4. Reference each finding as `{file_path}:line`\n\n" +
				"If there are no findings, answer that no security " +
				"risks were found.",
			Priority: config.DefaultRulePriority,
			Enabled:  true,
		},
	}
}
