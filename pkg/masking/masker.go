// Package masking scrubs secrets from text before it is persisted or
// displayed: captured execution output, recorded environments, and report
// payloads all pass through here.
package masking

import (
	"regexp"
	"strings"
)

// pattern is one compiled masking rule.
type pattern struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// Masker applies a fixed set of secret patterns to strings and environment
// maps. A nil Masker masks nothing, so callers never have to branch.
type Masker struct {
	patterns []pattern
}

// builtinPatterns cover the credential shapes that show up in test runs:
// provider API keys, bearer headers, and key=value assignments in output.
var builtinPatterns = []pattern{
	{
		name:        "openai_key",
		re:          regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
		replacement: "***MASKED_API_KEY***",
	},
	{
		name:        "bearer_token",
		re:          regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{8,}=*`),
		replacement: "Bearer ***MASKED_TOKEN***",
	},
	{
		name:        "basic_auth_url",
		re:          regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`),
		replacement: "://***MASKED_CREDENTIALS***@",
	},
	{
		name:        "key_value_secret",
		re:          regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|password|passwd|authorization|credential)\b(["']?\s*[:=]\s*)["']?[^\s"',;&]+`),
		replacement: `$1$2***MASKED***`,
	},
}

// secretEnvKey matches environment variable names whose values must never be
// persisted verbatim.
var secretEnvKey = regexp.MustCompile(`(?i)(key|token|secret|password|passwd|credential|auth)`)

// New builds a masker with the built-in pattern set.
func New() *Masker {
	return &Masker{patterns: builtinPatterns}
}

// Mask replaces every secret match in s.
func (m *Masker) Mask(s string) string {
	if m == nil || s == "" {
		return s
	}
	for _, p := range m.patterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}

// MaskEnv returns a copy of env with secret-named values replaced and every
// value run through Mask. The input map is never mutated.
func (m *Masker) MaskEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		switch {
		case m == nil:
			out[k] = v
		case secretEnvKey.MatchString(k):
			out[k] = "***MASKED***"
		default:
			out[k] = m.Mask(v)
		}
	}
	return out
}

// MaskLines masks each line of a multi-line block independently.
func (m *Masker) MaskLines(block string) string {
	if m == nil || block == "" {
		return block
	}
	lines := strings.Split(block, "\n")
	for i, line := range lines {
		lines[i] = m.Mask(line)
	}
	return strings.Join(lines, "\n")
}
