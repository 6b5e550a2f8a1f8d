package agents

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/testrig-ai/testrig/pkg/agent"
)

// decodeInto re-marshals a generic JSON value into a typed destination.
// Model output arrives as map[string]any out of ExtractJSON; this is the
// bridge back to the typed payloads.
func decodeInto(src any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return agent.NewError(agent.ClassInputMalformed, fmt.Errorf("re-marshal model output: %w", err))
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return agent.NewError(agent.ClassInputMalformed, fmt.Errorf("decode model output: %w", err))
	}
	return nil
}

var codeFenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\n(.*?)```")

// extractCode pulls the first fenced code block out of model output. Output
// without fences is returned as-is, trimmed: some models skip the fence when
// asked for a bare file.
func extractCode(raw string) string {
	if m := codeFenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns free text into a file-name-safe slug.
func slugify(s string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(s), "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = "unnamed"
	}
	if len(slug) > 60 {
		slug = slug[:60]
	}
	return slug
}

// newID mints a prefixed identifier.
func newID(prefix string) string {
	return prefix + "-" + uuid.New().String()[:12]
}

// marshalCompact renders a value as compact JSON for prompt embedding.
func marshalCompact(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
