package agent

import (
	"encoding/json"
	"regexp"
)

// trailingCommaRe repairs the most common model-output defect: a comma
// before a closing brace or bracket.
var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// ExtractJSON pulls a JSON object out of model output. It tolerates code
// fences, surrounding prose, trailing commas and multiple JSON blocks.
//
// With several decodable candidates the one with the largest key set wins;
// ties prefer the candidate matching more expectedKeys; remaining ties keep
// the first encountered.
func ExtractJSON(raw string, expectedKeys []string) (map[string]any, error) {
	var (
		best     map[string]any
		bestKeys int
		bestHits int
	)

	text := raw
	for {
		candidates, retryAt := scanObjects(text)
		for _, candidate := range candidates {
			obj, ok := decodeObject(candidate)
			if !ok {
				continue
			}
			hits := 0
			for _, k := range expectedKeys {
				if _, present := obj[k]; present {
					hits++
				}
			}
			if best == nil || len(obj) > bestKeys || (len(obj) == bestKeys && hits > bestHits) {
				best, bestKeys, bestHits = obj, len(obj), hits
			}
		}
		if best != nil || retryAt < 0 {
			break
		}
		// An unmatched '{' (stray brace in prose) can swallow real objects
		// behind it. Rescan past it.
		text = text[retryAt+1:]
	}

	if best == nil {
		return nil, Errorf(ClassInputMalformed, "no JSON object found in model output (%d bytes)", len(raw))
	}
	return best, nil
}

// decodeObject tries a strict decode, then a trailing-comma repair.
func decodeObject(candidate string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		return obj, true
	}
	repaired := trailingCommaRe.ReplaceAllString(candidate, "$1")
	if err := json.Unmarshal([]byte(repaired), &obj); err == nil {
		return obj, true
	}
	return nil, false
}

// scanObjects returns every top-level balanced {...} block in s, in order,
// plus the byte offset of the outermost '{' left unclosed at end of input
// (-1 when balanced). The scan is string-aware: braces inside JSON strings
// do not count. Code fences need no special casing because only brace
// balance matters.
func scanObjects(s string) ([]string, int) {
	var (
		out      []string
		depth    int
		start    int
		inString bool
		escaped  bool
	)
	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, s[start:i+1])
			}
		}
	}
	if depth > 0 {
		return out, start
	}
	return out, -1
}
