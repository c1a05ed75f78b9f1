package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseJSON unmarshals raw into v, tolerating markdown code fences and
// leading/trailing prose around the JSON payload, per spec §6 ("all
// LLM outputs ... MUST be valid JSON (fenced code blocks are tolerated
// and stripped)"). Grounded on the KittClouds extraction parser's
// stripCodeFence + regex-repair approach, generalized from a
// single fixed shape to any target type.
func ParseJSON(raw string, v any) error {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return fmt.Errorf("llm: empty response")
	}

	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}

	if repaired := extractJSONObjectOrArray(cleaned); repaired != "" && repaired != cleaned {
		if err := json.Unmarshal([]byte(repaired), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("llm: failed to parse response as JSON")
}

// stripCodeFence removes a wrapping ```json ... ``` or ``` ... ``` block.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

var jsonBlockPattern = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)

// extractJSONObjectOrArray finds the outermost {...} or [...] span in s,
// for responses that wrap valid JSON in explanatory prose.
func extractJSONObjectOrArray(s string) string {
	m := jsonBlockPattern.FindString(s)
	return strings.TrimSpace(m)
}

// NormalizeWrappedArray accepts either a bare JSON array or an object
// wrapping it under one of the given keys (checked in order), returning
// the raw array bytes. Used by the Missing-Info Reviewer, whose output
// may come back as `[...]` or `{"items": [...]}` / `{"weak_items":
// [...]}` etc.
func NormalizeWrappedArray(raw string, keys ...string) (json.RawMessage, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return json.RawMessage("[]"), nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &arr); err == nil {
		return json.RawMessage(cleaned), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil {
		for _, key := range keys {
			if v, ok := obj[key]; ok {
				return v, nil
			}
		}
	}

	if repaired := extractJSONObjectOrArray(cleaned); repaired != "" && repaired != cleaned {
		return NormalizeWrappedArray(repaired, keys...)
	}

	return nil, fmt.Errorf("llm: response did not contain a recognizable array under %v", keys)
}
