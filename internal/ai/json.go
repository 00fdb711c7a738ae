package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripFences removes a markdown code fence wrapped around a model answer
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line (```json)
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeJSON parses a model answer into v, tolerating code fences
func DecodeJSON(text string, v any) error {
	if err := json.Unmarshal([]byte(StripFences(text)), v); err != nil {
		return fmt.Errorf("invalid JSON answer: %w", err)
	}
	return nil
}
