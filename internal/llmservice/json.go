package llmservice

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"document-quiz/internal/models"
)

var (
	thinkTagRe      = regexp.MustCompile(models.ThinkTag)
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
)

// ExtractJSON decodes the JSON value in a model reply. Reasoning blocks and
// code fences are removed, text around the outermost object or array is
// dropped and trailing commas are repaired before a second attempt.
func ExtractJSON(content string) (any, error) {
	cleaned := CleanResponse(content)
	if cleaned == "" {
		return nil, fmt.Errorf("no content to parse")
	}

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err == nil {
		return v, nil
	}

	candidate := outermostJSON(cleaned)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON value found in response")
	}
	if err := json.Unmarshal([]byte(candidate), &v); err == nil {
		return v, nil
	}

	repaired := trailingCommaRe.ReplaceAllString(candidate, "$1")
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return v, nil
}

// CleanResponse strips <think> blocks and markdown code fences.
func CleanResponse(content string) string {
	s := thinkTagRe.ReplaceAllString(content, "")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func outermostJSON(s string) string {
	obj := span(s, '{', '}')
	arr := span(s, '[', ']')
	if obj == "" || arr == "" {
		return obj + arr
	}
	if strings.IndexByte(s, '[') < strings.IndexByte(s, '{') {
		return arr
	}
	return obj
}

func span(s string, opening, closing byte) string {
	start := strings.IndexByte(s, opening)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
