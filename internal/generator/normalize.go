package generator

import (
	"document-quiz/internal/errs"
	"document-quiz/internal/llmservice"
	"document-quiz/internal/postprocess"
)

// Accepted response shapes, tried in order after a bare list.
var questionKeys = []string{"questions", "items", "data", "question"}

// Normalize extracts the candidate question objects from a model response.
// Non-object list elements are passed on as nil candidates so that the
// post-processor drops and logs them.
func Normalize(resp *llmservice.Response) ([]postprocess.Candidate, error) {
	const op = "generator.Normalize"

	value := resp.Parsed
	if value == nil {
		v, err := llmservice.ExtractJSON(resp.Content)
		if err != nil {
			return nil, &errs.Error{Kind: errs.ResponseParseFailed, Op: op, Msg: "response is not JSON", Raw: resp.Content, Err: err}
		}
		value = v
	}

	items, ok := questionList(value)
	if !ok {
		e := errs.New(errs.ResponseParseFailed, op, "no question list found in response")
		e.Raw = resp.Content
		return nil, e
	}
	if len(items) == 0 {
		e := errs.New(errs.ResponseParseFailed, op, "response contained no questions")
		e.Raw = resp.Content
		return nil, e
	}

	out := make([]postprocess.Candidate, len(items))
	for i, item := range items {
		if m, ok := item.(map[string]any); ok {
			out[i] = m
		}
	}
	return out, nil
}

func questionList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case map[string]any:
		for _, key := range questionKeys {
			switch x := t[key].(type) {
			case []any:
				return x, true
			case map[string]any:
				return []any{x}, true
			}
		}
	}
	return nil, false
}
