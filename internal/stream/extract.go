package stream

import (
	"encoding/json"
	"strings"
)

// Strategy pulls text out of one known upstream payload shape. Path holds
// object keys (string) and array indexes (int). When Join is set the value at
// Path is an array and the first present Join field of each element is
// concatenated.
type Strategy struct {
	Name string
	Path []any
	Join []string
}

// DeltaStrategies covers streamed chat completions, legacy completions and the
// responses API, most specific first.
var DeltaStrategies = []Strategy{
	{Name: "chat.delta", Path: []any{"choices", 0, "delta", "content"}},
	{Name: "completion.text", Path: []any{"choices", 0, "text"}},
	{Name: "responses.output", Path: []any{"output", 0, "content"}, Join: []string{"text", "value"}},
	{Name: "responses.delta", Path: []any{"delta"}},
}

// CompletionStrategies covers buffered (non-streamed) completion bodies.
var CompletionStrategies = []Strategy{
	{Name: "chat.message", Path: []any{"choices", 0, "message", "content"}},
	{Name: "completion.text", Path: []any{"choices", 0, "text"}},
	{Name: "responses.output_text", Path: []any{"output_text"}},
}

// Extract decodes payload and returns the first non-empty text found by
// strategies. ok is false when payload is not valid JSON.
func Extract(payload []byte, strategies []Strategy) (text string, ok bool) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", false
	}
	return ExtractValue(v, strategies), true
}

// ExtractValue is Extract for an already decoded document.
func ExtractValue(v any, strategies []Strategy) string {
	for _, s := range strategies {
		if text := s.apply(v); text != "" {
			return text
		}
	}
	return ""
}

// FirstPresent returns the text of the first strategy whose path exists, even
// when that text is empty. A Join strategy matches when its path holds an array.
func FirstPresent(v any, strategies []Strategy) (string, bool) {
	for _, s := range strategies {
		node, found := lookup(v, s.Path)
		if !found {
			continue
		}
		if s.Join == nil {
			if text, ok := node.(string); ok {
				return text, true
			}
			continue
		}
		if _, ok := node.([]any); ok {
			return s.apply(v), true
		}
	}
	return "", false
}

func (s Strategy) apply(v any) string {
	node, found := lookup(v, s.Path)
	if !found {
		return ""
	}
	if s.Join == nil {
		text, _ := node.(string)
		return text
	}
	items, _ := node.([]any)
	var b strings.Builder
	for _, item := range items {
		for _, field := range s.Join {
			if text, ok := lookupString(item, field); ok && text != "" {
				b.WriteString(text)
				break
			}
		}
	}
	return b.String()
}

func lookup(v any, path []any) (any, bool) {
	node := v
	for _, step := range path {
		switch key := step.(type) {
		case string:
			obj, ok := node.(map[string]any)
			if !ok {
				return nil, false
			}
			if node, ok = obj[key]; !ok {
				return nil, false
			}
		case int:
			arr, ok := node.([]any)
			if !ok || key < 0 || key >= len(arr) {
				return nil, false
			}
			node = arr[key]
		default:
			return nil, false
		}
	}
	return node, true
}

func lookupString(v any, key string) (string, bool) {
	node, ok := lookup(v, []any{key})
	if !ok {
		return "", false
	}
	text, ok := node.(string)
	return text, ok
}
