package llmclient

import (
	"encoding/json"
	"sort"
	"strings"

	"toolsmith/internal/types"
)

// Extractor pulls the generated text out of one known response shape.
type Extractor interface {
	Name() string
	Extract(doc interface{}) (string, bool)
}

// ExtractorChain tries each extractor in order; the first match wins.
type ExtractorChain []Extractor

// DefaultExtractors is the standard response-shape chain.
func DefaultExtractors() ExtractorChain {
	return ExtractorChain{
		contentBlocksExtractor{},
		choicesExtractor{},
		candidatesExtractor{},
		bareContentExtractor{},
		stringScanExtractor{minLength: 10},
	}
}

// Extract decodes body and runs the chain. Bodies that are not JSON are
// returned as plain text when non-empty.
func (c ExtractorChain) Extract(body []byte) (string, string, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" {
			return text, "plain-text", nil
		}
		return "", "", &types.ExtractionError{Reason: "empty response body", Raw: string(body)}
	}
	for _, e := range c {
		if text, ok := e.Extract(doc); ok {
			return text, e.Name(), nil
		}
	}
	return "", "", &types.ExtractionError{Reason: "no known response shape matched", Raw: truncate(string(body), 2000)}
}

// contentBlocksExtractor handles {"content":[{"type":"text","text":...}]}
// and {"output":[{"content":[{"type":"output_text","text":...}]}]}.
type contentBlocksExtractor struct{}

func (contentBlocksExtractor) Name() string { return "content-blocks" }

func (contentBlocksExtractor) Extract(doc interface{}) (string, bool) {
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return "", false
	}
	var parts []string
	if blocks, ok := obj["content"].([]interface{}); ok {
		parts = append(parts, blockTexts(blocks)...)
	}
	if output, ok := obj["output"].([]interface{}); ok {
		for _, item := range output {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if blocks, ok := m["content"].([]interface{}); ok {
				parts = append(parts, blockTexts(blocks)...)
			}
		}
	}
	return joinNonEmpty(parts)
}

func blockTexts(blocks []interface{}) []string {
	var out []string
	for _, b := range blocks {
		m, ok := b.(map[string]interface{})
		if !ok {
			continue
		}
		switch m["type"] {
		case "text", "output_text", nil:
			if s, ok := m["text"].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// choicesExtractor handles chat-completions style responses.
type choicesExtractor struct{}

func (choicesExtractor) Name() string { return "choices" }

func (choicesExtractor) Extract(doc interface{}) (string, bool) {
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return "", false
	}
	choices, ok := obj["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return "", false
	}
	first, ok := choices[0].(map[string]interface{})
	if !ok {
		return "", false
	}
	if msg, ok := first["message"].(map[string]interface{}); ok {
		if s, ok := msg["content"].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	if s, ok := first["text"].(string); ok && strings.TrimSpace(s) != "" {
		return s, true
	}
	return "", false
}

// candidatesExtractor handles Gemini generateContent responses.
type candidatesExtractor struct{}

func (candidatesExtractor) Name() string { return "candidates" }

func (candidatesExtractor) Extract(doc interface{}) (string, bool) {
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return "", false
	}
	cands, ok := obj["candidates"].([]interface{})
	if !ok || len(cands) == 0 {
		return "", false
	}
	first, ok := cands[0].(map[string]interface{})
	if !ok {
		return "", false
	}
	content, ok := first["content"].(map[string]interface{})
	if !ok {
		return "", false
	}
	partsRaw, _ := content["parts"].([]interface{})
	var parts []string
	for _, p := range partsRaw {
		if m, ok := p.(map[string]interface{}); ok {
			if thought, _ := m["thought"].(bool); thought {
				continue
			}
			if s, ok := m["text"].(string); ok {
				parts = append(parts, s)
			}
		}
	}
	return joinNonEmpty(parts)
}

// bareContentExtractor handles a JSON string body or a flat
// {"content": "..."} / {"text": "..."} / {"completion": "..."} object.
type bareContentExtractor struct{}

func (bareContentExtractor) Name() string { return "bare-content" }

func (bareContentExtractor) Extract(doc interface{}) (string, bool) {
	switch v := doc.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return v, true
		}
	case map[string]interface{}:
		for _, key := range []string{"content", "text", "completion", "output_text"} {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
	}
	return "", false
}

// stringScanExtractor returns the first top-level string value longer than
// minLength, scanning keys in sorted order so the choice is deterministic.
type stringScanExtractor struct {
	minLength int
}

func (stringScanExtractor) Name() string { return "string-scan" }

func (e stringScanExtractor) Extract(doc interface{}) (string, bool) {
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return "", false
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && len(strings.TrimSpace(s)) > e.minLength {
			return s, true
		}
	}
	return "", false
}

func joinNonEmpty(parts []string) (string, bool) {
	text := strings.Join(parts, "")
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
