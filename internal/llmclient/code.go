package llmclient

import (
	"encoding/json"
	"regexp"
	"strings"

	"toolsmith/internal/types"
)

var fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_+#.-]*)[^\\n]*\\n(.*?)```")

var langAliases = map[string][]string{
	"go":     {"go", "golang"},
	"json":   {"json"},
	"python": {"python", "py"},
}

// ExtractCode pulls source for lang out of free-form model text. Order:
// a fence tagged with lang, any fence, a bare JSON object (json only), then
// a line filter that drops markdown and prose.
func ExtractCode(text, lang string) (string, error) {
	lang = strings.ToLower(lang)
	blocks := fencePattern.FindAllStringSubmatch(text, -1)

	tags := langAliases[lang]
	if len(tags) == 0 {
		tags = []string{lang}
	}
	for _, b := range blocks {
		tag := strings.ToLower(b[1])
		for _, want := range tags {
			if tag == want && strings.TrimSpace(b[2]) != "" {
				return strings.TrimSpace(b[2]), nil
			}
		}
	}
	for _, b := range blocks {
		if strings.TrimSpace(b[2]) != "" {
			return strings.TrimSpace(b[2]), nil
		}
	}

	if lang == "json" {
		if obj, ok := jsonObject(text); ok {
			return obj, nil
		}
	}

	if code := filterLines(stripUnterminatedFence(text)); looksLikeCode(code, lang) {
		return code, nil
	}

	return "", &types.ExtractionError{Reason: "no " + lang + " code found in response", Raw: text}
}

func jsonObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

// stripUnterminatedFence removes an opening fence line left behind when
// the model output was cut off before the closing fence.
func stripUnterminatedFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") && strings.Count(trimmed, "```") == 1 {
		if nl := strings.Index(trimmed, "\n"); nl >= 0 {
			return trimmed[nl+1:]
		}
		return ""
	}
	return text
}

func filterLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || isMarkdownHeader(trimmed) || isProse(trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isMarkdownHeader(line string) bool {
	return strings.HasPrefix(line, "# ") || strings.HasPrefix(line, "## ") || strings.HasPrefix(line, "### ")
}

// isProse flags sentences: capitalized, ending in punctuation, and free of
// the characters code lines are made of.
func isProse(line string) bool {
	if line == "" || strings.HasPrefix(line, "//") {
		return false
	}
	if strings.ContainsAny(line, "{}();=[]\"`") {
		return false
	}
	first := line[0]
	if first < 'A' || first > 'Z' {
		return false
	}
	last := line[len(line)-1]
	return last == '.' || last == ':' || last == '!' || last == '?' || strings.Count(line, " ") >= 3
}

func looksLikeCode(code, lang string) bool {
	if code == "" {
		return false
	}
	switch lang {
	case "go":
		return strings.Contains(code, "package ") || strings.Contains(code, "func ")
	case "json":
		return json.Valid([]byte(code))
	default:
		return strings.ContainsAny(code, "{}()=")
	}
}
