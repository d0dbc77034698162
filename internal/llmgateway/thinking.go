package llmgateway

import (
	"regexp"
	"strings"
)

var thinkTagRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// extractThinking applies the thinking-extraction rule in
// place: if the response content carries <think>...</think> tags, strip
// them and move the captured text to Thinking. If the provider already
// populated Thinking (reasoning_content), the captured text is appended
// to it after a newline.
func extractThinking(resp *CompletionResponse) {
	if resp == nil || resp.Content == "" {
		return
	}
	content, thinking := stripThinkTags(resp.Content)
	if thinking == "" {
		return
	}
	resp.Content = content
	if resp.Thinking == "" {
		resp.Thinking = thinking
	} else {
		resp.Thinking = resp.Thinking + "\n" + thinking
	}
}

// stripThinkTags removes all <think>...</think> spans from content and
// returns the cleaned content plus the concatenated captured text.
func stripThinkTags(content string) (cleaned string, thinking string) {
	if !strings.Contains(content, "<think>") {
		return content, ""
	}
	var captured []string
	matches := thinkTagRe.FindAllStringSubmatch(content, -1)
	for _, m := range matches {
		captured = append(captured, strings.TrimSpace(m[1]))
	}
	cleaned = strings.TrimSpace(thinkTagRe.ReplaceAllString(content, ""))
	return cleaned, strings.Join(captured, "\n")
}
