package llmgateway

import "testing"

func TestStripThinkTagsExtractsAndCleans(t *testing.T) {
	content := "<think>reasoning about the answer</think>The answer is 42."
	cleaned, thinking := stripThinkTags(content)
	if cleaned != "The answer is 42." {
		t.Fatalf("unexpected cleaned content: %q", cleaned)
	}
	if thinking != "reasoning about the answer" {
		t.Fatalf("unexpected thinking content: %q", thinking)
	}
}

func TestStripThinkTagsNoTagsIsNoop(t *testing.T) {
	cleaned, thinking := stripThinkTags("just a plain answer")
	if cleaned != "just a plain answer" || thinking != "" {
		t.Fatalf("expected no-op passthrough, got cleaned=%q thinking=%q", cleaned, thinking)
	}
}

func TestExtractThinkingMergesWithExistingField(t *testing.T) {
	resp := &CompletionResponse{
		Content:  "<think>inline reasoning</think>final answer",
		Thinking: "native reasoning_content",
	}
	extractThinking(resp)
	if resp.Content != "final answer" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	want := "native reasoning_content\ninline reasoning"
	if resp.Thinking != want {
		t.Fatalf("expected merged thinking %q, got %q", want, resp.Thinking)
	}
}

func TestExtractThinkingNilSafe(t *testing.T) {
	extractThinking(nil) // must not panic
	extractThinking(&CompletionResponse{})
}
