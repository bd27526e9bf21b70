package agent

import (
	"strings"
)

// DefaultCompletionPhrases 保守的"任务已完成"短语列表。
// 单独的 "done" / "complete" 容易误判（"not done yet"、"complete the form"），不在列表中。
var DefaultCompletionPhrases = []string{
	"task completed",
	"task complete",
	"task is complete",
	"task is completed",
	"task is done",
	"task is finished",
	"task has been completed",
	"task has been finished",
	"successfully completed the task",
	"i have completed the task",
	"i've completed the task",
	"all steps are complete",
	"all done",
}

var negations = []string{"not ", "n't ", "never ", "yet to "}

// CompletionPolicy decides whether a thought announces that the task is finished.
// It only short-circuits a loop after a successful tool call.
type CompletionPolicy struct {
	Phrases []string
}

// NewCompletionPolicy returns a policy over phrases, or the defaults when empty.
func NewCompletionPolicy(phrases []string) CompletionPolicy {
	if len(phrases) == 0 {
		phrases = DefaultCompletionPhrases
	}
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return CompletionPolicy{Phrases: lowered}
}

// IsCompletion reports whether thought contains a completion phrase that is not
// negated by the words right before it.
func (p CompletionPolicy) IsCompletion(thought string) bool {
	text := strings.ToLower(thought)
	for _, phrase := range p.Phrases {
		from := 0
		for {
			idx := strings.Index(text[from:], phrase)
			if idx < 0 {
				break
			}
			idx += from
			if wordBoundary(text, idx, idx+len(phrase)) && !negated(text[:idx]) {
				return true
			}
			from = idx + len(phrase)
		}
	}
	return false
}

func wordBoundary(text string, start, end int) bool {
	if start > 0 && isWordByte(text[start-1]) {
		return false
	}
	if end < len(text) && isWordByte(text[end]) {
		return false
	}
	return true
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// negated looks at the last few words before a match.
func negated(prefix string) bool {
	const window = 16
	if len(prefix) > window {
		prefix = prefix[len(prefix)-window:]
	}
	for _, n := range negations {
		if strings.Contains(prefix, n) {
			return true
		}
	}
	return false
}
