// Package contextpack builds the bounded, pinned+importance-scored message
// list the chat engine sends to the LLM gateway.
package contextpack

import (
	"sort"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/errs"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// MinRecent is the number of trailing messages that are always pinned.
const MinRecent = 4

// Options configures Assemble. Reserve is tokens held free for the
// response; MaxTokens is the model's context budget.
type Options struct {
	MaxTokens int
	Reserve   int
	// CountTokens estimates token usage for a message. If nil,
	// ceil(len(content)/4) (minimum 1) is used.
	CountTokens func(models.Message) int
}

func defaultCountTokens(m models.Message) int {
	n := len(m.Content)
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) + len(tc.Arguments)
	}
	for _, tr := range m.ToolResults {
		n += len(tr.Content)
	}
	tokens := (n + 3) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

type scored struct {
	msg        models.Message
	index      int
	pinned     bool
	importance int
}

// roleBase is the importance base score per role.
func roleBase(r models.Role) int {
	switch r {
	case models.RoleSystem:
		return 100
	case models.RoleTool:
		return 80
	case models.RoleUser:
		return 60
	case models.RoleAssistant:
		return 40
	default:
		return 30
	}
}

func importance(m models.Message, idx, total int) int {
	score := roleBase(m.Role)
	if len(m.ToolCalls) > 0 || m.ToolCallID != "" {
		score += 20
	}
	if len(m.Content) > 200 {
		score += 10
	}
	if total > 0 && idx >= total-total/4 {
		score += 15
	}
	return score
}

// Assemble builds a bounded, ordered message sequence fitting the token
// budget: pin, score, then fill by importance.
func Assemble(messages []models.Message, opts Options) ([]models.Message, error) {
	countTokens := opts.CountTokens
	if countTokens == nil {
		countTokens = defaultCountTokens
	}
	budget := opts.MaxTokens - opts.Reserve

	total := len(messages)
	items := make([]scored, total)
	firstUserIdx := -1
	for i, m := range messages {
		if firstUserIdx == -1 && m.Role == models.RoleUser {
			firstUserIdx = i
		}
	}

	for i, m := range messages {
		pinned := m.Role == models.RoleSystem || i == firstUserIdx || i >= total-MinRecent
		items[i] = scored{
			msg:        m,
			index:      i,
			pinned:     pinned,
			importance: importance(m, i, total),
		}
	}

	var pinnedItems, unpinnedItems []scored
	pinnedTokens := 0
	for _, it := range items {
		if it.pinned {
			pinnedItems = append(pinnedItems, it)
			pinnedTokens += countTokens(it.msg)
		} else {
			unpinnedItems = append(unpinnedItems, it)
		}
	}

	// Step 3: if pinned alone exceeds budget, keep pinned in order until
	// exhausted, then return; never fabricate an empty result.
	if pinnedTokens > budget {
		var kept []scored
		used := 0
		for _, it := range pinnedItems {
			t := countTokens(it.msg)
			if used+t > budget && len(kept) > 0 {
				break
			}
			kept = append(kept, it)
			used += t
		}
		if len(kept) == 0 && len(pinnedItems) > 0 {
			// A single pinned message already exceeds the budget; keep it
			// anyway rather than returning empty.
			kept = pinnedItems[:1]
		}
		return toMessages(kept), errs.New(errs.KindContext, errs.CodeBudgetExhausted,
			"context budget exhausted by pinned messages alone")
	}

	// Step 4: fill remaining budget with unpinned, descending importance,
	// ties broken by recency (higher index first).
	sort.SliceStable(unpinnedItems, func(i, j int) bool {
		if unpinnedItems[i].importance != unpinnedItems[j].importance {
			return unpinnedItems[i].importance > unpinnedItems[j].importance
		}
		return unpinnedItems[i].index > unpinnedItems[j].index
	})

	remaining := budget - pinnedTokens
	var selectedUnpinned []scored
	for _, it := range unpinnedItems {
		t := countTokens(it.msg)
		if t > remaining {
			continue
		}
		selectedUnpinned = append(selectedUnpinned, it)
		remaining -= t
	}

	final := append(append([]scored{}, pinnedItems...), selectedUnpinned...)
	sort.Slice(final, func(i, j int) bool { return final[i].index < final[j].index })

	return toMessages(final), nil
}

func toMessages(items []scored) []models.Message {
	out := make([]models.Message, len(items))
	for i, it := range items {
		out[i] = it.msg
	}
	return out
}

// CleanToolOrdering enforces the chat engine's tool-message cleanup rules
// (last paragraph): drop orphan tool messages, reorder assistant+tool_calls
// to be followed immediately by their results (stripping tool_calls if no
// results exist), and drop fully empty assistant messages.
func CleanToolOrdering(messages []models.Message) []models.Message {
	declaredCallIDs := map[string]bool{}
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			declaredCallIDs[tc.ID] = true
		}
	}

	// Drop orphan tool messages (no matching tool_calls entry anywhere).
	filtered := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleTool && !declaredCallIDs[m.ToolCallID] {
			continue
		}
		filtered = append(filtered, m)
	}

	// Build tool-result lookup by tool_call_id for reordering.
	resultsByCallID := map[string]models.Message{}
	for _, m := range filtered {
		if m.Role == models.RoleTool {
			resultsByCallID[m.ToolCallID] = m
		}
	}

	out := make([]models.Message, 0, len(filtered))
	for _, m := range filtered {
		if m.Role == models.RoleTool {
			continue // emitted inline right after its assistant message below
		}

		if len(m.ToolCalls) > 0 {
			haveAnyResult := false
			for _, tc := range m.ToolCalls {
				if _, ok := resultsByCallID[tc.ID]; ok {
					haveAnyResult = true
					break
				}
			}
			if !haveAnyResult {
				stripped := m
				stripped.ToolCalls = nil
				if stripped.Content == "" {
					continue // drop: empty content, no tool_calls, nothing left
				}
				out = append(out, stripped)
				continue
			}
			out = append(out, m)
			for _, tc := range m.ToolCalls {
				if r, ok := resultsByCallID[tc.ID]; ok {
					out = append(out, r)
				}
			}
			continue
		}

		if m.Content == "" && len(m.ToolResults) == 0 {
			continue // drop fully empty assistant/system/user message
		}
		out = append(out, m)
	}

	return out
}
