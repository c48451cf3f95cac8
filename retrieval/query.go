package retrieval

import (
	"strings"

	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/entity"
)

// enhanceTurns is how many recent user turns contribute to query enhancement.
const enhanceTurns = 2

// EnhanceQuery appends to query the entities mentioned in the last two user
// turns that the query itself does not mention, so a follow-up like "and in
// 2018?" keeps the subject of the conversation.
func EnhanceQuery(query string, turns []core.ConversationTurn) string {
	var recent []core.ConversationTurn
	for i := len(turns) - 1; i >= 0 && len(recent) < enhanceTurns; i-- {
		if turns[i].Role == core.RoleUser {
			recent = append(recent, turns[i])
		}
	}
	if len(recent) == 0 {
		return query
	}

	seen := make(map[string]struct{})
	for _, key := range entity.Keys(entity.Extract(query)) {
		seen[key] = struct{}{}
	}

	var extra []string
	// oldest of the recent turns first
	for i := len(recent) - 1; i >= 0; i-- {
		for _, e := range entity.Extract(recent[i].Text) {
			if _, ok := seen[e.Key()]; ok {
				continue
			}
			seen[e.Key()] = struct{}{}
			extra = append(extra, e.Literal)
		}
	}

	if len(extra) == 0 {
		return query
	}
	return query + " " + strings.Join(extra, " ")
}
