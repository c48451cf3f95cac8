package retrieval

import (
	"testing"

	"github.com/poiesic/finrag/core"
	"github.com/stretchr/testify/assert"
)

func TestEnhanceQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		turns []core.ConversationTurn
		want  string
	}{
		{
			name:  "no history",
			query: "What was revenue?",
			want:  "What was revenue?",
		},
		{
			name:  "follow-up borrows entities",
			query: "And in 2018?",
			turns: []core.ConversationTurn{
				{Role: core.RoleUser, Text: "What was net income in 2019?"},
				{Role: core.RoleAssistant, Text: "Net income was $1.2 million."},
			},
			want: "And in 2018? net income 2019",
		},
		{
			name:  "entities already in the query are skipped",
			query: "What was revenue growth in 2019?",
			turns: []core.ConversationTurn{
				{Role: core.RoleUser, Text: "Revenue in 2019"},
			},
			want: "What was revenue growth in 2019?",
		},
		{
			name:  "only the last two user turns count",
			query: "Why?",
			turns: []core.ConversationTurn{
				{Role: core.RoleUser, Text: "dividends"},
				{Role: core.RoleUser, Text: "margin"},
				{Role: core.RoleAssistant, Text: "debt"},
				{Role: core.RoleUser, Text: "12%"},
			},
			want: "Why? margin 12%",
		},
		{
			name:  "assistant turns are ignored",
			query: "Explain",
			turns: []core.ConversationTurn{
				{Role: core.RoleAssistant, Text: "Revenue was $4.5B"},
			},
			want: "Explain",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EnhanceQuery(tc.query, tc.turns))
		})
	}
}
