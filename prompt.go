package finrag

import (
	"strings"
	"text/template"

	"github.com/poiesic/finrag/core"
)

// historyTurns is how many recent turns are shown to the model.
const historyTurns = 3

var promptTemplate = template.Must(template.New("qa").Funcs(template.FuncMap{
	"speaker": speaker,
}).Parse(`You are a precise financial analyst. Your goal is to provide accurate numerical calculations based on the data provided.

Context Information:
{{if .Context}}{{.Context}}{{else}}No context was found for this question.{{end}}

Chat History:
{{range .History}}{{speaker .Role}}: {{.Text}}
{{else}}No previous conversation.
{{end}}
Current Question: {{.Question}}

Instructions:
1. For financial calculations, always:
   - Use exact numbers from the data
   - Show the final percentage with 2 decimal places
   - For percentage changes: ((New Value - Old Value) / Old Value) * 100
2. When calculating year-over-year changes:
   - Clearly identify the base year and comparison year
   - Use the earlier year as the base for percentage calculations
3. For currency values:
   - Use the exact numbers, ignoring currency symbols
   - Maintain precision in calculations
4. When analyzing trends:
   - Consider the full context provided
   - Note any significant changes or patterns
   - Explain any unusual variations

Your response should be:
- Precise and data-driven
- Include the exact calculation used
- Show the final percentage with 2 decimal places
- Explain any significant context from the data

Please provide your response:`))

type promptData struct {
	Context  string
	History  []core.ConversationTurn
	Question string
}

func speaker(role core.Role) string {
	if role == core.RoleAssistant {
		return "Assistant"
	}
	return "User"
}

// buildPrompt renders the question prompt with the last few turns of history.
func buildPrompt(context string, history []core.ConversationTurn, question string) (string, error) {
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}

	var b strings.Builder
	err := promptTemplate.Execute(&b, promptData{
		Context:  context,
		History:  history,
		Question: question,
	})
	return b.String(), err
}

// joinContext concatenates the retrieved chunk texts in rank order.
func joinContext(candidates []core.RetrievalCandidate) string {
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.Chunk != nil {
			parts = append(parts, c.Chunk.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
