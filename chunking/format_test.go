package chunking

import (
	"strings"
	"testing"

	"github.com/poiesic/finrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataset = `[
  {
    "id": "Single_JKHY/2009/page_28.pdf-3",
    "pre_text": ["26 | 2009 annual report in fiscal 2009 , revenue grew.", "Cash increased."],
    "post_text": "See note 4.",
    "table": [
      ["", "2009", "2008"],
      ["net income", "$ 103,102", "$ 104,222"],
      ["growth", "12% ( 10% )", "9%"]
    ],
    "qa": {"question": "what was the change in net income?", "answer": "-1120"},
    "annotation": {"dialogue_break": ["what was net income in 2009?"], "exe_ans_list": [103102]}
  },
  {
    "id": "no#question",
    "pre_text": "Only text.",
    "post_text": [],
    "table": []
  }
]`

func TestLoadRecords(t *testing.T) {
	records, err := LoadRecords(strings.NewReader(dataset))
	require.NoError(t, err)
	require.Len(t, records, 2)

	r := records[0]
	assert.Equal(t, Paragraphs{"26 | 2009 annual report in fiscal 2009 , revenue grew.", "Cash increased."}, r.PreText)
	assert.Equal(t, Paragraphs{"See note 4."}, r.PostText)
	assert.Len(t, r.Table, 3)

	c, ok := r.Case()
	require.True(t, ok)
	assert.Equal(t, EvaluationCase{
		DocumentID: "Single_JKHY/2009/page_28.pdf-3",
		Question:   "what was the change in net income?",
		Answer:     "-1120",
	}, c)

	_, ok = records[1].Case()
	assert.False(t, ok)
	assert.Equal(t, "no_question", records[1].DocumentID())
	doc := records[1].Document("train.json")
	assert.NoError(t, core.ValidateDocument(&doc))
}

func TestLoadRecordsInvalid(t *testing.T) {
	_, err := LoadRecords(strings.NewReader(`{"id": 1}`))
	assert.Error(t, err)
}

func TestFormatRecord(t *testing.T) {
	records, err := LoadRecords(strings.NewReader(dataset))
	require.NoError(t, err)

	want := strings.Join([]string{
		"26 | 2009 annual report in fiscal 2009 , revenue grew.\nCash increased.",
		"Financial Data Table:\n" +
			" | 2009 | 2008\n" +
			tableRuler + "\n" +
			"net income | $103,102 | $104,222\n" +
			"growth | 12% | 9%",
		"See note 4.",
		"Previous Conversation:\nQ: what was net income in 2009?\nA: 103102",
	}, "\n\n")
	assert.Equal(t, want, FormatRecord(records[0]))

	assert.Equal(t, "Only text.", FormatRecord(records[1]))
}

func TestFormattedRecordTableStaysWhole(t *testing.T) {
	records, err := LoadRecords(strings.NewReader(dataset))
	require.NoError(t, err)
	doc := records[0].Document("train.json")

	blocks := findTableBlocks(doc.Text)
	require.NotEmpty(t, blocks)
	table := blocks[len(blocks)-1]
	assert.True(t, strings.HasPrefix(doc.Text[table.start:], " | 2009 | 2008"))
	assert.True(t, strings.HasSuffix(doc.Text[:table.end], "growth | 12% | 9%"))
}
