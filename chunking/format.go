package chunking

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/poiesic/finrag/core"
)

const tableRuler = "--------------------------------------------------"

// Paragraphs decodes from either a JSON string or an array of strings.
type Paragraphs []string

func (p *Paragraphs) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*p = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("paragraphs must be a string or a list of strings: %w", err)
	}
	*p = Paragraphs{single}
	return nil
}

// Text joins the paragraphs one per line.
func (p Paragraphs) Text() string {
	return strings.TrimSpace(strings.Join(p, "\n"))
}

// QA is the question/answer pair attached to a record.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Annotation carries the prior turns of a conversational record.
type Annotation struct {
	DialogueBreak []string `json:"dialogue_break,omitempty"`
	ExeAnsList    []any    `json:"exe_ans_list,omitempty"`
}

// FinancialRecord is one entry of a ConvFinQA-style dataset: narrative text
// around a financial table plus a question about it.
type FinancialRecord struct {
	ID         string     `json:"id"`
	PreText    Paragraphs `json:"pre_text"`
	PostText   Paragraphs `json:"post_text"`
	Table      [][]string `json:"table"`
	QA         QA         `json:"qa"`
	Annotation Annotation `json:"annotation"`
}

// EvaluationCase is a question with its expected answer about one document.
type EvaluationCase struct {
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
}

// LoadRecords decodes a JSON array of records.
func LoadRecords(r io.Reader) ([]FinancialRecord, error) {
	var records []FinancialRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding dataset: %w", err)
	}
	return records, nil
}

// DocumentID returns the record id made safe for chunk ids.
func (r FinancialRecord) DocumentID() string {
	return strings.ReplaceAll(strings.TrimSpace(r.ID), "#", "_")
}

// Document formats the record into an ingestible document.
func (r FinancialRecord) Document(filename string) core.Document {
	return core.NewDocument(r.DocumentID(), FormatRecord(r), core.Source{Filename: filename, Section: r.ID})
}

// Case returns the record's question, or false when it has none.
func (r FinancialRecord) Case() (EvaluationCase, bool) {
	if strings.TrimSpace(r.QA.Question) == "" {
		return EvaluationCase{}, false
	}
	return EvaluationCase{DocumentID: r.DocumentID(), Question: r.QA.Question, Answer: r.QA.Answer}, true
}

// FormatRecord renders a record as text: the narrative before the table, the
// table as pipe-separated rows under a ruler, the narrative after it, and any
// prior question/answer turns. Sections are separated by blank lines.
func FormatRecord(r FinancialRecord) string {
	var parts []string
	if pre := r.PreText.Text(); pre != "" {
		parts = append(parts, pre)
	}
	if len(r.Table) > 0 {
		parts = append(parts, formatTable(r.Table))
	}
	if post := r.PostText.Text(); post != "" {
		parts = append(parts, post)
	}
	if turns := formatTurns(r.Annotation); turns != "" {
		parts = append(parts, turns)
	}
	return strings.Join(parts, "\n\n")
}

func formatTable(table [][]string) string {
	var b strings.Builder
	b.WriteString("Financial Data Table:\n")
	b.WriteString(strings.Join(table[0], " | "))
	b.WriteString("\n")
	b.WriteString(tableRuler)
	for _, row := range table[1:] {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = formatCell(cell)
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(cells, " | "))
	}
	return b.String()
}

// formatCell removes spaces inside currency cells ("$ 1,234" → "$1,234") and
// keeps only the first figure of percentage cells ("12% ( 10% )" → "12%").
func formatCell(cell string) string {
	switch {
	case strings.Contains(cell, "$"):
		return strings.ReplaceAll(cell, " ", "")
	case strings.Contains(cell, "%"):
		before, _, _ := strings.Cut(cell, "(")
		return strings.TrimSpace(before)
	}
	return cell
}

func formatTurns(a Annotation) string {
	n := min(len(a.DialogueBreak), len(a.ExeAnsList))
	if n == 0 {
		return ""
	}
	lines := make([]string, 0, n)
	for i := range n {
		lines = append(lines, fmt.Sprintf("Q: %s\nA: %s", a.DialogueBreak[i], formatAnswer(a.ExeAnsList[i])))
	}
	return "Previous Conversation:\n" + strings.Join(lines, "\n")
}

func formatAnswer(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
