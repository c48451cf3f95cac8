package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/poiesic/finrag"
	"github.com/poiesic/finrag/ai/mock"
	"github.com/poiesic/finrag/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const dataset = `[
  {
    "id": "Single_AAPL/2019/page_12.pdf-1",
    "pre_text": ["Net sales increased 12% in 2019.", "Services revenue reached a record."],
    "post_text": "Gross margin was 38%.",
    "table": [["", "2019", "2018"], ["net sales", "$ 260,174", "$ 265,595"]],
    "qa": {"question": "What were net sales in 2019?", "answer": "$260,174"}
  },
  {
    "id": "Single_MSFT/2018/page_30.pdf-2",
    "pre_text": ["Operating expenses declined 3% year over year."],
    "post_text": [],
    "table": [],
    "qa": {"question": "How did operating expenses change?", "answer": "They declined 3%."}
  }
]`

// mockOpen opens engines on mock AI services that always answer answer.
func mockOpen(answer string) openFunc {
	return func(ctx context.Context, cfg *config.Config, opts ...finrag.EngineOption) (*finrag.Engine, error) {
		provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(), mock.NewMockGenerator(answer))
		return finrag.Open(ctx, cfg, append([]finrag.EngineOption{finrag.WithProvider(provider)}, opts...)...)
	}
}

type harness struct {
	t       *testing.T
	globals []string
	open    openFunc
}

func newHarness(t *testing.T, answer string) *harness {
	dir := t.TempDir()
	return &harness{
		t: t,
		globals: []string{
			"--log-level", "error",
			"--config", filepath.Join(dir, "config.toml"),
			"--index-dir", filepath.Join(dir, "index"),
			"--store-dir", filepath.Join(dir, "store"),
		},
		open: mockOpen(answer),
	}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	app := newApp(h.open)
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append(append([]string{"finrag"}, h.globals...), args...))
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t, "$260,174")
	datasetPath := writeFile(t, t.TempDir(), "train.json", dataset)

	out, err := h.run("ingest", datasetPath)
	require.NoError(t, err)
	assert.Contains(t, out, "from 2 documents")

	t.Run("reindex", func(t *testing.T) {
		out, err := h.run("reindex", "--embedding-model", "nomic-embed-text")
		require.NoError(t, err)
		assert.Contains(t, out, "Re-embedded")
	})

	t.Run("query", func(t *testing.T) {
		out, err := h.run("query", "--json", "--ground-truth", "$260,174", "What were net sales in 2019?")
		require.NoError(t, err)

		var answer finrag.Answer
		require.NoError(t, json.Unmarshal([]byte(out), &answer))
		assert.Equal(t, "$260,174", answer.Answer)
		assert.NotEmpty(t, answer.Sources)
		assert.True(t, answer.Metrics.ExactMatch)
	})

	t.Run("metrics are restored across runs", func(t *testing.T) {
		out, err := h.run("metrics")
		require.NoError(t, err)

		var summary map[string]float64
		require.NoError(t, json.Unmarshal([]byte(out), &summary))
		assert.Equal(t, 1.0, summary["total_questions"])
	})

	t.Run("evaluate", func(t *testing.T) {
		out, err := h.run("evaluate", "--dataset", datasetPath)
		require.NoError(t, err)

		var summary map[string]float64
		require.NoError(t, json.Unmarshal([]byte(out), &summary))
		assert.Equal(t, 2.0, summary["total_questions"])
		assert.Equal(t, 0.5, summary["exact_match_rate"])
		assert.Equal(t, 2.0, summary["successful_retrievals"])
	})

	t.Run("reset", func(t *testing.T) {
		_, err := h.run("metrics", "--reset")
		require.NoError(t, err)

		out, err := h.run("metrics")
		require.NoError(t, err)
		var summary map[string]float64
		require.NoError(t, json.Unmarshal([]byte(out), &summary))
		assert.Zero(t, summary["total_questions"])
	})
}

func TestCommandValidation(t *testing.T) {
	h := newHarness(t, "answer")

	t.Run("ingest requires paths", func(t *testing.T) {
		_, err := h.run("ingest")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one file")
	})

	t.Run("query requires a question", func(t *testing.T) {
		_, err := h.run("query")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "question is required")
	})

	t.Run("evaluate requires dataset", func(t *testing.T) {
		_, err := h.run("evaluate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dataset")
	})

	t.Run("reindex requires an index", func(t *testing.T) {
		_, err := h.run("reindex")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run ingest first")
	})

	t.Run("unknown format", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "notes.txt", "Revenue grew.")
		_, err := h.run("ingest", "--format", "csv", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown format")
	})
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	app := func() *cli.App {
		a := newApp(mockOpen(""))
		a.Writer = &bytes.Buffer{}
		return a
	}

	require.NoError(t, app().Run([]string{"finrag", "--config", path, "config", "init"}))
	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), loaded)

	err = app().Run([]string{"finrag", "--config", path, "config", "init"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, app().Run([]string{"finrag", "--config", path, "config", "init", "--force"}))

	var out bytes.Buffer
	a := newApp(mockOpen(""))
	a.Writer = &out
	require.NoError(t, a.Run([]string{"finrag", "--config", path, "--index-dir", "/srv/index", "config", "show"}))
	assert.Contains(t, out.String(), "/srv/index")
}

func TestLoadDocuments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "train.json", dataset)
	writeFile(t, dir, "q3#notes.txt", "Revenue grew 12% in Q3.")
	writeFile(t, dir, "ignored.csv", "a,b")

	t.Run("auto", func(t *testing.T) {
		docs, err := loadDocuments([]string{dir}, "auto")
		require.NoError(t, err)
		require.Len(t, docs, 3)

		ids := []string{docs[0].ID, docs[1].ID, docs[2].ID}
		assert.Contains(t, ids, "q3_notes")
		assert.Contains(t, ids, "Single_AAPL/2019/page_12.pdf-1")
	})

	t.Run("text only", func(t *testing.T) {
		docs, err := loadDocuments([]string{dir}, "text")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "Revenue grew 12% in Q3.", docs[0].Text)
		assert.Equal(t, "q3#notes.txt", docs[0].Source.Filename)
	})

	t.Run("dataset formatting", func(t *testing.T) {
		docs, err := loadDocuments([]string{filepath.Join(dir, "train.json")}, "auto")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Contains(t, docs[0].Text, "Financial Data Table:")
		assert.Contains(t, docs[0].Text, "net sales | $260,174 | $265,595")
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := loadDocuments([]string{filepath.Join(dir, "missing")}, "auto")
		assert.Error(t, err)
	})
}

func TestSetupLogger(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "WaRn"} {
			t.Run(level, func(t *testing.T) {
				app := &cli.App{
					Name: "test",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  "log-level",
							Value: "info",
						},
					},
					Before: setupLogger,
					Action: func(c *cli.Context) error {
						return nil
					},
				}

				err := app.Run([]string{"test", "--log-level", level})
				require.NoError(t, err)
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		err := newApp(mockOpen("")).Run([]string{"finrag", "--log-level", "verbose", "metrics"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		var flag *cli.StringFlag
		for _, f := range newApp(mockOpen("")).Flags {
			if sf, ok := f.(*cli.StringFlag); ok && sf.Name == "log-level" {
				flag = sf
			}
		}
		require.NotNil(t, flag)
		assert.Equal(t, []string{"l"}, flag.Aliases)
		assert.Equal(t, "info", flag.Value)
	})
}
