package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/finrag"
	"github.com/poiesic/finrag/chunking"
	"github.com/poiesic/finrag/config"
	"github.com/poiesic/finrag/server"
	"github.com/urfave/cli/v2"
)

type commands struct {
	open openFunc
}

func (cmds *commands) openEngine(c *cli.Context, cfg *config.Config, opts ...finrag.EngineOption) (*finrag.Engine, error) {
	engine, err := cmds.open(c.Context, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func (cmds *commands) ingest(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file or directory is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("batch-size") {
		cfg.Ingestion.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("pool-size") {
		cfg.Ingestion.PoolSize = c.Int("pool-size")
	}
	if c.IsSet("max-retries") {
		cfg.Ingestion.MaxAttempts = c.Int("max-retries")
	}
	if c.IsSet("retry-delay") {
		cfg.Ingestion.RetryBaseDelay = config.Duration{Duration: c.Duration("retry-delay")}
	}

	docs, err := loadDocuments(c.Args().Slice(), c.String("format"))
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return errors.New("no documents found")
	}

	engine, err := cmds.openEngine(c, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	errOut := c.App.ErrWriter
	fmt.Fprintf(errOut, "Documents: %d\n", len(docs))
	fmt.Fprintf(errOut, "Index: %s\n", cfg.Index.Dir)
	fmt.Fprintf(errOut, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
	fmt.Fprintf(errOut, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
	fmt.Fprintln(errOut)

	report, err := engine.Ingest(ctx, docs, errOut)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Indexed %d chunks from %d documents in %s\n",
		report.Chunks, report.Documents, report.Elapsed.Round(time.Millisecond))
	if report.Oversized > 0 {
		fmt.Fprintf(c.App.Writer, "%d chunks exceed the token bound to keep tables whole\n", report.Oversized)
	}
	if len(report.Skipped) > 0 {
		fmt.Fprintf(c.App.Writer, "Skipped duplicates: %s\n", strings.Join(report.Skipped, ", "))
	}
	return nil
}

func (cmds *commands) reindex(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("batch-size") {
		cfg.Ingestion.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("max-retries") {
		cfg.Ingestion.MaxAttempts = c.Int("max-retries")
	}
	if c.IsSet("embedding-model") {
		cfg.AI.EmbeddingModel = c.String("embedding-model")
		// The stored vectors belong to the old model.
		cfg.AI.Dimension = 0
	}

	engine, err := cmds.openEngine(c, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	if engine.Index().Len() == 0 {
		return fmt.Errorf("no index in %s, run ingest first", cfg.Index.Dir)
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	fmt.Fprintf(c.App.ErrWriter, "Index: %s\n", cfg.Index.Dir)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
	fmt.Fprintln(c.App.ErrWriter)

	report, err := engine.Reindex(ctx, c.App.ErrWriter)
	if err != nil {
		return fmt.Errorf("reindexing failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Re-embedded %d chunks in %s\n", report.Chunks, report.Elapsed.Round(time.Millisecond))
	return nil
}

func (cmds *commands) query(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("top-k") {
		cfg.Retrieval.TopK = c.Int("top-k")
	}

	engine, err := cmds.openEngine(c, cfg, finrag.WithRestoredMetrics(true))
	if err != nil {
		return err
	}
	defer engine.Close()

	answer, err := engine.Ask(c.Context, c.String("conversation"), question, &finrag.AskOptions{
		GroundTruth: c.String("ground-truth"),
	})
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c, answer)
	}

	out := c.App.Writer
	fmt.Fprintln(out, answer.Answer)
	fmt.Fprintln(out)
	if answer.NoContext {
		fmt.Fprintln(out, "No matching context was found.")
	}
	for _, s := range answer.Sources {
		fmt.Fprintf(out, "%d: %s [%0.3f] (vector %0.3f, entity %0.3f)\n",
			s.Rank, s.ChunkID, s.CombinedScore, s.VectorScore, s.EntityScore)
	}
	fmt.Fprintf(out, "Conversation: %s\n", answer.ConversationID)
	return nil
}

func (cmds *commands) evaluate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	records, err := loadRecords(c.String("dataset"))
	if err != nil {
		return err
	}

	var cases []chunking.EvaluationCase
	for _, r := range records {
		if tc, ok := r.Case(); ok {
			cases = append(cases, tc)
		}
	}
	if limit := c.Int("limit"); limit > 0 && len(cases) > limit {
		cases = cases[:limit]
	}
	if len(cases) == 0 {
		return errors.New("dataset has no questions")
	}

	engine, err := cmds.openEngine(c, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	// A question is relevant to every chunk of the record it came from.
	relevant := make(map[string][]string)
	for _, chunk := range engine.Index().Chunks() {
		relevant[chunk.DocumentID] = append(relevant[chunk.DocumentID], chunk.ID)
	}

	failed := 0
	for i, tc := range cases {
		answer, err := engine.Ask(ctx, "", tc.Question, &finrag.AskOptions{
			GroundTruth:      tc.Answer,
			RelevantChunkIDs: relevant[tc.DocumentID],
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			fmt.Fprintf(c.App.ErrWriter, "[%d/%d] %s: %v\n", i+1, len(cases), tc.DocumentID, err)
			continue
		}
		fmt.Fprintf(c.App.ErrWriter, "[%d/%d] %s: exact=%t accuracy=%0.2f\n",
			i+1, len(cases), tc.DocumentID, answer.Metrics.ExactMatch, answer.Metrics.AnswerAccuracy)
	}

	if failed > 0 {
		fmt.Fprintf(c.App.ErrWriter, "%d of %d questions failed\n", failed, len(cases))
	}
	return printJSON(c, engine.Metrics())
}

func (cmds *commands) metrics(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	engine, err := cmds.openEngine(c, cfg, finrag.WithRestoredMetrics(true))
	if err != nil {
		return err
	}
	defer engine.Close()

	if c.Bool("reset") {
		if err := engine.ResetMetrics(c.Context); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "Metrics reset")
		return nil
	}

	if id := c.String("conversation"); id != "" {
		summary, err := engine.ConversationMetrics(c.Context, id)
		if err != nil {
			return err
		}
		return printJSON(c, summary)
	}
	return printJSON(c, engine.Metrics())
}

func (cmds *commands) serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}

	engine, err := cmds.openEngine(c, cfg, finrag.WithRestoredMetrics(c.Bool("restore-metrics")))
	if err != nil {
		return err
	}
	defer engine.Close()

	srv, err := server.New(engine)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}
