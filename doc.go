// Package finrag answers questions about financial documents with hybrid
// retrieval and scores every answer.
//
// Engine ties the pieces together: it loads the persisted vector index,
// retrieves context for a question using the conversation window, prompts
// the generation service, evaluates the answer and records the turn and its
// metrics. Ingest merges new documents into the index and Reindex rebuilds it.
//
//	cfg, _ := config.Load(path)
//	engine, err := finrag.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//	answer, err := engine.Ask(ctx, "", "What was Q3 revenue growth?", nil)
package finrag
