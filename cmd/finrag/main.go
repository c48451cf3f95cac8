// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/finrag"
	"github.com/poiesic/finrag/config"
	"github.com/urfave/cli/v2"
)

// openFunc opens the engine a command works on.
type openFunc func(ctx context.Context, cfg *config.Config, opts ...finrag.EngineOption) (*finrag.Engine, error)

func main() {
	if err := newApp(finrag.Open).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(open openFunc) *cli.App {
	cmds := &commands{open: open}
	return &cli.App{
		Name:  "finrag",
		Usage: "Question answering and retrieval evaluation over financial documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML config file (default ~/.finrag/config.toml)",
			},
			&cli.StringFlag{
				Name:  "index-dir",
				Usage: "Override the index directory",
			},
			&cli.StringFlag{
				Name:  "store-dir",
				Usage: "Override the BadgerDB store directory",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Chunk, embed and index documents",
				ArgsUsage: "<file or directory>...",
				Action:    cmds.ingest,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "Input format: auto, dataset or text",
						Value: "auto",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks embedded per request",
					},
					&cli.IntFlag{
						Name:  "pool-size",
						Usage: "Number of concurrent embedding requests",
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts per embedding request",
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed the indexed chunks with the configured embedding model",
				Action: cmds.reindex,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks embedded per request",
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts per embedding request",
					},
					&cli.StringFlag{
						Name:  "embedding-model",
						Usage: "Override the embedding model",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Answer a question from the index",
				ArgsUsage: "<question>",
				Action:    cmds.query,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "conversation",
						Usage: "Conversation id to continue",
					},
					&cli.StringFlag{
						Name:  "ground-truth",
						Usage: "Expected answer, scored against the generated one",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of chunks to retrieve",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the full answer as JSON",
					},
				},
			},
			{
				Name:   "evaluate",
				Usage:  "Ask every question of a dataset and summarize the metrics",
				Action: cmds.evaluate,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "dataset",
						Aliases:  []string{"d"},
						Usage:    "Path to a JSON dataset of records with questions",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Evaluate at most N questions (0 for all)",
					},
				},
			},
			{
				Name:   "metrics",
				Usage:  "Print the saved metrics summary",
				Action: cmds.metrics,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "conversation",
						Usage: "Summarize one conversation",
					},
					&cli.BoolFlag{
						Name:  "reset",
						Usage: "Clear all metrics",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API",
				Action: cmds.serve,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address",
					},
					&cli.BoolFlag{
						Name:  "restore-metrics",
						Usage: "Continue from the saved metrics aggregate",
					},
				},
			},
			{
				Name:  "config",
				Usage: "Manage the config file",
				Subcommands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "Write the default config",
						Action: configInitCommand,
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "force",
								Usage: "Overwrite an existing file",
							},
						},
					},
					{
						Name:   "show",
						Usage:  "Print the effective config",
						Action: configShowCommand,
					},
				},
			},
		},
	}
}

func configPath(c *cli.Context) (string, error) {
	if path := c.String("config"); path != "" {
		return path, nil
	}
	return config.DefaultPath()
}

// loadConfig reads the config file and applies the global overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path, err := configPath(c)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if c.IsSet("index-dir") {
		cfg.Index.Dir = c.String("index-dir")
	}
	if c.IsSet("store-dir") {
		cfg.Storage.Dir = c.String("store-dir")
	}
	return cfg, nil
}

func configInitCommand(c *cli.Context) error {
	path, err := configPath(c)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := config.Default().Save(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)
	return nil
}

func configShowCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return toml.NewEncoder(c.App.Writer).Encode(cfg)
}

func printJSON(c *cli.Context, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(data))
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
