package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brunobiangulo/thesaurus"
	"github.com/brunobiangulo/thesaurus/graph"
)

var errUsage = errors.New("usage")

type command struct {
	name  string
	usage string
	help  string
	args  int
}

var commands = []command{
	{"vote", "vote", "hypernym candidates from neighbour voting", 0},
	{"entail", "entail", "hypernym pairs confirmed by the NLI classifier", 0},
	{"triggers", "triggers", "hypernym pairs from trigger sentences", 0},
	{"usage-variants", "usage-variants", "usage variants from token containment", 0},
	{"neighbors", "neighbors", "synonyms from embedding neighbours", 0},
	{"synonyms", "synonyms", "merge configured synonym sources", 0},
	{"merge", "merge", "merge stored evidence into the graph", 0},
	{"all", "all", "run the evidence stages, then merge", 0},
	{"set-relation", "set-relation <key> <phrase> <rel>", "record a manual label", 3},
	{"relations", "relations <key>", "merged relations of key", 1},
	{"hypernyms", "hypernyms <key>", "hypernym levels of key (see -depth)", 1},
	{"stats", "stats", "graph and database statistics", 0},
	{"evaluate", "evaluate <gold.json>", "score the merged graph against gold labels", 1},
}

// cli dispatches one command against an engine and writes JSON to out.
type cli struct {
	engine    thesaurus.Engine
	out       io.Writer
	depth     int
	stages    []string
	keepGoing bool
	synonyms  bool
}

func (c *cli) execute(ctx context.Context, name string, args []string) error {
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
	if len(args) != cmd.args {
		return fmt.Errorf("%w: %s", errUsage, cmd.usage)
	}

	switch name {
	case "all":
		return c.all(ctx)
	case "set-relation":
		rel, err := graph.ParseRelation(args[2])
		if err != nil {
			return err
		}
		changed, err := c.engine.SetRelation(args[0], args[1], rel)
		if err != nil {
			return err
		}
		return c.print(map[string]any{"key": args[0], "phrase": args[1], "relation": rel, "changed": changed})
	case "relations":
		targets, err := c.engine.Relations(ctx, args[0])
		if err != nil {
			return err
		}
		return c.print(map[string]any{"key": args[0], "phrases": targets})
	case "hypernyms":
		levels, err := c.engine.Hypernyms(ctx, args[0], c.depth)
		if err != nil {
			return err
		}
		return c.print(map[string]any{"key": args[0], "levels": levels})
	case "stats":
		stats, err := c.engine.Stats(ctx)
		if err != nil {
			return err
		}
		return c.print(stats)
	case "evaluate":
		report, err := c.engine.Evaluate(ctx, args[0])
		if err != nil {
			return err
		}
		return c.print(report)
	}

	run, err := c.stage(stageName(name))(ctx)
	if err != nil {
		return err
	}
	return c.print(run)
}

// all runs each selected evidence stage, then merges. The synonym stage is
// skipped when no sources are configured.
func (c *cli) all(ctx context.Context) error {
	start := time.Now()
	var runs []*thesaurus.Run
	for _, s := range c.stages {
		if s == thesaurus.StageSynonyms && !c.synonyms {
			slog.Info("skipping stage", "stage", s, "reason", "no synonym sources")
			continue
		}
		fn := c.stage(s)
		if fn == nil || s == thesaurus.StageMerge {
			return fmt.Errorf("%w: unknown stage %q", errUsage, s)
		}
		run, err := fn(ctx)
		if err != nil {
			if c.keepGoing && ctx.Err() == nil {
				slog.Warn("stage failed, continuing", "stage", s, "error", err)
				continue
			}
			return err
		}
		runs = append(runs, run)
	}

	run, err := c.engine.Merge(ctx)
	if err != nil {
		return err
	}
	runs = append(runs, run)
	slog.Info("pipeline complete", "runs", len(runs), "elapsed", time.Since(start).Round(time.Millisecond))
	return c.print(runs)
}

func (c *cli) stage(name string) func(context.Context) (*thesaurus.Run, error) {
	switch name {
	case thesaurus.StageVoting:
		return c.engine.Vote
	case thesaurus.StageEntailment:
		return c.engine.Entail
	case thesaurus.StageTriggers:
		return c.engine.Triggers
	case thesaurus.StageUsageVariants:
		return c.engine.UsageVariants
	case thesaurus.StageNeighbors:
		return c.engine.Neighbors
	case thesaurus.StageSynonyms:
		return c.engine.Synonyms
	case thesaurus.StageMerge:
		return c.engine.Merge
	}
	return nil
}

// stageName maps a command name to its stage.
func stageName(cmd string) string {
	switch cmd {
	case "vote":
		return thesaurus.StageVoting
	case "entail":
		return thesaurus.StageEntailment
	case "usage-variants":
		return thesaurus.StageUsageVariants
	}
	return cmd
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
