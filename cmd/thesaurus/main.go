// Command thesaurus runs the relation-extraction stages over a taxonomy and
// queries the merged graph.
//
// Usage:
//
//	thesaurus [flags] <command> [args]
//
// Commands:
//
//	vote | entail | triggers | usage-variants | neighbors | synonyms | merge
//	all                              run the configured evidence stages, then merge
//	set-relation <key> <phrase> <r>  record a manual label
//	relations <key>                  print merged relations of key
//	hypernyms <key>                  print hypernym levels of key
//	stats                            print graph and database statistics
//	evaluate <gold.json>             score the merged graph against gold labels
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/brunobiangulo/thesaurus"
)

// stringSlice implements flag.Value for repeated or comma-separated values.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }
func (s *stringSlice) Set(val string) error {
	for _, v := range strings.Split(val, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*s = append(*s, v)
		}
	}
	return nil
}

func main() {
	var stages stringSlice

	var (
		configPath   = flag.String("config", "", "Path to config file (JSON or YAML)")
		dbPath       = flag.String("db", "", "Path to SQLite database (overrides config)")
		artifactDir  = flag.String("artifacts", "", "Directory for stage artifacts (overrides config)")
		depth        = flag.Int("depth", 3, "Maximum depth for the hypernyms command")
		keepGoing    = flag.Bool("keep-going", false, "With all: continue after a failed evidence stage")
		logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		taxonomyOnly = flag.Bool("taxonomy-only", false, "With merge: keep only taxonomy phrases")
	)
	flag.Var(&stages, "stages", "With all: evidence stages to run (repeatable or comma-separated)")
	flag.Usage = usage
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q\n", *logLevel)
		os.Exit(2)
	}
	// Logs go to stderr so stdout carries only JSON results.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := thesaurus.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		slog.Error("applying environment", "error", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *artifactDir != "" {
		cfg.ArtifactDir = *artifactDir
	}
	if *taxonomyOnly {
		cfg.Merge.TaxonomyOnly = true
	}
	if len(stages) == 0 {
		stages = cfg.Merge.Stages
	}

	engine, err := thesaurus.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{
		engine:    engine,
		out:       os.Stdout,
		depth:     *depth,
		stages:    stages,
		keepGoing: *keepGoing,
		synonyms:  len(cfg.SynonymSources) > 0,
	}
	err = c.execute(ctx, flag.Arg(0), flag.Args()[1:])
	stop()
	if cerr := engine.Close(); cerr != nil {
		slog.Warn("closing engine", "error", cerr)
	}
	if err != nil {
		slog.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: thesaurus [flags] <command> [args]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-32s %s\n", c.usage, c.help)
	}
	fmt.Fprintf(os.Stderr, "\nflags:\n")
	flag.PrintDefaults()
}
