package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/blackmichael/bluesky-replay/internal/config"
	"github.com/blackmichael/bluesky-replay/internal/domain"
	"github.com/blackmichael/bluesky-replay/internal/evaluate"
	"github.com/blackmichael/bluesky-replay/internal/sessionlog"
	"github.com/blackmichael/bluesky-replay/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var minInteractions int
	flag.StringVar(&cfg.SessionsPath, "sessions", cfg.SessionsPath, "Session log path")
	flag.IntVar(&minInteractions, "min-interactions", 0, "Only score users with at least this many likes and reposts")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	reader, closeReader, err := openReader(cfg)
	if err != nil {
		return err
	}
	defer closeReader()

	sessions, err := reader.ReadSessions(context.Background())
	if err != nil {
		return fmt.Errorf("read sessions: %w", err)
	}
	logger.Info("loaded sessions", "path", cfg.SessionsPath, "sessions", len(sessions))

	metrics, err := evaluate.ScoreAll(sessions)
	if err != nil {
		return fmt.Errorf("score sessions: %w", err)
	}

	all := evaluate.Summarize(metrics)
	result := map[string]any{"all": all}
	if minInteractions > 0 {
		active := evaluate.Summarize(evaluate.ActiveUsers(metrics, minInteractions))
		result["active_users"] = active
		logger.Info("filtered active users", "min_interactions", minInteractions, "users", active.Users, "of", all.Users)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func openReader(cfg *config.Config) (domain.SessionReader, func() error, error) {
	switch cfg.Sink {
	case config.SinkSQLite:
		repo, err := sqlite.NewRepository(cfg.SessionsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open repository: %w", err)
		}
		return repo, repo.Close, nil
	default:
		return sessionlog.NewSink(cfg.SessionsPath), func() error { return nil }, nil
	}
}
