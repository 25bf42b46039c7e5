package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/bluesky-replay/internal/config"
	"github.com/blackmichael/bluesky-replay/internal/domain"
	"github.com/blackmichael/bluesky-replay/internal/firehose"
	"github.com/blackmichael/bluesky-replay/internal/sessionlog"
	"github.com/blackmichael/bluesky-replay/internal/sqlite"
	"github.com/dustin/go-humanize"
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

	flag.StringVar(&cfg.InputDir, "input", cfg.InputDir, "Firehose archive directory")
	flag.StringVar(&cfg.SessionsPath, "sessions", cfg.SessionsPath, "Session log path")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// Interrupting a replay aborts it; a rerun starts from scratch.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	stats, err := replay(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("replay complete",
		"records", humanize.Comma(stats.Records),
		"posts", humanize.Comma(stats.Posts),
		"skipped_replies_and_quotes", humanize.Comma(stats.SkippedPosts),
		"likes", humanize.Comma(stats.Likes),
		"reposts", humanize.Comma(stats.Reposts),
		"follows", humanize.Comma(stats.Follows),
		"deletes", humanize.Comma(stats.Deletes),
		"ignored", humanize.Comma(stats.Ignored),
		"users", humanize.Comma(int64(stats.Users)),
		"indexed_posts", humanize.Comma(int64(stats.IndexedPosts)),
		"sessions", humanize.Comma(int64(stats.SessionsFlushed)),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// replay runs one full replay of the configured archive into the configured
// session log.
func replay(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*domain.ReplayStats, error) {
	sink, closeSink, err := openSink(cfg)
	if err != nil {
		return nil, err
	}
	defer closeSink()

	source, err := firehose.OpenArchive(cfg.InputDir, cfg.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer source.Close()

	logger.Info("starting replay",
		"input_dir", cfg.InputDir,
		"archive_files", len(source.Files()),
		"cutoff", cfg.Cutoff.Format(time.DateOnly),
		"sink", cfg.Sink,
		"sessions_path", cfg.SessionsPath,
		"idle_threshold", cfg.IdleThreshold,
	)

	service := domain.NewReplayService(cfg.ReplayConfig(), sink, logger)
	stats, err := service.Run(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return stats, nil
}

func openSink(cfg *config.Config) (domain.SessionSink, func() error, error) {
	switch cfg.Sink {
	case config.SinkSQLite:
		repo, err := sqlite.NewRepository(cfg.SessionsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("create repository: %w", err)
		}
		return repo, repo.Close, nil
	default:
		return sessionlog.NewSink(cfg.SessionsPath), func() error { return nil }, nil
	}
}
