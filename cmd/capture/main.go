package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/bluesky-replay/internal/config"
	"github.com/blackmichael/bluesky-replay/internal/firehose"
	"golang.org/x/sync/errgroup"
)

const flushInterval = 5 * time.Second

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

	var cursor int64
	flag.StringVar(&cfg.InputDir, "out", cfg.InputDir, "Archive directory to write firehose records to")
	flag.StringVar(&cfg.FirehoseURL, "url", cfg.FirehoseURL, "Jetstream WebSocket endpoint")
	flag.Int64Var(&cursor, "cursor", 0, "Jetstream time_us to resume from (0 = live)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	archive, err := firehose.NewArchiveWriter(cfg.InputDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := archive.Close(); err != nil {
			logger.Error("error closing archive", "error", err)
		}
	}()

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	subscriber := firehose.NewSubscriber(cfg.FirehoseURL, archive, cursor, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return subscriber.Start(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := archive.Flush(); err != nil {
					return fmt.Errorf("flush archive: %w", err)
				}
			}
		}
	})

	logger.Info("capture started", "out", cfg.InputDir, "url", cfg.FirehoseURL, "cursor", cursor)

	err = g.Wait()
	logger.Info("capture stopped", "cursor", subscriber.Cursor())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
