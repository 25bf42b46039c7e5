package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-replay/internal/domain"
)

// Sink backends.
const (
	SinkJSONL  = "jsonl"
	SinkSQLite = "sqlite"
)

const cutoffLayout = "2006-01-02"

// defaultExcludedDIDs are known bot accounts.
var defaultExcludedDIDs = []string{"did:plc:fjsmdevv3mmzc3dpd36u5yxc"}

// Config holds all configuration for the application.
type Config struct {
	// InputDir is the firehose archive directory replayed (and written by
	// capture).
	InputDir string

	// Cutoff is the UTC date at which the replay stops.
	Cutoff time.Time

	// Sink selects the session log backend: "jsonl" or "sqlite".
	Sink string

	// SessionsPath is the session log location.
	SessionsPath string

	// IdleThreshold is the gap of inactivity that ends a session.
	IdleThreshold time.Duration

	// MaxPostsPerUser is how many recent posts each author contributes to a
	// reconstructed feed.
	MaxPostsPerUser int

	// MaxPostsPerSession is the length of a reconstructed chronological feed.
	MaxPostsPerSession int

	// ProfileFeedSize is the length of a reconstructed profile feed.
	ProfileFeedSize int

	// ImpressionSnapshotSize is how many feed entries count as seen when a
	// session opens.
	ImpressionSnapshotSize int

	// ExcludedDIDs are actors that never get sessions.
	ExcludedDIDs []string

	// LogLevel is the minimum slog level.
	LogLevel slog.Level

	// FirehoseURL is the Jetstream WebSocket endpoint used by capture.
	FirehoseURL string
}

// ReplayConfig returns the domain constants derived from the configuration.
func (c *Config) ReplayConfig() domain.ReplayConfig {
	return domain.ReplayConfig{
		Feed: domain.FeedLimits{
			PerAuthor:  c.MaxPostsPerUser,
			PerSession: c.MaxPostsPerSession,
			Profile:    c.ProfileFeedSize,
		},
		Session: domain.SessionConfig{
			IdleThreshold:      c.IdleThreshold,
			ImpressionSnapshot: c.ImpressionSnapshotSize,
			ExcludedDIDs:       c.ExcludedDIDs,
		},
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cutoffStr := os.Getenv("REPLAY_CUTOFF_DATE")
	if cutoffStr == "" {
		cutoffStr = "2023-05-01"
	}
	cutoff, err := time.Parse(cutoffLayout, cutoffStr)
	if err != nil {
		return nil, fmt.Errorf("invalid REPLAY_CUTOFF_DATE: %w", err)
	}

	sink := os.Getenv("REPLAY_SINK")
	if sink == "" {
		sink = SinkJSONL
	}
	if sink != SinkJSONL && sink != SinkSQLite {
		return nil, fmt.Errorf("invalid REPLAY_SINK %q: must be %s or %s", sink, SinkJSONL, SinkSQLite)
	}

	inputDir := os.Getenv("REPLAY_INPUT_DIR")
	if inputDir == "" {
		inputDir = "./data/firehose"
	}

	sessionsPath := os.Getenv("REPLAY_SESSIONS_PATH")
	if sessionsPath == "" {
		ext := ".jsonl"
		if sink == SinkSQLite {
			ext = ".db"
		}
		sessionsPath = "./data/sessions-" + cutoffStr + ext
	}

	idleMinutes, err := positiveInt("REPLAY_SESSION_IDLE_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	perUser, err := positiveInt("REPLAY_MAX_POSTS_PER_USER", 60)
	if err != nil {
		return nil, err
	}
	perSession, err := positiveInt("REPLAY_MAX_POSTS_PER_SESSION", 20)
	if err != nil {
		return nil, err
	}
	profile, err := positiveInt("REPLAY_PROFILE_FEED_SIZE", 20)
	if err != nil {
		return nil, err
	}
	snapshot, err := positiveInt("REPLAY_IMPRESSION_SNAPSHOT_SIZE", 20)
	if err != nil {
		return nil, err
	}

	excluded := defaultExcludedDIDs
	if v, ok := os.LookupEnv("REPLAY_EXCLUDED_DIDS"); ok {
		excluded = splitList(v)
	}

	var level slog.Level
	if v := os.Getenv("REPLAY_LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid REPLAY_LOG_LEVEL: %w", err)
		}
	}

	firehoseURL := os.Getenv("FEEDGEN_FIREHOSE_URL")
	if firehoseURL == "" {
		firehoseURL = "wss://jetstream1.us-east.bsky.network/subscribe"
	}

	return &Config{
		InputDir:               inputDir,
		Cutoff:                 cutoff,
		Sink:                   sink,
		SessionsPath:           sessionsPath,
		IdleThreshold:          time.Duration(idleMinutes) * time.Minute,
		MaxPostsPerUser:        perUser,
		MaxPostsPerSession:     perSession,
		ProfileFeedSize:        profile,
		ImpressionSnapshotSize: snapshot,
		ExcludedDIDs:           excluded,
		LogLevel:               level,
		FirehoseURL:            firehoseURL,
	}, nil
}

func positiveInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", key, n)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
