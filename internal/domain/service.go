package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	// ErrUnknownUser is returned when an operation references a user that was
	// never established.
	ErrUnknownUser = errors.New("unknown user")

	// ErrNoOpenSession is returned when an action arrives for a non-excluded
	// user with no open session.
	ErrNoOpenSession = errors.New("no open session")

	// ErrMissingActor is returned for records without an actor DID.
	ErrMissingActor = errors.New("record has no actor did")
)

// statsInterval is how many records are processed between progress logs.
const statsInterval = 1_000_000

// ReplayConfig holds the constants a replay runs with.
type ReplayConfig struct {
	Feed    FeedLimits
	Session SessionConfig
}

// ReplayStats summarises a finished replay.
type ReplayStats struct {
	Records         int64
	Posts           int64
	SkippedPosts    int64 // replies and quotes
	Likes           int64
	Reposts         int64
	Follows         int64
	Deletes         int64
	Ignored         int64
	Users           int
	IndexedPosts    int
	SessionsFlushed int
}

// ReplayService replays a firehose record stream, rebuilding per-user state
// and emitting one session record per span of activity.
type ReplayService struct {
	users    *UserStore
	posts    *PostIndex
	feeds    *FeedBuilder
	sessions *SessionManager
	sink     SessionSink
	stats    ReplayStats
	logger   *slog.Logger
}

// NewReplayService creates a ReplayService with fresh stores. Sessions are
// written to sink.
func NewReplayService(cfg ReplayConfig, sink SessionSink, logger *slog.Logger) *ReplayService {
	users := NewUserStore(logger)
	feeds := NewFeedBuilder(users, cfg.Feed)

	return &ReplayService{
		users:    users,
		posts:    NewPostIndex(logger),
		feeds:    feeds,
		sessions: NewSessionManager(cfg.Session, users, feeds, sink, logger),
		sink:     sink,
		logger:   logger,
	}
}

// Users returns the service's user store.
func (s *ReplayService) Users() *UserStore { return s.users }

// Posts returns the service's post index.
func (s *ReplayService) Posts() *PostIndex { return s.posts }

// Feeds returns the service's feed builder.
func (s *ReplayService) Feeds() *FeedBuilder { return s.feeds }

// Sessions returns the service's session manager.
func (s *ReplayService) Sessions() *SessionManager { return s.sessions }

// Run resets the sink, processes every record from src, then flushes all
// sessions still open. Any error aborts the replay.
func (s *ReplayService) Run(ctx context.Context, src RecordSource) (*ReplayStats, error) {
	if err := s.sink.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset session sink: %w", err)
	}

	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}

		if err := s.Process(ctx, rec); err != nil {
			return nil, fmt.Errorf("process record at ts %d: %w", rec.TS, err)
		}

		if s.stats.Records%statsInterval == 0 {
			s.logger.Info("replay stats",
				"records", humanize.Comma(s.stats.Records),
				"users", humanize.Comma(int64(s.users.Len())),
				"sessions_flushed", humanize.Comma(int64(s.sessions.Flushed())),
				"replayed_until", time.UnixMilli(rec.TS).UTC(),
				"elapsed", time.Since(start).Round(time.Second),
			)
		}
	}

	if err := s.sessions.Drain(ctx); err != nil {
		return nil, fmt.Errorf("drain sessions: %w", err)
	}

	stats := s.Stats()
	return &stats, nil
}

// Stats returns a snapshot of the replay counters.
func (s *ReplayService) Stats() ReplayStats {
	stats := s.stats
	stats.Users = s.users.Len()
	stats.IndexedPosts = s.posts.Len()
	stats.SessionsFlushed = s.sessions.Flushed()
	return stats
}

// Process applies a single record: session boundary check, state update by
// record kind, then activity and session bookkeeping.
func (s *ReplayService) Process(ctx context.Context, rec *Record) error {
	if rec.DID == "" {
		return ErrMissingActor
	}
	s.stats.Records++

	s.users.EnsureUser(rec.DID)

	if err := s.sessions.Observe(ctx, rec.DID, rec.TS); err != nil {
		return err
	}

	if err := s.dispatch(rec); err != nil {
		return err
	}

	if err := s.users.Touch(rec.DID, rec.TS); err != nil {
		return err
	}
	return s.sessions.Append(rec)
}

func (s *ReplayService) dispatch(rec *Record) error {
	switch rec.Type {
	case KindPost:
		// Replies and quotes are not part of the reconstruction yet.
		if rec.IsReply() || rec.IsQuote() {
			s.stats.SkippedPosts++
			return nil
		}
		s.stats.Posts++
		s.posts.Record(rec)
		return s.users.RecordPost(rec.DID, rec.URI)

	case KindLike:
		// Like-driven impression narrowing is intentionally not modelled.
		s.stats.Likes++
		return nil

	case KindRepost:
		s.stats.Reposts++
		return nil

	case KindFollow:
		s.stats.Follows++
		if rec.Subject == nil || rec.Subject.DID == "" {
			s.logger.Warn("follow without subject", "did", rec.DID, "uri", rec.URI)
			return nil
		}
		return s.users.RecordFollow(rec.DID, rec.Subject.DID)

	case KindPostDelete:
		s.stats.Deletes++
		s.posts.MarkDeleted(rec.URI)
		return nil

	default:
		s.stats.Ignored++
		return nil
	}
}
