package domain

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Session is one bounded span of a single user's activity, as written to the
// session log.
type Session struct {
	DID           string `json:"user_id"`
	SessionNumber int    `json:"session_number"`

	// StartTS and EndTS are epoch milliseconds.
	StartTS int64 `json:"start_ts"`
	EndTS   int64 `json:"end_ts"`

	// Impressions are the posts assumed visible when the session opened.
	// Fixed once the session is open; order is not significant.
	Impressions []string `json:"impressions"`

	// Actions are the user's records during the session, as received.
	Actions []json.RawMessage `json:"actions"`
}

// SessionConfig configures session boundaries and impression snapshots.
type SessionConfig struct {
	// IdleThreshold is the gap after which the next event opens a new session.
	IdleThreshold time.Duration

	// ImpressionSnapshot is how many entries of the chronological feed are
	// treated as seen when a session opens (roughly the first screen).
	ImpressionSnapshot int

	// ExcludedDIDs never get sessions (bots).
	ExcludedDIDs []string
}

// SessionManager tracks the open session of every non-excluded user, opening
// a new one whenever an idle gap is crossed and flushing the one it replaces
// to the sink.
type SessionManager struct {
	cfg      SessionConfig
	users    *UserStore
	feeds    *FeedBuilder
	sink     SessionSink
	excluded map[string]struct{}
	open     map[string]*Session
	flushed  int
	logger   *slog.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(cfg SessionConfig, users *UserStore, feeds *FeedBuilder, sink SessionSink, logger *slog.Logger) *SessionManager {
	excluded := make(map[string]struct{}, len(cfg.ExcludedDIDs))
	for _, did := range cfg.ExcludedDIDs {
		excluded[did] = struct{}{}
	}

	return &SessionManager{
		cfg:      cfg,
		users:    users,
		feeds:    feeds,
		sink:     sink,
		excluded: excluded,
		open:     make(map[string]*Session),
		logger:   logger,
	}
}

// IsExcluded reports whether did is on the excluded list.
func (m *SessionManager) IsExcluded(did string) bool {
	_, ok := m.excluded[did]
	return ok
}

// Open returns the currently open session for did.
func (m *SessionManager) Open(did string) (*Session, bool) {
	s, ok := m.open[did]
	return s, ok
}

// Flushed returns the number of sessions written to the sink so far.
func (m *SessionManager) Flushed() int {
	return m.flushed
}

// Observe runs the session boundary check for an event by did at ts. It must
// be called before the user's activity timestamp is updated for the event.
// When the check fires, the user's open session (if any) is flushed and a new
// one opens with a fresh impression snapshot. Excluded users are ignored.
func (m *SessionManager) Observe(ctx context.Context, did string, ts int64) error {
	if m.IsExcluded(did) {
		return nil
	}

	isNew, err := m.users.IsNewSession(did, ts, m.cfg.IdleThreshold)
	if err != nil {
		return fmt.Errorf("check session boundary: %w", err)
	}
	if !isNew {
		return nil
	}

	next := 0
	if prev, ok := m.open[did]; ok {
		next = prev.SessionNumber + 1
		if err := m.flush(ctx, prev); err != nil {
			return err
		}
	}

	feed, err := m.feeds.ChronologicalFeed(did)
	if err != nil {
		return fmt.Errorf("build feed: %w", err)
	}
	u, _ := m.users.Get(did)
	u.Feed = feed

	m.open[did] = &Session{
		DID:           did,
		SessionNumber: next,
		StartTS:       ts,
		EndTS:         ts,
		Impressions:   snapshot(feed, m.cfg.ImpressionSnapshot),
		Actions:       []json.RawMessage{},
	}
	return nil
}

// Append adds rec to the open session of its actor and advances the session
// end. Excluded actors are ignored; any other actor must have an open session.
func (m *SessionManager) Append(rec *Record) error {
	if m.IsExcluded(rec.DID) {
		return nil
	}

	s, ok := m.open[rec.DID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoOpenSession, rec.DID)
	}

	raw, err := rec.RawJSON()
	if err != nil {
		return err
	}
	s.Actions = append(s.Actions, raw)
	s.EndTS = rec.TS
	return nil
}

// Drain flushes every open session, oldest end time first.
func (m *SessionManager) Drain(ctx context.Context) error {
	sessions := make([]*Session, 0, len(m.open))
	for _, s := range m.open {
		sessions = append(sessions, s)
	}
	slices.SortFunc(sessions, func(a, b *Session) int {
		return cmp.Or(cmp.Compare(a.EndTS, b.EndTS), cmp.Compare(a.DID, b.DID))
	})

	for _, s := range sessions {
		if err := m.flush(ctx, s); err != nil {
			return err
		}
		delete(m.open, s.DID)
	}
	return nil
}

func (m *SessionManager) flush(ctx context.Context, s *Session) error {
	if err := m.sink.Append(ctx, s); err != nil {
		return fmt.Errorf("flush session %d for %s: %w", s.SessionNumber, s.DID, err)
	}
	m.flushed++
	m.logger.Debug("session flushed",
		"did", s.DID,
		"session_number", s.SessionNumber,
		"impressions", len(s.Impressions),
		"actions", len(s.Actions),
	)
	return nil
}

// snapshot returns the first n distinct entries of feed.
func snapshot(feed []string, n int) []string {
	n = max(n, 0)
	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for _, uri := range feed {
		if len(out) == n {
			break
		}
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}
		out = append(out, uri)
	}
	return out
}
