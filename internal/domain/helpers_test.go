package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memorySink struct {
	sessions []Session
	resets   int
	failOn   int // fail the n-th append (1-based); 0 never fails
}

func (m *memorySink) Reset(context.Context) error {
	m.resets++
	m.sessions = nil
	return nil
}

func (m *memorySink) Append(_ context.Context, s *Session) error {
	if m.failOn > 0 && len(m.sessions)+1 == m.failOn {
		return fmt.Errorf("sink full")
	}
	cp := *s
	cp.Impressions = append([]string(nil), s.Impressions...)
	cp.Actions = append([]json.RawMessage(nil), s.Actions...)
	m.sessions = append(m.sessions, cp)
	return nil
}

func (m *memorySink) forUser(did string) []Session {
	var out []Session
	for _, s := range m.sessions {
		if s.DID == did {
			out = append(out, s)
		}
	}
	return out
}

type sliceSource struct {
	records []*Record
}

func (s *sliceSource) Next(context.Context) (*Record, error) {
	if len(s.records) == 0 {
		return nil, io.EOF
	}
	rec := s.records[0]
	s.records = s.records[1:]
	return rec, nil
}

func minutes(n int) int64 {
	return (time.Duration(n) * time.Minute).Milliseconds()
}

func postURI(did, rkey string) string {
	return fmt.Sprintf("at://%s/app.bsky.feed.post/%s", did, rkey)
}

func mustParse(t *testing.T, line string) *Record {
	t.Helper()
	rec, err := ParseRecord([]byte(line))
	require.NoError(t, err)
	return rec
}

func postRecord(t *testing.T, did, rkey string, ts int64) *Record {
	t.Helper()
	return mustParse(t, fmt.Sprintf(`{"$type":"app.bsky.feed.post","did":%q,"ts":%d,"uri":%q,"text":"hello"}`,
		did, ts, postURI(did, rkey)))
}

func replyRecord(t *testing.T, did, rkey, parent string, ts int64) *Record {
	t.Helper()
	return mustParse(t, fmt.Sprintf(`{"$type":"app.bsky.feed.post","did":%q,"ts":%d,"uri":%q,"reply":{"root":{"uri":%q},"parent":{"uri":%q}}}`,
		did, ts, postURI(did, rkey), parent, parent))
}

func followRecord(t *testing.T, did, subject string, ts int64) *Record {
	t.Helper()
	return mustParse(t, fmt.Sprintf(`{"$type":"app.bsky.graph.follow","did":%q,"ts":%d,"subject":%q}`, did, ts, subject))
}

func likeRecord(t *testing.T, did, subjectURI string, ts int64) *Record {
	t.Helper()
	return mustParse(t, fmt.Sprintf(`{"$type":"app.bsky.feed.like","did":%q,"ts":%d,"subject":{"uri":%q,"cid":"bafy"}}`, did, ts, subjectURI))
}

func testReplayConfig() ReplayConfig {
	return ReplayConfig{
		Feed: FeedLimits{PerAuthor: 60, PerSession: 20, Profile: 20},
		Session: SessionConfig{
			IdleThreshold:      30 * time.Minute,
			ImpressionSnapshot: 20,
			ExcludedDIDs:       []string{"did:plc:bot"},
		},
	}
}
