package domain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func runReplay(t *testing.T, records ...*Record) (*ReplayService, *memorySink, *ReplayStats) {
	t.Helper()
	sink := &memorySink{}
	svc := NewReplayService(testReplayConfig(), sink, discardLogger())
	stats, err := svc.Run(context.Background(), &sliceSource{records: records})
	require.NoError(t, err)
	return svc, sink, stats
}

func TestReplayService_SingleSession(t *testing.T) {
	post := postRecord(t, "did:plc:u1", "3ja", 0)
	follow := followRecord(t, "did:plc:u1", "did:plc:u2", minutes(10))

	_, sink, stats := runReplay(t, post, follow)

	require.Equal(t, 1, sink.resets)
	require.Len(t, sink.sessions, 1)
	s := sink.sessions[0]
	require.Equal(t, "did:plc:u1", s.DID)
	require.Equal(t, 0, s.SessionNumber)
	require.Equal(t, int64(0), s.StartTS)
	require.Equal(t, int64(600000), s.EndTS)
	require.Len(t, s.Actions, 2)
	require.JSONEq(t, string(post.Raw), string(s.Actions[0]))
	require.JSONEq(t, string(follow.Raw), string(s.Actions[1]))
	require.Empty(t, s.Impressions, "the feed is built before the first post is recorded")

	require.Equal(t, int64(2), stats.Records)
	require.Equal(t, 2, stats.Users)
	require.Equal(t, 1, stats.SessionsFlushed)
}

func TestReplayService_GapAtThresholdStaysInSession(t *testing.T) {
	_, sink, _ := runReplay(t,
		postRecord(t, "did:plc:u1", "3ja", 0),
		followRecord(t, "did:plc:u1", "did:plc:u2", minutes(10)),
		postRecord(t, "did:plc:u1", "3jb", minutes(40)),
	)

	require.Len(t, sink.sessions, 1)
	require.Len(t, sink.sessions[0].Actions, 3)
	require.Equal(t, minutes(40), sink.sessions[0].EndTS)
}

func TestReplayService_GapPastThresholdOpensNewSession(t *testing.T) {
	_, sink, _ := runReplay(t,
		postRecord(t, "did:plc:u2", "3j0", 0),
		postRecord(t, "did:plc:u1", "3ja", minutes(1)),
		followRecord(t, "did:plc:u1", "did:plc:u2", minutes(10)),
		postRecord(t, "did:plc:u2", "3j9", minutes(20)),
		postRecord(t, "did:plc:u1", "3jb", minutes(41)),
	)

	sessions := sink.forUser("did:plc:u1")
	require.Len(t, sessions, 2)

	first, second := sessions[0], sessions[1]
	require.Equal(t, 0, first.SessionNumber)
	require.Equal(t, minutes(1), first.StartTS)
	require.Equal(t, minutes(10), first.EndTS)
	require.Empty(t, first.Impressions, "u1 followed nobody when the session opened")

	require.Equal(t, 1, second.SessionNumber)
	require.Equal(t, minutes(41), second.StartTS)
	require.ElementsMatch(t, []string{
		postURI("did:plc:u2", "3j0"),
		postURI("did:plc:u2", "3j9"),
		postURI("did:plc:u1", "3ja"),
	}, second.Impressions)
	require.Len(t, second.Actions, 1)

	// u1's first session is flushed when the boundary fires, before the
	// end-of-replay drain.
	require.Equal(t, "did:plc:u1", sink.sessions[0].DID)
	require.Equal(t, 0, sink.sessions[0].SessionNumber)
}

func TestReplayService_SessionCountsMatchIdleGaps(t *testing.T) {
	times := []int{0, 5, 50, 51, 200, 231, 262}
	var records []*Record
	for _, m := range times {
		records = append(records, likeRecord(t, "did:plc:u", postURI("did:plc:x", "p"), minutes(m)))
	}

	_, sink, _ := runReplay(t, records...)

	sessions := sink.forUser("did:plc:u")
	// Gaps over 30 minutes: 5→50, 51→200, 200→231, 231→262.
	require.Len(t, sessions, 5)
	for i, s := range sessions {
		require.Equal(t, i, s.SessionNumber)
		require.LessOrEqual(t, s.StartTS, s.EndTS)
	}
}

func TestReplayService_SkipsRepliesAndQuotes(t *testing.T) {
	parent := postURI("did:plc:x", "3ja")
	quote := mustParse(t, `{"$type":"app.bsky.feed.post","did":"did:plc:u","ts":3,"uri":"at://did:plc:u/app.bsky.feed.post/3jq",
		"embed":{"$type":"app.bsky.embed.record","record":{"uri":"at://did:plc:x/app.bsky.feed.post/3ja"}}}`)

	svc, sink, stats := runReplay(t,
		postRecord(t, "did:plc:x", "3ja", 1),
		replyRecord(t, "did:plc:u", "3jr", parent, 2),
		quote,
	)

	u, _ := svc.Users().Get("did:plc:u")
	require.Empty(t, u.Posts)
	require.False(t, svc.Posts().Has(postURI("did:plc:u", "3jr")))
	require.Equal(t, int64(2), stats.SkippedPosts)
	require.Equal(t, 1, stats.IndexedPosts)

	// Replies still count as activity.
	sessions := sink.forUser("did:plc:u")
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0].Actions, 2)
}

func TestReplayService_ExcludedActorUpdatesSharedState(t *testing.T) {
	svc, sink, _ := runReplay(t,
		postRecord(t, "did:plc:bot", "3ja", 0),
		followRecord(t, "did:plc:bot", "did:plc:u", 1),
		followRecord(t, "did:plc:u", "did:plc:bot", 2),
		likeRecord(t, "did:plc:u", postURI("did:plc:bot", "3ja"), 2+minutes(31)),
	)

	require.True(t, svc.Posts().Has(postURI("did:plc:bot", "3ja")))
	bot, _ := svc.Users().Get("did:plc:bot")
	require.Equal(t, []string{"did:plc:u"}, bot.Following)
	require.True(t, bot.HasActivity)

	require.Empty(t, sink.forUser("did:plc:bot"))
	sessions := sink.forUser("did:plc:u")
	require.Len(t, sessions, 2)
	require.Empty(t, sessions[0].Impressions)
	require.Equal(t, []string{postURI("did:plc:bot", "3ja")}, sessions[1].Impressions)
}

func TestReplayService_DeletionMarksTombstone(t *testing.T) {
	del := mustParse(t, `{"$type":"app.bsky.feed.post#delete","did":"did:plc:u","ts":5,"uri":"at://did:plc:u/app.bsky.feed.post/3ja"}`)

	svc, _, stats := runReplay(t, postRecord(t, "did:plc:u", "3ja", 1), del)

	require.True(t, svc.Posts().IsDeleted(postURI("did:plc:u", "3ja")))
	require.True(t, svc.Posts().Has(postURI("did:plc:u", "3ja")))
	require.Equal(t, int64(1), stats.Deletes)
}

func TestReplayService_IgnoresUnknownKinds(t *testing.T) {
	block := mustParse(t, `{"$type":"app.bsky.graph.block","did":"did:plc:u","ts":5,"subject":"did:plc:v"}`)

	_, sink, stats := runReplay(t, block)

	require.Equal(t, int64(1), stats.Ignored)
	require.Len(t, sink.sessions, 1)
	require.Len(t, sink.sessions[0].Actions, 1)
}

func TestReplayService_MissingActorIsFatal(t *testing.T) {
	sink := &memorySink{}
	svc := NewReplayService(testReplayConfig(), sink, discardLogger())

	_, err := svc.Run(context.Background(), &sliceSource{records: []*Record{
		{Type: KindLike, TS: 1},
	}})
	require.ErrorIs(t, err, ErrMissingActor)
	require.Empty(t, sink.sessions)
}

func TestReplayService_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewReplayService(testReplayConfig(), &memorySink{}, discardLogger())
	_, err := svc.Run(ctx, &sliceSource{records: []*Record{postRecord(t, "did:plc:u", "1", 1)}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestReplayService_InMemoryRecordsAreEncoded(t *testing.T) {
	_, sink, _ := runReplay(t, &Record{Type: KindFollow, DID: "did:plc:u", TS: 1, Subject: &Subject{DID: "did:plc:v"}})

	require.Len(t, sink.sessions, 1)
	var action map[string]any
	require.NoError(t, json.Unmarshal(sink.sessions[0].Actions[0], &action))
	require.Equal(t, "did:plc:v", action["subject"])
}
