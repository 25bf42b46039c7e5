package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRecord_Post(t *testing.T) {
	line := `{"$type":"app.bsky.feed.post","did":"did:plc:a","ts":1000,"uri":"at://did:plc:a/app.bsky.feed.post/3jt2","text":"hi"}`

	rec, err := ParseRecord([]byte(line))
	require.NoError(t, err)
	require.Equal(t, KindPost, rec.Type)
	require.Equal(t, "did:plc:a", rec.DID)
	require.Equal(t, int64(1000), rec.TS)
	require.False(t, rec.IsReply())
	require.False(t, rec.IsQuote())
	require.JSONEq(t, line, string(rec.Raw))
}

func TestParseRecord_Subjects(t *testing.T) {
	follow, err := ParseRecord([]byte(`{"$type":"app.bsky.graph.follow","did":"did:plc:a","ts":1,"subject":"did:plc:b"}`))
	require.NoError(t, err)
	require.Equal(t, "did:plc:b", follow.Subject.DID)
	require.Empty(t, follow.Subject.URI)

	like, err := ParseRecord([]byte(`{"$type":"app.bsky.feed.like","did":"did:plc:a","ts":1,"subject":{"uri":"at://x/app.bsky.feed.post/1","cid":"c"}}`))
	require.NoError(t, err)
	require.Equal(t, "at://x/app.bsky.feed.post/1", like.Subject.URI)
	require.Equal(t, "c", like.Subject.CID)
	require.Empty(t, like.Subject.DID)
}

func TestParseRecord_Invalid(t *testing.T) {
	_, err := ParseRecord([]byte(`{"did":`))
	require.Error(t, err)
}

func TestRecord_QuotedURI(t *testing.T) {
	quote := `{"$type":"app.bsky.feed.post","did":"did:plc:a","ts":1,"uri":"at://did:plc:a/app.bsky.feed.post/2",
		"embed":{"$type":"app.bsky.embed.record","record":{"uri":"at://did:plc:b/app.bsky.feed.post/1","cid":"c"}}}`
	rec, err := ParseRecord([]byte(quote))
	require.NoError(t, err)
	require.Equal(t, "at://did:plc:b/app.bsky.feed.post/1", rec.QuotedURI())
	require.True(t, rec.IsQuote())

	withMedia := `{"$type":"app.bsky.feed.post","did":"did:plc:a","ts":1,"uri":"at://did:plc:a/app.bsky.feed.post/3",
		"embed":{"$type":"app.bsky.embed.recordWithMedia","record":{"record":{"uri":"at://did:plc:c/app.bsky.feed.post/9"}},"media":{}}}`
	rec, err = ParseRecord([]byte(withMedia))
	require.NoError(t, err)
	require.Equal(t, "at://did:plc:c/app.bsky.feed.post/9", rec.QuotedURI())

	images := `{"$type":"app.bsky.feed.post","did":"did:plc:a","ts":1,"uri":"at://did:plc:a/app.bsky.feed.post/4",
		"embed":{"$type":"app.bsky.embed.images","images":[]}}`
	rec, err = ParseRecord([]byte(images))
	require.NoError(t, err)
	require.False(t, rec.IsQuote())
}

func TestRecord_RawJSONFallsBackToEncoding(t *testing.T) {
	rec := &Record{Type: KindFollow, DID: "did:plc:a", TS: 5, Subject: &Subject{DID: "did:plc:b"}}

	raw, err := rec.RawJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "app.bsky.graph.follow", decoded["$type"])
	require.Equal(t, "did:plc:b", decoded["subject"])
}

func TestCreationToken(t *testing.T) {
	require.Equal(t, "3jzfcijpj2z2a", CreationToken("at://did:plc:a/app.bsky.feed.post/3jzfcijpj2z2a"))
	require.Equal(t, "plain", CreationToken("plain"))
}
