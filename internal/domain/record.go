package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the lexicon type of a firehose record ($type).
type Kind string

const (
	KindPost       Kind = "app.bsky.feed.post"
	KindLike       Kind = "app.bsky.feed.like"
	KindRepost     Kind = "app.bsky.feed.repost"
	KindFollow     Kind = "app.bsky.graph.follow"
	KindPostDelete Kind = "app.bsky.feed.post#delete"
)

const (
	embedRecord          = "app.bsky.embed.record"
	embedRecordWithMedia = "app.bsky.embed.recordWithMedia"
)

// Record is a single decoded firehose event. Only the fields the replay needs
// are decoded; Raw keeps the original bytes so sessions can log the record
// exactly as it was received.
type Record struct {
	Type Kind   `json:"$type"`
	DID  string `json:"did"`

	// TS is the event time in epoch milliseconds.
	TS int64 `json:"ts"`

	// URI is the AT-URI of the record itself.
	URI string `json:"uri,omitempty"`

	Reply   *ReplyRef `json:"reply,omitempty"`
	Embed   *Embed    `json:"embed,omitempty"`
	Subject *Subject  `json:"subject,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ReplyRef contains references to the parent and root of a reply chain.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid,omitempty"`
}

// Embed is the subset of a post embed needed to find a quoted record.
type Embed struct {
	Type   string          `json:"$type"`
	Record json.RawMessage `json:"record,omitempty"`
}

// Subject is the target of a like, repost or follow. Likes and reposts point
// at a record (URI/CID); follows carry a bare DID string.
type Subject struct {
	URI string
	CID string
	DID string
}

func (s *Subject) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.DID)
	}
	var ref StrongRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("unmarshal subject: %w", err)
	}
	s.URI, s.CID = ref.URI, ref.CID
	return nil
}

func (s Subject) MarshalJSON() ([]byte, error) {
	if s.DID != "" {
		return json.Marshal(s.DID)
	}
	return json.Marshal(StrongRef{URI: s.URI, CID: s.CID})
}

// ParseRecord decodes one archived firehose line. The returned record owns a
// copy of data.
func ParseRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	rec.Raw = append(json.RawMessage(nil), data...)
	return &rec, nil
}

// RawJSON returns the record as received, or a re-encoding of the decoded
// fields when the record was built in memory.
func (r *Record) RawJSON() (json.RawMessage, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// ParentURI returns the URI of the post this one replies to, if any.
func (r *Record) ParentURI() string {
	if r.Reply == nil {
		return ""
	}
	return r.Reply.Parent.URI
}

// QuotedURI returns the URI of the record embedded by a quote post, if any.
func (r *Record) QuotedURI() string {
	if r.Embed == nil || len(r.Embed.Record) == 0 {
		return ""
	}

	switch r.Embed.Type {
	case embedRecord:
		var ref StrongRef
		if err := json.Unmarshal(r.Embed.Record, &ref); err != nil {
			return ""
		}
		return ref.URI
	case embedRecordWithMedia:
		var wrapped struct {
			Record StrongRef `json:"record"`
		}
		if err := json.Unmarshal(r.Embed.Record, &wrapped); err != nil {
			return ""
		}
		return wrapped.Record.URI
	default:
		return ""
	}
}

// IsReply reports whether the post is part of a reply chain.
func (r *Record) IsReply() bool {
	return r.ParentURI() != ""
}

// IsQuote reports whether the post embeds another record.
func (r *Record) IsQuote() bool {
	return r.QuotedURI() != ""
}

// CreationToken returns the record key of an AT-URI. Record keys are TIDs,
// which sort lexicographically in creation order.
func CreationToken(uri string) string {
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
