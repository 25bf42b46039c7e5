package domain

import (
	"iter"
	"log/slog"
)

// postLinks is what the index keeps about a post: enough to rebuild threads
// and quote relationships on the fly.
type postLinks struct {
	// ParentURI is the post this one replies to. Empty for top-level posts.
	ParentURI string

	// QuotedURI is the record this post embeds. Empty when nothing is quoted.
	QuotedURI string
}

// PostIndex stores thread and quote linkage for every recorded post, keyed by
// AT-URI. Deleted posts keep their entries so already-impressed content can
// still be resolved.
type PostIndex struct {
	posts   map[string]postLinks
	deleted map[string]struct{}
	logger  *slog.Logger
}

// NewPostIndex creates an empty PostIndex.
func NewPostIndex(logger *slog.Logger) *PostIndex {
	return &PostIndex{
		posts:   make(map[string]postLinks),
		deleted: make(map[string]struct{}),
		logger:  logger,
	}
}

// Record stores the linkage of a newly created post. Duplicate URIs are a
// known artifact of the firehose data; they are logged and ignored. Returns
// false when the post was already indexed.
func (p *PostIndex) Record(rec *Record) bool {
	if _, ok := p.posts[rec.URI]; ok {
		p.logger.Warn("duplicate post in index", "uri", rec.URI, "did", rec.DID)
		return false
	}

	p.posts[rec.URI] = postLinks{
		ParentURI: rec.ParentURI(),
		QuotedURI: rec.QuotedURI(),
	}
	return true
}

// MarkDeleted records a tombstone for uri. Index entries are kept.
func (p *PostIndex) MarkDeleted(uri string) {
	p.deleted[uri] = struct{}{}
}

// IsDeleted reports whether a deletion was seen for uri.
func (p *PostIndex) IsDeleted(uri string) bool {
	_, ok := p.deleted[uri]
	return ok
}

// Has reports whether uri is indexed.
func (p *PostIndex) Has(uri string) bool {
	_, ok := p.posts[uri]
	return ok
}

// Quoted returns the URI quoted by uri, if any.
func (p *PostIndex) Quoted(uri string) (string, bool) {
	links, ok := p.posts[uri]
	if !ok || links.QuotedURI == "" {
		return "", false
	}
	return links.QuotedURI, true
}

// Len returns the number of indexed posts.
func (p *PostIndex) Len() int {
	return len(p.posts)
}

// Ancestors walks parent links upward from uri, yielding each ancestor from
// the direct parent to the thread root. The starting post is not yielded.
// The walk stops quietly at a post with no parent or at a parent that was
// never indexed. Parent links are not checked for cycles.
func (p *PostIndex) Ancestors(uri string) iter.Seq[string] {
	return func(yield func(string) bool) {
		links, ok := p.posts[uri]
		for ok && links.ParentURI != "" {
			parent := links.ParentURI
			links, ok = p.posts[parent]
			if !ok {
				return
			}
			if !yield(parent) {
				return
			}
		}
	}
}
