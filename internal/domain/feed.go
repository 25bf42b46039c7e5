package domain

import (
	"fmt"
	"slices"
	"strings"
)

// FeedLimits bounds the feeds built by a FeedBuilder.
type FeedLimits struct {
	// PerAuthor is the number of most recent posts taken from each author
	// (the user and each followee) before merging.
	PerAuthor int

	// PerSession is the length of the merged chronological feed.
	PerSession int

	// Profile is the length of a single user's profile feed.
	Profile int
}

// FeedBuilder reconstructs the feeds a user would have seen from the current
// contents of a UserStore.
type FeedBuilder struct {
	users  *UserStore
	limits FeedLimits
}

// NewFeedBuilder creates a FeedBuilder reading from users.
func NewFeedBuilder(users *UserStore, limits FeedLimits) *FeedBuilder {
	return &FeedBuilder{users: users, limits: limits}
}

// ChronologicalFeed approximates the user's reverse-chronological Following
// feed right now: the most recent posts of the user and of every followee,
// newest first by record key, capped at the per-session limit. Posts with the
// same record key keep their merge order.
func (b *FeedBuilder) ChronologicalFeed(did string) ([]string, error) {
	u, err := b.users.mustGet(did)
	if err != nil {
		return nil, err
	}

	feed := make([]string, 0, b.limits.PerAuthor*(len(u.Following)+1))
	feed = append(feed, lastN(u.Posts, b.limits.PerAuthor)...)

	for _, followee := range u.Following {
		f, err := b.users.mustGet(followee)
		if err != nil {
			return nil, fmt.Errorf("followee of %s: %w", did, err)
		}
		feed = append(feed, lastN(f.Posts, b.limits.PerAuthor)...)
	}

	slices.SortStableFunc(feed, func(x, y string) int {
		return strings.Compare(CreationToken(y), CreationToken(x))
	})

	if len(feed) > b.limits.PerSession {
		feed = feed[:b.limits.PerSession]
	}
	return feed, nil
}

// ProfileFeed returns the user's most recent posts in the order they were
// authored.
func (b *FeedBuilder) ProfileFeed(did string) ([]string, error) {
	u, err := b.users.mustGet(did)
	if err != nil {
		return nil, err
	}
	return slices.Clone(lastN(u.Posts, b.limits.Profile)), nil
}

func lastN(s []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
