package domain

import (
	"fmt"
	"log/slog"
	"time"
)

// User is the replay state kept for a single actor.
type User struct {
	// Posts holds the URIs authored by the user in the order they were seen,
	// which is chronological order.
	Posts []string

	// Following holds followee DIDs in the order the follows were seen.
	Following []string

	// LastActivity is the timestamp (epoch ms) of the user's most recent
	// event. Only meaningful when HasActivity is true.
	LastActivity int64
	HasActivity  bool

	// Feed is the chronological feed computed when the user's current
	// session opened.
	Feed []string

	posts     map[string]struct{}
	following map[string]struct{}
}

func newUser() *User {
	return &User{
		posts:     make(map[string]struct{}),
		following: make(map[string]struct{}),
	}
}

// UserStore owns the state of every user seen during a replay. Users are
// looked up by DID; they reference each other only by DID.
type UserStore struct {
	users  map[string]*User
	logger *slog.Logger
}

// NewUserStore creates an empty UserStore.
func NewUserStore(logger *slog.Logger) *UserStore {
	return &UserStore{
		users:  make(map[string]*User),
		logger: logger,
	}
}

// EnsureUser returns the user for did, creating default state if absent.
func (s *UserStore) EnsureUser(did string) *User {
	u, ok := s.users[did]
	if !ok {
		u = newUser()
		s.users[did] = u
	}
	return u
}

// Get returns the user for did.
func (s *UserStore) Get(did string) (*User, bool) {
	u, ok := s.users[did]
	return u, ok
}

// Len returns the number of known users.
func (s *UserStore) Len() int {
	return len(s.users)
}

func (s *UserStore) mustGet(did string) (*User, error) {
	u, ok := s.users[did]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, did)
	}
	return u, nil
}

// RecordPost appends uri to the user's posts. A post already recorded for the
// user is logged and otherwise ignored.
func (s *UserStore) RecordPost(did, uri string) error {
	u, err := s.mustGet(did)
	if err != nil {
		return err
	}

	if _, ok := u.posts[uri]; ok {
		s.logger.Warn("post already exists for user", "did", did, "uri", uri)
		return nil
	}

	u.posts[uri] = struct{}{}
	u.Posts = append(u.Posts, uri)
	return nil
}

// RecordFollow adds target to the user's follow list, creating target if it
// has never been seen. Self-follows and repeated follows are no-ops.
func (s *UserStore) RecordFollow(did, target string) error {
	u, err := s.mustGet(did)
	if err != nil {
		return err
	}

	if target == did {
		s.logger.Warn("ignoring self-follow", "did", did)
		return nil
	}

	// Probably a deleted account; keep an empty user so feeds can reference it.
	s.EnsureUser(target)

	if _, ok := u.following[target]; ok {
		s.logger.Warn("duplicate follow", "did", did, "subject", target)
		return nil
	}

	u.following[target] = struct{}{}
	u.Following = append(u.Following, target)
	return nil
}

// Touch sets the user's last activity timestamp.
func (s *UserStore) Touch(did string, ts int64) error {
	u, err := s.mustGet(did)
	if err != nil {
		return err
	}
	u.LastActivity = ts
	u.HasActivity = true
	return nil
}

// IsNewSession reports whether an event at now (epoch ms) starts a new session
// for the user: either the user has no recorded activity, or the time since
// the last activity strictly exceeds idle.
func (s *UserStore) IsNewSession(did string, now int64, idle time.Duration) (bool, error) {
	u, err := s.mustGet(did)
	if err != nil {
		return false, err
	}
	if !u.HasActivity {
		return true, nil
	}
	return now-u.LastActivity > idle.Milliseconds(), nil
}
