package domain

import "context"

// RecordSource yields firehose records in non-decreasing timestamp order,
// already truncated at the replay cutoff. Next returns io.EOF once the
// source is exhausted.
type RecordSource interface {
	Next(ctx context.Context) (*Record, error)
}

// SessionSink is an append-only destination for closed sessions.
type SessionSink interface {
	// Reset clears any output left by a previous run.
	Reset(ctx context.Context) error

	// Append durably writes one session. Each call is a single atomic append;
	// sessions written by earlier calls survive a crash in later ones.
	Append(ctx context.Context, session *Session) error
}

// SessionReader reads back every session written to a sink, in the order
// they were appended.
type SessionReader interface {
	ReadSessions(ctx context.Context) ([]Session, error)
}
