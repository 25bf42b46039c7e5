// Package sessionlog stores closed sessions as JSON lines.
package sessionlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blackmichael/bluesky-replay/internal/domain"
)

// maxLineSize bounds a single session line when reading back. Sessions of
// very active users carry many actions.
const maxLineSize = 64 << 20

// Sink implements domain.SessionSink and domain.SessionReader on a JSONL file.
// Every append opens the file, writes one line and closes it again.
type Sink struct {
	path string
}

var (
	_ domain.SessionSink   = (*Sink)(nil)
	_ domain.SessionReader = (*Sink)(nil)
)

// NewSink returns a Sink writing to path.
func NewSink(path string) *Sink {
	return &Sink{path: path}
}

// Path returns the file the sink writes to.
func (s *Sink) Path() string {
	return s.path
}

// Reset removes any previous log and creates an empty one.
func (s *Sink) Reset(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create session log dir: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session log: %w", err)
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create session log: %w", err)
	}
	return f.Close()
}

// Append writes session as a single line.
func (s *Sink) Append(_ context.Context, session *domain.Session) error {
	line, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write session: %w", err)
	}
	return f.Close()
}

// ReadSessions reads every session in the log, in file order. Blank lines are
// skipped.
func (s *Sink) ReadSessions(ctx context.Context) ([]domain.Session, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var sessions []domain.Session
	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNum++

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var session domain.Session
		if err := json.Unmarshal(line, &session); err != nil {
			return nil, fmt.Errorf("line %d: unmarshal session: %w", lineNum, err)
		}
		sessions = append(sessions, session)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan session log: %w", err)
	}

	return sessions, nil
}
