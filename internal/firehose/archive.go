package firehose

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/blackmichael/bluesky-replay/internal/domain"
)

const (
	archivePrefix = "firehose-"
	archiveSuffix = ".jsonl"
	dayLayout     = "2006-01-02"

	maxRecordSize = 4 << 20
)

// ArchiveFileName returns the archive file holding records from day (UTC).
func ArchiveFileName(day time.Time) string {
	return archivePrefix + day.UTC().Format(dayLayout) + archiveSuffix
}

// ArchiveWriter appends firehose records to one JSONL file per UTC day.
// It is safe for concurrent use.
type ArchiveWriter struct {
	dir string

	mu  sync.Mutex
	day string
	f   *os.File
	w   *bufio.Writer
}

// NewArchiveWriter creates dir if needed and returns a writer for it.
func NewArchiveWriter(dir string) (*ArchiveWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &ArchiveWriter{dir: dir}, nil
}

// Write appends line to the file for the day of ts (epoch ms).
func (a *ArchiveWriter) Write(line []byte, ts int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	day := time.UnixMilli(ts).UTC().Format(dayLayout)
	if day != a.day {
		if err := a.rotate(day); err != nil {
			return err
		}
	}

	if _, err := a.w.Write(line); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return a.w.WriteByte('\n')
}

func (a *ArchiveWriter) rotate(day string) error {
	if err := a.closeLocked(); err != nil {
		return err
	}

	path := filepath.Join(a.dir, archivePrefix+day+archiveSuffix)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	a.day = day
	a.f = f
	a.w = bufio.NewWriterSize(f, 1<<20)
	return nil
}

// Flush writes buffered records to disk.
func (a *ArchiveWriter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.w == nil {
		return nil
	}
	return a.w.Flush()
}

// Close flushes and closes the current file.
func (a *ArchiveWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *ArchiveWriter) closeLocked() error {
	if a.f == nil {
		return nil
	}
	flushErr := a.w.Flush()
	closeErr := a.f.Close()
	a.f, a.w, a.day = nil, nil, ""
	if flushErr != nil {
		return fmt.Errorf("flush archive file: %w", flushErr)
	}
	return closeErr
}

// ArchiveReader replays archived records in file-name order and stops at the
// first record at or after the cutoff. It implements domain.RecordSource.
type ArchiveReader struct {
	files  []string
	cutoff int64 // epoch ms; 0 means no cutoff

	next    int
	f       *os.File
	scanner *bufio.Scanner
	line    int
	done    bool
}

var _ domain.RecordSource = (*ArchiveReader)(nil)

// OpenArchive lists the archive files in dir. A zero cutoff replays
// everything.
func OpenArchive(dir string, cutoff time.Time) (*ArchiveReader, error) {
	files, err := filepath.Glob(filepath.Join(dir, archivePrefix+"*"+archiveSuffix))
	if err != nil {
		return nil, fmt.Errorf("list archive files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no archive files in %s", dir)
	}
	slices.Sort(files)

	r := &ArchiveReader{files: files}
	if !cutoff.IsZero() {
		r.cutoff = cutoff.UnixMilli()
	}
	return r, nil
}

// Files returns the archive files the reader will replay.
func (r *ArchiveReader) Files() []string {
	return slices.Clone(r.files)
}

// Next returns the next record, or io.EOF when the archive is exhausted or
// the cutoff is reached.
func (r *ArchiveReader) Next(ctx context.Context) (*domain.Record, error) {
	for !r.done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if r.scanner == nil {
			if r.next == len(r.files) {
				r.done = true
				break
			}
			if err := r.open(r.files[r.next]); err != nil {
				return nil, err
			}
			r.next++
		}

		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, fmt.Errorf("%s: scan: %w", r.f.Name(), err)
			}
			r.closeFile()
			continue
		}
		r.line++

		data := r.scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		rec, err := domain.ParseRecord(data)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", r.f.Name(), r.line, err)
		}

		if r.cutoff != 0 && rec.TS >= r.cutoff {
			r.done = true
			break
		}
		return rec, nil
	}

	r.closeFile()
	return nil, io.EOF
}

func (r *ArchiveReader) open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	r.f = f
	r.scanner = bufio.NewScanner(f)
	r.scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	r.line = 0
	return nil
}

func (r *ArchiveReader) closeFile() {
	if r.f != nil {
		r.f.Close()
	}
	r.f, r.scanner = nil, nil
}

// Close releases the open file, if any.
func (r *ArchiveReader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f, r.scanner = nil, nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
