package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/blackmichael/bluesky-replay/internal/domain"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
)

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream: everything the replay understands.
var wantedCollections = []string{
	string(domain.KindPost),
	string(domain.KindLike),
	string(domain.KindRepost),
	string(domain.KindFollow),
}

// Subscriber connects to the Jetstream firehose and archives every event the
// replay can use.
type Subscriber struct {
	url     string
	archive *ArchiveWriter
	logger  *slog.Logger

	// cursor is the time_us of the last archived event; reconnects resume
	// from it.
	cursor atomic.Int64
}

// NewSubscriber creates a new firehose subscriber. A positive cursor resumes
// from that Jetstream time_us.
func NewSubscriber(firehoseURL string, archive *ArchiveWriter, cursor int64, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		url:     firehoseURL,
		archive: archive,
		logger:  logger,
	}
	s.cursor.Store(cursor)
	return s
}

// Cursor returns the time_us of the last archived event.
func (s *Subscriber) Cursor() int64 {
	return s.cursor.Load()
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				s.logger.Error("firehose connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Second):
					// backoff before reconnecting
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) string {
	u, _ := url.Parse(s.url)
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	wsURL := s.buildURL(s.cursor.Load())
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	s.logger.Info("connected to firehose")

	// Unblock ReadMessage when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var eventsReceived, recordsArchived int64
	lastStatsLog := time.Now()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}
		eventsReceived++

		line, ts, ok, err := archiveLine(event)
		if err != nil {
			s.logger.Error("failed to convert event", "did", event.DID, "error", err)
			continue
		}
		if ok {
			if err := s.archive.Write(line, ts); err != nil {
				return fmt.Errorf("archive record: %w", err)
			}
			recordsArchived++
			s.cursor.Store(event.TimeUS)
		}

		// Log stats every 30 seconds
		if time.Since(lastStatsLog) >= 30*time.Second {
			s.logger.Info("firehose stats",
				"events_received", humanize.Comma(eventsReceived),
				"records_archived", humanize.Comma(recordsArchived),
				"cursor", s.cursor.Load(),
			)
			lastStatsLog = time.Now()
		}
	}
}
