package firehose

import (
	"encoding/json"
	"fmt"

	"github.com/blackmichael/bluesky-replay/internal/domain"
)

// jetstreamEvent is the raw JSON structure from Jetstream.
type jetstreamEvent struct {
	DID    string           `json:"did"`
	TimeUS int64            `json:"time_us"`
	Kind   string           `json:"kind"`
	Commit *jetstreamCommit `json:"commit,omitempty"`
}

// jetstreamCommit is the raw commit data from Jetstream. Record is kept
// undecoded so it can be archived as-is.
type jetstreamCommit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid"`
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var event jetstreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &event, nil
}

// archiveLine converts a Jetstream commit into an archive line: the record
// body with did, ts (epoch ms) and uri merged in. Post deletions become
// app.bsky.feed.post#delete records. ok is false for events that are not
// archived.
func archiveLine(event *jetstreamEvent) (line []byte, ts int64, ok bool, err error) {
	if event.Kind != "commit" || event.Commit == nil {
		return nil, 0, false, nil
	}
	commit := event.Commit
	ts = event.TimeUS / 1000
	uri := fmt.Sprintf("at://%s/%s/%s", event.DID, commit.Collection, commit.RKey)

	fields := make(map[string]any)

	switch commit.Operation {
	case "create":
		if len(commit.Record) == 0 {
			return nil, 0, false, nil
		}
		var body map[string]json.RawMessage
		if err := json.Unmarshal(commit.Record, &body); err != nil {
			return nil, 0, false, fmt.Errorf("unmarshal %s record: %w", commit.Collection, err)
		}
		for k, v := range body {
			fields[k] = v
		}
		if _, ok := body["$type"]; !ok {
			fields["$type"] = commit.Collection
		}

	case "delete":
		if commit.Collection != string(domain.KindPost) {
			return nil, 0, false, nil
		}
		fields["$type"] = domain.KindPostDelete

	default:
		return nil, 0, false, nil
	}

	fields["did"] = event.DID
	fields["ts"] = ts
	fields["uri"] = uri

	line, err = json.Marshal(fields)
	if err != nil {
		return nil, 0, false, fmt.Errorf("marshal archive record: %w", err)
	}
	return line, ts, true, nil
}
