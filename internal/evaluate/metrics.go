// Package evaluate scores a session log: how many of the items a user
// interacted with during a session were among the session's impressions.
package evaluate

import (
	"fmt"
	"slices"

	"github.com/blackmichael/bluesky-replay/internal/domain"
)

// SessionMetrics is the score of a single session.
type SessionMetrics struct {
	DID           string
	SessionNumber int
	Impressions   int
	Interactions  int
	Captured      int
	Precision     float64
	Recall        float64
	LengthMinutes float64
}

// Summary aggregates session metrics over a log.
type Summary struct {
	Sessions             int     `json:"sessions"`
	Users                int     `json:"users"`
	MeanPrecision        float64 `json:"mean_precision"`
	MeanRecall           float64 `json:"mean_recall"`
	MeanSessionMinutes   float64 `json:"mean_session_minutes"`
	MedianSessionMinutes float64 `json:"median_session_minutes"`
	TotalInteractions    int     `json:"total_interactions"`
}

// Score computes precision and recall for one session. Interactions are the
// subjects of likes and reposts; a subject liked twice counts once towards
// recall but twice towards Interactions.
func Score(s *domain.Session) (SessionMetrics, error) {
	impressions := make(map[string]struct{}, len(s.Impressions))
	for _, uri := range s.Impressions {
		impressions[uri] = struct{}{}
	}

	m := SessionMetrics{
		DID:           s.DID,
		SessionNumber: s.SessionNumber,
		Impressions:   len(impressions),
		LengthMinutes: float64(s.EndTS-s.StartTS) / 60_000,
	}

	interacted := make(map[string]struct{})
	for i, raw := range s.Actions {
		rec, err := domain.ParseRecord(raw)
		if err != nil {
			return SessionMetrics{}, fmt.Errorf("session %s/%d action %d: %w", s.DID, s.SessionNumber, i, err)
		}
		if rec.Type != domain.KindLike && rec.Type != domain.KindRepost {
			continue
		}
		if rec.Subject == nil || rec.Subject.URI == "" {
			continue
		}
		m.Interactions++
		interacted[rec.Subject.URI] = struct{}{}
	}

	for uri := range interacted {
		if _, ok := impressions[uri]; ok {
			m.Captured++
		}
	}

	if len(interacted) > 0 {
		m.Recall = float64(m.Captured) / float64(len(interacted))
	}
	if len(impressions) > 0 {
		m.Precision = float64(m.Captured) / float64(len(impressions))
	}
	return m, nil
}

// ScoreAll scores every session.
func ScoreAll(sessions []domain.Session) ([]SessionMetrics, error) {
	out := make([]SessionMetrics, 0, len(sessions))
	for i := range sessions {
		m, err := Score(&sessions[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ActiveUsers filters metrics to users with at least minInteractions
// interactions across all their sessions.
func ActiveUsers(metrics []SessionMetrics, minInteractions int) []SessionMetrics {
	totals := make(map[string]int)
	for _, m := range metrics {
		totals[m.DID] += m.Interactions
	}
	return slices.DeleteFunc(slices.Clone(metrics), func(m SessionMetrics) bool {
		return totals[m.DID] < minInteractions
	})
}

// Summarize aggregates metrics.
func Summarize(metrics []SessionMetrics) Summary {
	var sum Summary
	if len(metrics) == 0 {
		return sum
	}

	users := make(map[string]struct{})
	lengths := make([]float64, 0, len(metrics))
	var precision, recall, minutes float64
	for _, m := range metrics {
		users[m.DID] = struct{}{}
		precision += m.Precision
		recall += m.Recall
		minutes += m.LengthMinutes
		lengths = append(lengths, m.LengthMinutes)
		sum.TotalInteractions += m.Interactions
	}

	n := float64(len(metrics))
	sum.Sessions = len(metrics)
	sum.Users = len(users)
	sum.MeanPrecision = precision / n
	sum.MeanRecall = recall / n
	sum.MeanSessionMinutes = minutes / n
	sum.MedianSessionMinutes = median(lengths)
	return sum
}

func median(vals []float64) float64 {
	slices.Sort(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}
