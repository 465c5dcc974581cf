// Package latency keeps the two most recent observation timestamps per bus
// and the whole seconds elapsed between them.
package latency

import (
	"sort"
	"time"

	"jejubus/internal/domain"
)

// Advance returns the record after observing ts. A zero record is treated as
// a first sighting. Negative deltas (out-of-order timestamps) clamp to 0.
func Advance(rec domain.LatencyRecord, ts time.Time) domain.LatencyRecord {
	if rec.LastTimestamp.IsZero() {
		return domain.LatencyRecord{
			LastTimestamp:     ts,
			PreviousTimestamp: ts,
			DeltaSeconds:      0,
		}
	}

	ms := ts.Sub(rec.LastTimestamp).Milliseconds()
	if ms < 0 {
		ms = 0
	}

	return domain.LatencyRecord{
		LastTimestamp:     ts,
		PreviousTimestamp: rec.LastTimestamp,
		DeltaSeconds:      ms / 1000,
	}
}

// Row is one line of the latency table
type Row struct {
	Identity      string     `json:"identity"`
	Observed      bool       `json:"observed"`
	LastTimestamp *time.Time `json:"lastTimestamp"`
	DeltaSeconds  int64      `json:"deltaSeconds"`
}

// Tracker is not safe for concurrent use; the session goroutine owns it.
type Tracker struct {
	records map[string]domain.LatencyRecord
	tracked []string
}

// New creates a tracker whose snapshot always lists tracked, in order, even before they are seen.
func New(tracked []string) *Tracker {
	t := &Tracker{
		records: make(map[string]domain.LatencyRecord),
	}
	seen := make(map[string]struct{}, len(tracked))
	for _, id := range tracked {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		t.tracked = append(t.tracked, id)
	}
	return t
}

// Observe records ts for identity and returns the new delta in seconds
func (t *Tracker) Observe(identity string, ts time.Time) int64 {
	rec := Advance(t.records[identity], ts)
	t.records[identity] = rec
	return rec.DeltaSeconds
}

func (t *Tracker) Record(identity string) (domain.LatencyRecord, bool) {
	rec, ok := t.records[identity]
	return rec, ok
}

func (t *Tracker) Len() int {
	return len(t.records)
}

// Snapshot lists the tracked identities first, then every other observed identity sorted.
func (t *Tracker) Snapshot() []Row {
	rows := make([]Row, 0, len(t.tracked)+len(t.records))
	listed := make(map[string]struct{}, len(t.tracked))

	for _, id := range t.tracked {
		listed[id] = struct{}{}
		rows = append(rows, t.row(id))
	}

	extra := make([]string, 0, len(t.records))
	for id := range t.records {
		if _, ok := listed[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		rows = append(rows, t.row(id))
	}
	return rows
}

func (t *Tracker) row(id string) Row {
	rec, ok := t.records[id]
	if !ok {
		return Row{Identity: id}
	}
	last := rec.LastTimestamp
	return Row{
		Identity:      id,
		Observed:      true,
		LastTimestamp: &last,
		DeltaSeconds:  rec.DeltaSeconds,
	}
}
