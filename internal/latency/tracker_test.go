package latency

import (
	"testing"
	"time"
)

func TestObserve_FirstSightingIsZero(t *testing.T) {
	tr := New(nil)
	t0 := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)

	if got := tr.Observe("A1", t0); got != 0 {
		t.Fatalf("expected 0 on first observation; got %d", got)
	}
	rec, ok := tr.Record("A1")
	if !ok {
		t.Fatalf("expected record for A1")
	}
	if !rec.PreviousTimestamp.Equal(t0) || !rec.LastTimestamp.Equal(t0) {
		t.Fatalf("expected previous == last == %v; got %+v", t0, rec)
	}
}

func TestObserve_SevenSeconds(t *testing.T) {
	tr := New(nil)
	t0 := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)

	tr.Observe("A1", t0)
	if got := tr.Observe("A1", t0.Add(7000*time.Millisecond)); got != 7 {
		t.Fatalf("expected 7; got %d", got)
	}
	rec, _ := tr.Record("A1")
	if !rec.PreviousTimestamp.Equal(t0) {
		t.Fatalf("expected previous timestamp %v; got %v", t0, rec.PreviousTimestamp)
	}
}

func TestObserve_Floors(t *testing.T) {
	tr := New(nil)
	t0 := time.Unix(1_700_000_000, 0)

	tr.Observe("A1", t0)
	if got := tr.Observe("A1", t0.Add(1999*time.Millisecond)); got != 1 {
		t.Fatalf("expected 1; got %d", got)
	}
	if got := tr.Observe("A1", t0.Add(2500*time.Millisecond)); got != 0 {
		t.Fatalf("expected 0 for a 501ms step; got %d", got)
	}
}

func TestObserve_NeverNegative(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	offsets := []time.Duration{
		0, 10 * time.Second, 3 * time.Second, -time.Hour, 12 * time.Second, 11500 * time.Millisecond, 40 * time.Second,
	}

	tr := New(nil)
	for i, off := range offsets {
		got := tr.Observe("B2", base.Add(off))
		if got < 0 {
			t.Fatalf("step %d: expected non-negative delta; got %d", i, got)
		}
	}

	tr2 := New(nil)
	tr2.Observe("C3", base)
	if got := tr2.Observe("C3", base.Add(-5*time.Second)); got != 0 {
		t.Fatalf("expected out-of-order timestamp to clamp to 0; got %d", got)
	}
}

func TestSnapshot_TrackedFirstWithPlaceholders(t *testing.T) {
	tr := New([]string{"제주79자7117", "제주79자7122", "제주79자7111", "제주79자7117", ""})
	ts := time.Unix(1_700_000_000, 0)

	tr.Observe("제주79자7122", ts)
	tr.Observe("zzz", ts)
	tr.Observe("aaa", ts)

	rows := tr.Snapshot()
	want := []string{"제주79자7117", "제주79자7122", "제주79자7111", "aaa", "zzz"}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows; got %d", len(want), len(rows))
	}
	for i, id := range want {
		if rows[i].Identity != id {
			t.Fatalf("row %d: expected %s; got %s", i, id, rows[i].Identity)
		}
	}
	if rows[0].Observed || rows[0].LastTimestamp != nil {
		t.Fatalf("expected unobserved placeholder row; got %+v", rows[0])
	}
	if !rows[1].Observed || rows[1].LastTimestamp == nil || !rows[1].LastTimestamp.Equal(ts) {
		t.Fatalf("expected observed row with timestamp; got %+v", rows[1])
	}
}
