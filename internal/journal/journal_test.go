package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{DealID: 1, Action: "created", Success: true, Trigger: "webhook"},
		{DealID: 2, Action: "failed", Success: false, Reason: "CRM down", Trigger: "webhook"},
		{DealID: 3, Action: "updated", Success: true, Trigger: "manual_api"},
	}
	for i, e := range entries {
		e.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := j.RecordSync(ctx, e); err != nil {
			t.Fatalf("RecordSync: %v", err)
		}
	}

	recent, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	// Newest first.
	if recent[0].DealID != 3 || recent[1].DealID != 2 {
		t.Errorf("unexpected order: %+v", recent)
	}
	if recent[0].ID == "" || recent[0].CreatedAt.IsZero() {
		t.Errorf("entry missing generated fields: %+v", recent[0])
	}
	if recent[1].Reason != "CRM down" {
		t.Errorf("unexpected reason %q", recent[1].Reason)
	}
}

func TestStats(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := j.RecordSync(ctx, Entry{DealID: int64(i + 1), Action: "created", Success: true, Trigger: "webhook"}); err != nil {
			t.Fatalf("RecordSync: %v", err)
		}
	}
	if err := j.RecordSync(ctx, Entry{DealID: 9, Action: "failed", Success: false, Trigger: "webhook"}); err != nil {
		t.Fatalf("RecordSync: %v", err)
	}

	counts, err := j.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if counts.Total != 4 || counts.Succeeded != 3 || counts.Failed != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

func TestStatsEmpty(t *testing.T) {
	j := openTestJournal(t)

	counts, err := j.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if counts.Total != 0 || counts.Succeeded != 0 || counts.Failed != 0 {
		t.Errorf("expected zero counts, got %+v", counts)
	}
}
