package store

import (
	"context"
	"testing"

	"github.com/verdantiq/facility-assessment/internal/answer"
)

func TestMemoryStoreRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	rec := &Record{Status: StatusDraft, CurrentStep: 1}
	if err := m.CreateRecord(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("create must assign an id")
	}
	if rec.CreatedAt == 0 || rec.UpdatedAt == 0 {
		t.Error("create must stamp timestamps")
	}

	got, err := m.GetRecord(ctx, rec.ID)
	if err != nil || got == nil {
		t.Fatalf("get: rec=%v err=%v", got, err)
	}
	if got.Status != StatusDraft {
		t.Errorf("status: %s", got.Status)
	}

	reportURL := "https://example.com/report.zip"
	patch := RecordPatch{
		CompanyName: "GreenLeaf Gardens",
		Status:      StatusComplete,
		CurrentStep: 6,
		ReportURL:   &reportURL,
	}
	if err := m.UpdateRecord(ctx, rec.ID, patch); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = m.GetRecord(ctx, rec.ID)
	if got.CompanyName != "GreenLeaf Gardens" || got.Status != StatusComplete || got.ReportURL != reportURL {
		t.Errorf("patch not applied: %+v", got)
	}
}

func TestMemoryStoreGetMissingRecord(t *testing.T) {
	got, err := NewMemoryStore().GetRecord(context.Background(), "nope")
	if err != nil {
		t.Fatalf("missing record must not error: %v", err)
	}
	if got != nil {
		t.Error("expected nil record")
	}
}

func TestMemoryStoreUpdateMissingRecord(t *testing.T) {
	if err := NewMemoryStore().UpdateRecord(context.Background(), "nope", RecordPatch{}); err == nil {
		t.Error("expected error for missing record")
	}
}

func TestMemoryStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if sess, err := m.LatestSession(ctx, "form-1"); err != nil || sess != nil {
		t.Fatalf("no sessions yet: sess=%v err=%v", sess, err)
	}

	created, err := m.CreateSession(ctx, "form-1", VisitorMeta{City: "Denver"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	answers := answer.Set{"facility_type": answer.String("indoor")}
	if err := m.UpdateSession(ctx, "form-1", created.ID, answers); err != nil {
		t.Fatalf("update session: %v", err)
	}

	latest, err := m.LatestSession(ctx, "form-1")
	if err != nil || latest == nil {
		t.Fatalf("latest: sess=%v err=%v", latest, err)
	}
	if latest.ID != created.ID {
		t.Errorf("expected session %s, got %s", created.ID, latest.ID)
	}
	if got := latest.Answers["facility_type"].Str(); got != "indoor" {
		t.Errorf("answers not persisted: %q", got)
	}

	// The returned set is a copy; mutating it must not write through.
	latest.Answers["facility_type"] = answer.String("outdoor")
	again, _ := m.LatestSession(ctx, "form-1")
	if got := again.Answers["facility_type"].Str(); got != "indoor" {
		t.Errorf("store leaked internal state: %q", got)
	}
}

func TestMemoryStoreUpdateMissingSession(t *testing.T) {
	if err := NewMemoryStore().UpdateSession(context.Background(), "form-1", "nope", answer.Set{}); err == nil {
		t.Error("expected error for missing session")
	}
}
