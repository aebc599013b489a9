package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/verdantiq/facility-assessment/internal/answer"
	"github.com/verdantiq/facility-assessment/internal/cache"
	"github.com/verdantiq/facility-assessment/internal/schema"
	"github.com/verdantiq/facility-assessment/internal/store"
)

const testWizardYAML = `
steps:
  - id: welcome
    title: Welcome
    sections:
      - id: contact
        title: Contact
        questions:
          - id: company_name
            type: text
            label: Company name
            required: true
          - id: stakeholder_email
            type: email
            label: Email
            required: true
  - id: infrastructure
    title: Infrastructure
    sections:
      - id: facility
        title: Facility
        questions:
          - id: facility_type
            type: select
            label: Facility type
            options: [indoor, greenhouse, outdoor]
            required: true
          - id: num_rooms
            type: slider
            label: Number of rooms
            min: 1
            max: 20
            required: true
  - id: financials
    title: Financials
    sections:
      - id: docs
        title: Documents
        questions:
          - id: financial_documentation
            type: file
            label: Financial documents
`

type stubCollector struct {
	meta store.VisitorMeta
}

func (s stubCollector) Collect(ctx context.Context) store.VisitorMeta { return s.meta }

// flakyStore wraps a MemoryStore and fails scripted calls.
type flakyStore struct {
	store.FormStore
	failUpdateRecord   bool
	failSessionUpdates int
}

func (f *flakyStore) UpdateRecord(ctx context.Context, recordID string, patch store.RecordPatch) error {
	if f.failUpdateRecord {
		return errors.New("simulated write failure")
	}
	return f.FormStore.UpdateRecord(ctx, recordID, patch)
}

func (f *flakyStore) UpdateSession(ctx context.Context, formID, sessionID string, answers answer.Set) error {
	if f.failSessionUpdates > 0 {
		f.failSessionUpdates--
		return errors.New("simulated session write failure")
	}
	return f.FormStore.UpdateSession(ctx, formID, sessionID, answers)
}

func testWizard(t *testing.T) *schema.Wizard {
	t.Helper()
	w, err := schema.Parse([]byte(testWizardYAML))
	if err != nil {
		t.Fatalf("parse test wizard: %v", err)
	}
	return w
}

func newTestEngine(t *testing.T, st store.FormStore, kv cache.KV) *Engine {
	t.Helper()
	return New(testWizard(t), st, kv, stubCollector{meta: store.VisitorMeta{City: "Denver", SessionID: "session_test"}})
}

func TestInitCreatesRecordAndPointer(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	kv := cache.NewMemoryKV()
	e := newTestEngine(t, st, kv)

	if err := e.Init(ctx, ""); err != nil {
		t.Fatalf("init: %v", err)
	}

	if e.State() != StateReady {
		t.Errorf("state: %s", e.State())
	}
	rec := e.Record()
	if rec == nil || rec.ID == "" {
		t.Fatal("no record created")
	}
	if rec.Status != store.StatusDraft {
		t.Errorf("status: %s", rec.Status)
	}
	if rec.Metadata.Visitor.City != "Denver" {
		t.Error("visitor metadata not captured at creation")
	}
	if rec.Metadata.Performance.StartTime == "" {
		t.Error("start time not recorded")
	}
	if e.SessionID() == "" {
		t.Error("no session created")
	}

	id, ok, _ := cache.CurrentRecordID(kv)
	if !ok || id != rec.ID {
		t.Errorf("pointer not persisted: %q ok=%v", id, ok)
	}
}

func TestInitIsOneShot(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := newTestEngine(t, st, cache.NewMemoryKV())

	if err := e.Init(ctx, ""); err != nil {
		t.Fatalf("init: %v", err)
	}
	first := e.Record().ID

	// A duplicate mount must not create a second record.
	if err := e.Init(ctx, ""); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	if e.Record().ID != first {
		t.Error("second init replaced the record")
	}
}

func TestInitResumesFromPointer(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	kv := cache.NewMemoryKV()

	seed := newTestEngine(t, st, kv)
	if err := seed.Init(ctx, ""); err != nil {
		t.Fatalf("seed init: %v", err)
	}
	if err := seed.UpdateAnswer("facility_type", answer.String("indoor"), ""); err != nil {
		t.Fatalf("seed answer: %v", err)
	}
	if err := seed.SaveProgress(ctx, 2); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	resumed := newTestEngine(t, st, kv)
	if err := resumed.Init(ctx, ""); err != nil {
		t.Fatalf("resume init: %v", err)
	}
	if resumed.Record().ID != seed.Record().ID {
		t.Error("resume created a new record instead of following the pointer")
	}
	if resumed.CurrentStep() != 2 {
		t.Errorf("step not restored: %d", resumed.CurrentStep())
	}
	if got := resumed.MergedAnswers()["facility_type"].Str(); got != "indoor" {
		t.Errorf("answers not restored: %q", got)
	}
}

func TestInitStalePointerCreatesFreshRecord(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	kv := cache.NewMemoryKV()
	cache.SetCurrentRecordID(kv, "deleted-upstream")

	e := newTestEngine(t, st, kv)
	if err := e.Init(ctx, ""); err != nil {
		t.Fatalf("init with stale pointer must not fail: %v", err)
	}

	rec := e.Record()
	if rec == nil || rec.ID == "deleted-upstream" {
		t.Fatal("stale pointer was not discarded")
	}
	id, ok, _ := cache.CurrentRecordID(kv)
	if !ok || id != rec.ID {
		t.Errorf("pointer should follow the fresh record, got %q", id)
	}
}

func TestInitCacheOverlayWins(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	kv := cache.NewMemoryKV()

	seed := newTestEngine(t, st, kv)
	seed.Init(ctx, "")
	seed.UpdateAnswer("facility_type", answer.String("indoor"), "")
	seed.SaveProgress(ctx, 2)
	recID := seed.Record().ID

	// Newer local edits that never reached the remote store.
	cached := answer.Set{
		"facility_type": answer.String("greenhouse"),
		"company_name":  answer.String("GreenLeaf Gardens"),
	}
	if err := cache.SaveSnapshot(kv, recID, cached, 2, time.Now()); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	resumed := newTestEngine(t, st, kv)
	if err := resumed.Init(ctx, ""); err != nil {
		t.Fatalf("resume: %v", err)
	}
	merged := resumed.MergedAnswers()
	if got := merged["facility_type"].Str(); got != "greenhouse" {
		t.Errorf("cache overlay should win over remote, got %q", got)
	}
	if got := merged["company_name"].Str(); got != "GreenLeaf Gardens" {
		t.Errorf("cached record-partition key lost: %q", got)
	}
}

func TestUpdateAnswerPartitionRouting(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := newTestEngine(t, st, cache.NewMemoryKV())
	e.Init(ctx, "")

	e.UpdateAnswer("company_name", answer.String("GreenLeaf Gardens"), "")
	e.UpdateAnswer("facility_type", answer.String("indoor"), "a note")
	if err := e.SaveProgress(ctx, 2); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, _ := st.GetRecord(ctx, e.Record().ID)
	if rec.CompanyName != "GreenLeaf Gardens" {
		t.Errorf("record column not written: %q", rec.CompanyName)
	}

	sess, _ := st.LatestSession(ctx, rec.ID)
	if _, leaked := sess.Answers["company_name"]; leaked {
		t.Error("record-partition answer leaked into the session blob")
	}
	if got := sess.Answers["facility_type"].Str(); got != "indoor" {
		t.Errorf("session answer missing: %q", got)
	}
	if got := sess.Answers["facility_type_context"].Str(); got != "a note" {
		t.Errorf("context companion missing: %q", got)
	}
}

func TestUpdateAnswerValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemoryStore(), cache.NewMemoryKV())
	e.Init(ctx, "")

	err := e.UpdateAnswer("num_rooms", answer.String("four"), "")
	var verr *answer.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, stored := e.MergedAnswers()["num_rooms"]; stored {
		t.Error("invalid value must not be stored")
	}
}

func TestUpdateAnswerBeforeInit(t *testing.T) {
	e := newTestEngine(t, store.NewMemoryStore(), cache.NewMemoryKV())
	if err := e.UpdateAnswer("company_name", answer.String("x"), ""); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestNumRoomsSyncsRoomDetails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemoryStore(), cache.NewMemoryKV())
	e.Init(ctx, "")

	e.UpdateAnswer("num_rooms", answer.Number(3), "")
	rooms := e.MergedAnswers()[answer.RoomDetailsKey].Rooms()
	if len(rooms) != 3 {
		t.Fatalf("expected 3 room entries, got %d", len(rooms))
	}

	e.UpdateAnswer(answer.RoomDetailsKey, answer.RoomList([]answer.Room{
		{Number: 1, LengthFt: 20, WidthFt: 10, Purpose: "veg"},
		{Number: 2, LengthFt: 30, WidthFt: 15, Purpose: "flower"},
		{Number: 3, LengthFt: 10, WidthFt: 10, Purpose: "dry"},
	}), "")
	e.UpdateAnswer("num_rooms", answer.Number(2), "")

	rooms = e.MergedAnswers()[answer.RoomDetailsKey].Rooms()
	if len(rooms) != 2 {
		t.Fatalf("expected 2 room entries after shrink, got %d", len(rooms))
	}
	if rooms[0].Purpose != "veg" || rooms[1].Purpose != "flower" {
		t.Errorf("surviving entries changed: %+v", rooms)
	}
}

func TestSaveProgressWriteFailureAborts(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{FormStore: store.NewMemoryStore()}
	e := newTestEngine(t, flaky, cache.NewMemoryKV())
	e.Init(ctx, "")
	e.UpdateAnswer("company_name", answer.String("GreenLeaf Gardens"), "")

	flaky.failUpdateRecord = true
	if err := e.SaveProgress(ctx, 2); err == nil {
		t.Fatal("expected error from failed record write")
	}
	if !e.LastSaved().IsZero() {
		t.Error("lastSaved must not advance on a failed save")
	}
}

func TestSaveProgressMetadataAdditive(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := newTestEngine(t, st, cache.NewMemoryKV())
	e.Init(ctx, "")

	startTime := e.Record().Metadata.Performance.StartTime

	e.UpdateAnswer("company_name", answer.String("GreenLeaf Gardens"), "")
	e.SaveProgress(ctx, 2)
	e.NextStep()
	e.UpdateAnswer("facility_type", answer.String("indoor"), "")
	e.SaveProgress(ctx, 3)

	rec, _ := st.GetRecord(ctx, e.Record().ID)
	meta := rec.Metadata
	if meta.Visitor.City != "Denver" {
		t.Error("visitor fingerprint lost across saves")
	}
	if meta.Performance.StartTime != startTime {
		t.Error("start time lost across saves")
	}
	if meta.Assessment.RevisionCount != 2 {
		t.Errorf("revision count: expected 2, got %d", meta.Assessment.RevisionCount)
	}
	if meta.Assessment.LastQuestionAnswered != "facility_type" {
		t.Errorf("last answered: %q", meta.Assessment.LastQuestionAnswered)
	}
	if len(meta.Performance.StepDurationsMs) == 0 {
		t.Error("no step durations recorded")
	}
}

func TestSubmitFinalState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	kv := cache.NewMemoryKV()
	e := newTestEngine(t, st, kv)
	e.Init(ctx, "")
	e.UpdateAnswer("company_name", answer.String("GreenLeaf Gardens"), "")

	if err := e.Submit(ctx, "https://example.com/report.zip"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec, _ := st.GetRecord(ctx, e.Record().ID)
	if rec.Status != store.StatusComplete {
		t.Errorf("status: %s", rec.Status)
	}
	if rec.CurrentStep != 3 {
		t.Errorf("step should be forced to last (3), got %d", rec.CurrentStep)
	}
	if rec.ReportURL != "https://example.com/report.zip" {
		t.Errorf("report url: %q", rec.ReportURL)
	}

	if _, ok, _ := cache.CurrentRecordID(kv); ok {
		t.Error("pointer must be cleared after submit")
	}
	if snap, _ := cache.LoadSnapshot(kv, rec.ID); snap != nil {
		t.Error("snapshot must be cleared after submit")
	}
}

func TestSubmitRetriesSessionWriteOnce(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{FormStore: store.NewMemoryStore(), failSessionUpdates: 0}
	e := newTestEngine(t, flaky, cache.NewMemoryKV())
	e.Init(ctx, "")

	flaky.failSessionUpdates = 1
	if err := e.Submit(ctx, ""); err != nil {
		t.Errorf("single transient failure should be absorbed by the retry: %v", err)
	}

	// Fresh engine, two consecutive failures exhaust the retry.
	e2 := newTestEngine(t, flaky, cache.NewMemoryKV())
	e2.Init(ctx, "")
	flaky.failSessionUpdates = 2
	err := e2.Submit(ctx, "")
	var serr *SubmissionError
	if !errors.As(err, &serr) {
		t.Errorf("expected SubmissionError after retry exhausted, got %v", err)
	}
}

func TestDoubleSubmitIncrementsRevisionPerCall(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := newTestEngine(t, st, cache.NewMemoryKV())
	e.Init(ctx, "")

	e.Submit(ctx, "")
	rec, _ := st.GetRecord(ctx, e.Record().ID)
	first := rec.Metadata.Assessment.RevisionCount

	e.Submit(ctx, "")
	rec, _ = st.GetRecord(ctx, e.Record().ID)
	if rec.Metadata.Assessment.RevisionCount != first+1 {
		t.Errorf("revision after second submit: expected %d, got %d", first+1, rec.Metadata.Assessment.RevisionCount)
	}
}

func TestNavigationClamps(t *testing.T) {
	e := newTestEngine(t, store.NewMemoryStore(), cache.NewMemoryKV())
	e.Init(context.Background(), "")

	e.PrevStep()
	if e.CurrentStep() != 1 {
		t.Errorf("prev below 1: %d", e.CurrentStep())
	}
	for i := 0; i < 10; i++ {
		e.NextStep()
	}
	if e.CurrentStep() != 3 {
		t.Errorf("next beyond last: %d", e.CurrentStep())
	}
	e.GoToStep(99)
	if e.CurrentStep() != 3 {
		t.Errorf("goto out of range moved pointer: %d", e.CurrentStep())
	}
}
