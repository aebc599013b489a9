package wizard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/verdantiq/facility-assessment/internal/answer"
	"github.com/verdantiq/facility-assessment/internal/cache"
	"github.com/verdantiq/facility-assessment/internal/engine"
	"github.com/verdantiq/facility-assessment/internal/schema"
	"github.com/verdantiq/facility-assessment/internal/store"
	"github.com/verdantiq/facility-assessment/internal/upload"
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
          - id: facility_documentation
            type: file
            label: Facility documents
  - id: financials
    title: Financials
    sections:
      - id: docs
        title: Documents
        questions:
          - id: annual_revenue
            type: select
            label: Annual revenue
            options: [under-1m, 1m-5m, over-5m]
          - id: financial_documentation
            type: file
            label: Financial documents
`

type recordingNotifier struct {
	highlighted []string
	warnings    []string
}

func (n *recordingNotifier) HighlightQuestion(questionID string) {
	n.highlighted = append(n.highlighted, questionID)
}

func (n *recordingNotifier) Warn(message string) {
	n.warnings = append(n.warnings, message)
}

// countingStore tracks remote writes so tests can assert a blocked advance
// touched nothing.
type countingStore struct {
	store.FormStore
	recordWrites  int
	sessionWrites int
	failWrites    bool
}

func (c *countingStore) UpdateRecord(ctx context.Context, recordID string, patch store.RecordPatch) error {
	c.recordWrites++
	if c.failWrites {
		return errors.New("simulated outage")
	}
	return c.FormStore.UpdateRecord(ctx, recordID, patch)
}

func (c *countingStore) UpdateSession(ctx context.Context, formID, sessionID string, answers answer.Set) error {
	c.sessionWrites++
	if c.failWrites {
		return errors.New("simulated outage")
	}
	return c.FormStore.UpdateSession(ctx, formID, sessionID, answers)
}

// scriptedUploader returns canned results keyed by file name.
type scriptedUploader struct {
	failNames map[string]bool
	calls     int
}

func (u *scriptedUploader) UploadAll(ctx context.Context, files []upload.File, bucket, prefix string) []upload.Result {
	u.calls++
	results := make([]upload.Result, len(files))
	for i, f := range files {
		if u.failNames[f.Name] {
			results[i] = upload.Result{Err: "simulated upload failure"}
			continue
		}
		results[i] = upload.Result{
			Key: prefix + "/" + f.Name,
			URL: "https://" + bucket + ".example.com/" + prefix + "/" + f.Name,
		}
	}
	return results
}

type collectorStub struct{}

func (collectorStub) Collect(ctx context.Context) store.VisitorMeta {
	return store.VisitorMeta{SessionID: "session_test"}
}

type fixture struct {
	ctrl     *Controller
	store    *countingStore
	notifier *recordingNotifier
	uploader *scriptedUploader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	wiz, err := schema.Parse([]byte(testWizardYAML))
	if err != nil {
		t.Fatalf("parse test wizard: %v", err)
	}
	st := &countingStore{FormStore: store.NewMemoryStore()}
	eng := engine.New(wiz, st, cache.NewMemoryKV(), collectorStub{})
	notifier := &recordingNotifier{}
	uploader := &scriptedUploader{}
	ctrl := New(wiz, eng, uploader, notifier, Buckets{
		FacilityDocs:  "facility-bucket",
		FinancialDocs: "financial-bucket",
		Reports:       "report-bucket",
	})
	if err := ctrl.Start(context.Background(), ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctrl.Begin()
	return &fixture{ctrl: ctrl, store: st, notifier: notifier, uploader: uploader}
}

func TestBlockedAdvanceHighlightsAndSkipsWrites(t *testing.T) {
	f := newFixture(t)

	writesBefore := f.store.recordWrites + f.store.sessionWrites
	if err := f.ctrl.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}

	if len(f.notifier.highlighted) != 1 || f.notifier.highlighted[0] != "company_name" {
		t.Errorf("expected company_name highlighted, got %v", f.notifier.highlighted)
	}
	if f.ctrl.EngineRef().CurrentStep() != 1 {
		t.Errorf("blocked advance moved the step pointer: %d", f.ctrl.EngineRef().CurrentStep())
	}
	if got := f.store.recordWrites + f.store.sessionWrites; got != writesBefore {
		t.Errorf("blocked advance performed %d remote writes", got-writesBefore)
	}
}

func TestNextSavesAndAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.UpdateAnswer("company_name", answer.String("GreenLeaf Gardens"), "")
	if err := f.ctrl.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}

	if f.ctrl.EngineRef().CurrentStep() != 2 {
		t.Errorf("step: %d", f.ctrl.EngineRef().CurrentStep())
	}
	if f.store.recordWrites != 1 || f.store.sessionWrites != 1 {
		t.Errorf("expected one record and one session write, got %d/%d", f.store.recordWrites, f.store.sessionWrites)
	}
}

func TestFinalStepTransitionsToReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.UpdateAnswer("company_name", answer.String("GreenLeaf Gardens"), "")
	f.ctrl.Next(ctx)
	writesBefore := f.store.recordWrites + f.store.sessionWrites

	// Step 2 has no required questions; next from the last step goes to
	// review without another save.
	f.ctrl.Next(ctx)
	if f.ctrl.Screen() != ScreenReview {
		t.Errorf("screen: %s", f.ctrl.Screen())
	}
	if got := f.store.recordWrites + f.store.sessionWrites; got != writesBefore {
		t.Error("transition to review must not write remotely")
	}
}

func TestSaveFailureBlocksAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.UpdateAnswer("company_name", answer.String("GreenLeaf Gardens"), "")
	f.store.failWrites = true

	if err := f.ctrl.Next(ctx); err == nil {
		t.Fatal("expected save failure to surface")
	}
	if f.ctrl.EngineRef().CurrentStep() != 1 {
		t.Error("failed save must not advance the step")
	}
	if len(f.notifier.warnings) == 0 {
		t.Error("failed save should warn the user")
	}
}

func TestConfirmReviewSubmitsWithReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.UpdateAnswer("company_name", answer.String("GreenLeaf Gardens"), "")
	f.ctrl.Next(ctx)
	f.ctrl.Next(ctx) // review

	if err := f.ctrl.ConfirmReview(ctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if f.ctrl.Screen() != ScreenCompletion {
		t.Errorf("screen: %s", f.ctrl.Screen())
	}

	rec, _ := f.store.GetRecord(ctx, f.ctrl.EngineRef().Record().ID)
	if rec.Status != store.StatusComplete {
		t.Errorf("status: %s", rec.Status)
	}
	if !strings.Contains(rec.ReportURL, "report-bucket") {
		t.Errorf("report url not persisted: %q", rec.ReportURL)
	}
}

func TestConfirmReviewDegradedSubmitStillCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.UpdateAnswer("company_name", answer.String("GreenLeaf Gardens"), "")
	f.ctrl.Next(ctx)
	f.ctrl.Next(ctx) // review

	f.store.failWrites = true
	err := f.ctrl.ConfirmReview(ctx)
	if err == nil {
		t.Error("degraded submit should surface its error")
	}
	if f.ctrl.Screen() != ScreenCompletion {
		t.Error("user must reach completion even when submission fails")
	}
	if len(f.notifier.warnings) == 0 {
		t.Error("degraded submit should warn")
	}
}

func TestUploadPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.uploader.failNames = map[string]bool{"b.pdf": true}

	files := []upload.File{
		{Name: "a.pdf", Content: []byte("a")},
		{Name: "b.pdf", Content: []byte("b")},
		{Name: "c.pdf", Content: []byte("c")},
	}
	results, err := f.ctrl.UploadDocuments(ctx, "facility_documentation", files)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	urls := f.ctrl.EngineRef().MergedAnswers()["facility_documentation"].List()
	if len(urls) != 2 {
		t.Errorf("expected 2 successful URLs stored, got %v", urls)
	}
	if len(f.notifier.warnings) != 1 || !strings.Contains(f.notifier.warnings[0], "1 of 3") {
		t.Errorf("expected partial-failure warning, got %v", f.notifier.warnings)
	}
}

func TestUploadAppendsToExistingList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.UpdateAnswer("facility_documentation", answer.StringList("https://existing.example.com/old.pdf"), "")
	_, err := f.ctrl.UploadDocuments(ctx, "facility_documentation", []upload.File{{Name: "new.pdf", Content: []byte("x")}})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	urls := f.ctrl.EngineRef().MergedAnswers()["facility_documentation"].List()
	if len(urls) != 2 || urls[0] != "https://existing.example.com/old.pdf" {
		t.Errorf("existing URLs not preserved: %v", urls)
	}
}

func TestUploadRejectsNonFileQuestion(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.UploadDocuments(context.Background(), "company_name", nil); err == nil {
		t.Error("expected error for a non-document question")
	}
}

func TestUnsavedChangesDebounce(t *testing.T) {
	f := newFixture(t)
	f.ctrl.debounceDur = 5 * time.Millisecond

	f.ctrl.UpdateAnswer("company_name", answer.String("G"), "")
	if f.ctrl.HasUnsavedChanges() {
		t.Error("flag should not flip before the debounce window")
	}
	time.Sleep(20 * time.Millisecond)
	if !f.ctrl.HasUnsavedChanges() {
		t.Error("flag should flip after the debounce window")
	}

	if err := f.ctrl.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}
	if f.ctrl.HasUnsavedChanges() {
		t.Error("successful save should clear the flag")
	}
}

func TestRestartDiscardsLocalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kv := cache.NewMemoryKV()

	wiz, _ := schema.Parse([]byte(testWizardYAML))
	st := store.NewMemoryStore()
	eng := engine.New(wiz, st, kv, collectorStub{})
	ctrl := New(wiz, eng, f.uploader, f.notifier, Buckets{})
	if err := ctrl.Start(ctx, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	firstID := ctrl.EngineRef().Record().ID

	fresh := engine.New(wiz, st, kv, collectorStub{})
	if err := ctrl.Restart(ctx, fresh); err != nil {
		t.Fatalf("restart: %v", err)
	}

	if ctrl.Screen() != ScreenWelcome {
		t.Errorf("screen after restart: %s", ctrl.Screen())
	}
	if ctrl.EngineRef().Record().ID == firstID {
		t.Error("restart must create a fresh record")
	}
	if snap, _ := cache.LoadSnapshot(kv, firstID); snap != nil {
		t.Error("old snapshot must be cleared on restart")
	}
}
