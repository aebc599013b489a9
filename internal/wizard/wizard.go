// Package wizard drives the assessment flow on top of the engine: screen
// transitions, per-step required-question gating, document uploads, and the
// review/submit sequence. The controller never talks to the stores directly;
// everything remote goes through the engine or the upload adapter.
package wizard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verdantiq/facility-assessment/internal/answer"
	"github.com/verdantiq/facility-assessment/internal/engine"
	"github.com/verdantiq/facility-assessment/internal/report"
	"github.com/verdantiq/facility-assessment/internal/schema"
	"github.com/verdantiq/facility-assessment/internal/upload"
)

// Screen is the wizard's visible surface.
type Screen string

const (
	ScreenWelcome    Screen = "welcome"
	ScreenSteps      Screen = "steps"
	ScreenReview     Screen = "review"
	ScreenCompletion Screen = "completion"
)

// Notifier receives user-facing signals from the controller: which question
// blocked an advance, and warnings worth surfacing. Implementations adapt
// these to their UI (HTTP response fields, CLI output).
type Notifier interface {
	HighlightQuestion(questionID string)
	Warn(message string)
}

// LogNotifier is the fallback Notifier: it only logs.
type LogNotifier struct{}

func (LogNotifier) HighlightQuestion(questionID string) {
	log.Info().Str("questionId", questionID).Msg("Required question unanswered")
}

func (LogNotifier) Warn(message string) {
	log.Warn().Msg(message)
}

// Buckets names the object-storage destinations for uploaded documents and
// the generated report.
type Buckets struct {
	FacilityDocs  string
	FinancialDocs string
	Reports       string
}

const unsavedDebounce = 600 * time.Millisecond

// Controller owns the flow state for one wizard session.
type Controller struct {
	engine   *engine.Engine
	wizard   *schema.Wizard
	uploader upload.Uploader
	notifier Notifier
	buckets  Buckets

	screen Screen

	// The unsaved-changes indicator is debounced with an explicit timer so a
	// burst of keystrokes flips it at most once. The timer callback runs on
	// its own goroutine, hence the mutex around the flag.
	mu          sync.Mutex
	unsaved     bool
	dirtyTimer  *time.Timer
	debounceDur time.Duration
}

// New wires a controller over its collaborators. A nil notifier falls back
// to LogNotifier.
func New(w *schema.Wizard, e *engine.Engine, uploader upload.Uploader, notifier Notifier, buckets Buckets) *Controller {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Controller{
		engine:      e,
		wizard:      w,
		uploader:    uploader,
		notifier:    notifier,
		buckets:     buckets,
		screen:      ScreenWelcome,
		debounceDur: unsavedDebounce,
	}
}

// Start initializes the engine. A resumed assessment that had already left
// the first step skips the welcome screen.
func (c *Controller) Start(ctx context.Context, recordID string) error {
	err := c.engine.Init(ctx, recordID)
	if c.engine.State() == engine.StateReady && c.engine.CurrentStep() > 1 {
		c.screen = ScreenSteps
	}
	return err
}

// Begin leaves the welcome screen.
func (c *Controller) Begin() {
	if c.screen == ScreenWelcome {
		c.screen = ScreenSteps
	}
}

// Screen returns the current screen.
func (c *Controller) Screen() Screen { return c.screen }

// UpdateAnswer forwards a value to the engine, mirrors it into the local
// cache, and arms the unsaved-changes debounce.
func (c *Controller) UpdateAnswer(questionID string, v answer.Value, context string) error {
	if err := c.engine.UpdateAnswer(questionID, v, context); err != nil {
		return err
	}
	c.engine.SaveToCache()
	c.markDirty()
	return nil
}

// HasUnsavedChanges reports the debounced dirty flag.
func (c *Controller) HasUnsavedChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsaved
}

func (c *Controller) markDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirtyTimer != nil {
		c.dirtyTimer.Stop()
	}
	c.dirtyTimer = time.AfterFunc(c.debounceDur, func() {
		c.mu.Lock()
		c.unsaved = true
		c.mu.Unlock()
	})
}

func (c *Controller) clearDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirtyTimer != nil {
		c.dirtyTimer.Stop()
		c.dirtyTimer = nil
	}
	c.unsaved = false
}

// ValidateStep returns the id of the first required question on the current
// step that has no answer, or "" when the step is complete.
func (c *Controller) ValidateStep() string {
	step := c.wizard.StepAt(c.engine.CurrentStep())
	if step == nil {
		return ""
	}
	merged := c.engine.MergedAnswers()
	for si := range step.Sections {
		for qi := range step.Sections[si].Questions {
			q := &step.Sections[si].Questions[qi]
			if !q.Required {
				continue
			}
			if v, ok := merged[q.ID]; !ok || v.IsEmpty() {
				return q.ID
			}
		}
	}
	return ""
}

// Next gates, persists, then advances. A blocked step highlights the first
// missing question and performs no remote write. The final step transitions
// to review instead of writing; review confirmation does the terminal save.
func (c *Controller) Next(ctx context.Context) error {
	if c.screen == ScreenWelcome {
		c.Begin()
		return nil
	}
	if c.screen != ScreenSteps {
		return nil
	}

	if missing := c.ValidateStep(); missing != "" {
		c.notifier.HighlightQuestion(missing)
		return nil
	}

	if c.engine.CurrentStep() >= c.wizard.StepCount() {
		c.screen = ScreenReview
		return nil
	}

	next := c.engine.CurrentStep() + 1
	if err := c.engine.SaveProgress(ctx, next); err != nil {
		c.notifier.Warn("Progress could not be saved. Check your connection and try again.")
		return err
	}
	c.engine.NextStep()
	c.clearDirty()
	return nil
}

// Prev moves back without validation or remote writes.
func (c *Controller) Prev() {
	switch c.screen {
	case ScreenReview:
		c.screen = ScreenSteps
	case ScreenSteps:
		c.engine.PrevStep()
		c.engine.SaveToCache()
	}
}

// UploadDocuments stores a batch of files for a file question and appends
// the successful URLs to its existing answer. Partial failure keeps the
// successful subset and surfaces a warning.
func (c *Controller) UploadDocuments(ctx context.Context, questionID string, files []upload.File) ([]upload.Result, error) {
	var bucket, docType string
	switch questionID {
	case "facility_documentation":
		bucket, docType = c.buckets.FacilityDocs, "facility-docs"
	case "financial_documentation":
		bucket, docType = c.buckets.FinancialDocs, "financial-docs"
	default:
		return nil, fmt.Errorf("question %s does not accept documents", questionID)
	}

	rec := c.engine.Record()
	if rec == nil {
		return nil, engine.ErrNoRecord
	}
	prefix := fmt.Sprintf("assessments/%s/%s", rec.ID, docType)

	results := c.uploader.UploadAll(ctx, files, bucket, prefix)

	urls := upload.SuccessfulURLs(results)
	if len(urls) > 0 {
		existing := c.engine.MergedAnswers()[questionID].List()
		if err := c.UpdateAnswer(questionID, answer.StringList(append(existing, urls...)...), ""); err != nil {
			return results, err
		}
	}
	if failed := upload.FailureCount(results); failed > 0 {
		c.notifier.Warn(fmt.Sprintf("%d of %d documents failed to upload.", failed, len(files)))
	}
	return results, nil
}

// ConfirmReview runs the terminal sequence: report artifact, upload, submit.
// Every stage degrades rather than trapping the user; a failed artifact
// submits without a report URL, and a failed submit is retried bare. Only
// after the bare retry fails does the controller warn, and it still advances
// to the completion screen because the step saves already persisted the
// answers.
func (c *Controller) ConfirmReview(ctx context.Context) error {
	if c.screen != ScreenReview {
		return fmt.Errorf("confirm outside review (screen %s)", c.screen)
	}

	reportURL := c.buildAndUploadReport(ctx)

	err := c.engine.Submit(ctx, reportURL)
	if err != nil && reportURL != "" {
		log.Warn().Err(err).Msg("Submission with report failed, retrying without artifact")
		err = c.engine.Submit(ctx, "")
	}
	if err != nil {
		log.Error().Err(err).Msg("Final submission failed")
		c.notifier.Warn("Your responses are saved, but the final confirmation could not be recorded.")
	}

	c.screen = ScreenCompletion
	c.clearDirty()
	return err
}

// buildAndUploadReport is best-effort: any failure logs and returns "".
func (c *Controller) buildAndUploadReport(ctx context.Context) string {
	rec := c.engine.Record()
	if rec == nil || c.uploader == nil || c.buckets.Reports == "" {
		return ""
	}

	bundle, err := report.Bundle(c.wizard, rec, c.engine.MergedAnswers())
	if err != nil {
		log.Warn().Err(err).Msg("Report bundle generation failed")
		return ""
	}

	results := c.uploader.UploadAll(ctx, []upload.File{{
		Name:        "assessment-report.zip",
		ContentType: "application/zip",
		Content:     bundle,
	}}, c.buckets.Reports, fmt.Sprintf("assessments/%s/report", rec.ID))

	urls := upload.SuccessfulURLs(results)
	if len(urls) == 0 {
		c.notifier.Warn("The assessment report could not be generated; your responses are unaffected.")
		return ""
	}
	return urls[0]
}

// Restart discards the in-flight assessment locally (cached snapshot and
// resume pointer) and hands back a fresh engine initialized for a new
// record. Remote data for the abandoned record is left in place.
func (c *Controller) Restart(ctx context.Context, fresh *engine.Engine) error {
	c.engine.Discard()
	c.engine = fresh
	c.screen = ScreenWelcome
	c.clearDirty()
	return c.engine.Init(ctx, "")
}

// EngineRef exposes the current engine for read-only state reporting.
func (c *Controller) EngineRef() *engine.Engine { return c.engine }
