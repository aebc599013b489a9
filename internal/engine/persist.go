package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verdantiq/facility-assessment/internal/answer"
	"github.com/verdantiq/facility-assessment/internal/cache"
	"github.com/verdantiq/facility-assessment/internal/metrics"
	"github.com/verdantiq/facility-assessment/internal/store"
)

// SaveProgress persists the current state on a successful step advance: an
// additive metadata patch plus the answer columns on the record, the full
// session partition on the session, then the local cache snapshot. The two
// remote writes are independent calls; either failure aborts the operation
// and surfaces to the caller, whose retry is simply re-triggering
// navigation. No remote state is rolled back; the writes are idempotent
// re-sends of full current state.
func (e *Engine) SaveProgress(ctx context.Context, step int) error {
	if e.state != StateReady {
		return ErrNotReady
	}
	if e.record == nil || e.sessionID == "" {
		return nil
	}

	e.isSaving = true
	defer func() { e.isSaving = false }()
	started := e.now()

	var stepDuration time.Duration
	stepID := ""
	if s := e.wizard.StepAt(e.currentStep); s != nil {
		stepID = s.ID
		if touched, ok := e.stepTouched[stepID]; ok {
			stepDuration = started.Sub(touched)
		}
	}

	merged := e.MergedAnswers()
	completion := answer.CompletionPercent(merged, e.wizard.Flatten())

	meta := e.nextMetadata(completion)
	if stepID != "" {
		meta.Performance.StepDurationsMs[stepID] = stepDuration.Milliseconds()
	}

	status := store.StatusPartial
	if completion >= 100 {
		status = store.StatusComplete
	}

	patch := e.recordPatch(status, step, meta)
	if err := e.store.UpdateRecord(ctx, e.record.ID, patch); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if err := e.store.UpdateSession(ctx, e.record.ID, e.sessionID, e.sessionAnswers); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}

	e.applyPatch(patch)
	e.saveToCache(merged, step)

	rec := metrics.New("FacilityAssessment").
		Dimension("Operation", "saveProgress").
		Metric("SaveLatencyMs", float64(e.now().Sub(started).Milliseconds()), metrics.UnitMilliseconds).
		Metric("CompletionPercentage", float64(completion), metrics.UnitPercent).
		Property("recordId", e.record.ID)
	rec.Flush()

	log.Info().
		Str("recordId", e.record.ID).
		Int("step", step).
		Int("completion", completion).
		Int("revision", meta.Assessment.RevisionCount).
		Msg("Progress saved")
	return nil
}

// Submit is the terminal operation: the same additive metadata merge plus a
// total-duration entry, with status forced to complete and the step pointer
// forced to the last schema step. The session update is retried once before
// propagating. On full success both the per-record cache snapshot and the
// resume pointer are cleared; the session is immutable from here on.
func (e *Engine) Submit(ctx context.Context, reportURL string) error {
	if e.state != StateReady {
		return ErrNotReady
	}
	if e.record == nil || e.sessionID == "" {
		return &SubmissionError{Err: ErrNoRecord}
	}

	e.isSaving = true
	defer func() { e.isSaving = false }()
	started := e.now()

	merged := e.MergedAnswers()
	completion := answer.CompletionPercent(merged, e.wizard.Flatten())

	meta := e.nextMetadata(completion)
	meta.Performance.TotalDurationMs = started.Sub(e.sessionStart).Milliseconds()

	patch := e.recordPatch(store.StatusComplete, e.wizard.StepCount(), meta)
	if reportURL != "" {
		patch.ReportURL = &reportURL
	}

	if err := e.store.UpdateRecord(ctx, e.record.ID, patch); err != nil {
		return &SubmissionError{RecordID: e.record.ID, Err: err}
	}
	e.applyPatch(patch)

	if err := e.store.UpdateSession(ctx, e.record.ID, e.sessionID, e.sessionAnswers); err != nil {
		log.Warn().Err(err).Str("recordId", e.record.ID).Msg("Final session update failed, retrying once")
		if err := e.store.UpdateSession(ctx, e.record.ID, e.sessionID, e.sessionAnswers); err != nil {
			return &SubmissionError{RecordID: e.record.ID, Err: err}
		}
	}

	if err := cache.ClearSnapshot(e.kv, e.record.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to clear cache snapshot after submit")
	}
	if err := cache.ClearCurrentRecordID(e.kv); err != nil {
		log.Warn().Err(err).Msg("Failed to clear record pointer after submit")
	}

	rec := metrics.New("FacilityAssessment").
		Dimension("Operation", "submit").
		Metric("SubmitLatencyMs", float64(e.now().Sub(started).Milliseconds()), metrics.UnitMilliseconds).
		Metric("TotalDurationMs", float64(meta.Performance.TotalDurationMs), metrics.UnitMilliseconds).
		Metric("CompletionPercentage", float64(completion), metrics.UnitPercent).
		Property("recordId", e.record.ID)
	rec.Flush()

	log.Info().
		Str("recordId", e.record.ID).
		Bool("hasReport", reportURL != "").
		Int("completion", completion).
		Msg("Assessment submitted")
	return nil
}

// Discard drops the local traces of the in-flight assessment: its cache
// snapshot and the resume pointer. Remote state is untouched; the record
// simply stops being resumable from this machine.
func (e *Engine) Discard() {
	if e.record != nil {
		if err := cache.ClearSnapshot(e.kv, e.record.ID); err != nil {
			log.Warn().Err(err).Str("recordId", e.record.ID).Msg("Failed to clear cache snapshot on discard")
		}
	}
	if err := cache.ClearCurrentRecordID(e.kv); err != nil {
		log.Warn().Err(err).Msg("Failed to clear record pointer on discard")
	}
}

// SaveToCache writes the local snapshot outside of a step advance (the
// controller's autosave). Purely local; never touches the network.
func (e *Engine) SaveToCache() {
	if e.record == nil {
		return
	}
	e.saveToCache(e.MergedAnswers(), e.currentStep)
}

func (e *Engine) saveToCache(merged answer.Set, step int) {
	now := e.now()
	if err := cache.SaveSnapshot(e.kv, e.record.ID, merged, step, now); err != nil {
		log.Warn().Err(err).Str("recordId", e.record.ID).Msg("Cache snapshot write failed")
		return
	}
	e.lastSaved = now
}

// nextMetadata builds the additive metadata patch: it starts from the cached
// descriptor's metadata, copies the step-duration map, and bumps the
// revision counter. Keys it does not own (visitor fingerprint, start time)
// pass through untouched; the metadata block is never replaced wholesale.
func (e *Engine) nextMetadata(completion int) store.Metadata {
	meta := e.record.Metadata

	durations := make(map[string]int64, len(meta.Performance.StepDurationsMs)+1)
	for k, v := range meta.Performance.StepDurationsMs {
		durations[k] = v
	}
	meta.Performance.StepDurationsMs = durations

	meta.Assessment.CompletionPercentage = completion
	meta.Assessment.RevisionCount++
	if last := e.lastAnswered(); last != "" {
		meta.Assessment.LastQuestionAnswered = last
	}
	return meta
}

// recordPatch projects the record answer partition onto the record's fixed
// columns.
func (e *Engine) recordPatch(status store.Status, step int, meta store.Metadata) store.RecordPatch {
	return store.RecordPatch{
		CompanyName:      e.recordAnswers["company_name"].Str(),
		StakeholderEmail: e.recordAnswers["stakeholder_email"].Str(),
		FacilityDocs:     e.recordAnswers["facility_documentation"].List(),
		FinancialDocs:    e.recordAnswers["financial_documentation"].List(),
		Status:           status,
		CurrentStep:      step,
		Metadata:         meta,
	}
}

// applyPatch refreshes the cached record descriptor after a successful
// remote write so the next additive merge starts from what was persisted.
func (e *Engine) applyPatch(patch store.RecordPatch) {
	e.record.CompanyName = patch.CompanyName
	e.record.StakeholderEmail = patch.StakeholderEmail
	e.record.FacilityDocs = patch.FacilityDocs
	e.record.FinancialDocs = patch.FinancialDocs
	e.record.Status = patch.Status
	e.record.CurrentStep = patch.CurrentStep
	e.record.Metadata = patch.Metadata
	if patch.ReportURL != nil {
		e.record.ReportURL = *patch.ReportURL
	}
}
