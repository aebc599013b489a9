// Package engine implements the form-state reconciliation and persistence
// core of the assessment wizard. The Engine is the single authoritative
// holder of in-progress answers: at startup it reconciles three sources
// (schema, remote record + session, local cache snapshot) into one split
// answer set, and afterwards fans every write back out to the local cache
// and the two remote stores.
//
// The Engine expects a single calling goroutine; the answer set has exactly
// one writer, driven by one UI event loop. Callers that multiplex requests
// (e.g. an HTTP front end) serialize access themselves.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verdantiq/facility-assessment/internal/answer"
	"github.com/verdantiq/facility-assessment/internal/cache"
	"github.com/verdantiq/facility-assessment/internal/schema"
	"github.com/verdantiq/facility-assessment/internal/store"
)

// State is the engine lifecycle phase.
type State int

const (
	StateUninitialized State = iota
	StateResuming
	StateCreating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResuming:
		return "resuming"
	case StateCreating:
		return "creating"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// MetadataCollector captures the visitor fingerprint at record creation.
// Implementations are best-effort and never fail.
type MetadataCollector interface {
	Collect(ctx context.Context) store.VisitorMeta
}

// Engine owns the split answer maps for the lifetime of one wizard session.
type Engine struct {
	wizard    *schema.Wizard
	store     store.FormStore
	kv        cache.KV
	collector MetadataCollector

	state     State
	record    *store.Record
	sessionID string

	recordAnswers  answer.Set
	sessionAnswers answer.Set

	// answeredAt timestamps every answer write; last-answered is the key
	// with the max timestamp (merged-map insertion order is unreliable).
	answeredAt  map[string]time.Time
	stepTouched map[string]time.Time

	sessionStart time.Time
	currentStep  int
	isSaving     bool
	lastSaved    time.Time

	now func() time.Time
}

// New creates an Engine over the given collaborators. Call Init before any
// other operation.
func New(wizard *schema.Wizard, st store.FormStore, kv cache.KV, collector MetadataCollector) *Engine {
	return &Engine{
		wizard:         wizard,
		store:          st,
		kv:             kv,
		collector:      collector,
		recordAnswers:  answer.Set{},
		sessionAnswers: answer.Set{},
		answeredAt:     make(map[string]time.Time),
		stepTouched:    make(map[string]time.Time),
		currentStep:    1,
		now:            time.Now,
	}
}

// Init resolves the target record (explicit id > cached pointer > new) and
// loads or creates the remote state. Re-entrant calls are no-ops: the
// one-shot latch means a duplicate mount cannot double-create records.
//
// A degraded startup (record creation failed) returns *InitializationError
// but still leaves the engine ready so the user can keep editing locally.
func (e *Engine) Init(ctx context.Context, recordID string) error {
	if e.state != StateUninitialized {
		return nil
	}
	e.sessionStart = e.now()

	targetID := recordID
	if targetID == "" {
		cached, ok, err := cache.CurrentRecordID(e.kv)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read cached record pointer")
		} else if ok {
			rec, err := e.store.GetRecord(ctx, cached)
			if err != nil {
				return &InitializationError{Err: err}
			}
			if rec == nil {
				// Stale pointer: the record was deleted upstream.
				log.Info().Str("recordId", cached).Msg("Cached record no longer exists, discarding pointer")
				if err := cache.ClearCurrentRecordID(e.kv); err != nil {
					log.Warn().Err(err).Msg("Failed to clear stale record pointer")
				}
			} else {
				targetID = cached
			}
		}
	}

	var initErr error
	if targetID != "" {
		e.state = StateResuming
		initErr = e.loadExisting(ctx, targetID)
	} else {
		e.state = StateCreating
		initErr = e.createNew(ctx)
	}

	e.state = StateReady
	if initErr != nil {
		log.Error().Err(initErr).Msg("Assessment initialization degraded")
		return &InitializationError{Err: initErr}
	}

	log.Info().
		Str("recordId", e.recordID()).
		Str("sessionId", e.sessionID).
		Int("step", e.currentStep).
		Msg("Assessment initialized")
	return nil
}

// loadExisting populates both partitions from the remote record and its most
// recent session, then overlays the local cache snapshot; the cache holds
// the newest unsaved edits, so it wins over remote for keys it contains.
func (e *Engine) loadExisting(ctx context.Context, id string) error {
	rec, err := e.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		// An explicit id that points nowhere: fall back to a fresh record.
		log.Warn().Str("recordId", id).Msg("Requested record not found, creating a new one")
		return e.createNew(ctx)
	}

	if err := cache.SetCurrentRecordID(e.kv, rec.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to persist record pointer")
	}

	e.record = rec
	if rec.CurrentStep >= 1 {
		e.currentStep = rec.CurrentStep
	}
	e.recordAnswers = recordColumnAnswers(rec)

	sess, err := e.store.LatestSession(ctx, rec.ID)
	if err != nil {
		return err
	}
	if sess == nil {
		sess, err = e.store.CreateSession(ctx, rec.ID, e.collector.Collect(ctx))
		if err != nil {
			return err
		}
	}
	e.sessionID = sess.ID
	e.sessionAnswers = sess.Answers.Clone()

	snap, err := cache.LoadSnapshot(e.kv, rec.ID)
	if err != nil {
		log.Warn().Err(err).Str("recordId", rec.ID).Msg("Ignoring unreadable cache snapshot")
		return nil
	}
	if snap != nil {
		for k, v := range snap.Record {
			e.recordAnswers[k] = v
		}
		for k, v := range snap.Session {
			e.sessionAnswers[k] = v
		}
		e.lastSaved = snap.LastSaved
		log.Debug().
			Str("recordId", rec.ID).
			Int("cachedKeys", len(snap.Record)+len(snap.Session)).
			Msg("Cache snapshot overlaid onto remote state")
	}
	return nil
}

// createNew captures the visitor fingerprint (best-effort, bounded; an
// empty visitor beats blocking wizard entry), creates the record and its
// first session, and persists the resume pointer.
func (e *Engine) createNew(ctx context.Context) error {
	visitorMeta := e.collector.Collect(ctx)

	rec := &store.Record{
		Status:      store.StatusDraft,
		CurrentStep: 1,
		Metadata: store.Metadata{
			Visitor: visitorMeta,
			Performance: store.Performance{
				StartTime: e.sessionStart.UTC().Format(time.RFC3339),
			},
		},
	}
	if err := e.store.CreateRecord(ctx, rec); err != nil {
		return err
	}
	e.record = rec
	e.currentStep = 1

	if err := cache.SetCurrentRecordID(e.kv, rec.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to persist record pointer")
	}

	sess, err := e.store.CreateSession(ctx, rec.ID, visitorMeta)
	if err != nil {
		return err
	}
	e.sessionID = sess.ID
	e.sessionAnswers = answer.Set{}
	return nil
}

// recordColumnAnswers maps the record's fixed columns back into the record
// answer partition. Empty columns stay absent; absence means unanswered.
func recordColumnAnswers(rec *store.Record) answer.Set {
	out := answer.Set{}
	if rec.CompanyName != "" {
		out["company_name"] = answer.String(rec.CompanyName)
	}
	if rec.StakeholderEmail != "" {
		out["stakeholder_email"] = answer.String(rec.StakeholderEmail)
	}
	if len(rec.FacilityDocs) > 0 {
		out["facility_documentation"] = answer.StringList(rec.FacilityDocs...)
	}
	if len(rec.FinancialDocs) > 0 {
		out["financial_documentation"] = answer.StringList(rec.FinancialDocs...)
	}
	return out
}

// --- Read-only surface ---

// State returns the lifecycle phase.
func (e *Engine) State() State { return e.state }

// Record returns the cached record descriptor (nil before creation).
func (e *Engine) Record() *store.Record { return e.record }

// SessionID returns the current answer session id.
func (e *Engine) SessionID() string { return e.sessionID }

// IsSaving reports whether a remote persistence operation is in flight.
func (e *Engine) IsSaving() bool { return e.isSaving }

// LastSaved returns the time of the last successful cache write (zero if
// never saved).
func (e *Engine) LastSaved() time.Time { return e.lastSaved }

// CurrentStep returns the 1-based step pointer.
func (e *Engine) CurrentStep() int { return e.currentStep }

func (e *Engine) recordID() string {
	if e.record == nil {
		return ""
	}
	return e.record.ID
}

// --- Navigation ---

// NextStep advances the step pointer, clamped to the last step.
func (e *Engine) NextStep() {
	if e.currentStep < e.wizard.StepCount() {
		e.currentStep++
	}
}

// PrevStep moves the step pointer back, clamped to the first step.
func (e *Engine) PrevStep() {
	if e.currentStep > 1 {
		e.currentStep--
	}
}

// GoToStep jumps to a step; out-of-range targets are ignored.
func (e *Engine) GoToStep(step int) {
	if step >= 1 && step <= e.wizard.StepCount() {
		e.currentStep = step
	}
}
