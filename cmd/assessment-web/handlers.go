package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verdantiq/facility-assessment/internal/answer"
	"github.com/verdantiq/facility-assessment/internal/engine"
	"github.com/verdantiq/facility-assessment/internal/schema"
	"github.com/verdantiq/facility-assessment/internal/upload"
	"github.com/verdantiq/facility-assessment/internal/wizard"
)

const maxUploadBytes = 32 << 20

// server serializes all access to the single-writer engine behind one mutex.
// Each handler locks, drives the controller, drains any notifier output into
// the response, and unlocks.
type server struct {
	mu        sync.Mutex
	wiz       *schema.Wizard
	ctrl      *wizard.Controller
	newEngine func() *engine.Engine
	notes     *captureNotifier
}

// captureNotifier accumulates controller signals for the in-flight request.
// It is only touched under server.mu.
type captureNotifier struct {
	highlight string
	warnings  []string
}

func (n *captureNotifier) HighlightQuestion(questionID string) { n.highlight = questionID }
func (n *captureNotifier) Warn(message string)                 { n.warnings = append(n.warnings, message) }

func (n *captureNotifier) drain() (string, []string) {
	h, w := n.highlight, n.warnings
	n.highlight, n.warnings = "", nil
	return h, w
}

func newServer(wiz *schema.Wizard, newEngine func() *engine.Engine, uploader upload.Uploader, buckets wizard.Buckets) *server {
	notes := &captureNotifier{}
	return &server{
		wiz:       wiz,
		ctrl:      wizard.New(wiz, newEngine(), uploader, notes, buckets),
		newEngine: newEngine,
		notes:     notes,
	}
}

// start runs the initial engine bring-up before the listener accepts traffic.
func (s *server) start(ctx context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.Start(ctx, recordID)
}

// statePayload is the full client-visible snapshot returned by most routes.
type statePayload struct {
	Screen         wizard.Screen `json:"screen"`
	RecordID       string        `json:"recordId,omitempty"`
	SessionID      string        `json:"sessionId,omitempty"`
	Status         string        `json:"status,omitempty"`
	CurrentStep    int           `json:"currentStep"`
	StepCount      int           `json:"stepCount"`
	Completion     int           `json:"completion"`
	Answers        answer.Set    `json:"answers"`
	IsSaving       bool          `json:"isSaving"`
	LastSaved      string        `json:"lastSaved,omitempty"`
	UnsavedChanges bool          `json:"unsavedChanges"`
	ReportURL      string        `json:"reportUrl,omitempty"`
	Highlight      string        `json:"highlightQuestion,omitempty"`
	Warnings       []string      `json:"warnings,omitempty"`
	Step           *schema.Step  `json:"step,omitempty"`
}

// buildState must be called with s.mu held.
func (s *server) buildState() statePayload {
	eng := s.ctrl.EngineRef()
	merged := eng.MergedAnswers()

	p := statePayload{
		Screen:         s.ctrl.Screen(),
		SessionID:      eng.SessionID(),
		CurrentStep:    eng.CurrentStep(),
		StepCount:      s.wiz.StepCount(),
		Completion:     answer.CompletionPercent(merged, s.wiz.Flatten()),
		Answers:        merged,
		IsSaving:       eng.IsSaving(),
		UnsavedChanges: s.ctrl.HasUnsavedChanges(),
		Step:           s.wiz.StepAt(eng.CurrentStep()),
	}
	if rec := eng.Record(); rec != nil {
		p.RecordID = rec.ID
		p.Status = string(rec.Status)
		p.ReportURL = rec.ReportURL
	}
	if !eng.LastSaved().IsZero() {
		p.LastSaved = eng.LastSaved().UTC().Format(time.RFC3339)
	}
	p.Highlight, p.Warnings = s.notes.drain()
	return p
}

func (s *server) respondState(w http.ResponseWriter) {
	respondJSON(w, http.StatusOK, s.buildState())
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req struct {
		RecordID string `json:"recordId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctrl.Start(r.Context(), req.RecordID); err != nil {
		log.Warn().Err(err).Msg("Assessment start degraded")
		s.notes.Warn("Could not reach the server; your answers will be kept locally.")
	}
	s.ctrl.Begin()
	s.respondState(w)
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respondState(w)
}

func (s *server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req struct {
		QuestionID string          `json:"questionId"`
		Value      json.RawMessage `json:"value"`
		Context    string          `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.QuestionID == "" {
		httpError(w, http.StatusBadRequest, "questionId is required")
		return
	}

	var v answer.Value
	if len(req.Value) > 0 {
		if err := json.Unmarshal(req.Value, &v); err != nil {
			httpError(w, http.StatusBadRequest, "unsupported value shape")
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctrl.UpdateAnswer(req.QuestionID, v, req.Context); err != nil {
		httpError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.respondState(w)
}

func (s *server) handleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctrl.Next(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Step save failed")
	}
	s.respondState(w)
}

func (s *server) handlePrev(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.Prev()
	s.respondState(w)
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	questionID := r.FormValue("questionId")
	if questionID == "" {
		httpError(w, http.StatusBadRequest, "questionId is required")
		return
	}

	var files []upload.File
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			httpError(w, http.StatusBadRequest, "unreadable file "+fh.Filename)
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			httpError(w, http.StatusBadRequest, "unreadable file "+fh.Filename)
			return
		}
		files = append(files, upload.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     content,
		})
	}
	if len(files) == 0 {
		httpError(w, http.StatusBadRequest, "no files provided")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	results, err := s.ctrl.UploadDocuments(r.Context(), questionID, files)
	if err != nil {
		httpError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	_, warnings := s.notes.drain()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results":  results,
		"warnings": warnings,
	})
}

func (s *server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctrl.ConfirmReview(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Submission degraded")
	}
	s.respondState(w)
}

func (s *server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctrl.Restart(r.Context(), s.newEngine()); err != nil {
		log.Warn().Err(err).Msg("Restart started degraded")
	}
	s.respondState(w)
}
