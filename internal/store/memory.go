package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdantiq/facility-assessment/internal/answer"
)

// MemoryStore is an in-memory FormStore for tests and offline development
// (ASSESSMENT_TABLE unset). Data does not survive process restart.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]*Record
	sessions map[string][]*Session // formID → sessions, oldest first
}

var _ FormStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*Record),
		sessions: make(map[string][]*Session),
	}
}

func (m *MemoryStore) CreateRecord(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = StatusDraft
	}

	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRecord(ctx context.Context, recordID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) UpdateRecord(ctx context.Context, recordID string, patch RecordPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordID]
	if !ok {
		return fmt.Errorf("update record %s: not found", recordID)
	}
	rec.CompanyName = patch.CompanyName
	rec.StakeholderEmail = patch.StakeholderEmail
	rec.FacilityDocs = append([]string(nil), patch.FacilityDocs...)
	rec.FinancialDocs = append([]string(nil), patch.FinancialDocs...)
	rec.Status = patch.Status
	rec.CurrentStep = patch.CurrentStep
	rec.Metadata = patch.Metadata
	if patch.ReportURL != nil {
		rec.ReportURL = *patch.ReportURL
	}
	rec.UpdatedAt = time.Now().Unix()
	return nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, formID string, visitor VisitorMeta) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	sess := &Session{
		ID:          uuid.NewString(),
		FormID:      formID,
		Answers:     answer.Set{},
		VisitorMeta: visitor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.sessions[formID] = append(m.sessions[formID], sess)

	cp := *sess
	cp.Answers = sess.Answers.Clone()
	return &cp, nil
}

func (m *MemoryStore) LatestSession(ctx context.Context, formID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *Session
	for _, sess := range m.sessions[formID] {
		if latest == nil || sess.UpdatedAt >= latest.UpdatedAt {
			latest = sess
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	cp.Answers = latest.Answers.Clone()
	return &cp, nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, formID, sessionID string, answers answer.Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions[formID] {
		if sess.ID == sessionID {
			sess.Answers = answers.Clone()
			sess.UpdatedAt = time.Now().Unix()
			return nil
		}
	}
	return fmt.Errorf("update session %s/%s: not found", formID, sessionID)
}
