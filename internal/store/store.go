// Package store provides persistent storage for assessment records and their
// answer sessions. An assessment is split across two logical entities: the
// primary record (identity columns, lifecycle status, step pointer, metadata)
// and a mutable session blob holding the bulk of free-form answers. The
// package uses a single-table DynamoDB design where all items for one
// assessment share a partition key (FORM#{recordId}). Sort keys distinguish
// item types: META for the record, SESSION#{sessionId} for answer sessions.
//
// Updates are last-write-wins: the wizard is a single-operator tool and
// concurrent edits of the same record are an accepted race.
package store

import (
	"context"

	"github.com/verdantiq/facility-assessment/internal/answer"
)

// Status is the record lifecycle state.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPartial  Status = "partial"
	StatusComplete Status = "complete"
)

// VisitorMeta is the device/geo fingerprint captured once at record creation.
// Collection is best-effort; any subset of fields may be empty.
type VisitorMeta struct {
	IPAddress string `json:"ip_address,omitempty" dynamodbav:"ipAddress,omitempty"`
	Country   string `json:"country,omitempty" dynamodbav:"country,omitempty"`
	Region    string `json:"region,omitempty" dynamodbav:"region,omitempty"`
	City      string `json:"city,omitempty" dynamodbav:"city,omitempty"`
	Timezone  string `json:"timezone,omitempty" dynamodbav:"timezone,omitempty"`
	UserAgent string `json:"user_agent,omitempty" dynamodbav:"userAgent,omitempty"`
	Hostname  string `json:"hostname,omitempty" dynamodbav:"hostname,omitempty"`
	Referrer  string `json:"referrer,omitempty" dynamodbav:"referrer,omitempty"`
	SessionID string `json:"session_id,omitempty" dynamodbav:"sessionId,omitempty"`
}

// Performance holds session timing metrics.
type Performance struct {
	StartTime       string           `json:"start_time,omitempty" dynamodbav:"startTime,omitempty"`
	TotalDurationMs int64            `json:"total_duration,omitempty" dynamodbav:"totalDuration,omitempty"`
	StepDurationsMs map[string]int64 `json:"step_durations,omitempty" dynamodbav:"stepDurations,omitempty"`
}

// AssessmentMeta holds progress bookkeeping.
type AssessmentMeta struct {
	RevisionCount        int    `json:"revision_count" dynamodbav:"revisionCount"`
	LastQuestionAnswered string `json:"last_question_answered,omitempty" dynamodbav:"lastQuestionAnswered,omitempty"`
	CompletionPercentage int    `json:"completion_percentage" dynamodbav:"completionPercentage"`
}

// Metadata is the record's nested metadata block. The engine mutates it
// additively on every persistence write; existing keys are preserved, never
// overwritten wholesale.
type Metadata struct {
	Visitor     VisitorMeta    `json:"visitor,omitempty" dynamodbav:"visitor,omitempty"`
	Performance Performance    `json:"performance,omitempty" dynamodbav:"performance,omitempty"`
	Assessment  AssessmentMeta `json:"assessment" dynamodbav:"assessment"`
}

// Record is the primary persisted entity for one assessment attempt
// (DynamoDB SK = META). The fixed answer columns (company name, stakeholder
// email, document URL lists) mirror the record partition of the answer set.
type Record struct {
	ID               string   `json:"id" dynamodbav:"-"`
	CompanyName      string   `json:"company_name,omitempty" dynamodbav:"companyName,omitempty"`
	StakeholderEmail string   `json:"stakeholder_email,omitempty" dynamodbav:"stakeholderEmail,omitempty"`
	FacilityDocs     []string `json:"facility_docs,omitempty" dynamodbav:"facilityDocs,omitempty"`
	FinancialDocs    []string `json:"financial_docs,omitempty" dynamodbav:"financialDocs,omitempty"`
	Status           Status   `json:"completion_status" dynamodbav:"completionStatus"`
	CurrentStep      int      `json:"current_step" dynamodbav:"currentStep"`
	ReportURL        string   `json:"report_url,omitempty" dynamodbav:"reportUrl,omitempty"`
	Metadata         Metadata `json:"metadata" dynamodbav:"metadata"`
	CreatedAt        int64    `json:"created_at" dynamodbav:"createdAt"`
	UpdatedAt        int64    `json:"updated_at" dynamodbav:"updatedAt"`
}

// RecordPatch carries the fields rewritten on every record update. All
// fields are written unconditionally except ReportURL, which is only stored
// when non-nil (it arrives once, at submit).
type RecordPatch struct {
	CompanyName      string
	StakeholderEmail string
	FacilityDocs     []string
	FinancialDocs    []string
	Status           Status
	CurrentStep      int
	Metadata         Metadata
	ReportURL        *string
}

// Session is the secondary persisted entity holding the non-record-column
// answers for a record (DynamoDB SK = SESSION#{sessionId}). Exactly one
// session is "current" at a time; older sessions are retained as history but
// only the most recently updated one is loaded on resume.
type Session struct {
	ID          string      `json:"id"`
	FormID      string      `json:"form_id"`
	Answers     answer.Set  `json:"answers"`
	VisitorMeta VisitorMeta `json:"visitor_metadata"`
	CreatedAt   int64       `json:"created_at"`
	UpdatedAt   int64       `json:"updated_at"`
}

// FormStore is the persistence contract consumed by the form state engine.
// Each method is safe for concurrent use. Get methods return (nil, nil) when
// the requested entity does not exist; all failures come back as wrapped
// errors with enough detail for the caller to log and retry.
type FormStore interface {
	// CreateRecord persists a new record, assigning ID and CreatedAt.
	CreateRecord(ctx context.Context, rec *Record) error

	// GetRecord retrieves a record by id. Returns nil, nil if not found.
	GetRecord(ctx context.Context, recordID string) (*Record, error)

	// UpdateRecord rewrites the record's answer columns, step pointer,
	// status, and metadata.
	UpdateRecord(ctx context.Context, recordID string, patch RecordPatch) error

	// CreateSession creates a fresh, empty answer session for a record.
	CreateSession(ctx context.Context, formID string, visitor VisitorMeta) (*Session, error)

	// LatestSession returns the most recently updated session for a record.
	// Returns nil, nil when the record has no sessions.
	LatestSession(ctx context.Context, formID string) (*Session, error)

	// UpdateSession replaces the session's answer blob.
	UpdateSession(ctx context.Context, formID, sessionID string, answers answer.Set) error
}
