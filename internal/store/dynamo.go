package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/verdantiq/facility-assessment/internal/answer"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix  = "FORM#"
	skMeta    = "META"
	skSession = "SESSION#"
)

// DynamoStore implements FormStore using AWS DynamoDB.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// Compile-time interface check.
var _ FormStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// --- Internal helpers ---

// formPK returns the partition key for a record.
func formPK(recordID string) string {
	return pkPrefix + recordID
}

// sessionItem is the DynamoDB shape of a Session. The answer blob is stored
// as a JSON string attribute so the tagged-variant values survive round trips
// without a custom attributevalue marshaler.
type sessionItem struct {
	AnswersJSON string      `dynamodbav:"answersJson"`
	Visitor     VisitorMeta `dynamodbav:"visitor,omitempty"`
	CreatedAt   int64       `dynamodbav:"createdAt"`
	UpdatedAt   int64       `dynamodbav:"updatedAt"`
}

// putItem marshals a domain object and writes it to DynamoDB with PK and SK.
// The domain object should use dynamodbav:"-" for fields derived from PK/SK.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item from DynamoDB and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// querySessions returns all session items for a record, paginated.
func (s *DynamoStore) querySessions(ctx context.Context, formID string) ([]map[string]types.AttributeValue, error) {
	pk := formPK(formID)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skSession},
		},
	}

	var allItems []map[string]types.AttributeValue

	// Handle pagination; DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skSession, err)
		}
		allItems = append(allItems, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return allItems, nil
}

// --- Record operations ---

func (s *DynamoStore) CreateRecord(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = StatusDraft
	}

	if err := s.putItem(ctx, formPK(rec.ID), skMeta, rec); err != nil {
		return fmt.Errorf("create record %s: %w", rec.ID, err)
	}

	log.Debug().Str("recordId", rec.ID).Str("status", string(rec.Status)).Msg("Record created in DynamoDB")
	return nil
}

func (s *DynamoStore) GetRecord(ctx context.Context, recordID string) (*Record, error) {
	var rec Record
	found, err := s.getItem(ctx, formPK(recordID), skMeta, &rec)
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", recordID, err)
	}
	if !found {
		return nil, nil
	}

	rec.ID = recordID
	return &rec, nil
}

func (s *DynamoStore) UpdateRecord(ctx context.Context, recordID string, patch RecordPatch) error {
	metaAV, err := attributevalue.Marshal(patch.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", recordID, err)
	}
	facilityAV, err := attributevalue.Marshal(patch.FacilityDocs)
	if err != nil {
		return fmt.Errorf("marshal facility docs for %s: %w", recordID, err)
	}
	financialAV, err := attributevalue.Marshal(patch.FinancialDocs)
	if err != nil {
		return fmt.Errorf("marshal financial docs for %s: %w", recordID, err)
	}

	expr := "SET companyName = :cn, stakeholderEmail = :se, facilityDocs = :fd, financialDocs = :nd, completionStatus = :st, currentStep = :cs, metadata = :md, updatedAt = :ua"
	values := map[string]types.AttributeValue{
		":cn": &types.AttributeValueMemberS{Value: patch.CompanyName},
		":se": &types.AttributeValueMemberS{Value: patch.StakeholderEmail},
		":fd": facilityAV,
		":nd": financialAV,
		":st": &types.AttributeValueMemberS{Value: string(patch.Status)},
		":cs": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", patch.CurrentStep)},
		":md": metaAV,
		":ua": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Unix())},
	}
	if patch.ReportURL != nil {
		expr += ", reportUrl = :ru"
		values[":ru"] = &types.AttributeValueMemberS{Value: *patch.ReportURL}
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: formPK(recordID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("update record %s: %w", recordID, err)
	}

	log.Debug().
		Str("recordId", recordID).
		Str("status", string(patch.Status)).
		Int("step", patch.CurrentStep).
		Int("completion", patch.Metadata.Assessment.CompletionPercentage).
		Msg("Record updated")
	return nil
}

// --- Session operations ---

func (s *DynamoStore) CreateSession(ctx context.Context, formID string, visitor VisitorMeta) (*Session, error) {
	now := time.Now().Unix()
	sess := &Session{
		ID:          uuid.NewString(),
		FormID:      formID,
		Answers:     answer.Set{},
		VisitorMeta: visitor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	item := sessionItem{
		AnswersJSON: "{}",
		Visitor:     visitor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.putItem(ctx, formPK(formID), skSession+sess.ID, item); err != nil {
		return nil, fmt.Errorf("create session for %s: %w", formID, err)
	}

	log.Debug().Str("recordId", formID).Str("sessionId", sess.ID).Msg("Session created in DynamoDB")
	return sess, nil
}

func (s *DynamoStore) LatestSession(ctx context.Context, formID string) (*Session, error) {
	items, err := s.querySessions(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("latest session for %s: %w", formID, err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	var latest *Session
	for _, item := range items {
		var raw sessionItem
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			log.Warn().Err(err).Str("recordId", formID).Msg("Failed to unmarshal session item, skipping")
			continue
		}

		sess := &Session{
			FormID:      formID,
			VisitorMeta: raw.Visitor,
			CreatedAt:   raw.CreatedAt,
			UpdatedAt:   raw.UpdatedAt,
		}
		// Extract session ID from SK: "SESSION#abc" → "abc"
		if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
			sess.ID = strings.TrimPrefix(skAttr.Value, skSession)
		}
		if raw.AnswersJSON != "" {
			if err := json.Unmarshal([]byte(raw.AnswersJSON), &sess.Answers); err != nil {
				log.Warn().Err(err).Str("sessionId", sess.ID).Msg("Corrupt session answer blob, skipping")
				continue
			}
		}
		if sess.Answers == nil {
			sess.Answers = answer.Set{}
		}

		if latest == nil || sess.UpdatedAt > latest.UpdatedAt {
			latest = sess
		}
	}
	return latest, nil
}

func (s *DynamoStore) UpdateSession(ctx context.Context, formID, sessionID string, answers answer.Set) error {
	blob, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers for session %s: %w", sessionID, err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: formPK(formID)},
			"SK": &types.AttributeValueMemberS{Value: skSession + sessionID},
		},
		UpdateExpression: aws.String("SET answersJson = :a, updatedAt = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":a":  &types.AttributeValueMemberS{Value: string(blob)},
			":ua": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Unix())},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("update session %s/%s: %w", formID, sessionID, err)
	}

	log.Debug().
		Str("recordId", formID).
		Str("sessionId", sessionID).
		Int("answerCount", len(answers)).
		Msg("Session answers persisted")
	return nil
}
