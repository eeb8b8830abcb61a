// Package runlog keeps a short-lived record of every pipeline invocation in DynamoDB
// so operators can see what each delivery did without digging through logs.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

const (
	runTTL = 7 * 24 * time.Hour
)

// RunStatus represents the lifecycle of one pipeline invocation.
type RunStatus string

const (
	RunStatusStarted   RunStatus = "started"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusConflict  RunStatus = "conflict"
	RunStatusSkipped   RunStatus = "skipped"
	RunStatusFailed    RunStatus = "failed"
)

// ErrRunNotFound indicates the requested run ID does not exist.
var ErrRunNotFound = errors.New("runlog: run not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// RunRecord captures one delivery of a change notification or admin command.
type RunRecord struct {
	RunID         string     `dynamodbav:"runId" json:"runId"`
	AppointmentID string     `dynamodbav:"appointmentId" json:"appointmentId"`
	Stage         string     `dynamodbav:"stage" json:"stage"`
	Trigger       string     `dynamodbav:"trigger" json:"trigger"`
	RequestID     string     `dynamodbav:"requestId,omitempty" json:"requestId,omitempty"`
	Status        RunStatus  `dynamodbav:"status" json:"status"`
	Outcome       *RunResult `dynamodbav:"outcome,omitempty" json:"outcome,omitempty"`
	ErrorMessage  string     `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt     string     `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt     string     `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt     int64      `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// RunResult is the stage-specific part of a finished run.
type RunResult struct {
	HTTPStatus     int    `dynamodbav:"httpStatus" json:"httpStatus"`
	Message        string `dynamodbav:"message,omitempty" json:"message,omitempty"`
	FilesTotal     int    `dynamodbav:"filesTotal,omitempty" json:"filesTotal,omitempty"`
	FilesSucceeded int    `dynamodbav:"filesSucceeded,omitempty" json:"filesSucceeded,omitempty"`
	FilesFailed    int    `dynamodbav:"filesFailed,omitempty" json:"filesFailed,omitempty"`
	SummaryID      string `dynamodbav:"summaryId,omitempty" json:"summaryId,omitempty"`
	Fallback       bool   `dynamodbav:"fallback,omitempty" json:"fallback,omitempty"`
}

// Store persists run records to DynamoDB.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

// NewStore builds a store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("runlog: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("runlog: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Store{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

// Start inserts a new started run record. A run ID is never overwritten.
func (s *Store) Start(ctx context.Context, run *RunRecord) error {
	if run == nil {
		return errors.New("runlog: run cannot be nil")
	}
	if run.RunID == "" {
		return errors.New("runlog: runID required")
	}
	now := s.now().UTC()
	run.Status = RunStatusStarted
	run.CreatedAt = now.Format(time.RFC3339Nano)
	run.UpdatedAt = run.CreatedAt
	if run.ExpiresAt == 0 {
		run.ExpiresAt = now.Add(runTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("runlog: failed to marshal run: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(runId)"),
	})
	if err != nil {
		return fmt.Errorf("runlog: failed to persist run: %w", err)
	}
	return nil
}

// Finish records the final status of a run.
func (s *Store) Finish(ctx context.Context, runID string, status RunStatus, result RunResult, errMsg string) error {
	if runID == "" {
		return errors.New("runlog: runID required")
	}
	resultAttr, err := attributevalue.Marshal(result)
	if err != nil {
		return fmt.Errorf("runlog: failed to marshal outcome: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"runId": &types.AttributeValueMemberS{Value: runID},
		},
		UpdateExpression: aws.String("SET #status = :status, #outcome = :outcome, #error = :error, #updated = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#status":  "status",
			"#outcome": "outcome",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(status)},
			":outcome": resultAttr,
			":error":   &types.AttributeValueMemberS{Value: errMsg},
			":updated": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(runId)"),
	})
	if err != nil {
		return fmt.Errorf("runlog: failed to update run %s: %w", runID, err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, errors.New("runlog: runID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"runId": &types.AttributeValueMemberS{Value: runID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("runlog: failed to fetch run: %w", err)
	}
	if out.Item == nil {
		return nil, ErrRunNotFound
	}

	var run RunRecord
	if err := attributevalue.UnmarshalMap(out.Item, &run); err != nil {
		return nil, fmt.Errorf("runlog: failed to decode run: %w", err)
	}
	return &run, nil
}
