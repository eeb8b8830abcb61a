package runlog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

func TestStore_StartPersistsDefaults(t *testing.T) {
	mock := &mockDynamo{}
	store := NewStore(mock, "pipeline_runs", logging.Discard())

	run := &RunRecord{
		RunID:         "run-123",
		AppointmentID: "appt-1",
		Stage:         "documents",
		Trigger:       "file_inserted",
	}
	if err := store.Start(context.Background(), run); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if mock.putInput == nil {
		t.Fatal("expected PutItem to be called")
	}

	var stored RunRecord
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("failed to unmarshal stored run: %v", err)
	}
	if stored.Status != RunStatusStarted {
		t.Fatalf("expected status started, got %s", stored.Status)
	}
	if stored.AppointmentID != "appt-1" || stored.Stage != "documents" {
		t.Fatalf("unexpected stored run: %#v", stored)
	}
	if stored.CreatedAt == "" || stored.UpdatedAt == "" {
		t.Fatal("expected timestamps to be populated")
	}
	if stored.ExpiresAt <= time.Now().Unix() {
		t.Fatal("expected TTL to be in the future")
	}
	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "attribute_not_exists(runId)" {
		t.Fatalf("expected condition expression to prevent overwrites, got %v", expr)
	}
}

func TestStore_StartValidatesInput(t *testing.T) {
	store := NewStore(&mockDynamo{}, "pipeline_runs", logging.Discard())
	if err := store.Start(context.Background(), nil); err == nil {
		t.Fatal("expected error when run is nil")
	}
	if err := store.Start(context.Background(), &RunRecord{}); err == nil {
		t.Fatal("expected error when run ID is empty")
	}
}

func TestStore_FinishUsesReservedAttributeNames(t *testing.T) {
	mock := &mockDynamo{}
	store := NewStore(mock, "pipeline_runs", logging.Discard())

	result := RunResult{HTTPStatus: 200, SummaryID: "sum-1", Fallback: true}
	if err := store.Finish(context.Background(), "run-123", RunStatusSucceeded, result, ""); err != nil {
		t.Fatalf("Finish returned error: %v", err)
	}
	if len(mock.updateInputs) != 1 {
		t.Fatalf("expected 1 update call, got %d", len(mock.updateInputs))
	}

	update := mock.updateInputs[0]
	names := update.ExpressionAttributeNames
	if names["#status"] != "status" || names["#error"] != "errorMessage" {
		t.Fatalf("expected reserved attribute names to be aliased, got %v", names)
	}
	status := update.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS).Value
	if status != string(RunStatusSucceeded) {
		t.Fatalf("expected succeeded status, got %s", status)
	}
	if _, ok := update.ExpressionAttributeValues[":outcome"].(*types.AttributeValueMemberM); !ok {
		t.Fatalf("expected marshalled outcome attribute, got %T", update.ExpressionAttributeValues[":outcome"])
	}
}

func TestStore_FinishPropagatesError(t *testing.T) {
	mock := &mockDynamo{updateErr: errors.New("dynamo failed")}
	store := NewStore(mock, "pipeline_runs", logging.Discard())

	err := store.Finish(context.Background(), "run-1", RunStatusFailed, RunResult{HTTPStatus: 500}, "boom")
	if err == nil || !strings.Contains(err.Error(), "dynamo failed") {
		t.Fatalf("expected dynamo error, got %v", err)
	}
}

func TestStore_GetRun(t *testing.T) {
	mock := &mockDynamo{
		getOutput: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"runId":         &types.AttributeValueMemberS{Value: "run-42"},
				"appointmentId": &types.AttributeValueMemberS{Value: "appt-9"},
				"status":        &types.AttributeValueMemberS{Value: string(RunStatusConflict)},
			},
		},
	}
	store := NewStore(mock, "pipeline_runs", logging.Discard())

	run, err := store.GetRun(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if run.RunID != "run-42" || run.AppointmentID != "appt-9" || run.Status != RunStatusConflict {
		t.Fatalf("unexpected run result: %#v", run)
	}
}

func TestStore_GetRunNotFound(t *testing.T) {
	store := NewStore(&mockDynamo{getOutput: &dynamodb.GetItemOutput{}}, "pipeline_runs", logging.Discard())

	_, err := store.GetRun(context.Background(), "run-42")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestNewStorePanicsWithoutTable(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for empty table name")
		}
	}()
	NewStore(&mockDynamo{}, "", nil)
}

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	putErr       error
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
	getOutput    *dynamodb.GetItemOutput
	getErr       error
}

func (m *mockDynamo) PutItem(ctx context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = input
	return &dynamodb.PutItemOutput{}, m.putErr
}

func (m *mockDynamo) UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, input)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}
