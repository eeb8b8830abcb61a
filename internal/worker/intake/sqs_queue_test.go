package intake

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinical-intake-pipeline/internal/pipeline"
)

type fakeSQS struct {
	sent     *sqs.SendMessageInput
	received *sqs.ReceiveMessageInput
	deleted  []string
	messages []types.Message
	err      error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = params
	return &sqs.SendMessageOutput{}, f.err
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.received = params
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, f.err
}

func TestSQSQueueSendTagsRoute(t *testing.T) {
	api := &fakeSQS{}
	q := newSQSQueue(api, "https://sqs.local/intake")

	require.NoError(t, q.Enqueue(context.Background(), pipeline.RouteSummary, []byte(`{"appointment_id":"a"}`)))

	require.NotNil(t, api.sent)
	assert.Equal(t, "https://sqs.local/intake", aws.ToString(api.sent.QueueUrl))
	assert.Equal(t, `{"appointment_id":"a"}`, aws.ToString(api.sent.MessageBody))
	assert.Equal(t, "summary", aws.ToString(api.sent.MessageAttributes[routeAttribute].StringValue))
}

func TestSQSQueueReceiveReadsRoute(t *testing.T) {
	api := &fakeSQS{messages: []types.Message{
		{
			MessageId:     aws.String("m1"),
			Body:          aws.String("{}"),
			ReceiptHandle: aws.String("rh-1"),
			MessageAttributes: map[string]types.MessageAttributeValue{
				routeAttribute: {DataType: aws.String("String"), StringValue: aws.String("summary")},
			},
		},
		{MessageId: aws.String("m2"), Body: aws.String("{}"), ReceiptHandle: aws.String("rh-2")},
	}}
	q := newSQSQueue(api, "https://sqs.local/intake")

	msgs, err := q.Receive(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, pipeline.RouteSummary, msgs[0].Route)
	assert.Equal(t, pipeline.RouteFiles, msgs[1].Route)
	assert.Equal(t, int32(20), api.received.WaitTimeSeconds)
	assert.Equal(t, []string{routeAttribute}, api.received.MessageAttributeNames)
}

func TestSQSQueueDelete(t *testing.T) {
	api := &fakeSQS{}
	q := newSQSQueue(api, "https://sqs.local/intake")

	require.NoError(t, q.Delete(context.Background(), ""))
	assert.Empty(t, api.deleted)

	require.NoError(t, q.Delete(context.Background(), "rh-1"))
	assert.Equal(t, []string{"rh-1"}, api.deleted)

	api.err = errors.New("access denied")
	err := q.Delete(context.Background(), "rh-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intake: failed to delete SQS message")
}

func TestNewSQSQueueValidates(t *testing.T) {
	assert.Panics(t, func() { NewSQSQueue(nil, "url") })
	assert.Panics(t, func() { newSQSQueue(&fakeSQS{}, "") })
}
