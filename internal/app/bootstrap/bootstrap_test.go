package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/clinical-intake-pipeline/internal/config"
	"github.com/wolfman30/clinical-intake-pipeline/internal/notify"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

func TestBuildRedisClient(t *testing.T) {
	logger := logging.Discard()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, logger, true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	require.NotNil(t, client)
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true))
}

func TestBuildPostgresPoolRequiresURL(t *testing.T) {
	_, err := BuildPostgresPool(context.Background(), &appconfig.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestRetryPolicyFromConfig(t *testing.T) {
	policy := RetryPolicy(&appconfig.Config{SummaryMaxAttempts: 5, SummaryBaseDelay: 200 * time.Millisecond})
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, policy.BaseDelay)
	assert.NotNil(t, policy.Classify)

	defaults := RetryPolicy(&appconfig.Config{})
	assert.Equal(t, 3, defaults.MaxAttempts)
	assert.Equal(t, time.Second, defaults.BaseDelay)
}

func TestBuildAIServicesValidatesProvider(t *testing.T) {
	_, err := BuildAIServices(context.Background(), &appconfig.Config{SummaryProvider: "openai"}, aws.Config{}, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported SUMMARY_PROVIDER")

	_, err = BuildAIServices(context.Background(), &appconfig.Config{SummaryProvider: "bedrock"}, aws.Config{}, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BEDROCK_MODEL_ID")

	_, err = BuildAIServices(context.Background(), &appconfig.Config{SummaryProvider: "gemini"}, aws.Config{}, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini api key is required")
}

func TestBuildEmailSenderSelection(t *testing.T) {
	logger := logging.Discard()

	_, ok := BuildEmailSender(&appconfig.Config{}, aws.Config{}, logger).(*notify.LogSender)
	assert.True(t, ok, "expected log sender without provider config")

	_, ok = BuildEmailSender(&appconfig.Config{SendGridAPIKey: "SG.key", SendGridFromEmail: "noreply@clinic.test"}, aws.Config{}, logger).(*notify.SendGridSender)
	assert.True(t, ok, "expected sendgrid sender")

	_, ok = BuildEmailSender(&appconfig.Config{SESFromEmail: "noreply@clinic.test"}, aws.Config{Region: "us-east-1"}, logger).(*notify.SESSender)
	assert.True(t, ok, "expected ses sender")
}

func TestBuildIntakeQueueRequiresURL(t *testing.T) {
	_, err := BuildIntakeQueue(&appconfig.Config{}, aws.Config{})
	require.Error(t, err)

	q, err := BuildIntakeQueue(&appconfig.Config{IntakeQueueURL: "http://localhost:4566/000000000000/intake"}, aws.Config{Region: "us-east-1"})
	require.NoError(t, err)
	assert.NotNil(t, q)
}

func TestBuildReviewNotifierWithoutRecipientsIsQuiet(t *testing.T) {
	n := BuildReviewNotifier(&appconfig.Config{DisclaimerLevel: "short", DisclaimerEnabled: true}, notify.NewLogSender(logging.Discard()), logging.Discard())
	require.NotNil(t, n)
	assert.NoError(t, n.NotifyReviewNeeded(context.Background(), notify.ReviewAlert{AppointmentID: "appt-1"}))
}
