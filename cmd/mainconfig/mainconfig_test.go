package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/clinical-intake-pipeline/internal/config"
)

func TestLocalResolverCoversPipelineServices(t *testing.T) {
	resolve := localResolver("http://localhost:4566", "us-east-1")

	ep, err := resolve(sqs.ServiceID, "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4566", ep.URL)
	assert.Equal(t, "us-east-1", ep.SigningRegion)
	assert.False(t, ep.HostnameImmutable)

	ep, err = resolve(s3.ServiceID, "us-east-1")
	require.NoError(t, err)
	assert.True(t, ep.HostnameImmutable)

	_, err = resolve("Kinesis", "us-east-1")
	var notFound *aws.EndpointNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestLoadAWSConfigWithOverride(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "us-west-2",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", awsCfg.Region)
	require.NotNil(t, awsCfg.EndpointResolverWithOptions)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
}
