package aiservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
)

func TestClassifyServiceUnavailableIsOverloaded(t *testing.T) {
	err := Classify(&googleapi.Error{Code: http.StatusServiceUnavailable, Message: "model is overloaded"})
	var overloaded *intake.UpstreamOverloadedError
	assert.True(t, errors.As(err, &overloaded))
	assert.Equal(t, http.StatusServiceUnavailable, overloaded.StatusCode)
	assert.True(t, intake.IsOverloaded(fmt.Errorf("wrapped: %w", err)))
}

func TestClassifyOtherStatusIsProtocol(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusInternalServerError} {
		err := Classify(&googleapi.Error{Code: code})
		var protocol *intake.UpstreamProtocolError
		assert.True(t, errors.As(err, &protocol), "code %d", code)
		assert.Equal(t, code, protocol.StatusCode)
	}
}

func TestClassifyBedrockThrottling(t *testing.T) {
	err := Classify(&brtypes.ThrottlingException{Message: stringPtr("slow down")})
	assert.True(t, intake.IsOverloaded(err))

	err = Classify(&brtypes.ValidationException{Message: stringPtr("bad input")})
	assert.False(t, intake.IsOverloaded(err))
}

func TestClassifyPassesThroughContextAndClassified(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.ErrorIs(t, Classify(context.Canceled), context.Canceled)

	already := &intake.UpstreamOverloadedError{StatusCode: 503, Err: errors.New("busy")}
	assert.Same(t, already, Classify(already))

	var protocol *intake.UpstreamProtocolError
	assert.True(t, errors.As(Classify(errors.New("connection reset")), &protocol))
	assert.Equal(t, 0, protocol.StatusCode)
}

func stringPtr(s string) *string { return &s }
