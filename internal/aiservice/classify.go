package aiservice

import (
	"context"
	"errors"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
)

// Classify maps a transport error into the pipeline's upstream taxonomy. Only a
// service-unavailable response counts as overloaded. Context cancellation passes through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var overloaded *intake.UpstreamOverloadedError
	var protocol *intake.UpstreamProtocolError
	if errors.As(err, &overloaded) || errors.As(err, &protocol) {
		return err
	}

	code := statusCode(err)
	if code == http.StatusServiceUnavailable || isBedrockOverload(err) {
		if code == 0 {
			code = http.StatusServiceUnavailable
		}
		return &intake.UpstreamOverloadedError{StatusCode: code, Err: err}
	}
	return &intake.UpstreamProtocolError{StatusCode: code, Err: err}
}

func statusCode(err error) int {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.HTTPCode(); code > 0 {
			return code
		}
		if st := apiErr.GRPCStatus(); st != nil && st.Code() == codes.Unavailable {
			return http.StatusServiceUnavailable
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

func isBedrockOverload(err error) bool {
	var unavailable *brtypes.ServiceUnavailableException
	var throttled *brtypes.ThrottlingException
	var notReady *brtypes.ModelNotReadyException
	return errors.As(err, &unavailable) || errors.As(err, &throttled) || errors.As(err, &notReady)
}
