package aws

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

var throttleCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestLimitExceeded":                   true,
	"RequestThrottled":                       true,
	"RequestThrottledException":              true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
	"SlowDown":                               true,
	"PriorRequestNotComplete":                true,
	"LimitExceededException":                 true,
}

var authCodes = map[string]bool{
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"UnauthorizedOperation":       true,
	"AuthFailure":                 true,
	"InvalidClientTokenId":        true,
	"ExpiredToken":                true,
	"ExpiredTokenException":       true,
	"UnrecognizedClientException": true,
	"SignatureDoesNotMatch":       true,
	"InvalidAccessKeyId":          true,
	"OptInRequired":               true,
}

// classify maps SDK errors onto the typed errors the engine acts on:
// throttling becomes a retryable RateLimitError and credential failures a
// ProviderAuthError. Everything else passes through unchanged.
func classify(ctx context.Context, call string, err error) error {
	if err == nil || model.IsSafetyViolation(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	scope := safety.ScopeFrom(ctx)

	code := ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	status := 0
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	switch {
	case throttleCodes[code] || status == http.StatusTooManyRequests:
		return &model.RateLimitError{Provider: model.ProviderAWS, Account: scope.AccountID, Region: scope.Region, Call: call, Attempts: 1, Err: err}
	case authCodes[code] || (code == "" && (status == http.StatusUnauthorized || status == http.StatusForbidden)):
		return &model.ProviderAuthError{Provider: model.ProviderAWS, Account: scope.AccountID, Region: scope.Region, Err: err}
	}
	return err
}
