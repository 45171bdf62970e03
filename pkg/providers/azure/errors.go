package azure

import (
	"context"
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// classify maps azcore and azidentity failures onto the engine's typed
// errors. Anything unrecognized passes through.
func classify(ctx context.Context, call string, err error) error {
	if err == nil || model.IsSafetyViolation(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	scope := safety.ScopeFrom(ctx)

	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return &model.ProviderAuthError{Provider: model.ProviderAzure, Account: scope.AccountID, Region: scope.Region, Err: err}
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch respErr.StatusCode {
	case http.StatusTooManyRequests:
		return &model.RateLimitError{Provider: model.ProviderAzure, Account: scope.AccountID, Region: scope.Region, Call: call, Attempts: 1, Err: err}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &model.ProviderAuthError{Provider: model.ProviderAzure, Account: scope.AccountID, Region: scope.Region, Err: err}
	}
	return err
}
