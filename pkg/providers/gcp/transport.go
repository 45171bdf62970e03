package gcp

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/version"
)

// readOnlyTransport refuses any request that is not a read, underneath the
// guard's call-level check. BigQuery query jobs are the only POSTs allowed.
type readOnlyTransport struct {
	base http.RoundTripper
}

func (t *readOnlyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !readRequest(req) {
		return nil, &model.SafetyViolation{
			Provider: model.ProviderGCP,
			Call:     req.Method + " " + req.URL.Path,
			Reason:   "HTTP method is not a read",
		}
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", strings.TrimSpace(req.Header.Get("User-Agent")+" cloudmind/"+version.Current))
	return t.base.RoundTrip(req)
}

func readRequest(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		return true
	case http.MethodPost:
		p := req.URL.Path
		return strings.HasPrefix(p, "/bigquery/v2/projects/") &&
			(strings.HasSuffix(p, "/queries") || strings.HasSuffix(p, "/jobs"))
	}
	return false
}

// classify maps googleapi and oauth2 failures onto the engine's typed errors.
// Anything unrecognized passes through.
func classify(ctx context.Context, call string, err error) error {
	if err == nil || model.IsSafetyViolation(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	scope := safety.ScopeFrom(ctx)

	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		return &model.ProviderAuthError{Provider: model.ProviderGCP, Account: scope.AccountID, Region: scope.Region, Err: err}
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests || rateLimited(apiErr):
		return &model.RateLimitError{Provider: model.ProviderGCP, Account: scope.AccountID, Region: scope.Region, Call: call, Attempts: 1, Err: err}
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return &model.ProviderAuthError{Provider: model.ProviderGCP, Account: scope.AccountID, Region: scope.Region, Err: err}
	}
	return err
}

// rateLimited spots quota errors GCP reports as 403.
func rateLimited(e *googleapi.Error) bool {
	for _, item := range e.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}
