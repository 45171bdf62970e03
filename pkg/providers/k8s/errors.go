package k8s

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// promQueryPaths are the Prometheus endpoints the client may POST form
// queries to.
var promQueryPaths = []string{"/api/v1/query", "/api/v1/query_range"}

var errThrottled = errors.New("server throttled the request")

// readOnlyTransport refuses any request that is not a read, underneath the
// guard's call-level check. Watches are GETs. POSTs are allowed only to the
// listed path suffixes.
type readOnlyTransport struct {
	base  http.RoundTripper
	posts []string
}

func (t *readOnlyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.read(req) {
		return nil, &model.SafetyViolation{
			Provider: model.ProviderKubernetes,
			Call:     req.Method + " " + req.URL.Path,
			Reason:   "HTTP method is not a read",
		}
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil || t.posts == nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	resp.Body.Close()
	return nil, errThrottled
}

func (t *readOnlyTransport) read(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		return true
	case http.MethodPost:
		for _, p := range t.posts {
			if strings.HasSuffix(req.URL.Path, p) {
				return true
			}
		}
	}
	return false
}

// classify maps API server and Prometheus failures onto the engine's typed
// errors. Anything unrecognized passes through.
func classify(ctx context.Context, call string, err error) error {
	if err == nil || model.IsSafetyViolation(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	scope := safety.ScopeFrom(ctx)
	switch {
	case errors.Is(err, errThrottled), apierrors.IsTooManyRequests(err):
		return &model.RateLimitError{Provider: model.ProviderKubernetes, Account: scope.AccountID, Region: scope.Region, Call: call, Attempts: 1, Err: err}
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return &model.ProviderAuthError{Provider: model.ProviderKubernetes, Account: scope.AccountID, Region: scope.Region, Err: err}
	}
	return err
}

func fatal(err error) bool {
	var rl *model.RateLimitError
	return errors.As(err, &rl) || model.IsSafetyViolation(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
