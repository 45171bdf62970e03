package safety

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Scope identifies who a guarded call is made for.
type Scope struct {
	ScanID    string
	AccountID string
	Provider  string
	Region    string
}

type scopeKey struct{}

// WithScope attaches s to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope attached to ctx, or the zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

// WithRegion narrows the scope in ctx to region.
func WithRegion(ctx context.Context, region string) context.Context {
	s := ScopeFrom(ctx)
	s.Region = region
	return WithScope(ctx, s)
}

// CallDescriptor names one provider API call.
type CallDescriptor struct {
	Provider  string
	Service   string
	Operation string
	Params    map[string]string
}

// Call builds a descriptor.
func Call(provider, service, operation string) CallDescriptor {
	return CallDescriptor{Provider: provider, Service: service, Operation: operation}
}

// With returns a copy carrying an extra parameter for the audit digest.
func (c CallDescriptor) With(key, value string) CallDescriptor {
	params := make(map[string]string, len(c.Params)+1)
	for k, v := range c.Params {
		params[k] = v
	}
	params[key] = value
	c.Params = params
	return c
}

// Name renders "service:Operation".
func (c CallDescriptor) Name() string {
	return c.Service + ":" + c.Operation
}

// Digest is the sha256 of the canonical sorted params.
func (c CallDescriptor) Digest() string {
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c.Params[k])
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
