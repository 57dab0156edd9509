package observability

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// CorrelationHeader is the single fixed propagation header name (§4.12);
// extraction is case-insensitive since net/http.Header already normalizes
// header lookups, but callers reading raw maps must canonicalize first.
const CorrelationHeader = "X-Correlation-Id"

// Correlation ties a chain of contexts back to the job that originated
// them. Every admitted job gets a fresh version-4 ID; derived contexts
// increment Depth and preserve Parent (§4.12).
type Correlation struct {
	ID     string
	Parent string
	Depth  int
}

// NewCorrelation mints a root correlation for a freshly admitted job.
func NewCorrelation() Correlation {
	return Correlation{ID: uuid.New().String(), Depth: 0}
}

// Child derives a correlation for work spawned from c, preserving c's ID
// as Parent and incrementing Depth.
func (c Correlation) Child() Correlation {
	return Correlation{ID: uuid.New().String(), Parent: c.ID, Depth: c.Depth + 1}
}

type correlationContextKey struct{}

// ContextWithCorrelation attaches a Correlation to ctx.
func ContextWithCorrelation(ctx context.Context, c Correlation) context.Context {
	if ctx == nil {
		return ctx
	}
	return context.WithValue(ctx, correlationContextKey{}, c)
}

// CorrelationFromContext returns the Correlation stored in ctx, or a fresh
// root Correlation when none is present.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx != nil {
		if v := ctx.Value(correlationContextKey{}); v != nil {
			if c, ok := v.(Correlation); ok {
				return c
			}
		}
	}
	return NewCorrelation()
}

// ExtractCorrelationHeader reads CorrelationHeader from an inbound request,
// case-insensitively (http.Header.Get already canonicalizes).
func ExtractCorrelationHeader(h http.Header) string {
	return strings.TrimSpace(h.Get(CorrelationHeader))
}

// SetCorrelationHeader writes the correlation id onto an outbound request.
func SetCorrelationHeader(h http.Header, id string) {
	h.Set(CorrelationHeader, id)
}
