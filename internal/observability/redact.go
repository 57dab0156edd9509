package observability

import (
	"log/slog"
	"strings"
)

// sensitiveKeys are log field names whose values are masked to first-4/
// last-4 rather than logged in full (§4.12, §6).
var sensitiveKeys = map[string]bool{
	"apikey":        true,
	"api_key":       true,
	"authorization": true,
}

const bearerPrefix = "Bearer "

// RedactingReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook that
// masks sensitive fields and inline Bearer tokens to first-4/last-4,
// following the same masking shape as remoteclient.redact.
func RedactingReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		a.Value = slog.StringValue(maskValue(a.Value.String()))
		return a
	}
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); strings.HasPrefix(s, bearerPrefix) {
			token := strings.TrimPrefix(s, bearerPrefix)
			a.Value = slog.StringValue(bearerPrefix + maskValue(token))
		}
	}
	return a
}

func maskValue(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}
