// Package statusparser turns a raw remote poll response into a
// domain.RemoteJobStatus (§4.4). There is no direct teacher analogue for
// this shape; it follows the teacher's defensive, no-panic parsing style
// seen throughout internal/adapter/ai/real/client.go's response handling.
package statusparser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/spriteforge/orchestrator/internal/domain"
)

const defaultRetryAfterSeconds = 5

// RawResponse is the input to Parse: a poll response from the remote API.
type RawResponse struct {
	Status  int
	Headers map[string]string // header lookups are case-insensitive
	Body    map[string]any
}

var progressPattern = regexp.MustCompile(`(\d+)\s*(%|percent)`)

// Parse implements the rules from §4.4.
func Parse(r RawResponse) domain.RemoteJobStatus {
	switch {
	case r.Status == 200:
		return domain.RemoteJobStatus{
			Kind:     domain.RemoteCompleted,
			Artifact: artifactFromBody(r.Body),
		}
	case r.Status == 423:
		return domain.RemoteJobStatus{
			Kind:        domain.RemoteProcessing,
			RetryAfterS: parseRetryAfter(header(r.Headers, "Retry-After")),
			Progress:    extractProgress(r.Body),
		}
	default:
		return domain.RemoteJobStatus{
			Kind:        domain.RemoteFailed,
			FailMessage: failMessage(r.Body),
		}
	}
}

func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func parseRetryAfter(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultRetryAfterSeconds
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultRetryAfterSeconds
	}
	return n
}

func extractProgress(body map[string]any) *int {
	for _, field := range []string{"message", "detail"} {
		if s, ok := body[field].(string); ok {
			if m := progressPattern.FindStringSubmatch(s); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					return &n
				}
			}
		}
	}
	return nil
}

func failMessage(body map[string]any) string {
	if body == nil {
		return "Unknown error"
	}
	if detail, ok := body["detail"].(string); ok && detail != "" {
		return detail
	}
	if list, ok := body["detail"].([]any); ok && len(list) > 0 {
		msgs := make([]string, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				if msg, ok := m["msg"].(string); ok && msg != "" {
					msgs = append(msgs, msg)
				}
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return "Unknown error"
}

func artifactFromBody(body map[string]any) *domain.Artifact {
	if body == nil {
		return &domain.Artifact{}
	}
	a := &domain.Artifact{}
	if id, ok := body["character_id"].(string); ok {
		a.CharacterID = id
	}
	if name, ok := body["name"].(string); ok {
		a.Name = name
	}
	if url, ok := body["download_url"].(string); ok {
		a.DownloadURL = url
	}
	if style, ok := body["style"].(string); ok {
		a.Style = style
	}
	if specs, ok := body["specifications"].(map[string]any); ok {
		a.Specifications = specs
	}
	if rotations, ok := body["rotations"].([]any); ok {
		for _, r := range rotations {
			if m, ok := r.(map[string]any); ok {
				rot := domain.Rotation{}
				if d, ok := m["direction"].(string); ok {
					rot.Direction = d
				}
				if u, ok := m["url"].(string); ok {
					rot.URL = u
				}
				a.Rotations = append(a.Rotations, rot)
			}
		}
	}
	return a
}
