package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FailureSide says which hop of an origin fetch failed. The resolver is the
// service that turns a page URL into a direct media URL; the origin is the
// host serving the binary.
type FailureSide string

const (
	SideResolver FailureSide = "resolver"
	SideOrigin   FailureSide = "origin"
)

type InvalidInputError struct{ Message string }

func (e *InvalidInputError) Error() string { return e.Message }

type UpstreamAuthError struct {
	Side    FailureSide
	Message string
}

func (e *UpstreamAuthError) Error() string {
	return fmt.Sprintf("%s denied access: %s", e.Side, e.Message)
}

type UpstreamRateLimitedError struct {
	Side       FailureSide
	Message    string
	RetryAfter time.Duration
}

func (e *UpstreamRateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited: %s", e.Side, e.Message)
}

type UpstreamNotFoundError struct {
	Side    FailureSide
	Message string
}

func (e *UpstreamNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Side, e.Message)
}

type UpstreamTimeoutError struct {
	Message string
	Budget  time.Duration
}

func (e *UpstreamTimeoutError) Error() string {
	if e.Budget > 0 {
		return fmt.Sprintf("timed out after %s: %s", e.Budget, e.Message)
	}
	return "timed out: " + e.Message
}

type UnsupportedMediaError struct{ Message string }

func (e *UnsupportedMediaError) Error() string { return "unsupported media: " + e.Message }

type TranscodeError struct {
	Message string
	NoAudio bool
	Err     error
}

func (e *TranscodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcode failed: %s: %v", e.Message, e.Err)
	}
	return "transcode failed: " + e.Message
}

func (e *TranscodeError) Unwrap() error { return e.Err }

type StorageWriteError struct {
	Key       string
	Message   string
	Transient bool
	Err       error
}

func (e *StorageWriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage write %s: %s: %v", e.Key, e.Message, e.Err)
	}
	return fmt.Sprintf("storage write %s: %s", e.Key, e.Message)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// Recoverable reports whether the caller may reasonably retry the same
// request later. Resolver rate limits and timeouts are recoverable; blocks at
// the binary host need an operator.
func Recoverable(err error) bool {
	var (
		invalid     *InvalidInputError
		auth        *UpstreamAuthError
		limited     *UpstreamRateLimitedError
		notFound    *UpstreamNotFoundError
		timeout     *UpstreamTimeoutError
		unsupported *UnsupportedMediaError
		transcode   *TranscodeError
		storage     *StorageWriteError
	)
	switch {
	case errors.As(err, &invalid), errors.As(err, &auth), errors.As(err, &notFound), errors.As(err, &unsupported):
		return false
	case errors.As(err, &limited):
		return limited.Side == SideResolver
	case errors.As(err, &timeout):
		return true
	case errors.As(err, &transcode):
		return !transcode.NoAudio
	case errors.As(err, &storage):
		return storage.Transient
	case errors.Is(err, context.Canceled):
		return true
	default:
		// network hiccups and unclassified upstream failures
		return true
	}
}

// classifyStatus maps an HTTP status from either hop onto the taxonomy.
// A 403 is treated as a rate limit when the body or headers say so; hosts
// and resolvers commonly use 403 for quota exhaustion.
func classifyStatus(side FailureSide, status int, retryAfter, body string) error {
	msg := fmt.Sprintf("HTTP %d", status)
	if snippet := strings.TrimSpace(body); snippet != "" {
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		msg += ": " + snippet
	}

	switch {
	case status == 429:
		return &UpstreamRateLimitedError{Side: side, Message: msg, RetryAfter: parseRetryAfter(retryAfter)}
	case status == 401 || status == 403:
		if retryAfter != "" || mentionsRateLimit(body) {
			return &UpstreamRateLimitedError{Side: side, Message: msg, RetryAfter: parseRetryAfter(retryAfter)}
		}
		return &UpstreamAuthError{Side: side, Message: msg}
	case status == 404 || status == 410:
		return &UpstreamNotFoundError{Side: side, Message: msg}
	case status == 415:
		return &UnsupportedMediaError{Message: msg}
	case status == 408 || status == 504:
		return &UpstreamTimeoutError{Message: fmt.Sprintf("%s %s", side, msg)}
	default:
		return fmt.Errorf("%s returned %s", side, msg)
	}
}

// classifyMessage maps free-form extractor output (yt-dlp stderr, library
// errors) onto the taxonomy. Returns nil when nothing matches.
func classifyMessage(side FailureSide, message string) error {
	lower := strings.ToLower(message)
	switch {
	case mentionsStatus(lower, 429) || mentionsRateLimit(lower):
		return &UpstreamRateLimitedError{Side: side, Message: message}
	case mentionsStatus(lower, 403) || mentionsStatus(lower, 401) || strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "sign in to confirm") || strings.Contains(lower, "login required"):
		return &UpstreamAuthError{Side: side, Message: message}
	case mentionsStatus(lower, 404) || strings.Contains(lower, "not found") ||
		strings.Contains(lower, "video unavailable") || strings.Contains(lower, "private video") ||
		strings.Contains(lower, "has been removed"):
		return &UpstreamNotFoundError{Side: side, Message: message}
	case strings.Contains(lower, "unsupported url") || strings.Contains(lower, "no video formats") ||
		strings.Contains(lower, "requested format is not available"):
		return &UnsupportedMediaError{Message: message}
	case strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout"):
		return &UpstreamTimeoutError{Message: message}
	}
	return nil
}

// mentionsStatus matches the status phrasing used by yt-dlp ("HTTP Error 403")
// and Go HTTP clients ("status code: 403", "status 403").
func mentionsStatus(lower string, status int) bool {
	code := fmt.Sprint(status)
	for _, prefix := range []string{"http error ", "status code: ", "status code ", "status "} {
		if strings.Contains(lower, prefix+code) {
			return true
		}
	}
	return false
}

func mentionsRateLimit(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate-limit") ||
		strings.Contains(lower, "ratelimit") || strings.Contains(lower, "quota") ||
		strings.Contains(lower, "too many requests")
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// timeoutOr converts a deadline expiry on ctx into UpstreamTimeoutError and
// otherwise returns err unchanged.
func timeoutOr(ctx context.Context, err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamTimeoutError{Message: what}
	}
	return err
}
