package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrTimeout      = errors.New("timeout")
	ErrUpstream     = errors.New("upstream failed")
	ErrTemporary    = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ClassifyFailure names the class of a collaborator failure for logs and metrics.
// It never changes control flow inside the pipeline.
func ClassifyFailure(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.DeadlineExceeded), IsKind(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case IsKind(err, ErrRateLimited):
		return "rate_limited"
	case IsKind(err, ErrTemporary):
		return "temporary"
	case IsKind(err, ErrUpstream):
		return "upstream"
	default:
		return "unknown"
	}
}

const (
	CodeBadRequest     = "BAD_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeTimeout        = "TIMEOUT"
	CodeUpstreamFailed = "UPSTREAM_FAILED"
	CodeInternal       = "INTERNAL"
)

// ErrorCode is the wire code carried by error envelopes.
func ErrorCode(err error) string {
	switch {
	case IsKind(err, ErrInvalidInput):
		return CodeBadRequest
	case IsKind(err, ErrUnauthorized):
		return CodeUnauthorized
	case IsKind(err, ErrRateLimited):
		return CodeRateLimited
	case IsKind(err, ErrTimeout):
		return CodeTimeout
	case IsKind(err, ErrUpstream), IsKind(err, ErrTemporary):
		return CodeUpstreamFailed
	default:
		return CodeInternal
	}
}

// KindForCode reverses ErrorCode for envelopes received from a remote peer.
func KindForCode(code string) error {
	switch code {
	case CodeBadRequest:
		return ErrInvalidInput
	case CodeUnauthorized:
		return ErrUnauthorized
	case CodeRateLimited:
		return ErrRateLimited
	case CodeTimeout:
		return ErrTimeout
	case CodeUpstreamFailed:
		return ErrUpstream
	default:
		return nil
	}
}
