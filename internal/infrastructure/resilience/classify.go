package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// StatusError is a non-2xx reply from an HTTP collaborator.
type StatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "upstream status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s %s status: %s", e.Service, e.Operation, e.Status)
	}
	return fmt.Sprintf("%s %s status: %s: %s", e.Service, e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// NewStatusError drains up to 2KiB of the body for diagnostics.
func NewStatusError(service, operation string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &StatusError{
		Service:    service,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

// ClassifyHTTPError retries transport failures and retryable statuses. Context
// cancellation is neither retried nor counted against the breaker.
func ClassifyHTTPError(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if IsCircuitOpen(err) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if IsRetryableStatus(statusErr.StatusCode) {
			return ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return ErrorClassification{Retryable: false, RecordFailure: true}
}

func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// WrapUpstream tags a collaborator error with the domain kind callers branch on.
func WrapUpstream(operation string, err error, classifier ErrorClassifier) error {
	if err == nil {
		return nil
	}
	switch {
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrUpstream), domain.IsKind(err, domain.ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrTimeout, operation, err)
	}
	if classifier == nil {
		classifier = ClassifyHTTPError
	}
	if classifier(err).Retryable || IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return domain.WrapError(domain.ErrUpstream, operation, err)
}
