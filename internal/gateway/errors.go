package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ksred/skyline-api/pkg/response"
	"github.com/sashabaranov/go-openai"
)

var (
	// ErrInvalidKey means the provider rejected the credential. Callers should
	// ask for a new key instead of retrying.
	ErrInvalidKey  = errors.New("invalid API key")
	ErrUnavailable = errors.New("provider unavailable")
	ErrRateLimited = errors.New("provider rate limited")
	// ErrBadResponse means the provider answered but the payload did not match
	// the expected shape.
	ErrBadResponse = errors.New("unexpected provider response")
)

func init() {
	response.Register(ErrInvalidKey, http.StatusUnauthorized, response.ErrCodeInvalidKey)
	response.Register(ErrUnavailable, http.StatusBadGateway, response.ErrCodeConnection)
	response.Register(ErrRateLimited, http.StatusTooManyRequests, response.ErrCodeRateLimited)
	response.Register(ErrBadResponse, http.StatusBadGateway, response.ErrCodeConnection)
}

// Status is the user-visible status string for an outcome
func Status(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, ErrInvalidKey):
		return "Invalid Key"
	case errors.Is(err, ErrUnavailable):
		return "Connection Error"
	case errors.Is(err, ErrRateLimited):
		return "Rate Limited"
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	default:
		return "Error"
	}
}

// Retryable reports whether a failed idempotent call may be attempted again
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrBadResponse)
}

// classifyStatus maps an HTTP status from the provider to a gateway error
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrInvalidKey
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return ErrUnavailable
	default:
		return nil
	}
}

// classify wraps a provider or transport error with the matching sentinel
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if sentinel := classifyStatus(apiErr.HTTPStatusCode); sentinel != nil {
			return fmt.Errorf("%s: %w: %s", op, sentinel, apiErr.Message)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if sentinel := classifyStatus(reqErr.HTTPStatusCode); sentinel != nil {
			return fmt.Errorf("%s: %w: %v", op, sentinel, reqErr.Err)
		}
		if reqErr.HTTPStatusCode == 0 {
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, reqErr.Err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
