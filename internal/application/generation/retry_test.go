package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	p := BackoffPolicy{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, c := range cases {
		if got := p.Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}

func TestIsRetryableLLMError(t *testing.T) {
	retryable := []error{
		fmt.Errorf("request failed with status code: 429"),
		fmt.Errorf("Rate limit exceeded, slow down"),
		fmt.Errorf("too many requests"),
		fmt.Errorf("upstream returned status code: 503"),
		fmt.Errorf("internal server error"),
		fmt.Errorf("model overloaded, try later"),
		fmt.Errorf("dial tcp: connection refused"),
		fmt.Errorf("read: connection reset by peer"),
		fmt.Errorf("request timed out"),
		fmt.Errorf("unexpected EOF"),
		context.DeadlineExceeded,
		fmt.Errorf("call failed: %w", context.DeadlineExceeded),
	}
	for _, err := range retryable {
		if !IsRetryableLLMError(err) {
			t.Errorf("expected retryable: %v", err)
		}
	}

	permanent := []error{
		nil,
		fmt.Errorf("invalid api key"),
		fmt.Errorf("request failed with status code: 400"),
		fmt.Errorf("model not found"),
		errors.New("content policy violation"),
	}
	for _, err := range permanent {
		if IsRetryableLLMError(err) {
			t.Errorf("expected non-retryable: %v", err)
		}
	}
}

func TestIsRateLimitError(t *testing.T) {
	if !IsRateLimitError(fmt.Errorf("429 Too Many Requests")) {
		t.Error("429 must classify as rate limit")
	}
	if IsRateLimitError(fmt.Errorf("connection refused")) {
		t.Error("network errors are not rate limits")
	}
	if IsRateLimitError(nil) {
		t.Error("nil is not a rate limit")
	}
}
