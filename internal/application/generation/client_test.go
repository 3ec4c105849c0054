package generation

import (
	"context"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/TheAccidentalTeacher/NovGen-sub000/pkg/errors"
)

func TestClient_GenerateSuccess(t *testing.T) {
	m := &stubChatModel{calls: []stubModelCall{{text: "Generated prose."}}}
	c := newStubClient(m, 3)

	res, err := c.Generate(context.Background(), "chapter", GenerateRequest{System: "sys", User: "user"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Generated prose." {
		t.Errorf("unexpected text: %q", res.Text)
	}
	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
	if res.PromptTokens != 10 || res.CompletionTokens != 20 {
		t.Errorf("token usage not propagated: %+v", res)
	}
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	m := &stubChatModel{calls: []stubModelCall{
		{err: fmt.Errorf("status code: 503 service unavailable")},
		{err: fmt.Errorf("rate limit exceeded")},
		{text: "Third time lucky."},
	}}
	c := newStubClient(m, 3)

	var slept int
	c.sleep = func(context.Context, time.Duration) error {
		slept++
		return nil
	}

	res, err := c.Generate(context.Background(), "outline", GenerateRequest{System: "s", User: "u"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if slept != 2 {
		t.Errorf("expected 2 backoff sleeps, got %d", slept)
	}
	if m.callCount() != 3 {
		t.Errorf("expected 3 model calls, got %d", m.callCount())
	}
}

func TestClient_PermanentErrorNoRetry(t *testing.T) {
	m := &stubChatModel{calls: []stubModelCall{
		{err: fmt.Errorf("invalid api key")},
		{text: "never reached"},
	}}
	c := newStubClient(m, 3)

	_, err := c.Generate(context.Background(), "chapter", GenerateRequest{System: "s", User: "u"})
	if err == nil {
		t.Fatal("expected error")
	}
	if m.callCount() != 1 {
		t.Errorf("expected a single call for permanent errors, got %d", m.callCount())
	}
	appErr := apperrors.AsAppError(err)
	if appErr == nil || appErr.Code != apperrors.CodeLLMCallFailed {
		t.Errorf("expected CodeLLMCallFailed, got %v", err)
	}
}

func TestClient_ExhaustsRetries(t *testing.T) {
	m := &stubChatModel{calls: []stubModelCall{
		{err: fmt.Errorf("rate limit exceeded")},
		{err: fmt.Errorf("rate limit exceeded")},
		{err: fmt.Errorf("rate limit exceeded")},
	}}
	c := newStubClient(m, 2)

	_, err := c.Generate(context.Background(), "chapter", GenerateRequest{System: "s", User: "u"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if m.callCount() != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", m.callCount())
	}
	appErr := apperrors.AsAppError(err)
	if appErr == nil || appErr.Code != apperrors.CodeLLMRateLimited {
		t.Errorf("expected CodeLLMRateLimited, got %v", err)
	}
}

func TestClient_EmptyResponseIsError(t *testing.T) {
	m := &stubChatModel{calls: []stubModelCall{{text: "   "}}}
	c := newStubClient(m, 2)

	_, err := c.Generate(context.Background(), "chapter", GenerateRequest{System: "s", User: "u"})
	if err == nil {
		t.Fatal("expected error for blank response")
	}
	if m.callCount() != 1 {
		t.Errorf("blank responses are not transient, expected 1 call, got %d", m.callCount())
	}
}
