package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWithDetailDoesNotMutateShared(t *testing.T) {
	detailed := ErrJobTerminal.WithDetail("job abc status completed")

	if ErrJobTerminal.Detail != "" {
		t.Errorf("shared error mutated: %q", ErrJobTerminal.Detail)
	}
	if detailed.Detail != "job abc status completed" {
		t.Errorf("detail lost: %q", detailed.Detail)
	}
	if detailed.Code != ErrJobTerminal.Code {
		t.Errorf("code changed: %s", detailed.Code)
	}
}

func TestWithErrorDoesNotMutateShared(t *testing.T) {
	cause := fmt.Errorf("underlying")
	wrapped := ErrNovelNotFound.WithError(cause)

	if ErrNovelNotFound.Err != nil {
		t.Error("shared error gained an underlying error")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("expected wrapped error to unwrap to cause")
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(cause, CodeLLMCallFailed, "llm call failed")

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
	var appErr *AppError
	if !errors.As(error(err), &appErr) {
		t.Fatal("expected errors.As to find AppError")
	}
	if appErr.Code != CodeLLMCallFailed {
		t.Errorf("unexpected code %s", appErr.Code)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{CodeInvalidParam, http.StatusBadRequest},
		{CodeJobDataInvalid, http.StatusBadRequest},
		{CodeNovelNotFound, http.StatusNotFound},
		{CodeJobNotFound, http.StatusNotFound},
		{CodeTooManyRequests, http.StatusTooManyRequests},
		{CodeInternalError, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := New(c.code, "m").HTTPStatus; got != c.want {
			t.Errorf("code %s: expected %d, got %d", c.code, c.want, got)
		}
	}
}

func TestAsAppError(t *testing.T) {
	plain := fmt.Errorf("plain")
	if AsAppError(plain) != nil {
		t.Error("plain error must not convert")
	}
	if !IsAppError(ErrJobNotFound) {
		t.Error("predefined error must be recognized")
	}
	wrapped := fmt.Errorf("outer: %w", ErrJobNotFound)
	if appErr := AsAppError(wrapped); appErr == nil || appErr.Code != CodeJobNotFound {
		t.Errorf("expected unwrap to AppError, got %v", appErr)
	}
}
