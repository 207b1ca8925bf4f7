package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"examflow/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "scheduler", "dispatch", "processor failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"scheduler", "dispatch", "processor failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want services.ErrorKind
	}{
		{services.Wrap(services.ErrValidation, "workflow", "complete", "no students", nil), services.KindValidation},
		{services.Wrap(services.ErrConfiguration, "scheduler", "submit", "unknown type", nil), services.KindConfiguration},
		{services.Wrap(services.ErrDependency, "workflow", "goto", "marking not completed", nil), services.KindDependency},
		{services.Wrap(services.ErrTimeout, "scheduler", "attempt", "timeout", nil), services.KindTimeout},
		{fmt.Errorf("outer: %w", services.ErrCancelled), services.KindCancelled},
		{errors.New("plain"), services.KindTransient},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if services.Retryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
	if services.Retryable(services.Wrap(services.ErrConfiguration, "", "", "bad wiring", nil)) {
		t.Fatal("configuration errors must not be retried")
	}
	if !services.Retryable(services.Wrap(services.ErrTimeout, "", "", "timeout", nil)) {
		t.Fatal("timeouts count toward the retry budget")
	}
	if !services.Retryable(services.Wrap(services.ErrCancelled, "ocr", "recognize", "worker gave up", nil)) {
		t.Fatal("cancellation reported by a processor counts toward the retry budget")
	}
	if !services.Retryable(errors.New("flaky")) {
		t.Fatal("unmarked errors are transient")
	}
}

func TestMessageStripsMarker(t *testing.T) {
	err := services.Wrap(services.ErrTimeout, "scheduler", "attempt", "timeout", nil)
	if got := services.Message(err); got != "scheduler: attempt: timeout" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := services.Message(errors.New("raw")); got != "raw" {
		t.Fatalf("unexpected message %q", got)
	}
}
