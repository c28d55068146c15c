package ircerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfAndMessageOf(t *testing.T) {
	err := E(CodeBanned, "You are banned from %s: %s", "#dev", "spam")
	if got := CodeOf(err); got != CodeBanned {
		t.Fatalf("CodeOf=%q", got)
	}
	if got := MessageOf(err); got != "You are banned from #dev: spam" {
		t.Fatalf("MessageOf=%q", got)
	}
}

func TestCodeOfWrapped(t *testing.T) {
	inner := errors.New("disk full")
	err := fmt.Errorf("flush: %w", Wrap(CodeInternal, "internal server error", inner))
	if got := CodeOf(err); got != CodeInternal {
		t.Fatalf("CodeOf=%q", got)
	}
	if !errors.Is(err, inner) {
		t.Fatal("lost the wrapped cause")
	}
}

func TestUncodedErrorsDoNotLeak(t *testing.T) {
	err := errors.New("pq: connection reset while writing channels.json")
	if got := MessageOf(err); got != "internal server error" {
		t.Fatalf("MessageOf leaked internal detail: %q", got)
	}
	if got := CodeOf(err); got != CodeInternal {
		t.Fatalf("CodeOf=%q", got)
	}
}

func TestFatal(t *testing.T) {
	if !Fatal(E(CodeInvalidPassword, "Invalid password")) {
		t.Fatal("invalid_password must be fatal")
	}
	for _, c := range []Code{CodeBanned, CodeRateLimited, CodeProtocol, CodeNotOperator} {
		if Fatal(E(c, "x")) {
			t.Fatalf("%s must not be fatal", c)
		}
	}
}
