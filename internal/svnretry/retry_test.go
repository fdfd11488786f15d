package svnretry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func assertIntEqual(t *testing.T, a, b int) {
	t.Helper()
	if a != b {
		t.Fatalf("expected %d == %d", a, b)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("Connection reset by peer"), true},
		{errors.New("svn: E175002: timeout waiting for server"), true},
		{errors.New("Unable to connect to a repository at URL 'svn://x'"), true},
		{errors.New("svn: E170013: Unable to connect to repository"), true},
		{errors.New("svn: E200009: File not found"), false},
		{errors.New("svn: E155024: invalid url"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestDoSucceedsOnFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), noSleep, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertIntEqual(t, calls, 1)
}

func TestDoRetriesTransientUpToCap(t *testing.T) {
	calls := 0
	err := Do(context.Background(), noSleep, func() error {
		calls++
		return errors.New("Connection reset by peer")
	})
	if err == nil {
		t.Fatal("expected error on exhaustion")
	}
	assertIntEqual(t, calls, MaxAttempts)
}

func TestDoSucceedsAfterTransientRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), noSleep, func() error {
		calls++
		if calls < 2 {
			return errors.New("server unexpectedly closed connection")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertIntEqual(t, calls, 2)
}

func TestDoPropagatesNonTransientImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("svn: E170013: Unable to find repository")
	err := Do(context.Background(), noSleep, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	assertIntEqual(t, calls, 1)
}

func noSleep(time.Duration) {}
