// Package svnretry wraps remote SVN operations with the classify-and-retry
// policy spec.md §4.1/§9 requires: exponential backoff with base 10s, at
// most 3 total attempts, re-raising the final error on exhaustion. It
// replaces svn_retry.py's exception-classifying decorator with an explicit
// Go error-returning wrapper, per spec.md §9's "error returns, not
// exceptions" mandate.
//
// SPDX-License-Identifier: BSD-2-Clause
package svnretry

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxAttempts is the total number of attempts (first try plus retries).
const MaxAttempts = 3

// BaseBackoff is the exponential backoff base between attempts.
const BaseBackoff = 10 * time.Second

// transientSubstrings mirrors is_retryable_svn_exception's substring match
// against the underlying client error text: these are the messages a
// subprocess-shelled `svn` command prints for transient network failures,
// since there is no typed exception hierarchy to pattern-match on once
// errors have crossed the CLI boundary.
var transientSubstrings = []string{
	"connection reset",
	"Connection reset",
	"Connection timed out",
	"timeout",
	"Unable to connect to a repository",
	"Unable to connect to repository",
	"server unexpectedly closed connection",
	"truncated HTTP response body",
	"Could not resolve hostname",
}

// IsTransient reports whether err looks like one of the network failures
// spec.md §4.1 lists as retriable. Non-retriable subversion errors (not
// found, malformed URL) are left to propagate immediately by returning
// false here.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Sleeper lets tests substitute a non-blocking clock; production callers
// pass nil to use time.Sleep.
type Sleeper func(d time.Duration)

// Do runs fn, retrying up to MaxAttempts total times with exponential
// backoff (base, 2*base, 4*base, ...) whenever fn's error is transient per
// IsTransient. The last error is returned unwrapped on exhaustion, and any
// non-transient error is returned immediately without retrying, matching
// spec.md §4.1's "raise the last exception on exhaustion" /
// "non-retriable subversion errors propagate immediately".
func Do(ctx context.Context, sleep Sleeper, fn func() error) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	var lastErr error
	backoff := BaseBackoff
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		sleep(backoff)
		backoff *= 2
	}
	return lastErr
}

// Is wraps Go's errors.Is helper for callers that want to check whether a
// non-transient error returned from Do is a specific sentinel (e.g.
// NotFound) rather than inspect its text.
var Is = errors.Is
