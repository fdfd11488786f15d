// Package statusline drives a terminal progress line during a long load,
// grounded on the teacher's surgeon/baton.go: a background goroutine owns
// the status line and serializes writes to it, and callers just bump a
// counter or log a line. Trimmed to the one mode this batch tool needs —
// a "rev N/H, R revs/sec" counter — rather than baton.go's twirly/counter/
// progress/process state machine, since a loader visit has exactly one
// thing worth showing progress on: how far through the revision range it
// is.
//
// SPDX-License-Identifier: BSD-2-Clause
package statusline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-runewidth"
)

const updateInterval = 200 * time.Millisecond

// msgType distinguishes a one-shot log line from a status-line update,
// mirroring baton.go's LOG vs PROGRESS message kinds.
type msgType uint8

const (
	logMsg msgType = iota
	progressMsg
)

type message struct {
	kind msgType
	text string
}

// Status drives one terminal status line for the duration of a visit.
type Status struct {
	enabled bool
	out     io.Writer
	ch      chan message
	done    chan struct{}

	mu         sync.Mutex
	lastUpdate time.Time
	start      int
	end        int
	count      int
	startTime  time.Time
	width      int
}

// New returns a Status writing to a colorable stdout when interactive is
// true; when false, Bump is a no-op (SetRange still records the range) and
// only explicit Log calls produce output, matching baton.go's non-interactive fallback (plain
// line-buffered writes, no status-line overwriting).
func New(interactive bool) *Status {
	s := &Status{
		enabled: interactive,
		out:     colorable.NewColorable(os.Stdout),
		ch:      make(chan message),
		done:    make(chan struct{}),
		width:   80,
	}
	if interactive {
		go s.run()
	}
	return s
}

func (s *Status) run() {
	defer close(s.done)
	for msg := range s.ch {
		switch msg.kind {
		case logMsg:
			fmt.Fprint(s.out, "\r\x1b[K")
			fmt.Fprintln(s.out, msg.text)
		case progressMsg:
			fmt.Fprint(s.out, "\r\x1b[K")
			fmt.Fprint(s.out, runewidth.Truncate(msg.text, s.width, "..."))
		}
	}
}

// Log prints a one-off line above the status line, matching baton.go's
// printLog behavior of never clobbering logged output with the progress
// overwrite.
func (s *Status) Log(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	if !s.enabled {
		fmt.Fprintln(s.out, text)
		return
	}
	s.ch <- message{kind: logMsg, text: text}
}

// SetRange announces the revision span a visit will replay, resetting the
// rate counter.
func (s *Status) SetRange(start, end int) {
	s.mu.Lock()
	s.start, s.end, s.count = start, end, 0
	s.startTime = time.Now()
	s.mu.Unlock()
}

// Bump advances the counter by one revision and, rate-limited to
// updateInterval the same way baton.go's twirl() rate-limits its spinner,
// renders "rev N/H, R revs/sec".
func (s *Status) Bump() {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	s.count++
	now := time.Now()
	if now.Sub(s.lastUpdate) < updateInterval {
		s.mu.Unlock()
		return
	}
	s.lastUpdate = now
	text := s.render()
	s.mu.Unlock()
	s.ch <- message{kind: progressMsg, text: text}
}

func (s *Status) render() string {
	elapsed := time.Since(s.startTime).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(s.count) / elapsed
	}
	rev := s.start + s.count - 1
	if rev < s.start {
		rev = s.start
	}
	return fmt.Sprintf("rev %d/%d, %.1f revs/sec", rev, s.end, rate)
}

// Close stops the background goroutine, blocking until its last write has
// flushed.
func (s *Status) Close() {
	if !s.enabled {
		return
	}
	close(s.ch)
	<-s.done
}
