// Package command implements the outbound command transport: a
// line-oriented sink that the Procedure Sequencer writes `!y`, `!p`,
// `!w`, and `!eol` lines to. The real transport is the simulator's chat
// box, reached by focusing its window and injecting keystrokes; that
// window-focus dance lives behind the Sink interface below.
package command

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// InterCommandDelay is the pause between consecutive commands emitted to
// the sink. It is a property of the downstream chat transport and must
// not be batched away.
const InterCommandDelay = 500 * time.Millisecond

// ChatOpenSettle is the brief pause after opening the chat box before the
// first character is typed.
const ChatOpenSettle = 100 * time.Millisecond

// Sink is the single-writer command transport. Only the Supervisor (via
// the Sequencer) may call Send, so a caution command is never interleaved
// with another.
type Sink interface {
	// Send writes one opaque command line. It returns an error only when
	// the transport itself failed to accept the line; the caller logs and
	// proceeds rather than retrying.
	Send(line string) error
}

// Yellow formats the Phase A caution command.
func Yellow(message string) string { return fmt.Sprintf("!y %s", message) }

// PaceLaps formats the Phase D pace-lap countdown command.
func PaceLaps(n int) string { return fmt.Sprintf("!p %d", n) }

// Wave formats a Phase B wave-around command for a single car.
func Wave(carNumber string) string { return fmt.Sprintf("!w %s", carNumber) }

// EndOfLine formats a Phase C class-split command for a single car.
func EndOfLine(carNumber string) string { return fmt.Sprintf("!eol %s", carNumber) }

// LineSink is a Sink that writes each command as its own line to an
// io.Writer, settling for ChatOpenSettle before the first write and
// InterCommandDelay between every write thereafter — mirroring the real
// chat transport's timing requirements without depending on the
// simulator's window-focus APIs. It is safe for concurrent use, though
// the controller only ever writes from one goroutine.
type LineSink struct {
	mu       sync.Mutex
	w        *bufio.Writer
	opened   bool
	lastSend time.Time
}

// NewLineSink wraps w as a line-oriented command sink.
func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: bufio.NewWriter(w)}
}

func (s *LineSink) Send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		time.Sleep(ChatOpenSettle)
		s.opened = true
	} else if wait := InterCommandDelay - time.Since(s.lastSend); wait > 0 {
		time.Sleep(wait)
	}

	if _, err := fmt.Fprintln(s.w, line); err != nil {
		return fmt.Errorf("command: write line: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("command: flush: %w", err)
	}
	s.lastSend = time.Now()
	return nil
}

// SendOrLog sends line and logs any failure rather than propagating it:
// best-effort delivery, no retry, matching the chat transport's own
// semantics.
func SendOrLog(sink Sink, line string) {
	if err := sink.Send(line); err != nil {
		slog.Error("command emission failed", "component", "command", "line", line, "err", err)
	}
}
