// Package debugger records the execution trace of the engine and answers operator
// questions about it: what ran, why a step was skipped, and what an automation would do
// with a given record.
package debugger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultBufferSize is the number of debug lines kept in memory.
const DefaultBufferSize = 1000

// Line is one debug line of the in-memory stream.
type Line struct {
	SessionID string         `json:"sessionId"`
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Tracer appends execution log entries to the store and keeps a ring buffer of recent debug
// lines. Every line is also written to slog, which is the durable sink.
type Tracer struct {
	logs   persistence.ExecutionLogRepository
	logger *slog.Logger
	clock  clockwork.Clock

	mu    sync.Mutex
	lines []Line
	next  int
	full  bool
}

func NewTracer(logs persistence.ExecutionLogRepository, clock clockwork.Clock, logger *slog.Logger, size int) *Tracer {
	if size <= 0 {
		size = DefaultBufferSize
	}

	return &Tracer{
		logs:   logs,
		logger: logger.With("module", "tracer"),
		clock:  clock,
		lines:  make([]Line, size),
	}
}

// Session correlates the lines and log entries of one decision or processing pass.
type Session struct {
	ID     string
	tracer *Tracer
	logger *slog.Logger
}

// StartSession opens a session; args are attached to every line it writes.
func (t *Tracer) StartSession(ctx context.Context, kind string, args ...any) *Session {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	session := &Session{
		ID:     id.String(),
		tracer: t,
		logger: t.logger.With("session_id", id.String()).With(args...),
	}

	session.log(ctx, slog.LevelDebug, kind+" started", args...)

	return session
}

func (s *Session) Debug(ctx context.Context, msg string, args ...any) {
	s.log(ctx, slog.LevelDebug, msg, args...)
}

func (s *Session) Info(ctx context.Context, msg string, args ...any) {
	s.log(ctx, slog.LevelInfo, msg, args...)
}

func (s *Session) Warn(ctx context.Context, msg string, args ...any) {
	s.log(ctx, slog.LevelWarn, msg, args...)
}

func (s *Session) Error(ctx context.Context, msg string, args ...any) {
	s.log(ctx, slog.LevelError, msg, args...)
}

func (s *Session) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	s.logger.Log(ctx, level, msg, args...)
	s.tracer.add(Line{
		SessionID: s.ID,
		Time:      s.tracer.clock.Now().UTC(),
		Level:     level.String(),
		Message:   msg,
		Attrs:     attrs(args),
	})
}

// Record stamps the entry with the session and appends it to the execution log.
func (s *Session) Record(ctx context.Context, entry *models.ExecutionLogEntry) error {
	entry.SessionID = s.ID

	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = s.tracer.clock.Now().UTC()
	}

	err := s.tracer.logs.Append(ctx, entry)
	if err != nil {
		s.Error(ctx, "Failed to append execution log", "automation_id", entry.AutomationID, "error", err)

		return fmt.Errorf("failed to append execution log: %w", err)
	}

	s.Debug(ctx, "Execution logged",
		"automation_id", entry.AutomationID,
		"enrollment_id", entry.EnrollmentID,
		"status", entry.Status,
		"outcome", entry.Outcome)

	return nil
}

func (t *Tracer) add(line Line) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)

	if t.next == 0 {
		t.full = true
	}
}

// snapshot returns the buffered lines, oldest first.
func (t *Tracer) snapshot() []Line {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]Line(nil), t.lines[:t.next]...)
	}

	out := make([]Line, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)

	return append(out, t.lines[:t.next]...)
}

// Session returns the buffered lines of one session, oldest first.
func (t *Tracer) Session(id string) []Line {
	out := make([]Line, 0)

	for _, line := range t.snapshot() {
		if line.SessionID == id {
			out = append(out, line)
		}
	}

	return out
}

// Recent returns at most limit of the newest lines, oldest first.
func (t *Tracer) Recent(limit int) []Line {
	lines := t.snapshot()
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	return lines
}

func attrs(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}

	out := make(map[string]any, len(args)/2)

	for i := 0; i < len(args); i++ {
		switch key := args[i].(type) {
		case slog.Attr:
			out[key.Key] = key.Value.Any()
		case string:
			if i+1 < len(args) {
				out[key] = attrValue(args[i+1])
				i++
			}
		}
	}

	return out
}

func attrValue(value any) any {
	if err, ok := value.(error); ok {
		return err.Error()
	}

	return value
}
