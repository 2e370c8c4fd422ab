// Package suppression answers whether an email address is on an unsubscribe or bounce list.
package suppression

import (
	"context"
	"strings"
	"sync"
)

// Reason is the list an address was suppressed on.
type Reason string

const (
	Unsubscribe Reason = "unsubscribe"
	Bounce      Reason = "bounce"
)

// Checker reports whether an address is suppressed for a reason.
type Checker interface {
	IsSuppressed(ctx context.Context, email string, reason Reason) (bool, error)
}

// List is a Checker that can also be written to.
type List interface {
	Checker
	Add(ctx context.Context, email string, reason Reason) error
	Remove(ctx context.Context, email string, reason Reason) error
	Close() error
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryList keeps suppressions in process memory.
type MemoryList struct {
	mu      sync.RWMutex
	entries map[Reason]map[string]struct{}
}

// NewMemoryList creates an empty in-memory list.
func NewMemoryList() *MemoryList {
	return &MemoryList{entries: make(map[Reason]map[string]struct{})}
}

func (l *MemoryList) IsSuppressed(_ context.Context, email string, reason Reason) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.entries[reason][normalize(email)]

	return ok, nil
}

func (l *MemoryList) Add(_ context.Context, email string, reason Reason) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.entries[reason] == nil {
		l.entries[reason] = make(map[string]struct{})
	}

	l.entries[reason][normalize(email)] = struct{}{}

	return nil
}

func (l *MemoryList) Remove(_ context.Context, email string, reason Reason) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries[reason], normalize(email))

	return nil
}

func (l *MemoryList) Close() error {
	return nil
}
