// Package txqueue implements the process-wide, UUID-keyed queue of signed
// EVM transactions: an atomic status state machine, queue operations, and
// the gateway/rogue-mode broadcast gate.
//
// Grounded on spec.md §4.C and on the teacher's preference for explicit
// sync.Mutex-guarded maps over sync.Map seen throughout internal/sessions —
// entries here are small and contention at this scale is not a concern.
package txqueue

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a QueuedTransaction's place in the broadcast lifecycle.
type Status string

const (
	StatusPending      Status = "pending"
	StatusBroadcasting Status = "broadcasting"
	StatusBroadcast    Status = "broadcast"
	StatusConfirmed    Status = "confirmed"
	StatusFailed       Status = "failed"
)

// IsTerminal reports whether s is a state the broadcaster refuses to
// re-broadcast from (spec.md §4.C "The broadcaster refuses re-broadcast of
// terminal entries").
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

var (
	// ErrInvalidTransition is returned when a mark_* call's expected
	// starting status doesn't match the entry's current status.
	ErrInvalidTransition = errors.New("txqueue: invalid status transition")
	// ErrNotFound is returned for operations against an unknown UUID.
	ErrNotFound = errors.New("txqueue: entry not found")
	// ErrTerminal is returned when attempting to re-broadcast a terminal entry.
	ErrTerminal = errors.New("txqueue: entry already in a terminal state")
)

// Entry is one queued transaction: the immutable signed artifact plus its
// mutable broadcast-lifecycle fields.
type Entry struct {
	ID        uuid.UUID
	ChannelID string

	SignedTxHex string
	From        string
	To          string
	ValueWei    string
	ChainID     uint64

	Status      Status
	TxHash      string
	ExplorerURL string
	FailReason  string

	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Queue is the process-wide transaction store.
type Queue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	now     func() time.Time
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		entries: make(map[uuid.UUID]*Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// QueueTx inserts a newly signed transaction in Pending status.
func (q *Queue) QueueTx(channelID, signedTxHex, from, to, valueWei string, chainID uint64) *Entry {
	now := q.now()
	e := &Entry{
		ID:          uuid.New(),
		ChannelID:   channelID,
		SignedTxHex: signedTxHex,
		From:        from,
		To:          to,
		ValueWei:    valueWei,
		ChainID:     chainID,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	q.mu.Lock()
	q.entries[e.ID] = e
	q.mu.Unlock()
	return e
}

// Get returns the entry for id, if present. The returned pointer must be
// treated as read-only by callers; mutate only through the mark_* methods.
func (q *Queue) Get(id uuid.UUID) (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	copyEntry := *e
	return &copyEntry, nil
}

// List returns every entry, in no particular order.
func (q *Queue) List() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Entry, 0, len(q.entries))
	for _, e := range q.entries {
		copyEntry := *e
		out = append(out, &copyEntry)
	}
	return out
}

// ListByChannel returns every entry queued under channelID.
func (q *Queue) ListByChannel(channelID string) []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Entry
	for _, e := range q.entries {
		if e.ChannelID == channelID {
			copyEntry := *e
			out = append(out, &copyEntry)
		}
	}
	return out
}

// Pending implements toolctx.TxQueue: the count of non-terminal entries for
// a channel (an approximation, as contention can change it between the
// read and the caller's use, same caveat as subagent.ActiveCountForChannel).
func (q *Queue) Pending(channelID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.ChannelID == channelID && !e.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// compareAndTransition atomically moves id from `from` to `to`, refusing if
// the current status doesn't match from.
func (q *Queue) compareAndTransition(id uuid.UUID, from, to Status, mutate func(*Entry)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != from {
		return ErrInvalidTransition
	}
	e.Status = to
	e.UpdatedAt = q.now()
	if mutate != nil {
		mutate(e)
	}
	return nil
}

// MarkBroadcasting transitions Pending -> Broadcasting. Refuses re-broadcast
// of a terminal entry and any entry not currently Pending.
func (q *Queue) MarkBroadcasting(id uuid.UUID) error {
	q.mu.Lock()
	if e, ok := q.entries[id]; ok && e.Status.IsTerminal() {
		q.mu.Unlock()
		return ErrTerminal
	}
	q.mu.Unlock()
	return q.compareAndTransition(id, StatusPending, StatusBroadcasting, nil)
}

// MarkBroadcast transitions Broadcasting -> Broadcast, recording the chain
// tx hash and an optional block-explorer URL.
func (q *Queue) MarkBroadcast(id uuid.UUID, txHash, explorerURL string) error {
	return q.compareAndTransition(id, StatusBroadcasting, StatusBroadcast, func(e *Entry) {
		e.TxHash = txHash
		e.ExplorerURL = explorerURL
	})
}

// MarkConfirmed transitions Broadcast -> Confirmed.
func (q *Queue) MarkConfirmed(id uuid.UUID) error {
	return q.compareAndTransition(id, StatusBroadcast, StatusConfirmed, nil)
}

// MarkFailed transitions Broadcasting or Broadcast -> Failed, recording
// reason. Unlike the other mark_* operations this accepts either starting
// state, since a revert can be observed either while broadcasting or after.
func (q *Queue) MarkFailed(id uuid.UUID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusBroadcasting && e.Status != StatusBroadcast {
		return ErrInvalidTransition
	}
	e.Status = StatusFailed
	e.FailReason = reason
	e.UpdatedAt = q.now()
	return nil
}
