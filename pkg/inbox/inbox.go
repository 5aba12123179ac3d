// Package inbox reconciles a live, user-visible notification feed with
// optimistic local edits. Two layers: the authoritative snapshot stream from
// the notification store, and a local overlay of pending mutations keyed by
// record id. Overlay entries are dropped once the authoritative stream
// reflects them, or rolled back on an explicit failure signal.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

var (
	// ErrUnknownRecord is returned when a mutation targets an id that is
	// not in the current view.
	ErrUnknownRecord = errors.New("inbox: unknown notification id")

	// ErrClosed is returned when the session has been torn down.
	ErrClosed = errors.New("inbox: session closed")
)

type overlayEntry struct {
	read      bool
	dismissed bool
	// pending marks the durable write as still in flight; resolved entries
	// yield to the next authoritative snapshot.
	pending bool
}

// Session is one user's inbox. All methods are safe for concurrent use.
type Session struct {
	store  notify.NotificationStore
	userID string
	logger *slog.Logger

	mu      sync.Mutex
	records []notify.Record // last authoritative snapshot
	overlay map[string]overlayEntry
	updates chan []notify.Record
	cancel  context.CancelFunc
	closed  bool
}

func NewSession(store notify.NotificationStore, userID string, logger *slog.Logger) *Session {
	return &Session{
		store:   store,
		userID:  userID,
		overlay: make(map[string]overlayEntry),
		logger:  logger.With("component", "Inbox", "recipient_id", userID),
	}
}

// Subscribe starts the live feed and returns a channel of merged views
// (authoritative snapshot plus local overlay), newest first. The channel
// closes when the underlying stream ends; Subscribe may then be called again
// to reconnect, no history replay required.
func (s *Session) Subscribe(ctx context.Context) (<-chan []notify.Record, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.updates != nil {
		s.mu.Unlock()
		return nil, errors.New("inbox: already subscribed")
	}
	subCtx, cancel := context.WithCancel(ctx)
	updates := make(chan []notify.Record, 1)
	s.updates = updates
	s.cancel = cancel
	s.mu.Unlock()

	feed, stop, err := s.store.Subscribe(subCtx, s.userID)
	if err != nil {
		cancel()
		s.mu.Lock()
		s.updates = nil
		s.cancel = nil
		s.mu.Unlock()
		return nil, fmt.Errorf("inbox subscribe: %w", err)
	}

	go func() {
		defer stop()
		for records := range feed {
			s.applyAuthoritative(records)
		}
		// Stream over: detach the channel under the lock so no emit can
		// race the close, then hand control back to the caller.
		s.mu.Lock()
		ch := s.updates
		s.updates = nil
		s.cancel = nil
		s.mu.Unlock()
		if ch != nil {
			close(ch)
		}
	}()

	return updates, nil
}

// MarkRead optimistically flips the record to read, then issues the durable
// write. On failure the local view is rolled back and the error returned;
// the caller decides whether to retry.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, ok := s.findLocked(id); !ok {
		s.mu.Unlock()
		return ErrUnknownRecord
	}
	s.overlay[id] = overlayEntry{read: true, pending: true}
	s.emitLocked()
	s.mu.Unlock()

	if err := s.store.MarkRead(ctx, s.userID, id); err != nil {
		s.rollbackRead(id)
		return fmt.Errorf("mark read %s: %w", id, err)
	}

	s.settleRead(id)
	return nil
}

// MarkAllRead computes the currently-unread set, applies it locally, and
// issues one batched durable write covering exactly that set. On failure
// only that batch is rolled back; records that became unread afterwards
// through a live update are untouched.
func (s *Session) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var batch []string
	for _, rec := range s.mergedLocked() {
		if !rec.IsRead {
			batch = append(batch, rec.ID)
		}
	}
	if len(batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	for _, id := range batch {
		s.overlay[id] = overlayEntry{read: true, pending: true}
	}
	s.emitLocked()
	s.mu.Unlock()

	if err := s.store.MarkRead(ctx, s.userID, batch...); err != nil {
		for _, id := range batch {
			s.rollbackRead(id)
		}
		return fmt.Errorf("mark all read: %w", err)
	}

	for _, id := range batch {
		s.settleRead(id)
	}
	return nil
}

// Dismiss removes the record from the local view immediately, then issues
// the durable delete. A failed delete does not resurrect the record; it
// stays hidden until the next authoritative snapshot pulls it back. That is
// deliberate: dismissal failure must not silently restore an item the user
// believes gone.
func (s *Session) Dismiss(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, ok := s.findLocked(id); !ok {
		s.mu.Unlock()
		return ErrUnknownRecord
	}
	s.overlay[id] = overlayEntry{dismissed: true, pending: true}
	s.emitLocked()
	s.mu.Unlock()

	err := s.store.Delete(ctx, s.userID, id)
	if err != nil {
		s.logger.Warn("Dismiss failed; record resurfaces on the next snapshot", "id", id, "err", err)
	}

	s.mu.Lock()
	if e, ok := s.overlay[id]; ok && e.dismissed && !s.closed {
		e.pending = false
		s.overlay[id] = e
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("dismiss %s: %w", id, err)
	}
	return nil
}

// Snapshot returns the current merged view, newest first.
func (s *Session) Snapshot() []notify.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergedLocked()
}

// UnreadCount is derived from the merged view and nothing else; it can never
// drift from what the user sees.
func (s *Session) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.mergedLocked() {
		if !rec.IsRead {
			count++
		}
	}
	return count
}

// Close tears the session down. No further local-state mutation occurs;
// writes already in flight complete or fail in the background.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// --- internals ---

// applyAuthoritative installs a new snapshot and reconciles the overlay
// against it.
func (s *Session) applyAuthoritative(records []notify.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.records = records

	byID := make(map[string]notify.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	for id, e := range s.overlay {
		rec, present := byID[id]
		switch {
		case e.dismissed:
			// A resolved dismissal yields to the stream: on success the
			// record is gone anyway; on failure the snapshot pulls it back.
			if !present || !e.pending {
				delete(s.overlay, id)
			}
		case e.read:
			if !present || rec.IsRead {
				delete(s.overlay, id)
			}
		}
	}

	s.emitLocked()
}

func (s *Session) rollbackRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if e, ok := s.overlay[id]; ok && e.read {
		delete(s.overlay, id)
		s.emitLocked()
	}
}

func (s *Session) settleRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if e, ok := s.overlay[id]; ok && e.read {
		e.pending = false
		s.overlay[id] = e
	}
}

func (s *Session) findLocked(id string) (notify.Record, bool) {
	for _, rec := range s.records {
		if rec.ID == id {
			if e, ok := s.overlay[id]; ok && e.dismissed {
				return notify.Record{}, false
			}
			return rec, true
		}
	}
	return notify.Record{}, false
}

func (s *Session) mergedLocked() []notify.Record {
	view := make([]notify.Record, 0, len(s.records))
	for _, rec := range s.records {
		e, ok := s.overlay[rec.ID]
		if ok && e.dismissed {
			continue
		}
		if ok && e.read {
			rec.IsRead = true
		}
		view = append(view, rec)
	}
	return view
}

// emitLocked pushes the merged view, latest-wins: a slow consumer sees the
// freshest snapshot, never a backlog.
func (s *Session) emitLocked() {
	if s.updates == nil || s.closed {
		return
	}
	view := s.mergedLocked()
	for {
		select {
		case s.updates <- view:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
