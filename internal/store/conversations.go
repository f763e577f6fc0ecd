package store

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

// ErrConversationNotFound is returned when no live conversation exists for an identity.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore owns live conversation state. Each identity has its own
// mutex so two conversations never block each other; the map itself is
// guarded by a short-lived store mutex that is never held during callbacks.
type ConversationStore struct {
	mu         sync.Mutex
	entries    map[string]*conversationEntry
	tombstones map[string]time.Time
	now        func() time.Time
}

type conversationEntry struct {
	mu   sync.Mutex
	conv *models.Conversation
	gone bool
}

// ConversationOption configures a ConversationStore.
type ConversationOption func(*ConversationStore)

// WithConversationClock overrides the time source.
func WithConversationClock(now func() time.Time) ConversationOption {
	return func(s *ConversationStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewConversationStore creates an empty store.
func NewConversationStore(opts ...ConversationOption) *ConversationStore {
	s := &ConversationStore{
		entries:    make(map[string]*conversationEntry),
		tombstones: make(map[string]time.Time),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns a snapshot of the conversation for identity, creating
// it in Start on first contact. created reports whether it was new.
func (s *ConversationStore) GetOrCreate(identity string) (conv *models.Conversation, created bool) {
	s.mu.Lock()
	e, ok := s.entries[identity]
	if !ok {
		e = &conversationEntry{conv: models.NewConversation(identity, s.now())}
		s.entries[identity] = e
		delete(s.tombstones, identity)
		created = true
	}
	s.mu.Unlock()
	if created {
		slog.Debug("ConversationStore.GetOrCreate: created conversation", "identity", identity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Clone(), created
}

// Snapshot returns a copy of the conversation for identity.
func (s *ConversationStore) Snapshot(identity string) (*models.Conversation, bool) {
	e := s.entry(identity)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, false
	}
	return e.conv.Clone(), true
}

// Update runs fn on a working copy of the conversation while holding its
// lock. If fn returns an error or panics the stored conversation is left
// untouched; otherwise the copy replaces it and its version is incremented.
// The returned snapshot reflects the committed state.
func (s *ConversationStore) Update(identity string, fn func(*models.Conversation) error) (*models.Conversation, error) {
	for {
		e := s.entry(identity)
		if e == nil {
			return nil, ErrConversationNotFound
		}
		out, gone, err := s.apply(e, fn)
		if gone {
			// Finalized between lookup and lock; look again.
			continue
		}
		if err != nil {
			slog.Debug("ConversationStore.Update: rolled back", "identity", identity, "error", err)
			return nil, err
		}
		return out, nil
	}
}

func (s *ConversationStore) apply(e *conversationEntry, fn func(*models.Conversation) error) (*models.Conversation, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, true, nil
	}
	work := e.conv.Clone()
	if err := fn(work); err != nil {
		return nil, false, err
	}
	work.Version = e.conv.Version + 1
	work.UpdatedAt = s.now()
	e.conv = work
	return work.Clone(), false, nil
}

// Finalize removes the conversation and records a tombstone. It waits for
// any in-flight Update on the same identity.
func (s *ConversationStore) Finalize(identity string) bool {
	return s.remove(identity, true)
}

// Reset destroys the conversation for identity and replaces it with a fresh
// one in Start, without a tombstone. seed, when non-nil, prepares the fresh
// conversation before it becomes visible. Pending updates on the old
// conversation fail over to the new one.
func (s *ConversationStore) Reset(identity string, seed func(*models.Conversation)) *models.Conversation {
	fresh := models.NewConversation(identity, s.now())
	if seed != nil {
		seed(fresh)
	}
	next := &conversationEntry{conv: fresh}

	if old := s.entry(identity); old != nil {
		old.mu.Lock()
		old.gone = true
		s.mu.Lock()
		s.entries[identity] = next
		delete(s.tombstones, identity)
		s.mu.Unlock()
		old.mu.Unlock()
	} else {
		s.mu.Lock()
		s.entries[identity] = next
		delete(s.tombstones, identity)
		s.mu.Unlock()
	}
	slog.Debug("ConversationStore.Reset: conversation recreated", "identity", identity, "state", fresh.State())
	return fresh.Clone()
}

// FinalizeIf finalizes the conversation only when pred holds for its
// current state, evaluated under the conversation lock.
func (s *ConversationStore) FinalizeIf(identity string, pred func(*models.Conversation) bool) bool {
	return s.removeIf(identity, true, pred)
}

func (s *ConversationStore) remove(identity string, tombstone bool) bool {
	return s.removeIf(identity, tombstone, nil)
}

func (s *ConversationStore) removeIf(identity string, tombstone bool, pred func(*models.Conversation) bool) bool {
	e := s.entry(identity)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return false
	}
	if pred != nil && !pred(e.conv.Clone()) {
		return false
	}
	e.gone = true

	s.mu.Lock()
	if s.entries[identity] == e {
		delete(s.entries, identity)
	}
	if tombstone {
		s.tombstones[identity] = s.now()
	}
	s.mu.Unlock()
	slog.Debug("ConversationStore.remove: conversation removed", "identity", identity, "tombstone", tombstone)
	return true
}

// RecentlyFinalized reports whether identity was finalized within window.
func (s *ConversationStore) RecentlyFinalized(identity string, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.tombstones[identity]
	if !ok {
		return false
	}
	return s.now().Sub(at) <= window
}

// PruneTombstones drops tombstones recorded before the cutoff and returns how many were removed.
func (s *ConversationStore) PruneTombstones(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, at := range s.tombstones {
		if at.Before(before) {
			delete(s.tombstones, id)
			n++
		}
	}
	return n
}

// List returns snapshots of every live conversation ordered by identity.
func (s *ConversationStore) List() []*models.Conversation {
	s.mu.Lock()
	entries := make([]*conversationEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]*models.Conversation, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.gone {
			out = append(out, e.conv.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Len returns the number of live conversations.
func (s *ConversationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *ConversationStore) entry(identity string) *conversationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[identity]
}
