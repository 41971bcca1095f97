// Package store holds the ordered, mutable message collection for one
// room. Mutations preserve arrival order; nothing re-sorts after
// insertion, so optimistic local inserts and server-confirmed inserts
// coexist in the order they landed.
package store

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"room-engine/domain"
	"room-engine/errors"
)

type MessageStore struct {
	mu         sync.RWMutex
	room       string
	editWindow time.Duration
	messages   []domain.Message
	// editing tracks ids with a commit in flight. One writer per id:
	// a second commit for the same id is rejected until the first
	// settles.
	editing map[string]struct{}
}

func NewMessageStore(room string, editWindow time.Duration) *MessageStore {
	return &MessageStore{
		room:       room,
		editWindow: editWindow,
		editing:    make(map[string]struct{}),
	}
}

// Load replaces the whole collection, used after the initial fetch.
func (s *MessageStore) Load(initial []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]domain.Message(nil), initial...)
}

// Append adds a message to the tail.
func (s *MessageStore) Append(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// Get returns a copy of the message with the given id.
func (s *MessageStore) Get(id string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Find(s.messages, func(m domain.Message) bool { return m.ID == id })
}

// Len returns the number of messages currently held.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot returns a copy of the collection in arrival order.
func (s *MessageStore) Snapshot() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message(nil), s.messages...)
}

// CanEdit reports whether the message may still be edited now.
// Callers gate affordances on it; ReplaceContent re-checks it so a
// stale affordance cannot approve a too-late edit.
func (s *MessageStore) CanEdit(id string, now time.Time) bool {
	m, ok := s.Get(id)
	return ok && domain.CanEdit(m, now, s.editWindow)
}

// AcquireEdit claims the single-writer slot for id. It fails when the
// id is unknown, not editable at claim time, or already claimed.
func (s *MessageStore) AcquireEdit(id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.find(id)
	if !ok {
		return errors.ErrUnknownMessage
	}
	if m.Kind != domain.KindText {
		return errors.ErrNotEditable
	}
	if !domain.CanEdit(*m, now, s.editWindow) {
		return errors.ErrEditWindowClosed
	}
	if _, busy := s.editing[id]; busy {
		return errors.ErrEditInFlight
	}
	s.editing[id] = struct{}{}
	return nil
}

// ReleaseEdit frees the single-writer slot claimed by AcquireEdit.
func (s *MessageStore) ReleaseEdit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.editing, id)
}

// ReplaceContent mutates a single text message in place. ID and
// CreatedAt are untouched. The edit window is re-validated here, at
// commit time, independent of any earlier affordance check.
func (s *MessageStore) ReplaceContent(id, text string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.find(id)
	if !ok {
		return errors.ErrUnknownMessage
	}
	if m.Kind != domain.KindText {
		return errors.ErrNotEditable
	}
	if !domain.CanEdit(*m, editedAt, s.editWindow) {
		return errors.ErrEditWindowClosed
	}
	m.Text = text
	at := editedAt
	m.EditedAt = &at
	return nil
}

// Remove deletes a message. Used both for confirmed deletes and for
// discarding an unpublished voice draft.
func (s *MessageStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.messages)
	s.messages = lo.Reject(s.messages, func(m domain.Message, _ int) bool { return m.ID == id })
	if len(s.messages) == before {
		return errors.ErrUnknownMessage
	}
	return nil
}

// AttachTranslation sets the derived translation without touching Text.
func (s *MessageStore) AttachTranslation(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.find(id)
	if !ok {
		return errors.ErrUnknownMessage
	}
	m.TranslatedText = text
	return nil
}

// SetUploadState advances a voice message's upload state. Transitions
// are monotonic: pending moves to published or failed, and terminal
// states never change again.
func (s *MessageStore) SetUploadState(id string, state domain.UploadState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.find(id)
	if !ok {
		return errors.ErrUnknownMessage
	}
	if uploadRank(state) < uploadRank(m.UploadState) {
		return errors.ErrNotEditable
	}
	if uploadRank(m.UploadState) == 2 && state != m.UploadState {
		return errors.ErrUploadStateFinal
	}
	m.UploadState = state
	return nil
}

func uploadRank(state domain.UploadState) int {
	switch state {
	case domain.UploadPending:
		return 1
	case domain.UploadPublished, domain.UploadFailed:
		return 2
	default:
		return 0
	}
}

// Mutate applies fn to the message with the given id under the store
// lock. The voice pipeline uses it for upload-state transitions.
func (s *MessageStore) Mutate(id string, fn func(m *domain.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.find(id)
	if !ok {
		return errors.ErrUnknownMessage
	}
	fn(m)
	return nil
}

func (s *MessageStore) find(id string) (*domain.Message, bool) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return &s.messages[i], true
		}
	}
	return nil, false
}
