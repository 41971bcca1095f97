package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"room-engine/domain"
)

// History is a local, badger-backed cache of published messages.
// A remounted room renders from it immediately while the REST load is
// in flight; it is a cache, not the source of truth, and the server
// persistence format is none of its business.
type History struct {
	db    *badger.DB
	log   *slog.Logger
	limit *int
}

func NewHistory(db *badger.DB, log *slog.Logger, limit *int) History {
	return History{db: db, log: log, limit: limit}
}

type cachedMessage struct {
	ID             string             `json:"id"`
	Room           string             `json:"room"`
	AuthorID       string             `json:"author_id"`
	Kind           domain.Kind        `json:"kind"`
	Text           string             `json:"text,omitempty"`
	AudioRef       string             `json:"audio_ref,omitempty"`
	Transcript     string             `json:"transcript,omitempty"`
	CreatedAt      int64              `json:"created_at"`
	EditedAt       *int64             `json:"edited_at,omitempty"`
	TranslatedText string             `json:"translated_text,omitempty"`
	IsAI           bool               `json:"is_ai,omitempty"`
	UploadState    domain.UploadState `json:"upload_state"`
}

// Put persists a message in the cache.
// The key is formatted as "msg:{room}:{timestamp_padded}:{id}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Prevent data loss by using the message id as a collision
//     disconnector if two messages arrive at the same nanosecond.
func (h History) Put(m domain.Message) error {
	key := fmt.Sprintf("msg:%s:%019d:%s", m.Room, m.CreatedAt.UnixNano(), m.ID)
	bytes, err := json.Marshal(toCached(m))
	if err != nil {
		return err
	}
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// Recent retrieves cached messages for a room using a prefix scan.
// Thanks to the padded timestamp in the key, messages come back sorted
// by time. The cursor is the key suffix of the last returned entry;
// passing it back resumes the scan further into the past.
func (h History) Recent(room string, cursor *string) ([]domain.Message, *string, error) {
	var raw [][]byte
	var lastKey string
	err := h.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%s:", room)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible key, then walk backward.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if h.limit != nil && len(raw) == *h.limit {
				h.log.Debug(fmt.Sprintf("Maximum of %d cached messages reached", *h.limit))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				raw = append(raw, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var messages []domain.Message
	for _, b := range raw {
		var c cachedMessage
		if err = json.Unmarshal(b, &c); err != nil {
			return nil, nil, err
		}
		messages = append(messages, fromCached(c))
	}
	return messages, &lastKey, nil
}

type cachedNote struct {
	Text    string `json:"text"`
	SavedAt int64  `json:"saved_at"`
}

// PutNote stores the room's pinned personal note.
func (h History) PutNote(room, text string, savedAt time.Time) error {
	bytes, err := json.Marshal(cachedNote{Text: text, SavedAt: savedAt.UnixNano()})
	if err != nil {
		return err
	}
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(noteKey(room), bytes)
	})
}

// Note returns the room's pinned note; ok is false when none is stored.
func (h History) Note(room string) (text string, savedAt time.Time, ok bool, err error) {
	var c cachedNote
	err = h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(noteKey(room))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &c)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}
	return c.Text, time.Unix(0, c.SavedAt).UTC(), true, nil
}

// DropNote removes the room's pinned note.
func (h History) DropNote(room string) error {
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(noteKey(room))
	})
}

func noteKey(room string) []byte {
	return []byte("note:" + room)
}

func toCached(m domain.Message) cachedMessage {
	c := cachedMessage{
		ID:             m.ID,
		Room:           m.Room,
		AuthorID:       m.AuthorID,
		Kind:           m.Kind,
		Text:           m.Text,
		AudioRef:       m.AudioRef,
		Transcript:     m.Transcript,
		CreatedAt:      m.CreatedAt.UnixNano(),
		TranslatedText: m.TranslatedText,
		IsAI:           m.IsAI,
		UploadState:    m.UploadState,
	}
	if m.EditedAt != nil {
		edited := m.EditedAt.UnixNano()
		c.EditedAt = &edited
	}
	return c
}

func fromCached(c cachedMessage) domain.Message {
	m := domain.Message{
		ID:             c.ID,
		Room:           c.Room,
		AuthorID:       c.AuthorID,
		Kind:           c.Kind,
		Text:           c.Text,
		AudioRef:       c.AudioRef,
		Transcript:     c.Transcript,
		CreatedAt:      time.Unix(0, c.CreatedAt).UTC(),
		TranslatedText: c.TranslatedText,
		IsAI:           c.IsAI,
		UploadState:    c.UploadState,
	}
	if c.EditedAt != nil {
		edited := time.Unix(0, *c.EditedAt).UTC()
		m.EditedAt = &edited
	}
	return m
}
