// Package domain contains core concepts of the room chat engine.
// This file defines Message records and the edit-window rule.
package domain

import (
	"time"
)

type Kind string

const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
)

// UploadState tracks a voice message through publication.
// Transitions are monotonic: pending moves to published or failed,
// never backward.
type UploadState string

const (
	UploadNone      UploadState = "none"
	UploadPending   UploadState = "pending"
	UploadPublished UploadState = "published"
	UploadFailed    UploadState = "failed"
)

// Message is one entry in a room's stream. Text content is mutable
// inside the edit window; TranslatedText is derived and never replaces
// Text. Voice messages carry an AudioRef and, when anonymized, a
// Transcript with IsAI set.
type Message struct {
	ID             string
	Room           string
	AuthorID       string
	Kind           Kind
	Text           string
	AudioRef       string
	Transcript     string
	CreatedAt      time.Time
	EditedAt       *time.Time
	TranslatedText string
	IsAI           bool
	UploadState    UploadState
}

// CanEdit reports whether the message content may still be modified at
// the given instant. The boundary is inclusive: a message exactly
// editWindow old is still editable.
func CanEdit(m Message, now time.Time, editWindow time.Duration) bool {
	return m.Kind == KindText && now.Sub(m.CreatedAt) <= editWindow
}
