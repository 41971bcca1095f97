// Package event defines the engine events a UI sink consumes.
// Every event names the room it belongs to; sinks for one room must
// ignore events scoped to another.
package event

import (
	"time"

	"room-engine/domain"
)

type EngineEvent interface {
	Room() string
}

// MessagesLoaded reports a full store replacement, from the local
// cache or the initial REST fetch.
type MessagesLoaded struct {
	RoomName string
	Count    int
}

func (e MessagesLoaded) Room() string { return e.RoomName }

type MessageAppended struct {
	RoomName string
	Message  domain.Message
}

func (e MessageAppended) Room() string { return e.RoomName }

type MessageEdited struct {
	RoomName string
	ID       string
	Text     string
	EditedAt time.Time
}

func (e MessageEdited) Room() string { return e.RoomName }

type MessageRemoved struct {
	RoomName string
	ID       string
}

func (e MessageRemoved) Room() string { return e.RoomName }

type TranslationAttached struct {
	RoomName string
	ID       string
	Text     string
}

func (e TranslationAttached) Room() string { return e.RoomName }

type OnlineCountChanged struct {
	RoomName string
	Count    int
}

func (e OnlineCountChanged) Room() string { return e.RoomName }

// VoiceStateChanged reports a pipeline transition for a voice message
// already present in the store (pending placeholder, publish, failure).
type VoiceStateChanged struct {
	RoomName string
	ID       string
	State    domain.UploadState
}

func (e VoiceStateChanged) Room() string { return e.RoomName }
