// Package observability keeps best-effort engine counters. Nothing in
// here blocks or fails; the numbers feed debug surfaces only.
package observability

import "sync/atomic"

// EngineStats is a point-in-time snapshot of the counters.
type EngineStats struct {
	TextsSent          uint64 `json:"texts_sent"`
	EditsCommitted     uint64 `json:"edits_committed"`
	MessagesDeleted    uint64 `json:"messages_deleted"`
	Translations       uint64 `json:"translations"`
	VoicePublished     uint64 `json:"voice_published"`
	AnonymizeFailures  uint64 `json:"anonymize_failures"`
	PresenceReconnects uint64 `json:"presence_reconnects"`
}

type Monitor struct {
	textsSent          atomic.Uint64
	editsCommitted     atomic.Uint64
	messagesDeleted    atomic.Uint64
	translations       atomic.Uint64
	voicePublished     atomic.Uint64
	anonymizeFailures  atomic.Uint64
	presenceReconnects atomic.Uint64
}

func NewMonitor() *Monitor { return &Monitor{} }

func (m *Monitor) IncrTextsSent()          { m.textsSent.Add(1) }
func (m *Monitor) IncrEditsCommitted()     { m.editsCommitted.Add(1) }
func (m *Monitor) IncrMessagesDeleted()    { m.messagesDeleted.Add(1) }
func (m *Monitor) IncrTranslations()       { m.translations.Add(1) }
func (m *Monitor) IncrVoicePublished()     { m.voicePublished.Add(1) }
func (m *Monitor) IncrAnonymizeFailures()  { m.anonymizeFailures.Add(1) }
func (m *Monitor) IncrPresenceReconnects() { m.presenceReconnects.Add(1) }

func (m *Monitor) Snapshot() EngineStats {
	return EngineStats{
		TextsSent:          m.textsSent.Load(),
		EditsCommitted:     m.editsCommitted.Load(),
		MessagesDeleted:    m.messagesDeleted.Load(),
		Translations:       m.translations.Load(),
		VoicePublished:     m.voicePublished.Load(),
		AnonymizeFailures:  m.anonymizeFailures.Load(),
		PresenceReconnects: m.presenceReconnects.Load(),
	}
}
