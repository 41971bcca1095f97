// Package room composes the engine parts into the operations a room
// UI invokes. One controller per mounted room; the five thematic rooms
// differ only by the RoomConfig they are built with.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"room-engine/contract"
	"room-engine/domain"
	"room-engine/domain/event"
	"room-engine/errors"
	"room-engine/observability"
	"room-engine/presence"
	"room-engine/store"
	"room-engine/translate"
	"room-engine/voice"
)

// composing models the single input box: it either composes a new
// message or edits an existing one. SendText while editing commits the
// edit instead of creating a message.
type composing struct {
	editing bool
	id      string
}

type Controller struct {
	mu      sync.Mutex
	log     *slog.Logger
	config  domain.RoomConfig
	session domain.Session
	api     contract.RestAPI

	store    *store.MessageStore
	channel  *presence.Channel
	pipeline *voice.Pipeline
	overlay  *translate.Overlay

	history *store.History
	monitor *observability.Monitor
	sinks   []contract.EventSink

	// epoch identifies the current room session. Mount and Unmount bump
	// it; responses carrying a stale epoch are discarded so a late
	// reply cannot mutate a store that was torn down.
	epoch atomic.Uint64

	compose     composing
	note        *pinnedNote
	onlineCount int
	mounted     bool
}

func NewController(config domain.RoomConfig, session domain.Session,
	api contract.RestAPI, transport contract.Transport,
	recorder contract.Recorder, log *slog.Logger) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("room config: %w", err)
	}

	c := &Controller{
		log:     log,
		config:  config,
		session: session,
		api:     api,
	}
	c.store = store.NewMessageStore(config.Name, config.EditWindow)
	c.channel = presence.NewChannel(transport, log, c.onCount(config.Name))
	c.pipeline = voice.NewPipeline(recorder, log)
	c.overlay = translate.NewOverlay(api, c.store, log)
	return c, nil
}

// Add registers UI sinks receiving engine events.
func (c *Controller) Add(sinks ...contract.EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sinks...)
}

// UseHistory enables the local badger cache.
func (c *Controller) UseHistory(h store.History) { c.history = &h }

// UseMonitor enables engine counters.
func (c *Controller) UseMonitor(m *observability.Monitor) { c.monitor = m }

// Store exposes the room's message store for rendering.
func (c *Controller) Store() *store.MessageStore { return c.store }

// OnlineCount returns the last server-driven presence count.
func (c *Controller) OnlineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onlineCount
}

// PresenceState reports the channel state, for debug surfaces.
func (c *Controller) PresenceState() domain.ConnectionState {
	return c.channel.State()
}

// Mount brings the room up: cached history first for an instant
// render, then the authoritative REST load, then presence. Presence
// runs in the background; its failure never blocks the room.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return nil
	}
	c.mounted = true
	c.mu.Unlock()
	epoch := c.epoch.Add(1)

	if c.history != nil {
		if cached, _, err := c.history.Recent(c.config.Name, nil); err == nil && len(cached) > 0 {
			// Recent scans newest first; the stream renders oldest first.
			c.store.Load(lo.Reverse(cached))
			c.emit(event.MessagesLoaded{RoomName: c.config.Name, Count: len(cached)})
		}
		c.restoreNote()
	}

	if c.session.Authenticated() {
		go c.channel.Join(ctx, c.config.Name, c.session.UserID)
	}

	messages, err := c.api.LoadMessages(ctx, c.config.Name)
	if err != nil {
		// Transient-network: keep whatever the cache gave us.
		c.log.Warn("Initial load failed", "room", c.config.Name, "error", err)
		return err
	}
	if c.epoch.Load() != epoch {
		return errors.ErrStaleEpoch
	}
	c.store.Load(messages)
	c.emit(event.MessagesLoaded{RoomName: c.config.Name, Count: len(messages)})
	return nil
}

// Unmount tears the room down: presence leave, epoch bump so in-flight
// responses for this session are disregarded.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = false
	c.compose = composing{}
	c.mu.Unlock()

	c.epoch.Add(1)
	c.channel.Leave(c.config.Name, c.session.UserID)
}

// SendText posts a new text message, or commits the pending edit when
// the input box is in editing mode. Blank content after trimming is a
// no-op, as is an unauthenticated session.
func (c *Controller) SendText(ctx context.Context, content string) error {
	if !c.session.Authenticated() {
		return errors.ErrNotAuthenticated
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.ErrBlankContent
	}

	c.mu.Lock()
	compose := c.compose
	c.mu.Unlock()
	if compose.editing {
		return c.CommitEdit(ctx, compose.id, content)
	}

	epoch := c.epoch.Load()
	saved, err := c.api.SendText(ctx, c.config.Name, c.session.UserID, content)
	if err != nil {
		return err
	}
	if c.epoch.Load() != epoch {
		return errors.ErrStaleEpoch
	}

	c.store.Append(saved)
	c.cache(saved)
	if c.monitor != nil {
		c.monitor.IncrTextsSent()
	}
	c.emit(event.MessageAppended{RoomName: c.config.Name, Message: saved})
	return nil
}

// StartEdit switches the input box to editing mode and returns the
// current text to prefill it. The affordance check happens here; the
// authoritative check happens again at commit.
func (c *Controller) StartEdit(id string) (string, error) {
	m, ok := c.store.Get(id)
	if !ok {
		return "", errors.ErrUnknownMessage
	}
	if !c.store.CanEdit(id, time.Now()) {
		return "", errors.ErrEditWindowClosed
	}

	c.mu.Lock()
	c.compose = composing{editing: true, id: id}
	c.mu.Unlock()
	return m.Text, nil
}

// CancelEdit returns the input box to new-message mode.
func (c *Controller) CancelEdit() {
	c.mu.Lock()
	c.compose = composing{}
	c.mu.Unlock()
}

// CommitEdit replaces the message content in place. The edit window is
// re-validated now, at execution time; an affordance rendered before
// the window closed does not approve a too-late commit.
func (c *Controller) CommitEdit(ctx context.Context, id, content string) error {
	if !c.session.Authenticated() {
		return errors.ErrNotAuthenticated
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.ErrBlankContent
	}

	now := time.Now()
	if err := c.store.AcquireEdit(id, now); err != nil {
		return err
	}
	defer c.store.ReleaseEdit(id)

	if err := c.store.ReplaceContent(id, content, now); err != nil {
		return err
	}

	c.mu.Lock()
	c.compose = composing{}
	c.mu.Unlock()

	if m, ok := c.store.Get(id); ok {
		c.cache(m)
	}
	if c.monitor != nil {
		c.monitor.IncrEditsCommitted()
	}
	c.emit(event.MessageEdited{RoomName: c.config.Name, ID: id, Text: content, EditedAt: now})
	return nil
}

// DeleteMessage removes a message server-side, then locally.
func (c *Controller) DeleteMessage(ctx context.Context, id string) error {
	if !c.session.Authenticated() {
		return errors.ErrNotAuthenticated
	}

	epoch := c.epoch.Load()
	if err := c.api.DeleteMessage(ctx, id, c.session.UserID); err != nil {
		return err
	}
	if c.epoch.Load() != epoch {
		return errors.ErrStaleEpoch
	}

	if err := c.store.Remove(id); err != nil {
		return err
	}
	if c.monitor != nil {
		c.monitor.IncrMessagesDeleted()
	}
	c.emit(event.MessageRemoved{RoomName: c.config.Name, ID: id})
	return nil
}

// RequestTranslation attaches a translated rendering of the message.
// The target defaults to the session language. Failure is silent: the
// overlay logs and the message stays as it was.
func (c *Controller) RequestTranslation(ctx context.Context, id, target string) {
	m, ok := c.store.Get(id)
	if !ok || m.Text == "" {
		return
	}
	if target == "" {
		target = c.session.Lang
	}

	epoch := c.epoch.Load()
	c.overlay.Request(ctx, id, m.Text, target)
	if c.epoch.Load() != epoch {
		return
	}

	if translated, ok := c.store.Get(id); ok && translated.TranslatedText != "" {
		if c.monitor != nil {
			c.monitor.IncrTranslations()
		}
		c.emit(event.TranslationAttached{
			RoomName: c.config.Name, ID: id, Text: translated.TranslatedText,
		})
	}
}

func (c *Controller) onCount(roomName string) func(count int) {
	return func(count int) {
		c.mu.Lock()
		c.onlineCount = count
		c.mu.Unlock()
		c.emit(event.OnlineCountChanged{RoomName: roomName, Count: count})
	}
}

func (c *Controller) emit(e event.EngineEvent) {
	c.mu.Lock()
	sinks := append([]contract.EventSink(nil), c.sinks...)
	c.mu.Unlock()
	for _, sink := range sinks {
		sink.Consume(e)
	}
}

// cache writes through to the local history, best-effort.
func (c *Controller) cache(m domain.Message) {
	if c.history == nil {
		return
	}
	if err := c.history.Put(m); err != nil {
		c.log.Debug("History cache write failed", "message", m.ID, "error", err)
	}
}
