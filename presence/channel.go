package presence

import (
	"context"
	"log/slog"
	"sync"

	"room-engine/contract"
	"room-engine/domain"
)

// Channel is one room's presence membership on the shared transport.
// Join and Leave are idempotent: joining while joined and leaving
// while disconnected are no-ops and emit nothing. A Leave that lands
// while a Join is still connecting is remembered and applied when the
// join settles.
type Channel struct {
	mu        sync.Mutex
	log       *slog.Logger
	transport contract.Transport
	session   domain.PresenceSession
	onCount   func(count int)
	// leaveWanted marks a Leave that arrived while a Join was still
	// connecting. The in-flight Join consumes it and undoes itself
	// instead of settling into Joined with nobody left to leave.
	leaveWanted bool
}

func NewChannel(transport contract.Transport, log *slog.Logger, onCount func(count int)) *Channel {
	return &Channel{
		transport: transport,
		log:       log,
		session:   domain.PresenceSession{State: domain.StateDisconnected},
		onCount:   onCount,
	}
}

// State returns the current connection state.
func (c *Channel) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State
}

// Join acquires the shared transport, emits the join signal and
// subscribes to counts for the room. Failure is non-fatal: the channel
// falls back to Disconnected silently and messaging stays available.
func (c *Channel) Join(ctx context.Context, room, userID string) {
	c.mu.Lock()
	if c.session.State == domain.StateJoined || c.session.State == domain.StateConnecting {
		c.mu.Unlock()
		return
	}
	c.session = domain.PresenceSession{Room: room, UserID: userID, State: domain.StateConnecting}
	c.leaveWanted = false
	c.mu.Unlock()

	if err := c.transport.Acquire(ctx); err != nil {
		c.log.Debug("Presence unavailable", "room", room, "error", err)
		c.setState(domain.StateDisconnected)
		return
	}

	// The room may have unmounted while the dial was out. No join
	// signal was emitted yet, so releasing the reference is enough.
	if c.takeLeaveWanted() {
		c.transport.Release()
		c.setState(domain.StateDisconnected)
		return
	}

	if err := c.transport.Join(room, userID, c.scopedCount(room)); err != nil {
		c.log.Debug("Presence join failed", "room", room, "error", err)
		c.transport.Release()
		c.setState(domain.StateDisconnected)
		return
	}

	c.mu.Lock()
	if c.leaveWanted {
		c.leaveWanted = false
		c.mu.Unlock()
		// A Leave landed between the join emit and now: undo it so the
		// session does not stay joined with the room already gone.
		if err := c.transport.Leave(room, userID); err != nil {
			c.log.Debug("Presence leave failed", "room", room, "error", err)
		}
		c.transport.Release()
		c.setState(domain.StateDisconnected)
		return
	}
	c.session.State = domain.StateJoined
	c.mu.Unlock()
}

// Leave emits the leave signal and releases the transport reference.
// A second Leave in a row does nothing.
func (c *Channel) Leave(room, userID string) {
	c.mu.Lock()
	switch c.session.State {
	case domain.StateConnecting:
		// The join is still in flight; it will observe this and undo
		// itself instead of settling into Joined.
		c.leaveWanted = true
		c.mu.Unlock()
		return
	case domain.StateJoined:
	default:
		c.mu.Unlock()
		return
	}
	c.session.State = domain.StateLeaving
	c.mu.Unlock()

	if err := c.transport.Leave(room, userID); err != nil {
		c.log.Debug("Presence leave failed", "room", room, "error", err)
	}
	c.transport.Release()
	c.setState(domain.StateDisconnected)
}

// scopedCount filters counts to the joined room. The transport already
// routes per room, but a channel must never trust that alone: counts
// for any other room are discarded here too.
func (c *Channel) scopedCount(room string) func(count int) {
	return func(count int) {
		c.mu.Lock()
		current := c.session.Room
		state := c.session.State
		c.mu.Unlock()
		if state != domain.StateJoined || current != room {
			return
		}
		if c.onCount != nil {
			c.onCount(count)
		}
	}
}

func (c *Channel) takeLeaveWanted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.leaveWanted {
		return false
	}
	c.leaveWanted = false
	return true
}

func (c *Channel) setState(state domain.ConnectionState) {
	c.mu.Lock()
	c.session.State = state
	c.mu.Unlock()
}
