package room

import (
	"strings"
	"time"
)

// noteTTL bounds how long a pinned personal note survives. Past it the
// note is treated as absent.
const noteTTL = 24 * time.Hour

// pinnedNote is the room's private sticky note. It never leaves the
// device: it is shown alongside the stream but is not a message and is
// never sent to any collaborator.
type pinnedNote struct {
	text    string
	savedAt time.Time
}

// SetNote pins a personal note on the room. Blank text clears it.
func (c *Controller) SetNote(text string) {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	if text == "" {
		c.note = nil
	} else {
		c.note = &pinnedNote{text: text, savedAt: time.Now()}
	}
	note := c.note
	c.mu.Unlock()

	if c.history == nil {
		return
	}
	var err error
	if note == nil {
		err = c.history.DropNote(c.config.Name)
	} else {
		err = c.history.PutNote(c.config.Name, note.text, note.savedAt)
	}
	if err != nil {
		c.log.Debug("Note cache write failed", "room", c.config.Name, "error", err)
	}
}

// Note returns the pinned note, if one exists and has not expired.
func (c *Controller) Note() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.note == nil {
		return "", false
	}
	if time.Since(c.note.savedAt) > noteTTL {
		c.note = nil
		return "", false
	}
	return c.note.text, true
}

// restoreNote loads the persisted note on mount, dropping it when it
// has outlived its day.
func (c *Controller) restoreNote() {
	text, savedAt, ok, err := c.history.Note(c.config.Name)
	if err != nil || !ok {
		return
	}
	if time.Since(savedAt) > noteTTL {
		_ = c.history.DropNote(c.config.Name)
		return
	}
	c.mu.Lock()
	c.note = &pinnedNote{text: text, savedAt: savedAt}
	c.mu.Unlock()
}
