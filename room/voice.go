package room

import (
	"context"
	"fmt"

	"room-engine/domain"
	"room-engine/domain/event"
	"room-engine/errors"
	"room-engine/voice"
)

// pendingTranscript is what an anonymization-required room shows while
// the synthesized voice is being produced.
const pendingTranscript = "anonymizing…"

// BeginRecording starts the press-and-hold capture. Pressing again
// while recording is a no-op; the device is never acquired twice.
func (c *Controller) BeginRecording(ctx context.Context) error {
	if !c.session.Authenticated() {
		return errors.ErrNotAuthenticated
	}
	err := c.pipeline.Begin(ctx)
	if err == errors.ErrAlreadyRecording {
		return nil
	}
	return err
}

// EndRecording stops the capture on release and routes the draft by
// room policy. Anonymization-required rooms go straight to the
// anonymizer behind a pending placeholder; direct-publish rooms hold
// the draft for an explicit confirm or discard.
func (c *Controller) EndRecording(ctx context.Context) error {
	draft, err := c.pipeline.End()
	if err != nil {
		return err
	}

	if c.config.AnonymizationRequired {
		c.publishAnonymized(ctx, draft)
		return nil
	}

	local := domain.Message{
		ID:          draft.LocalRef,
		Room:        c.config.Name,
		AuthorID:    c.session.UserID,
		Kind:        domain.KindVoice,
		AudioRef:    draft.LocalRef,
		CreatedAt:   draft.CapturedAt,
		UploadState: domain.UploadPending,
	}
	c.store.Append(local)
	c.emit(event.MessageAppended{RoomName: c.config.Name, Message: local})
	return nil
}

// ConfirmVoice uploads the held draft of a direct-publish room. On
// failure the draft is kept: the user retries the same clip.
func (c *Controller) ConfirmVoice(ctx context.Context, id string) error {
	draft, err := c.pipeline.BeginPublish()
	if err != nil {
		return err
	}
	if draft.LocalRef != id {
		return errors.ErrNoDraft
	}

	epoch := c.epoch.Load()
	saved, err := c.api.PublishVoice(ctx, c.config.Name, c.session.UserID, draft.Audio)
	if err != nil {
		c.pipeline.Fail(false)
		return err
	}
	if c.epoch.Load() != epoch {
		c.pipeline.Discard()
		return errors.ErrStaleEpoch
	}
	c.pipeline.Published()

	mutErr := c.store.Mutate(id, func(m *domain.Message) {
		m.ID = saved.ID
		m.AudioRef = saved.AudioRef
		m.CreatedAt = saved.CreatedAt
		m.UploadState = domain.UploadPublished
	})
	if mutErr != nil {
		return mutErr
	}
	if m, ok := c.store.Get(saved.ID); ok {
		c.cache(m)
	}
	if c.monitor != nil {
		c.monitor.IncrVoicePublished()
	}
	c.emit(event.VoiceStateChanged{
		RoomName: c.config.Name, ID: saved.ID, State: domain.UploadPublished,
	})
	return nil
}

// DiscardVoice drops an unpublished draft and its local message.
func (c *Controller) DiscardVoice(id string) error {
	if err := c.pipeline.Discard(); err != nil {
		return err
	}
	if err := c.store.Remove(id); err != nil {
		return err
	}
	c.emit(event.MessageRemoved{RoomName: c.config.Name, ID: id})
	return nil
}

// VoiceState exposes the pipeline state, for UI affordances.
func (c *Controller) VoiceState() voice.State {
	return c.pipeline.State()
}

// publishAnonymized inserts the pending placeholder and hands the raw
// capture to the anonymizer in the background. The raw audio exists
// only in the draft; the store only ever sees anonymizer output.
// Anonymization failure is terminal: the placeholder turns Failed and
// the user must re-record.
func (c *Controller) publishAnonymized(ctx context.Context, draft domain.VoiceDraft) {
	pending := domain.Message{
		ID:          draft.LocalRef,
		Room:        c.config.Name,
		AuthorID:    c.session.UserID,
		Kind:        domain.KindVoice,
		Transcript:  pendingTranscript,
		CreatedAt:   draft.CapturedAt,
		IsAI:        true,
		UploadState: domain.UploadPending,
	}
	c.store.Append(pending)
	c.emit(event.MessageAppended{RoomName: c.config.Name, Message: pending})

	if _, err := c.pipeline.BeginPublish(); err != nil {
		return
	}

	epoch := c.epoch.Load()
	go func() {
		out, err := c.api.AnonymizeVoice(ctx, draft.Audio)
		if c.epoch.Load() != epoch {
			c.pipeline.Discard()
			return
		}
		if err != nil {
			c.log.Warn("Anonymization failed", "room", c.config.Name,
				"error", fmt.Errorf("%w: %v", errors.ErrAnonymizationFailed, err))
			c.pipeline.Fail(true)
			if c.monitor != nil {
				c.monitor.IncrAnonymizeFailures()
			}
			_ = c.store.Mutate(draft.LocalRef, func(m *domain.Message) {
				m.Transcript = ""
				m.UploadState = domain.UploadFailed
			})
			c.emit(event.VoiceStateChanged{
				RoomName: c.config.Name, ID: draft.LocalRef, State: domain.UploadFailed,
			})
			return
		}

		c.pipeline.Published()
		_ = c.store.Mutate(draft.LocalRef, func(m *domain.Message) {
			m.AudioRef = out.AudioURL
			m.Transcript = out.Transcript
			m.UploadState = domain.UploadPublished
		})
		if m, ok := c.store.Get(draft.LocalRef); ok {
			c.cache(m)
		}
		if c.monitor != nil {
			c.monitor.IncrVoicePublished()
		}
		c.emit(event.VoiceStateChanged{
			RoomName: c.config.Name, ID: draft.LocalRef, State: domain.UploadPublished,
		})
	}()
}
