// Package voice turns a captured audio clip into a publishable
// message. The pipeline is a small state machine; which exit it takes
// from Captured depends on the room's anonymization policy, decided by
// the controller.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"room-engine/contract"
	"room-engine/domain"
	"room-engine/errors"
)

type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateCaptured  State = "captured"
	StatePending   State = "pending"
	StatePublished State = "published"
	StateDiscarded State = "discarded"
	StateFailed    State = "failed"
)

// Pipeline holds at most one draft at a time. The capture device is
// exclusive: Begin while Recording does not touch the device.
type Pipeline struct {
	mu       sync.Mutex
	log      *slog.Logger
	recorder contract.Recorder
	state    State
	draft    *domain.VoiceDraft
}

func NewPipeline(recorder contract.Recorder, log *slog.Logger) *Pipeline {
	return &Pipeline{log: log, recorder: recorder, state: StateIdle}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Draft returns the current draft, if any.
func (p *Pipeline) Draft() (domain.VoiceDraft, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draft == nil {
		return domain.VoiceDraft{}, false
	}
	return *p.draft, true
}

// Begin starts a capture on the press-and-hold gesture. Calling it
// while already recording is a no-op that leaves the device alone.
// Acquisition failure resets to Idle; no dangling Recording state.
func (p *Pipeline) Begin(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateRecording {
		p.mu.Unlock()
		return errors.ErrAlreadyRecording
	}
	p.state = StateRecording
	p.draft = nil
	p.mu.Unlock()

	if err := p.recorder.Begin(ctx); err != nil {
		p.mu.Lock()
		p.state = StateIdle
		p.mu.Unlock()
		return fmt.Errorf("%w: %v", errors.ErrCaptureUnavailable, err)
	}
	return nil
}

// End stops the capture on release, frees the device and produces the
// local draft.
func (p *Pipeline) End() (domain.VoiceDraft, error) {
	p.mu.Lock()
	if p.state != StateRecording {
		p.mu.Unlock()
		return domain.VoiceDraft{}, errors.ErrNotRecording
	}
	p.mu.Unlock()

	audio, err := p.recorder.End()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateIdle
		return domain.VoiceDraft{}, fmt.Errorf("%w: %v", errors.ErrCaptureUnavailable, err)
	}

	draft := domain.VoiceDraft{
		LocalRef:   "local-" + uuid.NewString(),
		Audio:      audio,
		CapturedAt: time.Now(),
	}
	p.state = StateCaptured
	p.draft = &draft
	return draft, nil
}

// BeginPublish moves the draft into the publish flow.
func (p *Pipeline) BeginPublish() (domain.VoiceDraft, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draft == nil || (p.state != StateCaptured && p.state != StatePending) {
		return domain.VoiceDraft{}, errors.ErrNoDraft
	}
	p.state = StatePending
	return *p.draft, nil
}

// Published clears the draft; the clip now lives on the server.
func (p *Pipeline) Published() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StatePublished
	p.draft = nil
}

// Fail records a publish failure. A terminal failure destroys the
// draft (anonymization: the user must re-record); a recoverable one
// returns to Captured so the same draft can be retried.
func (p *Pipeline) Fail(terminal bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if terminal {
		p.log.Debug("Voice draft destroyed after terminal failure")
		p.state = StateFailed
		p.draft = nil
		return
	}
	p.log.Debug("Voice draft kept for retry")
	p.state = StateCaptured
}

// Discard drops the draft before publish.
func (p *Pipeline) Discard() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draft == nil {
		return errors.ErrNoDraft
	}
	p.state = StateDiscarded
	p.draft = nil
	return nil
}
