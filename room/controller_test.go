package room

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"room-engine/contract"
	"room-engine/domain"
	"room-engine/errors"
	"room-engine/observability"
	"room-engine/store"
)

// fakeAPI is an in-memory stand-in for the REST collaborator.
type fakeAPI struct {
	mu         sync.Mutex
	loaded     []domain.Message
	loadErr    error
	deleted    []string
	nextID     int
	anonOut    contract.AnonymizedVoice
	anonErr    error
	publishErr error
	rawUploads [][]byte
}

func (f *fakeAPI) LoadMessages(context.Context, string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.loaded...), f.loadErr
}

func (f *fakeAPI) SendText(_ context.Context, room, userID, content string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return domain.Message{
		ID:        fmt.Sprintf("srv-%d", f.nextID),
		Room:      room,
		AuthorID:  userID,
		Kind:      domain.KindText,
		Text:      content,
		CreatedAt: time.Now(),
	}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPI) PublishVoice(_ context.Context, room, userID string, audio []byte) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return domain.Message{}, f.publishErr
	}
	f.rawUploads = append(f.rawUploads, audio)
	f.nextID++
	return domain.Message{
		ID:          fmt.Sprintf("srv-%d", f.nextID),
		Room:        room,
		AuthorID:    userID,
		Kind:        domain.KindVoice,
		AudioRef:    "https://cdn.example/voice.wav",
		CreatedAt:   time.Now(),
		UploadState: domain.UploadPublished,
	}, nil
}

func (f *fakeAPI) AnonymizeVoice(_ context.Context, _ []byte) (contract.AnonymizedVoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.anonOut, f.anonErr
}

func (f *fakeAPI) Translate(_ context.Context, text, target string) (string, error) {
	return "translated:" + text + ":" + target, nil
}

// fakeTransport routes counts per room, like the real manager.
type fakeTransport struct {
	mu       sync.Mutex
	joins    []string
	leaves   []string
	handlers map[string]func(int)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(int))}
}

func (f *fakeTransport) Acquire(context.Context) error { return nil }
func (f *fakeTransport) Release()                      {}

func (f *fakeTransport) Join(room, userID string, onCount func(int)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, room)
	f.handlers[room] = onCount
	return nil
}

func (f *fakeTransport) Leave(room, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, room)
	delete(f.handlers, room)
	return nil
}

func (f *fakeTransport) pushCount(room string, count int) {
	f.mu.Lock()
	handler := f.handlers[room]
	f.mu.Unlock()
	if handler != nil {
		handler(count)
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	begins int
	audio  []byte
}

func (f *fakeRecorder) Begin(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	return nil
}

func (f *fakeRecorder) End() ([]byte, error) { return f.audio, nil }

func newTestController(t *testing.T, config domain.RoomConfig, api *fakeAPI,
	transport *fakeTransport, recorder *fakeRecorder) *Controller {
	t.Helper()
	controller, err := NewController(config, domain.Session{UserID: "u1", Lang: "en"},
		api, transport, recorder, logs.GetLoggerFromString("error"))
	require.NoError(t, err)
	return controller
}

func burnoutConfig() domain.RoomConfig {
	return domain.RoomConfig{Name: "burnout", EditWindow: domain.DefaultEditWindow}
}

func TestController_SendTextAppends(t *testing.T) {
	controller := newTestController(t, burnoutConfig(), &fakeAPI{}, newFakeTransport(), &fakeRecorder{})

	require.NoError(t, controller.SendText(context.Background(), "hello"))

	snapshot := controller.Store().Snapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, "hello", snapshot[0].Text)
	require.Equal(t, domain.KindText, snapshot[0].Kind)
}

func TestController_SendTextBlankOrUnauthenticated(t *testing.T) {
	controller := newTestController(t, burnoutConfig(), &fakeAPI{}, newFakeTransport(), &fakeRecorder{})
	require.ErrorIs(t, controller.SendText(context.Background(), "   "), errors.ErrBlankContent)
	require.Equal(t, 0, controller.Store().Len())

	anonymous, err := NewController(burnoutConfig(), domain.Session{},
		&fakeAPI{}, newFakeTransport(), &fakeRecorder{}, logs.GetLoggerFromString("error"))
	require.NoError(t, err)
	require.ErrorIs(t, anonymous.SendText(context.Background(), "hello"), errors.ErrNotAuthenticated)
}

func TestController_SendTextWhileEditingCommitsEdit(t *testing.T) {
	controller := newTestController(t, burnoutConfig(), &fakeAPI{}, newFakeTransport(), &fakeRecorder{})
	require.NoError(t, controller.SendText(context.Background(), "original"))
	id := controller.Store().Snapshot()[0].ID
	createdAt := controller.Store().Snapshot()[0].CreatedAt

	prefill, err := controller.StartEdit(id)
	require.NoError(t, err)
	require.Equal(t, "original", prefill)

	// The single input box: sending now must edit, not append.
	require.NoError(t, controller.SendText(context.Background(), "new text"))
	require.Equal(t, 1, controller.Store().Len())

	m, _ := controller.Store().Get(id)
	require.Equal(t, "new text", m.Text)
	require.Equal(t, id, m.ID)
	require.Equal(t, createdAt, m.CreatedAt)
	require.NotNil(t, m.EditedAt)

	// Editing mode is consumed: the next send appends.
	require.NoError(t, controller.SendText(context.Background(), "another"))
	require.Equal(t, 2, controller.Store().Len())
}

func TestController_CommitEditAfterWindowRejected(t *testing.T) {
	api := &fakeAPI{loaded: []domain.Message{{
		ID:        "old",
		Room:      "burnout",
		Kind:      domain.KindText,
		Text:      "ancient",
		CreatedAt: time.Now().Add(-domain.DefaultEditWindow - time.Minute),
	}}}
	controller := newTestController(t, burnoutConfig(), api, newFakeTransport(), &fakeRecorder{})
	require.NoError(t, controller.Mount(context.Background()))

	// Even with a stale affordance, commit re-validates and rejects.
	err := controller.CommitEdit(context.Background(), "old", "too late")
	require.ErrorIs(t, err, errors.ErrEditWindowClosed)

	m, _ := controller.Store().Get("old")
	require.Equal(t, "ancient", m.Text)
}

func TestController_CancelEditRestoresNewMessageMode(t *testing.T) {
	controller := newTestController(t, burnoutConfig(), &fakeAPI{}, newFakeTransport(), &fakeRecorder{})
	require.NoError(t, controller.SendText(context.Background(), "original"))
	id := controller.Store().Snapshot()[0].ID

	_, err := controller.StartEdit(id)
	require.NoError(t, err)
	controller.CancelEdit()

	require.NoError(t, controller.SendText(context.Background(), "fresh"))
	require.Equal(t, 2, controller.Store().Len())
}

func TestController_DeleteMessage(t *testing.T) {
	api := &fakeAPI{}
	controller := newTestController(t, burnoutConfig(), api, newFakeTransport(), &fakeRecorder{})
	require.NoError(t, controller.SendText(context.Background(), "bye"))
	id := controller.Store().Snapshot()[0].ID

	require.NoError(t, controller.DeleteMessage(context.Background(), id))
	require.Equal(t, 0, controller.Store().Len())
	require.Equal(t, []string{id}, api.deleted)
}

func TestController_RequestTranslation(t *testing.T) {
	controller := newTestController(t, burnoutConfig(), &fakeAPI{}, newFakeTransport(), &fakeRecorder{})
	require.NoError(t, controller.SendText(context.Background(), "bonjour"))
	id := controller.Store().Snapshot()[0].ID

	controller.RequestTranslation(context.Background(), id, "")

	m, _ := controller.Store().Get(id)
	require.Equal(t, "bonjour", m.Text, "original text untouched")
	require.Equal(t, "translated:bonjour:en", m.TranslatedText, "session language is the default target")
}

func TestController_OnlineCountScopedPerRoom(t *testing.T) {
	transport := newFakeTransport()
	burnout := newTestController(t, burnoutConfig(), &fakeAPI{}, transport, &fakeRecorder{})
	solitude := newTestController(t, domain.RoomConfig{
		Name: "solitude", EditWindow: domain.DefaultEditWindow,
	}, &fakeAPI{}, transport, &fakeRecorder{})

	require.NoError(t, burnout.Mount(context.Background()))
	require.NoError(t, solitude.Mount(context.Background()))

	require.Eventually(t, func() bool {
		return burnout.PresenceState() == domain.StateJoined &&
			solitude.PresenceState() == domain.StateJoined
	}, time.Second, 5*time.Millisecond)

	transport.pushCount("solitude", 7)
	require.Equal(t, 7, solitude.OnlineCount())
	require.Equal(t, 0, burnout.OnlineCount(), "foreign room count must not leak")
}

func TestController_UnmountLeavesOnce(t *testing.T) {
	transport := newFakeTransport()
	controller := newTestController(t, burnoutConfig(), &fakeAPI{}, transport, &fakeRecorder{})
	require.NoError(t, controller.Mount(context.Background()))

	require.Eventually(t, func() bool {
		return controller.PresenceState() == domain.StateJoined
	}, time.Second, 5*time.Millisecond)

	controller.Unmount()
	controller.Unmount()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Equal(t, []string{"burnout"}, transport.leaves)
}

func TestController_AnonymizedVoiceFlow(t *testing.T) {
	raw := []byte("RAW-HUMAN-AUDIO")
	api := &fakeAPI{anonOut: contract.AnonymizedVoice{
		Transcript: "a soft reading",
		AudioURL:   "https://cdn.example/ai/clip.mp3",
	}}
	config := domain.RoomConfig{
		Name:                  "rupture",
		EditWindow:            domain.DefaultEditWindow,
		AnonymizationRequired: true,
	}
	controller := newTestController(t, config, api, newFakeTransport(), &fakeRecorder{audio: raw})

	require.NoError(t, controller.BeginRecording(context.Background()))
	require.NoError(t, controller.EndRecording(context.Background()))

	// Placeholder lands immediately, flagged as AI, never the raw clip.
	snapshot := controller.Store().Snapshot()
	require.Len(t, snapshot, 1)
	require.True(t, snapshot[0].IsAI)
	require.Equal(t, domain.UploadPending, snapshot[0].UploadState)
	require.Empty(t, snapshot[0].AudioRef)

	require.Eventually(t, func() bool {
		m, ok := controller.Store().Get(snapshot[0].ID)
		return ok && m.UploadState == domain.UploadPublished
	}, time.Second, 5*time.Millisecond)

	m, _ := controller.Store().Get(snapshot[0].ID)
	require.Equal(t, "https://cdn.example/ai/clip.mp3", m.AudioRef, "only anonymizer output is stored")
	require.Equal(t, "a soft reading", m.Transcript)
}

func TestController_AnonymizationFailureIsTerminal(t *testing.T) {
	api := &fakeAPI{anonErr: fmt.Errorf("anonymizer down")}
	config := domain.RoomConfig{
		Name:                  "rupture",
		EditWindow:            domain.DefaultEditWindow,
		AnonymizationRequired: true,
	}
	var logBuf bytes.Buffer
	controller, err := NewController(config, domain.Session{UserID: "u1", Lang: "en"},
		api, newFakeTransport(), &fakeRecorder{audio: []byte("raw")},
		slog.New(slog.NewTextHandler(&logBuf, nil)))
	require.NoError(t, err)
	monitor := observability.NewMonitor()
	controller.UseMonitor(monitor)

	require.NoError(t, controller.BeginRecording(context.Background()))
	require.NoError(t, controller.EndRecording(context.Background()))
	id := controller.Store().Snapshot()[0].ID

	require.Eventually(t, func() bool {
		m, ok := controller.Store().Get(id)
		return ok && m.UploadState == domain.UploadFailed
	}, time.Second, 5*time.Millisecond)

	m, _ := controller.Store().Get(id)
	require.Empty(t, m.AudioRef, "raw capture never exposed as a fallback")
	require.Equal(t, uint64(1), monitor.Snapshot().AnonymizeFailures)
	_, hasDraft := controller.pipeline.Draft()
	require.False(t, hasDraft, "draft destroyed, user must re-record")
	require.Contains(t, logBuf.String(), errors.ErrAnonymizationFailed.Error())
}

func TestController_DirectPublishConfirm(t *testing.T) {
	api := &fakeAPI{}
	controller := newTestController(t, burnoutConfig(), api, newFakeTransport(),
		&fakeRecorder{audio: []byte("clip")})

	require.NoError(t, controller.BeginRecording(context.Background()))
	require.NoError(t, controller.EndRecording(context.Background()))

	snapshot := controller.Store().Snapshot()
	require.Len(t, snapshot, 1)
	localID := snapshot[0].ID
	require.Equal(t, domain.UploadPending, snapshot[0].UploadState)

	require.NoError(t, controller.ConfirmVoice(context.Background(), localID))

	published := controller.Store().Snapshot()[0]
	require.Equal(t, domain.UploadPublished, published.UploadState)
	require.Equal(t, "https://cdn.example/voice.wav", published.AudioRef)
	require.NotEqual(t, localID, published.ID, "server id replaces the local ref")
}

func TestController_DirectPublishFailureKeepsDraft(t *testing.T) {
	api := &fakeAPI{publishErr: fmt.Errorf("upload failed")}
	controller := newTestController(t, burnoutConfig(), api, newFakeTransport(),
		&fakeRecorder{audio: []byte("clip")})

	require.NoError(t, controller.BeginRecording(context.Background()))
	require.NoError(t, controller.EndRecording(context.Background()))
	localID := controller.Store().Snapshot()[0].ID

	require.Error(t, controller.ConfirmVoice(context.Background(), localID))

	// Retry with the same draft once the network recovers.
	api.mu.Lock()
	api.publishErr = nil
	api.mu.Unlock()
	require.NoError(t, controller.ConfirmVoice(context.Background(), localID))
	require.Equal(t, domain.UploadPublished, controller.Store().Snapshot()[0].UploadState)
}

func TestController_DiscardVoiceRemovesLocalDraft(t *testing.T) {
	controller := newTestController(t, burnoutConfig(), &fakeAPI{}, newFakeTransport(),
		&fakeRecorder{audio: []byte("clip")})

	require.NoError(t, controller.BeginRecording(context.Background()))
	require.NoError(t, controller.EndRecording(context.Background()))
	localID := controller.Store().Snapshot()[0].ID

	require.NoError(t, controller.DiscardVoice(localID))
	require.Equal(t, 0, controller.Store().Len())
}

func TestController_PinnedNoteLifecycle(t *testing.T) {
	controller := newTestController(t, burnoutConfig(), &fakeAPI{}, newFakeTransport(), &fakeRecorder{})

	_, ok := controller.Note()
	require.False(t, ok)

	controller.SetNote("  breathe  ")
	text, ok := controller.Note()
	require.True(t, ok)
	require.Equal(t, "breathe", text)
	require.Equal(t, 0, controller.Store().Len(), "the note is not a message")

	controller.SetNote("")
	_, ok = controller.Note()
	require.False(t, ok, "blank clears the note")
}

func TestController_PinnedNoteExpiresAfterADay(t *testing.T) {
	controller := newTestController(t, burnoutConfig(), &fakeAPI{}, newFakeTransport(), &fakeRecorder{})
	controller.SetNote("stale thought")

	controller.mu.Lock()
	controller.note.savedAt = time.Now().Add(-noteTTL - time.Minute)
	controller.mu.Unlock()

	_, ok := controller.Note()
	require.False(t, ok, "a note older than a day is gone")
}

func TestController_PinnedNoteRestoredOnMount(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	history := store.NewHistory(db, logs.GetLoggerFromString("error"), nil)

	first := newTestController(t, burnoutConfig(), &fakeAPI{}, newFakeTransport(), &fakeRecorder{})
	first.UseHistory(history)
	first.SetNote("keep going")

	second := newTestController(t, burnoutConfig(), &fakeAPI{}, newFakeTransport(), &fakeRecorder{})
	second.UseHistory(history)
	require.NoError(t, second.Mount(context.Background()))

	text, ok := second.Note()
	require.True(t, ok)
	require.Equal(t, "keep going", text)
}

func TestController_BeginRecordingTwiceAcquiresOnce(t *testing.T) {
	recorder := &fakeRecorder{}
	controller := newTestController(t, burnoutConfig(), &fakeAPI{}, newFakeTransport(), recorder)

	require.NoError(t, controller.BeginRecording(context.Background()))
	require.NoError(t, controller.BeginRecording(context.Background()), "second press is a silent no-op")

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Equal(t, 1, recorder.begins)
}
