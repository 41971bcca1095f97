//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"room-engine/domain"
	"room-engine/domain/event"
)

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding the need for manual naming in the Worker
// interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives engine events for one mounted room. Sinks must be
// cheap; the controller calls them on its own goroutines.
type EventSink interface {
	Consume(e event.EngineEvent)
}

// RestAPI is the REST collaborator behind the engine. Implementations
// return errors for transport and non-2xx failures; they never panic.
type RestAPI interface {
	LoadMessages(ctx context.Context, room string) ([]domain.Message, error)
	SendText(ctx context.Context, room, userID, content string) (domain.Message, error)
	DeleteMessage(ctx context.Context, id, userID string) error
	PublishVoice(ctx context.Context, room, userID string, audio []byte) (domain.Message, error)
	AnonymizeVoice(ctx context.Context, audio []byte) (AnonymizedVoice, error)
	Translate(ctx context.Context, text, target string) (string, error)
}

// AnonymizedVoice is the anonymizer's output: a synthesized audio
// rendering plus its transcript. It never contains the input audio.
type AnonymizedVoice struct {
	Transcript string
	AudioURL   string
}

// Transport is the shared realtime connection. A single transport may
// serve several mounted rooms; Join/Leave are scoped by room and
// counts are delivered to the handler registered for that room only.
type Transport interface {
	Acquire(ctx context.Context) error
	Release()
	Join(room, userID string, onCount func(count int)) error
	Leave(room, userID string) error
}

// Recorder is the exclusive audio capture device. Begin acquires the
// device; End releases it and returns the captured bytes. At most one
// capture is active per recorder.
type Recorder interface {
	Begin(ctx context.Context) error
	End() ([]byte, error)
}
