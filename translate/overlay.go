// Package translate attaches derived translations to messages.
// Translations are an overlay: the original text is authoritative and
// is never replaced. Failures are silent by design; a message without
// a translation is simply rendered untranslated.
package translate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/abadojack/whatlanggo"

	"room-engine/contract"
	"room-engine/store"
)

type requestKey struct {
	messageID string
	target    string
}

type Overlay struct {
	mu       sync.Mutex
	log      *slog.Logger
	api      contract.RestAPI
	store    *store.MessageStore
	inFlight map[requestKey]struct{}
	cache    map[requestKey]string
}

func NewOverlay(api contract.RestAPI, messageStore *store.MessageStore, log *slog.Logger) *Overlay {
	return &Overlay{
		log:      log,
		api:      api,
		store:    messageStore,
		inFlight: make(map[requestKey]struct{}),
		cache:    make(map[requestKey]string),
	}
}

// Request fetches a translation for the message and attaches it to the
// store. Concurrent requests for the same (message, target) coalesce:
// only the first issues the call, later ones return and let it land.
// A text already in the target language short-circuits locally.
func (o *Overlay) Request(ctx context.Context, messageID, text, target string) {
	if text == "" || target == "" {
		return
	}
	key := requestKey{messageID: messageID, target: target}

	o.mu.Lock()
	if cached, ok := o.cache[key]; ok {
		o.mu.Unlock()
		o.attach(messageID, cached)
		return
	}
	if _, busy := o.inFlight[key]; busy {
		o.mu.Unlock()
		return
	}
	o.inFlight[key] = struct{}{}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inFlight, key)
		o.mu.Unlock()
	}()

	// No network call when the text is already in the target language.
	info := whatlanggo.Detect(text)
	if info.IsReliable() && info.Lang.Iso6391() == target {
		o.remember(key, text)
		o.attach(messageID, text)
		return
	}

	translated, err := o.api.Translate(ctx, text, target)
	if err != nil {
		o.log.Debug("Translation failed, leaving message unchanged",
			"message", messageID, "target", target, "error", err)
		return
	}
	o.remember(key, translated)
	o.attach(messageID, translated)
}

func (o *Overlay) remember(key requestKey, translated string) {
	o.mu.Lock()
	o.cache[key] = translated
	o.mu.Unlock()
}

func (o *Overlay) attach(messageID, translated string) {
	if err := o.store.AttachTranslation(messageID, translated); err != nil {
		// The message may have been deleted while the call was out.
		o.log.Debug("Translation landed on a missing message", "message", messageID)
	}
}
