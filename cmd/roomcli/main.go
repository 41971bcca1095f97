// roomcli joins one room from a terminal: it tails the stream, shows
// the live presence count, and sends whatever you type. Commands:
// /list, /edit <id> <text>, /delete <id>, /translate <id>,
// /note [text], /quit.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"room-engine/contract"
	"room-engine/domain"
	"room-engine/domain/event"
	"room-engine/observability"
	"room-engine/presence"
	"room-engine/restapi"
	"room-engine/room"
	"room-engine/store"
	"room-engine/voice"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomcli error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// 1. Load configuration from environment variables.
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Assemble the engine.
	api := restapi.NewClient(config.APIBaseURL, nil, log)
	transport := presence.NewManager(config.SocketURL, log)
	recorder := voice.NewPortAudioRecorder()

	controller, err := room.NewController(domain.RoomConfig{
		Name:                  config.Room,
		EditWindow:            config.EditWindow,
		AnonymizationRequired: config.AnonymizationRequired,
	}, domain.Session{UserID: config.UserID, Lang: config.TargetLang},
		api, transport, recorder, log)
	if err != nil {
		return exitConfig, err
	}

	monitor := observability.NewMonitor()
	controller.UseMonitor(monitor)
	transport.UseMonitor(monitor)

	// 3. Optional local history cache.
	if config.BadgerFilepath != "" {
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return exitRuntime, fmt.Errorf("history cache opening failed: %w", err)
		}
		defer func() {
			log.Info("Closing history cache...")
			_ = db.Close()
		}()
		controller.UseHistory(store.NewHistory(db, log, config.HistoryLimit))
	}

	controller.Add(newPrinter(config.Room))

	// 4. Mount the room.
	if err = controller.Mount(ctx); err != nil {
		log.Warn("Room mounted degraded", "error", err)
	}
	defer controller.Unmount()

	color.Cyanln(fmt.Sprintf("Joined %q as %q (Ctrl+C to quit)", config.Room, config.UserID))

	// 5. Input loop.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("Leaving room...")
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if done := handleLine(ctx, controller, monitor, line); done {
				return exitOK, nil
			}
		}
	}
}

func handleLine(ctx context.Context, controller *room.Controller,
	monitor *observability.Monitor, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "/quit":
		return true
	case line == "/list":
		printStream(controller)
	case line == "/stats":
		fmt.Printf("%+v\n", monitor.Snapshot())
	case strings.HasPrefix(line, "/edit "):
		parts := strings.SplitN(line[len("/edit "):], " ", 2)
		if len(parts) != 2 {
			color.Redln("usage: /edit <id> <text>")
			return false
		}
		if _, err := controller.StartEdit(parts[0]); err != nil {
			color.Redln(err.Error())
			return false
		}
		if err := controller.SendText(ctx, parts[1]); err != nil {
			color.Redln(err.Error())
		}
	case strings.HasPrefix(line, "/delete "):
		if err := controller.DeleteMessage(ctx, strings.TrimSpace(line[len("/delete "):])); err != nil {
			color.Redln(err.Error())
		}
	case strings.HasPrefix(line, "/translate "):
		controller.RequestTranslation(ctx, strings.TrimSpace(line[len("/translate "):]), "")
	case line == "/note":
		if text, ok := controller.Note(); ok {
			color.Yellowln(text)
		} else {
			color.Grayln("no pinned note")
		}
	case strings.HasPrefix(line, "/note "):
		controller.SetNote(line[len("/note "):])
	case line != "":
		if err := controller.SendText(ctx, line); err != nil {
			color.Redln(err.Error())
		}
	}
	return false
}

func printStream(controller *room.Controller) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Kind", "Text", "At", "Edited"})
	for _, m := range controller.Store().Snapshot() {
		text := m.Text
		if m.Kind == domain.KindVoice {
			text = fmt.Sprintf("[voice] %s", m.Transcript)
		}
		edited := ""
		if m.EditedAt != nil {
			edited = m.EditedAt.Format(time.TimeOnly)
		}
		table.Append([]string{m.ID, string(m.Kind), text, m.CreatedAt.Format(time.TimeOnly), edited})
	}
	table.Render()
	color.Greenln(fmt.Sprintf("%d online", controller.OnlineCount()))
}

// printer echoes engine events to the terminal as they land.
type printer struct {
	room string
}

var _ contract.EventSink = printer{}

func newPrinter(room string) printer { return printer{room: room} }

func (p printer) Consume(e event.EngineEvent) {
	if e.Room() != p.room {
		return
	}
	switch evt := e.(type) {
	case event.MessageAppended:
		if evt.Message.Kind == domain.KindVoice {
			color.Grayln(fmt.Sprintf("[%s] voice message (%s)", evt.Message.ID, evt.Message.UploadState))
			return
		}
		fmt.Printf("[%s] %s\n", evt.Message.ID, evt.Message.Text)
	case event.MessageEdited:
		fmt.Printf("[%s] (edited) %s\n", evt.ID, evt.Text)
	case event.MessageRemoved:
		color.Grayln(fmt.Sprintf("[%s] removed", evt.ID))
	case event.TranslationAttached:
		color.Yellowln(fmt.Sprintf("[%s] → %s", evt.ID, evt.Text))
	case event.OnlineCountChanged:
		color.Greenln(fmt.Sprintf("%d online", evt.Count))
	case event.VoiceStateChanged:
		color.Grayln(fmt.Sprintf("[%s] voice %s", evt.ID, evt.State))
	}
}
