package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/roomline/roomline/timeline"
)

const TimelineCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Timeline control.

Replays a script of timeline mutations and prints the resulting item diffs,
or serves the diff stream over a websocket.

The script is one JSON object per line:
    {"op": "live", "event": {"id": "$a", "sender": "@alice:local", "body": "hi"}}
    {"op": "paginated", "event": {...}}
    {"op": "receipts", "receipts": [{"event_id": "$a", "kind": "public-read", "user": "@bob:local", "scope": "unthreaded"}]}
    {"op": "decrypt", "event_id": "$a", "body": "decrypted"}
    {"op": "clear"}

Usage:
    timelinectl replay <script>
        [--user=<user_id>]
        [--thread=<thread_root>]
        [--hide_notices]
        [--date_dividers]
    timelinectl serve --listen=<address>
        [--user=<user_id>]
        [--thread=<thread_root>]
        [--hide_notices]
        [--date_dividers]
    timelinectl tail --url=<ws_url>

Options:
    -h --help                Show this screen.
    --version                Show version.
    --user=<user_id>         Own user id [default: @me:local].
    --thread=<thread_root>   Focus on a single thread.
    --hide_notices           Filter out notice messages.
    --date_dividers          Interleave date divider items.
    --listen=<address>       Listen address, e.g. 127.0.0.1:8080.
    --url=<ws_url>           Websocket url of a serve instance.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], TimelineCtlVersion)
	if err != nil {
		panic(err)
	}

	if replay_, _ := opts.Bool("replay"); replay_ {
		replay(opts)
	} else if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if tail_, _ := opts.Bool("tail"); tail_ {
		tail(opts)
	}
}

func newTimelineFromOpts(ctx context.Context, opts docopt.Opts) *timeline.Timeline {
	ownUserId, _ := opts.String("--user")

	focus := timeline.LiveFocus()
	if threadRoot, err := opts.String("--thread"); err == nil && threadRoot != "" {
		focus = timeline.ThreadFocus(timeline.EventId(threadRoot))
	}

	settings := timeline.DefaultTimelineSettings()
	if hideNotices, _ := opts.Bool("--hide_notices"); hideNotices {
		settings.EventFilter = func(event *timeline.Event, rules *timeline.RoomVersionRules) bool {
			return !(event.Content.State == timeline.ContentStateClear &&
				event.Content.MsgType == timeline.MsgTypeNotice)
		}
	}
	if dateDividers, _ := opts.Bool("--date_dividers"); dateDividers {
		settings.Grouper = timeline.DayDividerGrouper(time.UTC)
	}

	return timeline.NewTimeline(ctx, timeline.UserId(ownUserId), focus, settings)
}

type scriptEvent struct {
	Id         string `json:"id"`
	Sender     string `json:"sender"`
	ThreadRoot string `json:"thread_root,omitempty"`
	MsgType    string `json:"msg_type,omitempty"`
	Body       string `json:"body,omitempty"`
	Algorithm  string `json:"algorithm,omitempty"`
	SessionId  string `json:"session_id,omitempty"`
	// unix milliseconds
	Time int64 `json:"time,omitempty"`
}

func (self *scriptEvent) event() *timeline.Event {
	var content *timeline.EventContent
	switch {
	case self.Algorithm != "":
		content = timeline.UndecipherableContent(self.Algorithm, self.SessionId)
	case self.MsgType == timeline.MsgTypeNotice:
		content = timeline.NoticeContent(self.Body)
	default:
		content = timeline.TextContent(self.Body)
	}

	var eventTime time.Time
	if self.Time != 0 {
		eventTime = time.UnixMilli(self.Time)
	}

	return &timeline.Event{
		Id:         timeline.EventId(self.Id),
		Sender:     timeline.UserId(self.Sender),
		ThreadRoot: timeline.EventId(self.ThreadRoot),
		Content:    content,
		Time:       eventTime,
	}
}

type scriptReceipt struct {
	EventId string `json:"event_id"`
	Kind    string `json:"kind,omitempty"`
	User    string `json:"user"`
	Scope   string `json:"scope,omitempty"`
}

type scriptEntry struct {
	Op       string          `json:"op"`
	Event    *scriptEvent    `json:"event,omitempty"`
	Receipts []scriptReceipt `json:"receipts,omitempty"`

	// decrypt
	EventId   string `json:"event_id,omitempty"`
	Body      string `json:"body,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
	SessionId string `json:"session_id,omitempty"`
}

func applyScriptEntry(tl *timeline.Timeline, entry *scriptEntry) error {
	switch entry.Op {
	case "live":
		if entry.Event == nil {
			return errors.New("live entry missing event")
		}
		tl.IngestLive(entry.Event.event())
	case "paginated":
		if entry.Event == nil {
			return errors.New("paginated entry missing event")
		}
		tl.IngestPaginated(entry.Event.event())
	case "receipts":
		batch := []timeline.ReceiptEntry{}
		for _, receipt := range entry.Receipts {
			scope := timeline.UnthreadedScope()
			if receipt.Scope != "" {
				var err error
				scope, err = timeline.ParseReceiptScope(receipt.Scope)
				if err != nil {
					return errors.Wrap(err, "receipts entry")
				}
			}
			kind := timeline.ReceiptKindPublicRead
			if receipt.Kind != "" {
				kind = timeline.ReceiptKind(receipt.Kind)
			}
			batch = append(batch, timeline.ReceiptEntry{
				EventId: timeline.EventId(receipt.EventId),
				Kind:    kind,
				User:    timeline.UserId(receipt.User),
				Scope:   scope,
			})
		}
		tl.ApplyReceipts(batch)
	case "decrypt":
		outcome := &timeline.DecryptionOutcome{}
		if entry.Algorithm != "" {
			outcome.Undecipherable = &timeline.EncryptedInfo{
				Algorithm: entry.Algorithm,
				SessionId: entry.SessionId,
			}
		} else {
			outcome.Clear = timeline.TextContent(entry.Body)
		}
		tl.ApplyDecryptionOutcome(timeline.EventId(entry.EventId), outcome)
	case "clear":
		tl.Clear()
	default:
		return errors.Errorf("unknown op %s", entry.Op)
	}
	return nil
}

func applyScript(tl *timeline.Timeline, scanner *bufio.Scanner) error {
	line := 0
	for scanner.Scan() {
		line += 1
		raw := scanner.Text()
		if raw == "" {
			continue
		}
		var entry scriptEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return errors.Wrapf(err, "script line %d", line)
		}
		if err := applyScriptEntry(tl, &entry); err != nil {
			return errors.Wrapf(err, "script line %d", line)
		}
	}
	return errors.Wrap(scanner.Err(), "script read")
}

func replay(opts docopt.Opts) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scriptPath, _ := opts.String("<script>")
	script, err := os.Open(scriptPath)
	if err != nil {
		Err.Fatal(errors.Wrap(err, "open script"))
	}
	defer script.Close()

	tl := newTimelineFromOpts(ctx, opts)

	unsub := tl.AddReceiptCommitCallback(func(user timeline.UserId, receipt timeline.UserReadReceipt) {
		commitJson, err := json.Marshal(map[string]any{
			"receipt_commit": map[string]any{
				"user":     user,
				"event_id": receipt.EventId,
				"kind":     receipt.Kind,
				"scope":    receipt.Scope,
			},
		})
		if err != nil {
			Err.Fatal(errors.Wrap(err, "encode commit"))
		}
		Out.Printf("%s", string(commitJson))
	})
	defer unsub()

	sub := tl.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			diffs, ok := sub.Next(ctx)
			if !ok {
				return
			}
			for _, diff := range diffs {
				diffJson, err := json.Marshal(diff)
				if err != nil {
					Err.Fatal(errors.Wrap(err, "encode diff"))
				}
				Out.Printf("%s", string(diffJson))
			}
		}
	}()

	if err := applyScript(tl, bufio.NewScanner(script)); err != nil {
		Err.Fatal(err)
	}

	// closing the timeline ends the stream after the pending diffs drain
	tl.Close()
	<-done
}

func serve(opts docopt.Opts) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenAddress, _ := opts.String("--listen")

	tl := newTimelineFromOpts(ctx, opts)
	defer tl.Close()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	server := &http.Server{
		Addr: listenAddress,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				Err.Printf("%s", errors.Wrap(err, "upgrade"))
				return
			}
			defer ws.Close()

			sub := tl.Subscribe()
			defer sub.Close()

			for {
				diffs, ok := sub.Next(r.Context())
				if !ok {
					return
				}
				if err := ws.WriteJSON(diffs); err != nil {
					Err.Printf("%s", errors.Wrap(err, "write"))
					return
				}
			}
		}),
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.ListenAndServe()
	}()
	Out.Printf("listening on ws://%s", listenAddress)

	// mutations come from stdin, one script entry per line
	scriptDone := make(chan error, 1)
	go func() {
		scriptDone <- applyScript(tl, bufio.NewScanner(os.Stdin))
	}()

	select {
	case err := <-serveDone:
		Err.Fatal(errors.Wrap(err, "serve"))
	case err := <-scriptDone:
		if err != nil {
			Err.Fatal(err)
		}
		// keep serving the final state until interrupted
		err = <-serveDone
		Err.Fatal(errors.Wrap(err, "serve"))
	}
}

func tail(opts docopt.Opts) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url, _ := opts.String("--url")

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		Err.Fatal(errors.Wrap(err, "dial"))
	}
	defer ws.Close()

	var wsMutex sync.Mutex
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		for {
			select {
			case <-pingDone:
				return
			case <-time.After(30 * time.Second):
			}
			wsMutex.Lock()
			err := ws.WriteMessage(websocket.PingMessage, nil)
			wsMutex.Unlock()
			if err != nil {
				return
			}
		}
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			Err.Fatal(errors.Wrap(err, "read"))
		}
		Out.Printf("%s", string(message))
	}
}
