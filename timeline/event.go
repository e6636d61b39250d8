package timeline

import (
	"fmt"
	"time"
)

// protocol identifiers are opaque strings assigned by the homeserver
type EventId string

type UserId string

// where an event entered the timeline from
type EventOrigin string

const (
	EventOriginLive          EventOrigin = "live"
	EventOriginBackPaginated EventOrigin = "back-paginated"
)

// content state machine is:
// ContentStateUndecipherable
//
//	-> ContentStateClear (via a decryption outcome)
//	-> ContentStateUndecipherable (retry failed, session metadata may update)
//
// ContentStateClear is terminal except for edits, which stay clear.
type ContentState string

const (
	ContentStateClear          ContentState = "clear"
	ContentStateUndecipherable ContentState = "undecipherable"
)

const (
	MsgTypeText   = "m.text"
	MsgTypeNotice = "m.notice"
)

// session metadata kept for display while an event cannot be decrypted
type EncryptedInfo struct {
	Algorithm string
	SessionId string
}

// tagged variant behind a stable identifier-keyed slot.
// the whole entry is never replaced on decryption, only the content,
// so the event's position and receipt attachments survive the transition.
type EventContent struct {
	State ContentState

	// set when State is ContentStateClear
	MsgType string
	Body    string

	// set when State is ContentStateUndecipherable
	Encrypted *EncryptedInfo
}

func TextContent(body string) *EventContent {
	return &EventContent{
		State:   ContentStateClear,
		MsgType: MsgTypeText,
		Body:    body,
	}
}

func NoticeContent(body string) *EventContent {
	return &EventContent{
		State:   ContentStateClear,
		MsgType: MsgTypeNotice,
		Body:    body,
	}
}

func UndecipherableContent(algorithm string, sessionId string) *EventContent {
	return &EventContent{
		State: ContentStateUndecipherable,
		Encrypted: &EncryptedInfo{
			Algorithm: algorithm,
			SessionId: sessionId,
		},
	}
}

func (self *EventContent) equals(content *EventContent) bool {
	if self.State != content.State {
		return false
	}
	switch self.State {
	case ContentStateClear:
		return self.MsgType == content.MsgType && self.Body == content.Body
	default:
		if self.Encrypted == nil || content.Encrypted == nil {
			return self.Encrypted == content.Encrypted
		}
		return *self.Encrypted == *content.Encrypted
	}
}

// an already-deserialized protocol event.
// the engine owns no wire format and consumes these as-is.
type Event struct {
	Id     EventId
	Sender UserId
	Origin EventOrigin

	// empty for events outside any reply thread
	ThreadRoot EventId

	Content *EventContent

	// origination timestamp from the sending server.
	// used only for receipt timestamps and virtual-item grouping,
	// never for ordering.
	Time time.Time
}

func (self *Event) String() string {
	return fmt.Sprintf("%s(%s)", self.Id, self.Sender)
}

// protocol version rules passed through to the visibility filter.
// opaque to the engine.
type RoomVersionRules struct {
	Version string
}

// pure with respect to the event content. called on ingestion and
// whenever the content changes (decryption outcome).
type EventFilterFunction func(event *Event, rules *RoomVersionRules) bool
