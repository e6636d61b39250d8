package timeline

import (
	"sort"
)

// the authoritative ordered log of protocol events.
// order is insertion order from two ends: live arrivals append at the tail,
// back-pagination prepends at the head. this defines the canonical relative
// ordering for all "later than" comparisons, independent of any embedded
// timestamp.
//
// entries are never deleted individually, only via `reset`, so a position
// comparison is stable for the lifetime of an identifier.
//
// not safe for concurrent use. all calls must hold the timeline state lock.

type storedEvent struct {
	event *Event

	// order key in the log. head inserts decrement, tail inserts increment,
	// so keys compare correctly across prepends without reindexing.
	orderKey int64

	// derived from the visibility filter. updated on ingest and on
	// content change.
	visible bool
}

type eventLog struct {
	// ordered oldest to newest
	entries []*storedEvent
	// event id -> entry
	idEntries map[EventId]*storedEvent

	headKey int64
	tailKey int64
}

func newEventLog() *eventLog {
	return &eventLog{
		entries:   []*storedEvent{},
		idEntries: map[EventId]*storedEvent{},
		headKey:   0,
		tailKey:   0,
	}
}

func (self *eventLog) len() int {
	return len(self.entries)
}

// inserts at the tail. if the identifier already exists the existing entry
// keeps its position and only the event payload is replaced. this is how
// decryption outcomes and edits re-enter.
// returns the entry and whether it replaced an existing one.
func (self *eventLog) appendLive(event *Event) (*storedEvent, bool) {
	if entry, ok := self.idEntries[event.Id]; ok {
		entry.event = event
		return entry, true
	}
	entry := &storedEvent{
		event:    event,
		orderKey: self.tailKey,
	}
	self.tailKey += 1
	self.entries = append(self.entries, entry)
	self.idEntries[event.Id] = entry
	return entry, false
}

// inserts at the head. repeated calls build a reverse-chronological head.
// known identifiers replace in place, same as `appendLive`.
func (self *eventLog) prependPaginated(event *Event) (*storedEvent, bool) {
	if entry, ok := self.idEntries[event.Id]; ok {
		entry.event = event
		return entry, true
	}
	self.headKey -= 1
	entry := &storedEvent{
		event:    event,
		orderKey: self.headKey,
	}
	self.entries = append([]*storedEvent{entry}, self.entries...)
	self.idEntries[event.Id] = entry
	return entry, false
}

// mutates the content of an existing entry without changing its position.
// no-op if the identifier is unknown.
func (self *eventLog) replaceContent(eventId EventId, content *EventContent) bool {
	entry, ok := self.idEntries[eventId]
	if !ok {
		return false
	}
	entry.event.Content = content
	return true
}

func (self *eventLog) get(eventId EventId) *storedEvent {
	return self.idEntries[eventId]
}

// total order over current entries. absent identifiers read as unknown,
// which includes identifiers purged by `reset`.
func (self *eventLog) positionOf(eventId EventId) (int64, bool) {
	entry, ok := self.idEntries[eventId]
	if !ok {
		return 0, false
	}
	return entry.orderKey, true
}

// index of the entry in the ordered slice
func (self *eventLog) indexOf(entry *storedEvent) int {
	return sort.Search(len(self.entries), func(i int) bool {
		return entry.orderKey <= self.entries[i].orderKey
	})
}

// scans backward from the entry with the given id, inclusive, and returns
// the nearest visible entry, or nil if no entry at or before it is visible.
func (self *eventLog) nearestVisibleAtOrBefore(eventId EventId) *storedEvent {
	entry, ok := self.idEntries[eventId]
	if !ok {
		return nil
	}
	for i := self.indexOf(entry); 0 <= i; i -= 1 {
		if self.entries[i].visible {
			return self.entries[i]
		}
	}
	return nil
}

// drops all entries. used by limited-sync recovery.
func (self *eventLog) reset() {
	self.entries = []*storedEvent{}
	self.idEntries = map[EventId]*storedEvent{}
	self.headKey = 0
	self.tailKey = 0
}
