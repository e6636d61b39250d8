package timeline

import (
	"slices"

	"github.com/golang/glog"
)

// the externally observed ordered item sequence: visible events interleaved
// with virtual items from the grouping collaborator. every mutation returns
// the diffs that describe it, in the order the changes logically occur,
// never batched into a replace-all.
//
// not safe for concurrent use. all calls must hold the timeline state lock.
type projection struct {
	log *eventLog

	items []*Item
}

func newProjection(log *eventLog) *projection {
	return &projection{
		log:   log,
		items: []*Item{},
	}
}

func (self *projection) snapshot() []*Item {
	return slices.Clone(self.items)
}

func (self *projection) len() int {
	return len(self.items)
}

func (self *projection) indexOfEvent(eventId EventId) int {
	for i, item := range self.items {
		if item.Event != nil && item.Event.EventId == eventId {
			return i
		}
	}
	return -1
}

func (self *projection) eventItem(eventId EventId) *EventItem {
	if i := self.indexOfEvent(eventId); 0 <= i {
		return self.items[i].Event
	}
	return nil
}

// ordered visible event items, virtual items excluded
func (self *projection) eventItems() []*EventItem {
	events := []*EventItem{}
	for _, item := range self.items {
		if item.Event != nil {
			events = append(events, item.Event)
		}
	}
	return events
}

func (self *projection) pushBack(eventItem *EventItem) ItemDiff {
	item := &Item{Event: eventItem}
	self.items = append(self.items, item)
	return pushBackDiff(item)
}

func (self *projection) pushFront(eventItem *EventItem) ItemDiff {
	item := &Item{Event: eventItem}
	self.items = append([]*Item{item}, self.items...)
	return pushFrontDiff(item)
}

// inserts a newly visible event at the position implied by the ordered event
// log: immediately before the first projected event that is later than it.
func (self *projection) insertSorted(eventItem *EventItem) ItemDiff {
	position, known := self.log.positionOf(eventItem.EventId)
	if !known {
		// not in the log, treat as latest
		return self.pushBack(eventItem)
	}
	for i, item := range self.items {
		if item.Event == nil {
			continue
		}
		itemPosition, itemKnown := self.log.positionOf(item.Event.EventId)
		if itemKnown && position < itemPosition {
			item := &Item{Event: eventItem}
			self.items = slices.Insert(self.items, i, item)
			if i == 0 {
				return pushFrontDiff(item)
			}
			return insertDiff(i, item)
		}
	}
	return self.pushBack(eventItem)
}

// replaces the item for the given event in place
func (self *projection) setEvent(eventItem *EventItem) (ItemDiff, bool) {
	i := self.indexOfEvent(eventItem.EventId)
	if i < 0 {
		glog.V(2).Infof("[proj]set missing %s\n", eventItem.EventId)
		return ItemDiff{}, false
	}
	item := &Item{Event: eventItem}
	self.items[i] = item
	return setDiff(i, item), true
}

func (self *projection) removeEvent(eventId EventId) (ItemDiff, bool) {
	i := self.indexOfEvent(eventId)
	if i < 0 {
		return ItemDiff{}, false
	}
	self.items = slices.Delete(self.items, i, i+1)
	return removeDiff(i), true
}

func (self *projection) clear() ItemDiff {
	self.items = []*Item{}
	return resetDiff([]*Item{})
}

// reconciles the interleaved virtual items against what the grouping
// collaborator wants for the current visible event sequence. event items are
// common to both sides, so this reduces to inserting and removing virtual
// items with minimal diffs.
func (self *projection) regroup(grouper VirtualItemGrouper) []ItemDiff {
	if grouper == nil {
		return nil
	}

	groups := grouper.Group(self.eventItems())

	desired := []*Item{}
	for _, item := range self.items {
		if item.Event == nil {
			continue
		}
		for _, virtual := range groups[item.Event.EventId] {
			desired = append(desired, &Item{Virtual: virtual})
		}
		desired = append(desired, item)
	}

	diffs := []ItemDiff{}
	a := 0
	b := 0
	for a < len(self.items) || b < len(desired) {
		if a < len(self.items) && b < len(desired) && sameItem(self.items[a], desired[b]) {
			a += 1
			b += 1
			continue
		}
		if a < len(self.items) && self.items[a].Virtual != nil {
			// stale virtual item. the live index equals the number of
			// items already confirmed.
			diffs = append(diffs, removeDiff(b))
			a += 1
			continue
		}
		// missing virtual item
		if b == 0 {
			diffs = append(diffs, pushFrontDiff(desired[b]))
		} else {
			diffs = append(diffs, insertDiff(b, desired[b]))
		}
		b += 1
	}

	self.items = desired
	return diffs
}

func sameItem(a *Item, b *Item) bool {
	if a.Event != nil || b.Event != nil {
		return a.Event == b.Event
	}
	return *a.Virtual == *b.Virtual
}
