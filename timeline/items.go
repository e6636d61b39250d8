package timeline

import (
	"time"

	"golang.org/x/exp/maps"
)

// a visible event projected into the item sequence.
// items are immutable snapshots. every change produces a fresh value plus a
// diff, so subscribers and snapshot holders never observe mutation.
type EventItem struct {
	EventId EventId
	Sender  UserId
	Content *EventContent
	Time    time.Time

	// user -> receipt attributed to this item.
	// the timeline's own user never appears here.
	ReadReceipts map[UserId]*Receipt
}

func (self *EventItem) withReceipts(receipts map[UserId]*Receipt) *EventItem {
	next := *self
	next.ReadReceipts = maps.Clone(receipts)
	if next.ReadReceipts == nil {
		next.ReadReceipts = map[UserId]*Receipt{}
	}
	return &next
}

// a non-event marker produced by the grouping collaborator.
// opaque to the engine: never reordered, never carries receipts.
// compared by value when regrouping.
type VirtualItem struct {
	Kind string
	Tag  string
}

// exactly one of Event, Virtual is set
type Item struct {
	Event   *EventItem
	Virtual *VirtualItem
}

func (self *Item) IsEvent() bool {
	return self.Event != nil
}

func (self *Item) IsVirtual() bool {
	return self.Virtual != nil
}

type ItemDiffOp string

const (
	ItemDiffOpPushFront ItemDiffOp = "push-front"
	ItemDiffOpPushBack  ItemDiffOp = "push-back"
	ItemDiffOpInsert    ItemDiffOp = "insert"
	ItemDiffOpSet       ItemDiffOp = "set"
	ItemDiffOpRemove    ItemDiffOp = "remove"
	// synthetic snapshot. emitted as the first diff of every subscription
	// and after a subscriber falls behind and resyncs.
	ItemDiffOpReset ItemDiffOp = "reset"
)

// one discrete change to the projected item sequence.
// indexes refer to the sequence as it is at the moment the diff applies.
type ItemDiff struct {
	Op    ItemDiffOp
	Index int
	Item  *Item
	// set for reset only
	Items []*Item
}

func pushFrontDiff(item *Item) ItemDiff {
	return ItemDiff{Op: ItemDiffOpPushFront, Item: item}
}

func pushBackDiff(item *Item) ItemDiff {
	return ItemDiff{Op: ItemDiffOpPushBack, Item: item}
}

func insertDiff(index int, item *Item) ItemDiff {
	return ItemDiff{Op: ItemDiffOpInsert, Index: index, Item: item}
}

func setDiff(index int, item *Item) ItemDiff {
	return ItemDiff{Op: ItemDiffOpSet, Index: index, Item: item}
}

func removeDiff(index int) ItemDiff {
	return ItemDiff{Op: ItemDiffOpRemove, Index: index}
}

func resetDiff(items []*Item) ItemDiff {
	return ItemDiff{Op: ItemDiffOpReset, Items: items}
}
