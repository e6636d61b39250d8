package timeline

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestProjectionInsertSorted(t *testing.T) {
	log := newEventLog()
	proj := newProjection(log)

	a, _ := log.appendLive(&Event{Id: "$a", Content: TextContent("a")})
	b, _ := log.appendLive(&Event{Id: "$b", Content: TextContent("b")})
	c, _ := log.appendLive(&Event{Id: "$c", Content: TextContent("c")})
	a.visible = true
	b.visible = true
	c.visible = true

	proj.pushBack(&EventItem{EventId: "$a"})
	proj.pushBack(&EventItem{EventId: "$c"})

	// middle of the projection
	diff := proj.insertSorted(&EventItem{EventId: "$b"})
	assert.Equal(t, ItemDiffOpInsert, diff.Op)
	assert.Equal(t, 1, diff.Index)
	assert.Equal(t, 1, proj.indexOfEvent("$b"))

	// earlier than everything projected
	head, _ := log.prependPaginated(&Event{Id: "$head", Content: TextContent("head")})
	head.visible = true
	diff = proj.insertSorted(&EventItem{EventId: "$head"})
	assert.Equal(t, ItemDiffOpPushFront, diff.Op)

	// later than everything projected
	tail, _ := log.appendLive(&Event{Id: "$tail", Content: TextContent("tail")})
	tail.visible = true
	diff = proj.insertSorted(&EventItem{EventId: "$tail"})
	assert.Equal(t, ItemDiffOpPushBack, diff.Op)

	ids := []EventId{}
	for _, item := range proj.eventItems() {
		ids = append(ids, item.EventId)
	}
	assert.Equal(t, []EventId{"$head", "$a", "$b", "$c", "$tail"}, ids)
}

func TestProjectionSetRemove(t *testing.T) {
	log := newEventLog()
	proj := newProjection(log)
	log.appendLive(&Event{Id: "$a", Content: TextContent("a")})

	proj.pushBack(&EventItem{EventId: "$a", Content: TextContent("a")})

	diff, ok := proj.setEvent(&EventItem{EventId: "$a", Content: TextContent("edited")})
	assert.Equal(t, true, ok)
	assert.Equal(t, ItemDiffOpSet, diff.Op)
	assert.Equal(t, 0, diff.Index)
	assert.Equal(t, TextContent("edited"), proj.eventItem("$a").Content)

	_, ok = proj.setEvent(&EventItem{EventId: "$missing"})
	assert.Equal(t, false, ok)

	diff, ok = proj.removeEvent("$a")
	assert.Equal(t, true, ok)
	assert.Equal(t, ItemDiffOpRemove, diff.Op)
	assert.Equal(t, 0, proj.len())

	_, ok = proj.removeEvent("$a")
	assert.Equal(t, false, ok)
}

func TestProjectionRegroupDayDividers(t *testing.T) {
	log := newEventLog()
	proj := newProjection(log)
	grouper := DayDividerGrouper(time.UTC)

	day1 := time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	log.appendLive(&Event{Id: "$a", Content: TextContent("a"), Time: day1})
	log.appendLive(&Event{Id: "$b", Content: TextContent("b"), Time: day2})

	proj.pushBack(&EventItem{EventId: "$a", Time: day1})
	diffs := proj.regroup(grouper)
	assert.Equal(t, 1, len(diffs))
	assert.Equal(t, ItemDiffOpPushFront, diffs[0].Op)
	assert.Equal(t, "2024-03-04", diffs[0].Item.Virtual.Tag)

	proj.pushBack(&EventItem{EventId: "$b", Time: day2})
	diffs = proj.regroup(grouper)
	assert.Equal(t, 1, len(diffs))
	assert.Equal(t, ItemDiffOpInsert, diffs[0].Op)
	assert.Equal(t, 2, diffs[0].Index)
	assert.Equal(t, "2024-03-05", diffs[0].Item.Virtual.Tag)

	// [divider, a, divider, b]
	assert.Equal(t, 4, proj.len())

	// idempotent with no intervening mutation
	diffs = proj.regroup(grouper)
	assert.Equal(t, 0, len(diffs))

	// a day-one prepend moves the first divider rather than duplicating it
	log.prependPaginated(&Event{Id: "$early", Content: TextContent("early"), Time: day1.Add(-time.Hour)})
	proj.pushFront(&EventItem{EventId: "$early", Time: day1.Add(-time.Hour)})
	diffs = proj.regroup(grouper)
	assert.Equal(t, 2, len(diffs))
	assert.Equal(t, ItemDiffOpPushFront, diffs[0].Op)
	assert.Equal(t, VirtualKindDateDivider, diffs[0].Item.Virtual.Kind)
	assert.Equal(t, ItemDiffOpRemove, diffs[1].Op)
	assert.Equal(t, 2, diffs[1].Index)
	assert.Equal(t, 5, proj.len())
}
