package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestSubscriptionSnapshotThenDiffs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tl := NewTimelineWithDefaults(ctx, "@me:local")
	defer tl.Close()

	tl.IngestLive(&Event{Id: "$a", Sender: "@alice:local", Content: TextContent("hi")})

	sub := tl.Subscribe()
	defer sub.Close()

	// the first read is always a synthetic snapshot
	diffs, ok := sub.Next(ctx)
	assert.Equal(t, true, ok)
	assert.Equal(t, 1, len(diffs))
	assert.Equal(t, ItemDiffOpReset, diffs[0].Op)
	assert.Equal(t, 1, len(diffs[0].Items))
	assert.Equal(t, EventId("$a"), diffs[0].Items[0].Event.EventId)

	// alice's implicit receipt moves to her newer event in the same batch
	tl.IngestLive(&Event{Id: "$b", Sender: "@alice:local", Content: TextContent("again")})

	diffs, ok = sub.Next(ctx)
	assert.Equal(t, true, ok)
	assert.Equal(t, 2, len(diffs))
	assert.Equal(t, ItemDiffOpSet, diffs[0].Op)
	assert.Equal(t, 0, diffs[0].Index)
	assert.Equal(t, 0, len(diffs[0].Item.Event.ReadReceipts))
	assert.Equal(t, ItemDiffOpPushBack, diffs[1].Op)
	assert.NotEqual(t, diffs[1].Item.Event.ReadReceipts["@alice:local"], nil)
}

func TestSubscriptionOverflowResync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := DefaultTimelineSettings()
	settings.SubscriptionBufferSize = 1
	tl := NewTimeline(ctx, "@me:local", LiveFocus(), settings)
	defer tl.Close()

	sub := tl.Subscribe()
	defer sub.Close()

	diffs, ok := sub.Next(ctx)
	assert.Equal(t, true, ok)
	assert.Equal(t, ItemDiffOpReset, diffs[0].Op)
	assert.Equal(t, 0, len(diffs[0].Items))

	// two unread batches overflow the one-diff buffer
	tl.IngestLive(&Event{Id: "$a", Sender: "@alice:local", Content: TextContent("a")})
	tl.IngestLive(&Event{Id: "$b", Sender: "@bob:local", Content: TextContent("b")})

	diffs, ok = sub.Next(ctx)
	assert.Equal(t, true, ok)
	assert.Equal(t, 1, len(diffs))
	assert.Equal(t, ItemDiffOpReset, diffs[0].Op)
	assert.Equal(t, 2, len(diffs[0].Items))

	// the stream continues normally after the resync
	tl.IngestLive(&Event{Id: "$c", Sender: "@carol:local", Content: TextContent("c")})
	diffs, ok = sub.Next(ctx)
	assert.Equal(t, true, ok)
	assert.Equal(t, ItemDiffOpPushBack, diffs[0].Op)
	assert.Equal(t, EventId("$c"), diffs[0].Item.Event.EventId)
}

func TestSubscriptionClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tl := NewTimelineWithDefaults(ctx, "@me:local")
	defer tl.Close()

	sub := tl.Subscribe()
	_, ok := sub.Next(ctx)
	assert.Equal(t, true, ok)

	done := make(chan bool)
	go func() {
		_, ok := sub.Next(ctx)
		done <- ok
	}()

	sub.Close()
	select {
	case ok := <-done:
		assert.Equal(t, false, ok)
	case <-time.After(5 * time.Second):
		t.FailNow()
	}

	// a closed subscription no longer observes mutations
	tl.IngestLive(&Event{Id: "$a", Sender: "@alice:local", Content: TextContent("a")})
	_, ok = sub.Next(ctx)
	assert.Equal(t, false, ok)
}

func TestSubscriptionContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tl := NewTimelineWithDefaults(ctx, "@me:local")
	defer tl.Close()

	sub := tl.Subscribe()
	defer sub.Close()
	_, ok := sub.Next(ctx)
	assert.Equal(t, true, ok)

	readCtx, readCancel := context.WithCancel(ctx)
	done := make(chan bool)
	go func() {
		_, ok := sub.Next(readCtx)
		done <- ok
	}()

	readCancel()
	select {
	case ok := <-done:
		assert.Equal(t, false, ok)
	case <-time.After(5 * time.Second):
		t.FailNow()
	}
}
