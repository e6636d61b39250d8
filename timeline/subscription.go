package timeline

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// one subscriber's cursor into the projected item diff stream.
//
// the writer appends to the pending queue and never blocks on a reader. a
// subscriber whose queue exceeds its buffer is dropped to resync: its queue
// is discarded and the next read returns a fresh synthetic snapshot. the
// first read of every subscription is a synthetic snapshot.
//
// lock order is always timeline state lock before subscription state lock.
type ItemSubscription struct {
	subscriptionId Id
	timeline       *Timeline

	bufferSize int

	stateLock sync.Mutex
	pending   []ItemDiff
	resync    bool
	closed    bool

	updateMonitor *Monitor
}

func newItemSubscription(timeline *Timeline, bufferSize int) *ItemSubscription {
	return &ItemSubscription{
		subscriptionId: NewId(),
		timeline:       timeline,
		bufferSize:     bufferSize,
		// the first read returns a snapshot
		resync:        true,
		updateMonitor: NewMonitor(),
	}
}

func (self *ItemSubscription) SubscriptionId() Id {
	return self.subscriptionId
}

// called by the writer with the timeline state lock held
func (self *ItemSubscription) offer(diffs []ItemDiff) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed || self.resync {
		return
	}
	if self.bufferSize < len(self.pending)+len(diffs) {
		glog.V(2).Infof("[sub]%s fell behind, resync\n", self.subscriptionId)
		self.pending = nil
		self.resync = true
	} else {
		self.pending = append(self.pending, diffs...)
	}
	self.updateMonitor.NotifyAll()
}

// blocks until the next batch of diffs is available, the context is done,
// or the subscription is closed. returns false when the stream ends.
func (self *ItemSubscription) Next(ctx context.Context) ([]ItemDiff, bool) {
	for {
		notify := self.updateMonitor.NotifyChannel()

		self.stateLock.Lock()
		resync := self.resync
		closed := self.closed
		var pending []ItemDiff
		if !resync && 0 < len(self.pending) {
			pending = self.pending
			self.pending = nil
		}
		self.stateLock.Unlock()

		if resync {
			return []ItemDiff{resetDiff(self.timeline.resyncSnapshot(self))}, true
		}
		if 0 < len(pending) {
			return pending, true
		}
		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-self.timeline.ctx.Done():
			return nil, false
		case <-notify:
		}
	}
}

func (self *ItemSubscription) Close() {
	self.timeline.unsubscribe(self.subscriptionId)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.closed = true
	self.updateMonitor.NotifyAll()
}
