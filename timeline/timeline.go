package timeline

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
)

// one room or thread view. owns an independent event log, receipt ledger and
// projection; there is no cross-instance shared state.
//
// all mutations (event ingestion, explicit receipts, decryption outcomes,
// clear) are serialized against one another by the state lock so position
// comparisons and latest-wins commits always observe a consistent snapshot.
// read queries copy a point-in-time snapshot out under the same lock.

type TimelineFocus struct {
	threadRoot EventId
}

// the live conversation view
func LiveFocus() TimelineFocus {
	return TimelineFocus{}
}

// a single-thread view rooted at the given event
func ThreadFocus(root EventId) TimelineFocus {
	return TimelineFocus{threadRoot: root}
}

func (self TimelineFocus) IsThread() bool {
	return self.threadRoot != ""
}

func (self TimelineFocus) ThreadRoot() EventId {
	return self.threadRoot
}

// the receipt buckets applicable to this view
func (self TimelineFocus) applicableScopes() []ReceiptScope {
	if self.IsThread() {
		return []ReceiptScope{ThreadScope(self.threadRoot), UnthreadedScope()}
	}
	return []ReceiptScope{UnthreadedScope(), MainScope()}
}

// the scope stamped onto implicit receipts derived in this view
func (self TimelineFocus) implicitScope() ReceiptScope {
	if self.IsThread() {
		return ThreadScope(self.threadRoot)
	}
	return UnthreadedScope()
}

func DefaultTimelineSettings() *TimelineSettings {
	return &TimelineSettings{
		TrackReadReceipts:      true,
		SubscriptionBufferSize: 1024,
	}
}

type TimelineSettings struct {
	// receipt tracking can be disabled for views that never display them
	TrackReadReceipts bool

	// nil means every event is visible
	EventFilter EventFilterFunction

	// passed through to the filter
	RoomVersionRules *RoomVersionRules

	// persisted ledger seed
	InitialReadReceipts ReadReceiptMap

	// virtual-item grouping collaborator. nil means no virtual items.
	Grouper VirtualItemGrouper

	// pending diffs per subscriber before it is dropped to resync
	SubscriptionBufferSize int
}

// notified after a receipt commits to the ledger
type ReceiptCommitFunction func(user UserId, receipt UserReadReceipt)

type Timeline struct {
	ctx    context.Context
	cancel context.CancelFunc

	ownUserId UserId
	focus     TimelineFocus
	settings  *TimelineSettings

	stateLock     sync.Mutex
	log           *eventLog
	ledger        *readReceiptLedger
	projection    *projection
	display       *receiptDisplay
	subscriptions map[Id]*ItemSubscription

	receiptCommitCallbacks *CallbackList[ReceiptCommitFunction]
}

func NewTimelineWithDefaults(ctx context.Context, ownUserId UserId) *Timeline {
	return NewTimeline(ctx, ownUserId, LiveFocus(), DefaultTimelineSettings())
}

func NewTimeline(ctx context.Context, ownUserId UserId, focus TimelineFocus, settings *TimelineSettings) *Timeline {
	cancelCtx, cancel := context.WithCancel(ctx)

	glog.V(1).Infof("[tl]create own=%s scope=%s\n", ownUserId, focus.implicitScope())

	log := newEventLog()
	ledger := newReadReceiptLedger(log, settings.InitialReadReceipts)
	return &Timeline{
		ctx:                    cancelCtx,
		cancel:                 cancel,
		ownUserId:              ownUserId,
		focus:                  focus,
		settings:               settings,
		log:                    log,
		ledger:                 ledger,
		projection:             newProjection(log),
		display:                newReceiptDisplay(log, ledger, ownUserId, focus.applicableScopes()),
		subscriptions:          map[Id]*ItemSubscription{},
		receiptCommitCallbacks: NewCallbackList[ReceiptCommitFunction](),
	}
}

func (self *Timeline) OwnUserId() UserId {
	return self.ownUserId
}

func (self *Timeline) Focus() TimelineFocus {
	return self.focus
}

func (self *Timeline) AddReceiptCommitCallback(receiptCommitCallback ReceiptCommitFunction) func() {
	callbackId := self.receiptCommitCallbacks.Add(receiptCommitCallback)
	return func() {
		self.receiptCommitCallbacks.Remove(callbackId)
	}
}

// an event arrived via sync
func (self *Timeline) IngestLive(event *Event) {
	self.ingest(event, EventOriginLive)
}

// an event arrived via back-pagination
func (self *Timeline) IngestPaginated(event *Event) {
	self.ingest(event, EventOriginBackPaginated)
}

func (self *Timeline) ingest(event *Event, origin EventOrigin) {
	ingested := *event
	ingested.Origin = origin

	commits := []receiptCommit{}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		var entry *storedEvent
		var replaced bool
		if origin == EventOriginLive {
			entry, replaced = self.log.appendLive(&ingested)
		} else {
			entry, replaced = self.log.prependPaginated(&ingested)
		}

		diffs := []ItemDiff{}
		if replaced {
			// a known identifier re-entered. position is preserved, only
			// the content changes.
			diffs = self.applyContentChange(entry)
		} else {
			entry.visible = self.filterVisible(entry.event)
			glog.V(2).Infof("[tl]%s %s visible=%t\n", origin, ingested.Id, entry.visible)

			// the sender has read up to and including its own event,
			// regardless of visibility
			if self.settings.TrackReadReceipts {
				key := receiptKey{
					kind:  ReceiptKindPublicRead,
					scope: self.focus.implicitScope(),
					user:  ingested.Sender,
				}
				receipt := &Receipt{
					EventId: ingested.Id,
					Time:    time.Now(),
				}
				if self.ledger.commit(key, receipt) {
					self.display.enqueueUser(ingested.Sender)
					commits = append(commits, receiptCommit{
						user: ingested.Sender,
						receipt: UserReadReceipt{
							EventId: receipt.EventId,
							Kind:    key.kind,
							Scope:   key.scope,
							Time:    receipt.Time,
						},
					})
				}
			}

			if self.settings.TrackReadReceipts {
				self.display.enqueueUnattributed()
			}
			moves := self.display.remap()
			diffs = append(diffs, self.applyMoves(moves, ingested.Id, "")...)

			if entry.visible {
				item := self.buildItem(entry)
				if origin == EventOriginLive {
					diffs = append(diffs, self.projection.pushBack(item))
				} else {
					diffs = append(diffs, self.projection.pushFront(item))
				}
			}
		}

		diffs = append(diffs, self.projection.regroup(self.settings.Grouper)...)
		self.publish(diffs)
	}()

	self.receiptCommitEvent(commits)
}

// applies an external batch of explicit receipt reports
func (self *Timeline) ApplyReceipts(batch []ReceiptEntry) {
	if !self.settings.TrackReadReceipts {
		return
	}

	commits := []receiptCommit{}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		for _, receiptEntry := range batch {
			key := receiptKey{
				kind:  receiptEntry.Kind,
				scope: receiptEntry.Scope,
				user:  receiptEntry.User,
			}
			receipt := &Receipt{
				EventId: receiptEntry.EventId,
				Time:    time.Now(),
			}
			if self.ledger.commit(key, receipt) {
				self.display.enqueueUser(receiptEntry.User)
				commits = append(commits, receiptCommit{
					user: receiptEntry.User,
					receipt: UserReadReceipt{
						EventId: receipt.EventId,
						Kind:    key.kind,
						Scope:   key.scope,
						Time:    receipt.Time,
					},
				})
			}
		}

		moves := self.display.remap()
		self.publish(self.applyMoves(moves, "", ""))
	}()

	self.receiptCommitEvent(commits)
}

// pushed by the decryption collaborator, possibly repeatedly for the same
// identifier. replaying an outcome that matches the current content is a
// no-op.
func (self *Timeline) ApplyDecryptionOutcome(eventId EventId, outcome *DecryptionOutcome) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry := self.log.get(eventId)
	if entry == nil {
		glog.V(2).Infof("[tl]decryption outcome for unknown %s\n", eventId)
		return
	}

	content := outcome.content()
	if entry.event.Content.equals(content) {
		return
	}
	self.log.replaceContent(eventId, content)

	diffs := self.applyContentChange(entry)
	diffs = append(diffs, self.projection.regroup(self.settings.Grouper)...)
	self.publish(diffs)
}

// either decrypted content or a persistent undecipherable marker with
// session metadata for display
type DecryptionOutcome struct {
	// exactly one of Clear, Undecipherable is set
	Clear          *EventContent
	Undecipherable *EncryptedInfo
}

func (self *DecryptionOutcome) content() *EventContent {
	if self.Clear != nil {
		return self.Clear
	}
	return &EventContent{
		State:     ContentStateUndecipherable,
		Encrypted: self.Undecipherable,
	}
}

// empties the projection, the event log and the ledger at the same logical
// instant. used on limited-sync recovery, where stale receipts referencing
// purged events are meaningless.
func (self *Timeline) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	glog.V(1).Infof("[tl]clear %d events\n", self.log.len())
	self.log.reset()
	self.ledger.clear()
	self.display.reset()
	self.publish([]ItemDiff{self.projection.clear()})
}

// point-in-time copy of the projected item sequence
func (self *Timeline) SnapshotItems() []*Item {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.projection.snapshot()
}

// the user's furthest-forward receipt among the buckets applicable to this
// view
func (self *Timeline) LatestUserReadReceipt(user UserId) (UserReadReceipt, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.ledger.latest(user, self.focus.applicableScopes())
}

// the full ordered diff stream from this point forward. the first read
// returns a synthetic snapshot.
func (self *Timeline) Subscribe() *ItemSubscription {
	subscription := newItemSubscription(self, self.settings.SubscriptionBufferSize)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.subscriptions[subscription.subscriptionId] = subscription

	return subscription
}

// clears the subscription's resync state and returns a snapshot consistent
// with the diffs the subscription observes next
func (self *Timeline) resyncSnapshot(subscription *ItemSubscription) []*Item {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	subscription.stateLock.Lock()
	subscription.resync = false
	subscription.pending = nil
	subscription.stateLock.Unlock()

	return self.projection.snapshot()
}

func (self *Timeline) unsubscribe(subscriptionId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.subscriptions, subscriptionId)
}

func (self *Timeline) Close() {
	self.cancel()
}

// re-evaluates visibility after a content change and reconciles the
// projection and receipt attribution.
// must be called with the state lock.
func (self *Timeline) applyContentChange(entry *storedEvent) []ItemDiff {
	eventId := entry.event.Id
	oldVisible := entry.visible
	entry.visible = self.filterVisible(entry.event)
	glog.V(2).Infof("[tl]content change %s visible %t -> %t\n", eventId, oldVisible, entry.visible)

	diffs := []ItemDiff{}
	switch {
	case oldVisible && !entry.visible:
		// move attributed receipts off the item before it goes. the dying
		// item itself gets no content update, just the removal.
		self.display.enqueueEvent(eventId)
		moves := self.display.remap()
		diffs = append(diffs, self.applyMoves(moves, "", eventId)...)
		if diff, ok := self.projection.removeEvent(eventId); ok {
			diffs = append(diffs, diff)
		}
	case !oldVisible && entry.visible:
		// the event can capture receipts whose hidden targets are at or
		// after it
		self.display.enqueueEvent(eventId)
		moves := self.display.remap()
		diffs = append(diffs, self.projection.insertSorted(self.buildItem(entry)))
		diffs = append(diffs, self.applyMoves(moves, eventId, "")...)
	case entry.visible:
		if diff, ok := self.projection.setEvent(self.buildItem(entry)); ok {
			diffs = append(diffs, diff)
		}
	}
	return diffs
}

// must be called with the state lock
func (self *Timeline) filterVisible(event *Event) bool {
	if self.settings.EventFilter == nil {
		return true
	}
	return self.settings.EventFilter(event, self.settings.RoomVersionRules)
}

// must be called with the state lock
func (self *Timeline) buildItem(entry *storedEvent) *EventItem {
	item := &EventItem{
		EventId:      entry.event.Id,
		Sender:       entry.event.Sender,
		Content:      entry.event.Content,
		Time:         entry.event.Time,
		ReadReceipts: map[UserId]*Receipt{},
	}
	if receipts := self.display.receiptsOn(item.EventId); receipts != nil {
		item.ReadReceipts = maps.Clone(receipts)
	}
	return item
}

// turns attribution moves into content-update diffs for the affected items.
// pendingEventId is an event whose item is built in this same batch (its
// receipts are materialized at build time), dyingEventId an item about to be
// removed; neither gets a content update here.
// must be called with the state lock.
func (self *Timeline) applyMoves(moves []receiptMove, pendingEventId EventId, dyingEventId EventId) []ItemDiff {
	affected := map[EventId]bool{}
	for _, move := range moves {
		if move.from != "" && move.from != pendingEventId && move.from != dyingEventId {
			affected[move.from] = true
		}
		if move.to != "" && move.to != pendingEventId && move.to != dyingEventId {
			affected[move.to] = true
		}
	}

	// ascending item order
	eventIds := maps.Keys(affected)
	slices.SortFunc(eventIds, func(a EventId, b EventId) int {
		return self.projection.indexOfEvent(a) - self.projection.indexOfEvent(b)
	})

	diffs := []ItemDiff{}
	for _, eventId := range eventIds {
		item := self.projection.eventItem(eventId)
		if item == nil {
			continue
		}
		if diff, ok := self.projection.setEvent(item.withReceipts(self.display.receiptsOn(eventId))); ok {
			diffs = append(diffs, diff)
		}
	}
	return diffs
}

// fans the diff batch out to every subscriber. never blocks: a subscriber
// over its buffer is dropped to resync.
// must be called with the state lock.
func (self *Timeline) publish(diffs []ItemDiff) {
	if len(diffs) == 0 {
		return
	}
	for _, subscription := range self.subscriptions {
		subscription.offer(diffs)
	}
}

type receiptCommit struct {
	user    UserId
	receipt UserReadReceipt
}

func (self *Timeline) receiptCommitEvent(commits []receiptCommit) {
	if len(commits) == 0 {
		return
	}
	callbacks := self.receiptCommitCallbacks.Get()
	for _, commit := range commits {
		for _, callback := range callbacks {
			commit := commit
			callback := callback
			HandleError(func() {
				callback(commit.user, commit.receipt)
			})
		}
	}
}
