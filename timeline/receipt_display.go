package timeline

import (
	"github.com/golang/glog"
	"golang.org/x/exp/maps"
)

// resolves committed receipts to the visible items that display them.
//
// every committed receipt targets a real event, but the user-visible
// attribution must land on a visible item. a receipt on a hidden target is
// attributed to the nearest preceding visible event, or displayed nowhere
// until one exists.
//
// mutations that can change attribution enqueue affected keys here; `remap`
// drains the work list and returns the attribution moves. running it twice
// with no intervening mutation yields no moves.
//
// not safe for concurrent use. all calls must hold the timeline state lock.
type receiptDisplay struct {
	log    *eventLog
	ledger *readReceiptLedger

	// receipts of the own user are tracked in the ledger but never displayed
	ownUserId UserId

	// scope buckets applicable to this view
	scopes []ReceiptScope

	// user -> event id of the visible item showing the user's receipt
	userItems map[UserId]EventId
	// event id -> user -> receipt shown on that item
	itemUsers map[EventId]map[UserId]*Receipt

	// affected-keys work list
	queuedUsers  map[UserId]bool
	queuedEvents map[EventId]bool
}

func newReceiptDisplay(log *eventLog, ledger *readReceiptLedger, ownUserId UserId, scopes []ReceiptScope) *receiptDisplay {
	return &receiptDisplay{
		log:          log,
		ledger:       ledger,
		ownUserId:    ownUserId,
		scopes:       scopes,
		userItems:    map[UserId]EventId{},
		itemUsers:    map[EventId]map[UserId]*Receipt{},
		queuedUsers:  map[UserId]bool{},
		queuedEvents: map[EventId]bool{},
	}
}

// a ledger commit for the user happened
func (self *receiptDisplay) enqueueUser(user UserId) {
	self.queuedUsers[user] = true
}

// the event's visibility or content flipped
func (self *receiptDisplay) enqueueEvent(eventId EventId) {
	self.queuedEvents[eventId] = true
}

// a newly ingested event can give a home to receipts that are currently
// displayed nowhere: unknown targets that just arrived, or hidden targets
// that now have an earlier visible event. attributed receipts cannot move on
// plain ingestion, so only the unattributed ones re-resolve.
func (self *receiptDisplay) enqueueUnattributed() {
	for user := range self.ledger.users(self.scopes) {
		if _, ok := self.userItems[user]; !ok {
			self.queuedUsers[user] = true
		}
	}
}

// one attribution change. from/to are empty when the receipt was, or
// becomes, unattributed.
type receiptMove struct {
	user    UserId
	from    EventId
	to      EventId
	receipt *Receipt
}

// drains the work list and re-resolves every affected user.
// only users whose attribution actually changes produce moves.
func (self *receiptDisplay) remap() []receiptMove {
	users := map[UserId]bool{}
	maps.Copy(users, self.queuedUsers)

	if 0 < len(self.queuedEvents) {
		for eventId := range self.queuedEvents {
			// users currently displayed on the flipped event
			for user := range self.itemUsers[eventId] {
				users[user] = true
			}
		}
		// a visibility flip can capture or release attributions from any
		// hidden target after it. re-resolve every ledgered user; the
		// unchanged ones resolve to where they already are.
		maps.Copy(users, self.ledger.users(self.scopes))
	}

	self.queuedUsers = map[UserId]bool{}
	self.queuedEvents = map[EventId]bool{}

	moves := []receiptMove{}
	for user := range users {
		if user == self.ownUserId {
			continue
		}
		if move, ok := self.resolve(user); ok {
			moves = append(moves, move)
		}
	}
	return moves
}

// re-resolves one user's displayed receipt and applies the change to the
// attribution maps
func (self *receiptDisplay) resolve(user UserId) (receiptMove, bool) {
	var to EventId
	var receipt *Receipt

	latest, ok := self.ledger.latest(user, self.scopes)
	if ok {
		receipt = &Receipt{
			EventId: latest.EventId,
			Time:    latest.Time,
		}
		if entry := self.log.get(latest.EventId); entry != nil && entry.visible {
			to = latest.EventId
		} else if entry := self.log.nearestVisibleAtOrBefore(latest.EventId); entry != nil {
			to = entry.event.Id
		}
		// else: unattributed until a preceding visible event appears
	}

	from := self.userItems[user]
	if from == to {
		// a receipt moving between hidden targets that resolve to the same
		// visible item displays nothing new
		return receiptMove{}, false
	}

	if from != "" {
		delete(self.itemUsers[from], user)
		if len(self.itemUsers[from]) == 0 {
			delete(self.itemUsers, from)
		}
	}
	if to == "" {
		delete(self.userItems, user)
		glog.V(2).Infof("[rr]unattributed %s\n", user)
	} else {
		users, ok := self.itemUsers[to]
		if !ok {
			users = map[UserId]*Receipt{}
			self.itemUsers[to] = users
		}
		users[user] = receipt
		self.userItems[user] = to
	}

	return receiptMove{
		user:    user,
		from:    from,
		to:      to,
		receipt: receipt,
	}, true
}

// the receipts displayed on the given item
func (self *receiptDisplay) receiptsOn(eventId EventId) map[UserId]*Receipt {
	return self.itemUsers[eventId]
}

func (self *receiptDisplay) reset() {
	self.userItems = map[UserId]EventId{}
	self.itemUsers = map[EventId]map[UserId]*Receipt{}
	self.queuedUsers = map[UserId]bool{}
	self.queuedEvents = map[EventId]bool{}
}
