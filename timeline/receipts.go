package timeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
)

type ReceiptKind string

const (
	// broadcast to other users
	ReceiptKindPublicRead ReceiptKind = "public-read"
	// never broadcast to others
	ReceiptKindPrivateRead ReceiptKind = "private-read"
)

type receiptScopeKind string

const (
	receiptScopeUnthreaded receiptScopeKind = "unthreaded"
	receiptScopeMain       receiptScopeKind = "main"
	receiptScopeThread     receiptScopeKind = "thread"
)

// the conversational context a receipt applies to.
// comparable, usable as a map key.
type ReceiptScope struct {
	kind receiptScopeKind
	// thread root. set only for thread scopes.
	root EventId
}

func UnthreadedScope() ReceiptScope {
	return ReceiptScope{kind: receiptScopeUnthreaded}
}

func MainScope() ReceiptScope {
	return ReceiptScope{kind: receiptScopeMain}
}

func ThreadScope(root EventId) ReceiptScope {
	return ReceiptScope{kind: receiptScopeThread, root: root}
}

func (self ReceiptScope) IsThread() bool {
	return self.kind == receiptScopeThread
}

func (self ReceiptScope) ThreadRoot() EventId {
	return self.root
}

func (self ReceiptScope) String() string {
	if self.kind == receiptScopeThread {
		return "thread:" + string(self.root)
	}
	return string(self.kind)
}

// inverse of `String`
func ParseReceiptScope(scopeStr string) (ReceiptScope, error) {
	switch {
	case scopeStr == string(receiptScopeUnthreaded):
		return UnthreadedScope(), nil
	case scopeStr == string(receiptScopeMain):
		return MainScope(), nil
	case strings.HasPrefix(scopeStr, "thread:"):
		root := EventId(strings.TrimPrefix(scopeStr, "thread:"))
		if root == "" {
			return ReceiptScope{}, fmt.Errorf("thread scope missing root")
		}
		return ThreadScope(root), nil
	}
	return ReceiptScope{}, fmt.Errorf("bad receipt scope %s", scopeStr)
}

func (self ReceiptScope) MarshalJSON() ([]byte, error) {
	return json.Marshal(self.String())
}

func (self *ReceiptScope) UnmarshalJSON(data []byte) error {
	var scopeStr string
	if err := json.Unmarshal(data, &scopeStr); err != nil {
		return err
	}
	scope, err := ParseReceiptScope(scopeStr)
	if err != nil {
		return err
	}
	*self = scope
	return nil
}

// a user's recorded read position under one (kind, scope) bucket
type Receipt struct {
	EventId EventId
	Time    time.Time
}

// persisted ledger seed: kind -> scope -> user -> receipt
type ReadReceiptMap map[ReceiptKind]map[ReceiptScope]map[UserId]*Receipt

func (self ReadReceiptMap) Set(kind ReceiptKind, scope ReceiptScope, user UserId, receipt *Receipt) {
	scopes, ok := self[kind]
	if !ok {
		scopes = map[ReceiptScope]map[UserId]*Receipt{}
		self[kind] = scopes
	}
	users, ok := scopes[scope]
	if !ok {
		users = map[UserId]*Receipt{}
		scopes[scope] = users
	}
	users[user] = receipt
}

// one entry of an explicit receipt report batch
type ReceiptEntry struct {
	EventId EventId
	Kind    ReceiptKind
	User    UserId
	Scope   ReceiptScope
}

// composite ledger key
type receiptKey struct {
	kind  ReceiptKind
	scope ReceiptScope
	user  UserId
}

// the result of a latest-read-receipt query
type UserReadReceipt struct {
	EventId EventId
	Kind    ReceiptKind
	Scope   ReceiptScope
	Time    time.Time
}

// latest-wins map from (kind, scope, user) to the event the user has read.
// all commits go through a single commit function enforcing the
// monotonic-forward rule, so the comparison logic never scatters to call
// sites.
//
// not safe for concurrent use. all calls must hold the timeline state lock.
type readReceiptLedger struct {
	log *eventLog

	// (kind, scope, user) -> receipt
	receipts map[receiptKey]*Receipt
}

func newReadReceiptLedger(log *eventLog, seed ReadReceiptMap) *readReceiptLedger {
	ledger := &readReceiptLedger{
		log:      log,
		receipts: map[receiptKey]*Receipt{},
	}
	for kind, scopes := range seed {
		for scope, users := range scopes {
			for user, receipt := range users {
				ledger.receipts[receiptKey{kind, scope, user}] = receipt
			}
		}
	}
	return ledger
}

// commits the candidate if it is at or after the currently stored target in
// the ordered event log. if the stored target's position is unknown the
// candidate commits unconditionally. receipts never move backward once both
// positions are known.
func (self *readReceiptLedger) commit(key receiptKey, candidate *Receipt) bool {
	old, ok := self.receipts[key]
	if !ok {
		self.receipts[key] = candidate
		return true
	}
	oldPosition, oldKnown := self.log.positionOf(old.EventId)
	if !oldKnown {
		// the old target is not locally known. the candidate wins so the
		// ledger is ready the moment its event arrives.
		self.receipts[key] = candidate
		return true
	}
	newPosition, newKnown := self.log.positionOf(candidate.EventId)
	if newKnown && oldPosition <= newPosition {
		self.receipts[key] = candidate
		return true
	}
	glog.V(2).Infof("[rr]keep %s/%s/%s at %s\n", key.kind, key.scope, key.user, old.EventId)
	return false
}

func (self *readReceiptLedger) get(key receiptKey) *Receipt {
	return self.receipts[key]
}

// among the given scope buckets, the receipt whose target is furthest
// forward in the ordered event log. `public-read` wins ties. a receipt with
// an unknown target position is still returned when no known-position
// candidate beats it.
func (self *readReceiptLedger) latest(user UserId, scopes []ReceiptScope) (UserReadReceipt, bool) {
	var best UserReadReceipt
	bestFound := false
	bestKnown := false
	var bestPosition int64

	for _, kind := range []ReceiptKind{ReceiptKindPublicRead, ReceiptKindPrivateRead} {
		for _, scope := range scopes {
			receipt, ok := self.receipts[receiptKey{kind, scope, user}]
			if !ok {
				continue
			}
			position, known := self.log.positionOf(receipt.EventId)
			take := false
			if !bestFound {
				take = true
			} else if known && (!bestKnown || bestPosition < position) {
				// strictly forward. on a position tie the earlier
				// (public) candidate is kept.
				take = true
			}
			if take {
				best = UserReadReceipt{
					EventId: receipt.EventId,
					Kind:    kind,
					Scope:   scope,
					Time:    receipt.Time,
				}
				bestFound = true
				bestKnown = known
				bestPosition = position
			}
		}
	}
	return best, bestFound
}

// all users with a receipt in any of the given scope buckets
func (self *readReceiptLedger) users(scopes []ReceiptScope) map[UserId]bool {
	users := map[UserId]bool{}
	for key := range self.receipts {
		for _, scope := range scopes {
			if key.scope == scope {
				users[key.user] = true
				break
			}
		}
	}
	return users
}

// drops every receipt. stale receipts referencing purged events are
// meaningless after a limited-sync reset.
func (self *readReceiptLedger) clear() {
	self.receipts = map[receiptKey]*Receipt{}
}
