package timeline

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLedgerCommitMonotonicForward(t *testing.T) {
	log := newEventLog()
	log.appendLive(&Event{Id: "$a", Content: TextContent("a")})
	log.appendLive(&Event{Id: "$b", Content: TextContent("b")})
	log.appendLive(&Event{Id: "$c", Content: TextContent("c")})

	ledger := newReadReceiptLedger(log, nil)
	key := receiptKey{
		kind:  ReceiptKindPublicRead,
		scope: UnthreadedScope(),
		user:  "@bob:local",
	}

	// old absent: commit
	assert.Equal(t, true, ledger.commit(key, &Receipt{EventId: "$b"}))
	assert.Equal(t, EventId("$b"), ledger.get(key).EventId)

	// backward: keep old
	assert.Equal(t, false, ledger.commit(key, &Receipt{EventId: "$a"}))
	assert.Equal(t, EventId("$b"), ledger.get(key).EventId)

	// same position: commit
	assert.Equal(t, true, ledger.commit(key, &Receipt{EventId: "$b", Time: time.Now()}))

	// forward: commit
	assert.Equal(t, true, ledger.commit(key, &Receipt{EventId: "$c"}))
	assert.Equal(t, EventId("$c"), ledger.get(key).EventId)

	// new target not locally known: keep old
	assert.Equal(t, false, ledger.commit(key, &Receipt{EventId: "$future"}))
	assert.Equal(t, EventId("$c"), ledger.get(key).EventId)

	// old target unknown: commit unconditionally, even backward
	carolKey := receiptKey{
		kind:  ReceiptKindPublicRead,
		scope: UnthreadedScope(),
		user:  "@carol:local",
	}
	assert.Equal(t, true, ledger.commit(carolKey, &Receipt{EventId: "$future"}))
	assert.Equal(t, true, ledger.commit(carolKey, &Receipt{EventId: "$a"}))
	assert.Equal(t, EventId("$a"), ledger.get(carolKey).EventId)
}

func TestLedgerSeed(t *testing.T) {
	log := newEventLog()

	seed := ReadReceiptMap{}
	seed.Set(ReceiptKindPublicRead, UnthreadedScope(), "@alice:local", &Receipt{EventId: "$seeded"})
	seed.Set(ReceiptKindPrivateRead, MainScope(), "@alice:local", &Receipt{EventId: "$private"})

	ledger := newReadReceiptLedger(log, seed)

	receipt := ledger.get(receiptKey{ReceiptKindPublicRead, UnthreadedScope(), "@alice:local"})
	assert.Equal(t, EventId("$seeded"), receipt.EventId)
	receipt = ledger.get(receiptKey{ReceiptKindPrivateRead, MainScope(), "@alice:local"})
	assert.Equal(t, EventId("$private"), receipt.EventId)
}

func TestLedgerLatestFurthestForward(t *testing.T) {
	log := newEventLog()
	log.appendLive(&Event{Id: "$a", Content: TextContent("a")})
	log.appendLive(&Event{Id: "$b", Content: TextContent("b")})

	ledger := newReadReceiptLedger(log, nil)
	scopes := []ReceiptScope{UnthreadedScope(), MainScope()}

	_, ok := ledger.latest("@alice:local", scopes)
	assert.Equal(t, false, ok)

	// the furthest forward target wins across buckets
	ledger.commit(receiptKey{ReceiptKindPublicRead, UnthreadedScope(), "@alice:local"}, &Receipt{EventId: "$a"})
	ledger.commit(receiptKey{ReceiptKindPrivateRead, MainScope(), "@alice:local"}, &Receipt{EventId: "$b"})

	latest, ok := ledger.latest("@alice:local", scopes)
	assert.Equal(t, true, ok)
	assert.Equal(t, EventId("$b"), latest.EventId)
	assert.Equal(t, ReceiptKindPrivateRead, latest.Kind)

	// public wins a position tie
	ledger.commit(receiptKey{ReceiptKindPublicRead, MainScope(), "@alice:local"}, &Receipt{EventId: "$b"})
	latest, _ = ledger.latest("@alice:local", scopes)
	assert.Equal(t, ReceiptKindPublicRead, latest.Kind)
	assert.Equal(t, MainScope(), latest.Scope)
}

func TestLedgerLatestUnknownPosition(t *testing.T) {
	log := newEventLog()
	ledger := newReadReceiptLedger(log, nil)
	scopes := []ReceiptScope{UnthreadedScope(), MainScope()}

	// a receipt with an unknown target position is still returned when
	// nothing beats it
	ledger.commit(receiptKey{ReceiptKindPublicRead, UnthreadedScope(), "@alice:local"}, &Receipt{EventId: "$unknown"})
	latest, ok := ledger.latest("@alice:local", scopes)
	assert.Equal(t, true, ok)
	assert.Equal(t, EventId("$unknown"), latest.EventId)

	// a known position candidate beats an unknown one
	log.appendLive(&Event{Id: "$a", Content: TextContent("a")})
	ledger.commit(receiptKey{ReceiptKindPrivateRead, MainScope(), "@alice:local"}, &Receipt{EventId: "$a"})
	latest, _ = ledger.latest("@alice:local", scopes)
	assert.Equal(t, EventId("$a"), latest.EventId)
}

func TestLedgerClear(t *testing.T) {
	log := newEventLog()
	log.appendLive(&Event{Id: "$a", Content: TextContent("a")})

	ledger := newReadReceiptLedger(log, nil)
	ledger.commit(receiptKey{ReceiptKindPublicRead, UnthreadedScope(), "@alice:local"}, &Receipt{EventId: "$a"})

	ledger.clear()
	_, ok := ledger.latest("@alice:local", []ReceiptScope{UnthreadedScope()})
	assert.Equal(t, false, ok)
	assert.Equal(t, 0, len(ledger.users([]ReceiptScope{UnthreadedScope()})))
}
