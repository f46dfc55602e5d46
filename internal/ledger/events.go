package ledger

import (
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// EventKind names the balance change recorded by an Event.
type EventKind string

const (
	EventMint        EventKind = "ledger.mint"
	EventBurn        EventKind = "ledger.burn"
	EventTransferOut EventKind = "ledger.transfer.out"
	EventTransferIn  EventKind = "ledger.transfer.in"
)

// Event is the audit record for one side of a committed balance change.
// Delta is signed: negative for burns and outgoing transfers.
type Event struct {
	Sequence     uint64         `json:"sequence"`
	Token        common.Address `json:"token"`
	Symbol       string         `json:"symbol"`
	Kind         EventKind      `json:"kind"`
	Account      common.Address `json:"account"`
	Counterparty common.Address `json:"counterparty"`
	Delta        math.Int       `json:"delta"`
	NewBalance   math.Int       `json:"new_balance"`
	TotalSupply  math.Int       `json:"total_supply"`
	Timestamp    time.Time      `json:"timestamp"`
}

// EventSink receives committed ledger events in commit order. Sinks are called
// while the ledger's write lock is held and must not call back into the ledger.
type EventSink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Recorder is an EventSink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
