package stream

import (
	"sort"
	"sync"
)

// Sender is the slice of Conn the coordinator needs.
type Sender interface {
	Send(op Op, symbols []string) bool
	IsConnected() bool
}

// Coordinator tracks the set of symbols that should be streaming and
// converges the transport's live subscriptions onto it. Normal operation
// sends only the diff; a fresh transport after reconnection gets the full
// desired set, since it has no memory of prior subscriptions.
type Coordinator struct {
	conn Sender

	mu      sync.Mutex
	desired map[string]struct{}
	current map[string]struct{}
}

func NewCoordinator(conn Sender) *Coordinator {
	return &Coordinator{
		conn:    conn,
		desired: make(map[string]struct{}),
		current: make(map[string]struct{}),
	}
}

// Reconcile records the desired set and, if the connection is live, sends
// subscribe/unsubscribe for the diff against current. While not connected
// the recorded set waits, not dropped, and is replayed once Connected fires.
func (co *Coordinator) Reconcile(desired []string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.desired = toSet(desired)
	if !co.conn.IsConnected() {
		return
	}
	co.applyLocked()
}

// OnStateChange replays subscriptions when the connection (re)establishes.
func (co *Coordinator) OnStateChange(s State) {
	if s != Connected {
		return
	}
	co.mu.Lock()
	defer co.mu.Unlock()
	// the new transport starts blank: forget current so the whole desired
	// set is resent, not just a diff
	co.current = make(map[string]struct{})
	co.applyLocked()
}

// Current returns the symbols believed live, sorted.
func (co *Coordinator) Current() []string {
	co.mu.Lock()
	defer co.mu.Unlock()
	out := make([]string, 0, len(co.current))
	for s := range co.current {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// applyLocked sends the diff. current advances only when a send went
// through; a refused send leaves it untouched, so the next Connected
// replay picks the symbols up again.
func (co *Coordinator) applyLocked() {
	var toAdd, toRemove []string
	for s := range co.desired {
		if _, ok := co.current[s]; !ok {
			toAdd = append(toAdd, s)
		}
	}
	for s := range co.current {
		if _, ok := co.desired[s]; !ok {
			toRemove = append(toRemove, s)
		}
	}
	sort.Strings(toAdd)
	sort.Strings(toRemove)

	if len(toAdd) > 0 {
		if co.conn.Send(OpSubscribe, toAdd) {
			for _, s := range toAdd {
				co.current[s] = struct{}{}
			}
		}
	}
	if len(toRemove) > 0 {
		if co.conn.Send(OpUnsubscribe, toRemove) {
			for _, s := range toRemove {
				delete(co.current, s)
			}
		}
	}
}

func toSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set
}
