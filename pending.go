package battleye

import (
	"time"

	"github.com/mr-guard/battleye/protocol"
)

// commandResult carries a pending command's outcome from the demux or timer
// goroutine back to the caller blocked in Command.
type commandResult struct {
	payload []byte
	err     error
}

// pendingCommand tracks one in-flight command awaiting its response. It is
// owned by exactly one Connection and always mutated under the connection's
// lock. Removal happens on: matching response, retry exhaustion, caller
// cancellation, or connection teardown.
type pendingCommand struct {
	sequence byte
	packet   *protocol.Packet // original request, kept for retransmission
	attempts int
	created  time.Time
	timer    *time.Timer        // retry timer; nil once resolved
	done     chan commandResult // buffered; receives exactly one result
}

// resolve delivers the outcome and disarms the retry timer. Must be called
// under the owning connection's lock, at most once per pendingCommand (the
// pending table guarantees this: an entry is deleted as it is resolved).
func (pc *pendingCommand) resolve(payload []byte, err error) {
	if pc.timer != nil {
		pc.timer.Stop()
		pc.timer = nil
	}
	pc.done <- commandResult{payload: payload, err: err}
}

// reassembly collects the fragments of one multi-part command response.
// Fragments are placed by their declared index, not arrival order; a
// duplicate at an already-filled index is ignored.
type reassembly struct {
	total    byte
	parts    [][]byte
	received int
}

func newReassembly(total byte) *reassembly {
	return &reassembly{
		total: total,
		parts: make([][]byte, int(total)),
	}
}

// add stores a fragment. Out-of-range indexes, totals that disagree with the
// first fragment, and duplicates are all dropped.
func (r *reassembly) add(total, index byte, payload []byte) {
	if total != r.total || int(index) >= len(r.parts) {
		return
	}
	if r.parts[index] != nil {
		return
	}
	// Fragments may legitimately be empty; mark the slot with a non-nil
	// zero-length slice so duplicates are still detected.
	if payload == nil {
		payload = []byte{}
	}
	r.parts[index] = payload
	r.received++
}

// complete reports whether every declared fragment has arrived.
func (r *reassembly) complete() bool {
	return r.received == len(r.parts)
}

// assemble concatenates the fragments in index order.
func (r *reassembly) assemble() []byte {
	size := 0
	for _, p := range r.parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range r.parts {
		out = append(out, p...)
	}
	return out
}
