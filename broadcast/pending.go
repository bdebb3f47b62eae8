package broadcast

import (
	"errors"

	"github.com/eapache/queue"
)

// ErrHighWater signals a client's outbound queue has exceeded its byte
// budget; the event loop answers it by disconnecting that client.
var ErrHighWater = errors.New("broadcast: outbound high-water mark exceeded")

// Pending is one client's outbound byte queue for writes the socket was
// not ready to accept. Chunks keep their boundaries; a partially written
// head chunk is advanced in place.
type Pending struct {
	q         *queue.Queue
	bytes     int
	headAt    int
	highWater int
}

// NewPending builds a queue capped at highWater buffered bytes.
func NewPending(highWater int) *Pending {
	return &Pending{q: queue.New(), highWater: highWater}
}

// Push copies b onto the queue. The copy matters: broadcast frames share
// one underlying pooled buffer across all targets.
func (p *Pending) Push(b []byte) error {
	if p.bytes+len(b) > p.highWater {
		return ErrHighWater
	}
	p.q.Add(append([]byte(nil), b...))
	p.bytes += len(b)
	return nil
}

// Empty reports whether anything is still queued.
func (p *Pending) Empty() bool { return p.q.Length() == 0 }

// Buffered reports the number of queued bytes.
func (p *Pending) Buffered() int { return p.bytes }

// Head returns the unwritten remainder of the oldest chunk.
func (p *Pending) Head() []byte {
	if p.q.Length() == 0 {
		return nil
	}
	return p.q.Peek().([]byte)[p.headAt:]
}

// Advance consumes n bytes of the head chunk, popping it once fully
// written.
func (p *Pending) Advance(n int) {
	if p.q.Length() == 0 || n <= 0 {
		return
	}
	head := p.q.Peek().([]byte)
	p.headAt += n
	p.bytes -= n
	if p.headAt >= len(head) {
		p.q.Remove()
		p.headAt = 0
	}
}
