package protocol

import "fmt"

// Reassembler accumulates fragmented message frames per RFC 6455 §5.4: a
// fragmented message starts with a non-zero data opcode and fin=false,
// continues with one or more opcode-0 continuation frames, and ends with
// the first frame whose fin=true; control frames may interleave between
// fragments but are never themselves fragmented.
type Reassembler struct {
	opcode  byte
	payload []byte
	active  bool
}

// Feed processes one decoded frame. If it completes a message (a
// non-fragmented frame, or the final fragment of one), Feed returns the
// full opcode and payload with complete=true. Control frames are always
// returned immediately with complete=true and are never buffered.
func (r *Reassembler) Feed(f Frame) (opcode byte, payload []byte, complete bool, err error) {
	if f.IsControl() {
		return f.Opcode, f.Payload, true, nil
	}

	switch {
	case !r.active && f.Opcode == OpContinuation:
		return 0, nil, false, fmt.Errorf("continuation frame with no active fragmented message")
	case !r.active:
		if f.Fin {
			return f.Opcode, f.Payload, true, nil
		}
		r.active = true
		r.opcode = f.Opcode
		r.payload = append([]byte(nil), f.Payload...)
		return 0, nil, false, nil
	default: // a fragmented message is in progress
		if f.Opcode != OpContinuation {
			return 0, nil, false, fmt.Errorf("expected continuation frame, got opcode %d", f.Opcode)
		}
		r.payload = append(r.payload, f.Payload...)
		if f.Fin {
			opcode, payload = r.opcode, r.payload
			r.active = false
			r.opcode = 0
			r.payload = nil
			return opcode, payload, true, nil
		}
		return 0, nil, false, nil
	}
}

// Reset clears any in-progress fragmented message, used when a connection
// is being torn down or has failed the protocol.
func (r *Reassembler) Reset() {
	r.active = false
	r.opcode = 0
	r.payload = nil
}
