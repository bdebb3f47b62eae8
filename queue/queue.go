// Package queue implements the out-of-process broadcast channel: an
// append-only file of newline-delimited JSON records that external
// publishers write and the event loop tails. Appends and truncation hold
// an exclusive advisory lock so the two sides never interleave a record.
package queue

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/xentixar/sockeon-go/logging"
)

// Record is one queued broadcast intent.
type Record struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Namespace string `json:"namespace,omitempty"`
	Room      string `json:"room,omitempty"`
	// Auth is an HMAC over the record, present when the queue is
	// configured with a broadcast salt.
	Auth string `json:"auth,omitempty"`
}

// sign computes the record's HMAC-SHA256 with Auth cleared.
func (r Record) sign(salt string) (string, error) {
	r.Auth = ""
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (r Record) verify(salt string) bool {
	if salt == "" {
		return true
	}
	want, err := r.sign(salt)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(r.Auth))
}

// Broadcaster is the dispatch surface a Reader applies records through.
type Broadcaster interface {
	Broadcast(event string, data any, namespace, room string)
}

// Reader tails the queue file from inside the event loop.
type Reader struct {
	path     string
	salt     string
	dispatch Broadcaster
	log      logging.Logger
}

// NewReader builds a Reader for path. salt may be empty to disable record
// authentication.
func NewReader(path, salt string, dispatch Broadcaster, log logging.Logger) *Reader {
	return &Reader{path: path, salt: salt, dispatch: dispatch, log: log}
}

// Tick drains every complete line currently in the file, applies each
// record, and truncates the file down to any trailing partial line. A
// partial line is left in place for the next tick; a malformed line is
// logged and skipped.
func (r *Reader) Tick() error {
	f, err := os.OpenFile(r.path, os.O_RDWR, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return err
	}
	defer unlockFile(f)

	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	cut := bytes.LastIndexByte(raw, '\n')
	if cut < 0 {
		// Only a partial line so far; wait for the publisher to finish it.
		return nil
	}
	complete, partial := raw[:cut], raw[cut+1:]

	for _, line := range bytes.Split(complete, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		r.apply(line)
	}

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(partial, 0); err != nil {
		return err
	}
	return f.Truncate(int64(len(partial)))
}

func (r *Reader) apply(line []byte) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		r.log.Warnf("queue: skipping malformed record: %v", err)
		return
	}
	if rec.Type != "broadcast" {
		r.log.Warnf("queue: skipping record %q of unknown type %q", rec.ID, rec.Type)
		return
	}
	if !rec.verify(r.salt) {
		r.log.Warnf("queue: skipping record %q with bad signature", rec.ID)
		return
	}
	r.dispatch.Broadcast(rec.Event, rec.Data, rec.Namespace, rec.Room)
}
