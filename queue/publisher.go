package queue

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
)

// Publisher appends broadcast records to the queue file from outside the
// event loop: another process, a cron job, a CLI. Each append holds the
// same exclusive lock the Reader takes, so a record is always written
// whole.
type Publisher struct {
	path string
	salt string
}

// NewPublisher builds a Publisher for path. salt may be empty to publish
// unsigned records.
func NewPublisher(path, salt string) *Publisher {
	return &Publisher{path: path, salt: salt}
}

// Broadcast appends one broadcast record. The generated record id ties log
// lines on the reader side back to this publish call.
func (p *Publisher) Broadcast(event string, data any, namespace, room string) error {
	rec := Record{
		ID:        uuid.NewString(),
		Type:      "broadcast",
		Event:     event,
		Data:      data,
		Namespace: namespace,
		Room:      room,
	}
	if p.salt != "" {
		auth, err := rec.sign(p.salt)
		if err != nil {
			return err
		}
		rec.Auth = auth
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return err
	}
	defer unlockFile(f)

	_, err = f.Write(line)
	return err
}
