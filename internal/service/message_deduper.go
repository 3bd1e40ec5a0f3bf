package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MessageDeduper remembers recently forwarded msgIds so broker redeliveries inside the
// window are not forwarded twice. Two concurrent deliveries of the same msgId can both pass
// Seen; the window only suppresses redeliveries that arrive after a forward completed.
type MessageDeduper struct {
	seen *expirable.LRU[string, struct{}]
}

// NewMessageDeduper creates a deduper holding at most size msgIds for window each.
func NewMessageDeduper(size int, window time.Duration) *MessageDeduper {
	return &MessageDeduper{
		seen: expirable.NewLRU[string, struct{}](size, nil, window),
	}
}

// Seen reports whether msgID was remembered inside the window. Empty ids are never seen.
func (d *MessageDeduper) Seen(msgID string) bool {
	if msgID == "" {
		return false
	}

	// Get, unlike Contains, treats an entry past its TTL as absent before the background purge runs.
	_, ok := d.seen.Get(msgID)

	return ok
}

// Remember records msgID as forwarded. Empty ids are ignored.
func (d *MessageDeduper) Remember(msgID string) {
	if msgID == "" {
		return
	}

	d.seen.Add(msgID, struct{}{})
}
