package serialmux

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
)

// subscriberBuffer is the number of raw chunks a tail subscriber may lag.
const subscriberBuffer = 64

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// tails fans raw chunks out to tail subscribers. Slow subscribers miss
// chunks rather than stall the reader. After shutdown every new subscriber
// gets an already closed channel.
type tails struct {
	mu     sync.Mutex
	subs   map[string]chan []byte
	closed bool
}

func (t *tails) subscribe(buffer int) (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, buffer)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(ch)
		return id, ch
	}
	if t.subs == nil {
		t.subs = make(map[string]chan []byte)
	}
	t.subs[id] = ch
	return id, ch
}

func (t *tails) unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subs[id]; ok {
		close(ch)
		delete(t.subs, id)
	}
}

// offer hands chunk to every subscriber with room for it.
func (t *tails) offer(chunk []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- chunk:
		default:
		}
	}
}

// shutdown closes every subscriber. It reports false if already shut down.
func (t *tails) shutdown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	return true
}

func (t *tails) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
