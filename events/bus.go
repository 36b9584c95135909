// Package events carries status messages from camera sessions to whoever
// is watching.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	KindNew           = "new"
	KindSave          = "save"
	KindRename        = "rename"
	KindGoto          = "goto"
	KindDelete        = "delete"
	KindCommitRenames = "commit_renames"
	KindError         = "error"
	KindRefresh       = "refresh"
	KindReorder       = "reorder"
	KindConnect       = "connect"
)

const defaultHistory = 200

// Event is one status message. Token and Name are set when the event
// concerns a single preset.
type Event struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Camera string    `json:"camera,omitempty"`
	Token  string    `json:"token,omitempty"`
	Name   string    `json:"name,omitempty"`
	// Pending is set on rename events that were deferred.
	Pending bool   `json:"pending,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Publisher is the sending side of a Bus.
type Publisher interface {
	Publish(e Event)
}

// Bus fans events out to subscribers and keeps a bounded history that is
// replayed to late subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]chan Event
	history []Event
	max     int
}

// NewBus returns a bus that remembers the last history events. A value
// below one selects the default.
func NewBus(history int) *Bus {
	if history < 1 {
		history = defaultHistory
	}
	return &Bus{subs: make(map[string]chan Event), max: history}
}

// Publish stamps e with an ID and time when missing and delivers it to
// every subscriber. A subscriber whose buffer is full misses the event.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, e)
	if len(b.history) > b.max {
		excess := len(b.history) - b.max
		b.history = append([]Event(nil), b.history[excess:]...)
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns its id and receive channel.
func (b *Bus) Subscribe(buffer int) (string, <-chan Event) {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.New().String()
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel. Unknown ids
// are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
}

// Recent returns a copy of the remembered events, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.history) == 0 {
		return nil
	}
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
