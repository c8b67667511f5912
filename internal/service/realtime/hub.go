package realtime

import (
	"sync"

	"github.com/zhouzirui/z-tavern/chatclient/internal/model/chat"
)

type subscriber struct {
	ch   chan chat.Message
	done chan struct{}
	once sync.Once
}

// hub fans inbound messages out to every live subscriber. Delivery blocks
// until each subscriber accepts the message or unsubscribes, so arrival
// order is kept and nothing is dropped for a slow reader.
type hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	next   uint64
	buffer int
}

func newHub(buffer int) *hub {
	if buffer < 0 {
		buffer = 0
	}
	return &hub{subs: make(map[uint64]*subscriber), buffer: buffer}
}

func (h *hub) subscribe() (<-chan chat.Message, func()) {
	sub := &subscriber{
		ch:   make(chan chat.Message, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			close(sub.done)
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

func (h *hub) publish(msg chat.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		}
	}
}

func (h *hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
